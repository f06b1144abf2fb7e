package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coldflowhq/coldflow/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrJobNotClaimable signals that a terminal-status update matched no row,
// which means the job was not in processing state.
var ErrJobNotClaimable = errors.New("send job is not in processing state")

// SendJobRepositoryImpl implements SendJobRepository
type SendJobRepositoryImpl struct {
	*BaseRepository[models.SendJob, models.SendJobFilter]
}

func NewSendJobRepository(db *gorm.DB) SendJobRepository {
	return &SendJobRepositoryImpl{
		BaseRepository: NewBaseRepository[models.SendJob, models.SendJobFilter](db),
	}
}

func (r *SendJobRepositoryImpl) ByUUID(ctx context.Context, id uuid.UUID) (*models.SendJob, error) {
	db := r.getDB(ctx)
	var row models.SendJob
	if err := db.Where("uuid = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ClaimDue selects up to limit pending jobs due at or before now, ordered by
// scheduled time, and flips them to processing inside a single transaction.
// Rows locked by a concurrent claimer are skipped rather than waited on, so
// no two callers ever receive the same job and an empty poll never blocks.
func (r *SendJobRepositoryImpl) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.SendJob, error) {
	if limit <= 0 {
		limit = 100
	}

	var claimed []*models.SendJob
	err := WithTransaction(ctx, r.DB, func(txCtx context.Context) error {
		db := r.getDB(txCtx)

		var jobs []*models.SendJob
		err := db.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND scheduled_at <= ?", models.SendJobStatusPending, now).
			Order("scheduled_at ASC, id ASC").
			Limit(limit).
			Find(&jobs).Error
		if err != nil {
			return fmt.Errorf("failed to select due jobs: %w", err)
		}
		if len(jobs) == 0 {
			return nil
		}

		ids := make([]uint, 0, len(jobs))
		for _, j := range jobs {
			ids = append(ids, j.ID)
		}

		err = db.Model(&models.SendJob{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":          models.SendJobStatusProcessing,
				"attempts":        gorm.Expr("attempts + 1"),
				"last_attempt_at": now,
				"updated_at":      now,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to mark jobs processing: %w", err)
		}

		at := now
		for _, j := range jobs {
			j.Status = models.SendJobStatusProcessing
			j.Attempts++
			j.LastAttemptAt = &at
			j.UpdatedAt = at
		}
		claimed = jobs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkSent finalizes a claimed job as sent in its own transaction.
func (r *SendJobRepositoryImpl) MarkSent(ctx context.Context, jobID uint, at time.Time) error {
	return r.finalize(ctx, jobID, models.SendJobStatusSent, nil, at)
}

// MarkFailed finalizes a claimed job as error with the failure detail in its
// own transaction. The job is terminal afterwards and never re-claimed.
func (r *SendJobRepositoryImpl) MarkFailed(ctx context.Context, jobID uint, errDetail string, at time.Time) error {
	return r.finalize(ctx, jobID, models.SendJobStatusError, &errDetail, at)
}

func (r *SendJobRepositoryImpl) finalize(ctx context.Context, jobID uint, status models.SendJobStatus, errDetail *string, at time.Time) error {
	return WithTransaction(ctx, r.DB, func(txCtx context.Context) error {
		db := r.getDB(txCtx)
		res := db.Model(&models.SendJob{}).
			Where("id = ? AND status = ?", jobID, models.SendJobStatusProcessing).
			Updates(map[string]any{
				"status":     status,
				"last_error": errDetail,
				"updated_at": at,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to finalize job %d: %w", jobID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrJobNotClaimable
		}
		return nil
	})
}

// CountOpenByCampaign counts a campaign's jobs that have not reached a
// terminal status yet. Zero means every job ended as sent or error.
func (r *SendJobRepositoryImpl) CountOpenByCampaign(ctx context.Context, campaignID uint) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	err := db.Model(&models.SendJob{}).
		Where("campaign_id = ? AND status IN ?", campaignID,
			[]models.SendJobStatus{models.SendJobStatusPending, models.SendJobStatusProcessing}).
		Count(&count).Error
	return count, err
}

func (r *SendJobRepositoryImpl) CountByStatus(ctx context.Context) (map[models.SendJobStatus]int64, error) {
	db := r.getDB(ctx)
	type row struct {
		Status models.SendJobStatus
		Count  int64
	}
	var rows []row
	err := db.Model(&models.SendJob{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.SendJobStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
