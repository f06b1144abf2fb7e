package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coldflowhq/coldflow/models"
	"github.com/coldflowhq/coldflow/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CampaignRepositoryImpl implements CampaignRepository
type CampaignRepositoryImpl struct {
	*BaseRepository[models.Campaign, models.CampaignFilter]
}

func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &CampaignRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Campaign, models.CampaignFilter](db),
	}
}

func (r *CampaignRepositoryImpl) ByUUID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	db := r.getDB(ctx)
	var row models.Campaign
	if err := db.Where("uuid = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *CampaignRepositoryImpl) Update(ctx context.Context, campaign *models.Campaign) error {
	db := r.getDB(ctx)
	return db.Save(campaign).Error
}

// UpdateStatus moves the campaign to the given status after validating the
// transition against the current row under a lock.
func (r *CampaignRepositoryImpl) UpdateStatus(ctx context.Context, campaignID uint, status models.CampaignStatus, statusError *string) error {
	return WithTransaction(ctx, r.DB, func(txCtx context.Context) error {
		db := r.getDB(txCtx)

		var current models.Campaign
		if err := db.Where("id = ?", campaignID).First(&current).Error; err != nil {
			return fmt.Errorf("failed to load campaign %d: %w", campaignID, err)
		}
		if !current.CanTransitionTo(status) {
			return fmt.Errorf("campaign %d cannot move from %s to %s", campaignID, current.Status, status)
		}

		return db.Model(&models.Campaign{}).
			Where("id = ?", campaignID).
			Updates(map[string]any{
				"status":       status,
				"status_error": statusError,
				"updated_at":   utils.UTCNow(),
			}).Error
	})
}

func (r *CampaignRepositoryImpl) ListDueFollowUps(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}
	db := r.getDB(ctx)
	var rows []*models.Campaign
	err := db.Where("follow_up_status = ? AND follow_up_scheduled_at <= ?", models.FollowUpStatusPending, now).
		Order("follow_up_scheduled_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *CampaignRepositoryImpl) MarkFollowUpSent(ctx context.Context, campaignID uint, at time.Time) error {
	db := r.getDB(ctx)
	return db.Model(&models.Campaign{}).
		Where("id = ?", campaignID).
		Updates(map[string]any{
			"follow_up_status":  models.FollowUpStatusSent,
			"follow_up_sent_at": at,
			"follow_up_error":   nil,
			"updated_at":        at,
		}).Error
}

func (r *CampaignRepositoryImpl) MarkFollowUpFailed(ctx context.Context, campaignID uint, errDetail string) error {
	db := r.getDB(ctx)
	return db.Model(&models.Campaign{}).
		Where("id = ?", campaignID).
		Updates(map[string]any{
			"follow_up_status": models.FollowUpStatusFailed,
			"follow_up_error":  errDetail,
			"updated_at":       utils.UTCNow(),
		}).Error
}

// AppendResults appends per-recipient outcomes to the campaign's results
// array. The row is locked so concurrent appends never drop each other.
func (r *CampaignRepositoryImpl) AppendResults(ctx context.Context, campaignID uint, results []models.SendResult) error {
	if len(results) == 0 {
		return nil
	}
	return WithTransaction(ctx, r.DB, func(txCtx context.Context) error {
		db := r.getDB(txCtx)

		var current models.Campaign
		if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", campaignID).First(&current).Error; err != nil {
			return fmt.Errorf("failed to load campaign %d: %w", campaignID, err)
		}

		merged := append(current.Results, results...)
		return db.Model(&models.Campaign{}).
			Where("id = ?", campaignID).
			Updates(map[string]any{
				"results":    merged,
				"updated_at": utils.UTCNow(),
			}).Error
	})
}
