// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/coldflowhq/coldflow/models"
	"github.com/google/uuid"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
}

// SenderReputationRepository defines operations for per-identity reputation records
type SenderReputationRepository interface {
	Repository[models.SenderReputation, models.SenderReputationFilter]
	ByIdentityID(ctx context.Context, identityID string) (*models.SenderReputation, error)
	// ByIdentityIDForUpdate locks the row for the duration of the enclosing
	// transaction, serializing read-modify-write cycles per identity.
	ByIdentityIDForUpdate(ctx context.Context, identityID string) (*models.SenderReputation, error)
	Update(ctx context.Context, record *models.SenderReputation) error
}

// SendJobRepository defines operations for the durable send-job queue
type SendJobRepository interface {
	Repository[models.SendJob, models.SendJobFilter]
	ByUUID(ctx context.Context, id uuid.UUID) (*models.SendJob, error)
	// ClaimDue atomically selects up to limit pending jobs due at or before
	// now, ordered by scheduled time, flips them to processing and increments
	// attempts. Concurrent callers never receive overlapping jobs.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.SendJob, error)
	// MarkSent and MarkFailed each run in their own transaction so one job's
	// outcome never rolls back another's.
	MarkSent(ctx context.Context, jobID uint, at time.Time) error
	MarkFailed(ctx context.Context, jobID uint, errDetail string, at time.Time) error
	// CountOpenByCampaign reports how many of a campaign's jobs are still
	// pending or processing.
	CountOpenByCampaign(ctx context.Context, campaignID uint) (int64, error)
	CountByStatus(ctx context.Context) (map[models.SendJobStatus]int64, error)
}

// CampaignRepository defines operations for campaign records
type CampaignRepository interface {
	Repository[models.Campaign, models.CampaignFilter]
	ByUUID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	Update(ctx context.Context, campaign *models.Campaign) error
	UpdateStatus(ctx context.Context, campaignID uint, status models.CampaignStatus, statusError *string) error
	// ListDueFollowUps returns campaigns whose follow-up is pending and
	// scheduled at or before now.
	ListDueFollowUps(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error)
	MarkFollowUpSent(ctx context.Context, campaignID uint, at time.Time) error
	MarkFollowUpFailed(ctx context.Context, campaignID uint, errDetail string) error
	AppendResults(ctx context.Context, campaignID uint, results []models.SendResult) error
}
