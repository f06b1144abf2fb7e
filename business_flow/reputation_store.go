package businessflow

import (
	"context"
	"fmt"
	"log"

	"github.com/coldflowhq/coldflow/models"
	"github.com/coldflowhq/coldflow/repository"
	"github.com/coldflowhq/coldflow/utils"
	"gorm.io/gorm"
)

// ReputationStore tracks deliverability signals per sender identity.
// Recording is best-effort: persistence failures are logged and swallowed so
// that metrics bookkeeping never blocks a send.
type ReputationStore interface {
	// RecordEvent applies one event to the identity's record and returns the
	// updated record. A zero-valued record is created on first use.
	RecordEvent(ctx context.Context, identityID string, eventType models.ReputationEventType, metadata map[string]string) *models.SenderReputation
	// GetRecord returns the identity's record, or a zero-valued record when
	// none is persisted. It never fails.
	GetRecord(ctx context.Context, identityID string) *models.SenderReputation
}

// ReputationStoreImpl implements the reputation store on top of the
// repository layer
type ReputationStoreImpl struct {
	reputationRepo repository.SenderReputationRepository
	db             *gorm.DB
}

// NewReputationStore creates a new reputation store instance
func NewReputationStore(reputationRepo repository.SenderReputationRepository, db *gorm.DB) ReputationStore {
	return &ReputationStoreImpl{
		reputationRepo: reputationRepo,
		db:             db,
	}
}

// RecordEvent runs the read-modify-write cycle inside a transaction holding a
// row lock on the identity's record, so concurrent writers for the same
// identity are serialized and no counter update is lost.
func (s *ReputationStoreImpl) RecordEvent(ctx context.Context, identityID string, eventType models.ReputationEventType, metadata map[string]string) *models.SenderReputation {
	var updated *models.SenderReputation

	err := repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		record, err := s.reputationRepo.ByIdentityIDForUpdate(txCtx, identityID)
		if err != nil {
			return fmt.Errorf("failed to load reputation for %s: %w", identityID, err)
		}
		if record == nil {
			record = models.NewSenderReputation(identityID)
			if err := s.reputationRepo.Save(txCtx, record); err != nil {
				return fmt.Errorf("failed to create reputation for %s: %w", identityID, err)
			}
		}

		record.ApplyEvent(eventType, metadata, utils.UTCNow())
		if err := s.reputationRepo.Update(txCtx, record); err != nil {
			return fmt.Errorf("failed to update reputation for %s: %w", identityID, err)
		}

		updated = record
		return nil
	})
	if err != nil {
		log.Printf("reputation event %s for %s not persisted: %v", eventType, identityID, err)
		// Callers still get a usable in-memory view of the event.
		fallback := s.GetRecord(ctx, identityID)
		fallback.ApplyEvent(eventType, metadata, utils.UTCNow())
		return fallback
	}

	return updated
}

func (s *ReputationStoreImpl) GetRecord(ctx context.Context, identityID string) *models.SenderReputation {
	record, err := s.reputationRepo.ByIdentityID(ctx, identityID)
	if err != nil {
		log.Printf("failed to read reputation for %s: %v", identityID, err)
		return models.NewSenderReputation(identityID)
	}
	if record == nil {
		return models.NewSenderReputation(identityID)
	}
	return record
}
