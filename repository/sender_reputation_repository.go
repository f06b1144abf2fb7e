package repository

import (
	"context"
	"errors"

	"github.com/coldflowhq/coldflow/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SenderReputationRepositoryImpl implements SenderReputationRepository
type SenderReputationRepositoryImpl struct {
	*BaseRepository[models.SenderReputation, models.SenderReputationFilter]
}

func NewSenderReputationRepository(db *gorm.DB) SenderReputationRepository {
	return &SenderReputationRepositoryImpl{
		BaseRepository: NewBaseRepository[models.SenderReputation, models.SenderReputationFilter](db),
	}
}

func (r *SenderReputationRepositoryImpl) ByIdentityID(ctx context.Context, identityID string) (*models.SenderReputation, error) {
	db := r.getDB(ctx)
	var row models.SenderReputation
	if err := db.Where("identity_id = ?", identityID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ByIdentityIDForUpdate acquires a row lock inside the enclosing transaction
// so that concurrent read-modify-write cycles for the same identity are
// serialized at the storage layer.
func (r *SenderReputationRepositoryImpl) ByIdentityIDForUpdate(ctx context.Context, identityID string) (*models.SenderReputation, error) {
	db := r.getDB(ctx)
	var row models.SenderReputation
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("identity_id = ?", identityID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *SenderReputationRepositoryImpl) Update(ctx context.Context, record *models.SenderReputation) error {
	db := r.getDB(ctx)
	return db.Save(record).Error
}
