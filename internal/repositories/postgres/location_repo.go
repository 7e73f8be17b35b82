package postgres

import (
	"context"
	"errors"

	"github.com/selfscribe/selfscribe/internal/models"
	"github.com/selfscribe/selfscribe/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LocationRepo interface {
	Upsert(ctx context.Context, loc *models.Location) error
	GetByChunk(ctx context.Context, chunkID string) (*models.Location, error)
}

type locationRepo struct {
	db *gorm.DB
}

func NewLocationRepo(db *gorm.DB) LocationRepo {
	return &locationRepo{db: db}
}

func (r *locationRepo) Upsert(ctx context.Context, loc *models.Location) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chunk_id"}},
			DoNothing: true,
		}).
		Create(loc).Error
}

func (r *locationRepo) GetByChunk(ctx context.Context, chunkID string) (*models.Location, error) {
	var row models.Location
	err := r.db.WithContext(ctx).Where("chunk_id = ?", chunkID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
