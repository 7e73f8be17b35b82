package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/selfscribe/selfscribe/internal/models"
	"github.com/selfscribe/selfscribe/internal/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ChunkRepo interface {
	Create(ctx context.Context, c *models.Chunk) error
	GetByID(ctx context.Context, id string) (*models.Chunk, error)
	// SetSubmitted records the provider job reference, the metadata sent
	// with it, and the builder's measured enrollment duration, which is
	// authoritative over the snapshot taken at submission.
	SetSubmitted(ctx context.Context, id, jobID string, enrollmentMS int64, meta datatypes.JSON) error

	// Transition moves a pending chunk to a terminal status via an atomic
	// compare-and-set; it returns false when the chunk was not pending,
	// which is how duplicate callbacks are detected. Kept segments are
	// written in the same transaction as the status row, so a succeeded
	// chunk always has its segment set on disk or is still pending.
	Transition(ctx context.Context, id string, to models.ChunkStatus, reason string, segs []models.Segment) (bool, error)
}

type chunkRepo struct {
	db *gorm.DB
}

func NewChunkRepo(db *gorm.DB) ChunkRepo {
	return &chunkRepo{db: db}
}

func (r *chunkRepo) Create(ctx context.Context, c *models.Chunk) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *chunkRepo) GetByID(ctx context.Context, id string) (*models.Chunk, error) {
	var row models.Chunk
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *chunkRepo) SetSubmitted(ctx context.Context, id, jobID string, enrollmentMS int64, meta datatypes.JSON) error {
	return r.db.WithContext(ctx).
		Model(&models.Chunk{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"job_id":        jobID,
			"enrollment_ms": enrollmentMS,
			"provider_meta": meta,
		}).Error
}

func (r *chunkRepo) Transition(ctx context.Context, id string, to models.ChunkStatus, reason string, segs []models.Segment) (bool, error) {
	now := time.Now().UTC()
	won := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Chunk{}).
			Where("id = ? AND status = ?", id, models.ChunkPending).
			Updates(map[string]any{
				"status":       to,
				"reason":       reason,
				"completed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			// Lost the race; leave the winner's outcome untouched.
			return nil
		}
		won = true
		if len(segs) > 0 {
			return tx.Create(&segs).Error
		}
		return nil
	})
	if err != nil {
		// Rolled back: the chunk is still pending and a provider retry
		// will attempt the whole outcome again.
		return false, err
	}
	return won, nil
}
