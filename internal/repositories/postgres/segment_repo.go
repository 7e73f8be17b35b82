package postgres

import (
	"context"

	"github.com/selfscribe/selfscribe/internal/models"
	"gorm.io/gorm"
)

// SegmentRepo reads kept segments. Writes happen through
// ChunkRepo.Transition, in the same transaction as the chunk's
// terminal status.
type SegmentRepo interface {
	ListByChunk(ctx context.Context, chunkID string) ([]models.Segment, error)
	GetByID(ctx context.Context, id int64) (*models.Segment, error)

	// Timeline pages kept segments newest-first, joined with chunk context.
	// beforeID < 0 means "from the top".
	Timeline(ctx context.Context, userID string, beforeID int64, limit int) ([]models.TimelineEntry, error)
	Search(ctx context.Context, userID, query string, limit int) ([]models.TimelineEntry, error)
}

type segmentRepo struct {
	db *gorm.DB
}

func NewSegmentRepo(db *gorm.DB) SegmentRepo {
	return &segmentRepo{db: db}
}

func (r *segmentRepo) ListByChunk(ctx context.Context, chunkID string) ([]models.Segment, error) {
	var rows []models.Segment
	err := r.db.WithContext(ctx).
		Where("chunk_id = ?", chunkID).
		Order("start_ms ASC").
		Find(&rows).Error
	return rows, err
}

func (r *segmentRepo) GetByID(ctx context.Context, id int64) (*models.Segment, error) {
	var row models.Segment
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

const timelineSelect = `segments.id AS segment_id, segments.chunk_id, segments.start_ms, segments.end_ms,
segments.text, chunks.device_id, chunks.created_at AS timestamp, locations.address`

func (r *segmentRepo) timelineQuery(ctx context.Context, userID string) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.Segment{}).
		Select(timelineSelect).
		Joins("JOIN chunks ON chunks.id = segments.chunk_id").
		Joins("LEFT JOIN locations ON locations.chunk_id = segments.chunk_id").
		Where("chunks.owner_id = ?", userID)
}

func (r *segmentRepo) Timeline(ctx context.Context, userID string, beforeID int64, limit int) ([]models.TimelineEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.timelineQuery(ctx, userID)
	if beforeID >= 0 {
		q = q.Where("segments.id < ?", beforeID)
	}

	var rows []models.TimelineEntry
	err := q.Order("segments.id DESC").Limit(limit).Scan(&rows).Error
	return rows, err
}

func (r *segmentRepo) Search(ctx context.Context, userID, query string, limit int) ([]models.TimelineEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.TimelineEntry
	err := r.timelineQuery(ctx, userID).
		Where("segments.text ILIKE ?", "%"+query+"%").
		Order("segments.id DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}
