package postgres

import (
	"context"
	"errors"

	"github.com/selfscribe/selfscribe/internal/models"
	"github.com/selfscribe/selfscribe/internal/utils"
	"gorm.io/gorm"
)

type EnrollmentRepo interface {
	Create(ctx context.Context, e *models.Enrollment) error
	// LatestByUser returns the user's current anchor: the newest active
	// enrollment. Deactivated anchors stay on disk for chunks that
	// snapshotted them, but never anchor new submissions.
	LatestByUser(ctx context.Context, userID string) (*models.Enrollment, error)
	DeactivateByUser(ctx context.Context, userID string) error
}

type enrollmentRepo struct {
	db *gorm.DB
}

func NewEnrollmentRepo(db *gorm.DB) EnrollmentRepo {
	return &enrollmentRepo{db: db}
}

func (r *enrollmentRepo) Create(ctx context.Context, e *models.Enrollment) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *enrollmentRepo) LatestByUser(ctx context.Context, userID string) (*models.Enrollment, error) {
	var row models.Enrollment
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND active", userID).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *enrollmentRepo) DeactivateByUser(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Enrollment{}).
		Where("user_id = ? AND active", userID).
		Update("active", false).Error
}
