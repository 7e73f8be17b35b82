package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/selfscribe/selfscribe/internal/audio"
	"github.com/selfscribe/selfscribe/internal/models"
	"github.com/selfscribe/selfscribe/internal/repositories/postgres"
	"github.com/selfscribe/selfscribe/internal/storage"
	"github.com/selfscribe/selfscribe/internal/utils"
)

type EnrollmentService interface {
	// Complete stores a new voice-sample anchor for the user. A new
	// anchor supersedes the previous one for future chunks only.
	// editDistance is the client-computed Levenshtein distance between
	// the spoken phrase and the expected one, when phrase checking ran.
	Complete(ctx context.Context, userID string, wav []byte, phraseText string, editDistance *int) (*models.Enrollment, error)
	Status(ctx context.Context, userID string) (*models.Enrollment, error)
	Latest(ctx context.Context, userID string) (*models.Enrollment, error)

	// Reset deactivates the current anchor. Already-processed chunks keep
	// their snapshots; new submissions require a fresh enrollment.
	Reset(ctx context.Context, userID string) error
}

type enrollmentService struct {
	enrollments postgres.EnrollmentRepo
	store       storage.Store
}

func NewEnrollmentService(enrollments postgres.EnrollmentRepo, store storage.Store) EnrollmentService {
	return &enrollmentService{enrollments: enrollments, store: store}
}

func (s *enrollmentService) Complete(ctx context.Context, userID string, wav []byte, phraseText string, editDistance *int) (*models.Enrollment, error) {
	const op = "EnrollmentService.Complete"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user id is required", nil)
	}

	info, data, err := audio.Decode(wav)
	if err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "enrollment audio is not a PCM WAV stream", err)
	}
	durationMS := info.DurationMS(len(data))
	if durationMS <= 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "enrollment audio is empty", nil)
	}

	objectName := fmt.Sprintf("enrollments/%s/%s.wav", userID, uuid.NewString())
	ref, err := s.store.Upload(ctx, objectName, "audio/wav", bytes.NewReader(wav))
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to store enrollment audio", err)
	}

	e := &models.Enrollment{
		UserID:     userID,
		AudioRef:   ref,
		DurationMS: durationMS,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if phraseText != "" {
		e.PhraseText = &phraseText
	}
	e.EditDistance = editDistance

	if err := s.enrollments.Create(ctx, e); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create enrollment", err)
	}
	return e, nil
}

func (s *enrollmentService) Status(ctx context.Context, userID string) (*models.Enrollment, error) {
	return s.Latest(ctx, userID)
}

func (s *enrollmentService) Latest(ctx context.Context, userID string) (*models.Enrollment, error) {
	const op = "EnrollmentService.Latest"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user id is required", nil)
	}
	out, err := s.enrollments.LatestByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "no enrollment found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load enrollment", err)
	}
	return out, nil
}

func (s *enrollmentService) Reset(ctx context.Context, userID string) error {
	const op = "EnrollmentService.Reset"

	if userID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user id is required", nil)
	}
	if err := s.enrollments.DeactivateByUser(ctx, userID); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to reset enrollment", err)
	}
	return nil
}
