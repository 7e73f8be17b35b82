package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/selfscribe/selfscribe/internal/audio"
	"github.com/selfscribe/selfscribe/internal/cache"
	"github.com/selfscribe/selfscribe/internal/mapper"
	"github.com/selfscribe/selfscribe/internal/models"
	"github.com/selfscribe/selfscribe/internal/providers/geocode"
	"github.com/selfscribe/selfscribe/internal/providers/stt"
	"github.com/selfscribe/selfscribe/internal/repositories/postgres"
	"github.com/selfscribe/selfscribe/internal/storage"
	"github.com/selfscribe/selfscribe/internal/utils"
)

// Queue hands a persisted chunk to the background ingest pipeline.
type Queue interface {
	EnqueueIngest(ctx context.Context, chunkID string) error
}

type SubmitChunkInput struct {
	WAV      []byte
	DeviceID *string
	GPSLat   *float64
	GPSLon   *float64
}

// CallbackOutcome is what a provider callback amounted to. Duplicate and
// rejected callbacks are reported here, not as errors, so the webhook
// handler can acknowledge without retries from the provider side.
type CallbackOutcome struct {
	ChunkID   string             `json:"chunk_id"`
	Status    models.ChunkStatus `json:"status"`
	Reason    string             `json:"reason,omitempty"`
	UserLabel string             `json:"user_label,omitempty"`
	KeptCount int                `json:"kept_count"`
	Duplicate bool               `json:"duplicate,omitempty"`
}

type IngestService interface {
	// SubmitChunk persists a pending chunk with a snapshot of the user's
	// current enrollment anchor and queues background processing. It
	// returns as soon as the chunk is durable; transcription completes
	// later via HandleCallback.
	SubmitChunk(ctx context.Context, ownerID string, in SubmitChunkInput) (*models.Chunk, error)

	// HandleCallback consumes a provider completion. Idempotent: a chunk
	// already in a terminal state is left untouched.
	HandleCallback(ctx context.Context, payload stt.CallbackPayload) (CallbackOutcome, error)

	GetChunk(ctx context.Context, ownerID, chunkID string) (*models.Chunk, []models.Segment, *models.Location, error)
}

type ingestService struct {
	chunks      postgres.ChunkRepo
	enrollments postgres.EnrollmentRepo
	segments    postgres.SegmentRepo
	locations   postgres.LocationRepo
	store       storage.Store
	queue       Queue
	geocoder    geocode.Reverser
	cache       cache.Cache
	mapperCfg   mapper.Config
	log         *logrus.Logger
}

type IngestDeps struct {
	Chunks      postgres.ChunkRepo
	Enrollments postgres.EnrollmentRepo
	Segments    postgres.SegmentRepo
	Locations   postgres.LocationRepo
	Store       storage.Store
	Queue       Queue
	Geocoder    geocode.Reverser
	Cache       cache.Cache
	MapperCfg   mapper.Config
	Logger      *logrus.Logger
}

func NewIngestService(d IngestDeps) IngestService {
	if d.Logger == nil {
		d.Logger = logrus.New()
	}
	return &ingestService{
		chunks:      d.Chunks,
		enrollments: d.Enrollments,
		segments:    d.Segments,
		locations:   d.Locations,
		store:       d.Store,
		queue:       d.Queue,
		geocoder:    d.Geocoder,
		cache:       d.Cache,
		mapperCfg:   d.MapperCfg,
		log:         d.Logger,
	}
}

func (s *ingestService) SubmitChunk(ctx context.Context, ownerID string, in SubmitChunkInput) (*models.Chunk, error) {
	const op = "IngestService.SubmitChunk"

	if ownerID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "owner id is required", nil)
	}

	// The anchor is captured now; a later re-enrollment must not change
	// what this chunk is processed against.
	anchor, err := s.enrollments.LatestByUser(ctx, ownerID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeInvalidArgument, op, "no enrollment found; complete enrollment first", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load enrollment", err)
	}

	if _, _, err := audio.Decode(in.WAV); err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "chunk audio is not a PCM WAV stream", err)
	}

	chunkID := uuid.NewString()
	objectName := fmt.Sprintf("chunks/%s/%s.wav", ownerID, chunkID)
	ref, err := s.store.Upload(ctx, objectName, "audio/wav", bytes.NewReader(in.WAV))
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to store chunk audio", err)
	}

	c := &models.Chunk{
		ID:            chunkID,
		OwnerID:       ownerID,
		AudioRef:      ref,
		DeviceID:      in.DeviceID,
		GPSLat:        in.GPSLat,
		GPSLon:        in.GPSLon,
		EnrollmentRef: anchor.AudioRef,
		EnrollmentMS:  anchor.DurationMS,
		Status:        models.ChunkPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.chunks.Create(ctx, c); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create chunk", err)
	}

	if err := s.queue.EnqueueIngest(ctx, chunkID); err != nil {
		// The chunk is durable but nothing will process it; surface the
		// outcome rather than leaving it pending forever.
		if _, terr := s.chunks.Transition(ctx, chunkID, models.ChunkFailed, "enqueue_failed", nil); terr != nil {
			s.log.WithError(terr).WithField("chunk_id", chunkID).Error("failed to mark unqueued chunk failed")
		}
		return nil, utils.E(utils.CodeUnavailable, op, "failed to queue chunk for processing", err)
	}

	return c, nil
}

func (s *ingestService) HandleCallback(ctx context.Context, payload stt.CallbackPayload) (CallbackOutcome, error) {
	const op = "IngestService.HandleCallback"

	meta, err := stt.ParseMetadata(payload.Metadata)
	if err != nil {
		return CallbackOutcome{}, utils.E(utils.CodeInvalidArgument, op, "callback metadata is invalid", err)
	}

	log := s.log.WithFields(logrus.Fields{
		"chunk_id": meta.ChunkID,
		"owner_id": meta.OwnerID,
		"job_id":   payload.JobID,
	})

	chunk, err := s.chunks.GetByID(ctx, meta.ChunkID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			log.Warn("callback for unknown chunk rejected")
			return CallbackOutcome{}, utils.E(utils.CodeIntegrityMismatch, op, "callback does not match a known chunk", err)
		}
		return CallbackOutcome{}, utils.E(utils.CodeInternal, op, "failed to load chunk", err)
	}

	// The echoed metadata must agree with what was captured at submit
	// time; anything else smells like a replay or cross-tenant mixup.
	if chunk.OwnerID != meta.OwnerID || chunk.EnrollmentMS != meta.EnrollmentMS {
		log.Warn("callback metadata does not match chunk record, rejected")
		return CallbackOutcome{}, utils.E(utils.CodeIntegrityMismatch, op, "callback metadata does not match chunk record", nil)
	}

	if chunk.Status.Terminal() {
		log.WithField("status", chunk.Status).Info("duplicate callback ignored")
		return CallbackOutcome{ChunkID: chunk.ID, Status: chunk.Status, Duplicate: true}, nil
	}

	if !payload.Completed() {
		return s.finish(ctx, log, chunk, models.ChunkFailed, "provider_status_"+payload.Status, "", nil)
	}

	res, err := mapper.Map(payload.MapperWords(), meta.EnrollmentMS, s.mapperCfg)
	if err != nil {
		return CallbackOutcome{}, utils.E(utils.CodeInternal, op, "mapper rejected input", err)
	}

	if res.Status == mapper.StatusIndeterminate {
		return s.finish(ctx, log, chunk, models.ChunkIndeterminate, string(res.Reason), res.UserLabel, nil)
	}
	return s.finish(ctx, log, chunk, models.ChunkSucceeded, "", res.UserLabel, res.Kept)
}

// finish performs the single pending->terminal transition for a chunk.
// Segments ride in the same transaction as the status row: either the
// chunk becomes succeeded with its segments on disk, or it stays pending
// and the provider's retry runs the whole outcome again.
func (s *ingestService) finish(ctx context.Context, log *logrus.Entry, chunk *models.Chunk, to models.ChunkStatus, reason, userLabel string, kept []mapper.Segment) (CallbackOutcome, error) {
	const op = "IngestService.HandleCallback"

	var segs []models.Segment
	if to == models.ChunkSucceeded {
		segs = make([]models.Segment, len(kept))
		now := time.Now().UTC()
		for i, k := range kept {
			segs[i] = models.Segment{
				ChunkID:       chunk.ID,
				SpeakerLabel:  userLabel,
				StartMS:       k.StartMS,
				EndMS:         k.EndMS,
				Text:          k.Text,
				AvgConfidence: k.AvgConfidence,
				CreatedAt:     now,
			}
		}
	}

	won, err := s.chunks.Transition(ctx, chunk.ID, to, reason, segs)
	if err != nil {
		return CallbackOutcome{}, utils.E(utils.CodeInternal, op, "failed to persist chunk outcome", err)
	}
	if !won {
		// Another callback raced us to the terminal state. Report the
		// status that actually stuck, not what this delivery computed.
		cur, gerr := s.chunks.GetByID(ctx, chunk.ID)
		if gerr != nil {
			return CallbackOutcome{}, utils.E(utils.CodeInternal, op, "failed to load chunk after lost transition", gerr)
		}
		log.WithField("status", cur.Status).Info("concurrent duplicate callback ignored")
		return CallbackOutcome{ChunkID: chunk.ID, Status: cur.Status, Reason: cur.Reason, Duplicate: true}, nil
	}

	out := CallbackOutcome{ChunkID: chunk.ID, Status: to, Reason: reason, UserLabel: userLabel}

	if to == models.ChunkSucceeded {
		out.KeptCount = len(segs)

		if s.cache != nil {
			_ = s.cache.Del(ctx, timelineCacheKey(chunk.OwnerID))
		}
		if len(segs) > 0 {
			s.resolveLocation(chunk, log)
		}
	}

	log.WithFields(logrus.Fields{
		"status":     to,
		"reason":     reason,
		"kept_count": out.KeptCount,
	}).Info("chunk reached terminal state")
	return out, nil
}

// resolveLocation reverse-geocodes the chunk's GPS fix in the background;
// the timeline shows the address when (and if) it arrives.
func (s *ingestService) resolveLocation(chunk *models.Chunk, log *logrus.Entry) {
	if s.geocoder == nil || chunk.GPSLat == nil || chunk.GPSLon == nil {
		return
	}
	lat, lon, chunkID := *chunk.GPSLat, *chunk.GPSLon, chunk.ID

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		addr, err := s.geocoder.Reverse(ctx, lat, lon)
		if err != nil {
			log.WithError(err).Warn("reverse geocoding failed")
			return
		}
		if err := s.locations.Upsert(ctx, &models.Location{
			ChunkID: chunkID,
			Address: addr,
			Source:  "nominatim",
		}); err != nil {
			log.WithError(err).Warn("failed to store location")
		}
	}()
}

func (s *ingestService) GetChunk(ctx context.Context, ownerID, chunkID string) (*models.Chunk, []models.Segment, *models.Location, error) {
	const op = "IngestService.GetChunk"

	chunk, err := s.chunks.GetByID(ctx, chunkID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, nil, nil, utils.E(utils.CodeNotFound, op, "chunk not found", err)
		}
		return nil, nil, nil, utils.E(utils.CodeInternal, op, "failed to load chunk", err)
	}
	if chunk.OwnerID != ownerID {
		return nil, nil, nil, utils.E(utils.CodeForbidden, op, "forbidden", nil)
	}

	segs, err := s.segments.ListByChunk(ctx, chunkID)
	if err != nil {
		return nil, nil, nil, utils.E(utils.CodeInternal, op, "failed to load segments", err)
	}

	loc, err := s.locations.GetByChunk(ctx, chunkID)
	if err != nil && !errors.Is(err, utils.ErrNotFound) {
		return nil, nil, nil, utils.E(utils.CodeInternal, op, "failed to load location", err)
	}

	return chunk, segs, loc, nil
}

func timelineCacheKey(userID string) string {
	return "timeline:first:" + userID
}
