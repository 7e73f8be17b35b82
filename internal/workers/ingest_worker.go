package workers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/selfscribe/selfscribe/internal/audio"
	"github.com/selfscribe/selfscribe/internal/models"
	"github.com/selfscribe/selfscribe/internal/providers/stt"
	"github.com/selfscribe/selfscribe/internal/repositories/postgres"
	"github.com/selfscribe/selfscribe/internal/storage"
)

// IngestWorkerPool runs the asynchronous half of chunk submission: it
// pulls chunk ids off the Redis stream, builds the concatenated
// [enrollment]+[pad]+[chunk] stream, and submits the diarization job.
// Completion arrives later on the webhook; this pool never waits for it.
type IngestWorkerPool struct {
	Redis      *redis.Client
	Chunks     postgres.ChunkRepo
	Store      storage.Store
	STT        stt.Provider
	Logger     *logrus.Logger
	NumWorkers int

	PadMS      int64
	WebhookURL string

	Stream         string
	Group          string
	ConsumerPrefix string
}

func (p *IngestWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Chunks == nil || p.Store == nil || p.STT == nil {
		return errors.New("IngestWorkerPool missing dependency: Redis/Chunks/Store/STT must be set")
	}
	if p.WebhookURL == "" {
		return errors.New("IngestWorkerPool: WebhookURL must be set")
	}
	if p.Stream == "" {
		p.Stream = IngestStream
	}
	if p.Group == "" {
		p.Group = IngestGroup
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 5
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	return nil
}

func (p *IngestWorkerPool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if err == redis.Nil {
				continue
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handleMsg(ctx, msg)
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

func (p *IngestWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) {
	chunkID, _ := msg.Values["chunk_id"].(string)
	if chunkID == "" {
		return
	}

	log := p.Logger.WithFields(logrus.Fields{
		"redis_id": msg.ID,
		"chunk_id": chunkID,
	})

	chunk, err := p.Chunks.GetByID(ctx, chunkID)
	if err != nil {
		log.WithError(err).Warn("queued chunk not found, dropping")
		return
	}
	if chunk.Status.Terminal() {
		log.WithField("status", chunk.Status).Info("chunk already terminal, dropping")
		return
	}

	if err := p.process(ctx, chunk, log); err != nil {
		reason := classifyFailure(err)
		log.WithError(err).WithField("reason", reason).Error("chunk ingest failed")
		if _, terr := p.Chunks.Transition(ctx, chunk.ID, models.ChunkFailed, reason, nil); terr != nil {
			log.WithError(terr).Error("failed to mark chunk failed")
		}
	}
}

func (p *IngestWorkerPool) process(ctx context.Context, chunk *models.Chunk, log *logrus.Entry) error {
	enrollWAV, err := p.Store.Fetch(ctx, chunk.EnrollmentRef)
	if err != nil {
		return err
	}
	chunkWAV, err := p.Store.Fetch(ctx, chunk.AudioRef)
	if err != nil {
		return err
	}

	composite, enrollMS, err := audio.Concat(enrollWAV, chunkWAV, p.PadMS)
	if err != nil {
		return err
	}
	if enrollMS != chunk.EnrollmentMS {
		// Trust the stream that was actually submitted over the stored
		// duration; the callback's integrity check compares against this.
		log.WithFields(logrus.Fields{
			"stored_ms":   chunk.EnrollmentMS,
			"measured_ms": enrollMS,
		}).Warn("enrollment duration differs from stored anchor, using measured value")
	}

	audioURL, err := p.STT.Upload(ctx, composite)
	if err != nil {
		return err
	}

	meta := stt.Metadata{
		OwnerID:      chunk.OwnerID,
		ChunkID:      chunk.ID,
		EnrollmentMS: enrollMS,
	}
	jobID, err := p.STT.SubmitDiarized(ctx, stt.SubmitRequest{
		AudioURL:   audioURL,
		Metadata:   meta,
		WebhookURL: p.WebhookURL,
	})
	if err != nil {
		return err
	}

	metaJSON, _ := json.Marshal(meta.Strings())
	if err := p.Chunks.SetSubmitted(ctx, chunk.ID, jobID, enrollMS, metaJSON); err != nil {
		return err
	}

	log.WithField("job_id", jobID).Info("chunk submitted for transcription")
	return nil
}

func classifyFailure(err error) string {
	var fm *audio.FormatMismatchError
	switch {
	case errors.As(err, &fm):
		return "format_mismatch_" + fm.Param
	case errors.Is(err, audio.ErrNotPCMWAV):
		return "invalid_audio"
	default:
		return "submit_failed"
	}
}
