package services

import (
	"context"
	"errors"

	"github.com/selfscribe/selfscribe/internal/audio"
	"github.com/selfscribe/selfscribe/internal/repositories/postgres"
	"github.com/selfscribe/selfscribe/internal/storage"
	"github.com/selfscribe/selfscribe/internal/utils"
)

// AudioService serves playback audio. Utterance audio is cut from the
// original chunk recording using the segment's chunk-relative offsets.
type AudioService interface {
	UtteranceAudio(ctx context.Context, userID string, segmentID int64) ([]byte, error)
	ChunkAudio(ctx context.Context, userID, chunkID string) ([]byte, error)
}

type audioService struct {
	segments postgres.SegmentRepo
	chunks   postgres.ChunkRepo
	store    storage.Store
}

func NewAudioService(segments postgres.SegmentRepo, chunks postgres.ChunkRepo, store storage.Store) AudioService {
	return &audioService{segments: segments, chunks: chunks, store: store}
}

func (s *audioService) UtteranceAudio(ctx context.Context, userID string, segmentID int64) ([]byte, error) {
	const op = "AudioService.UtteranceAudio"

	seg, err := s.segments.GetByID(ctx, segmentID)
	if err != nil {
		return nil, utils.E(utils.CodeNotFound, op, "utterance not found", err)
	}

	wav, err := s.ChunkAudio(ctx, userID, seg.ChunkID)
	if err != nil {
		return nil, err
	}

	out, err := audio.ExtractSegment(wav, seg.StartMS, seg.EndMS)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to extract utterance audio", err)
	}
	return out, nil
}

func (s *audioService) ChunkAudio(ctx context.Context, userID, chunkID string) ([]byte, error) {
	const op = "AudioService.ChunkAudio"

	chunk, err := s.chunks.GetByID(ctx, chunkID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "chunk not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load chunk", err)
	}
	if chunk.OwnerID != userID {
		return nil, utils.E(utils.CodeForbidden, op, "forbidden", nil)
	}

	wav, err := s.store.Fetch(ctx, chunk.AudioRef)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to fetch chunk audio", err)
	}
	return wav, nil
}
