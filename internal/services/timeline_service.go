package services

import (
	"context"
	"strings"
	"time"

	"github.com/selfscribe/selfscribe/internal/cache"
	"github.com/selfscribe/selfscribe/internal/models"
	"github.com/selfscribe/selfscribe/internal/repositories/postgres"
	"github.com/selfscribe/selfscribe/internal/utils"
)

const (
	timelineDefaultLimit = 50
	timelineMaxLimit     = 200
	timelineCacheTTL     = 30 * time.Second
)

type TimelineService interface {
	// List pages utterance bubbles newest-first. beforeID < 0 starts at
	// the top. hasMore is a hint that another page likely exists.
	List(ctx context.Context, userID string, beforeID int64, limit int) (items []models.TimelineEntry, hasMore bool, err error)
	Search(ctx context.Context, userID, query string, limit int) ([]models.TimelineEntry, error)
}

type timelineService struct {
	segments postgres.SegmentRepo
	cache    cache.Cache
}

func NewTimelineService(segments postgres.SegmentRepo, c cache.Cache) TimelineService {
	return &timelineService{segments: segments, cache: c}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return timelineDefaultLimit
	}
	if limit > timelineMaxLimit {
		return timelineMaxLimit
	}
	return limit
}

func (s *timelineService) List(ctx context.Context, userID string, beforeID int64, limit int) ([]models.TimelineEntry, bool, error) {
	const op = "TimelineService.List"

	if userID == "" {
		return nil, false, utils.E(utils.CodeInvalidArgument, op, "user id is required", nil)
	}
	limit = clampLimit(limit)

	// Only the unpaginated first page is cached; it is the one every
	// timeline open hits.
	firstPage := beforeID < 0 && limit == timelineDefaultLimit
	if firstPage && s.cache != nil {
		var cached []models.TimelineEntry
		if hit, err := s.cache.GetJSON(ctx, timelineCacheKey(userID), &cached); err == nil && hit {
			return cached, len(cached) == limit, nil
		}
	}

	items, err := s.segments.Timeline(ctx, userID, beforeID, limit)
	if err != nil {
		return nil, false, utils.E(utils.CodeInternal, op, "failed to load timeline", err)
	}

	if firstPage && s.cache != nil {
		_ = s.cache.SetJSON(ctx, timelineCacheKey(userID), items, timelineCacheTTL)
	}
	return items, len(items) == limit, nil
}

func (s *timelineService) Search(ctx context.Context, userID, query string, limit int) ([]models.TimelineEntry, error) {
	const op = "TimelineService.Search"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user id is required", nil)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "query is required", nil)
	}

	items, err := s.segments.Search(ctx, userID, query, clampLimit(limit))
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to search timeline", err)
	}
	return items, nil
}
