package workers

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const (
	IngestStream = "ingest:stream"
	IngestGroup  = "ingest-workers"
)

// RedisQueue feeds chunk ids to the ingest worker pool over a Redis stream.
type RedisQueue struct {
	rdb *redis.Client
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

func (q *RedisQueue) EnqueueIngest(ctx context.Context, chunkID string) error {
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: IngestStream,
		Values: map[string]any{"chunk_id": chunkID},
	}).Err()
}
