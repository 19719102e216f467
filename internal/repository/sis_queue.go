package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unimath/placement-backend/internal/config"
	"github.com/unimath/placement-backend/internal/model"
)

// SISQueue is the Redis list carrying earned placements awaiting upload to
// the campus student information system.
type SISQueue struct {
	rdb *redis.Client
}

// NewSISQueue creates a queue backed by the given Redis client.
func NewSISQueue(rdb *redis.Client) *SISQueue {
	return &SISQueue{rdb: rdb}
}

// Push enqueues one upload payload.
func (q *SISQueue) Push(ctx context.Context, upload model.SISUpload) error {
	raw, err := json.Marshal(upload)
	if err != nil {
		return fmt.Errorf("marshal SIS upload: %w", err)
	}
	if err := q.rdb.RPush(ctx, config.WorkerKey.SISUploadQueue, raw).Err(); err != nil {
		return fmt.Errorf("queue SIS upload: %w", err)
	}
	return nil
}

// Requeue puts a payload back at the tail after a failed upload.
func (q *SISQueue) Requeue(ctx context.Context, upload model.SISUpload) error {
	return q.Push(ctx, upload)
}

// Pop blocks up to timeout for the next payload; an empty queue maps to
// (nil, nil) so callers can poll in a loop.
func (q *SISQueue) Pop(ctx context.Context, timeout time.Duration) (*model.SISUpload, error) {
	item, err := q.rdb.BLPop(ctx, timeout, config.WorkerKey.SISUploadQueue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(item) < 2 {
		return nil, nil
	}

	var upload model.SISUpload
	if err := json.Unmarshal([]byte(item[1]), &upload); err != nil {
		return nil, fmt.Errorf("parse SIS upload payload: %w", err)
	}
	return &upload, nil
}
