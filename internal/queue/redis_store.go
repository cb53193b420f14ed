package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// jobsKey is the hash holding all persisted jobs, field = job id.
const jobsKey = "snaporia:bg:jobs"

// RedisStore persists job records in a single redis hash.
type RedisStore struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedisStore(rdb *redis.Client, log *zap.Logger) *RedisStore {
	return &RedisStore{rdb: rdb, log: log}
}

func (s *RedisStore) Put(ctx context.Context, rec JobRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", rec.ID, err)
	}
	if err := s.rdb.HSet(ctx, jobsKey, rec.ID, payload).Err(); err != nil {
		return fmt.Errorf("store job %s: %w", rec.ID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.HDel(ctx, jobsKey, id).Err(); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) GetAll(ctx context.Context) ([]JobRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, jobsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	recs := make([]JobRecord, 0, len(fields))
	for id, raw := range fields {
		var rec JobRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			// A corrupt entry must not block recovery of the rest.
			s.log.Warn("dropping unreadable job record", zap.String("job_id", id), zap.Error(err))
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
