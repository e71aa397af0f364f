package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/agentlens/types"
)

// RedisConfig configures the Redis-backed job store.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// RedisJobStore keeps retroactive job records in Redis so progress survives
// process restarts and can be polled from any instance. Each job is one
// JSON value; a per-workspace sorted set (scored by creation time) serves
// listing.
type RedisJobStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisJobStore connects to Redis and verifies the connection.
func NewRedisJobStore(cfg RedisConfig) (*RedisJobStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "agentlens:"
	}
	return &RedisJobStore{client: client, keyPrefix: keyPrefix + "retrojob:"}, nil
}

// NewRedisJobStoreWithClient wraps an existing client; used by tests.
func NewRedisJobStoreWithClient(client *redis.Client, keyPrefix string) *RedisJobStore {
	if keyPrefix == "" {
		keyPrefix = "agentlens:"
	}
	return &RedisJobStore{client: client, keyPrefix: keyPrefix + "retrojob:"}
}

func (s *RedisJobStore) jobKey(id string) string { return s.keyPrefix + "data:" + id }

func (s *RedisJobStore) workspaceKey(workspaceID string) string {
	return s.keyPrefix + "ws:" + workspaceID
}

// CreateJob implements JobStore.
func (s *RedisJobStore) CreateJob(ctx context.Context, job *types.RetroactiveEvaluationJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.jobKey(job.ID), data, 0).Result()
	if err != nil {
		return storeErr("create job", err)
	}
	if !ok {
		return types.NewError(types.ErrJobConflict, "job already exists: "+job.ID)
	}

	err = s.client.ZAdd(ctx, s.workspaceKey(job.WorkspaceID), redis.Z{
		Score:  float64(job.CreatedAt.UnixMilli()),
		Member: job.ID,
	}).Err()
	return storeErr("index job", err)
}

// UpdateJob implements JobStore.
func (s *RedisJobStore) UpdateJob(ctx context.Context, job *types.RetroactiveEvaluationJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	ok, err := s.client.SetXX(ctx, s.jobKey(job.ID), data, 0).Result()
	if err != nil {
		return storeErr("update job", err)
	}
	if !ok {
		return types.NewError(types.ErrJobNotFound, "job not found: "+job.ID)
	}
	return nil
}

// GetJob implements JobStore.
func (s *RedisJobStore) GetJob(ctx context.Context, id string) (*types.RetroactiveEvaluationJob, error) {
	data, err := s.client.Get(ctx, s.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.NewError(types.ErrJobNotFound, "job not found: "+id)
	}
	if err != nil {
		return nil, storeErr("get job", err)
	}
	var job types.RetroactiveEvaluationJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// ListJobsByWorkspace implements JobStore. Jobs come back newest first,
// ordered by the creation timestamp scored into the workspace index.
func (s *RedisJobStore) ListJobsByWorkspace(ctx context.Context, workspaceID string) ([]types.RetroactiveEvaluationJob, error) {
	ids, err := s.client.ZRevRange(ctx, s.workspaceKey(workspaceID), 0, -1).Result()
	if err != nil {
		return nil, storeErr("list jobs", err)
	}

	jobs := make([]types.RetroactiveEvaluationJob, 0, len(ids))
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			// Index entry without a record: the job key was evicted or
			// deleted out of band. Skip rather than fail the listing.
			var e *types.Error
			if errors.As(err, &e) && e.Code == types.ErrJobNotFound {
				continue
			}
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// Close releases the underlying Redis client.
func (s *RedisJobStore) Close() error {
	return s.client.Close()
}
