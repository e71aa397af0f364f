package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/agentlens/types"
)

// MemoryJobStore is an in-memory JobStore for development and testing. Job
// records do not survive a restart; use RedisJobStore in production.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]types.RetroactiveEvaluationJob
}

// NewMemoryJobStore creates an empty in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]types.RetroactiveEvaluationJob)}
}

// CreateJob implements JobStore.
func (s *MemoryJobStore) CreateJob(ctx context.Context, job *types.RetroactiveEvaluationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.jobs[job.ID]; exists {
		return types.NewError(types.ErrJobConflict, "job already exists: "+job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// UpdateJob implements JobStore.
func (s *MemoryJobStore) UpdateJob(ctx context.Context, job *types.RetroactiveEvaluationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; !exists {
		return types.NewError(types.ErrJobNotFound, "job not found: "+job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob implements JobStore.
func (s *MemoryJobStore) GetJob(ctx context.Context, id string) (*types.RetroactiveEvaluationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, types.NewError(types.ErrJobNotFound, "job not found: "+id)
	}
	out := cloneJob(&job)
	return &out, nil
}

// ListJobsByWorkspace implements JobStore. Jobs come back newest first.
func (s *MemoryJobStore) ListJobsByWorkspace(ctx context.Context, workspaceID string) ([]types.RetroactiveEvaluationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.RetroactiveEvaluationJob
	for _, job := range s.jobs {
		if job.WorkspaceID == workspaceID {
			out = append(out, cloneJob(&job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// cloneJob copies a job record including its error slice, so callers never
// share the stored backing array.
func cloneJob(job *types.RetroactiveEvaluationJob) types.RetroactiveEvaluationJob {
	out := *job
	if job.Errors != nil {
		out.Errors = make([]types.JobError, len(job.Errors))
		copy(out.Errors, job.Errors)
	}
	return out
}
