package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"lease-analyzer/internal/models"
)

// Memory is a process-local Store. Snapshots are kept encoded so readers
// never share memory with the writer.
type Memory struct {
	mu          sync.RWMutex
	jobs        map[string][]byte
	order       []string
	cancels     map[string]bool
	checkpoints map[string]map[models.Phase]models.Checkpoint
	now         func() time.Time
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:        make(map[string][]byte),
		cancels:     make(map[string]bool),
		checkpoints: make(map[string]map[models.Phase]models.Checkpoint),
		now:         time.Now,
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) WriteCheckpoint(_ context.Context, jobID string, phase models.Phase, output []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPhase, ok := m.checkpoints[jobID]
	if !ok {
		byPhase = make(map[models.Phase]models.Checkpoint)
		m.checkpoints[jobID] = byPhase
	}
	if existing, ok := byPhase[phase]; ok {
		return compareCheckpoint(jobID, phase, existing.Output, output)
	}
	byPhase[phase] = models.Checkpoint{
		JobID:     jobID,
		Phase:     phase,
		Output:    append([]byte(nil), output...),
		WrittenAt: m.now().UTC(),
	}
	return nil
}

func (m *Memory) ReadCheckpoint(_ context.Context, jobID string, phase models.Phase) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[jobID][phase]
	if !ok {
		return nil, notFound("checkpoint", fmt.Sprintf("%s/%s", jobID, phase))
	}
	return append([]byte(nil), cp.Output...), nil
}

func (m *Memory) ListCheckpoints(_ context.Context, jobID string) ([]models.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Checkpoint, 0, len(m.checkpoints[jobID]))
	for _, cp := range m.checkpoints[jobID] {
		cp.Output = append([]byte(nil), cp.Output...)
		out = append(out, cp)
	}
	sortCheckpoints(out)
	return out, nil
}

func (m *Memory) UpsertJob(_ context.Context, job models.Job) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var prev time.Time
	if raw, ok := m.jobs[job.ID]; ok {
		var existing models.Job
		if err := json.Unmarshal(raw, &existing); err != nil {
			return models.Job{}, fmt.Errorf("decode job: %w", err)
		}
		if existing.Status.Terminal() {
			return models.Job{}, terminalConflict(existing)
		}
		prev = existing.UpdatedAt
	} else {
		m.order = append(m.order, job.ID)
	}
	job.UpdatedAt = nextUpdatedAt(m.now(), prev)
	raw, err := json.Marshal(job)
	if err != nil {
		return models.Job{}, fmt.Errorf("encode job: %w", err)
	}
	m.jobs[job.ID] = raw
	return job, nil
}

func (m *Memory) GetJob(_ context.Context, id string) (models.Job, error) {
	m.mu.RLock()
	raw, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return models.Job{}, notFound("job", id)
	}
	var job models.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return models.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

func (m *Memory) ListActiveJobs(ctx context.Context, limit int) ([]string, error) {
	m.mu.RLock()
	ids := append([]string(nil), m.order...)
	m.mu.RUnlock()
	var out []string
	for _, id := range ids {
		if limit > 0 && len(out) >= limit {
			break
		}
		job, err := m.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status == models.StatusRunning {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *Memory) RequestCancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return notFound("job", id)
	}
	m.cancels[id] = true
	return nil
}

func (m *Memory) CancelRequested(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancels[id], nil
}
