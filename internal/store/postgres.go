package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lease-analyzer/internal/models"
)

// Postgres wraps pgxpool for durable, multi-process persistence. Checkpoint
// writes are single committed INSERTs, so they are durable on return.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool, now: time.Now}, nil
}

func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) WriteCheckpoint(ctx context.Context, jobID string, phase models.Phase, output []byte) error {
	if output == nil {
		output = []byte{}
	}
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO checkpoints (job_id, phase, output, written_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id, phase) DO NOTHING
	`, jobID, string(phase), output, p.now().UTC())
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	existing, err := p.ReadCheckpoint(ctx, jobID, phase)
	if err != nil {
		return err
	}
	return compareCheckpoint(jobID, phase, existing, output)
}

func (p *Postgres) ReadCheckpoint(ctx context.Context, jobID string, phase models.Phase) ([]byte, error) {
	var out []byte
	err := p.pool.QueryRow(ctx, `
		SELECT output FROM checkpoints WHERE job_id = $1 AND phase = $2
	`, jobID, string(phase)).Scan(&out)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("checkpoint", jobID+"/"+string(phase))
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return out, nil
}

func (p *Postgres) ListCheckpoints(ctx context.Context, jobID string) ([]models.Checkpoint, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT job_id, phase, output, written_at FROM checkpoints WHERE job_id = $1
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []models.Checkpoint
	for rows.Next() {
		var cp models.Checkpoint
		var phase string
		if err := rows.Scan(&cp.JobID, &phase, &cp.Output, &cp.WrittenAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.Phase = models.Phase(phase)
		cp.WrittenAt = cp.WrittenAt.UTC()
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	sortCheckpoints(out)
	return out, nil
}

// UpsertJob relies on the WHERE clause of ON CONFLICT to refuse terminal
// overwrites atomically; no returned row means the stored job is terminal.
func (p *Postgres) UpsertJob(ctx context.Context, job models.Job) (models.Job, error) {
	input, err := json.Marshal(job.Input)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal input: %w", err)
	}
	var result []byte
	if job.Result != nil {
		if result, err = json.Marshal(job.Result); err != nil {
			return models.Job{}, fmt.Errorf("marshal result: %w", err)
		}
	}

	now := p.now().UTC().Truncate(time.Microsecond)
	var updated time.Time
	err = p.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, status, phase, progress, message, input, result, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			phase = EXCLUDED.phase,
			progress = EXCLUDED.progress,
			message = EXCLUDED.message,
			input = EXCLUDED.input,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			updated_at = GREATEST(EXCLUDED.updated_at, jobs.updated_at + INTERVAL '1 microsecond')
		WHERE jobs.status NOT IN ($11, $12, $13)
		RETURNING updated_at
	`, job.ID, string(job.Status), string(job.Phase), job.Progress, job.Message, input, result, job.Error,
		job.CreatedAt.UTC(), now,
		string(models.StatusCompleted), string(models.StatusFailed), string(models.StatusTerminated),
	).Scan(&updated)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, gerr := p.GetJob(ctx, job.ID)
		if gerr != nil {
			return models.Job{}, gerr
		}
		return models.Job{}, terminalConflict(existing)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("upsert job: %w", err)
	}
	job.UpdatedAt = updated.UTC()
	return job, nil
}

func (p *Postgres) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, status, phase, progress, message, input, result, error, created_at, updated_at
		FROM jobs WHERE id = $1
	`, id)

	var job models.Job
	var status, phase string
	var input, result []byte
	if err := row.Scan(&job.ID, &status, &phase, &job.Progress, &job.Message, &input, &result, &job.Error, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, notFound("job", id)
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.Status = models.JobStatus(status)
	job.Phase = models.Phase(phase)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	if err := json.Unmarshal(input, &job.Input); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal input: %w", err)
	}
	if len(result) > 0 {
		job.Result = &models.AnalysisResult{}
		if err := json.Unmarshal(result, job.Result); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return job, nil
}

func (p *Postgres) ListActiveJobs(ctx context.Context, limit int) ([]string, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id FROM jobs WHERE status = $1 ORDER BY created_at LIMIT $2
	`, string(models.StatusRunning), lim)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan active job: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) RequestCancel(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE jobs SET cancel_requested_at = COALESCE(cancel_requested_at, NOW()) WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("job", id)
	}
	return nil
}

func (p *Postgres) CancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := p.pool.QueryRow(ctx, `
		SELECT cancel_requested_at IS NOT NULL FROM jobs WHERE id = $1
	`, id).Scan(&requested)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return requested, nil
}
