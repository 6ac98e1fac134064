package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"export-worker-service/internal/entity"
	"export-worker-service/internal/repository"
)

var (
	ErrNotFound          = repository.ErrNotFound
	ErrNotClaimable      = repository.ErrNotClaimable
	ErrInvalidTransition = repository.ErrInvalidTransition
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

const jobColumns = `id, owner_id, template_id, kind, format, filters, options, status, progress,
attempts, max_attempts, backoff_multiplier, last_attempt_at, next_retry_at,
error, result, start_time, end_time, duration_ms, created_at, updated_at`

func (r *JobRepository) Create(ctx context.Context, owner string, templateID *uuid.UUID, spec entity.ExportSpec, maxAttempts int) (*entity.Job, error) {
	if maxAttempts <= 0 {
		maxAttempts = entity.DefaultMaxAttempts
	}
	if len(spec.Filters) == 0 {
		spec.Filters = json.RawMessage(`{}`)
	}
	if len(spec.Options) == 0 {
		spec.Options = json.RawMessage(`{}`)
	}

	q := `
INSERT INTO export_jobs (id, owner_id, template_id, kind, format, filters, options, status, max_attempts, backoff_multiplier)
VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8, $9)
RETURNING ` + jobColumns + `;`

	row := r.pool.QueryRow(ctx, q,
		uuid.New(), owner, templateID, string(spec.Kind), spec.Format,
		[]byte(spec.Filters), []byte(spec.Options), maxAttempts, entity.DefaultBackoffMultiplier,
	)
	return scanJob(row)
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM export_jobs WHERE id = $1;`
	return r.one(ctx, q, id)
}

func (r *JobRepository) GetForOwner(ctx context.Context, id uuid.UUID, owner string) (*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM export_jobs WHERE id = $1 AND owner_id = $2;`
	return r.one(ctx, q, id, owner)
}

// Claim atomically moves a pending job to processing. The single conditional
// UPDATE is the concurrency primitive everything else relies on: with N
// concurrent claims exactly one sees a row, the rest get ErrNotClaimable.
func (r *JobRepository) Claim(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := `
UPDATE export_jobs
SET status = 'processing', updated_at = now()
WHERE id = $1 AND status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= now())
RETURNING ` + jobColumns + `;`

	job, err := scanJob(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotClaimable
	}
	return job, err
}

// SetStage updates only the progress stage of a running job.
func (r *JobRepository) SetStage(ctx context.Context, id uuid.UUID, stage string) error {
	const q = `
UPDATE export_jobs
SET progress = jsonb_set(progress, '{stage}', to_jsonb($2::text)), updated_at = now()
WHERE id = $1 AND status = 'processing';`
	return r.execTransition(ctx, id, q, stage)
}

// UpdateProgress replaces the whole progress document of a running job.
func (r *JobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, p entity.Progress) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	const q = `
UPDATE export_jobs SET progress = $2, updated_at = now()
WHERE id = $1 AND status = 'processing';`
	return r.execTransition(ctx, id, q, raw)
}

func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID, res entity.Result, meta entity.RunMetadata) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	const q = `
UPDATE export_jobs
SET status = 'completed', result = $2, error = NULL,
    progress = jsonb_set(progress, '{percentage}', '100'),
    start_time = $3, end_time = $4, duration_ms = $5, updated_at = now()
WHERE id = $1 AND status = 'processing';`
	return r.execTransition(ctx, id, q, raw, meta.StartTime, meta.EndTime, meta.DurationMs)
}

func (r *JobRepository) Fail(ctx context.Context, id uuid.UUID, e entity.ExportError, meta entity.RunMetadata) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	const q = `
UPDATE export_jobs
SET status = 'failed', error = $2,
    start_time = $3, end_time = $4, duration_ms = $5, updated_at = now()
WHERE id = $1 AND status = 'processing';`
	return r.execTransition(ctx, id, q, raw, meta.StartTime, meta.EndTime, meta.DurationMs)
}

// ScheduleRetry returns a failed attempt to pending with the retry window
// recorded. The attempt counter is bumped in the same statement.
func (r *JobRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, e entity.ExportError, nextRetryAt time.Time, meta entity.RunMetadata) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	const q = `
UPDATE export_jobs
SET status = 'pending', error = $2,
    attempts = attempts + 1, last_attempt_at = now(), next_retry_at = $3,
    start_time = $4, end_time = $5, duration_ms = $6, updated_at = now()
WHERE id = $1 AND status = 'processing';`
	return r.execTransition(ctx, id, q, raw, nextRetryAt, meta.StartTime, meta.EndTime, meta.DurationMs)
}

func (r *JobRepository) Cancel(ctx context.Context, id uuid.UUID, owner string) error {
	const q = `
UPDATE export_jobs
SET status = 'cancelled', updated_at = now()
WHERE id = $1 AND owner_id = $2 AND status IN ('pending', 'processing');`

	tag, err := r.pool.Exec(ctx, q, id, owner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrInvalid(ctx, id, owner)
	}
	return nil
}

// ResetForRetry is the manual failed->pending edge: the attempt counter and
// the recorded error are cleared.
func (r *JobRepository) ResetForRetry(ctx context.Context, id uuid.UUID, owner string) error {
	const q = `
UPDATE export_jobs
SET status = 'pending', attempts = 0, error = NULL, next_retry_at = NULL, updated_at = now()
WHERE id = $1 AND owner_id = $2 AND status = 'failed';`

	tag, err := r.pool.Exec(ctx, q, id, owner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrInvalid(ctx, id, owner)
	}
	return nil
}

// IncrementDownloadCount bumps result.downloadCount of a completed job.
func (r *JobRepository) IncrementDownloadCount(ctx context.Context, id uuid.UUID, owner string) error {
	const q = `
UPDATE export_jobs
SET result = jsonb_set(result, '{downloadCount}', to_jsonb(COALESCE((result->>'downloadCount')::int, 0) + 1)),
    updated_at = now()
WHERE id = $1 AND owner_id = $2 AND status = 'completed';`

	tag, err := r.pool.Exec(ctx, q, id, owner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrInvalid(ctx, id, owner)
	}
	return nil
}

func (r *JobRepository) ListForOwner(ctx context.Context, owner string, f entity.HistoryFilter) ([]entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM export_jobs WHERE owner_id = $1`
	args := []any{owner}

	add := func(clause string, v any) {
		args = append(args, v)
		q += fmt.Sprintf(" AND %s $%d", clause, len(args))
	}
	if f.From != nil {
		add("created_at >=", *f.From)
	}
	if f.To != nil {
		add("created_at <=", *f.To)
	}
	if f.Status != "" {
		add("status =", string(f.Status))
	}
	if f.Kind != "" {
		add("kind =", string(f.Kind))
	}
	if f.Format != "" {
		add("format =", f.Format)
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []entity.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// CountByTemplate returns completed and total job counts for a template,
// the inputs of its success rate.
func (r *JobRepository) CountByTemplate(ctx context.Context, templateID uuid.UUID) (completed, total int, err error) {
	const q = `
SELECT COUNT(*) FILTER (WHERE status = 'completed'), COUNT(*)
FROM export_jobs WHERE template_id = $1;`
	err = r.pool.QueryRow(ctx, q, templateID).Scan(&completed, &total)
	return completed, total, err
}

func (r *JobRepository) one(ctx context.Context, q string, args ...any) (*entity.Job, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// execTransition runs a guarded transition UPDATE. Zero rows means either the
// job is gone or its current status forbids the edge.
func (r *JobRepository) execTransition(ctx context.Context, id uuid.UUID, q string, args ...any) error {
	all := append([]any{id}, args...)
	tag, err := r.pool.Exec(ctx, q, all...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrInvalid(ctx, id, "")
	}
	return nil
}

func (r *JobRepository) missOrInvalid(ctx context.Context, id uuid.UUID, owner string) error {
	q := `SELECT 1 FROM export_jobs WHERE id = $1`
	args := []any{id}
	if owner != "" {
		q += ` AND owner_id = $2`
		args = append(args, owner)
	}
	var one int
	if err := r.pool.QueryRow(ctx, q, args...).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return ErrInvalidTransition
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var (
		job           entity.Job
		templateID    *uuid.UUID
		kind, status  string
		filters       []byte
		options       []byte
		progressRaw   []byte
		errRaw        []byte
		resultRaw     []byte
		lastAttemptAt *time.Time
		nextRetryAt   *time.Time
		startTime     *time.Time
		endTime       *time.Time
	)

	if err := row.Scan(
		&job.ID,
		&job.Owner,
		&templateID,
		&kind,
		&job.Spec.Format,
		&filters,
		&options,
		&status,
		&progressRaw,
		&job.Retry.Attempts,
		&job.Retry.MaxAttempts,
		&job.Retry.BackoffMultiplier,
		&lastAttemptAt,
		&nextRetryAt,
		&errRaw,
		&resultRaw,
		&startTime,
		&endTime,
		&job.Metadata.DurationMs,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}

	job.TemplateID = templateID
	job.Spec.Kind = entity.ExportKind(kind)
	job.Spec.Filters = json.RawMessage(filters)
	job.Spec.Options = json.RawMessage(options)
	job.Status = entity.JobStatus(status)
	job.Retry.LastAttemptAt = lastAttemptAt
	job.Retry.NextRetryAt = nextRetryAt
	job.Metadata.StartTime = startTime
	job.Metadata.EndTime = endTime

	if len(progressRaw) > 0 {
		if err := json.Unmarshal(progressRaw, &job.Progress); err != nil {
			return nil, fmt.Errorf("decode progress: %w", err)
		}
	}
	if len(errRaw) > 0 {
		job.Error = &entity.ExportError{}
		if err := json.Unmarshal(errRaw, job.Error); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
	}
	if len(resultRaw) > 0 {
		job.Result = &entity.Result{}
		if err := json.Unmarshal(resultRaw, job.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	return &job, nil
}
