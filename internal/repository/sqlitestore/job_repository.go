package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"export-worker-service/internal/entity"
	"export-worker-service/internal/repository"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
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

	id := uuid.New()
	now := fmtTime(time.Now())
	var tpl any
	if templateID != nil {
		tpl = templateID.String()
	}

	const q = `
INSERT INTO export_jobs (id, owner_id, template_id, kind, format, filters, options, status, max_attempts, backoff_multiplier, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?, ?, ?);`

	if _, err := r.db.ExecContext(ctx, q,
		id.String(), owner, tpl, string(spec.Kind), spec.Format,
		string(spec.Filters), string(spec.Options), maxAttempts, entity.DefaultBackoffMultiplier,
		now, now,
	); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM export_jobs WHERE id = ?;`
	return r.one(ctx, q, id.String())
}

func (r *JobRepository) GetForOwner(ctx context.Context, id uuid.UUID, owner string) (*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM export_jobs WHERE id = ? AND owner_id = ?;`
	return r.one(ctx, q, id.String(), owner)
}

// Claim uses the same single conditional UPDATE as the Postgres driver, so
// exactly one of N concurrent claims wins.
func (r *JobRepository) Claim(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	const q = `
UPDATE export_jobs
SET status = 'processing', updated_at = ?
WHERE id = ? AND status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= ?);`

	now := fmtTime(time.Now())
	res, err := r.db.ExecContext(ctx, q, now, id.String(), now)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, repository.ErrNotClaimable
	}
	return r.GetByID(ctx, id)
}

func (r *JobRepository) SetStage(ctx context.Context, id uuid.UUID, stage string) error {
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	p := job.Progress
	p.Stage = stage
	return r.UpdateProgress(ctx, id, p)
}

func (r *JobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, p entity.Progress) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	const q = `UPDATE export_jobs SET progress = ?, updated_at = ? WHERE id = ? AND status = 'processing';`
	return r.execTransition(ctx, id, q, string(raw), fmtTime(time.Now()), id.String())
}

func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID, res entity.Result, meta entity.RunMetadata) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	p := job.Progress
	p.Percentage = 100
	progressRaw, err := json.Marshal(p)
	if err != nil {
		return err
	}

	const q = `
UPDATE export_jobs
SET status = 'completed', result = ?, error = NULL, progress = ?,
    start_time = ?, end_time = ?, duration_ms = ?, updated_at = ?
WHERE id = ? AND status = 'processing';`
	return r.execTransition(ctx, id, q,
		string(raw), string(progressRaw),
		fmtTimePtr(meta.StartTime), fmtTimePtr(meta.EndTime), meta.DurationMs,
		fmtTime(time.Now()), id.String())
}

func (r *JobRepository) Fail(ctx context.Context, id uuid.UUID, e entity.ExportError, meta entity.RunMetadata) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	const q = `
UPDATE export_jobs
SET status = 'failed', error = ?,
    start_time = ?, end_time = ?, duration_ms = ?, updated_at = ?
WHERE id = ? AND status = 'processing';`
	return r.execTransition(ctx, id, q,
		string(raw), fmtTimePtr(meta.StartTime), fmtTimePtr(meta.EndTime), meta.DurationMs,
		fmtTime(time.Now()), id.String())
}

func (r *JobRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, e entity.ExportError, nextRetryAt time.Time, meta entity.RunMetadata) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	now := fmtTime(time.Now())
	const q = `
UPDATE export_jobs
SET status = 'pending', error = ?,
    attempts = attempts + 1, last_attempt_at = ?, next_retry_at = ?,
    start_time = ?, end_time = ?, duration_ms = ?, updated_at = ?
WHERE id = ? AND status = 'processing';`
	return r.execTransition(ctx, id, q,
		string(raw), now, fmtTime(nextRetryAt),
		fmtTimePtr(meta.StartTime), fmtTimePtr(meta.EndTime), meta.DurationMs,
		now, id.String())
}

func (r *JobRepository) Cancel(ctx context.Context, id uuid.UUID, owner string) error {
	const q = `
UPDATE export_jobs SET status = 'cancelled', updated_at = ?
WHERE id = ? AND owner_id = ? AND status IN ('pending', 'processing');`

	res, err := r.db.ExecContext(ctx, q, fmtTime(time.Now()), id.String(), owner)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missOrInvalid(ctx, id, owner)
	}
	return nil
}

func (r *JobRepository) ResetForRetry(ctx context.Context, id uuid.UUID, owner string) error {
	const q = `
UPDATE export_jobs
SET status = 'pending', attempts = 0, error = NULL, next_retry_at = NULL, updated_at = ?
WHERE id = ? AND owner_id = ? AND status = 'failed';`

	res, err := r.db.ExecContext(ctx, q, fmtTime(time.Now()), id.String(), owner)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missOrInvalid(ctx, id, owner)
	}
	return nil
}

// IncrementDownloadCount bumps the counter inside the result blob in a single
// UPDATE, matching the jsonb_set statement of the Postgres driver.
func (r *JobRepository) IncrementDownloadCount(ctx context.Context, id uuid.UUID, owner string) error {
	const q = `
UPDATE export_jobs
SET result = json_set(result, '$.downloadCount', COALESCE(json_extract(result, '$.downloadCount'), 0) + 1),
    updated_at = ?
WHERE id = ? AND owner_id = ? AND status = 'completed' AND result IS NOT NULL;`

	res, err := r.db.ExecContext(ctx, q, fmtTime(time.Now()), id.String(), owner)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missOrInvalid(ctx, id, owner)
	}
	return nil
}

func (r *JobRepository) ListForOwner(ctx context.Context, owner string, f entity.HistoryFilter) ([]entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM export_jobs WHERE owner_id = ?`
	args := []any{owner}

	if f.From != nil {
		q += ` AND created_at >= ?`
		args = append(args, fmtTime(*f.From))
	}
	if f.To != nil {
		q += ` AND created_at <= ?`
		args = append(args, fmtTime(*f.To))
	}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Kind != "" {
		q += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	if f.Format != "" {
		q += ` AND format = ?`
		args = append(args, f.Format)
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
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

func (r *JobRepository) CountByTemplate(ctx context.Context, templateID uuid.UUID) (completed, total int, err error) {
	const q = `
SELECT COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0), COUNT(*)
FROM export_jobs WHERE template_id = ?;`
	err = r.db.QueryRowContext(ctx, q, templateID.String()).Scan(&completed, &total)
	return completed, total, err
}

func (r *JobRepository) one(ctx context.Context, q string, args ...any) (*entity.Job, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return j, err
}

func (r *JobRepository) execTransition(ctx context.Context, id uuid.UUID, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missOrInvalid(ctx, id, "")
	}
	return nil
}

func (r *JobRepository) missOrInvalid(ctx context.Context, id uuid.UUID, owner string) error {
	q := `SELECT 1 FROM export_jobs WHERE id = ?`
	args := []any{id.String()}
	if owner != "" {
		q += ` AND owner_id = ?`
		args = append(args, owner)
	}
	var one int
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		return err
	}
	return repository.ErrInvalidTransition
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var (
		job                      entity.Job
		idStr, kind, status      string
		templateID               sql.NullString
		filters, options         string
		progressRaw              string
		errRaw, resultRaw        sql.NullString
		lastAttemptAt, nextRetry sql.NullString
		startTime, endTime       sql.NullString
		createdAt, updatedAt     string
	)

	if err := row.Scan(
		&idStr,
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
		&nextRetry,
		&errRaw,
		&resultRaw,
		&startTime,
		&endTime,
		&job.Metadata.DurationMs,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	job.ID = id
	if templateID.Valid {
		tid, err := uuid.Parse(templateID.String)
		if err != nil {
			return nil, fmt.Errorf("parse template id: %w", err)
		}
		job.TemplateID = &tid
	}
	job.Spec.Kind = entity.ExportKind(kind)
	job.Spec.Filters = json.RawMessage(filters)
	job.Spec.Options = json.RawMessage(options)
	job.Status = entity.JobStatus(status)
	job.Retry.LastAttemptAt = parseTimePtr(lastAttemptAt)
	job.Retry.NextRetryAt = parseTimePtr(nextRetry)
	job.Metadata.StartTime = parseTimePtr(startTime)
	job.Metadata.EndTime = parseTimePtr(endTime)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)

	if err := json.Unmarshal([]byte(progressRaw), &job.Progress); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	if errRaw.Valid && errRaw.String != "" {
		job.Error = &entity.ExportError{}
		if err := json.Unmarshal([]byte(errRaw.String), job.Error); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
	}
	if resultRaw.Valid && resultRaw.String != "" {
		job.Result = &entity.Result{}
		if err := json.Unmarshal([]byte(resultRaw.String), job.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	return &job, nil
}
