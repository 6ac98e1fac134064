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

type TemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateColumns = `id, owner_id, name, description, kind, format, filters, options,
schedule, sharing, times_used, last_used, created_at, updated_at`

func (r *TemplateRepository) Create(ctx context.Context, t *entity.Template) (*entity.Template, error) {
	if len(t.Spec.Filters) == 0 {
		t.Spec.Filters = json.RawMessage(`{}`)
	}
	if len(t.Spec.Options) == 0 {
		t.Spec.Options = json.RawMessage(`{}`)
	}
	scheduleRaw, err := json.Marshal(normalizeSchedule(t.Schedule))
	if err != nil {
		return nil, err
	}
	sharing := t.Sharing
	if sharing == nil {
		sharing = []entity.Grant{}
	}
	sharingRaw, err := json.Marshal(sharing)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	now := fmtTime(time.Now())

	const q = `
INSERT INTO export_templates (id, owner_id, name, description, kind, format, filters, options, schedule, sharing, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	if _, err := r.db.ExecContext(ctx, q,
		id.String(), t.Owner, t.Name, t.Description,
		string(t.Spec.Kind), t.Spec.Format, string(t.Spec.Filters), string(t.Spec.Options),
		string(scheduleRaw), string(sharingRaw), now, now,
	); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *TemplateRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Template, error) {
	q := `SELECT ` + templateColumns + ` FROM export_templates WHERE id = ?;`
	t, err := scanTemplate(r.db.QueryRowContext(ctx, q, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return t, err
}

func (r *TemplateRepository) ListForOwner(ctx context.Context, owner string) ([]entity.Template, error) {
	// Grants live in a JSON array; EXISTS over json_each mirrors the
	// jsonb_array_elements query of the Postgres driver.
	q := `
SELECT ` + templateColumns + `
FROM export_templates
WHERE owner_id = ?
   OR EXISTS (SELECT 1 FROM json_each(sharing) WHERE json_extract(value, '$.granteeId') = ?)
ORDER BY times_used DESC, created_at DESC;`

	rows, err := r.db.QueryContext(ctx, q, owner, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTemplates(rows)
}

func (r *TemplateRepository) UpdateSchedule(ctx context.Context, id uuid.UUID, s entity.Schedule) error {
	raw, err := json.Marshal(normalizeSchedule(s))
	if err != nil {
		return err
	}
	const q = `UPDATE export_templates SET schedule = ?, updated_at = ? WHERE id = ?;`
	res, err := r.db.ExecContext(ctx, q, string(raw), fmtTime(time.Now()), id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *TemplateRepository) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	const q = `
UPDATE export_templates
SET times_used = times_used + 1, last_used = ?, updated_at = ?
WHERE id = ?;`
	now := fmtTime(time.Now())
	res, err := r.db.ExecContext(ctx, q, now, now, id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListDue compares the JSON-embedded nextRun as a string, which is only
// sound because normalizeSchedule pins it to UTC second precision on every
// write; the bound here uses the same shape.
func (r *TemplateRepository) ListDue(ctx context.Context, now time.Time) ([]entity.Template, error) {
	q := `
SELECT ` + templateColumns + `
FROM export_templates
WHERE json_extract(schedule, '$.enabled')
  AND json_extract(schedule, '$.nextRun') IS NOT NULL
  AND json_extract(schedule, '$.nextRun') <= ?;`

	rows, err := r.db.QueryContext(ctx, q, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTemplates(rows)
}

// normalizeSchedule pins NextRun to UTC at second precision. The marshaled
// time otherwise carries its zone offset, and a lexicographic comparison of
// offset timestamps against a UTC bound fires non-UTC schedules hours off.
func normalizeSchedule(s entity.Schedule) entity.Schedule {
	if s.NextRun != nil {
		u := s.NextRun.UTC().Truncate(time.Second)
		s.NextRun = &u
	}
	return s
}

func collectTemplates(rows *sql.Rows) ([]entity.Template, error) {
	var out []entity.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTemplate(row rowScanner) (*entity.Template, error) {
	var (
		t                    entity.Template
		idStr, kind          string
		filters, options     string
		scheduleRaw          string
		sharingRaw           string
		lastUsed             sql.NullString
		createdAt, updatedAt string
	)

	if err := row.Scan(
		&idStr,
		&t.Owner,
		&t.Name,
		&t.Description,
		&kind,
		&t.Spec.Format,
		&filters,
		&options,
		&scheduleRaw,
		&sharingRaw,
		&t.Stats.TimesUsed,
		&lastUsed,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse template id: %w", err)
	}
	t.ID = id
	t.Spec.Kind = entity.ExportKind(kind)
	t.Spec.Filters = json.RawMessage(filters)
	t.Spec.Options = json.RawMessage(options)
	t.Stats.LastUsed = parseTimePtr(lastUsed)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)

	if err := json.Unmarshal([]byte(scheduleRaw), &t.Schedule); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	if err := json.Unmarshal([]byte(sharingRaw), &t.Sharing); err != nil {
		return nil, fmt.Errorf("decode sharing: %w", err)
	}
	return &t, nil
}
