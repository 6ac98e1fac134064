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
)

type TemplateRepository struct {
	pool *pgxpool.Pool
}

func NewTemplateRepository(pool *pgxpool.Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool}
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
	scheduleRaw, err := json.Marshal(t.Schedule)
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

	q := `
INSERT INTO export_templates (id, owner_id, name, description, kind, format, filters, options, schedule, sharing)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + templateColumns + `;`

	row := r.pool.QueryRow(ctx, q,
		uuid.New(), t.Owner, t.Name, t.Description,
		string(t.Spec.Kind), t.Spec.Format, []byte(t.Spec.Filters), []byte(t.Spec.Options),
		scheduleRaw, sharingRaw,
	)
	return scanTemplate(row)
}

func (r *TemplateRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Template, error) {
	q := `SELECT ` + templateColumns + ` FROM export_templates WHERE id = $1;`
	t, err := scanTemplate(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListForOwner returns templates owned by the user plus those shared with
// them, most used first.
func (r *TemplateRepository) ListForOwner(ctx context.Context, owner string) ([]entity.Template, error) {
	q := `
SELECT ` + templateColumns + `
FROM export_templates
WHERE owner_id = $1
   OR EXISTS (SELECT 1 FROM jsonb_array_elements(sharing) g WHERE g->>'granteeId' = $1)
ORDER BY times_used DESC, created_at DESC;`

	rows, err := r.pool.Query(ctx, q, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

func (r *TemplateRepository) UpdateSchedule(ctx context.Context, id uuid.UUID, s entity.Schedule) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	const q = `UPDATE export_templates SET schedule = $2, updated_at = now() WHERE id = $1;`
	tag, err := r.pool.Exec(ctx, q, id, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TemplateRepository) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	const q = `
UPDATE export_templates
SET times_used = times_used + 1, last_used = now(), updated_at = now()
WHERE id = $1;`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDue returns enabled schedules whose nextRun is at or before now.
func (r *TemplateRepository) ListDue(ctx context.Context, now time.Time) ([]entity.Template, error) {
	q := `
SELECT ` + templateColumns + `
FROM export_templates
WHERE (schedule->>'enabled')::bool
  AND schedule->>'nextRun' IS NOT NULL
  AND (schedule->>'nextRun')::timestamptz <= $1;`

	rows, err := r.pool.Query(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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
		t           entity.Template
		kind        string
		filters     []byte
		options     []byte
		scheduleRaw []byte
		sharingRaw  []byte
		lastUsed    *time.Time
	)

	if err := row.Scan(
		&t.ID,
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
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	t.Spec.Kind = entity.ExportKind(kind)
	t.Spec.Filters = json.RawMessage(filters)
	t.Spec.Options = json.RawMessage(options)
	t.Stats.LastUsed = lastUsed

	if len(scheduleRaw) > 0 {
		if err := json.Unmarshal(scheduleRaw, &t.Schedule); err != nil {
			return nil, fmt.Errorf("decode schedule: %w", err)
		}
	}
	if len(sharingRaw) > 0 {
		if err := json.Unmarshal(sharingRaw, &t.Sharing); err != nil {
			return nil, fmt.Errorf("decode sharing: %w", err)
		}
	}
	return &t, nil
}
