package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"export-worker-service/internal/entity"
)

// Template store port (implementations: postgresql.TemplateRepository,
// sqlitestore.TemplateRepository)
type TemplateStore interface {
	Create(ctx context.Context, t *entity.Template) (*entity.Template, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Template, error)
	ListForOwner(ctx context.Context, owner string) ([]entity.Template, error)
	UpdateSchedule(ctx context.Context, id uuid.UUID, s entity.Schedule) error
	IncrementUsage(ctx context.Context, id uuid.UUID) error
	ListDue(ctx context.Context, now time.Time) ([]entity.Template, error)
}

// TemplateJobCounter provides the per-template outcome counts behind
// stats.successRate.
type TemplateJobCounter interface {
	CountByTemplate(ctx context.Context, templateID uuid.UUID) (completed, total int, err error)
}

var (
	ErrNoPermission = errors.New("no permission to use this template")
	ErrNameRequired = errors.New("template name is required")
)

type TemplateService struct {
	repo   TemplateStore
	jobs   *JobService
	counts TemplateJobCounter
}

func NewTemplateService(repo TemplateStore, jobs *JobService, counts TemplateJobCounter) *TemplateService {
	return &TemplateService{repo: repo, jobs: jobs, counts: counts}
}

type CreateTemplateRequest struct {
	Owner       string
	Name        string
	Description string
	Spec        entity.ExportSpec
	Sharing     []entity.Grant
}

func (s *TemplateService) CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*entity.Template, error) {
	if req.Owner == "" {
		return nil, ErrOwnerRequired
	}
	if req.Name == "" {
		return nil, ErrNameRequired
	}
	if !entity.ValidKind(req.Spec.Kind) {
		return nil, ErrKindRequired
	}
	if req.Spec.Format == "" {
		return nil, ErrFormatRequired
	}

	return s.repo.Create(ctx, &entity.Template{
		Owner:       req.Owner,
		Name:        req.Name,
		Description: req.Description,
		Spec:        req.Spec,
		Schedule:    entity.Schedule{Enabled: false},
		Sharing:     req.Sharing,
	})
}

func (s *TemplateService) ListTemplates(ctx context.Context, owner string) ([]entity.Template, error) {
	templates, err := s.repo.ListForOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	for i := range templates {
		completed, total, err := s.counts.CountByTemplate(ctx, templates[i].ID)
		if err == nil && total > 0 {
			templates[i].Stats.SuccessRate = roundPct(completed, total)
		}
	}
	return templates, nil
}

// SpecOverrides are per-invocation spec tweaks; zero fields fall back to the
// template. Filters and Options merge key by key, they do not replace the
// whole object.
type SpecOverrides struct {
	Kind    entity.ExportKind `json:"kind,omitempty"`
	Format  string            `json:"format,omitempty"`
	Filters json.RawMessage   `json:"filters,omitempty"`
	Options json.RawMessage   `json:"options,omitempty"`
}

func (s *TemplateService) UseTemplate(ctx context.Context, templateID uuid.UUID, owner string, overrides SpecOverrides) (*entity.Job, error) {
	tpl, err := s.repo.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !canUse(tpl, owner) {
		return nil, ErrNoPermission
	}

	spec, err := mergeSpec(tpl.Spec, overrides)
	if err != nil {
		return nil, err
	}

	job, err := s.jobs.CreateJob(ctx, CreateJobRequest{
		Owner:      owner,
		TemplateID: &tpl.ID,
		Spec:       spec,
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.IncrementUsage(ctx, templateID); err != nil {
		log.Printf("[template] template_id=%s increment_usage_error=%v", templateID, err)
	}
	return job, nil
}

// ScheduleTemplate enables recurrence on a template and computes the first
// nextRun. Only the owner or an edit grantee may change the schedule.
func (s *TemplateService) ScheduleTemplate(ctx context.Context, templateID uuid.UUID, owner string, sched entity.Schedule) (*entity.Template, error) {
	tpl, err := s.repo.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !canEdit(tpl, owner) {
		return nil, ErrNoPermission
	}
	if sched.Timezone == "" {
		sched.Timezone = "UTC"
	}

	next, err := NextRun(sched, time.Now())
	if err != nil {
		return nil, err
	}
	sched.Enabled = true
	sched.NextRun = &next

	if err := s.repo.UpdateSchedule(ctx, templateID, sched); err != nil {
		return nil, err
	}
	tpl.Schedule = sched
	return tpl, nil
}

// RunDue fires every template whose schedule is due, then advances its
// nextRun to the following cycle. Called by the recurrence runner.
func (s *TemplateService) RunDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repo.ListDue(ctx, now)
	if err != nil {
		return 0, err
	}

	fired := 0
	for i := range due {
		tpl := &due[i]
		if _, err := s.UseTemplate(ctx, tpl.ID, tpl.Owner, SpecOverrides{}); err != nil {
			log.Printf("[scheduler] template_id=%s fire_error=%v", tpl.ID, err)
			continue
		}
		fired++

		next, err := NextRun(tpl.Schedule, now)
		if err != nil {
			log.Printf("[scheduler] template_id=%s next_run_error=%v", tpl.ID, err)
			continue
		}
		sched := tpl.Schedule
		sched.NextRun = &next
		if err := s.repo.UpdateSchedule(ctx, tpl.ID, sched); err != nil {
			log.Printf("[scheduler] template_id=%s reschedule_error=%v", tpl.ID, err)
		}
	}
	return fired, nil
}

func canUse(t *entity.Template, user string) bool {
	if t.Owner == user {
		return true
	}
	g, ok := t.GrantFor(user)
	return ok && (g.Permission == entity.PermissionUse || g.Permission == entity.PermissionEdit)
}

func canEdit(t *entity.Template, user string) bool {
	if t.Owner == user {
		return true
	}
	g, ok := t.GrantFor(user)
	return ok && g.Permission == entity.PermissionEdit
}

func mergeSpec(base entity.ExportSpec, o SpecOverrides) (entity.ExportSpec, error) {
	out := base
	if o.Kind != "" {
		out.Kind = o.Kind
	}
	if o.Format != "" {
		out.Format = o.Format
	}

	var err error
	if out.Filters, err = mergeJSON(base.Filters, o.Filters); err != nil {
		return out, err
	}
	if out.Options, err = mergeJSON(base.Options, o.Options); err != nil {
		return out, err
	}
	return out, nil
}

// mergeJSON overlays override keys onto base keys. Values stay opaque; only
// the top-level keys are touched.
func mergeJSON(base, override json.RawMessage) (json.RawMessage, error) {
	if len(override) == 0 {
		return base, nil
	}
	if len(base) == 0 {
		return override, nil
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	var over map[string]json.RawMessage
	if err := json.Unmarshal(override, &over); err != nil {
		return nil, err
	}
	for k, v := range over {
		merged[k] = v
	}
	return json.Marshal(merged)
}
