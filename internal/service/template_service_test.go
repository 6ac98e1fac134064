package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"export-worker-service/internal/entity"
	"export-worker-service/internal/repository"
	"export-worker-service/internal/service"
)

type fakeTemplateStore struct {
	templates map[uuid.UUID]*entity.Template

	usageBumps    int
	lastSchedule  entity.Schedule
	scheduleCalls int
	due           []entity.Template
}

func (r *fakeTemplateStore) Create(ctx context.Context, t *entity.Template) (*entity.Template, error) {
	t.ID = uuid.New()
	if r.templates == nil {
		r.templates = map[uuid.UUID]*entity.Template{}
	}
	r.templates[t.ID] = t
	return t, nil
}

func (r *fakeTemplateStore) GetByID(ctx context.Context, id uuid.UUID) (*entity.Template, error) {
	t, ok := r.templates[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTemplateStore) ListForOwner(ctx context.Context, owner string) ([]entity.Template, error) {
	var out []entity.Template
	for _, t := range r.templates {
		if t.Owner == owner {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *fakeTemplateStore) UpdateSchedule(ctx context.Context, id uuid.UUID, s entity.Schedule) error {
	r.scheduleCalls++
	r.lastSchedule = s
	if t, ok := r.templates[id]; ok {
		t.Schedule = s
	}
	return nil
}

func (r *fakeTemplateStore) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	r.usageBumps++
	return nil
}

func (r *fakeTemplateStore) ListDue(ctx context.Context, now time.Time) ([]entity.Template, error) {
	return r.due, nil
}

type fakeCounter struct {
	completed, total int
}

func (c *fakeCounter) CountByTemplate(ctx context.Context, templateID uuid.UUID) (int, int, error) {
	return c.completed, c.total, nil
}

func newTemplateFixture(store *fakeTemplateStore) (*service.TemplateService, *fakeJobStore, *fakeQueue) {
	jobRepo := &fakeJobStore{created: &entity.Job{ID: uuid.New(), Status: entity.StatusPending}}
	queue := &fakeQueue{}
	jobSvc := service.NewJobService(jobRepo, queue)
	return service.NewTemplateService(store, jobSvc, &fakeCounter{}), jobRepo, queue
}

func seedTemplate(store *fakeTemplateStore, owner string, sharing []entity.Grant) uuid.UUID {
	id := uuid.New()
	if store.templates == nil {
		store.templates = map[uuid.UUID]*entity.Template{}
	}
	store.templates[id] = &entity.Template{
		ID:    id,
		Owner: owner,
		Name:  "weekly content",
		Spec: entity.ExportSpec{
			Kind:    entity.KindContent,
			Format:  "csv",
			Filters: json.RawMessage(`{"status":"published","month":"june"}`),
		},
		Sharing: sharing,
	}
	return id
}

func TestUseTemplate_MergesOverrides(t *testing.T) {
	ctx := context.Background()
	store := &fakeTemplateStore{}
	id := seedTemplate(store, "user-1", nil)
	svc, jobRepo, queue := newTemplateFixture(store)

	_, err := svc.UseTemplate(ctx, id, "user-1", service.SpecOverrides{
		Format:  "pdf",
		Filters: json.RawMessage(`{"month":"july"}`),
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if jobRepo.lastSpec.Format != "pdf" {
		t.Fatalf("expected format override, got %s", jobRepo.lastSpec.Format)
	}
	if jobRepo.lastSpec.Kind != entity.KindContent {
		t.Fatalf("expected kind from template, got %s", jobRepo.lastSpec.Kind)
	}

	var filters map[string]string
	if err := json.Unmarshal(jobRepo.lastSpec.Filters, &filters); err != nil {
		t.Fatalf("invalid merged filters: %v", err)
	}
	if filters["month"] != "july" {
		t.Fatalf("expected overridden month=july, got %s", filters["month"])
	}
	if filters["status"] != "published" {
		t.Fatalf("expected template key status preserved, got %s", filters["status"])
	}

	if len(queue.enqueued) != 1 {
		t.Fatalf("expected the job enqueued, got %#v", queue.enqueued)
	}
	if store.usageBumps != 1 {
		t.Fatalf("expected usage bump, got %d", store.usageBumps)
	}
}

func TestUseTemplate_Permissions(t *testing.T) {
	ctx := context.Background()
	store := &fakeTemplateStore{}
	id := seedTemplate(store, "user-1", []entity.Grant{
		{GranteeID: "viewer", Permission: entity.PermissionView},
		{GranteeID: "collab", Permission: entity.PermissionUse},
	})
	svc, _, _ := newTemplateFixture(store)

	if _, err := svc.UseTemplate(ctx, id, "collab", service.SpecOverrides{}); err != nil {
		t.Fatalf("use grant should allow: %v", err)
	}
	if _, err := svc.UseTemplate(ctx, id, "viewer", service.SpecOverrides{}); err != service.ErrNoPermission {
		t.Fatalf("view grant should not allow, got %v", err)
	}
	if _, err := svc.UseTemplate(ctx, id, "stranger", service.SpecOverrides{}); err != service.ErrNoPermission {
		t.Fatalf("stranger should not be allowed, got %v", err)
	}
}

func TestScheduleTemplate_ComputesNextRun(t *testing.T) {
	ctx := context.Background()
	store := &fakeTemplateStore{}
	id := seedTemplate(store, "user-1", []entity.Grant{
		{GranteeID: "collab", Permission: entity.PermissionUse},
	})
	svc, _, _ := newTemplateFixture(store)

	tpl, err := svc.ScheduleTemplate(ctx, id, "user-1", entity.Schedule{
		Frequency: entity.FrequencyDaily,
		Time:      "09:00",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !tpl.Schedule.Enabled {
		t.Fatal("expected schedule enabled")
	}
	if tpl.Schedule.NextRun == nil || !tpl.Schedule.NextRun.After(time.Now()) {
		t.Fatalf("expected a future nextRun, got %v", tpl.Schedule.NextRun)
	}
	if tpl.Schedule.Timezone != "UTC" {
		t.Fatalf("expected default timezone UTC, got %s", tpl.Schedule.Timezone)
	}

	// a use grant is not enough to edit the schedule
	if _, err := svc.ScheduleTemplate(ctx, id, "collab", entity.Schedule{
		Frequency: entity.FrequencyDaily,
		Time:      "09:00",
	}); err != service.ErrNoPermission {
		t.Fatalf("expected ErrNoPermission, got %v", err)
	}
}

func TestRunDue_FiresAndReschedules(t *testing.T) {
	ctx := context.Background()
	store := &fakeTemplateStore{}
	id := seedTemplate(store, "user-1", nil)

	past := time.Now().Add(-time.Minute)
	tpl := store.templates[id]
	tpl.Schedule = entity.Schedule{
		Enabled:   true,
		Frequency: entity.FrequencyDaily,
		Time:      "09:00",
		Timezone:  "UTC",
		NextRun:   &past,
	}
	store.due = []entity.Template{*tpl}

	svc, _, queue := newTemplateFixture(store)

	fired, err := svc.RunDue(ctx, time.Now())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected 1 fired, got %d", fired)
	}
	if len(queue.enqueued) != 1 {
		t.Fatalf("expected the scheduled job enqueued, got %#v", queue.enqueued)
	}
	if store.lastSchedule.NextRun == nil || !store.lastSchedule.NextRun.After(time.Now().Add(-time.Second)) {
		t.Fatalf("expected nextRun advanced, got %v", store.lastSchedule.NextRun)
	}
}

func TestCreateTemplate_Validates(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTemplateFixture(&fakeTemplateStore{})

	if _, err := svc.CreateTemplate(ctx, service.CreateTemplateRequest{
		Owner: "user-1",
		Spec:  entity.ExportSpec{Kind: entity.KindContent, Format: "csv"},
	}); err != service.ErrNameRequired {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}

	tpl, err := svc.CreateTemplate(ctx, service.CreateTemplateRequest{
		Owner: "user-1",
		Name:  "monthly report",
		Spec:  entity.ExportSpec{Kind: entity.KindReports, Format: "pdf"},
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if tpl.Schedule.Enabled {
		t.Fatal("expected schedule disabled on a fresh template")
	}
}
