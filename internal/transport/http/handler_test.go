package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"export-worker-service/internal/entity"
	"export-worker-service/internal/repository"
	"export-worker-service/internal/service"
	httptransport "export-worker-service/internal/transport/http"
)

// ---- fakes ----

type stubJobStore struct {
	createID   uuid.UUID
	jobs       map[uuid.UUID]*entity.Job
	resetErr   error
	lastFilter entity.HistoryFilter
}

func (r *stubJobStore) Create(ctx context.Context, owner string, templateID *uuid.UUID, spec entity.ExportSpec, maxAttempts int) (*entity.Job, error) {
	if maxAttempts <= 0 {
		maxAttempts = entity.DefaultMaxAttempts
	}
	j := &entity.Job{
		ID:     r.createID,
		Owner:  owner,
		Spec:   spec,
		Status: entity.StatusPending,
		Retry:  entity.Retry{MaxAttempts: maxAttempts, BackoffMultiplier: entity.DefaultBackoffMultiplier},
	}
	if r.jobs == nil {
		r.jobs = map[uuid.UUID]*entity.Job{}
	}
	r.jobs[j.ID] = j
	return j, nil
}

func (r *stubJobStore) GetForOwner(ctx context.Context, id uuid.UUID, owner string) (*entity.Job, error) {
	j, ok := r.jobs[id]
	if !ok || j.Owner != owner {
		return nil, repository.ErrNotFound
	}
	return j, nil
}

func (r *stubJobStore) ResetForRetry(ctx context.Context, id uuid.UUID, owner string) error {
	return r.resetErr
}

func (r *stubJobStore) Cancel(ctx context.Context, id uuid.UUID, owner string) error {
	j, ok := r.jobs[id]
	if !ok || j.Owner != owner {
		return repository.ErrNotFound
	}
	if !entity.CanTransition(j.Status, entity.StatusCancelled) {
		return repository.ErrInvalidTransition
	}
	j.Status = entity.StatusCancelled
	return nil
}

func (r *stubJobStore) IncrementDownloadCount(ctx context.Context, id uuid.UUID, owner string) error {
	return nil
}

func (r *stubJobStore) ListForOwner(ctx context.Context, owner string, f entity.HistoryFilter) ([]entity.Job, error) {
	r.lastFilter = f
	var out []entity.Job
	for _, j := range r.jobs {
		if j.Owner == owner {
			out = append(out, *j)
		}
	}
	return out, nil
}

type stubQueue struct {
	enqueued []string
}

func (q *stubQueue) Enqueue(ctx context.Context, jobID string) error {
	q.enqueued = append(q.enqueued, jobID)
	return nil
}

type stubTemplateStore struct{}

func (stubTemplateStore) Create(ctx context.Context, t *entity.Template) (*entity.Template, error) {
	t.ID = uuid.New()
	return t, nil
}
func (stubTemplateStore) GetByID(ctx context.Context, id uuid.UUID) (*entity.Template, error) {
	return nil, repository.ErrNotFound
}
func (stubTemplateStore) ListForOwner(ctx context.Context, owner string) ([]entity.Template, error) {
	return nil, nil
}
func (stubTemplateStore) UpdateSchedule(ctx context.Context, id uuid.UUID, s entity.Schedule) error {
	return nil
}
func (stubTemplateStore) IncrementUsage(ctx context.Context, id uuid.UUID) error { return nil }
func (stubTemplateStore) ListDue(ctx context.Context, now time.Time) ([]entity.Template, error) {
	return nil, nil
}

type stubCounter struct{}

func (stubCounter) CountByTemplate(ctx context.Context, templateID uuid.UUID) (int, int, error) {
	return 0, 0, nil
}

// ---- helpers ----

func newTestRouter(repo *stubJobStore, queue *stubQueue) http.Handler {
	jobSvc := service.NewJobService(repo, queue)
	tplSvc := service.NewTemplateService(stubTemplateStore{}, jobSvc, stubCounter{})
	h := httptransport.NewHandler(jobSvc, tplSvc)
	return httptransport.Routes(h)
}

func doReq(router http.Handler, method, path, owner, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if owner != "" {
		req.Header.Set("X-User-ID", owner)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

// ---- tests ----

func TestHTTP_CreateExport_201(t *testing.T) {
	id := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	repo := &stubJobStore{createID: id}
	queue := &stubQueue{}
	router := newTestRouter(repo, queue)

	body := `{"kind":"content","format":"csv","filters":{"status":"published"}}`
	rr := doReq(router, http.MethodPost, "/exports", "user-1", body)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d, body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json response: %v, body=%s", err, rr.Body.String())
	}
	if resp.ID != id.String() || resp.Status != "pending" {
		t.Fatalf("expected id=%s status=pending, got %+v", id, resp)
	}
	if len(queue.enqueued) != 1 || queue.enqueued[0] != id.String() {
		t.Fatalf("expected enqueue of %s, got %#v", id, queue.enqueued)
	}
}

func TestHTTP_CreateExport_400_OnBadKind(t *testing.T) {
	router := newTestRouter(&stubJobStore{createID: uuid.New()}, &stubQueue{})

	rr := doReq(router, http.MethodPost, "/exports", "user-1", `{"kind":"pictures","format":"csv"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestHTTP_401_WithoutUserHeader(t *testing.T) {
	router := newTestRouter(&stubJobStore{createID: uuid.New()}, &stubQueue{})

	rr := doReq(router, http.MethodPost, "/exports", "", `{"kind":"content","format":"csv"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestHTTP_GetExport_404_ForForeignJob(t *testing.T) {
	id := uuid.MustParse("44444444-4444-4444-4444-444444444444")
	repo := &stubJobStore{
		createID: id,
		jobs: map[uuid.UUID]*entity.Job{
			id: {ID: id, Owner: "someone-else", Status: entity.StatusCompleted},
		},
	}
	router := newTestRouter(repo, &stubQueue{})

	rr := doReq(router, http.MethodGet, "/exports/"+id.String(), "user-1", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestHTTP_GetExport_200_WithErrorView(t *testing.T) {
	id := uuid.MustParse("55555555-5555-5555-5555-555555555555")
	repo := &stubJobStore{
		createID: id,
		jobs: map[uuid.UUID]*entity.Job{
			id: {
				ID: id, Owner: "user-1", Status: entity.StatusFailed,
				Retry: entity.Retry{Attempts: 1, MaxAttempts: 3},
				Error: &entity.ExportError{
					Code:            "NETWORK_ERROR",
					UserMessage:     "Network error occurred. Please check your connection and try again.",
					TechnicalDetail: "dial tcp: i/o timeout",
				},
			},
		},
	}
	router := newTestRouter(repo, &stubQueue{})

	rr := doReq(router, http.MethodGet, "/exports/"+id.String(), "user-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}

	var got map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v, body=%s", err, rr.Body.String())
	}
	errView, ok := got["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error view, body=%s", rr.Body.String())
	}
	if errView["code"] != "NETWORK_ERROR" || errView["canRetry"] != true {
		t.Fatalf("bad error view: %#v", errView)
	}
	// the raw technical detail never reaches the client
	if _, leaked := errView["technicalDetail"]; leaked {
		t.Fatalf("technical detail leaked: %#v", errView)
	}
}

func TestHTTP_RetryExport_409_WhenNotFailed(t *testing.T) {
	id := uuid.MustParse("66666666-6666-6666-6666-666666666666")
	repo := &stubJobStore{createID: id, resetErr: repository.ErrInvalidTransition}
	router := newTestRouter(repo, &stubQueue{})

	rr := doReq(router, http.MethodPost, "/exports/"+id.String()+"/retry", "user-1", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestHTTP_CancelExport_200(t *testing.T) {
	id := uuid.MustParse("77777777-7777-7777-7777-777777777777")
	repo := &stubJobStore{
		createID: id,
		jobs: map[uuid.UUID]*entity.Job{
			id: {ID: id, Owner: "user-1", Status: entity.StatusPending},
		},
	}
	router := newTestRouter(repo, &stubQueue{})

	rr := doReq(router, http.MethodDelete, "/exports/"+id.String(), "user-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if repo.jobs[id].Status != entity.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", repo.jobs[id].Status)
	}

	// terminal state: a second cancel conflicts
	rr = doReq(router, http.MethodDelete, "/exports/"+id.String(), "user-1", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double cancel, got %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestHTTP_History_DateRange(t *testing.T) {
	id := uuid.MustParse("99999999-9999-9999-9999-999999999999")
	repo := &stubJobStore{
		createID: id,
		jobs: map[uuid.UUID]*entity.Job{
			id: {ID: id, Owner: "user-1", Status: entity.StatusCompleted},
		},
	}
	router := newTestRouter(repo, &stubQueue{})

	rr := doReq(router, http.MethodGet, "/exports?from=2025-06-01T00:00:00Z&to=2025-06-30T23:59:59Z", "user-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}

	wantFrom := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	wantTo := time.Date(2025, 6, 30, 23, 59, 59, 0, time.UTC)
	if repo.lastFilter.From == nil || !repo.lastFilter.From.Equal(wantFrom) {
		t.Fatalf("expected from=%v, got %v", wantFrom, repo.lastFilter.From)
	}
	if repo.lastFilter.To == nil || !repo.lastFilter.To.Equal(wantTo) {
		t.Fatalf("expected to=%v, got %v", wantTo, repo.lastFilter.To)
	}

	rr = doReq(router, http.MethodGet, "/exports?from=june", "user-1", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on malformed from, got %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestHTTP_Analytics_200(t *testing.T) {
	id := uuid.MustParse("88888888-8888-8888-8888-888888888888")
	repo := &stubJobStore{
		createID: id,
		jobs: map[uuid.UUID]*entity.Job{
			id: {ID: id, Owner: "user-1", Status: entity.StatusCompleted,
				Spec: entity.ExportSpec{Kind: entity.KindContent, Format: "csv"}},
		},
	}
	router := newTestRouter(repo, &stubQueue{})

	rr := doReq(router, http.MethodGet, "/exports/analytics?period=week", "user-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}

	var got map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v, body=%s", err, rr.Body.String())
	}
	if got["total"] != float64(1) {
		t.Fatalf("expected total=1, got %v", got["total"])
	}
}
