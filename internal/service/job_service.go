package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"export-worker-service/internal/entity"
	"export-worker-service/internal/repository"
)

// Store port (implementations: postgresql.JobRepository, sqlitestore.JobRepository)
type JobStore interface {
	Create(ctx context.Context, owner string, templateID *uuid.UUID, spec entity.ExportSpec, maxAttempts int) (*entity.Job, error)
	GetForOwner(ctx context.Context, id uuid.UUID, owner string) (*entity.Job, error)
	ResetForRetry(ctx context.Context, id uuid.UUID, owner string) error
	Cancel(ctx context.Context, id uuid.UUID, owner string) error
	IncrementDownloadCount(ctx context.Context, id uuid.UUID, owner string) error
	ListForOwner(ctx context.Context, owner string, f entity.HistoryFilter) ([]entity.Job, error)
}

// Small queue port: the service only ever adds ready work.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
}

var (
	ErrKindRequired   = errors.New("a valid export kind is required")
	ErrFormatRequired = errors.New("format is required")
	ErrOwnerRequired  = errors.New("owner is required")
	ErrNotRetryable   = errors.New("can only retry failed exports")
)

type JobService struct {
	repo  JobStore
	queue JobQueue
}

func NewJobService(repo JobStore, queue JobQueue) *JobService {
	return &JobService{repo: repo, queue: queue}
}

type CreateJobRequest struct {
	Owner       string
	TemplateID  *uuid.UUID
	Spec        entity.ExportSpec
	MaxAttempts int
}

func (s *JobService) CreateJob(ctx context.Context, req CreateJobRequest) (*entity.Job, error) {
	if req.Owner == "" {
		return nil, ErrOwnerRequired
	}
	if !entity.ValidKind(req.Spec.Kind) {
		return nil, ErrKindRequired
	}
	if req.Spec.Format == "" {
		return nil, ErrFormatRequired
	}

	job, err := s.repo.Create(ctx, req.Owner, req.TemplateID, req.Spec, req.MaxAttempts)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, job.ID.String()); err != nil {
		return nil, err
	}
	return job, nil
}

// StatusResponse is the caller-facing view of a job. The raw technical detail
// stays out of it; callers get the classified user message plus a canRetry
// hint.
type StatusResponse struct {
	ID       uuid.UUID        `json:"id"`
	Status   entity.JobStatus `json:"status"`
	Progress entity.Progress  `json:"progress"`
	Error    *StatusError     `json:"error,omitempty"`
	Result   *entity.Result   `json:"result,omitempty"`
	Retry    entity.Retry     `json:"retry"`
}

type StatusError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	CanRetry bool   `json:"canRetry"`
}

func (s *JobService) GetJobStatus(ctx context.Context, id uuid.UUID, owner string, countDownload bool) (*StatusResponse, error) {
	job, err := s.repo.GetForOwner(ctx, id, owner)
	if err != nil {
		return nil, err
	}

	resp := &StatusResponse{
		ID:       job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Result:   job.Result,
		Retry:    job.Retry,
	}
	if job.Error != nil {
		resp.Error = &StatusError{
			Code:     job.Error.Code,
			Message:  job.Error.UserMessage,
			CanRetry: job.CanRetry(),
		}
	}

	if countDownload && job.Status == entity.StatusCompleted && job.Result != nil {
		if err := s.repo.IncrementDownloadCount(ctx, id, owner); err == nil {
			resp.Result.DownloadCount++
		}
	}
	return resp, nil
}

// RetryJob is the manual reset: only terminal failed jobs are eligible, the
// attempt counter and error are cleared, and the job re-enters the queue.
func (s *JobService) RetryJob(ctx context.Context, id uuid.UUID, owner string) error {
	if err := s.repo.ResetForRetry(ctx, id, owner); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return ErrNotRetryable
		}
		return err
	}
	return s.queue.Enqueue(ctx, id.String())
}

// CancelJob marks a pending or processing job cancelled. Cancellation is
// cooperative: a running producer is not killed, its result is discarded.
func (s *JobService) CancelJob(ctx context.Context, id uuid.UUID, owner string) error {
	return s.repo.Cancel(ctx, id, owner)
}

const defaultHistoryLimit = 50

func (s *JobService) History(ctx context.Context, owner string, f entity.HistoryFilter) ([]entity.Job, error) {
	if f.Limit <= 0 {
		f.Limit = defaultHistoryLimit
	}
	return s.repo.ListForOwner(ctx, owner, f)
}

// Analytics is a read-only aggregation over stored jobs; there is no separate
// write path for it.
type Analytics struct {
	Total       int            `json:"total"`
	ByStatus    map[string]int `json:"byStatus"`
	ByKind      map[string]int `json:"byKind"`
	ByFormat    map[string]int `json:"byFormat"`
	SuccessRate int            `json:"successRate"`
	RetryRate   int            `json:"retryRate"`
	TotalSize   int64          `json:"totalSize"`
	AverageSize int64          `json:"averageSize"`
}

func (s *JobService) GetAnalytics(ctx context.Context, owner, period string) (*Analytics, error) {
	from := periodStart(period, time.Now())
	jobs, err := s.repo.ListForOwner(ctx, owner, entity.HistoryFilter{From: &from})
	if err != nil {
		return nil, err
	}
	return BuildAnalytics(jobs), nil
}

// periodStart maps a period name onto its window start; month is the default.
func periodStart(period string, now time.Time) time.Time {
	switch period {
	case "week":
		return now.AddDate(0, 0, -7)
	case "quarter":
		q := (int(now.Month()) - 1) / 3
		return time.Date(now.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, now.Location())
	case "year":
		return time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
	default:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	}
}

// BuildAnalytics aggregates job records. Pure; derivable entirely from stored
// fields.
func BuildAnalytics(jobs []entity.Job) *Analytics {
	a := &Analytics{
		ByStatus: map[string]int{},
		ByKind:   map[string]int{},
		ByFormat: map[string]int{},
	}
	a.Total = len(jobs)

	var completed, retried int
	var completedWithSize int64
	for i := range jobs {
		j := &jobs[i]
		a.ByStatus[string(j.Status)]++
		a.ByKind[string(j.Spec.Kind)]++
		a.ByFormat[j.Spec.Format]++

		if j.Status == entity.StatusCompleted {
			completed++
			if j.Result != nil && j.Result.SizeBytes > 0 {
				a.TotalSize += j.Result.SizeBytes
				completedWithSize++
			}
		}
		if j.Retry.Attempts > 0 {
			retried++
		}
	}

	if a.Total > 0 {
		a.SuccessRate = roundPct(completed, a.Total)
		a.RetryRate = roundPct(retried, a.Total)
	}
	if completedWithSize > 0 {
		a.AverageSize = a.TotalSize / completedWithSize
	}
	return a
}

func roundPct(part, total int) int {
	return int(float64(part)/float64(total)*100 + 0.5)
}
