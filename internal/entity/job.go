package entity

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// CanTransition reports whether moving a job from one status to another is a
// legal edge. The failed->pending edge of a manual reset is handled separately
// because it also clears the retry counter and the error.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusCancelled
	case StatusProcessing:
		return to == StatusCompleted || to == StatusPending ||
			to == StatusFailed || to == StatusCancelled
	default:
		// completed, failed, cancelled are terminal
		return false
	}
}

type ExportKind string

const (
	KindContent   ExportKind = "content"
	KindAnalytics ExportKind = "analytics"
	KindReports   ExportKind = "reports"
	KindAssets    ExportKind = "assets"
	KindBulk      ExportKind = "bulk"
)

func ValidKind(k ExportKind) bool {
	switch k {
	case KindContent, KindAnalytics, KindReports, KindAssets, KindBulk:
		return true
	}
	return false
}

// ExportSpec is immutable once the job is created. Filters and Options are
// opaque payloads interpreted by the producer, never by the orchestration core.
type ExportSpec struct {
	Kind    ExportKind      `json:"kind"`
	Format  string          `json:"format"`
	Filters json.RawMessage `json:"filters,omitempty"`
	Options json.RawMessage `json:"options,omitempty"`
}

// Progress stages.
const (
	StagePreparing  = "preparing"
	StageProcessing = "processing"
	StageFormatting = "formatting"
	StageUploading  = "uploading"
)

type Progress struct {
	TotalUnits     int    `json:"totalUnits"`
	CompletedUnits int    `json:"completedUnits"`
	Percentage     int    `json:"percentage"`
	Stage          string `json:"stage"`
}

// SetUnits updates the unit counters and keeps Percentage consistent with them.
func (p *Progress) SetUnits(total, completed int) {
	p.TotalUnits = total
	p.CompletedUnits = completed
	if total > 0 {
		p.Percentage = int(math.Round(float64(completed) / float64(total) * 100))
	} else {
		p.Percentage = 0
	}
}

const (
	DefaultMaxAttempts       = 3
	DefaultBackoffMultiplier = 2.0
)

type Retry struct {
	Attempts          int        `json:"attempts"`
	MaxAttempts       int        `json:"maxAttempts"`
	BackoffMultiplier float64    `json:"backoffMultiplier"`
	LastAttemptAt     *time.Time `json:"lastAttemptAt,omitempty"`
	NextRetryAt       *time.Time `json:"nextRetryAt,omitempty"`
}

// ExportError is present only while the most recent attempt has failed.
type ExportError struct {
	Code            string    `json:"code"`
	Category        string    `json:"category"`
	Severity        string    `json:"severity"`
	Retryable       bool      `json:"retryable"`
	UserMessage     string    `json:"userMessage"`
	TechnicalDetail string    `json:"technicalDetail,omitempty"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// Result is present only when the job has completed.
type Result struct {
	ArtifactRef   string    `json:"artifactRef"`
	SizeBytes     int64     `json:"sizeBytes"`
	Name          string    `json:"name"`
	ExpiresAt     time.Time `json:"expiresAt"`
	DownloadCount int       `json:"downloadCount"`
}

// RunMetadata covers the most recent run only.
type RunMetadata struct {
	StartTime  *time.Time `json:"startTime,omitempty"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	DurationMs int64      `json:"durationMs"`
}

type Job struct {
	ID         uuid.UUID    `json:"id"`
	Owner      string       `json:"owner"`
	TemplateID *uuid.UUID   `json:"templateId,omitempty"`
	Spec       ExportSpec   `json:"spec"`
	Status     JobStatus    `json:"status"`
	Progress   Progress     `json:"progress"`
	Retry      Retry        `json:"retry"`
	Error      *ExportError `json:"error,omitempty"`
	Result     *Result      `json:"result,omitempty"`
	Metadata   RunMetadata  `json:"metadata"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// CanRetry reports whether another attempt is still allowed.
func (j *Job) CanRetry() bool {
	return j.Retry.Attempts < j.Retry.MaxAttempts
}

// HistoryFilter narrows history listings. A zero field means "any".
// Limit <= 0 means no limit.
type HistoryFilter struct {
	From   *time.Time
	To     *time.Time
	Status JobStatus
	Kind   ExportKind
	Format string
	Limit  int
}
