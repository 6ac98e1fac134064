package worker

import (
	"context"
	"fmt"
	"time"

	"export-worker-service/internal/entity"
)

// ProgressFunc reports unit counts and the current stage back to the executor.
type ProgressFunc func(total, completed int, stage string)

// Producer performs the actual export work for one spec kind. Implementations
// must be safe to re-invoke on retry.
type Producer interface {
	Produce(ctx context.Context, job *entity.Job, progress ProgressFunc) (*entity.Result, error)
}

type ProducerFunc func(ctx context.Context, job *entity.Job, progress ProgressFunc) (*entity.Result, error)

func (f ProducerFunc) Produce(ctx context.Context, job *entity.Job, progress ProgressFunc) (*entity.Result, error) {
	return f(ctx, job, progress)
}

type Registry map[entity.ExportKind]Producer

const resultTTL = 7 * 24 * time.Hour

// DefaultRegistry returns placeholder producers that stage an artifact
// reference per kind. The real generators plug in here.
func DefaultRegistry() Registry {
	return Registry{
		entity.KindContent:   ProducerFunc(stubProducer("content", "")),
		entity.KindAnalytics: ProducerFunc(stubProducer("analytics", "")),
		entity.KindReports:   ProducerFunc(stubProducer("reports", "")),
		entity.KindAssets:    ProducerFunc(stubProducer("assets", "zip")),
		entity.KindBulk:      ProducerFunc(stubProducer("bulk", "zip")),
	}
}

func stubProducer(label, fixedExt string) func(ctx context.Context, job *entity.Job, progress ProgressFunc) (*entity.Result, error) {
	return func(ctx context.Context, job *entity.Job, progress ProgressFunc) (*entity.Result, error) {
		ext := fixedExt
		if ext == "" {
			ext = job.Spec.Format
		}

		progress(3, 1, entity.StageProcessing)
		progress(3, 2, entity.StageFormatting)
		progress(3, 3, entity.StageUploading)

		now := time.Now()
		return &entity.Result{
			ArtifactRef: fmt.Sprintf("/exports/%s.%s", job.ID, ext),
			Name:        fmt.Sprintf("%s-export-%d.%s", label, now.Unix(), ext),
			ExpiresAt:   now.Add(resultTTL),
		}, nil
	}
}
