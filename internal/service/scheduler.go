package service

import (
	"context"
	"log"
	"time"
)

// Scheduler is the recurrence runner: a ticker that fires due template
// schedules. The actual nextRun arithmetic lives in the template service.
type Scheduler struct {
	templates *TemplateService
	interval  time.Duration
}

func NewScheduler(templates *TemplateService, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{templates: templates, interval: interval}
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fired, err := s.templates.RunDue(ctx, time.Now())
			if err != nil {
				log.Printf("[scheduler] run_due_error=%v", err)
				continue
			}
			if fired > 0 {
				log.Printf("[scheduler] fired=%d", fired)
			}
		}
	}
}
