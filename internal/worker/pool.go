package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"export-worker-service/internal/service"
)

type Pool struct {
	queue      service.Queue
	processor  *Processor
	workers    int
	claimDelay time.Duration
}

func NewPool(queue service.Queue, processor *Processor, workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		workers:    workers,
		claimDelay: 5 * time.Second,
	}
}

func (p *Pool) Run(ctx context.Context) {
	log.Printf("[worker] pool started workers=%d", p.workers)

	jobCh := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for jobID := range jobCh {
				if err := p.processor.Process(ctx, jobID); err != nil {
					log.Printf("[worker-%d] job_id=%s process_error=%v", n, jobID, err)
				}

				// Ack regardless of outcome: the store holds the job's real
				// state. If Process died before persisting anything, the
				// reaper re-presents the id later.
				if ackErr := p.queue.Ack(ctx, jobID); ackErr != nil {
					log.Printf("[worker-%d] job_id=%s ack_error=%v", n, jobID, ackErr)
				}
			}
		}(i + 1)
	}

	// Listener: blocking claim from ready -> processing, fan out to workers.
	for {
		select {
		case <-ctx.Done():
			close(jobCh)
			wg.Wait()
			log.Println("[worker] pool stopped")
			return
		default:
			jobID, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
			if err != nil {
				// timeout, redis.Nil or ctx cancel; not fatal
				continue
			}
			select {
			case jobCh <- jobID:
			case <-ctx.Done():
				close(jobCh)
				wg.Wait()
				return
			}
		}
	}
}
