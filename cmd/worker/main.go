package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"export-worker-service/internal/config"
	"export-worker-service/internal/repository/postgresql"
	"export-worker-service/internal/repository/sqlitestore"
	"export-worker-service/internal/retry"
	"export-worker-service/internal/service"
	"export-worker-service/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	var (
		jobs      service.JobStore
		templates service.TemplateStore
		counts    service.TemplateJobCounter
		execStore worker.JobStore
	)
	switch cfg.DBDriver {
	case "sqlite":
		db, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("sqlite: %v", err)
		}
		defer db.Close()
		repo := sqlitestore.NewJobRepository(db)
		jobs, counts, execStore = repo, repo, repo
		templates = sqlitestore.NewTemplateRepository(db)
	default:
		pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("pg: %v", err)
		}
		defer pool.Close()
		if err := postgresql.EnsureSchema(ctx, pool); err != nil {
			log.Fatalf("pg schema: %v", err)
		}
		repo := postgresql.NewJobRepository(pool)
		jobs, counts, execStore = repo, repo, repo
		templates = postgresql.NewTemplateRepository(pool)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis: %v", err)
	}

	queue := service.NewRedisExportQueue(rdb, service.Keys{
		ReadyKey:      cfg.ReadyKey,
		ProcessingKey: cfg.ProcessingKey,
		DelayedKey:    cfg.DelayedKey,
	})
	notifier := service.NewRedisNotifier(rdb, cfg.NotifyChannel)

	jobSvc := service.NewJobService(jobs, queue)
	tplSvc := service.NewTemplateService(templates, jobSvc, counts)

	processor := worker.NewProcessor(execStore, queue, notifier, worker.DefaultRegistry(), retry.DefaultPolicy())
	poolWorkers := worker.NewPool(queue, processor, cfg.Workers)
	scheduler := service.NewScheduler(tplSvc, time.Minute)

	log.Printf("[worker] config workers=%d db_driver=%s redis_addr=%s ready_key=%s dsn=%s",
		cfg.Workers, cfg.DBDriver, cfg.RedisAddr, cfg.ReadyKey, config.RedactDSN(cfg.PostgresDSN))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		poolWorkers.Run(ctx)
		return nil
	})

	// Promoter: moves due retries from the delayed set to the ready list.
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := queue.PromoteDue(ctx, time.Now(), 100); err != nil {
					log.Printf("[worker] promote_error=%v", err)
				}
			}
		}
	})

	// Reaper: re-presents ids stranded in processing by a crashed worker.
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				n, err := queue.RequeueStale(ctx, 100)
				if err != nil {
					log.Printf("[worker] requeue_error=%v", err)
					continue
				}
				if n > 0 {
					log.Printf("[worker] requeued=%d", n)
				}
			}
		}
	})

	g.Go(func() error {
		scheduler.Run(ctx)
		return nil
	})

	_ = g.Wait()
	log.Println("worker stopped")
}
