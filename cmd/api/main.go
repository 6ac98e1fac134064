package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"export-worker-service/internal/config"
	"export-worker-service/internal/repository/postgresql"
	"export-worker-service/internal/repository/sqlitestore"
	"export-worker-service/internal/service"
	httptransport "export-worker-service/internal/transport/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	var (
		jobs      service.JobStore
		templates service.TemplateStore
		counts    service.TemplateJobCounter
	)
	switch cfg.DBDriver {
	case "sqlite":
		db, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("sqlite: %v", err)
		}
		defer db.Close()
		jobRepo := sqlitestore.NewJobRepository(db)
		jobs, counts = jobRepo, jobRepo
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
		jobRepo := postgresql.NewJobRepository(pool)
		jobs, counts = jobRepo, jobRepo
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

	jobSvc := service.NewJobService(jobs, queue)
	tplSvc := service.NewTemplateService(templates, jobSvc, counts)
	handler := httptransport.NewHandler(jobSvc, tplSvc)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.Routes(handler),
	}

	go func() {
		log.Printf("[api] listening port=%s db_driver=%s", cfg.Port, cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[api] shutdown_error=%v", err)
	}
	log.Println("api stopped")
}
