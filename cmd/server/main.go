// Package main implements the GoQueue HTTP API server.
// The server owns one in-process queue and exposes it over a REST API.
//
// API Endpoints:
//
//	POST /enqueue         - Schedules a new task
//	GET  /status          - Pending/active counters and pause flag
//	GET  /task?id=        - State of a queued or running task
//	GET  /tasks?queue=    - pending, active, completed_queue, dead_letter_queue, canceled_queue
//	POST /cancel?id=      - Cancels a pending or running task
//	POST /remove?id=      - Removes a pending task
//	POST /pause           - Stops dispatching
//	POST /resume          - Resumes dispatching
//	POST /clear           - Drops every pending task
//	GET  /result?id=      - Result of a completed task
//	POST /schedule        - Registers a cron job
//	GET  /stats           - Queue and history depths
//	GET  /metrics         - Prometheus metrics
//
// Request Format (POST /enqueue):
//
//	{
//	  "type": "email",
//	  "priority": "high",
//	  "payload": {
//	    "to": "user@example.com",
//	    "subject": "Hello"
//	  }
//	}
//
// Response Format:
//
//	Task enqueued: <task-id>
//
// Usage:
//
//	go run ./cmd/server -config config.yaml
//
// Without a config file the server listens on :8080 and records outcomes in Redis at
// 127.0.0.1:6379 when it is reachable.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/guido-cesarano/goqueue/pkg/config"
	"github.com/guido-cesarano/goqueue/pkg/jobs"
	"github.com/guido-cesarano/goqueue/pkg/logger"
	"github.com/guido-cesarano/goqueue/pkg/metrics"
	"github.com/guido-cesarano/goqueue/pkg/periodic"
	"github.com/guido-cesarano/goqueue/pkg/queue"
	"github.com/guido-cesarano/goqueue/pkg/store"
	"github.com/guido-cesarano/goqueue/pkg/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger.Configure(cfg.Log.Level, !cfg.IsProduction())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Log.Fatal().Err(err).Msg("Server failed")
	}
	logger.Log.Info().Msg("Server stopped")
}

// run wires the queue, its observers and the HTTP server, and blocks until ctx is done
// or the server fails.
func run(ctx context.Context, cfg *config.Config) error {
	q := queue.New(append(cfg.Queue.Options(), queue.WithLogger(logger.Component("queue")))...)

	collector := metrics.New(prometheus.DefaultRegisterer)
	defer collector.Attach(q)()

	st := connectStore(ctx, cfg.Redis)
	if st != nil {
		defer st.Close()
		defer st.Attach(q)()
	}

	registry := jobs.Defaults()
	sched := periodic.New(q, logger.Component("periodic"))
	if err := addSchedules(sched, registry, cfg.Schedules); err != nil {
		return err
	}
	sched.Start()

	if cfg.Server.APIKey == "" {
		logger.Log.Warn().Msg("API_KEY not set. Authentication disabled.")
	} else {
		logger.Log.Info().Msg("API Authentication enabled.")
	}

	a := &api{
		q:         q,
		store:     st,
		jobs:      registry,
		sched:     sched,
		rateLimit: cfg.RateLimit,
		metrics:   promhttp.Handler(),
		log:       logger.Component("server"),
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           setupRouter(a, cfg.Server.APIKey),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.Info().Str("addr", cfg.Server.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		<-sched.Stop().Done()
		q.Pause()
		drain(shutdownCtx, q)
		q.Destroy()
		return err
	})
	return g.Wait()
}

// connectStore returns nil when Redis is disabled or unreachable; the queue runs fine
// without it, only results and history are lost.
func connectStore(ctx context.Context, rc config.RedisConfig) *store.Store {
	if rc.Addr == "" {
		logger.Log.Warn().Msg("Redis not configured. Results and history disabled.")
		return nil
	}
	st := store.New(rc.Addr,
		store.WithResultTTL(rc.ResultTTL),
		store.WithHistoryLimit(rc.HistoryLimit),
		store.WithLogger(logger.Component("store")),
	)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := st.Ping(pingCtx); err != nil {
		logger.Log.Warn().Err(err).Str("addr", rc.Addr).Msg("Redis not reachable. Results and history disabled.")
		st.Close()
		return nil
	}
	logger.Log.Info().Str("addr", rc.Addr).Msg("Connected to Redis")
	return st
}

func addSchedules(sched *periodic.Scheduler, registry *jobs.Registry, schedules []config.ScheduleConfig) error {
	for _, s := range schedules {
		priority, _ := tasks.ParsePriority(s.Priority)
		var payload []byte
		if s.Payload != "" {
			payload = []byte(s.Payload)
		}
		_, err := sched.Add(s.Name, s.Spec, registry.Payload(s.Type, payload),
			queue.WithPriority(priority),
			queue.WithMetadata(map[string]any{"type": s.Type, "schedule": s.Name}),
		)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", s.Name, err)
		}
	}
	return nil
}

// drain waits for active tasks to settle, or for ctx to end.
func drain(ctx context.Context, q *queue.Queue) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for q.Status().Active > 0 {
		select {
		case <-ctx.Done():
			logger.Log.Warn().Int("active", q.Status().Active).Msg("Shutdown timeout, canceling active tasks")
			return
		case <-ticker.C:
		}
	}
}
