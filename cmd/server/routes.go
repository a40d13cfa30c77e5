package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/guido-cesarano/goqueue/pkg/config"
	"github.com/guido-cesarano/goqueue/pkg/jobs"
	"github.com/guido-cesarano/goqueue/pkg/periodic"
	"github.com/guido-cesarano/goqueue/pkg/queue"
	"github.com/guido-cesarano/goqueue/pkg/store"
	"github.com/guido-cesarano/goqueue/pkg/tasks"
	"github.com/rs/zerolog"
)

// inspectLimit caps how many history entries /tasks returns.
const inspectLimit = 50

// api holds what the handlers need. store may be nil when Redis is not configured.
type api struct {
	q         *queue.Queue
	store     *store.Store
	jobs      *jobs.Registry
	sched     *periodic.Scheduler
	rateLimit config.RateLimitConfig
	metrics   http.Handler
	log       zerolog.Logger
}

// enqueueRequest is the body of POST /enqueue.
type enqueueRequest struct {
	ID       string          `json:"id,omitempty"` // Optional: generated when empty
	Type     string          `json:"type"`         // Task type
	Payload  json.RawMessage `json:"payload"`      // Task data
	Priority string          `json:"priority"`     // Optional: "low", "normal" (default), "high"
}

// scheduleRequest is the body of POST /schedule.
type scheduleRequest struct {
	Name     string          `json:"name"`     // Optional: defaults to the task type
	Spec     string          `json:"spec"`     // Cron expression (e.g. "@every 1m")
	Type     string          `json:"type"`     // Task type
	Payload  json.RawMessage `json:"payload"`  // Task data
	Priority string          `json:"priority"` // Optional priority
}

// taskStatus is the body of GET /task.
type taskStatus struct {
	ID    string      `json:"id"`
	State tasks.State `json:"state"`
}

// authMiddleware wraps an http.HandlerFunc and enforces API Key authentication.
func authMiddleware(next http.HandlerFunc, requiredKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// If no key is configured, allow all (dev mode)
		if requiredKey == "" {
			next(w, r)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey != requiredKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

// enableCORS wraps an http.HandlerFunc and adds CORS headers.
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*") // Allow all origins for dev
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-API-Key")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// setupRouter configures the HTTP handlers and returns the mux.
// Every route except /metrics is wrapped as CORS -> Auth (optional) -> Handler, so
// preflight requests never hit the auth check.
func setupRouter(a *api, apiKey string) *http.ServeMux {
	mux := http.NewServeMux()
	handle := func(path string, h http.HandlerFunc) {
		mux.HandleFunc(path, enableCORS(authMiddleware(h, apiKey)))
	}

	handle("/enqueue", a.enqueue)
	handle("/status", a.status)
	handle("/task", a.task)
	handle("/tasks", a.tasks)
	handle("/cancel", a.cancel)
	handle("/remove", a.remove)
	handle("/pause", a.pause)
	handle("/resume", a.resume)
	handle("/clear", a.clear)
	handle("/result", a.result)
	handle("/schedule", a.schedule)
	handle("/stats", a.stats)

	if a.metrics != nil {
		mux.Handle("/metrics", a.metrics)
	}
	return mux
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// enqueue processes POST requests to add tasks to the queue.
func (a *api) enqueue(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "Missing task type", http.StatusBadRequest)
		return
	}
	priority, ok := tasks.ParsePriority(req.Priority)
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown priority %q", req.Priority), http.StatusBadRequest)
		return
	}

	if a.store != nil && a.rateLimit.Enabled {
		allowed, err := a.store.Allow(r.Context(), "ratelimit:"+req.Type, a.rateLimit.Rate, a.rateLimit.Burst)
		if err != nil {
			// Fail open: a broken limiter must not block submissions
			a.log.Error().Err(err).Msg("Rate limit check failed")
		} else if !allowed {
			a.log.Warn().Str("type", req.Type).Msg("Rate limit exceeded")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	h := a.q.Schedule(a.jobs.Payload(req.Type, req.Payload),
		queue.WithID(req.ID),
		queue.WithPriority(priority),
		queue.WithMetadata(map[string]any{"type": req.Type}),
	)

	// Rejections settle synchronously; anything else is now owned by the queue
	select {
	case <-h.Done():
		if _, err := h.Wait(r.Context()); err != nil {
			switch {
			case errors.Is(err, queue.ErrDuplicateTask):
				http.Error(w, err.Error(), http.StatusConflict)
				return
			case errors.Is(err, queue.ErrClosed):
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
	default:
	}

	fmt.Fprintf(w, "Task enqueued: %s\n", h.ID())
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, a.q.Status())
}

// task reports the state of a pending, active or retrying task.
func (a *api) task(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing task ID", http.StatusBadRequest)
		return
	}
	state, ok := a.q.TaskState(id)
	if !ok {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, taskStatus{ID: id, State: state})
}

// tasks lists the tasks of a queue: the live "pending" and "active" sets, or one of the
// history lists kept in Redis.
func (a *api) tasks(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	queueName := r.URL.Query().Get("queue")
	switch queueName {
	case "":
		http.Error(w, "Missing queue parameter", http.StatusBadRequest)
	case "pending":
		writeJSON(w, a.q.Pending())
	case "active":
		writeJSON(w, a.q.Active())
	case store.CompletedList, store.DeadLetterList, store.CanceledList:
		if a.store == nil {
			http.Error(w, "Store not configured", http.StatusServiceUnavailable)
			return
		}
		records, err := a.store.Inspect(r.Context(), queueName, inspectLimit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, records)
	default:
		http.Error(w, fmt.Sprintf("Unknown queue %q", queueName), http.StatusBadRequest)
	}
}

func (a *api) cancel(w http.ResponseWriter, r *http.Request) {
	a.dropTask(w, r, a.q.CancelTask, "Task canceled")
}

func (a *api) remove(w http.ResponseWriter, r *http.Request) {
	a.dropTask(w, r, a.q.RemoveTask, "Task removed")
}

func (a *api) dropTask(w http.ResponseWriter, r *http.Request, drop func(string) bool, msg string) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing task ID", http.StatusBadRequest)
		return
	}
	if !drop(id) {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}
	fmt.Fprintf(w, "%s: %s\n", msg, id)
}

func (a *api) pause(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	a.q.Pause()
	writeJSON(w, a.q.Status())
}

func (a *api) resume(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	a.q.Resume()
	writeJSON(w, a.q.Status())
}

func (a *api) clear(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	a.q.Clear()
	writeJSON(w, a.q.Status())
}

// result retrieves the result of a completed task.
func (a *api) result(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("id")
	if taskID == "" {
		http.Error(w, "Missing task ID", http.StatusBadRequest)
		return
	}
	if a.store == nil {
		http.Error(w, "Store not configured", http.StatusServiceUnavailable)
		return
	}

	result, err := a.store.GetResult(r.Context(), taskID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Result not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(result))
}

// schedule registers a new cron job.
func (a *api) schedule(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "Missing task type", http.StatusBadRequest)
		return
	}
	priority, ok := tasks.ParsePriority(req.Priority)
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown priority %q", req.Priority), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		req.Name = req.Type
	}

	entryID, err := a.sched.Add(req.Name, req.Spec, a.jobs.Payload(req.Type, req.Payload),
		queue.WithPriority(priority),
		queue.WithMetadata(map[string]any{"type": req.Type, "schedule": req.Name}),
	)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid cron spec: %v", err), http.StatusBadRequest)
		return
	}

	fmt.Fprintf(w, "Job scheduled with EntryID: %d\n", entryID)
}

// stats returns the live queue counters and the history list depths.
func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	status := a.q.Status()
	depths := map[string]int64{
		"pending": int64(status.Pending),
		"active":  int64(status.Active),
	}
	if a.store != nil {
		for list, n := range a.store.Depths(r.Context()) {
			depths[list] = n
		}
	}
	writeJSON(w, depths)
}
