package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	log "github.com/sirupsen/logrus"

	"github.com/tokensweep/tokensweep/config"
	"github.com/tokensweep/tokensweep/credential"
	"github.com/tokensweep/tokensweep/pipeline"
	"github.com/tokensweep/tokensweep/search"
)

// RecoveryMiddleware catches panics and returns 500 instead of crashing
func RecoveryMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorf("panic recovered: %v", err)
				jsonError(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

func jsonError(w http.ResponseWriter, message string, code int) {
	log.WithField("code", code).Warn(message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func jsonErrorResponse(w http.ResponseWriter, code int, body map[string]any) {
	log.WithField("code", code).Warn("error response")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func parseRequestBody(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse request: %w", err)
	}
	return nil
}

// Server holds all dependencies for the HTTP handlers. It runs at most one
// job at a time since every job draws on the same credential pool.
type Server struct {
	Cfg     *config.Config
	Runner  JobRunner
	Pool    *credential.Pool
	Metrics http.Handler

	ctx    context.Context
	cancel context.CancelFunc
	jobs   *ttlcache.Cache[string, *jobEntry]

	mu      sync.Mutex
	running string
	wg      sync.WaitGroup
}

// NewServer creates a server and starts the job registry's expiry loop
func NewServer(cfg *config.Config, runner JobRunner, pool *credential.Pool, metrics http.Handler) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	jobs := ttlcache.New[string, *jobEntry](
		ttlcache.WithTTL[string, *jobEntry](cfg.JobRetention),
		ttlcache.WithDisableTouchOnHit[string, *jobEntry](),
	)
	go jobs.Start()

	return &Server{
		Cfg:     cfg,
		Runner:  runner,
		Pool:    pool,
		Metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    jobs,
	}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/jobs", RecoveryMiddleware(s.HandleCreateJob))
	mux.HandleFunc("/v1/jobs/{id}", RecoveryMiddleware(s.HandleGetJob))
	mux.HandleFunc("/v1/jobs/{id}/events", RecoveryMiddleware(s.HandleJobEvents))
	mux.HandleFunc("/health", s.HandleHealth)
	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics)
	}
	mux.HandleFunc("/", s.HandleRoot)
	return mux
}

// Close cancels a running job, waits for it to record its outcome, and
// stops the registry.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
	s.jobs.Stop()
}

func (s *Server) HandleCreateJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req JobRequest
	if err := parseRequestBody(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Limit == nil {
		status, body := pipeline.ErrorResponse(&pipeline.ValidationError{
			Field:   "limit",
			Message: "limit is required: a positive integer or \"all\"",
		})
		jsonErrorResponse(w, status, body)
		return
	}

	query := req.Query
	if query == "" {
		query = search.QueryFromPattern(req.Pattern, req.PatternType)
	}

	job := pipeline.Job{
		Query:    query,
		Limit:    *req.Limit,
		Extended: req.Extended,
		Cooldown: s.Cfg.Cooldown,
	}
	if req.CooldownSeconds != nil {
		job.Cooldown = time.Duration(*req.CooldownSeconds) * time.Second
	}

	// reject bad jobs before they take the single running slot
	if err := (&pipeline.ValidateStage{}).Execute(pipeline.NewContext(r.Context(), "", &job)); err != nil {
		status, body := pipeline.ErrorResponse(err)
		jsonErrorResponse(w, status, body)
		return
	}

	s.mu.Lock()
	if s.running != "" {
		running := s.running
		s.mu.Unlock()
		jsonError(w, fmt.Sprintf("job %s is still running", running), http.StatusConflict)
		return
	}
	entry := newJobEntry(uuid.NewString(), job)
	s.running = entry.id
	s.jobs.Set(entry.id, entry, ttlcache.NoTTL)
	s.wg.Add(1)
	s.mu.Unlock()

	log.WithField("job", entry.id).Infof("Accepted job (extended: %v, limit: %s): %s", job.Extended, job.Limit, job.Query)
	go s.run(entry)

	w.Header().Set("Location", "/v1/jobs/"+entry.id)
	writeJSON(w, http.StatusAccepted, JobCreated{
		ID:     entry.id,
		Status: string(pipeline.StateReceived),
		Events: "/v1/jobs/" + entry.id + "/events",
	})
}

func (s *Server) run(entry *jobEntry) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running = ""
		s.mu.Unlock()
	}()

	out := s.Runner.Run(s.ctx, entry.id, &entry.spec, entry.channel)
	entry.finish(out)
	// retention starts once the job is done
	s.jobs.Set(entry.id, entry, ttlcache.DefaultTTL)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*jobEntry, bool) {
	id := r.PathValue("id")
	item := s.jobs.Get(id)
	if item == nil {
		jsonError(w, fmt.Sprintf("job %s not found", id), http.StatusNotFound)
		return nil, false
	}
	return item.Value(), true
}

func (s *Server) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entry, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, entry.status())
}

// HandleJobEvents streams the job's progress events until a terminal event.
// A job has exactly one event consumer.
func (s *Server) HandleJobEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entry, ok := s.lookup(w, r)
	if !ok {
		return
	}

	ch := entry.channel
	if !ch.Claim() {
		jsonError(w, "job events already have a consumer", http.StatusConflict)
		return
	}
	defer ch.Unclaim()

	emitter, err := NewSSEEmitter(w)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	emit := func() (terminal bool, err error) {
		for _, ev := range ch.Drain() {
			if err := emitter.EmitEvent(ev); err != nil {
				return false, err
			}
			terminal = terminal || ev.Terminal()
		}
		return terminal, nil
	}

	for {
		terminal, err := emit()
		if err != nil {
			log.WithField("job", entry.id).Debugf("Event stream closed: %v", err)
			return
		}
		if terminal {
			emitter.EmitDone()
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ch.Notify():
		case <-entry.done:
			if _, err := emit(); err == nil {
				emitter.EmitDone()
			}
			return
		}
	}
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	st := HealthStatus{Status: "ok"}
	if s.Pool != nil {
		st.Credentials = s.Pool.Total()
		st.Available = s.Pool.Available()
	}
	s.mu.Lock()
	st.RunningJob = s.running
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		jsonError(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"service": "tokensweep", "status": "ok"})
}
