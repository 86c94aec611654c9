package jobserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentkit/runtime/internal/jobs"
)

// Config controls the HTTP+SSE peer API.
type Config struct {
	Auth *Authenticator

	// RatePerSecond and RateBurst bound each peer's request rate. Peers are
	// distinguished by PeerClaims.PeerID. Defaults: 5 rps, burst 10.
	RatePerSecond float64
	RateBurst     int

	// PollInterval is how often the SSE stream handler checks the store for
	// job status changes. Default: 500ms.
	PollInterval time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 5
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Auth == nil {
		c.Auth = NewAuthenticator("", "", 0)
	}
	return c
}

// Server exposes a jobs.Store to peer agents over HTTP, with an SSE endpoint
// for watching a single job's status until it reaches a terminal state.
type Server struct {
	store    jobs.Store
	config   Config
	limiters *limiterRegistry
}

// New creates a Server backed by store.
func New(store jobs.Store, config Config) *Server {
	config = config.withDefaults()
	return &Server{
		store:    store,
		config:   config,
		limiters: newLimiterRegistry(config.RatePerSecond, config.RateBurst),
	}
}

// Routes registers the peer API on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/jobs", s.withAuth(s.handleList))
	mux.HandleFunc("GET /v1/jobs/{id}", s.withAuth(s.handleGet))
	mux.HandleFunc("GET /v1/jobs/{id}/stream", s.withAuth(s.handleStream))
	mux.HandleFunc("POST /v1/jobs/{id}/cancel", s.withAuth(s.handleCancel))
}

func (s *Server) withAuth(next func(http.ResponseWriter, *http.Request, *PeerClaims)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.config.Auth.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if !s.limiters.Allow(claims.PeerID) {
			writeError(w, http.StatusTooManyRequests, errors.New("jobserver: rate limit exceeded"))
			return
		}
		next(w, r, claims)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, _ *PeerClaims) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	list, err := s.store.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, _ *PeerClaims) {
	job, err := s.fetchJob(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, _ *PeerClaims) {
	id := r.PathValue("id")
	if err := s.store.Cancel(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStream writes an SSE event each time the job's status changes,
// closing once the job reaches a terminal status or the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, _ *PeerClaims) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("jobserver: streaming unsupported"))
		return
	}

	id := r.PathValue("id")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	var lastStatus jobs.Status
	for {
		job, err := s.store.Get(r.Context(), id)
		if err != nil {
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
			flusher.Flush()
			return
		}
		if job == nil {
			fmt.Fprintf(w, "event: error\ndata: job not found\n\n")
			flusher.Flush()
			return
		}

		if job.Status != lastStatus {
			data, _ := json.Marshal(job)
			fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
			flusher.Flush()
			lastStatus = job.Status
		}

		if isTerminal(job.Status) {
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) fetchJob(r *http.Request) (*jobs.Job, error) {
	id := r.PathValue("id")
	job, err := s.store.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errJobNotFound
	}
	return job, nil
}

var errJobNotFound = errors.New("jobserver: job not found")

func isTerminal(status jobs.Status) bool {
	return status == jobs.StatusSucceeded || status == jobs.StatusFailed
}

func statusFor(err error) int {
	if errors.Is(err, errJobNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// limiterRegistry holds a rate.Limiter per peer, created lazily.
type limiterRegistry struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLimiterRegistry(rps float64, burst int) *limiterRegistry {
	return &limiterRegistry{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (r *limiterRegistry) Allow(peerID string) bool {
	r.mu.Lock()
	limiter, ok := r.limiters[peerID]
	if !ok {
		limiter = rate.NewLimiter(r.rps, r.burst)
		r.limiters[peerID] = limiter
	}
	r.mu.Unlock()
	return limiter.Allow()
}
