package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cuemby/monagent/pkg/log"
	"github.com/cuemby/monagent/pkg/metrics"
	"github.com/cuemby/monagent/pkg/storage"
	"github.com/cuemby/monagent/pkg/types"
)

// JobLister exposes the job table of the event bus. RunningJobs also
// announces the list to subscribers as a running jobs event.
type JobLister interface {
	Jobs() []types.Job
	RunningJobs() []types.RunningJob
}

// JobHistory exposes completed jobs
type JobHistory interface {
	GetJobRecord(jid string) (*storage.JobRecord, error)
	ListJobRecords() ([]*storage.JobRecord, error)
}

// HealthServer provides the local HTTP status endpoints
type HealthServer struct {
	jobs    JobLister
	history JobHistory
	router  *chi.Mux
	server  *http.Server
	logger  zerolog.Logger
}

// NewHealthServer creates a new status server. jobs may be nil, in which
// case /jobs reports an empty table; history may be nil, in which case the
// history endpoints answer 404.
func NewHealthServer(jobs JobLister, history JobHistory) *HealthServer {
	hs := &HealthServer{
		jobs:    jobs,
		history: history,
		router:  chi.NewRouter(),
		logger:  log.WithComponent("api"),
	}

	hs.router.Use(middleware.Recoverer)
	hs.router.Use(ReadOnly)

	hs.router.Get("/health", metrics.HealthHandler())
	hs.router.Get("/ready", metrics.ReadyHandler())
	hs.router.Get("/live", metrics.LivenessHandler())
	hs.router.Method(http.MethodGet, "/metrics", metrics.Handler())
	hs.router.Get("/jobs", hs.jobsHandler)
	hs.router.Get("/jobs/running", hs.runningHandler)
	hs.router.Get("/jobs/history", hs.historyHandler)
	hs.router.Get("/jobs/history/{jid}", hs.historyRecordHandler)

	return hs
}

// Start serves the endpoints on addr until Shutdown is called
func (hs *HealthServer) Start(addr string) error {
	hs.server = &http.Server{
		Addr:         addr,
		Handler:      hs.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	hs.logger.Info().Str("addr", addr).Msg("Status server listening")
	if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	if hs.server == nil {
		return nil
	}
	return hs.server.Shutdown(ctx)
}

// JobsResponse is the body of the /jobs endpoint
type JobsResponse struct {
	Timestamp time.Time   `json:"timestamp"`
	Count     int         `json:"count"`
	Jobs      []types.Job `json:"jobs"`
}

// jobsHandler implements the /jobs endpoint
func (hs *HealthServer) jobsHandler(w http.ResponseWriter, r *http.Request) {
	jobs := []types.Job{}
	if hs.jobs != nil {
		jobs = hs.jobs.Jobs()
	}

	response := JobsResponse{
		Timestamp: time.Now(),
		Count:     len(jobs),
		Jobs:      jobs,
	}

	writeJSON(w, http.StatusOK, response)
}

// runningHandler implements the /jobs/running endpoint
func (hs *HealthServer) runningHandler(w http.ResponseWriter, r *http.Request) {
	running := []types.RunningJob{}
	if hs.jobs != nil {
		running = hs.jobs.RunningJobs()
	}
	writeJSON(w, http.StatusOK, running)
}

// historyHandler implements the /jobs/history endpoint
func (hs *HealthServer) historyHandler(w http.ResponseWriter, r *http.Request) {
	if hs.history == nil {
		http.Error(w, "job history disabled", http.StatusNotFound)
		return
	}

	records, err := hs.history.ListJobRecords()
	if err != nil {
		hs.logger.Error().Err(err).Msg("Failed to list job history")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*storage.JobRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

// historyRecordHandler implements the /jobs/history/{jid} endpoint
func (hs *HealthServer) historyRecordHandler(w http.ResponseWriter, r *http.Request) {
	if hs.history == nil {
		http.Error(w, "job history disabled", http.StatusNotFound)
		return
	}

	jid := chi.URLParam(r, "jid")
	record, err := hs.history.GetJobRecord(jid)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "job "+jid+" not found", http.StatusNotFound)
	case err != nil:
		hs.logger.Error().Err(err).Str("jid", jid).Msg("Failed to read job record")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, record)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.router
}
