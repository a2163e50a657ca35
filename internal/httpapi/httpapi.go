// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package httpapi implements the worker's local HTTP listener: the
// single-point endpoint (C9) plus the supplemented health and metrics
// surfaces.
package httpapi

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/conveyal/r5-worker/internal/handler"
	"github.com/conveyal/r5-worker/internal/task"
	"github.com/conveyal/r5-worker/internal/taskqueue"
	"github.com/conveyal/r5-worker/pkg/logging"
	"github.com/conveyal/r5-worker/pkg/metrics"
)

// SinglePointExecutor is the subset of handler.SinglePointHandler the router
// depends on.
type SinglePointExecutor interface {
	Handle(ctx context.Context, t *task.Task) ([]byte, error)
}

// HealthStatus is returned by GET /health.
type HealthStatus struct {
	LoadedNetworkID string `json:"loadedNetworkId"`
	QueueDepth      int    `json:"queueDepth"`
	QueueCapacity   int    `json:"queueCapacity"`
}

// Server wires the single-point handler, health, and metrics routes onto one
// gorilla/mux router.
type Server struct {
	router          *mux.Router
	handler         SinglePointExecutor
	queue           *taskqueue.Queue
	loadedNetworkID func() string
	collector       metrics.Collector
	logger          logging.Logger
}

// New constructs a Server. queue and loadedNetworkID may be nil/empty for a
// worker that doesn't expose single-point (ListenForSinglePoint disabled);
// the health route tolerates both.
func New(h SinglePointExecutor, queue *taskqueue.Queue, loadedNetworkID func() string, collector metrics.Collector, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	if loadedNetworkID == nil {
		loadedNetworkID = func() string { return "" }
	}
	s := &Server{
		router:          mux.NewRouter(),
		handler:         h,
		queue:           queue,
		loadedNetworkID: loadedNetworkID,
		collector:       collector,
		logger:          logger,
	}
	s.router.HandleFunc("/single", s.handleSingle).Methods(http.MethodPost)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleSingle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.collector.RecordRequest(http.MethodPost, "/single")

	var t task.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		s.collector.RecordError(http.MethodPost, "/single", err)
		http.Error(w, `{"error":"malformed task"}`, http.StatusBadRequest)
		return
	}

	payload, err := s.handler.Handle(r.Context(), &t)
	if err != nil {
		if notReady, ok := err.(*handler.NotReadyError); ok {
			s.collector.RecordResponse(http.MethodPost, "/single", http.StatusAccepted, time.Since(start))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]any{
				"state":           notReady.Progress.State,
				"percentComplete": notReady.Progress.PercentComplete,
			})
			return
		}
		s.collector.RecordError(http.MethodPost, "/single", err)
		s.logger.Error("single-point request failed", "error", err)
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	s.collector.RecordResponse(http.MethodPost, "/single", http.StatusOK, time.Since(start))
	w.Header().Set("Content-Type", contentTypeFor(t.Format))
	w.Header().Set("Content-Encoding", "gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	gz.Write(payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{LoadedNetworkID: s.loadedNetworkID()}
	if s.queue != nil {
		status.QueueDepth = s.queue.Len()
		status.QueueCapacity = s.queue.Capacity()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.collector.GetStats())
}

func contentTypeFor(format task.Format) string {
	if format == task.FormatGeoTIFF {
		return "image/tiff"
	}
	return "application/octet-stream"
}
