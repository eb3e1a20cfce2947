// Package apihttp exposes the operational surface of the transcoding core:
// a liveness probe, Prometheus metrics, and a WebSocket feed of job
// progress events for admin dashboards. It does not implement the outer
// REST API that accepts transcode requests — that surface is AMQP-only,
// per internal/rpc.
package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/metalalive/transcoder-core/internal/domain"
)

// JobRepository is the subset of ports.JobRepository the admin surface
// needs: an initial snapshot of in-flight jobs to push to a WebSocket
// client as soon as it connects.
type JobRepository interface {
	ListRunning(ctx context.Context) ([]domain.JobRecord, error)
}

type Server struct {
	repo      JobRepository
	logger    *slog.Logger
	wsHub     *wsHub
	handler   http.Handler
	startedAt time.Time
}

type ServerOption func(*Server)

func WithRepository(repo JobRepository) ServerOption {
	return func(s *Server) { s.repo = repo }
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{startedAt: time.Now()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/jobs", s.handleWSJobs)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "transcoder-worker",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics" && r.URL.Path != "/healthz"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, metricsMiddleware(traced))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// BroadcastJobProgress pushes a progress event to every connected admin
// WebSocket client. Safe to call from any goroutine, including the
// storage-map's callback-driven phase transitions.
func (s *Server) BroadcastJobProgress(event domain.JobProgressEvent) {
	if s.wsHub != nil {
		s.wsHub.BroadcastJobProgress(event)
	}
}

// Close shuts down the WebSocket hub, disconnecting all clients.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}

type healthzResponse struct {
	Status       string `json:"status"`
	UptimeSecond int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, healthzResponse{
		Status:       "ok",
		UptimeSecond: int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleWSJobs(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{hub: s.wsHub, conn: conn, send: make(chan []byte, 256)}
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()

	if s.repo != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		running, err := s.repo.ListRunning(ctx)
		if err != nil {
			s.logger.Debug("ws initial snapshot failed", slog.String("error", err.Error()))
			return
		}
		s.wsHub.sendTo(client, "running_jobs", running)
	}
}
