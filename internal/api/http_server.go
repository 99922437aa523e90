package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"indexator/internal/config"
	"indexator/internal/export"
	"indexator/internal/metrics"
	"indexator/internal/queue"
	"indexator/internal/rebalance"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HTTPServer exposes the queue engine to the dashboard/automation layer
// and carries the claim/report contract for external processor workers.
type HTTPServer struct {
	cfg      config.APIConfig
	queue    *queue.Service
	balancer *rebalance.Coordinator
	exporter *export.Exporter
	server   *http.Server
	auth     *HTTPAuth
	log      zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, q *queue.Service, balancer *rebalance.Coordinator,
	exporter *export.Exporter, logger *zerolog.Logger) *HTTPServer {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "http").Logger()
	}

	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, queue: q, balancer: balancer, exporter: exporter, log: log}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/api/v1/queue/enqueue", srv.handleEnqueue)
	mux.HandleFunc("/api/v1/queue/stats", srv.handleStats)
	mux.HandleFunc("/api/v1/queue/clear", srv.handleClear)
	mux.HandleFunc("/api/v1/queue/rebalance/preview", srv.handleRebalancePreview)
	mux.HandleFunc("/api/v1/queue/rebalance", srv.handleRebalance)
	mux.HandleFunc("/api/v1/queue/claim", srv.handleClaim)
	mux.HandleFunc("/api/v1/queue/items/", srv.handleItem)
	mux.HandleFunc("/api/v1/batches/", srv.handleBatch)
	mux.HandleFunc("/api/v1/quota", srv.handleQuota)
	mux.HandleFunc("/api/v1/export", srv.handleExport)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("x-request-id"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("x-request-id", requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		metrics.IncHTTP(r.URL.Path)
		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

func siteIDParam(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("site_id"))
	if raw == "" {
		return 0, fmt.Errorf("site_id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid site_id")
	}
	return id, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
