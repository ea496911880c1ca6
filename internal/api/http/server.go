// Package apihttp exposes the redub pipeline over REST and a status
// WebSocket.
package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"redubstream/internal/domain"
)

const defaultMaxUploadBytes = 2 << 30

// Pipeline is the single-run orchestrator behind the pipeline, segment, redub
// and artifact routes.
type Pipeline interface {
	Status() domain.PipelineStatus
	Subscribe(buffer int) (<-chan domain.PipelineStatus, func())
	StartFromFile(data []byte, name string) (string, error)
	StartFromURL(rawURL string) (string, error)
	Cancel() error
	Reset(ctx context.Context) error
	Segments() ([]domain.Segment, error)
	Segment(index int) (domain.Segment, error)
	DubSegments() []domain.DubSegment
	UploadDub(ctx context.Context, index int, data []byte) error
	MergeAsync() error
	Artifacts() (domain.FinalArtifacts, bool)
}

// Acquirer backs the standalone POST /acquire boundary.
type Acquirer interface {
	Acquire(ctx context.Context, rawURL string) (domain.Acquisition, error)
}

type ProviderDiagnostics interface {
	ProviderDiagnostics() []domain.ProviderDiagnostics
}

type Server struct {
	pipeline       Pipeline
	acquirer       Acquirer
	diagnostics    ProviderDiagnostics
	allowedOrigins []string
	rateRPS        float64
	rateBurst      int
	maxUploadBytes int64
	metricsHandler http.Handler
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub

	closeOnce   sync.Once
	unsubscribe func()
	watchDone   chan struct{}
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithAcquirer(acquirer Acquirer) ServerOption {
	return func(s *Server) {
		s.acquirer = acquirer
	}
}

func WithProviderDiagnostics(diagnostics ProviderDiagnostics) ServerOption {
	return func(s *Server) {
		s.diagnostics = diagnostics
	}
}

// WithAllowedOrigins restricts CORS to the listed origins. Empty allows any.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithRateLimit sets the global request budget. A non-positive rps disables
// limiting.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

func WithMaxUploadBytes(limit int64) ServerOption {
	return func(s *Server) {
		if limit > 0 {
			s.maxUploadBytes = limit
		}
	}
}

func WithMetricsHandler(handler http.Handler) ServerOption {
	return func(s *Server) {
		s.metricsHandler = handler
	}
}

func NewServer(pipeline Pipeline, opts ...ServerOption) *Server {
	s := &Server{
		pipeline:       pipeline,
		rateRPS:        20,
		rateBurst:      40,
		maxUploadBytes: defaultMaxUploadBytes,
		metricsHandler: promhttp.Handler(),
		watchDone:      make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger, s.handleWSAction)
	go s.wsHub.run()
	s.watchStatus()

	r := chi.NewRouter()
	r.Use(loggingMiddleware(s.logger))
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.metricsHandler)
	r.Get("/status", s.handleStatus)
	r.Get("/ws", s.handleWS)
	r.Get("/providers", s.handleProviders)
	r.Post("/acquire", s.handleAcquire)

	r.Route("/pipeline", func(r chi.Router) {
		r.Post("/upload", s.handleUploadSource)
		r.Post("/acquire", s.handleStartAcquire)
		r.Post("/cancel", s.handleCancel)
		r.Post("/reset", s.handleReset)
	})
	r.Get("/segments", s.handleListSegments)
	r.Get("/segments/{index}", s.handleDownloadSegment)
	r.Route("/redub", func(r chi.Router) {
		r.Get("/segments", s.handleListDubSegments)
		r.Put("/segments/{index}", s.handleUploadDub)
		r.Post("/merge", s.handleMerge)
	})
	r.Get("/artifacts/{name}", s.handleArtifact)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	traced := otelhttp.NewHandler(r, "redubstream",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz" && p != "/ws"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateRPS, s.rateBurst, corsMiddleware(s.allowedOrigins, traced)))
	return s
}

// watchStatus forwards every pipeline status change to WebSocket clients.
func (s *Server) watchStatus() {
	updates, unsubscribe := s.pipeline.Subscribe(32)
	s.unsubscribe = unsubscribe
	go func() {
		defer close(s.watchDone)
		for st := range updates {
			s.wsHub.Broadcast("status", st)
		}
	}()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close stops status forwarding and disconnects all WebSocket clients.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		<-s.watchDone
		s.wsHub.Close()
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	if !s.wsHub.join(client) {
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
	s.wsHub.SendTo(client, "status", s.pipeline.Status())
}

func (s *Server) handleWSAction(c *wsClient, req wsRequest) {
	switch req.Action {
	case "get_status":
		s.wsHub.SendTo(c, "status", s.pipeline.Status())
	case "ping":
		s.wsHub.SendTo(c, "pong", nil)
	case "cancel":
		if err := s.pipeline.Cancel(); err != nil {
			_, code, msg := classifyError(err)
			s.wsHub.SendTo(c, "error", errorPayload{Code: code, Message: msg})
		}
	case "reset":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.pipeline.Reset(ctx); err != nil {
			_, code, msg := classifyError(err)
			s.wsHub.SendTo(c, "error", errorPayload{Code: code, Message: msg})
		}
	default:
		s.wsHub.SendTo(c, "error", errorPayload{Code: "unknown_action", Message: "unknown action " + req.Action})
	}
}
