// Package server assembles the gateway: store, detectors, arbiter,
// audio pipeline, dialer and the HTTP surface.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/outdial/amd-gateway/pkg/engine"
	"github.com/outdial/amd-gateway/pkg/engine/arbiter"
	"github.com/outdial/amd-gateway/pkg/engine/audiobuf"
	"github.com/outdial/amd-gateway/pkg/gateway/config"
	"github.com/outdial/amd-gateway/pkg/gateway/handlers"
	"github.com/outdial/amd-gateway/pkg/gateway/mw"
	"github.com/outdial/amd-gateway/pkg/gateway/ratelimit"
	"github.com/outdial/amd-gateway/pkg/metrics"
	"github.com/outdial/amd-gateway/pkg/store"
)

// Server is the assembled gateway.
type Server struct {
	cfg    config.Config
	logger *slog.Logger

	store     store.Store
	detectors engine.DetectorRegistry
	arbiter   *arbiter.Arbiter
	pipeline  *audiobuf.Pipeline
	metrics   *metrics.Metrics
	limiter   *ratelimit.Limiter
	dialer    handlers.Dialer

	// readyCheck pings the persistence layer for /readyz.
	readyCheck func(ctx context.Context) error

	mux *http.ServeMux
}

// Options carries the assembled dependencies. The caller (main) decides
// concrete implementations; the server only wires them together.
type Options struct {
	Config     config.Config
	Logger     *slog.Logger
	Store      store.Store
	Detectors  engine.DetectorRegistry
	Metrics    *metrics.Metrics
	Dialer     handlers.Dialer // nil disables outbound dialing
	ReadyCheck func(ctx context.Context) error
}

// New assembles a server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		cfg:        opts.Config,
		logger:     opts.Logger,
		store:      opts.Store,
		detectors:  opts.Detectors,
		metrics:    opts.Metrics,
		dialer:     opts.Dialer,
		readyCheck: opts.ReadyCheck,
	}
	s.pipeline = audiobuf.New(opts.Config.AudioMinBatchBytes, opts.Config.AudioMaxBatchBytes)
	s.arbiter = arbiter.New(arbiter.Config{
		Store:           opts.Store,
		Detectors:       opts.Detectors,
		Logger:          opts.Logger,
		Metrics:         opts.Metrics,
		DetectionWindow: opts.Config.DetectionWindow,
	})
	s.limiter = ratelimit.New(ratelimit.Config{
		RPS:                   opts.Config.LimitRPS,
		Burst:                 opts.Config.LimitBurst,
		MaxConcurrentRequests: opts.Config.LimitMaxConcurrentRequests,
		MaxConcurrentStreams:  opts.Config.LimitMaxConcurrentStreams,
	})
	s.mux = s.routes()
	return s
}

// Arbiter exposes the arbitration core, for tests.
func (s *Server) Arbiter() *arbiter.Arbiter { return s.arbiter }

func (s *Server) routes() *http.ServeMux {
	health := &handlers.Health{ReadyCheck: s.readyCheck}
	calls := &handlers.Calls{
		Store:        s.store,
		Arbiter:      s.arbiter,
		Detectors:    s.detectors,
		Dialer:       s.dialer,
		Metrics:      s.metrics,
		Logger:       s.logger,
		MaxBodyBytes: s.cfg.MaxBodyBytes,
	}
	webhooks := &handlers.Webhooks{
		Arbiter:      s.arbiter,
		Logger:       s.logger,
		MaxBodyBytes: s.cfg.MaxBodyBytes,
	}
	audio := &handlers.Audio{
		Store:        s.store,
		Pipeline:     s.pipeline,
		Detectors:    s.detectors,
		Arbiter:      s.arbiter,
		Metrics:      s.metrics,
		Logger:       s.logger,
		MaxBodyBytes: int64(s.cfg.AudioMaxBatchBytes),
	}
	stream := &handlers.Stream{
		Store:            s.store,
		Pipeline:         s.pipeline,
		Detectors:        s.detectors,
		Arbiter:          s.arbiter,
		Limiter:          s.limiter,
		Metrics:          s.metrics,
		Logger:           s.logger,
		MaxFrameBytes:    s.cfg.StreamMaxFrameBytes,
		MaxDuration:      s.cfg.StreamMaxDuration,
		HandshakeTimeout: s.cfg.StreamHandshakeTimeout,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("POST /v1/calls", calls.Create)
	mux.HandleFunc("GET /v1/calls", calls.List)
	mux.HandleFunc("GET /v1/calls/{id}", calls.Get)
	mux.HandleFunc("GET /v1/calls/{id}/events", calls.Events)
	mux.HandleFunc("POST /v1/calls/{id}/verdict", calls.Override)
	mux.HandleFunc("POST /v1/calls/{id}/audio", audio.Ingest)
	mux.HandleFunc("GET /v1/strategies", calls.Strategies)

	mux.HandleFunc("POST /v1/webhooks/amd", webhooks.AMD)
	mux.HandleFunc("POST /v1/webhooks/status", webhooks.Status)
	mux.HandleFunc("POST /v1/webhooks/sip", webhooks.SIP)

	mux.HandleFunc("GET /v1/stream", stream.Serve)

	mux.HandleFunc("/", handlers.NotFound)

	return mux
}

// Handler returns the mux behind the full middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
