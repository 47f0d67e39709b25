package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/outdial/amd-gateway/internal/dotenv"
	"github.com/outdial/amd-gateway/pkg/classifier"
	"github.com/outdial/amd-gateway/pkg/engine/detectors"
	"github.com/outdial/amd-gateway/pkg/gateway/config"
	"github.com/outdial/amd-gateway/pkg/gateway/handlers"
	gatewayserver "github.com/outdial/amd-gateway/pkg/gateway/server"
	"github.com/outdial/amd-gateway/pkg/metrics"
	"github.com/outdial/amd-gateway/pkg/store"
	"github.com/outdial/amd-gateway/pkg/telephony/twilio"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	buildServer  func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*gatewayserver.Server, func(), error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig:  config.LoadFromEnv,
		buildServer: buildServer,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// buildServer selects the store, wires the classifiers, detectors and
// dialer, and assembles the gateway. The returned cleanup releases the
// store.
func buildServer(ctx context.Context, cfg config.Config, logger *slog.Logger) (*gatewayserver.Server, func(), error) {
	var (
		st         store.Store
		readyCheck func(ctx context.Context) error
	)
	if cfg.DatabaseDSN != "" {
		pg, err := store.NewPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open store: %w", err)
		}
		if err := pg.Migrate(); err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("migrate store: %w", err)
		}
		st = pg
		readyCheck = pg.Ping
	} else {
		logger.Warn("no database configured, using in-memory store (dev mode)")
		st = store.NewMemory()
	}
	cleanup := st.Close

	var gemini classifier.Classifier
	if cfg.GeminiAPIKey != "" {
		g, err := classifier.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("gemini classifier: %w", err)
		}
		gemini = g
	}
	var wav2vec classifier.Classifier
	if cfg.Wav2VecBaseURL != "" {
		wav2vec = classifier.NewWav2Vec(cfg.Wav2VecBaseURL)
	}

	registry := detectors.NewRegistry(detectors.Config{
		Store:           st,
		Logger:          logger,
		Wav2Vec:         wav2vec,
		Gemini:          gemini,
		ClassifyTimeout: cfg.ClassifyTimeout,
	})

	var dialer handlers.Dialer
	if cfg.DialerConfigured() {
		client := twilio.NewWithClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioBaseURL, &http.Client{
			Timeout: cfg.UpstreamResponseHeaderTimeout,
		})
		dialer = twilio.NewProvider(client, twilio.ProviderConfig{
			From:              cfg.TwilioFrom,
			VoiceURL:          cfg.VoiceURL,
			AMDCallbackURL:    cfg.PublicBaseURL + "/v1/webhooks/amd",
			StatusCallbackURL: cfg.PublicBaseURL + "/v1/webhooks/status",
		})
	} else {
		logger.Info("no telephony provider configured, outbound dialing disabled")
	}

	srv := gatewayserver.New(gatewayserver.Options{
		Config:     cfg,
		Logger:     logger,
		Store:      st,
		Detectors:  registry,
		Metrics:    metrics.New(),
		Dialer:     dialer,
		ReadyCheck: readyCheck,
	})
	return srv, cleanup, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.buildServer == nil {
		return errors.New("missing buildServer dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	srv, cleanup, err := deps.buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	httpSrv := buildHTTPServer(cfg, srv.Handler())

	logger.Info("starting gateway",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"dialer", cfg.DialerConfigured(),
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.Load(".env"); err != nil {
		fmt.Fprintf(stderr, "amd-gateway: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "amd-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
