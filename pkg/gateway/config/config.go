package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	MaxBodyBytes int64

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Persistence. Empty DSN runs the in-memory store (dev mode only).
	DatabaseDSN string

	// Telephony provider (outbound dialing + webhook targets).
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioBaseURL    string
	PublicBaseURL    string
	VoiceURL         string

	// External classifiers.
	Wav2VecBaseURL  string
	GeminiAPIKey    string
	GeminiModel     string
	ClassifyTimeout time.Duration

	// Detection policy.
	DetectionWindow    time.Duration
	AudioMinBatchBytes int
	AudioMaxBatchBytes int

	// Media-stream WebSocket ingest.
	StreamMaxFrameBytes    int64
	StreamMaxDuration      time.Duration
	StreamHandshakeTimeout time.Duration

	// In-memory limits (per principal).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int
	LimitMaxConcurrentStreams  int

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	// Outbound HTTP client defaults.
	UpstreamConnectTimeout        time.Duration
	UpstreamResponseHeaderTimeout time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                          envOr("AMD_GATEWAY_ADDR", ":8080"),
		AuthMode:                      AuthMode(envOr("AMD_GATEWAY_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:                       make(map[string]struct{}),
		MaxBodyBytes:                  envInt64Or("AMD_GATEWAY_MAX_BODY_BYTES", 1<<20), // 1 MiB
		CORSAllowedOrigins:            make(map[string]struct{}),
		DatabaseDSN:                   envOr("AMD_GATEWAY_DATABASE_DSN", ""),
		TwilioAccountSID:              envOr("AMD_GATEWAY_TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:               envOr("AMD_GATEWAY_TWILIO_AUTH_TOKEN", ""),
		TwilioFrom:                    envOr("AMD_GATEWAY_TWILIO_FROM", ""),
		TwilioBaseURL:                 envOr("AMD_GATEWAY_TWILIO_BASE_URL", ""),
		PublicBaseURL:                 envOr("AMD_GATEWAY_PUBLIC_BASE_URL", ""),
		VoiceURL:                      envOr("AMD_GATEWAY_VOICE_URL", ""),
		Wav2VecBaseURL:                envOr("AMD_GATEWAY_WAV2VEC_BASE_URL", "http://localhost:8000"),
		GeminiAPIKey:                  envOr("AMD_GATEWAY_GEMINI_API_KEY", ""),
		GeminiModel:                   envOr("AMD_GATEWAY_GEMINI_MODEL", ""),
		ClassifyTimeout:               envDurationOr("AMD_GATEWAY_CLASSIFY_TIMEOUT", 10*time.Second),
		DetectionWindow:               envDurationOr("AMD_GATEWAY_DETECTION_WINDOW", 60*time.Second),
		AudioMinBatchBytes:            envIntOr("AMD_GATEWAY_AUDIO_MIN_BATCH_BYTES", 32_000),
		AudioMaxBatchBytes:            envIntOr("AMD_GATEWAY_AUDIO_MAX_BATCH_BYTES", 80_000),
		StreamMaxFrameBytes:           envInt64Or("AMD_GATEWAY_STREAM_MAX_FRAME_BYTES", 64*1024),
		StreamMaxDuration:             envDurationOr("AMD_GATEWAY_STREAM_MAX_DURATION", 10*time.Minute),
		StreamHandshakeTimeout:        envDurationOr("AMD_GATEWAY_STREAM_HANDSHAKE_TIMEOUT", 5*time.Second),
		LimitRPS:                      envFloat64Or("AMD_GATEWAY_RATE_LIMIT_RPS", 50),
		LimitBurst:                    envIntOr("AMD_GATEWAY_RATE_LIMIT_BURST", 100),
		LimitMaxConcurrentRequests:    envIntOr("AMD_GATEWAY_MAX_CONCURRENT_REQUESTS", 64),
		LimitMaxConcurrentStreams:     envIntOr("AMD_GATEWAY_MAX_STREAMS_PER_PRINCIPAL", 8),
		ReadHeaderTimeout:             envDurationOr("AMD_GATEWAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                   envDurationOr("AMD_GATEWAY_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:           envDurationOr("AMD_GATEWAY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		UpstreamConnectTimeout:        envDurationOr("AMD_GATEWAY_CONNECT_TIMEOUT", 5*time.Second),
		UpstreamResponseHeaderTimeout: envDurationOr("AMD_GATEWAY_RESPONSE_HEADER_TIMEOUT", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("AMD_GATEWAY_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("AMD_GATEWAY_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("AMD_GATEWAY_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("AMD_GATEWAY_MAX_BODY_BYTES must be > 0")
	}
	if cfg.ClassifyTimeout <= 0 {
		return Config{}, fmt.Errorf("AMD_GATEWAY_CLASSIFY_TIMEOUT must be > 0")
	}
	if cfg.DetectionWindow <= 0 {
		return Config{}, fmt.Errorf("AMD_GATEWAY_DETECTION_WINDOW must be > 0")
	}
	if cfg.AudioMinBatchBytes <= 0 {
		return Config{}, fmt.Errorf("AMD_GATEWAY_AUDIO_MIN_BATCH_BYTES must be > 0")
	}
	if cfg.AudioMaxBatchBytes < cfg.AudioMinBatchBytes {
		return Config{}, fmt.Errorf("AMD_GATEWAY_AUDIO_MAX_BATCH_BYTES must be >= AMD_GATEWAY_AUDIO_MIN_BATCH_BYTES")
	}
	if cfg.StreamMaxFrameBytes <= 0 {
		return Config{}, fmt.Errorf("AMD_GATEWAY_STREAM_MAX_FRAME_BYTES must be > 0")
	}
	if cfg.StreamMaxDuration <= 0 {
		return Config{}, fmt.Errorf("AMD_GATEWAY_STREAM_MAX_DURATION must be > 0")
	}
	if cfg.StreamHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("AMD_GATEWAY_STREAM_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("AMD_GATEWAY_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("AMD_GATEWAY_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("AMD_GATEWAY_MAX_CONCURRENT_REQUESTS must be >= 0")
	}
	if cfg.LimitMaxConcurrentStreams < 0 {
		return Config{}, fmt.Errorf("AMD_GATEWAY_MAX_STREAMS_PER_PRINCIPAL must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 || cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("read timeouts must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("AMD_GATEWAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 || cfg.UpstreamResponseHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("upstream timeouts must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("AMD_GATEWAY_API_KEYS must be set when AMD_GATEWAY_AUTH_MODE=required")
	}

	anySet := false
	allSet := true
	for _, f := range []string{cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom} {
		if strings.TrimSpace(f) == "" {
			allSet = false
		} else {
			anySet = true
		}
	}
	if anySet && !allSet {
		return Config{}, fmt.Errorf("AMD_GATEWAY_TWILIO_ACCOUNT_SID, AMD_GATEWAY_TWILIO_AUTH_TOKEN and AMD_GATEWAY_TWILIO_FROM must be set together")
	}
	if allSet && strings.TrimSpace(cfg.PublicBaseURL) == "" {
		return Config{}, fmt.Errorf("AMD_GATEWAY_PUBLIC_BASE_URL must be set when the Twilio dialer is configured")
	}

	return cfg, nil
}

// DialerConfigured reports whether outbound dialing is enabled.
func (c Config) DialerConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFrom != ""
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
