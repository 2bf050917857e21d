// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// HTTP server, the WhatsApp Graph API, the bot-backend webhook, blob storage,
// relay behavior (dedupe, menu notice window), rate limiting, and
// observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-whatsapp-connector")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// WhatsAppConfig holds Graph API access settings for the WhatsApp channel.
type WhatsAppConfig struct {
	APIURL          string // GRAPH_API_URL, e.g. "https://graph.facebook.com"
	APIVersion      string // GRAPH_API_VERSION, e.g. "v16.0"
	PhoneNumberID   string // PHONE_NUMBER_ID
	AccessToken     string // ACCESS_TOKEN (bearer for all Graph calls)
	VerifyToken     string // VERIFY_TOKEN (webhook verification handshake)
	UploadMedia     bool   // WHATSAPP_UPLOAD_MEDIA: send outbound media by native upload
	ListButtonLabel string // opener label of list payloads
}

// BotConfig holds the bot-backend webhook settings.
type BotConfig struct {
	WebhookURL    string // BOT_WEBHOOK_URL
	WebhookSecret string // BOT_WEBHOOK_SECRET (shared-secret header)
}

// StorageConfig holds S3 settings for the attachment relocation pipeline.
type StorageConfig struct {
	Region       string        // AWS_REGION
	Bucket       string        // AWS_S3_BUCKET
	SignedURLTTL time.Duration // AWS_SIGNED_URL_EXPIRATION (e.g. 1h)
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Channel + collaborators
	WhatsApp WhatsAppConfig
	Bot      BotConfig
	Storage  StorageConfig

	// Relay behavior
	DedupeTTL     time.Duration // suppression window for repeated message ids
	NoticeWindow  time.Duration // window for the one-time menu change notice
	MenuRetention time.Duration // eviction horizon for idle menu sessions
	HTTPTimeout   time.Duration // bound on every outbound network call

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// WhatsApp Graph API
		WhatsApp: WhatsAppConfig{
			APIURL:          getenv("GRAPH_API_URL", "https://graph.facebook.com"),
			APIVersion:      getenv("GRAPH_API_VERSION", "v16.0"),
			PhoneNumberID:   getenv("PHONE_NUMBER_ID", ""),
			AccessToken:     getenv("ACCESS_TOKEN", ""),
			VerifyToken:     getenv("VERIFY_TOKEN", ""),
			UploadMedia:     getbool("WHATSAPP_UPLOAD_MEDIA", false),
			ListButtonLabel: getenv("LIST_BUTTON_LABEL", "Select one"),
		},

		// Bot backend
		Bot: BotConfig{
			WebhookURL:    getenv("BOT_WEBHOOK_URL", ""),
			WebhookSecret: getenv("BOT_WEBHOOK_SECRET", ""),
		},

		// Blob storage
		Storage: StorageConfig{
			Region:       getenv("AWS_REGION", "us-east-1"),
			Bucket:       getenv("AWS_S3_BUCKET", ""),
			SignedURLTTL: getdur("AWS_SIGNED_URL_EXPIRATION", time.Hour),
		},

		// Relay behavior
		DedupeTTL:     getdur("DEDUPE_TTL", 120*time.Second),
		NoticeWindow:  getdur("NOTICE_WINDOW", 60*time.Second),
		MenuRetention: getdur("MENU_RETENTION", time.Hour),
		HTTPTimeout:   getdur("HTTP_TIMEOUT", 30*time.Second),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-whatsapp-connector"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.WhatsApp.APIURL = strings.TrimRight(cfg.WhatsApp.APIURL, "/")

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.WhatsApp.APIURL) == "" {
		return cfg, errors.New("GRAPH_API_URL must not be empty")
	}
	if strings.TrimSpace(cfg.WhatsApp.APIVersion) == "" {
		return cfg, errors.New("GRAPH_API_VERSION must not be empty")
	}
	if cfg.DedupeTTL <= 0 {
		return cfg, errors.New("DEDUPE_TTL must be > 0")
	}
	if cfg.NoticeWindow <= 0 {
		return cfg, errors.New("NOTICE_WINDOW must be > 0")
	}
	if cfg.MenuRetention < cfg.NoticeWindow {
		return cfg, errors.New("MENU_RETENTION must be >= NOTICE_WINDOW")
	}
	if cfg.HTTPTimeout <= 0 {
		return cfg, errors.New("HTTP_TIMEOUT must be > 0")
	}
	if cfg.Storage.SignedURLTTL <= 0 {
		return cfg, errors.New("AWS_SIGNED_URL_EXPIRATION must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare integers are read as seconds, matching the Cloud API docs.
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
