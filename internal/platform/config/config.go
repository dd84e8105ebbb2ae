package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process level configuration for one actiongate session.
type Server struct {
	Addr       string
	AdminToken string
	LogLevel   string

	Scope         string
	SessionTTL    time.Duration
	HoldThreshold time.Duration
	// IdleTimeout pauses the session without human activity. Zero disables it.
	IdleTimeout time.Duration

	BoundaryFile     string
	BoundaryTool     string
	BoundaryModality string

	ACCTTL         time.Duration
	ACCMaxAttempts int

	IntegrityInterval time.Duration

	PresetsFile string
	Preset      string

	Audit Audit
}

// Audit selects the durable sinks the flusher writes to. Empty values leave
// a sink disabled.
type Audit struct {
	FlushInterval time.Duration
	FlushBuffer   int

	JSONLPath   string
	SQLitePath  string
	PostgresDSN string
	RedisAddr   string
	RedisStream string
	KafkaBroker []string
	KafkaTopic  string
}

// FromEnv builds the config from ACTIONGATE_* environment variables so main
// stays lean.
func FromEnv() (Server, error) {
	var errs []string
	duration := func(key string, def time.Duration) time.Duration {
		raw := os.Getenv(key)
		if raw == "" {
			return def
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Sprintf("%s: %q is not a positive duration", key, raw))
			return def
		}
		return d
	}
	integer := func(key string, def int) int {
		raw := os.Getenv(key)
		if raw == "" {
			return def
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Sprintf("%s: %q is not a positive integer", key, raw))
			return def
		}
		return n
	}

	cfg := Server{
		Addr:              envOr("ACTIONGATE_ADDR", ":8080"),
		AdminToken:        os.Getenv("ACTIONGATE_ADMIN_TOKEN"),
		LogLevel:          envOr("ACTIONGATE_LOG_LEVEL", "info"),
		Scope:             envOr("ACTIONGATE_SCOPE", "default"),
		SessionTTL:        duration("ACTIONGATE_SESSION_TTL", 8*time.Hour),
		HoldThreshold:     duration("ACTIONGATE_HOLD_THRESHOLD", 400*time.Millisecond),
		IdleTimeout:       duration("ACTIONGATE_IDLE_TIMEOUT", 0),
		BoundaryFile:      os.Getenv("ACTIONGATE_BOUNDARY_FILE"),
		BoundaryTool:      os.Getenv("ACTIONGATE_BOUNDARY_TOOL"),
		BoundaryModality:  os.Getenv("ACTIONGATE_BOUNDARY_MODALITY"),
		ACCTTL:            duration("ACTIONGATE_ACC_TTL", 5*time.Minute),
		ACCMaxAttempts:    integer("ACTIONGATE_ACC_MAX_ATTEMPTS", 3),
		IntegrityInterval: duration("ACTIONGATE_INTEGRITY_INTERVAL", 24*time.Hour),
		PresetsFile:       os.Getenv("ACTIONGATE_PRESETS_FILE"),
		Preset:            os.Getenv("ACTIONGATE_PRESET"),
		Audit: Audit{
			FlushInterval: duration("ACTIONGATE_FLUSH_INTERVAL", time.Second),
			FlushBuffer:   integer("ACTIONGATE_FLUSH_BUFFER", 1024),
			JSONLPath:     os.Getenv("ACTIONGATE_JSONL_PATH"),
			SQLitePath:    os.Getenv("ACTIONGATE_SQLITE_PATH"),
			PostgresDSN:   os.Getenv("ACTIONGATE_POSTGRES_DSN"),
			RedisAddr:     os.Getenv("ACTIONGATE_REDIS_ADDR"),
			RedisStream:   envOr("ACTIONGATE_REDIS_STREAM", "actiongate:audit"),
			KafkaBroker:   splitList(os.Getenv("ACTIONGATE_KAFKA_BROKERS")),
			KafkaTopic:    envOr("ACTIONGATE_KAFKA_TOPIC", "actiongate.audit"),
		},
	}

	if cfg.Preset != "" && cfg.PresetsFile == "" {
		errs = append(errs, "ACTIONGATE_PRESET requires ACTIONGATE_PRESETS_FILE")
	}
	if len(errs) > 0 {
		return Server{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
