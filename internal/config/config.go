package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Event bus (C6)
	BusAddr     string
	BusStream   string
	BusGroup    string
	BusConsumer string

	// Dispatch (C4)
	DispatchWorkers int
	LeaseDuration   time.Duration
	BusPollInterval time.Duration
	ReclaimIdle     time.Duration

	// Rate limiting: maximum requests per second per provider
	RateLimit int

	// Retry policy (C7)
	RetryBase        time.Duration
	RetryCap         time.Duration
	RetryMaxAttempts int
	RetryJitter      float64

	// Background worker poll intervals
	SchedulerInterval time.Duration
	RetryInterval     time.Duration

	// Sweeper (§5): re-admits orphaned PENDING rows and releases expired
	// FORWARDED leases that no dispatch event ever came back for.
	SweepInterval   time.Duration
	OrphanThreshold time.Duration

	// Selector (C3)
	HousingRequesters  []string
	SMTPThresholdBytes int64

	// Attachments (C1)
	MaxAttachmentBytes      int64
	MaxAttachments          int
	MaxTotalAttachmentBytes int64

	// Auth
	OIDCIssuer    string
	OIDCAudience  string
	RequiredRoles []string
	AdminRoles    []string

	// GC Notify provider (C5)
	GCNotifyBaseURL   string
	GCNotifyAPIKey    string
	GCNotifyTimeout   time.Duration
	GCNotifyMaxInFlight int64

	// SMTP provider (C5)
	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// HOUSING provider (C5)
	HousingBaseURL      string
	HousingTokenURL     string
	HousingClientID     string
	HousingClientSecret string
	HousingTimeout      time.Duration
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL: dbURL,
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		BusAddr:     getEnv("BUS_ADDR", "localhost:6379"),
		BusStream:   getEnv("BUS_STREAM", "notify:dispatch"),
		BusGroup:    getEnv("BUS_GROUP", "dispatchers"),
		BusConsumer: getEnv("BUS_CONSUMER", hostnameOrDefault()),

		DispatchWorkers: getInt("DISPATCH_WORKERS", 10),
		LeaseDuration:   getDuration("LEASE_DURATION", 2*time.Minute),
		BusPollInterval: getDuration("BUS_POLL_INTERVAL", time.Second),
		ReclaimIdle:     getDuration("RECLAIM_IDLE", 5*time.Minute),

		RateLimit: getInt("RATE_LIMIT_PER_PROVIDER", 100),

		RetryBase:        getDuration("RETRY_BASE", 5*time.Second),
		RetryCap:         getDuration("RETRY_CAP", 10*time.Minute),
		RetryMaxAttempts: getInt("RETRY_MAX_ATTEMPTS", 5),
		RetryJitter:      getFloat("RETRY_JITTER", 0.2),

		SchedulerInterval: getDuration("SCHEDULER_INTERVAL", 5*time.Second),
		RetryInterval:     getDuration("RETRY_INTERVAL", 10*time.Second),

		SweepInterval:   getDuration("SWEEP_INTERVAL", 60*time.Second),
		OrphanThreshold: getDuration("ORPHAN_THRESHOLD", 2*60*time.Second),

		HousingRequesters:  getList("HOUSING_REQUESTERS", []string{"STRR"}),
		SMTPThresholdBytes: getInt64("SMTP_THRESHOLD_BYTES", 6291456),

		MaxAttachmentBytes:      getInt64("MAX_ATTACHMENT_BYTES", 6*1024*1024),
		MaxAttachments:          getInt("MAX_ATTACHMENTS", 10),
		MaxTotalAttachmentBytes: getInt64("MAX_TOTAL_ATTACHMENT_BYTES", 20971520),

		OIDCIssuer:    getEnv("OIDC_ISSUER", ""),
		OIDCAudience:  getEnv("OIDC_AUDIENCE", "notify-core"),
		RequiredRoles: getList("REQUIRED_ROLES", []string{"notify-client", "notify-admin"}),
		AdminRoles:    getList("ADMIN_ROLES", []string{"notify-admin"}),

		GCNotifyBaseURL:     getEnv("GC_NOTIFY_BASE_URL", "https://api.notification.canada.ca"),
		GCNotifyAPIKey:      getEnv("GC_NOTIFY_API_KEY", ""),
		GCNotifyTimeout:     getDuration("GC_NOTIFY_TIMEOUT", 10*time.Second),
		GCNotifyMaxInFlight: getInt64("GC_NOTIFY_MAX_IN_FLIGHT", 32),

		SMTPHost: getEnv("SMTP_HOST", "localhost"),
		SMTPPort: getInt("SMTP_PORT", 587),
		SMTPUser: getEnv("SMTP_USER", ""),
		SMTPPass: getEnv("SMTP_PASS", ""),
		SMTPFrom: getEnv("SMTP_FROM", "notify@example.gc.ca"),

		HousingBaseURL:      getEnv("HOUSING_BASE_URL", ""),
		HousingTokenURL:     getEnv("HOUSING_TOKEN_URL", ""),
		HousingClientID:     getEnv("HOUSING_CLIENT_ID", ""),
		HousingClientSecret: getEnv("HOUSING_CLIENT_SECRET", ""),
		HousingTimeout:      getDuration("HOUSING_TIMEOUT", 10*time.Second),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "dispatcher-1"
	}
	return h
}
