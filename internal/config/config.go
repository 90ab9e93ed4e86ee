// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config is the process-wide configuration, parsed from environment
// variables with envDefault fallbacks.
type Config struct {
	AppEnv          string `env:"APP_ENV" envDefault:"dev"`
	Port            int    `env:"PORT" envDefault:"8080"`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"surveypipe"`
	OTLPEndpoint    string `env:"OTLP_ENDPOINT"`

	DBURL string `env:"DATABASE_URL" envDefault:"postgres://localhost:5432/surveypipe?sslmode=disable"`

	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	RedpandaBrokers []string `env:"REDPANDA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`

	CORSAllowOrigins []string `env:"CORS_ALLOW_ORIGINS" envSeparator:"," envDefault:"*"`
	RateLimitPerMin  int      `env:"RATE_LIMIT_PER_MIN" envDefault:"600"`

	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	RequestTimeout        time.Duration `env:"REQUEST_TIMEOUT" envDefault:"20s"`

	// QC / Batch Manager.
	DefaultBatchSize       int     `env:"QC_BATCH_SIZE" envDefault:"5"`
	DefaultSampleFraction  float64 `env:"QC_SAMPLE_FRACTION" envDefault:"0.4"`
	DefaultRemainderPolicy string  `env:"QC_REMAINDER_POLICY" envDefault:"queued_for_qc"`

	// Review Queue & Lease Service.
	LeaseDurationSeconds int `env:"REVIEW_LEASE_DURATION_SECONDS" envDefault:"1800"`

	// Duplicate Detector.
	DuplicateScanBatchSize     int           `env:"DUP_SCAN_BATCH_SIZE" envDefault:"1000"`
	DuplicateGPSTolerance      float64       `env:"DUP_GPS_TOLERANCE" envDefault:"0.0001"`
	DuplicateTimeTolerance     time.Duration `env:"DUP_TIME_TOLERANCE" envDefault:"1s"`
	DuplicateAudioDurationTol  time.Duration `env:"DUP_AUDIO_DURATION_TOLERANCE" envDefault:"1s"`
	DuplicateAudioBitrateTol   int           `env:"DUP_AUDIO_BITRATE_TOLERANCE" envDefault:"1"`
	DuplicateAudioSizeTolBytes int64         `env:"DUP_AUDIO_SIZE_TOLERANCE_BYTES" envDefault:"1024"`

	// Offline Sync Engine server-side mirror. The engine itself runs
	// client-side (pkg/offlinesync) with its own Repeated500Threshold;
	// this value is parsed but no server component reads it.
	SyncDuplicateRepeated500Threshold int `env:"SYNC_DUP_500_THRESHOLD" envDefault:"2"`

	// Telephony Adapter retry/backoff (makeCall/registerAgent timeout 30s,
	// cenkalti/backoff/v4-driven retry).
	TelephonyCallTimeout       time.Duration `env:"TELEPHONY_CALL_TIMEOUT" envDefault:"30s"`
	TelephonyBackoffInitial    time.Duration `env:"TELEPHONY_BACKOFF_INITIAL" envDefault:"200ms"`
	TelephonyBackoffMax        time.Duration `env:"TELEPHONY_BACKOFF_MAX" envDefault:"2s"`
	TelephonyBackoffMaxRetries int           `env:"TELEPHONY_BACKOFF_MAX_RETRIES" envDefault:"3"`

	// TelephonyProviderRateLimitPerMin caps outbound makeCall volume per
	// vendor (not per company): a Redis token bucket keyed by provider
	// name, so a misbehaving tenant can't single-handedly exhaust a
	// shared vendor's rate limit for every other tenant on that provider.
	TelephonyProviderRateLimitPerMin int `env:"TELEPHONY_PROVIDER_RATE_LIMIT_PER_MIN" envDefault:"120"`

	// Telephony provider credentials. Vendor wire formats are out of
	// scope (non-goal); these just parameterize the two provider
	// adapters' HTTP clients.
	ProviderABaseURL    string `env:"PROVIDER_A_BASE_URL" envDefault:"http://localhost:9101"`
	ProviderAAPIKey     string `env:"PROVIDER_A_API_KEY"`
	ProviderBBaseURL    string `env:"PROVIDER_B_BASE_URL" envDefault:"http://localhost:9102"`
	ProviderBAccountSID string `env:"PROVIDER_B_ACCOUNT_SID"`
	ProviderBAuthToken  string `env:"PROVIDER_B_AUTH_TOKEN"`

	// AudioStoreDir roots the local-disk AudioStore adapter; a real
	// deployment would point an object-storage adapter at a bucket
	// instead, per the storage non-goal.
	AudioStoreDir string `env:"AUDIO_STORE_DIR" envDefault:"./data/audio"`

	// Review-lease sweeper.
	LeaseSweepInterval time.Duration `env:"LEASE_SWEEP_INTERVAL" envDefault:"1m"`

	AdminEnabledFlag bool `env:"ADMIN_ENABLED" envDefault:"false"`

	// Principal token verification. Authentication itself happens upstream
	// (gateway/SSO); this secret only verifies the bearer token the gateway
	// forwards carries an unforged principal (user id, role, company).
	PrincipalTokenSecret string `env:"PRINCIPAL_TOKEN_SECRET" envDefault:"dev-insecure-secret-change-me"`
}

// Load parses Config from the environment.
func Load() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the process is running in a development environment.
func (c Config) IsDev() bool { return c.AppEnv == "dev" }

// IsProd reports whether the process is running in production.
func (c Config) IsProd() bool { return c.AppEnv == "prod" }

// IsTest reports whether the process is running under test.
func (c Config) IsTest() bool { return c.AppEnv == "test" }

// AdminEnabled reports whether admin-only routes should be mounted.
func (c Config) AdminEnabled() bool { return c.AdminEnabledFlag }

// RemainderPolicyEnum parses DefaultRemainderPolicy into its canonical
// string, falling back to queued_for_qc on an unrecognized string.
func (c Config) RemainderPolicyEnum() string {
	switch c.DefaultRemainderPolicy {
	case "auto_approved", "auto_approve":
		return "auto_approved"
	case "auto_rejected", "auto_reject":
		return "auto_rejected"
	default:
		return "queued_for_qc"
	}
}
