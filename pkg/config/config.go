// Package config loads dispatcher settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Prefix is prepended to every variable name
const Prefix = "DAEDALUS_"

// PushMode selects the channel completion events arrive on
type PushMode string

const (
	PushModeNATS     PushMode = "nats"
	PushModeSocketIO PushMode = "socketio"
)

// HistoryBackend selects where the last run's output is read from
type HistoryBackend string

const (
	HistoryMemory HistoryBackend = "memory"
	HistoryRedis  HistoryBackend = "redis"
	HistoryBlob   HistoryBackend = "blob"
)

// Source indicates where the observer concurrency came from
type Source string

const (
	SourceEnvVar     Source = "environment_variable"
	SourceAutoDetect Source = "auto_detect"
)

// Config holds dispatcher settings
type Config struct {
	Environment string
	LogLevel    string

	NATSURL      string
	NATSToken    string
	NATSUser     string
	NATSPassword string

	RunnerSubject     string
	CompletionSubject string
	SubmitTimeout     time.Duration
	MaxInlineSize     int

	BreakerThreshold int64
	BreakerReset     time.Duration

	PushMode      PushMode
	PushURL       string
	PushNamespace string
	PushInsecure  bool

	HistoryBackend HistoryBackend
	HistoryTTL     time.Duration
	RedisURL       string

	AzureConnectionString string
	AzureContainer        string

	NodeTypesFile string

	OTLPEndpoint string
	SampleRatio  float64

	SentryDSN string

	ObserverConcurrency int
	ObserverSource      Source
	IsKubernetes        bool
	EffectiveCPUs       int
}

// Load reads envFiles (".env" when none are given) into the environment,
// ignoring missing files, and builds a Config from it. Variables already set
// win over file values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment
func FromEnv() (*Config, error) {
	c := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		NATSURL:      getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		NATSToken:    getEnv("NATS_TOKEN", ""),
		NATSUser:     getEnv("NATS_USER", ""),
		NATSPassword: getEnv("NATS_PASSWORD", ""),

		RunnerSubject:     getEnv("RUNNER_SUBJECT", "runner.execute"),
		CompletionSubject: getEnv("COMPLETION_SUBJECT", "runner.events.finished"),
		MaxInlineSize:     getEnvInt("MAX_INLINE_SIZE", 0),
		BreakerThreshold:  int64(getEnvInt("BREAKER_THRESHOLD", 5)),

		PushMode:      PushMode(strings.ToLower(getEnv("PUSH_MODE", string(PushModeNATS)))),
		PushURL:       getEnv("PUSH_URL", ""),
		PushNamespace: getEnv("PUSH_NAMESPACE", "/"),
		PushInsecure:  getEnvBool("PUSH_INSECURE", false),

		HistoryBackend: HistoryBackend(strings.ToLower(getEnv("HISTORY_BACKEND", string(HistoryMemory)))),
		RedisURL:       getEnv("REDIS_URL", ""),

		AzureConnectionString: getEnv("AZURE_STORAGE_CONNECTION_STRING", ""),
		AzureContainer:        getEnv("AZURE_STORAGE_CONTAINER", "daedalus"),

		NodeTypesFile: getEnv("NODE_TYPES_FILE", ""),
		OTLPEndpoint:  getEnv("OTLP_ENDPOINT", ""),
		SentryDSN:     getEnv("SENTRY_DSN", ""),

		IsKubernetes:  isKubernetes(),
		EffectiveCPUs: runtime.GOMAXPROCS(0),
	}

	var err error
	if c.SubmitTimeout, err = getEnvDuration("SUBMIT_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if c.BreakerReset, err = getEnvDuration("BREAKER_RESET", 30*time.Second); err != nil {
		return nil, err
	}
	if c.HistoryTTL, err = getEnvDuration("HISTORY_TTL", 0); err != nil {
		return nil, err
	}
	if c.SampleRatio, err = getEnvFloat("TRACE_SAMPLE_RATIO", 1.0); err != nil {
		return nil, err
	}

	if n := getEnvInt("OBSERVER_CONCURRENCY", 0); n > 0 {
		c.ObserverConcurrency = n
		c.ObserverSource = SourceEnvVar
	} else {
		c.ObserverConcurrency = defaultObserverConcurrency(c.IsKubernetes, c.EffectiveCPUs)
		c.ObserverSource = SourceAutoDetect
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that the selected backends have what they need
func (c *Config) Validate() error {
	if c.NATSURL == "" {
		return fmt.Errorf("%sNATS_URL cannot be empty", Prefix)
	}
	if c.RunnerSubject == "" {
		return fmt.Errorf("%sRUNNER_SUBJECT cannot be empty", Prefix)
	}

	switch c.PushMode {
	case PushModeNATS:
		if c.CompletionSubject == "" {
			return fmt.Errorf("%sCOMPLETION_SUBJECT cannot be empty", Prefix)
		}
	case PushModeSocketIO:
		if c.PushURL == "" {
			return fmt.Errorf("%sPUSH_URL is required for push mode %q", Prefix, c.PushMode)
		}
	default:
		return fmt.Errorf("unknown push mode %q", c.PushMode)
	}

	switch c.HistoryBackend {
	case HistoryMemory:
	case HistoryRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%sREDIS_URL is required for history backend %q", Prefix, c.HistoryBackend)
		}
	case HistoryBlob:
		if c.AzureConnectionString == "" {
			return fmt.Errorf("%sAZURE_STORAGE_CONNECTION_STRING is required for history backend %q", Prefix, c.HistoryBackend)
		}
	default:
		return fmt.Errorf("unknown history backend %q", c.HistoryBackend)
	}

	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("%sTRACE_SAMPLE_RATIO must be between 0 and 1", Prefix)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid %sLOG_LEVEL: %w", Prefix, err)
	}
	return nil
}

// String returns a summary safe to log; secrets are left out
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Env: %s, NATS: %s, Runner: %s, Push: %s, History: %s, Observers: %d (%s), IsK8s: %t, CPUs: %d}",
		c.Environment,
		c.NATSURL,
		c.RunnerSubject,
		c.PushMode,
		c.HistoryBackend,
		c.ObserverConcurrency,
		c.ObserverSource,
		c.IsKubernetes,
		c.EffectiveCPUs,
	)
}

// NewLogger builds a zap logger at level. Development environments get the
// console encoder.
func NewLogger(level, environment string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if environment == "development" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// isKubernetes detects if the process runs in a Kubernetes pod
func isKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// defaultObserverConcurrency is conservative in Kubernetes where CPU limits are tight
func defaultObserverConcurrency(isK8s bool, cpus int) int {
	if isK8s {
		return max(cpus, 4)
	}
	return max(cpus*2, 4)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(Prefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(Prefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(Prefix + key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(Prefix + key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s: %w", Prefix, key, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(Prefix + key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s: %w", Prefix, key, err)
	}
	return d, nil
}
