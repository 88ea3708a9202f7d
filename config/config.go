// Package config loads runtime configuration for governanceagg from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"governanceagg/observability/otel"
)

// ChainRPC is a single named chain's JSON-RPC endpoint and average block
// time, used by the chain RPC façade's timestamp estimator.
type ChainRPC struct {
	Name         string
	NodeURL      string
	AvgBlockTime time.Duration
}

// Config is the complete runtime configuration for the governanceagg binary.
type Config struct {
	DatabaseURL string
	RedisURL    string

	Chains map[string]ChainRPC

	SemanticSimilarityThreshold float64

	DiscourseForums []string

	SnapshotHubURL string
	SnapshotSpaces []string

	EmbeddingServiceURL   string
	EmbeddingModelVersion string

	HTTPHealthAddr string

	SchedulerBaseTick    time.Duration
	SchedulerGracePeriod time.Duration

	Env string

	OTel OTelConfig

	DiscourseLiveTests   bool
	DiscourseLiveBaseURL string

	OneUptimeKey string

	DiagnosticsOutputDir      string
	DiagnosticsInterval       time.Duration
	DiagnosticsStallThreshold time.Duration
}

// OTelConfig controls OpenTelemetry trace/metric export.
type OTelConfig struct {
	Endpoint string
	Insecure bool
	Headers  map[string]string
	Traces   bool
	Metrics  bool
}

// defaultAvgBlockTimes are the per-chain average block time constants used
// to extrapolate a not-yet-committed block's timestamp.
var defaultAvgBlockTimes = map[string]time.Duration{
	"ethereum":  12200 * time.Millisecond,
	"arbitrum":  250 * time.Millisecond,
	"optimism":  2000 * time.Millisecond,
	"polygon":   2000 * time.Millisecond,
	"avalanche": 2000 * time.Millisecond,
}

// recognizedChains lists the environment variable prefixes FromEnv scans for
// a `<CHAIN>_NODE_URL` entry.
var recognizedChains = []string{"ethereum", "arbitrum", "optimism", "polygon", "avalanche"}

// FromEnv loads configuration from environment variables, failing fast with
// a descriptive error if DATABASE_URL is absent or
// SEMANTIC_SIMILARITY_THRESHOLD is outside [0,1]. Numeric and boolean values
// that do not parse fall back to their defaults without an error.
func FromEnv() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	chains := make(map[string]ChainRPC)
	for _, name := range recognizedChains {
		envKey := strings.ToUpper(name) + "_NODE_URL"
		url := os.Getenv(envKey)
		if url == "" {
			continue
		}
		chains[name] = ChainRPC{
			Name:         name,
			NodeURL:      url,
			AvgBlockTime: defaultAvgBlockTimes[name],
		}
	}

	threshold := parseFloatEnv("SEMANTIC_SIMILARITY_THRESHOLD", 0.75)
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("SEMANTIC_SIMILARITY_THRESHOLD must be in [0,1], got %v", threshold)
	}

	otelCfg := OTelConfig{
		Endpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure: parseBoolEnv("OTEL_EXPORTER_OTLP_INSECURE", false),
		Headers:  otel.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Traces:   true,
		Metrics:  true,
	}

	env := getEnvDefault("GOVAGG_ENV", getEnvDefault("NHB_ENV", "development"))

	return &Config{
		DatabaseURL: dbURL,
		RedisURL:    os.Getenv("REDIS_URL"),

		Chains: chains,

		SemanticSimilarityThreshold: threshold,

		DiscourseForums: parseCSVEnv("DISCOURSE_FORUMS"),

		SnapshotHubURL: getEnvDefault("SNAPSHOT_HUB_URL", "https://hub.snapshot.org/graphql"),
		SnapshotSpaces: parseCSVEnv("SNAPSHOT_SPACES"),

		EmbeddingServiceURL:   os.Getenv("EMBEDDING_SERVICE_URL"),
		EmbeddingModelVersion: getEnvDefault("EMBEDDING_MODEL_VERSION", "unversioned"),

		HTTPHealthAddr: getEnvDefault("HTTP_HEALTH_ADDR", ":8080"),

		SchedulerBaseTick:    time.Duration(parseIntEnv("SCHEDULER_BASE_TICK_MS", 2000)) * time.Millisecond,
		SchedulerGracePeriod: time.Duration(parseIntEnv("SCHEDULER_GRACE_PERIOD_SECONDS", 30)) * time.Second,

		Env: env,

		OTel: otelCfg,

		DiscourseLiveTests:   parseBoolEnv("DISCOURSE_LIVE_TESTS", false),
		DiscourseLiveBaseURL: os.Getenv("DISCOURSE_LIVE_BASE_URL"),

		OneUptimeKey: os.Getenv("ONEUPTIME_KEY"),

		DiagnosticsOutputDir:      getEnvDefault("DIAGNOSTICS_OUTPUT_DIR", "./reports/stalled-governors"),
		DiagnosticsInterval:       time.Duration(parseIntEnv("DIAGNOSTICS_INTERVAL_MINUTES", 30)) * time.Minute,
		DiagnosticsStallThreshold: time.Duration(parseIntEnv("DIAGNOSTICS_STALL_THRESHOLD_MINUTES", 60)) * time.Minute,
	}, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseIntEnv(key string, def int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return def
}

func parseFloatEnv(key string, def float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseBoolEnv(key string, def bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return def
}

func parseCSVEnv(key string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	})
	return fields
}
