// Package config loads PerformanceConfig from the environment once at
// process start (spec.md §5: "no global mutable configuration singletons
// outside initial bootstrap"). The loaded value is never mutated again —
// callers pass the frozen struct (or a copy of the field they need) to each
// component's constructor rather than reaching back into the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ProviderRateLimit is the sustained/burst ceiling for one named provider,
// keyed by provider id in PerformanceConfig.ProviderRateLimits.
type ProviderRateLimit struct {
	RequestsPerSecond float64
	BurstCapacity     int
}

// PerformanceConfig is every environment-configurable knob named in
// spec.md §6. It is loaded once via Load and frozen: nothing in the
// pipeline re-reads the environment after bootstrap.
type PerformanceConfig struct {
	// Workers is JobQueueService's worker pool size.
	Workers int
	// PollInterval is how long an idle worker sleeps before retrying PickNext.
	PollInterval time.Duration
	// MaxConsecutiveFailures trips a job type's circuit in JobQueueService.
	// Provider adapters' breakers use the breaker package's default threshold.
	MaxConsecutiveFailures uint32
	// CircuitResetDelay is how long a tripped circuit stays open.
	CircuitResetDelay time.Duration
	// RateLimiterCleanupInterval is loaded but not read by any component;
	// RateLimiter drops timestamps outside its window on every call instead.
	RateLimiterCleanupInterval time.Duration

	// ProviderRateLimits holds the per-provider sustained RPS/burst ceiling,
	// keyed by provider id (e.g. "tmdb", "tvdb", "fanart", "omdb").
	ProviderRateLimits map[string]ProviderRateLimit
	// ProviderRequestTimeout bounds a single adapter HTTP call.
	ProviderRequestTimeout time.Duration
	// ProviderMaxRetries is loaded but not read by any component; remote
	// adapters use a fixed retry policy.
	ProviderMaxRetries int

	// AssetMaxConcurrentDownloads is loaded but not read by any component;
	// select-assets downloads its winners one at a time.
	AssetMaxConcurrentDownloads int
	// AssetMaxBytes (default 50MiB) is loaded but not read by any component;
	// asset downloads are not size-limited.
	AssetMaxBytes int64
	// ImageProcessingTimeout is loaded but not read by any component.
	ImageProcessingTimeout time.Duration

	// DBPoolSize and DBQueryTimeout are loaded but not read by any component;
	// storage.Open always uses a single connection.
	DBPoolSize      int
	DBQueryTimeout  time.Duration

	// HistoryRetentionCompletedDays and HistoryRetentionFailedDays are loaded
	// but not read by any component; the scheduled-cleanup handler calls
	// JobStore.CleanupHistory with fixed 30- and 90-day cutoffs.
	HistoryRetentionCompletedDays int
	HistoryRetentionFailedDays    int
}

// defaultProviderRateLimits mirrors spec.md §6's enumerated per-provider RPS:
// tmdb=4, tvdb=4, fanart=2, omdb configurable (defaulted here to 1, the
// documented floor for an unauthenticated/free-tier OMDb key).
func defaultProviderRateLimits() map[string]ProviderRateLimit {
	return map[string]ProviderRateLimit{
		"tmdb":   {RequestsPerSecond: 4, BurstCapacity: 8},
		"tvdb":   {RequestsPerSecond: 4, BurstCapacity: 8},
		"fanart": {RequestsPerSecond: 2, BurstCapacity: 4},
		"omdb":   {RequestsPerSecond: 1, BurstCapacity: 2},
	}
}

// Load reads PerformanceConfig from the environment, falling back to
// spec.md §6's documented defaults for anything unset. Call once at process
// start; the returned value must be treated as immutable thereafter.
func Load() PerformanceConfig {
	c := PerformanceConfig{
		Workers:                       getEnvInt("CURATOR_WORKERS", 5),
		PollInterval:                  getEnvDuration("CURATOR_POLL_INTERVAL_MS", time.Second, true),
		MaxConsecutiveFailures:        uint32(getEnvInt("CURATOR_MAX_CONSECUTIVE_FAILURES", 5)),
		CircuitResetDelay:             getEnvDuration("CURATOR_CIRCUIT_RESET_DELAY_MS", 60*time.Second, true),
		RateLimiterCleanupInterval:    getEnvDuration("CURATOR_RATE_LIMITER_CLEANUP_MS", 60*time.Second, true),
		ProviderRateLimits:            defaultProviderRateLimits(),
		ProviderRequestTimeout:        getEnvDuration("CURATOR_PROVIDER_REQUEST_TIMEOUT_MS", 10*time.Second, true),
		ProviderMaxRetries:            getEnvInt("CURATOR_PROVIDER_MAX_RETRIES", 3),
		AssetMaxConcurrentDownloads:   getEnvInt("CURATOR_ASSET_MAX_CONCURRENT_DOWNLOADS", 5),
		AssetMaxBytes:                 getEnvInt64("CURATOR_ASSET_MAX_BYTES", 52428800),
		ImageProcessingTimeout:        getEnvDuration("CURATOR_IMAGE_PROCESSING_TIMEOUT_MS", 30*time.Second, true),
		DBPoolSize:                    getEnvInt("CURATOR_DB_POOL_SIZE", 5),
		DBQueryTimeout:                getEnvDuration("CURATOR_DB_QUERY_TIMEOUT_MS", 30*time.Second, true),
		HistoryRetentionCompletedDays: getEnvInt("CURATOR_HISTORY_RETENTION_COMPLETED_DAYS", 14),
		HistoryRetentionFailedDays:    getEnvInt("CURATOR_HISTORY_RETENTION_FAILED_DAYS", 30),
	}
	applyProviderOverride(c.ProviderRateLimits, "tmdb", "CURATOR_TMDB_RPS", "CURATOR_TMDB_BURST")
	applyProviderOverride(c.ProviderRateLimits, "tvdb", "CURATOR_TVDB_RPS", "CURATOR_TVDB_BURST")
	applyProviderOverride(c.ProviderRateLimits, "fanart", "CURATOR_FANART_RPS", "CURATOR_FANART_BURST")
	applyProviderOverride(c.ProviderRateLimits, "omdb", "CURATOR_OMDB_RPS", "CURATOR_OMDB_BURST")
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.ProviderMaxRetries <= 0 {
		c.ProviderMaxRetries = 3
	}
	return c
}

func applyProviderOverride(m map[string]ProviderRateLimit, id, rpsKey, burstKey string) {
	decl := m[id]
	if v := getEnvFloat(rpsKey, 0); v > 0 {
		decl.RequestsPerSecond = v
	}
	if v := getEnvInt(burstKey, 0); v > 0 {
		decl.BurstCapacity = v
	}
	m[id] = decl
}

func getEnv(key, defaultVal string) string {
	if v := lookupEnv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := lookupEnv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if v := lookupEnv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := lookupEnv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvDuration reads key as milliseconds (msSuffix=true matches the
// "...Ms" env var names spec.md §6 enumerates) or a time.ParseDuration
// string, falling back to defaultVal.
func getEnvDuration(key string, defaultVal time.Duration, msSuffix bool) time.Duration {
	v := lookupEnv(key)
	if v == "" {
		return defaultVal
	}
	if msSuffix {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultVal
}

func lookupEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
