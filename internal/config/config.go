// Package config assembles runtime configuration: .env file (if present),
// then environment variables, then an optional YAML overrides file for
// scheduler and ingest tunables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Notify modes accepted by NOTIFY_MODE.
var notifyModes = map[string]bool{"off": true, "all": true, "admin_only": true}

// Config is the resolved runtime configuration.
type Config struct {
	AppVersion string
	GitSHA     string

	HTTPAddr string

	Provider         string
	FallbackProvider string
	ProviderBaseURL  string

	MarketCachePath string
	StateDir        string
	QueueDBPath     string
	UsersFile       string

	UserStrategiesDir   string
	PresetsDir          string
	DetectorAliasesPath string

	ScanIntervalMin    int
	MisfireGraceSec    int
	PollIntervalSec    int
	WarmupCount        int
	IncrementalLimit   int
	PersistEveryCycles int

	StrictStrategyDetectors bool
	StrategyFailoverOnBlock bool
	DailyLimitPerSymbol     int
	SignalCooldownMinutes   int
	AutofixThreshold        float64
	ShadowAllDetectors      bool
	StrictStartup           bool

	NotifyMode       string
	TelegramBotToken string

	DetectorWarnMS  int
	FeatureWarnMS   int
	PairWarnMS      int
	ScanCycleWarnMS int

	PatchSuggestionsPath string
	PatchAuditPath       string
	MetricsEventsPath    string
	SignalsLegacyPath    string
	SignalsPublicPath    string
}

// yamlOverrides is the optional tunables file (CONFIG_FILE).
type yamlOverrides struct {
	Scheduler struct {
		IntervalMin     *int `yaml:"interval_min"`
		MisfireGraceSec *int `yaml:"misfire_grace_sec"`
	} `yaml:"scheduler"`
	Ingest struct {
		PollIntervalSec    *int `yaml:"poll_interval_sec"`
		WarmupCount        *int `yaml:"warmup_count"`
		IncrementalLimit   *int `yaml:"incremental_limit"`
		PersistEveryCycles *int `yaml:"persist_every_cycles"`
	} `yaml:"ingest"`
}

// Load resolves configuration. A missing .env is not an error; a present
// but unreadable CONFIG_FILE is.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env")
	}

	stateDir := envStr("STATE_DIR", "./state")
	cfg := &Config{
		AppVersion: envStr("APP_VERSION", "dev"),
		GitSHA:     envStr("GIT_SHA", "unknown"),

		HTTPAddr: envStr("HTTP_ADDR", ":8080"),

		Provider:         providerEnv(),
		FallbackProvider: envStr("FALLBACK_PROVIDER", ""),
		ProviderBaseURL:  envStr("PROVIDER_BASE_URL", ""),

		MarketCachePath: envStr("MARKET_CACHE_PATH", stateDir+"/market_cache.json"),
		StateDir:        stateDir,
		QueueDBPath:     envStr("QUEUE_DB_PATH", stateDir+"/queue.db"),
		UsersFile:       envStr("USERS_FILE", "./users.yaml"),

		UserStrategiesDir:   envStr("USER_STRATEGIES_DIR", "./strategies"),
		PresetsDir:          envStr("PRESETS_DIR", "./presets"),
		DetectorAliasesPath: envStr("DETECTOR_ALIASES_PATH", ""),

		ScanIntervalMin:    envInt("AUTO_SCAN_INTERVAL_MIN", 5),
		MisfireGraceSec:    envInt("SCHEDULER_MISFIRE_GRACE_SEC", 30),
		PollIntervalSec:    envInt("INGEST_POLL_INTERVAL_SEC", 60),
		WarmupCount:        envInt("INGEST_WARMUP_COUNT", 1500),
		IncrementalLimit:   envInt("INGEST_INCREMENTAL_LIMIT", 50),
		PersistEveryCycles: envInt("INGEST_PERSIST_EVERY", 5),

		StrictStrategyDetectors: envBool("STRICT_STRATEGY_DETECTORS", false),
		StrategyFailoverOnBlock: envBool("STRATEGY_FAILOVER_ON_BLOCK", true),
		DailyLimitPerSymbol:     envInt("DAILY_LIMIT_PER_SYMBOL", 0),
		SignalCooldownMinutes:   envInt("SIGNAL_COOLDOWN_MINUTES", 60),
		AutofixThreshold:        envFloat("UNKNOWN_DETECTOR_AUTOFIX_THRESHOLD", 0.85),
		ShadowAllDetectors:      envBool("SHADOW_ALL_DETECTORS", false),
		StrictStartup:           envBool("STRICT_STARTUP", false),

		NotifyMode:       envStr("NOTIFY_MODE", "all"),
		TelegramBotToken: envStr("TELEGRAM_BOT_TOKEN", ""),

		DetectorWarnMS:  envInt("DETECTOR_WARN_MS", 250),
		FeatureWarnMS:   envInt("FEATURE_WARN_MS", 500),
		PairWarnMS:      envInt("PAIR_WARN_MS", 2000),
		ScanCycleWarnMS: envInt("SCAN_CYCLE_WARN_MS", 30000),

		PatchSuggestionsPath: envStr("PATCH_SUGGESTIONS_PATH", stateDir+"/patch_suggestions.json"),
		PatchAuditPath:       envStr("PATCH_AUDIT_PATH", stateDir+"/patch_audit.jsonl"),
		MetricsEventsPath:    envStr("METRICS_EVENTS_PATH", stateDir+"/metrics_events.jsonl"),
		SignalsLegacyPath:    envStr("SIGNALS_LEGACY_PATH", stateDir+"/signals_v1.jsonl"),
		SignalsPublicPath:    envStr("SIGNALS_PUBLIC_PATH", stateDir+"/signals_public_v1.jsonl"),
	}

	if !notifyModes[cfg.NotifyMode] {
		return nil, fmt.Errorf("config: NOTIFY_MODE %q not one of off|all|admin_only", cfg.NotifyMode)
	}

	if path := envStr("CONFIG_FILE", ""); path != "" {
		if err := cfg.applyYAML(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) applyYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var ov yamlOverrides
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setInt(&c.ScanIntervalMin, ov.Scheduler.IntervalMin)
	setInt(&c.MisfireGraceSec, ov.Scheduler.MisfireGraceSec)
	setInt(&c.PollIntervalSec, ov.Ingest.PollIntervalSec)
	setInt(&c.WarmupCount, ov.Ingest.WarmupCount)
	setInt(&c.IncrementalLimit, ov.Ingest.IncrementalLimit)
	setInt(&c.PersistEveryCycles, ov.Ingest.PersistEveryCycles)
	log.Info().Str("path", path).Msg("applied config overrides")
	return nil
}

// ScanInterval returns the scheduler interval.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalMin) * time.Minute
}

// MisfireGrace returns the scheduler misfire tolerance.
func (c *Config) MisfireGrace() time.Duration {
	return time.Duration(c.MisfireGraceSec) * time.Second
}

// MARKET_DATA_PROVIDER wins over the legacy DATA_PROVIDER name.
func providerEnv() string {
	if v := os.Getenv("MARKET_DATA_PROVIDER"); v != "" {
		return v
	}
	return envStr("DATA_PROVIDER", "synthetic")
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring non-integer env value")
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring non-numeric env value")
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring non-boolean env value")
		return def
	}
}
