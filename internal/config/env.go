// Package config handles environment-based configuration loading.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Network
	ListenAddress string
	Port          int

	// Access
	Password        string
	Blacklist       []string
	Whitelist       []string
	AllowIPs        []string
	AllowCountries  []string
	AdminIPs        []string
	TrustedReferers []string

	// Proxy engine
	MaxRedirects    int
	UpstreamTimeout time.Duration
	EnableCache     bool
	CacheTTL        time.Duration
	CacheCapacity   int

	// Quota
	DailyLimit           int64
	QuotaExemptIPs       []string
	QuotaDB              string
	QuotaCleanupSchedule string
	DedupScope           string
	DedupTTL             time.Duration

	// Per-client rate limiting (0 disables)
	RequestsPerSecond float64
	Burst             int

	// GeoIP
	GeoIPDB             string
	GeoIPReloadSchedule string

	// Route overrides
	RoutesFile string
}

// LoadEnvConfig reads environment variables and returns a validated
// EnvConfig, or an error listing every invalid value.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Network ---
	cfg.ListenAddress = strings.TrimSpace(envStr("VOLTEDGE_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.Port = envInt("VOLTEDGE_PORT", 8080, &errs)

	// --- Access ---
	cfg.Password = envStr("VOLTEDGE_PASSWORD", "")
	cfg.Blacklist = envList("VOLTEDGE_BLACKLIST", nil)
	cfg.Whitelist = envList("VOLTEDGE_WHITELIST", nil)
	cfg.AllowIPs = envList("VOLTEDGE_ALLOW_IPS", nil)
	cfg.AllowCountries = envList("VOLTEDGE_ALLOW_COUNTRIES", nil)
	cfg.AdminIPs = envList("VOLTEDGE_ADMIN_IPS", nil)
	cfg.TrustedReferers = envList("VOLTEDGE_TRUSTED_REFERERS", nil)

	// --- Proxy engine ---
	cfg.MaxRedirects = envInt("VOLTEDGE_MAX_REDIRECTS", 5, &errs)
	cfg.UpstreamTimeout = envDuration("VOLTEDGE_UPSTREAM_TIMEOUT", 30*time.Second, &errs)
	cfg.EnableCache = envBool("VOLTEDGE_ENABLE_CACHE", true, &errs)
	cfg.CacheTTL = envDuration("VOLTEDGE_CACHE_TTL", time.Hour, &errs)
	cfg.CacheCapacity = envInt("VOLTEDGE_CACHE_CAPACITY_BYTES", 64<<20, &errs)

	// --- Quota ---
	cfg.DailyLimit = int64(envInt("VOLTEDGE_DAILY_LIMIT", 200, &errs))
	cfg.QuotaExemptIPs = envList("VOLTEDGE_QUOTA_EXEMPT_IPS", nil)
	cfg.QuotaDB = envStr("VOLTEDGE_QUOTA_DB", "")
	cfg.QuotaCleanupSchedule = envStr("VOLTEDGE_QUOTA_CLEANUP_SCHEDULE", "30 3 * * *")
	cfg.DedupScope = envStr("VOLTEDGE_DEDUP_SCOPE", "path")
	cfg.DedupTTL = envDuration("VOLTEDGE_DEDUP_TTL", 5*time.Second, &errs)

	// --- Rate limiting ---
	cfg.RequestsPerSecond = envFloat("VOLTEDGE_REQUESTS_PER_SECOND", 0, &errs)
	cfg.Burst = envInt("VOLTEDGE_BURST", 20, &errs)

	// --- GeoIP ---
	cfg.GeoIPDB = envStr("VOLTEDGE_GEOIP_DB", "")
	cfg.GeoIPReloadSchedule = envStr("VOLTEDGE_GEOIP_RELOAD_SCHEDULE", "17 4 * * *")

	// --- Route overrides ---
	cfg.RoutesFile = envStr("VOLTEDGE_ROUTES_FILE", "")

	// --- Validation ---
	if cfg.ListenAddress == "" {
		errs = append(errs, "VOLTEDGE_LISTEN_ADDRESS must not be empty")
	}
	validatePort("VOLTEDGE_PORT", cfg.Port, &errs)
	if cfg.MaxRedirects <= 0 {
		errs = append(errs, "VOLTEDGE_MAX_REDIRECTS must be positive")
	}
	if cfg.UpstreamTimeout <= 0 {
		errs = append(errs, "VOLTEDGE_UPSTREAM_TIMEOUT must be positive")
	}
	if cfg.CacheTTL <= 0 {
		errs = append(errs, "VOLTEDGE_CACHE_TTL must be positive")
	}
	if cfg.CacheCapacity <= 0 {
		errs = append(errs, "VOLTEDGE_CACHE_CAPACITY_BYTES must be positive")
	}
	if cfg.DailyLimit < 0 {
		errs = append(errs, "VOLTEDGE_DAILY_LIMIT must not be negative")
	}
	if cfg.DedupScope != "path" && cfg.DedupScope != "url" {
		errs = append(errs, fmt.Sprintf("VOLTEDGE_DEDUP_SCOPE: invalid value %q (allowed: path, url)", cfg.DedupScope))
	}
	if cfg.DedupTTL <= 0 {
		errs = append(errs, "VOLTEDGE_DEDUP_TTL must be positive")
	}
	if cfg.RequestsPerSecond < 0 {
		errs = append(errs, "VOLTEDGE_REQUESTS_PER_SECOND must not be negative")
	}
	if cfg.Burst <= 0 {
		errs = append(errs, "VOLTEDGE_BURST must be positive")
	}
	if strings.ContainsAny(cfg.Password, "/?#") {
		errs = append(errs, "VOLTEDGE_PASSWORD must not contain '/', '?' or '#'")
	}
	for _, key := range []struct{ name, expr string }{
		{"VOLTEDGE_QUOTA_CLEANUP_SCHEDULE", cfg.QuotaCleanupSchedule},
		{"VOLTEDGE_GEOIP_RELOAD_SCHEDULE", cfg.GeoIPReloadSchedule},
	} {
		if _, err := cron.ParseStandard(key.expr); err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid cron expression %q: %v", key.name, key.expr, err))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envFloat(key string, defaultVal float64, errs *[]string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid number %q", key, v))
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

// envList parses a comma or newline separated list, trimming whitespace
// and dropping empty entries.
func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}
