package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"ott-proxy/work/logger"
)

// Default upstream impersonation set. The upstream CDN only serves requests that
// look like they come from its own embedding page.
const (
	DefaultUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	DefaultReqReferrer = "https://fmoviesunblocked.net/"
	DefaultReqOrigin   = "https://h5.aoneroom.com"

	// DefaultConfigPath is read when OTT_PROXY_CONFIG is not set
	DefaultConfigPath = "/settings/config.json"
)

// Config holds all application configuration values for the streaming proxy.
// It covers the token and link lifetimes, the upstream connection pool, the
// metadata cache and the optional background tasks.
type Config struct {
	BaseURL              string          `json:"baseURL"`              // Public base URL of this server
	ListenAddr           string          `json:"listenAddr"`           // Address the HTTP server binds to
	LogLevel             string          `json:"logLevel"`             // DEBUG, INFO, WARN or ERROR
	Debug                bool            `json:"debug"`                // Forces DEBUG logging
	ObfuscateUrls        bool            `json:"obfuscateUrls"`        // Obfuscate upstream URLs in logs
	WorkerThreads        int             `json:"workerThreads"`        // Size of the background worker pool
	CacheDuration        time.Duration   `json:"cacheDuration"`        // Metadata cache TTL
	CacheMaxEntries      int             `json:"cacheMaxEntries"`      // Bound on metadata entries, 0 means unbounded
	TokenTTL             time.Duration   `json:"tokenTTL"`             // Token lifetime, 0 means tokens never expire
	TokenSweepInterval   time.Duration   `json:"tokenSweepInterval"`   // Janitor interval, 0 disables the janitor
	LinkLifetime         time.Duration   `json:"linkLifetime"`         // Offset used for the exp field of secure links
	LinkSigningKey       string          `json:"linkSigningKey"`       // Enables verified link signatures when set
	ChunkSize            int64           `json:"chunkSize"`            // Relay chunk size in bytes
	ConnectTimeout       time.Duration   `json:"connectTimeout"`       // Upstream dial and TLS timeout
	StreamTimeout        time.Duration   `json:"streamTimeout"`        // Upstream header and read inactivity timeout
	MaxIdleConns         int             `json:"maxIdleConns"`         // Keep-alive pool size
	MaxConnsPerHost      int             `json:"maxConnsPerHost"`      // Hard cap on upstream connections per host
	MaxConcurrentStreams int             `json:"maxConcurrentStreams"` // Admission limit for proxied transfers
	UpstreamRateLimit    int             `json:"upstreamRateLimit"`    // New upstream requests per second per host, 0 is unlimited
	UserAgent            string          `json:"userAgent"`            // Impersonated User-Agent
	ReqOrigin            string          `json:"reqOrigin"`            // Impersonated Origin
	ReqReferrer          string          `json:"reqReferrer"`          // Impersonated Referer
	LegacyProxyEnabled   bool            `json:"legacyProxyEnabled"`   // Serve /proxy_video?url=
	CatalogFile          string          `json:"catalogFile"`          // JSON catalog consumed by the static resolver
	WarmupItems          []string        `json:"warmupItems"`          // Items whose quality lists are prefetched at start
	KeepAlive            KeepAliveConfig `json:"keepAlive"`            // Self-ping settings
	SentryDSN            string          `json:"sentryDSN"`            // Error reporting, disabled when empty
	Environment          string          `json:"environment"`          // Reported environment name
}

// KeepAliveConfig controls the self-ping that keeps free-tier hosts awake.
type KeepAliveConfig struct {
	Enabled  bool          `json:"enabled"`
	URL      string        `json:"url"`
	Interval time.Duration `json:"interval"`
}

// ConfigFile represents the JSON file structure for marshaling/unmarshaling configuration.
// String duration fields (e.g., "10m") are parsed into time.Duration values.
type ConfigFile struct {
	BaseURL              string              `json:"baseURL"`
	ListenAddr           string              `json:"listenAddr"`
	LogLevel             string              `json:"logLevel"`
	Debug                bool                `json:"debug"`
	ObfuscateUrls        bool                `json:"obfuscateUrls"`
	WorkerThreads        int                 `json:"workerThreads"`
	CacheDuration        string              `json:"cacheDuration"`
	CacheMaxEntries      int                 `json:"cacheMaxEntries"`
	TokenTTL             *string             `json:"tokenTTL"` // pointer so "0" differs from absent
	TokenSweepInterval   string              `json:"tokenSweepInterval"`
	LinkLifetime         string              `json:"linkLifetime"`
	LinkSigningKey       string              `json:"linkSigningKey"`
	ChunkSize            int64               `json:"chunkSize"`
	ConnectTimeout       string              `json:"connectTimeout"`
	StreamTimeout        string              `json:"streamTimeout"`
	MaxIdleConns         int                 `json:"maxIdleConns"`
	MaxConnsPerHost      int                 `json:"maxConnsPerHost"`
	MaxConcurrentStreams int                 `json:"maxConcurrentStreams"`
	UpstreamRateLimit    int                 `json:"upstreamRateLimit"`
	UserAgent            string              `json:"userAgent"`
	ReqOrigin            string              `json:"reqOrigin"`
	ReqReferrer          string              `json:"reqReferrer"`
	LegacyProxyEnabled   *bool               `json:"legacyProxyEnabled"`
	CatalogFile          string              `json:"catalogFile"`
	WarmupItems          []string            `json:"warmupItems"`
	KeepAlive            KeepAliveConfigFile `json:"keepAlive"`
	SentryDSN            string              `json:"sentryDSN"`
	Environment          string              `json:"environment"`
}

// KeepAliveConfigFile is the on-disk form of KeepAliveConfig.
type KeepAliveConfigFile struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"`
	Interval string `json:"interval"`
}

// LoadConfig loads the configuration from path, falling back to defaults when
// the file is missing or invalid. Environment overrides are applied last.
//
// Process:
//   - An empty path resolves to OTT_PROXY_CONFIG, then DefaultConfigPath.
//   - Falls back to default config if file is missing or invalid.
//   - Runs validation to ensure safe defaults.
func LoadConfig(path string) *Config {
	if path == "" {
		path = os.Getenv("OTT_PROXY_CONFIG")
	}
	if path == "" {
		path = DefaultConfigPath
	}

	config, err := LoadFromFile(path)
	if err != nil {
		logger.Warn("{config - LoadConfig} Failed to load config from %s: %v", path, err)
		logger.Warn("{config - LoadConfig} Falling back to default configuration...")
		config = getDefaultConfig()
		applyEnv(config)
		validateAndSetDefaults(config)
	}

	if config.Debug {
		logger.Debug("{config - LoadConfig} Configuration loaded:")
		logger.Debug("{config - LoadConfig}   Base URL: %s", config.BaseURL)
		logger.Debug("{config - LoadConfig}   Token TTL: %s (sweep %s)", config.TokenTTL, config.TokenSweepInterval)
		logger.Debug("{config - LoadConfig}   Signed links: %v", config.LinkSigningKey != "")
		logger.Debug("{config - LoadConfig}   Max concurrent streams: %d", config.MaxConcurrentStreams)
		logger.Debug("{config - LoadConfig}   Upstream pool: %d idle / %d per host", config.MaxIdleConns, config.MaxConnsPerHost)
	}

	return config
}

// LoadFromFile reads, parses and validates the configuration at path.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	config, err := convertFromFile(&configFile)
	if err != nil {
		return nil, err
	}

	applyEnv(config)
	validateAndSetDefaults(config)
	return config, nil
}

// convertFromFile converts a ConfigFile to Config,
// parsing duration strings into time.Duration.
// Empty duration strings are left at zero and filled in by validateAndSetDefaults.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		BaseURL:              cf.BaseURL,
		ListenAddr:           cf.ListenAddr,
		LogLevel:             cf.LogLevel,
		Debug:                cf.Debug,
		ObfuscateUrls:        cf.ObfuscateUrls,
		WorkerThreads:        cf.WorkerThreads,
		CacheMaxEntries:      cf.CacheMaxEntries,
		LinkSigningKey:       cf.LinkSigningKey,
		ChunkSize:            cf.ChunkSize,
		MaxIdleConns:         cf.MaxIdleConns,
		MaxConnsPerHost:      cf.MaxConnsPerHost,
		MaxConcurrentStreams: cf.MaxConcurrentStreams,
		UpstreamRateLimit:    cf.UpstreamRateLimit,
		UserAgent:            cf.UserAgent,
		ReqOrigin:            cf.ReqOrigin,
		ReqReferrer:          cf.ReqReferrer,
		LegacyProxyEnabled:   true,
		CatalogFile:          cf.CatalogFile,
		WarmupItems:          cf.WarmupItems,
		SentryDSN:            cf.SentryDSN,
		Environment:          cf.Environment,
		KeepAlive: KeepAliveConfig{
			Enabled: cf.KeepAlive.Enabled,
			URL:     cf.KeepAlive.URL,
		},
	}
	if cf.LegacyProxyEnabled != nil {
		config.LegacyProxyEnabled = *cf.LegacyProxyEnabled
	}

	// token TTL keeps an explicit "0" so the never-expire mode survives defaults
	config.TokenTTL = 6 * time.Hour
	config.TokenSweepInterval = 10 * time.Minute
	if cf.TokenTTL != nil {
		d, err := parseDuration(*cf.TokenTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid tokenTTL: %w", err)
		}
		config.TokenTTL = d
	}

	durations := []struct {
		name  string
		value string
		dest  *time.Duration
	}{
		{"cacheDuration", cf.CacheDuration, &config.CacheDuration},
		{"tokenSweepInterval", cf.TokenSweepInterval, &config.TokenSweepInterval},
		{"linkLifetime", cf.LinkLifetime, &config.LinkLifetime},
		{"connectTimeout", cf.ConnectTimeout, &config.ConnectTimeout},
		{"streamTimeout", cf.StreamTimeout, &config.StreamTimeout},
		{"keepAlive.interval", cf.KeepAlive.Interval, &config.KeepAlive.Interval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := parseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dest = parsed
	}

	return config, nil
}

// parseDuration accepts Go duration strings plus a bare "0".
func parseDuration(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "0" {
		return 0, nil
	}
	return time.ParseDuration(strings.TrimSpace(s))
}

// applyEnv layers the hosting platform's environment over the file values.
func applyEnv(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		config.ListenAddr = ":" + port
	}
	if external := os.Getenv("RENDER_EXTERNAL_URL"); external != "" {
		if config.KeepAlive.URL == "" {
			config.KeepAlive.URL = strings.TrimRight(external, "/") + "/health"
		}
		if config.BaseURL == "" {
			config.BaseURL = strings.TrimRight(external, "/")
		}
	}
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		config.SentryDSN = dsn
	}
}

// getDefaultConfig returns a baseline configuration
// with sensible defaults when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		ListenAddr:           ":8000",
		LogLevel:             "INFO",
		WorkerThreads:        4,
		CacheDuration:        10 * time.Minute,
		TokenTTL:             6 * time.Hour,
		TokenSweepInterval:   10 * time.Minute,
		LinkLifetime:         6 * time.Hour,
		ChunkSize:            512 * 1024,
		ConnectTimeout:       10 * time.Second,
		StreamTimeout:        60 * time.Second,
		MaxIdleConns:         50,
		MaxConnsPerHost:      100,
		MaxConcurrentStreams: 200,
		UserAgent:            DefaultUserAgent,
		ReqOrigin:            DefaultReqOrigin,
		ReqReferrer:          DefaultReqReferrer,
		LegacyProxyEnabled:   true,
		KeepAlive: KeepAliveConfig{
			Interval: 5 * time.Minute,
		},
	}
}

// validateAndSetDefaults ensures all config values are valid,
// filling in defaults for missing/invalid ones.
func validateAndSetDefaults(config *Config) {
	defaults := getDefaultConfig()

	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8000"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.ListenAddr == "" {
		config.ListenAddr = defaults.ListenAddr
	}
	if config.LogLevel == "" {
		config.LogLevel = defaults.LogLevel
	}
	if config.Debug {
		config.LogLevel = "DEBUG"
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = defaults.WorkerThreads
	}
	if config.CacheDuration <= 0 {
		config.CacheDuration = defaults.CacheDuration
	}
	if config.CacheMaxEntries < 0 {
		config.CacheMaxEntries = 0
	}
	if config.TokenTTL < 0 {
		config.TokenTTL = 0
	}
	if config.TokenSweepInterval < 0 {
		config.TokenSweepInterval = 0
	}
	if config.LinkLifetime <= 0 {
		config.LinkLifetime = defaults.LinkLifetime
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = defaults.ChunkSize
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.StreamTimeout <= 0 {
		config.StreamTimeout = defaults.StreamTimeout
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = defaults.MaxIdleConns
	}
	if config.MaxConnsPerHost <= 0 {
		config.MaxConnsPerHost = defaults.MaxConnsPerHost
	}
	if config.MaxConcurrentStreams <= 0 {
		config.MaxConcurrentStreams = defaults.MaxConcurrentStreams
	}
	if config.UpstreamRateLimit < 0 {
		config.UpstreamRateLimit = 0
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.ReqOrigin == "" {
		config.ReqOrigin = DefaultReqOrigin
	}
	if config.ReqReferrer == "" {
		config.ReqReferrer = DefaultReqReferrer
	}
	if config.KeepAlive.Interval <= 0 {
		config.KeepAlive.Interval = defaults.KeepAlive.Interval
	}
	if config.KeepAlive.URL == "" {
		config.KeepAlive.URL = "http://localhost:8000/health"
	}
	if config.Environment == "" {
		config.Environment = "production"
	}
}

// Default returns a validated default configuration. Tests and embedders use
// it in place of a config file.
func Default() *Config {
	config := getDefaultConfig()
	validateAndSetDefaults(config)
	return config
}

// CreateExampleConfig writes an example config file to path.
func CreateExampleConfig(path string) error {
	legacy := true
	tokenTTL := "6h"
	example := ConfigFile{
		BaseURL:              "http://localhost:8000",
		ListenAddr:           ":8000",
		LogLevel:             "INFO",
		WorkerThreads:        4,
		CacheDuration:        "10m",
		TokenTTL:             &tokenTTL,
		TokenSweepInterval:   "10m",
		LinkLifetime:         "6h",
		ChunkSize:            512 * 1024,
		ConnectTimeout:       "10s",
		StreamTimeout:        "60s",
		MaxIdleConns:         50,
		MaxConnsPerHost:      100,
		MaxConcurrentStreams: 200,
		UserAgent:            DefaultUserAgent,
		ReqOrigin:            DefaultReqOrigin,
		ReqReferrer:          DefaultReqReferrer,
		LegacyProxyEnabled:   &legacy,
		KeepAlive: KeepAliveConfigFile{
			Enabled:  false,
			Interval: "5m",
		},
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal example config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write example config: %w", err)
	}

	logger.Info("{config - CreateExampleConfig} Example config written to %s", path)
	return nil
}
