// Package config loads the aggregator's static topology (monitored
// symbols, adapter endpoints and feed ids, the history store DSN) from a
// TOML file, validated with struct tags the teacher's way, then applies a
// thin env-var override layer for the handful of knobs spec §6.4 names as
// bare environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"price-oracle/oracle/provider"
	"price-oracle/oracle/types"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	defaultListenAddr    = "0.0.0.0:7171"
	defaultHistoryDB     = "prices.db"
	defaultCacheTTLMS    = 500
	defaultStalenessMaxS = 30
	defaultManipulation  = 0.70
	defaultDeviationMax  = 0.05
	defaultPollMS        = 250

	// EnvDatabaseURL overrides HistoryDB.
	EnvDatabaseURL = "DATABASE_URL"
	// EnvServerPort replaces Server.ListenAddr with "0.0.0.0:<port>".
	EnvServerPort = "SERVER_PORT"
	// EnvRPCURLPrimary replaces the URL list of the adapter named "pyth"
	// with this single URL.
	EnvRPCURLPrimary = "ORACLE_RPC_URL_PRIMARY"
	// EnvRPCURLSecondary replaces the URL list of the adapter named
	// "switchboard" with this single URL.
	EnvRPCURLSecondary  = "ORACLE_RPC_URL_SECONDARY"
	EnvCacheTTLMS       = "CACHE_TTL_MS"
	EnvStalenessMaxS    = "STALENESS_MAX_S"
	EnvManipulationThr  = "MANIPULATION_THRESHOLD"
	EnvDeviationMax     = "DEVIATION_MAX"
	EnvPollIntervalMS   = "POLL_INTERVAL_MS"
)

var (
	validate = validator.New()

	// ErrEmptyConfigPath is returned when ParseConfig is given an empty path.
	ErrEmptyConfigPath = errors.New("empty configuration file path")

	// SupportedAdapters lists the adapter implementations this module ships.
	SupportedAdapters = map[provider.Name]struct{}{
		provider.PythName:        {},
		provider.SwitchboardName: {},
		provider.MockName:        {},
	}
)

type (
	// Config is the aggregator's full static configuration.
	Config struct {
		Symbols  []SymbolConfig  `toml:"symbols" validate:"required,gt=0,dive,required"`
		Adapters []AdapterConfig `toml:"adapters" validate:"required,gt=0,dive,required"`
		Server   Server          `toml:"server"`
		HistoryDB string         `toml:"history_db"`

		CacheTTLMS            int64   `toml:"cache_ttl_ms"`
		StalenessMaxS         int64   `toml:"staleness_max_s"`
		ManipulationThreshold float64 `toml:"manipulation_threshold"`
		DeviationMax          float64 `toml:"deviation_max"`
		PollIntervalMS        int64   `toml:"poll_interval_ms"`
	}

	// SymbolConfig names one monitored tradable pair.
	SymbolConfig struct {
		Symbol string `toml:"symbol" validate:"required"`
	}

	// AdapterConfig carries one upstream source adapter's topology.
	AdapterConfig struct {
		Name    provider.Name     `toml:"name" validate:"required"`
		Urls    []string          `toml:"urls"`
		FeedIDs map[string]string `toml:"feed_ids" validate:"required"`
	}

	// Server defines the out-of-scope HTTP/WS collaborator's listen config.
	Server struct {
		ListenAddr string `toml:"listen_addr"`
	}
)

// symbolValidation rejects a symbol config with a blank tag. Adapted from
// the teacher's endpointValidation pattern in config.go.
func symbolValidation(sl validator.StructLevel) {
	s := sl.Current().Interface().(SymbolConfig)
	if s.Symbol == "" {
		sl.ReportError(s.Symbol, "symbol", "Symbol", "symbol is empty", "")
	}
}

// adapterValidation is custom validation for AdapterConfig, mirroring the
// teacher's endpointValidation: unknown adapter names and feed-id-less
// adapters fail closed rather than silently running with zero symbols.
func adapterValidation(sl validator.StructLevel) {
	a := sl.Current().Interface().(AdapterConfig)

	if _, ok := SupportedAdapters[a.Name]; !ok {
		sl.ReportError(a.Name, "name", "Name", "unsupportedAdapter", "")
	}
	if len(a.FeedIDs) == 0 {
		sl.ReportError(a.FeedIDs, "feed_ids", "FeedIDs", "feedIdsEmpty", "")
	}
}

// Validate returns an error if the Config object is invalid.
func (c Config) Validate() error {
	validate.RegisterStructValidation(symbolValidation, SymbolConfig{})
	validate.RegisterStructValidation(adapterValidation, AdapterConfig{})
	return validate.Struct(c)
}

// ToEndpoint converts an AdapterConfig into the provider.Endpoint the
// adapter constructors expect.
func (a AdapterConfig) ToEndpoint() provider.Endpoint {
	feedIDs := make(map[types.Symbol]string, len(a.FeedIDs))
	for symbol, id := range a.FeedIDs {
		feedIDs[types.Symbol(symbol)] = id
	}
	return provider.Endpoint{
		Name:    a.Name,
		Urls:    a.Urls,
		FeedIDs: feedIDs,
	}
}

// ParseConfig reads and parses TOML configuration from configPath, applies
// defaults, layers the spec §6.4 environment-variable overrides on top (env
// wins over file, matching the spec's "bare env-var knobs" framing for
// those specific fields), then validates the result.
func ParseConfig(configPath string) (Config, error) {
	var cfg Config

	if configPath == "" {
		return cfg, ErrEmptyConfigPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	for _, a := range cfg.Adapters {
		if _, ok := SupportedAdapters[a.Name]; !ok {
			return cfg, fmt.Errorf("unsupported adapter: %s", a.Name)
		}
	}

	return cfg, cfg.Validate()
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaultListenAddr
	}
	if cfg.HistoryDB == "" {
		cfg.HistoryDB = defaultHistoryDB
	}
	if cfg.CacheTTLMS == 0 {
		cfg.CacheTTLMS = defaultCacheTTLMS
	}
	if cfg.StalenessMaxS == 0 {
		cfg.StalenessMaxS = defaultStalenessMaxS
	}
	if cfg.ManipulationThreshold == 0 {
		cfg.ManipulationThreshold = defaultManipulation
	}
	if cfg.DeviationMax == 0 {
		cfg.DeviationMax = defaultDeviationMax
	}
	if cfg.PollIntervalMS == 0 {
		cfg.PollIntervalMS = defaultPollMS
	}
}

// applyEnvOverrides layers the exact §6.4 environment-variable knobs on top
// of the TOML-parsed config. Malformed values are ignored (the file/default
// value is kept) rather than failing startup.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		cfg.HistoryDB = v
	}
	if v := os.Getenv(EnvServerPort); v != "" {
		cfg.Server.ListenAddr = "0.0.0.0:" + v
	}
	if v := os.Getenv(EnvRPCURLPrimary); v != "" {
		setAdapterURL(cfg, provider.PythName, v)
	}
	if v := os.Getenv(EnvRPCURLSecondary); v != "" {
		setAdapterURL(cfg, provider.SwitchboardName, v)
	}
	if v, ok := envInt(EnvCacheTTLMS); ok {
		cfg.CacheTTLMS = v
	}
	if v, ok := envInt(EnvStalenessMaxS); ok {
		cfg.StalenessMaxS = v
	}
	if v, ok := envFloat(EnvManipulationThr); ok {
		cfg.ManipulationThreshold = v
	}
	if v, ok := envFloat(EnvDeviationMax); ok {
		cfg.DeviationMax = v
	}
	if v, ok := envInt(EnvPollIntervalMS); ok {
		cfg.PollIntervalMS = v
	}
}

func setAdapterURL(cfg *Config, name provider.Name, url string) {
	for i := range cfg.Adapters {
		if cfg.Adapters[i].Name == name {
			cfg.Adapters[i].Urls = []string{url}
			return
		}
	}
}

func envInt(key string) (int64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// CacheTTL, StalenessMax, PollInterval return the millisecond/second knobs
// above as time.Duration. CacheTTL and PollInterval feed the engine
// constructor; StalenessMax has no caller in the engine.
func (c Config) CacheTTL() time.Duration { return time.Duration(c.CacheTTLMS) * time.Millisecond }
func (c Config) StalenessMax() time.Duration {
	return time.Duration(c.StalenessMaxS) * time.Second
}
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}
