// Package config loads application configuration from config.yaml and the
// environment, and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Providers  ProvidersConfig  `yaml:"providers" mapstructure:"providers"`
	Aggregator AggregatorConfig `yaml:"aggregator" mapstructure:"aggregator"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // postgres | sqlite
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// FetchConfig configures the outbound HTTP fetcher.
type FetchConfig struct {
	UserAgent      string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries     int    `yaml:"max_retries" mapstructure:"max_retries"`
	RobotsTTLMins  int    `yaml:"robots_ttl_mins" mapstructure:"robots_ttl_mins"`
	HostRatePerSec int    `yaml:"host_rate_per_sec" mapstructure:"host_rate_per_sec"`
}

// ProvidersConfig holds per-provider credentials and endpoints. Missing
// credentials are not an error: the adapter degrades to empty results.
type ProvidersConfig struct {
	OSM        OSMConfig        `yaml:"osm" mapstructure:"osm"`
	Foursquare FoursquareConfig `yaml:"foursquare" mapstructure:"foursquare"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
}

// OSMConfig configures the Overpass adapter.
type OSMConfig struct {
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// FoursquareConfig configures the Foursquare Places adapter.
type FoursquareConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// GoogleConfig configures the Google Places adapter.
type GoogleConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	MaxPages int    `yaml:"max_pages" mapstructure:"max_pages"`
}

// AggregatorConfig configures place caching and ranking.
type AggregatorConfig struct {
	CacheTTLMins      int `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
	CacheJitterMins   int `yaml:"cache_jitter_mins" mapstructure:"cache_jitter_mins"`
	DefaultLimit      int `yaml:"default_limit" mapstructure:"default_limit"`
	MaxPlacesPerQuery int `yaml:"max_places_per_query" mapstructure:"max_places_per_query"`

	// CityCategories pins a category set per city name; places in a
	// configured city also match the selection through the pinned set.
	CityCategories map[string][]string `yaml:"city_categories" mapstructure:"city_categories"`
}

// IngestConfig configures the event ingestion run.
type IngestConfig struct {
	LookbackHours   int `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	HorizonDays     int `yaml:"horizon_days" mapstructure:"horizon_days"`
	KeyChunkSize    int `yaml:"key_chunk_size" mapstructure:"key_chunk_size"`
	UpsertChunkSize int `yaml:"upsert_chunk_size" mapstructure:"upsert_chunk_size"`
}

// ServerConfig configures the operational HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PLACESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "placesync.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("fetch.user_agent", "placesync/1.0 (+https://gatherly.app)")
	v.SetDefault("fetch.timeout_secs", 20)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.robots_ttl_mins", 60)
	v.SetDefault("fetch.host_rate_per_sec", 2)
	v.SetDefault("providers.osm.endpoint", "https://overpass-api.de/api/interpreter")
	v.SetDefault("providers.foursquare.base_url", "https://api.foursquare.com/v3")
	v.SetDefault("providers.google.base_url", "https://maps.googleapis.com/maps/api/place")
	v.SetDefault("providers.google.max_pages", 3)
	v.SetDefault("aggregator.cache_ttl_mins", 720)
	v.SetDefault("aggregator.cache_jitter_mins", 180)
	v.SetDefault("aggregator.default_limit", 60)
	v.SetDefault("aggregator.max_places_per_query", 200)
	v.SetDefault("ingest.lookback_hours", 12)
	v.SetDefault("ingest.horizon_days", 30)
	v.SetDefault("ingest.key_chunk_size", 100)
	v.SetDefault("ingest.upsert_chunk_size", 200)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
