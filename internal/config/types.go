package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Config holds every option the service reads at startup.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Storage  StorageConfig  `koanf:"storage"`
	Upstream UpstreamConfig `koanf:"upstream"`
	History  HistoryConfig  `koanf:"history"`
}

// ServerConfig collects the HTTP listener and logging knobs.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// StorageConfig selects the key-value backend and names its tables.
type StorageConfig struct {
	Backend  string         `koanf:"backend"`
	Tables   TablesConfig   `koanf:"tables"`
	DynamoDB DynamoDBConfig `koanf:"dynamodb"`
	Redis    RedisConfig    `koanf:"redis"`
}

type TablesConfig struct {
	Cache   string `koanf:"cache"`
	History string `koanf:"history"`
	Store   string `koanf:"store"`
}

type DynamoDBConfig struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"`
}

type RedisConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// UpstreamConfig describes the two REST APIs the service combines.
type UpstreamConfig struct {
	TimeoutSeconds int                   `koanf:"timeoutSeconds"`
	Planet         PlanetUpstreamConfig  `koanf:"planet"`
	Weather        WeatherUpstreamConfig `koanf:"weather"`
}

type PlanetUpstreamConfig struct {
	BaseURL string `koanf:"baseURL"`
	// Count bounds the random planet id drawn by the combine operation.
	Count int `koanf:"count"`
}

type WeatherUpstreamConfig struct {
	BaseURL   string   `koanf:"baseURL"`
	APIKey    string   `koanf:"apiKey"`
	Countries []string `koanf:"countries"`
	// CountriesFile, when set, replaces Countries and is watched for changes.
	CountriesFile string             `koanf:"countriesFile"`
	Retry         WeatherRetryConfig `koanf:"retry"`
}

// WeatherRetryConfig shapes the weather lookup retry loop.
type WeatherRetryConfig struct {
	MaxRetries    int  `koanf:"maxRetries"`
	RerollCountry bool `koanf:"rerollCountry"`
	// When is a CEL expression over attempt, notFound and error deciding
	// whether a failed attempt is retried.
	When string `koanf:"when"`
}

// HistoryConfig bounds the page sizes accepted by the history read path.
type HistoryConfig struct {
	DefaultPageSize int `koanf:"defaultPageSize"`
	MaxPageSize     int `koanf:"maxPageSize"`
}

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}

	backend := strings.TrimSpace(strings.ToLower(c.Storage.Backend))
	switch backend {
	case "", "memory", "dynamodb":
	case "redis":
		if strings.TrimSpace(c.Storage.Redis.Address) == "" {
			return errors.New("config: storage.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: storage.backend unsupported: %s", c.Storage.Backend)
	}
	c.Storage.Backend = backend
	tables := map[string]string{
		"cache":   c.Storage.Tables.Cache,
		"history": c.Storage.Tables.History,
		"store":   c.Storage.Tables.Store,
	}
	owners := make(map[string]string, len(tables))
	for _, name := range []string{"cache", "history", "store"} {
		table := strings.TrimSpace(tables[name])
		if table == "" {
			return fmt.Errorf("config: storage.tables.%s required", name)
		}
		if other, ok := owners[table]; ok {
			return fmt.Errorf("config: storage.tables.%s and storage.tables.%s share table %q", other, name, table)
		}
		owners[table] = name
	}

	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("config: upstream.timeoutSeconds invalid: %d", c.Upstream.TimeoutSeconds)
	}
	if err := validateBaseURL("upstream.planet.baseURL", c.Upstream.Planet.BaseURL); err != nil {
		return err
	}
	if err := validateBaseURL("upstream.weather.baseURL", c.Upstream.Weather.BaseURL); err != nil {
		return err
	}
	if c.Upstream.Planet.Count < 1 {
		return fmt.Errorf("config: upstream.planet.count invalid: %d", c.Upstream.Planet.Count)
	}
	c.Upstream.Weather.Countries = normalizeCountries(c.Upstream.Weather.Countries)
	if len(c.Upstream.Weather.Countries) == 0 && c.Upstream.Weather.CountriesFile == "" {
		return errors.New("config: upstream.weather.countries or countriesFile required")
	}
	if c.Upstream.Weather.Retry.MaxRetries < 0 {
		return fmt.Errorf("config: upstream.weather.retry.maxRetries invalid: %d", c.Upstream.Weather.Retry.MaxRetries)
	}

	if c.History.MaxPageSize < 1 {
		return fmt.Errorf("config: history.maxPageSize invalid: %d", c.History.MaxPageSize)
	}
	if c.History.DefaultPageSize < 1 || c.History.DefaultPageSize > c.History.MaxPageSize {
		return fmt.Errorf("config: history.defaultPageSize must be between 1 and %d: %d", c.History.MaxPageSize, c.History.DefaultPageSize)
	}
	return nil
}

func validateBaseURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: %s invalid: %q", field, raw)
	}
	return nil
}

// normalizeCountries trims entries and splits comma-joined values, which is
// how a list arrives from a single environment variable.
func normalizeCountries(in []string) []string {
	out := make([]string, 0, len(in))
	for _, entry := range in {
		for _, part := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

// DefaultCountries is the country list used when none is configured.
var DefaultCountries = []string{
	"Argentina", "Australia", "Brazil", "Canada", "Chile", "Colombia",
	"Egypt", "France", "Germany", "India", "Italy", "Japan",
	"Kenya", "Mexico", "Norway", "Peru", "Portugal", "Spain",
}

// DefaultConfig returns the baseline values that align with the design defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
			},
		},
		Storage: StorageConfig{
			Backend: "memory",
			Tables: TablesConfig{
				Cache:   "planetcast-cache",
				History: "planetcast-history",
				Store:   "planetcast-store",
			},
		},
		Upstream: UpstreamConfig{
			TimeoutSeconds: 10,
			Planet: PlanetUpstreamConfig{
				BaseURL: "https://swapi.dev/api",
				Count:   60,
			},
			Weather: WeatherUpstreamConfig{
				BaseURL:   "https://api.openweathermap.org/data/2.5",
				Countries: append([]string(nil), DefaultCountries...),
				Retry: WeatherRetryConfig{
					MaxRetries:    3,
					RerollCountry: true,
					When:          "true",
				},
			},
		},
		History: HistoryConfig{
			DefaultPageSize: 10,
			MaxPageSize:     100,
		},
	}
}
