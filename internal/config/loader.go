package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// envCanonical restores camelCase keys that environment variables cannot carry.
var envCanonical = map[string]string{
	"server.logging.correlationheader":     "server.logging.correlationHeader",
	"storage.redis.tls.cafile":             "storage.redis.tls.caFile",
	"upstream.timeoutseconds":              "upstream.timeoutSeconds",
	"upstream.planet.baseurl":              "upstream.planet.baseURL",
	"upstream.weather.baseurl":             "upstream.weather.baseURL",
	"upstream.weather.apikey":              "upstream.weather.apiKey",
	"upstream.weather.countriesfile":       "upstream.weather.countriesFile",
	"upstream.weather.retry.maxretries":    "upstream.weather.retry.maxRetries",
	"upstream.weather.retry.rerollcountry": "upstream.weather.retry.rerollCountry",
	"history.defaultpagesize":              "history.defaultPageSize",
	"history.maxpagesize":                  "history.maxPageSize",
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			// Double underscores signal a nested path (SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := envCanonical[lower]; ok {
				return mapped
			}
			// Single underscores are removed so LISTEN_PORT collapses into listenport when callers
			// choose not to use double underscores for object nesting.
			key = strings.ReplaceAll(key, "_", "")
			if mapped, ok := envCanonical[strings.ToLower(key)]; ok {
				return mapped
			}
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if path := cfg.Upstream.Weather.CountriesFile; path != "" {
		countries, err := LoadCountries(path)
		if err != nil {
			return Config{}, err
		}
		cfg.Upstream.Weather.Countries = countries
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file extension %s", ext)
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":             cfg.Server.Logging.Level,
				"format":            cfg.Server.Logging.Format,
				"correlationHeader": cfg.Server.Logging.CorrelationHeader,
			},
		},
		"storage": map[string]any{
			"backend": cfg.Storage.Backend,
			"tables": map[string]any{
				"cache":   cfg.Storage.Tables.Cache,
				"history": cfg.Storage.Tables.History,
				"store":   cfg.Storage.Tables.Store,
			},
			"dynamodb": map[string]any{
				"region":   cfg.Storage.DynamoDB.Region,
				"endpoint": cfg.Storage.DynamoDB.Endpoint,
			},
			"redis": map[string]any{
				"address":  cfg.Storage.Redis.Address,
				"username": cfg.Storage.Redis.Username,
				"password": cfg.Storage.Redis.Password,
				"db":       cfg.Storage.Redis.DB,
				"tls": map[string]any{
					"enabled": cfg.Storage.Redis.TLS.Enabled,
					"caFile":  cfg.Storage.Redis.TLS.CAFile,
				},
			},
		},
		"upstream": map[string]any{
			"timeoutSeconds": cfg.Upstream.TimeoutSeconds,
			"planet": map[string]any{
				"baseURL": cfg.Upstream.Planet.BaseURL,
				"count":   cfg.Upstream.Planet.Count,
			},
			"weather": map[string]any{
				"baseURL":       cfg.Upstream.Weather.BaseURL,
				"apiKey":        cfg.Upstream.Weather.APIKey,
				"countries":     cfg.Upstream.Weather.Countries,
				"countriesFile": cfg.Upstream.Weather.CountriesFile,
				"retry": map[string]any{
					"maxRetries":    cfg.Upstream.Weather.Retry.MaxRetries,
					"rerollCountry": cfg.Upstream.Weather.Retry.RerollCountry,
					"when":          cfg.Upstream.Weather.Retry.When,
				},
			},
		},
		"history": map[string]any{
			"defaultPageSize": cfg.History.DefaultPageSize,
			"maxPageSize":     cfg.History.MaxPageSize,
		},
	}
}
