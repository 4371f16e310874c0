package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"invalid port", func(c *Config) { c.Server.Listen.Port = -1 }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "cassandra" }},
		{"redis without address", func(c *Config) { c.Storage.Backend = "redis" }},
		{"missing history table", func(c *Config) { c.Storage.Tables.History = " " }},
		{"history and store share a table", func(c *Config) { c.Storage.Tables.Store = c.Storage.Tables.History }},
		{"cache and history share a table", func(c *Config) { c.Storage.Tables.History = " " + c.Storage.Tables.Cache }},
		{"negative timeout", func(c *Config) { c.Upstream.TimeoutSeconds = -1 }},
		{"relative planet url", func(c *Config) { c.Upstream.Planet.BaseURL = "/planets" }},
		{"zero planet count", func(c *Config) { c.Upstream.Planet.Count = 0 }},
		{"no countries", func(c *Config) { c.Upstream.Weather.Countries = []string{" ", ""} }},
		{"negative retries", func(c *Config) { c.Upstream.Weather.Retry.MaxRetries = -1 }},
		{"default page above max", func(c *Config) { c.History.DefaultPageSize = 101 }},
		{"zero max page", func(c *Config) { c.History.MaxPageSize = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			broken := DefaultConfig()
			tc.mutate(&broken)
			require.Error(t, broken.Validate())
		})
	}
}

func TestConfigValidateNormalizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Backend = " DynamoDB "
	cfg.Upstream.Weather.Countries = []string{"Spain, France", " Peru "}
	require.NoError(t, cfg.Validate())
	require.Equal(t, "dynamodb", cfg.Storage.Backend)
	require.Equal(t, []string{"Spain", "France", "Peru"}, cfg.Upstream.Weather.Countries)

	fileOnly := DefaultConfig()
	fileOnly.Upstream.Weather.Countries = nil
	fileOnly.Upstream.Weather.CountriesFile = "countries.yaml"
	require.NoError(t, fileOnly.Validate())
}

func TestDefaultConfigDoesNotShareCountries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Upstream.Weather.Countries[0] = "Atlantis"
	require.NotEqual(t, "Atlantis", DefaultCountries[0])
}

func TestConfigValidateDuplicateTablesNamesBoth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Tables.Store = cfg.Storage.Tables.History
	err := cfg.Validate()
	require.ErrorContains(t, err, "storage.tables.history and storage.tables.store")
}
