package config

import (
	"fmt"

	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LoadCountries reads a countries document (yaml, json or toml) holding a
// top-level "countries" list.
func LoadCountries(path string) ([]string, error) {
	parser, err := parserFor(path)
	if err != nil {
		return nil, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("config: load countries from %s: %w", path, err)
	}
	countries := normalizeCountries(k.Strings("countries"))
	if len(countries) == 0 {
		return nil, fmt.Errorf("config: countries file %s lists no countries", path)
	}
	return countries, nil
}
