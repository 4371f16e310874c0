// Package planet resolves SWAPI planets by id, consulting the lookup cache
// before the network. Planet lookups are never retried.
package planet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
)

// Kind is the cache kind under which planets are stored.
const Kind = "planet"

// Planet is the subset of the SWAPI planet resource the service keeps.
type Planet struct {
	Name           string   `json:"name"`
	RotationPeriod string   `json:"rotation_period,omitempty"`
	OrbitalPeriod  string   `json:"orbital_period,omitempty"`
	Diameter       string   `json:"diameter,omitempty"`
	Climate        string   `json:"climate"`
	Gravity        string   `json:"gravity,omitempty"`
	Terrain        string   `json:"terrain"`
	SurfaceWater   string   `json:"surface_water,omitempty"`
	Population     string   `json:"population"`
	Residents      []string `json:"residents,omitempty"`
	Films          []string `json:"films,omitempty"`
	URL            string   `json:"url,omitempty"`
}

// Cache is the lookup cache consumed by the service.
type Cache interface {
	Get(ctx context.Context, kind, id string) (json.RawMessage, bool, error)
	Set(ctx context.Context, kind, id string, payload any) error
}

// Fetcher loads a planet from the upstream API.
type Fetcher interface {
	Fetch(ctx context.Context, id int) (Planet, error)
}

type Service struct {
	cache   Cache
	fetcher Fetcher
	logger  *slog.Logger
}

func NewService(cache Cache, fetcher Fetcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cache: cache, fetcher: fetcher, logger: logger.With(slog.String("agent", "planet"))}
}

// Get returns the planet with the given id. Errors are logged and returned
// unchanged.
func (s *Service) Get(ctx context.Context, id int) (Planet, error) {
	planet, err := s.get(ctx, id)
	if err != nil {
		s.logger.Error("error fetching planet data", slog.Int("planetId", id), slog.Any("error", err))
		return Planet{}, err
	}
	return planet, nil
}

func (s *Service) get(ctx context.Context, id int) (Planet, error) {
	key := strconv.Itoa(id)
	raw, ok, err := s.cache.Get(ctx, Kind, key)
	if err != nil {
		return Planet{}, err
	}
	if ok {
		var planet Planet
		if err := json.Unmarshal(raw, &planet); err != nil {
			return Planet{}, fmt.Errorf("planet: decode cached %s: %w", key, err)
		}
		s.logger.Debug("using cached planet data", slog.Int("planetId", id))
		return planet, nil
	}

	s.logger.Info("fetching planet from upstream", slog.Int("planetId", id))
	planet, err := s.fetcher.Fetch(ctx, id)
	if err != nil {
		return Planet{}, err
	}
	if err := s.cache.Set(ctx, Kind, key, planet); err != nil {
		return Planet{}, err
	}
	s.logger.Info("planet data fetched and cached", slog.Int("planetId", id))
	return planet, nil
}
