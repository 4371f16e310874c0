// Package weather resolves current weather for a randomly chosen country.
// Each attempt consults the lookup cache before the network and the whole
// attempt runs inside a bounded retry loop.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/l0p7/planetcast/internal/retry"
)

// Kind is the cache kind under which weather reports are stored.
const Kind = "country"

// Subject names weather lookups in retry exhaustion errors.
const Subject = "weather data"

// Report is the subset of the current weather resource the service keeps.
type Report struct {
	Name       string      `json:"name"`
	Weather    []Condition `json:"weather"`
	Main       Main        `json:"main"`
	Visibility float64     `json:"visibility"`
	Wind       Wind        `json:"wind"`
	Clouds     Clouds      `json:"clouds"`
}

type Condition struct {
	ID          int    `json:"id,omitempty"`
	Main        string `json:"main,omitempty"`
	Description string `json:"description"`
	Icon        string `json:"icon,omitempty"`
}

type Main struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	TempMin   float64 `json:"temp_min,omitempty"`
	TempMax   float64 `json:"temp_max,omitempty"`
	Pressure  float64 `json:"pressure"`
	Humidity  float64 `json:"humidity"`
}

type Wind struct {
	Speed float64 `json:"speed"`
	Deg   float64 `json:"deg,omitempty"`
}

type Clouds struct {
	All float64 `json:"all"`
}

// Description returns the first condition description, or "" when the
// report carries none.
func (r Report) Description() string {
	if len(r.Weather) == 0 {
		return ""
	}
	return r.Weather[0].Description
}

// Cache is the lookup cache consumed by the service.
type Cache interface {
	Get(ctx context.Context, kind, id string) (json.RawMessage, bool, error)
	Set(ctx context.Context, kind, id string, payload any) error
}

// Fetcher loads a report for a country from the upstream API.
type Fetcher interface {
	Fetch(ctx context.Context, country string) (Report, error)
}

// Picker chooses the country for an attempt.
type Picker interface {
	Pick() string
}

type Options struct {
	Cache   Cache
	Fetcher Fetcher
	Picker  Picker
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// RerollCountry picks a new country on every attempt; otherwise the
	// first pick is kept for the whole loop.
	RerollCountry bool
	// Retryable optionally stops the loop early; see retry.Policy.
	Retryable func(attempt int, err error) bool
	Logger    *slog.Logger
}

type Service struct {
	cache   Cache
	fetcher Fetcher
	picker  Picker
	policy  retry.Policy
	reroll  bool
	logger  *slog.Logger
}

func NewService(opts Options) (*Service, error) {
	if opts.Cache == nil || opts.Fetcher == nil || opts.Picker == nil {
		return nil, errors.New("weather: cache, fetcher and picker required")
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("weather: max retries invalid: %d", opts.MaxRetries)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:   opts.Cache,
		fetcher: opts.Fetcher,
		picker:  opts.Picker,
		policy: retry.Policy{
			MaxRetries: opts.MaxRetries,
			Subject:    Subject,
			Retryable:  opts.Retryable,
		},
		reroll: opts.RerollCountry,
		logger: logger.With(slog.String("agent", "weather")),
	}, nil
}

// Get returns the current weather for a country chosen by the picker.
func (s *Service) Get(ctx context.Context) (Report, error) {
	fixed := ""
	if !s.reroll {
		fixed = s.picker.Pick()
	}
	return retry.Do(ctx, s.policy, s.logger, func(ctx context.Context, attempt int) (Report, error) {
		country := fixed
		if country == "" {
			country = s.picker.Pick()
		}
		return s.attempt(ctx, attempt, country)
	})
}

func (s *Service) attempt(ctx context.Context, attempt int, country string) (Report, error) {
	logger := s.logger.With(slog.String("country", country))

	raw, ok, err := s.cache.Get(ctx, Kind, country)
	if err != nil {
		return Report{}, err
	}
	if ok {
		var report Report
		if err := json.Unmarshal(raw, &report); err != nil {
			return Report{}, fmt.Errorf("weather: decode cached %s: %w", country, err)
		}
		logger.Debug("using cached weather data")
		return report, nil
	}

	logger.Info("fetching weather from upstream", slog.Int("attempt", attempt))
	report, err := s.fetcher.Fetch(ctx, country)
	if err != nil {
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			logger.Error("country not found")
		} else {
			logger.Error("weather request failed", slog.Any("error", err))
		}
		return Report{}, err
	}
	if err := s.cache.Set(ctx, Kind, country, report); err != nil {
		return Report{}, err
	}
	logger.Info("weather data fetched and cached")
	return report, nil
}
