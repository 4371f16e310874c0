// Package combine resolves a random planet and the current weather of a
// random country, merges them and appends the result to history.
package combine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/l0p7/planetcast/internal/history"
	"github.com/l0p7/planetcast/internal/planet"
	"github.com/l0p7/planetcast/internal/weather"
	"golang.org/x/sync/errgroup"
)

// DefaultPlanetCount is the number of planets ids are drawn from.
const DefaultPlanetCount = 60

type PlanetLookup interface {
	Get(ctx context.Context, id int) (planet.Planet, error)
}

type WeatherLookup interface {
	Get(ctx context.Context) (weather.Report, error)
}

type Appender interface {
	Append(ctx context.Context, record history.Record) (history.Record, error)
}

type Options struct {
	Planets     PlanetLookup
	Weather     WeatherLookup
	History     Appender
	PlanetCount int
	// Intn returns a value in [0, n); defaults to math/rand/v2.
	Intn   func(n int) int
	Logger *slog.Logger
}

type Combiner struct {
	planets     PlanetLookup
	weather     WeatherLookup
	history     Appender
	planetCount int
	intn        func(int) int
	logger      *slog.Logger
}

func New(opts Options) (*Combiner, error) {
	if opts.Planets == nil || opts.Weather == nil || opts.History == nil {
		return nil, errors.New("combine: planet lookup, weather lookup and history required")
	}
	count := opts.PlanetCount
	if count == 0 {
		count = DefaultPlanetCount
	}
	if count < 0 {
		return nil, fmt.Errorf("combine: planet count invalid: %d", count)
	}
	intn := opts.Intn
	if intn == nil {
		intn = rand.IntN
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Combiner{
		planets:     opts.Planets,
		weather:     opts.Weather,
		history:     opts.History,
		planetCount: count,
		intn:        intn,
		logger:      logger.With(slog.String("agent", "combine")),
	}, nil
}

// Run performs one combine and returns the record as appended.
func (c *Combiner) Run(ctx context.Context) (history.Record, error) {
	planetID := c.intn(c.planetCount) + 1
	logger := c.logger.With(slog.Int("planetId", planetID))
	logger.Debug("processing combine")

	var (
		p planet.Planet
		w weather.Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		p, err = c.planets.Get(gctx, planetID)
		return err
	})
	g.Go(func() error {
		var err error
		w, err = c.weather.Get(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return history.Record{}, err
	}

	record, err := c.history.Append(ctx, history.Merge(planetID, p, w))
	if err != nil {
		return history.Record{}, err
	}
	logger.Info("data combined successfully")
	return record, nil
}
