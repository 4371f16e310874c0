package combine

import (
	"context"
	"errors"
	"testing"

	"github.com/l0p7/planetcast/internal/history"
	"github.com/l0p7/planetcast/internal/kv"
	"github.com/l0p7/planetcast/internal/planet"
	"github.com/l0p7/planetcast/internal/weather"
	"github.com/stretchr/testify/require"
)

type planetFunc func(ctx context.Context, id int) (planet.Planet, error)

func (f planetFunc) Get(ctx context.Context, id int) (planet.Planet, error) { return f(ctx, id) }

type weatherFunc func(ctx context.Context) (weather.Report, error)

func (f weatherFunc) Get(ctx context.Context) (weather.Report, error) { return f(ctx) }

func tatooine(_ context.Context, id int) (planet.Planet, error) {
	return planet.Planet{Name: "Tatooine", Climate: "arid", Terrain: "desert", Population: "200000"}, nil
}

func clearSky(context.Context) (weather.Report, error) {
	return weather.Report{Weather: []weather.Condition{{Description: "clear sky"}}, Main: weather.Main{Temp: 30}}, nil
}

func newHistory(t *testing.T) (*history.Store, kv.Store) {
	t.Helper()
	backend := kv.NewMemory(history.Schema("history"))
	store, err := history.New(history.Options{Store: backend, Table: "history"})
	require.NoError(t, err)
	return store, backend
}

func TestRunAppendsMergedRecord(t *testing.T) {
	store, _ := newHistory(t)
	var requested int
	c, err := New(Options{
		Planets: planetFunc(func(ctx context.Context, id int) (planet.Planet, error) {
			requested = id
			return tatooine(ctx, id)
		}),
		Weather: weatherFunc(clearSky),
		History: store,
		Intn:    func(n int) int { return n - 1 },
	})
	require.NoError(t, err)

	record, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, DefaultPlanetCount, requested)
	require.Equal(t, "60", record.PlanetID)
	require.Equal(t, "Tatooine", record.PlanetName)
	require.Equal(t, history.PartitionTag, record.GSIType)
	require.NotEmpty(t, record.Timestamp)
	require.Equal(t, "clear sky", record.Weather.Description)

	page, err := store.Query(context.Background(), 10, false, nil)
	require.NoError(t, err)
	require.Equal(t, []history.Record{record}, page.Items)
}

func TestRunPlanetIDInRange(t *testing.T) {
	store, _ := newHistory(t)
	var ids []int
	c, err := New(Options{
		Planets: planetFunc(func(ctx context.Context, id int) (planet.Planet, error) {
			ids = append(ids, id)
			return tatooine(ctx, id)
		}),
		Weather:     weatherFunc(clearSky),
		History:     store,
		PlanetCount: 3,
	})
	require.NoError(t, err)
	for range 30 {
		_, err := c.Run(context.Background())
		require.NoError(t, err)
	}
	for _, id := range ids {
		require.GreaterOrEqual(t, id, 1)
		require.LessOrEqual(t, id, 3)
	}
}

func TestRunFailsWithoutAppending(t *testing.T) {
	boom := errors.New("Failed to fetch weather data after 3 attempts: weather API responded with status: 500")
	store, _ := newHistory(t)
	c, err := New(Options{
		Planets: planetFunc(tatooine),
		Weather: weatherFunc(func(context.Context) (weather.Report, error) { return weather.Report{}, boom }),
		History: store,
	})
	require.NoError(t, err)

	_, err = c.Run(context.Background())
	require.ErrorIs(t, err, boom)

	page, err := store.Query(context.Background(), 10, false, nil)
	require.NoError(t, err)
	require.Empty(t, page.Items)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	store, _ := newHistory(t)
	_, err = New(Options{Planets: planetFunc(tatooine), Weather: weatherFunc(clearSky), History: store, PlanetCount: -1})
	require.Error(t, err)
}
