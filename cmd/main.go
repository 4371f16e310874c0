package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/l0p7/planetcast/internal/api"
	"github.com/l0p7/planetcast/internal/cache"
	"github.com/l0p7/planetcast/internal/combine"
	"github.com/l0p7/planetcast/internal/config"
	"github.com/l0p7/planetcast/internal/expr"
	"github.com/l0p7/planetcast/internal/history"
	"github.com/l0p7/planetcast/internal/kv"
	"github.com/l0p7/planetcast/internal/logging"
	"github.com/l0p7/planetcast/internal/metrics"
	"github.com/l0p7/planetcast/internal/planet"
	"github.com/l0p7/planetcast/internal/retry"
	"github.com/l0p7/planetcast/internal/server"
	"github.com/l0p7/planetcast/internal/weather"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "PLANETCAST", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type configLoader interface {
	Load(ctx context.Context) (config.Config, error)
}

type runnableServer interface {
	Run(ctx context.Context) error
}

var newConfigLoader = func(envPrefix, configFile string) configLoader {
	return config.NewLoader(envPrefix, configFile)
}

var newHTTPServer = func(listen config.ListenConfig, logger *slog.Logger, handler http.Handler, closers ...server.Closer) (runnableServer, error) {
	srv, err := server.New(listen, logger, handler, closers...)
	if err != nil {
		return nil, err
	}
	return srv, nil
}

func run(ctx context.Context, envPrefix, configFile string) error {
	cfg, err := newConfigLoader(envPrefix, configFile).Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	store, err := buildStore(ctx, logger.With(slog.String("agent", "storage_factory")), cfg.Storage)
	if err != nil {
		logger.Error("storage initialization failed", slog.Any("error", err))
		return err
	}

	metricsRecorder := metrics.NewRecorder(prometheus.NewRegistry())
	httpClient := &http.Client{Timeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second}

	app, err := buildApp(cfg, logger, metricsRecorder, store, httpClient)
	if err != nil {
		logger.Error("unable to wire services", slog.Any("error", err))
		return errors.Join(err, store.Close(ctx))
	}

	if path := strings.TrimSpace(cfg.Upstream.Weather.CountriesFile); path != "" {
		watcher, err := config.WatchCountries(ctx, path, func(countries []string) {
			if err := app.countries.Replace(countries); err != nil {
				logger.Error("countries reload rejected", slog.Any("error", err))
				return
			}
			logger.Info("countries reloaded", slog.Int("count", len(countries)))
		}, func(err error) {
			if err != nil {
				logger.Error("countries watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("countries watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	srv, err := newHTTPServer(cfg.Server.Listen, logger, app.handler, store.Close)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		return errors.Join(err, store.Close(ctx))
	}

	if err := srv.Run(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Error("server terminated unexpectedly", slog.Any("error", err))
		}
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

// httpDoer is the client contract shared by the upstream API clients.
type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// app is the wired service graph behind the HTTP handler.
type app struct {
	handler   http.Handler
	countries *weather.Selector
}

func buildApp(cfg config.Config, logger *slog.Logger, rec *metrics.Recorder, store kv.Store, doer httpDoer) (*app, error) {
	lookupCache, err := cache.New(cache.Options{Store: store, Table: cfg.Storage.Tables.Cache, Logger: logger, Metrics: rec})
	if err != nil {
		return nil, err
	}
	historyStore, err := history.New(history.Options{Store: store, Table: cfg.Storage.Tables.History, Logger: logger, Metrics: rec})
	if err != nil {
		return nil, err
	}
	blobStore, err := history.New(history.Options{Store: store, Table: cfg.Storage.Tables.Store, Logger: logger, Metrics: rec})
	if err != nil {
		return nil, err
	}

	selector, err := weather.NewSelector(cfg.Upstream.Weather.Countries, nil)
	if err != nil {
		return nil, err
	}
	retryCfg := cfg.Upstream.Weather.Retry
	retryable, err := retryCondition(retryCfg, logger)
	if err != nil {
		return nil, err
	}
	weatherService, err := weather.NewService(weather.Options{
		Cache:         lookupCache,
		Fetcher:       weather.NewClient(cfg.Upstream.Weather.BaseURL, cfg.Upstream.Weather.APIKey, doer, rec),
		Picker:        selector,
		MaxRetries:    retryCfg.MaxRetries,
		RerollCountry: retryCfg.RerollCountry,
		Retryable:     retryable,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	planetService := planet.NewService(lookupCache, planet.NewClient(cfg.Upstream.Planet.BaseURL, doer, rec), logger)

	combiner, err := combine.New(combine.Options{
		Planets:     planetService,
		Weather:     weatherService,
		History:     historyStore,
		PlanetCount: cfg.Upstream.Planet.Count,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	handlers, err := api.New(api.Options{
		Combiner:        combiner,
		History:         historyStore,
		Blobs:           blobStore,
		DefaultPageSize: cfg.History.DefaultPageSize,
		MaxPageSize:     cfg.History.MaxPageSize,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		handler: server.NewRouter(server.RouterOptions{
			Routes:            handlers,
			Metrics:           rec,
			CorrelationHeader: cfg.Server.Logging.CorrelationHeader,
			Logger:            logger,
		}),
		countries: selector,
	}, nil
}

// retryCondition compiles the configured CEL predicate. A blank or literal
// "true" expression retries everything and needs no program.
func retryCondition(cfg config.WeatherRetryConfig, logger *slog.Logger) (func(int, error) bool, error) {
	when := strings.TrimSpace(cfg.When)
	if when == "" || when == "true" {
		return nil, nil
	}
	env, err := expr.NewEnvironment()
	if err != nil {
		return nil, err
	}
	program, err := env.Compile(when)
	if err != nil {
		return nil, fmt.Errorf("upstream.weather.retry.when: %w", err)
	}
	return retry.Condition(program, cfg.MaxRetries, func(err error) {
		logger.Warn("retry condition evaluation failed", slog.String("expression", when), slog.Any("error", err))
	}), nil
}

func buildStore(ctx context.Context, logger *slog.Logger, cfg config.StorageConfig) (kv.Store, error) {
	schemas := []kv.Schema{
		cache.Schema(cfg.Tables.Cache),
		history.Schema(cfg.Tables.History),
		history.BlobSchema(cfg.Tables.Store),
	}
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory storage")
		return kv.NewMemory(schemas...), nil
	case "dynamodb":
		store, err := kv.NewDynamoFromConfig(ctx, kv.DynamoConfig{
			Region:   cfg.DynamoDB.Region,
			Endpoint: cfg.DynamoDB.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("using dynamodb storage", slog.String("region", cfg.DynamoDB.Region))
		return store, nil
	case "redis":
		store, err := kv.NewValkey(kv.ValkeyConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: kv.ValkeyTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		}, schemas...)
		if err != nil {
			return nil, err
		}
		logger.Info("using redis storage", slog.String("address", cfg.Redis.Address))
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
