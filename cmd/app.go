package cmd

import (
	"context"

	"example.com/backstage/services/calendar/config"
	"example.com/backstage/services/calendar/internal/allocator"
	"example.com/backstage/services/calendar/internal/cache"
	"example.com/backstage/services/calendar/internal/database"
	"example.com/backstage/services/calendar/internal/messaging"
	"example.com/backstage/services/calendar/internal/metrics"
	"example.com/backstage/services/calendar/internal/recurrence"
	"example.com/backstage/services/calendar/internal/repositories"
	"example.com/backstage/services/calendar/internal/search"
	"example.com/backstage/services/calendar/internal/services"
	"example.com/backstage/services/calendar/internal/tracing"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// application holds everything a command needs, wired from config
type application struct {
	cfg      config.Config
	db       *gorm.DB
	readOnly *gorm.DB
	metrics  *metrics.Metrics
	tracer   tracing.Tracer
	redis    *redis.Client
	bus      *messaging.ServiceBus
	calendar *services.CalendarService
}

// newApplication connects the store and wires the calendar service. Optional backends
// (tracing, Redis, Elasticsearch, Service Bus) degrade with a warning instead of failing.
func newApplication(ctx context.Context, cfg config.Config) (*application, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, errors.Wrap(err, "invalid calendar timezone")
	}

	app := &application{cfg: cfg, metrics: metrics.NewMetrics()}

	app.tracer, err = tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		app.tracer = tracing.Disabled()
	}

	app.db, err = database.Connect(cfg.DB, app.metrics)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.metrics.SetHealth("database", true)
	app.readOnly, err = database.ConnectReadOnly(cfg.DB, app.db, app.metrics)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect read replica, continuing with the primary for reads")
		app.readOnly = app.db
	}
	if cfg.DB.Driver == database.DriverSQLite {
		// sqlite is for local runs; postgres schemas come from the migrate command
		if err := database.AutoMigrate(app.db); err != nil {
			app.Close()
			return nil, err
		}
	}

	repo := repositories.NewEventRepository(app.db, app.readOnly, cfg.DB.AcquireTimeout)

	layer, err := app.cacheLayer()
	if err != nil {
		app.Close()
		return nil, err
	}

	var index search.Index
	if cfg.Elastic.Enabled {
		es, err := search.NewElasticIndex(cfg.Elastic, app.tracer)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing with substring search")
		} else {
			if err := es.EnsureIndex(ctx); err != nil {
				log.Warn().Err(err).Str("index", es.Name()).Msg("Search index not ready, reconcile will rebuild it")
			}
			index = es
		}
	}
	indexSync := search.NewSync(index, repo, search.OptionsFrom(cfg.Search), app.metrics)

	opts := []services.Option{services.WithRecurrenceHorizon(cfg.Calendar.DefaultRecurrenceHorizon)}
	app.bus, err = messaging.NewServiceBus(cfg.Azure)
	switch {
	case errors.Is(err, messaging.ErrNotConfigured):
		log.Warn().Msg("Azure Service Bus not configured, continuing without cross-replica invalidation")
	case err != nil:
		log.Warn().Err(err).Msg("Failed to connect to Azure Service Bus, continuing without cross-replica invalidation")
	default:
		opts = append(opts, services.WithNotifier(app.bus))
	}

	app.calendar = services.NewCalendarService(
		repo,
		allocator.NewAllocator(app.db, cfg.DB.AllocationRetries, cfg.DB.AcquireTimeout, app.metrics),
		recurrence.NewExpander(loc, cfg.Calendar.MaxOccurrences),
		layer,
		indexSync,
		app.tracer,
		app.metrics,
		opts...,
	)
	log.Info().
		Str("origin", app.calendar.Origin()).
		Str("timezone", loc.String()).
		Bool("search_index", index != nil).
		Msg("Calendar service ready")

	return app, nil
}

func (a *application) cacheLayer() (*cache.Layer, error) {
	cfg := a.cfg.Cache
	if cfg.Backend == cache.BackendRedis {
		client, err := cache.NewRedisClient(a.cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing with in-process caches")
			cfg.Backend = cache.BackendMemory
		} else {
			a.redis = client
		}
	}

	day, rng, err := cache.NewStores(cfg, a.redis, a.cfg.Redis.Prefix, a.metrics)
	if err != nil {
		return nil, err
	}
	return cache.NewLayer(day, rng, a.metrics), nil
}

// Close releases every backend the application opened
func (a *application) Close() {
	if a.bus != nil {
		if err := a.bus.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error closing Service Bus client")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing Redis client")
		}
	}
	if a.readOnly != nil && a.readOnly != a.db {
		closeDB(a.readOnly)
	}
	if a.db != nil {
		closeDB(a.db)
	}
	if a.tracer != nil {
		a.tracer.Close()
	}
}

func closeDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing database")
	}
}
