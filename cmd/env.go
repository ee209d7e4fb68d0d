package main

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/gatherly/placesync/internal/db"
	"github.com/gatherly/placesync/internal/events"
	"github.com/gatherly/placesync/internal/fetch"
	"github.com/gatherly/placesync/internal/places"
	"github.com/gatherly/placesync/internal/provider"
	"github.com/gatherly/placesync/internal/taxonomy"
)

// appEnv holds the wired application components for one command run.
type appEnv struct {
	PlaceStore places.Store
	EventStore events.Store
	Aggregator *places.Aggregator
	Ingestor   *events.Ingestor
	Fetch      *fetch.Client

	pool         *pgxpool.Pool
	placesSQLite *places.SQLiteStore
	eventsSQLite *events.SQLiteStore
}

// initEnv connects the configured store backend and assembles the place
// aggregator and event ingestor on top of it.
func initEnv(ctx context.Context) (*appEnv, error) {
	env := &appEnv{}

	switch cfg.Store.Driver {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		env.pool = pool
		env.PlaceStore = places.NewPostgresStore(pool)
		env.EventStore = events.NewPostgresStore(pool)
	case "sqlite":
		ps, err := places.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		es, err := events.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			_ = ps.Close()
			return nil, err
		}
		env.placesSQLite = ps
		env.eventsSQLite = es
		env.PlaceStore = ps
		env.EventStore = es
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	env.Fetch = fetch.NewClient(fetch.Options{
		UserAgent:  cfg.Fetch.UserAgent,
		Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Fetch.MaxRetries,
		HostRate:   rate.Limit(cfg.Fetch.HostRatePerSec),
		RobotsTTL:  time.Duration(cfg.Fetch.RobotsTTLMins) * time.Minute,
	})

	adapters := []provider.Adapter{
		provider.NewOSM(cfg.Providers.OSM.Endpoint),
		provider.NewFoursquare(cfg.Providers.Foursquare.Key, cfg.Providers.Foursquare.BaseURL),
		provider.NewGoogle(cfg.Providers.Google.Key, cfg.Providers.Google.BaseURL, cfg.Providers.Google.MaxPages),
	}

	cityCategories := make(map[string][]taxonomy.Category, len(cfg.Aggregator.CityCategories))
	for city, cats := range cfg.Aggregator.CityCategories {
		cityCategories[strings.ToLower(city)] = taxonomy.Normalize(cats)
	}

	env.Aggregator = places.NewAggregator(env.PlaceStore, adapters, places.Options{
		CacheTTL:       time.Duration(cfg.Aggregator.CacheTTLMins) * time.Minute,
		CacheJitter:    time.Duration(cfg.Aggregator.CacheJitterMins) * time.Minute,
		DefaultLimit:   cfg.Aggregator.DefaultLimit,
		MaxPlaces:      cfg.Aggregator.MaxPlacesPerQuery,
		CityCategories: cityCategories,
	})

	matcher := events.NewMatcher(env.PlaceStore, env.Aggregator)
	env.Ingestor = events.NewIngestor(env.EventStore, matcher, env.Fetch, events.IngestOptions{
		Lookback:        time.Duration(cfg.Ingest.LookbackHours) * time.Hour,
		Horizon:         time.Duration(cfg.Ingest.HorizonDays) * 24 * time.Hour,
		KeyChunkSize:    cfg.Ingest.KeyChunkSize,
		UpsertChunkSize: cfg.Ingest.UpsertChunkSize,
	})

	return env, nil
}

// Close releases database handles.
func (e *appEnv) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
	if e.placesSQLite != nil {
		_ = e.placesSQLite.Close()
	}
	if e.eventsSQLite != nil {
		_ = e.eventsSQLite.Close()
	}
}
