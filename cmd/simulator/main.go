package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"train-simulator/internal/api"
	"train-simulator/internal/backend"
	"train-simulator/internal/bbox"
	"train-simulator/internal/config"
	"train-simulator/internal/db"
	"train-simulator/internal/metrics"
	"train-simulator/internal/osm"
	"train-simulator/internal/publisher"
	"train-simulator/internal/schedule"
	"train-simulator/internal/sim"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	trains, err := loadSchedules(ctx, cfg)
	if err != nil {
		log.Printf("warning: schedules unavailable, simulations will report no data: %v", err)
	}
	log.Printf("loaded %d train schedules from %s", len(trains), cfg.ScheduleSource)

	mcol := metrics.NewCollector(cfg.SpeedMultiplier, cfg.PublishInterval)
	if cfg.MetricsAddr != "" {
		msrv := mcol.Serve(cfg.MetricsAddr)
		defer shutdown(msrv)
	}

	// Track cache: Redis when configured, otherwise in-process.
	var cache bbox.Cache = bbox.NewMemoryCache(cfg.CacheTTL)
	if rdb := bbox.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword); rdb != nil {
		defer rdb.Close()
		pctx, pcancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pctx).Err(); err != nil {
			log.Printf("warning: redis %s unreachable, using memory cache: %v", cfg.RedisAddr, err)
		} else {
			cache = bbox.NewRedisCache(rdb, cfg.CacheTTL)
			log.Printf("track cache: redis %s", cfg.RedisAddr)
		}
		pcancel()
	}
	tracks := bbox.NewService(cache, osm.NewFetcher(cfg.OverpassURL, 0), mcol)

	opts := sim.Options{
		Window: backend.Window{
			Start:       cfg.Policy.Window.Start,
			End:         cfg.Policy.Window.End,
			StepSeconds: cfg.Policy.StepSeconds,
		},
		Step:          cfg.Policy.Step(),
		Horizon:       cfg.Policy.Horizon(),
		HealthTimeout: cfg.HealthTimeout,
		CallTimeout:   cfg.BackendTimeout,
		Policy:        schedule.Policy{NominalJourney: cfg.Policy.NominalJourney()},
		Location:      cfg.Location,
	}
	var remote sim.Backend
	if cfg.BackendURL != "" {
		remote = backend.New(cfg.BackendURL, cfg.BackendTimeout)
		log.Printf("simulation backend: %s", cfg.BackendURL)
	} else {
		log.Printf("BACKEND_URL not set, simulations run locally")
	}
	orch := sim.NewOrchestrator(remote, opts, mcol)

	// Live position stream
	var streamer *sim.Streamer
	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, mcol)
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer pub.Close()
		streamer = sim.NewStreamer(orch, pub, cfg.PublishInterval, cfg.SpeedMultiplier, mcol)
		streamer.Start(ctx)
	}

	srv := api.NewServer(orch, tracks, trains, mcol, api.Options{
		SnapRadiusM: cfg.Policy.MaxSnapDistanceM,
		BodyLengthM: cfg.Policy.BodyLengthM,
		Policy:      opts.Policy,
		Location:    cfg.Location,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("http listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
			cancel()
		}
	}()

	// Block until context cancelled
	<-ctx.Done()
	shutdown(httpSrv)
	if streamer != nil {
		streamer.Stop()
	}
	log.Println("shutdown complete")
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// loadSchedules reads trains from the configured source. The SQLite store is
// seeded from SCHEDULES_FILE the first time it is opened empty.
func loadSchedules(ctx context.Context, cfg *config.Config) ([]schedule.Train, error) {
	switch cfg.ScheduleSource {
	case config.SourcePostgres:
		dsn := cfg.DatabaseURL
		if cfg.ScheduleDatabase != "" {
			var err error
			if dsn, err = db.WithDBName(dsn, cfg.ScheduleDatabase); err != nil {
				return nil, err
			}
		}
		pool, err := db.OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		defer pool.Close()
		store := db.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store.Load(ctx)

	case config.SourceSQLite:
		conn, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		defer conn.Close()
		store := db.NewSQLiteStore(conn)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		n, err := store.Count(ctx)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			seed, err := schedule.LoadFile(cfg.SchedulesFile)
			if err != nil {
				log.Printf("warning: sqlite store empty and seed file unreadable: %v", err)
				return nil, nil
			}
			if err := store.Replace(ctx, seed); err != nil {
				return nil, err
			}
			log.Printf("seeded %d schedules into %s", len(seed), cfg.SQLitePath)
		}
		return store.Load(ctx)

	default:
		return schedule.LoadFile(cfg.SchedulesFile)
	}
}
