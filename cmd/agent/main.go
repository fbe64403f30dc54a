package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/CarlosATO/flota-somyl-apps/internal/api"
	"github.com/CarlosATO/flota-somyl-apps/internal/auth"
	"github.com/CarlosATO/flota-somyl-apps/internal/config"
	"github.com/CarlosATO/flota-somyl-apps/internal/dispatch"
	"github.com/CarlosATO/flota-somyl-apps/internal/location"
	"github.com/CarlosATO/flota-somyl-apps/internal/selection"
	"github.com/CarlosATO/flota-somyl-apps/internal/server"
	"github.com/CarlosATO/flota-somyl-apps/internal/storage"
	"github.com/CarlosATO/flota-somyl-apps/internal/tracking"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig   func() config.Config
	connectRedis func(config.Config) *redis.Client
	notify       func(chan<- os.Signal, ...os.Signal)
	run          func(context.Context, config.Config, *redis.Client, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:   config.Load,
		connectRedis: connectRedis,
		notify:       signal.Notify,
		run:          Run,
	}
}

func connectRedis(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()

	rdb := deps.connectRedis(cfg)

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, rdb, signals, nil); err != nil {
		log.Printf("agent exited with error: %v", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run wires the agent together and serves the control surface until a
// termination signal arrives. On shutdown the tracking session stops (and
// flushes) before the HTTP surface goes down.
func Run(ctx context.Context, cfg config.Config, rdb *redis.Client, signals <-chan os.Signal, listen ListenFunc) error {
	sessions := auth.NewStore(rdb)
	remote := api.NewClient(cfg.APIBaseURL, cfg.APITimeout, sessions)
	evidence := storage.NewUploader(cfg.StorageURL, cfg.StorageBucket, cfg.StorageKey, cfg.APITimeout)
	provider := location.NewGPSDProvider(cfg.GPSDAddr)

	var srv *server.Server
	var session *tracking.Session
	session = tracking.NewSession(provider, remote, tracking.SessionOptions{
		SampleEvery: cfg.SampleEvery,
		FlushEvery:  cfg.FlushEvery,
		Observer: func(tripID string, sample tracking.Sample) {
			if srv == nil {
				return
			}
			st := session.Status()
			srv.Stream.BroadcastSample(tripID, sample, st.Samples, st.DistanceM)
		},
	})

	trips := dispatch.NewController(remote, session, selection.NewState(), evidence)
	srv = server.NewServer(cfg, remote, trips, sessions, session, rdb)

	// a saved login means the driver may still have a trip in progress;
	// refreshing resumes its tracking session
	if rdb != nil {
		if token, err := sessions.Token(ctx); err == nil && token != "" {
			if err := trips.Refresh(ctx); err != nil {
				log.Printf("restoring trips at startup: %v", err)
			}
		}
	}

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := session.Stop(shutdownCtx); err != nil {
		log.Printf("stopping tracking session: %v", err)
	}
	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	return nil
}
