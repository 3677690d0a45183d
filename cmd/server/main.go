package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/example/carpool-matching/internal/bot"
	"github.com/example/carpool-matching/internal/config"
	"github.com/example/carpool-matching/internal/dispatch"
	"github.com/example/carpool-matching/internal/events"
	"github.com/example/carpool-matching/internal/geo"
	httpapi "github.com/example/carpool-matching/internal/http"
	"github.com/example/carpool-matching/internal/logging"
	"github.com/example/carpool-matching/internal/matcher"
	"github.com/example/carpool-matching/internal/registry"
	"github.com/example/carpool-matching/internal/storage"
)

const migrationFile = "001_create_carpool.sql"

type messenger interface {
	dispatch.Notifier
	dispatch.ProfileLookup
	dispatch.LoadingIndicator
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	mem := storage.NewMemoryStore()
	var (
		sessions storage.SessionStore = mem
		groups   storage.GroupStore   = mem
		feedback storage.FeedbackLog  = mem
		queue    storage.PendingQueue = storage.NewMemoryQueue()
		locks    storage.Locker       = storage.NewMemoryLocker()
		checks   []httpapi.ReadinessCheck
		sink     storage.EventSink
	)

	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if cfg.RunMigrations {
			script, err := os.ReadFile(filepath.Join("migrations", migrationFile))
			if err != nil {
				return err
			}
			if err := pg.Migrate(ctx, string(script)); err != nil {
				return err
			}
			logger.Info("migration applied", "file", migrationFile)
		}
		sessions, groups, feedback, sink = pg, pg, pg, pg
		checks = append(checks, httpapi.ReadinessCheck{Name: "postgres", Check: pg.Ping})
	} else {
		logger.Warn("PG_DSN not set, sessions and groups are kept in memory")
	}

	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		rq := storage.NewRedisQueue(rc, cfg.RedisKeyPrefix)
		queue = rq
		locks = storage.NewRedisLocker(rc, cfg.RedisKeyPrefix, cfg.UserLockTTL)
		checks = append(checks, httpapi.ReadinessCheck{Name: "redis", Check: rq.Ping})
	} else {
		logger.Warn("REDIS_ADDR not set, pending queue and user locks are in-process only")
	}

	var (
		msg     messenger
		replier dispatch.Replier
	)
	if cfg.DryRun {
		msg = &dispatch.LogNotifier{Logger: logging.Component(logger, "dry-run")}
	} else {
		line, err := dispatch.NewLineClient(cfg.LineChannelToken, cfg.ExternalCallTimeout)
		if err != nil {
			return err
		}
		msg, replier = line, line
	}

	hub := events.NewWSHub(logging.Component(logger, "feed"))
	defer hub.Close()
	publishers := events.Fanout{hub}
	switch {
	case len(cfg.KafkaBrokers) > 0:
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.ExternalCallTimeout)
		defer kp.Close()
		publishers = append(publishers, kp)
	case sink != nil:
		publishers = append(publishers, events.SinkPublisher{Sink: sink})
	}

	var geocoder geo.Geocoder
	if cfg.MapsAPIKey != "" {
		g, err := geo.NewMapsGeocoder(cfg.MapsAPIKey, "zh-TW")
		if err != nil {
			logger.Warn("geocoder disabled", "error", err)
		} else {
			geocoder = g
		}
	}

	engine := &matcher.Engine{
		Queue:       queue,
		Groups:      groups,
		Locks:       locks,
		Notifier:    msg,
		Profiles:    msg,
		Events:      publishers,
		Config:      cfg.Matching,
		CallTimeout: cfg.ExternalCallTimeout,
		LockTimeout: cfg.UserLockTTL,
		Logger:      logging.Component(logger, "matcher"),
	}
	reg := &registry.Registry{
		Groups:      groups,
		Profiles:    msg,
		Events:      publishers,
		CallTimeout: cfg.ExternalCallTimeout,
		Logger:      logging.Component(logger, "registry"),
	}
	svc := &bot.Service{
		Sessions:    sessions,
		Feedback:    feedback,
		Locks:       locks,
		Matcher:     engine,
		Registry:    reg,
		Geocoder:    geocoder,
		Loading:     msg,
		Config:      cfg.Matching,
		CallTimeout: cfg.ExternalCallTimeout,
		Logger:      logging.Component(logger, "bot"),
	}

	srv := httpapi.NewServer(httpapi.Options{
		ChannelSecret: cfg.LineChannelSecret,
		OperatorToken: cfg.OperatorToken,
		CallTimeout:   cfg.ExternalCallTimeout,
		Handler:       svc,
		Replier:       replier,
		Notifier:      msg,
		Hub:           hub,
		Checks:        checks,
		Logger:        logging.Component(logger, "http"),
	})

	go engine.Run(ctx, cfg.Matching.Interval)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("carpool matching listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
