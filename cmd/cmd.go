package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anicoll/froeling-integration/internal/pkg/config"
	"github.com/anicoll/froeling-integration/internal/pkg/coordinator"
	"github.com/anicoll/froeling-integration/internal/pkg/database"
	"github.com/anicoll/froeling-integration/internal/pkg/database/migration"
	"github.com/anicoll/froeling-integration/internal/pkg/froeling"
	"github.com/anicoll/froeling-integration/internal/pkg/mqtt"
	"github.com/anicoll/froeling-integration/internal/pkg/publisher"
	"github.com/anicoll/froeling-integration/internal/pkg/server"
	"github.com/anicoll/froeling-integration/pkg/hasher"
	"github.com/anicoll/froeling-integration/pkg/sockets"
)

var errCron = errors.New("cron error")

// dependencies are the long lived services run supervises.
type dependencies struct {
	poller    Poller
	publisher *publisher.Publisher
	// store is nil when no database is configured.
	store   Store
	metrics http.Handler
}

// FroelingCommand loads the configuration from the environment, builds every
// configured sink and runs until the context is cancelled.
func FroelingCommand(ctx *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	metrics := coordinator.NewMetrics()
	session := froeling.NewSession(cfg.FroelingCfg)
	deps := dependencies{
		poller:    coordinator.New(session, cfg.FroelingCfg.PollInterval, coordinator.WithMetrics(metrics)),
		publisher: publisher.New(),
		metrics:   server.MetricsHandler(server.MetricsRegistry(metrics)),
	}

	if cfg.MqttCfg.Enabled() {
		mqttSvc := mqtt.New(mqtt.NewClient(cfg.MqttCfg), cfg.MqttCfg)
		if err := mqttSvc.Connect(); err != nil {
			return fmt.Errorf("connect to mqtt broker: %w", err)
		}
		defer mqttSvc.Close()
		if err := deps.publisher.RegisterPublisher("mqtt", mqttSvc); err != nil {
			return err
		}
	}

	if cfg.DatabaseCfg.Enabled() {
		if err := migration.Migrate(cfg.DatabaseCfg.URL, cfg.DatabaseCfg.MigrationsFolder); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		db, err := database.Connect(ctx.Context, cfg.DatabaseCfg.URL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := deps.publisher.RegisterPublisher("postgres", db); err != nil {
			return err
		}
		deps.store = db
	}

	err = run(ctx.Context, cfg, deps, make(chan error, 1000), logger)
	if errors.Is(err, context.Canceled) {
		logger.Info("shutdown complete")
		return nil
	}
	return err
}

// HashTokenCommand prints a new API token and the hash to put in API_TOKEN_HASH.
func HashTokenCommand(ctx *cli.Context) error {
	token := ctx.String("token")
	if token == "" {
		var err error
		if token, err = hasher.GenerateToken(ctx.Int("length")); err != nil {
			return err
		}
	}
	hash, err := hasher.HashPassword([]byte(token))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(ctx.App.Writer, "token: %s\nAPI_TOKEN_HASH=%s\n", token, hash)
	return err
}

func newLogger(level string) (*zap.Logger, error) {
	var err error
	logCfg := zap.NewProductionConfig()

	logCfg.Level, err = zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	return logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

func run(ctx context.Context, cfg *config.Config, deps dependencies, errorChan chan error, logger *zap.Logger) error {
	eg, ctx := errgroup.WithContext(ctx)

	hubOpts := []func(*sockets.Hub){
		sockets.WithWriteTimeout(cfg.WSWriteTimeout),
		sockets.OnConnected(func(c sockets.Connection) {
			snapshot := deps.poller.Snapshot()
			if snapshot == nil {
				return
			}
			body, err := json.Marshal(coordinator.Event{Kind: coordinator.EventUpdated, At: snapshot.FetchedAt, Snapshot: snapshot})
			if err != nil {
				logger.Error("failed to encode snapshot", zap.Error(err))
				return
			}
			_ = c.Send(sockets.Msg{Body: body})
		}),
		sockets.OnError(func(err error) {
			logger.Debug("websocket client error", zap.Error(err))
		}),
	}
	if len(cfg.WSAllowedOrigins) > 0 {
		hubOpts = append(hubOpts, sockets.WithCheckOrigin(server.OriginChecker(cfg.WSAllowedOrigins)))
	}
	hub := sockets.New(hubOpts...)
	defer hub.Close()

	// subscribe before polling starts so the first snapshot is not missed
	events, unsubscribe := deps.poller.Subscribe()
	defer unsubscribe()

	eg.Go(func() error {
		return deps.poller.Run(ctx)
	})

	eg.Go(func() error {
		return forwardEvents(ctx, events, deps.publisher, hub, logger)
	})

	if deps.store != nil {
		eg.Go(func() error {
			return cronDbCleanup(ctx, deps.store, cfg.DatabaseCfg, errorChan)
		})
	}

	if cfg.HTTPAddr != "" {
		apiDoc, err := server.LoadAPIDoc()
		if err != nil {
			return err
		}
		validate, err := server.ValidationMiddleware(apiDoc)
		if err != nil {
			return err
		}
		srv := &http.Server{
			Handler: server.New(deps.poller, deps.store).Routes(server.Options{
				Hub:     hub,
				Metrics: deps.metrics,
				Middlewares: []func(http.Handler) http.Handler{
					server.LoggingMiddleware,
					server.AuthMiddleware(cfg.APITokenHash),
					validate,
				},
			}),
			Addr:         cfg.HTTPAddr,
			WriteTimeout: 15 * time.Second,
			ReadTimeout:  15 * time.Second,
		}

		eg.Go(func() error {
			logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	eg.Go(func() error {
		// handle any async errors from service
		for {
			select {
			case err := <-errorChan:
				if errors.Is(err, errCron) {
					logger.Error("cron error", zap.Error(err))
					return err
				}
				logger.Warn("async error", zap.Error(err))
			case <-ctx.Done():
				logger.Info("context done")
				return ctx.Err()
			}
		}
	})

	return eg.Wait()
}

// forwardEvents publishes every new snapshot to the sinks and streams every
// poll event to websocket clients.
func forwardEvents(ctx context.Context, events <-chan coordinator.Event, pub *publisher.Publisher, hub *sockets.Hub, logger *zap.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if e.Kind == coordinator.EventUpdated {
				if err := pub.PublishSnapshot(ctx, e.Snapshot); err != nil {
					logger.Error("failed to publish snapshot", zap.Error(err))
				}
			}
			body, err := json.Marshal(e)
			if err != nil {
				logger.Error("failed to encode event", zap.Error(err))
				continue
			}
			hub.Broadcast(body)
		}
	}
}

func cronDbCleanup(ctx context.Context, db Store, cfg config.DatabaseConfig, errChan chan error) error {
	cleanup := func() error {
		deleted, err := db.Cleanup(ctx, cfg.RetentionDays)
		if err != nil {
			return err
		}
		zap.L().Info("cleaned up database", zap.Int64("deleted", deleted), zap.Int("retention_days", cfg.RetentionDays))
		return nil
	}
	if err := cleanup(); err != nil {
		return err
	}

	// CRON automation
	c := cron.New()
	if _, err := c.AddFunc(cfg.CleanupSchedule, func() {
		if err := cleanup(); err != nil {
			zap.L().Error("error cleaning up database", zap.Error(err))
			errChan <- fmt.Errorf("%w: %w", errCron, err)
		}
	}); err != nil {
		return err
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}
