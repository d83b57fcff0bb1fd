// Command server starts the ranking and fusion tier's HTTP surface (C9),
// wiring the feature store, inference batcher, scorer, and offline
// aggregation scheduler together.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/recrank/internal/adapter/batcher"
	"github.com/fairyhunter13/recrank/internal/adapter/clockutil"
	"github.com/fairyhunter13/recrank/internal/adapter/featurestore"
	"github.com/fairyhunter13/recrank/internal/adapter/httpserver"
	"github.com/fairyhunter13/recrank/internal/adapter/observability"
	"github.com/fairyhunter13/recrank/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/recrank/internal/adapter/scheduler"
	"github.com/fairyhunter13/recrank/internal/adapter/scorer"
	"github.com/fairyhunter13/recrank/internal/config"
	"github.com/fairyhunter13/recrank/internal/domain"
	"github.com/fairyhunter13/recrank/internal/usecase/aggregate"
	"github.com/fairyhunter13/recrank/internal/usecase/fusion"
	"github.com/fairyhunter13/recrank/internal/usecase/ranking"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema ensure failed", slog.Any("error", err))
		os.Exit(1)
	}

	gateway := postgres.NewBehaviorRepo(pool)
	retention := postgres.NewRetentionService(pool)

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	var rdb *redis.Client
	if err != nil {
		slog.Warn("redis URL parse failed, feature store L2 disabled", slog.Any("error", err))
	} else {
		rdb = redis.NewClient(redisOpt)
	}

	store, err := featurestore.NewStore(cfg, gateway, rdb)
	if err != nil {
		slog.Error("feature store init failed", slog.Any("error", err))
		os.Exit(1)
	}

	scorerLoader := scorer.NewLoader(128)
	if err := scorerLoader.Reload(ctx, "default-wide-deep"); err != nil {
		slog.Error("initial scorer load failed", slog.Any("error", err))
	}

	inferBatcher := batcher.New(cfg, scorerLoader)

	rankingPipeline := ranking.New(store, inferBatcher)
	fusionPolicy := fusion.NewPolicyFromConfig(cfg)
	fusionPipeline := fusion.New(fusionPolicy)

	sched, err := scheduler.New(cfg.RedisURL, cfg.SchedulerWorkers, cfg.SchedulerShutdownGrace)
	if err != nil {
		slog.Error("scheduler init failed", slog.Any("error", err))
		os.Exit(1)
	}
	jobs := aggregate.New(gateway, store, retention, cfg)
	registerJobs(sched, jobs)

	if err := sched.Start(ctx); err != nil {
		slog.Error("scheduler start failed", slog.Any("error", err))
		os.Exit(1)
	}

	srv := httpserver.NewServer(cfg, rankingPipeline, fusionPipeline, store, gateway, scorerLoader, sched, inferBatcher, clockutil.System{})
	handler := srv.BuildRouter()

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		slog.Error("scheduler stop failed", slog.Any("error", err))
	}
	_ = httpSrv.Shutdown(shutdownCtx)
}

// registerJobs wires the five offline aggregator jobs onto
// the scheduler with their fixed cadences.
func registerJobs(sched *scheduler.Scheduler, jobs *aggregate.Jobs) {
	must := func(name string, cadence domain.Cadence, fn domain.JobFunc) {
		if err := sched.Register(name, cadence, fn); err != nil {
			slog.Error("job registration failed", slog.String("job", name), slog.Any("error", err))
		}
	}
	must("viewer-daily", domain.Cadence{Daily: &domain.ClockTime{Hour: 2, Minute: 0}}, jobs.ViewerDaily)
	must("item-hourly", domain.Cadence{Hourly: intPtr(0)}, jobs.ItemHourly)
	must("matrix-daily", domain.Cadence{Daily: &domain.ClockTime{Hour: 3, Minute: 0}}, jobs.MatrixDaily)
	must("trending-hourly", domain.Cadence{Hourly: intPtr(30)}, jobs.TrendingHourly)
	must("retention-weekly", domain.Cadence{Weekly: &domain.WeeklyTime{Weekday: time.Sunday, At: domain.ClockTime{Hour: 1, Minute: 0}}}, jobs.RetentionWeekly)
}

func intPtr(n int) *int { return &n }
