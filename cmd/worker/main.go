package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"

	"github.com/edvin/botplane/internal/activity"
	"github.com/edvin/botplane/internal/config"
	"github.com/edvin/botplane/internal/core"
	"github.com/edvin/botplane/internal/db"
	"github.com/edvin/botplane/internal/hostagent"
	"github.com/edvin/botplane/internal/logging"
	"github.com/edvin/botplane/internal/metrics"
	"github.com/edvin/botplane/internal/probe"
	"github.com/edvin/botplane/internal/reconcile"
	"github.com/edvin/botplane/internal/scheduler"
	"github.com/edvin/botplane/internal/timeseries"
	"github.com/edvin/botplane/internal/workflow"
)

const taskQueue = "botplane"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("worker"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg, "worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool)

	tlsConfig, err := cfg.TemporalTLS()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure temporal TLS")
	}
	dialOpts := temporalclient.Options{HostPort: cfg.TemporalAddress, Namespace: cfg.TemporalNamespace}
	if tlsConfig != nil {
		dialOpts.ConnectionOptions = temporalclient.ConnectionOptions{TLS: tlsConfig}
		logger.Info().Bool("client_cert", len(tlsConfig.Certificates) > 0).Str("server_name", tlsConfig.ServerName).Msg("temporal TLS enabled")
	}
	tc, err := temporalclient.Dial(dialOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	store := core.NewStore(pool)
	agent := hostagent.NewClient(cfg.AgentPort, logger)
	jobs := scheduler.New(store, probe.New(agent), reconcile.New(store, logger), logger)
	if cfg.InfluxEnabled() {
		influx := timeseries.NewInflux(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
		defer influx.Close()
		jobs.WithMirror(influx)
		logger.Info().Str("url", cfg.InfluxURL).Str("bucket", cfg.InfluxBucket).Msg("mirroring health samples to influxdb")
	}

	w := worker.New(tc, taskQueue, worker.Options{
		Interceptors: []interceptor.WorkerInterceptor{&workflow.ActivityErrorInterceptor{}},
	})

	w.RegisterActivity(activity.NewScheduler(jobs))

	w.RegisterWorkflow(workflow.HealthSweepWorkflow)
	w.RegisterWorkflow(workflow.AIQuotaResetWorkflow)
	w.RegisterWorkflow(workflow.AICooldownSweepWorkflow)

	if cfg.MetricsAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsAddr, pool.Ping)
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	go func() {
		logger.Info().Str("taskQueue", taskQueue).Msg("starting temporal worker")
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Fatal().Err(err).Msg("worker failed")
		}
	}()

	if err := workflow.RegisterSchedules(ctx, tc.ScheduleClient(), taskQueue, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to register schedules")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker")
	cancel()
}
