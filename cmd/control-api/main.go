package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/edvin/botplane/internal/api"
	"github.com/edvin/botplane/internal/auth"
	"github.com/edvin/botplane/internal/config"
	"github.com/edvin/botplane/internal/core"
	"github.com/edvin/botplane/internal/db"
	"github.com/edvin/botplane/internal/hostagent"
	"github.com/edvin/botplane/internal/lifecycle"
	"github.com/edvin/botplane/internal/logging"
	"github.com/edvin/botplane/internal/metrics"
	"github.com/edvin/botplane/internal/migrate"
	"github.com/edvin/botplane/internal/model"
	"github.com/edvin/botplane/internal/preflight"
	"github.com/edvin/botplane/internal/probe"
	"github.com/edvin/botplane/internal/progression"
	"github.com/edvin/botplane/internal/provider"
	"github.com/edvin/botplane/internal/provision"
	"github.com/edvin/botplane/internal/realtime"
	"github.com/edvin/botplane/internal/reconcile"
	"github.com/edvin/botplane/internal/sshrun"
	"github.com/edvin/botplane/internal/whitelist"
)

// certTTL bounds the SSH certificates minted for the lifecycle fallback.
const certTTL = 5 * time.Minute

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "hash-password":
			hashPassword(os.Args[2:])
			return
		case "reset-progression":
			resetProgression()
			return
		}
	}

	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("control-api"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg, "control-api")

	if *migrateFlag {
		logger.Info().Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool)

	store := core.NewStore(pool)
	agent := hostagent.NewClient(cfg.AgentPort, logger)

	sshAuth, caPublicKey, err := loadSSHAuth(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load ssh credentials")
	}
	var shell lifecycle.Shell
	if sshAuth != nil {
		shell = sshrun.NewRunner(cfg.SSHUser, sshAuth, logger)
	} else {
		logger.Warn().Msg("no SSH key configured; lifecycle has no SSH fallback")
	}

	lc := lifecycle.New(store, agent, shell, lifecycle.Config{SignalPath: cfg.SignalPath}, logger)
	prober := probe.New(agent)
	syncer := whitelist.New(store, logger).WithVerifier("binance", &whitelist.BinanceVerifier{})

	factory := func(ctx context.Context, cred *model.CloudCredential) (provider.Adapter, error) {
		return provider.New(ctx, cred, provider.WithLogger(logger))
	}
	provisioner := provision.New(store, factory, provision.Config{
		CloudInit: provider.CloudInit{
			AgentImage:        cfg.AgentImage,
			AgentInternalPort: provision.AgentPort,
			BotImage:          cfg.BotImage,
			SignalPath:        cfg.SignalPath,
			UpdateSecret:      cfg.AgentUpdateSecret,
			SSHCAPublicKey:    caPublicKey,
		},
		SSHKeyID: cfg.SSHKeyID,
	}, logger)
	verifier := provision.NewVerifier(store, func(port int) probe.Agent { return agent.OnPort(port) }, logger)

	authSvc := auth.NewService(cfg.JWTSecret, cfg.MasterPasswordHash)

	hub := realtime.NewHub(logger)
	go func() {
		if err := hub.Listen(ctx, pool); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("realtime listener stopped")
		}
	}()

	srv := api.NewServer(logger, api.Services{
		Store:        store,
		DB:           pool,
		Auth:         authSvc,
		Lifecycle:    lc,
		Prober:       prober,
		Reconciler:   reconcile.New(store, logger),
		Preflight:    preflight.New(store, agent, logger),
		Migrator:     migrate.New(store, lc, prober, syncer, logger),
		Whitelist:    syncer,
		Provisioner:  provisioner,
		Verifier:     verifier,
		Agent:        agent,
		Progression:  progression.New(store, logger),
		Realtime:     hub,
		UpdateSecret: cfg.AgentUpdateSecret,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Int("agent_port", cfg.AgentPort).Msg("starting control API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}

// loadSSHAuth prefers the SSH CA over a static key. The CA public key is
// returned so new hosts can be told to trust it.
func loadSSHAuth(cfg *config.Config) (sshrun.Auth, string, error) {
	switch {
	case cfg.SSHCAKeyPath != "":
		ca, err := sshrun.LoadCertAuthority(cfg.SSHCAKeyPath, certTTL)
		if err != nil {
			return nil, "", err
		}
		return ca, ca.PublicKey(), nil
	case cfg.SSHKeyPath != "":
		key, err := sshrun.LoadStaticKey(cfg.SSHKeyPath)
		if err != nil {
			return nil, "", err
		}
		return key, "", nil
	default:
		return nil, "", nil
	}
}

func hashPassword(args []string) {
	fs := flag.NewFlagSet("hash-password", flag.ExitOnError)
	password := fs.String("password", "", "Operator password to hash (required)")
	fs.Parse(args)

	if *password == "" {
		fmt.Fprintln(os.Stderr, "error: --password is required")
		fmt.Fprintln(os.Stderr, "usage: control-api hash-password --password <password>")
		os.Exit(1)
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

func resetProgression() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := logging.NewLogger(cfg, "control-api").Level(zerolog.WarnLevel)
	if err := progression.New(core.NewStore(pool), logger).Reset(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Progression reset. Paper and live trading are locked again.")
}
