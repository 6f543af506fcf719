package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"noorsales/backend/internal/cache"
	"noorsales/backend/internal/config"
	"noorsales/backend/internal/httpapi"
	"noorsales/backend/internal/logger"
	"noorsales/backend/internal/metrics"
	"noorsales/backend/internal/service"
	"noorsales/backend/internal/store"
	"noorsales/backend/internal/store/memory"
	pgstore "noorsales/backend/internal/store/postgres"
	"noorsales/backend/internal/store/redisstore"
)

var version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(envFile)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Load saved state and report inconsistencies",
		Long: `Doctor loads every saved collection through the same repair path the
server uses on startup, then checks invoice arithmetic, return bounds, invoice
numbering and stock levels. It exits non-zero when problems are found.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(envFile)
			if err != nil {
				return err
			}
			log := logger.WithComponent("doctor")
			b, err := openBackends(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer b.close(log)
			return runDoctor(cmd.Context(), cfg, b.persister, cmd.OutOrStdout())
		},
	}

	root := &cobra.Command{
		Use:           "noorsales",
		Short:         "Sales, invoicing and inventory backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveCmd.RunE,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")
	root.AddCommand(serveCmd, doctorCmd)
	return root
}

func setup(envFile string) (config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, fmt.Errorf("read %s: %w", envFile, err)
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Setup(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: "stdout"}); err != nil {
		return config.Config{}, fmt.Errorf("setup logger: %w", err)
	}
	metrics.Register()
	return cfg, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.IsProduction() && cfg.SeedAdminPassword == "admin" {
		return fmt.Errorf("SEED_ADMIN_PASSWORD must be changed in production")
	}
	return nil
}

type backends struct {
	persister store.Persister
	redis     *redis.Client
	closers   []func() error
}

func (b *backends) close(log zerolog.Logger) {
	for _, closeFn := range b.closers {
		if err := closeFn(); err != nil {
			log.Warn().Err(err).Msg("close error")
		}
	}
}

// openBackends picks the persister: Postgres when DATABASE_URL is set, Redis
// when only REDIS_ADDR is set, otherwise process memory. A configured durable
// backend that cannot be reached is fatal.
func openBackends(ctx context.Context, cfg config.Config, log zerolog.Logger) (*backends, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	b := &backends{}
	var redisErr error
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if redisErr = client.Ping(connectCtx).Err(); redisErr != nil {
			_ = client.Close()
		} else {
			b.redis = client
			b.closers = append(b.closers, client.Close)
		}
	}

	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(connectCtx, cfg.DatabaseURL)
		if err != nil {
			b.close(log)
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory state: %w", err)
		}
		b.persister = pg
		b.closers = append(b.closers, pg.Close)
		log.Info().Msg("persistence: postgres")
	case cfg.RedisAddr != "":
		if redisErr != nil {
			return nil, fmt.Errorf("redis unavailable and REDIS_ADDR is set; refusing to start with in-memory state: %w", redisErr)
		}
		b.persister = redisstore.NewWithClient(b.redis)
		log.Info().Msg("persistence: redis")
	default:
		b.persister = store.NewMapPersister()
		log.Warn().Msg("persistence: in-memory, state is lost on restart")
	}

	if redisErr != nil {
		log.Warn().Err(redisErr).Msg("redis unavailable, sessions kept in memory")
	}
	return b, nil
}

func openStore(ctx context.Context, cfg config.Config, persister store.Persister, readOnly bool) (*memory.Store, error) {
	repo, err := memory.New(memory.Options{
		Persister:         persister,
		PersistTimeout:    cfg.PersistTimeout,
		SeedAdminPassword: cfg.SeedAdminPassword,
		ReadOnly:          readOnly,
		Logger:            logger.WithComponent("store"),
	})
	if err != nil {
		return nil, err
	}
	if err := repo.Load(ctx); err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return repo, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	log := logger.WithComponent("server")
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close(log)

	repo, err := openStore(ctx, cfg, b.persister, false)
	if err != nil {
		return err
	}

	var sessions cache.SessionCache = cache.NewMemorySessionCache()
	if b.redis != nil {
		sessions = cache.NewRedisSessionCache(b.redis)
		log.Info().Msg("sessions: redis")
	} else {
		log.Info().Msg("sessions: memory")
	}

	svc := service.New(repo, cfg.LowStockThreshold, logger.WithComponent("service"))
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), cfg.SessionTTL(), repo, sessions, logger.WithComponent("auth"))
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:          cfg.AllowedOrigin,
		Production:             cfg.IsProduction(),
		LoginAttemptsPerMinute: 5,
		Logger:                 logger.WithComponent("http"),
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Address()).Str("version", version).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-sig:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
	return nil
}

// runDoctor loads the saved state and prints every inconsistency it finds.
// Repairs happen in memory only; nothing is written back.
func runDoctor(ctx context.Context, cfg config.Config, persister store.Persister, out io.Writer) error {
	repo, err := openStore(ctx, cfg, persister, true)
	if err != nil {
		return err
	}

	problems := repo.Verify()
	for _, problem := range problems {
		fmt.Fprintf(out, "- %v\n", problem)
	}
	summary := repo.Summary(ctx, cfg.LowStockThreshold)
	fmt.Fprintf(out, "%d products, %d customers, %d invoices, sequence %d\n",
		summary.Products, summary.Customers, summary.Invoices, repo.Sequence())
	if len(problems) > 0 {
		return fmt.Errorf("%d problems found", len(problems))
	}
	fmt.Fprintln(out, "state is consistent")
	return nil
}
