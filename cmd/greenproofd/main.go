package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"greenproof/bans"
	"greenproof/config"
	"greenproof/evidence"
	"greenproof/models"
	"greenproof/observability/logging"
	telemetry "greenproof/observability/otel"
	"greenproof/rewards"
	"greenproof/rewards/wallet"
	"greenproof/server"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("greenproofd: %v", err)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to greenproofd configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("GREENPROOF_ENV"))
	logger := logging.Setup("greenproofd", env)
	shutdownTelemetry, err := telemetry.Setup(context.Background(), "greenproofd", env)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	store := evidence.NewStore(db)
	registry := bans.NewRegistry(db)
	ledger := rewards.NewLedger(db)

	evmClient, err := wallet.DialEVMClient(cfg.Rewards.Endpoint)
	if err != nil {
		return fmt.Errorf("dial rewards endpoint: %w", err)
	}
	defer evmClient.Close()
	if !common.IsHexAddress(cfg.Rewards.Token) {
		return fmt.Errorf("rewards token %q is not a valid address", cfg.Rewards.Token)
	}
	treasury, err := wallet.NewEVMWallet(evmClient, common.HexToAddress(cfg.Rewards.Token), cfg.Rewards.SignerKey, new(big.Int).SetUint64(cfg.Rewards.ChainID))
	if err != nil {
		return fmt.Errorf("init treasury wallet: %w", err)
	}

	distributor := rewards.NewDistributor(ledger,
		rewards.WithWallet(treasury),
		rewards.WithFunds(cfg.Rewards.CreatorFund, cfg.Rewards.AppFund),
		rewards.WithConfirmations(cfg.Rewards.Confirmations),
		rewards.WithLegTimeout(cfg.Rewards.LegTimeout.Duration),
		rewards.WithPollInterval(cfg.Rewards.PollInterval.Duration),
		rewards.WithLogger(logger),
	)

	sweeper := evidence.NewSweeper(db, logger,
		evidence.WithWindow(cfg.Retention.Window.Duration),
		evidence.WithInterval(cfg.Retention.Interval.Duration),
	)

	auth, err := server.NewAuthenticator(server.AuthConfig{BearerToken: cfg.Admin.BearerToken})
	if err != nil {
		return fmt.Errorf("init admin auth: %w", err)
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		AdminAuth:     auth,
		IntakeRate: server.RateLimit{
			RequestsPerMinute: cfg.Intake.RatePerMinute,
			Burst:             cfg.Intake.Burst,
		},
	}, store, registry, distributor, ledger, logger)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweeper.Run(stopCtx)

	errs := make(chan error, 1)
	go func() {
		logger.Info("greenproofd listening", "address", cfg.ListenAddress)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	opts := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	switch cfg.Driver {
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.DSN), opts)
	default:
		return gorm.Open(postgres.Open(cfg.DSN), opts)
	}
}
