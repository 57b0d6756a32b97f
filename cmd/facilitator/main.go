package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	x402 "github.com/A-Maugli/x402-avm-avm-exmaples"
	"github.com/A-Maugli/x402-avm-avm-exmaples/facilitator"
	"github.com/A-Maugli/x402-avm-avm-exmaples/logger"
	"github.com/A-Maugli/x402-avm-avm-exmaples/metrics"
	"github.com/A-Maugli/x402-avm-avm-exmaples/signer"
	"github.com/A-Maugli/x402-avm-avm-exmaples/types"
	"github.com/A-Maugli/x402-avm-avm-exmaples/utils"
)

const (
	defaultTestnetURL = "https://testnet-api.4160.nodely.dev"
	defaultMainnetURL = "https://mainnet-api.4160.nodely.dev"
)

type config struct {
	PrivateKey         string `validate:"required"`
	TestnetURL         string `validate:"required,url"`
	MainnetURL         string `validate:"omitempty,url"`
	AlgodToken         string
	LogLevel           string `validate:"oneof=debug info warn error"`
	Port               string `validate:"required,numeric"`
	ConfirmationRounds uint64 `validate:"gte=1,lte=1000"`
	ConfigFile         string `validate:"omitempty,file"`
}

func loadConfig() (*config, error) {
	// a missing .env is fine, the environment may already be set
	_ = godotenv.Load()

	cfg := &config{
		PrivateKey:         os.Getenv("AVM_PRIVATE_KEY"),
		TestnetURL:         getEnv("ALGOD_TESTNET_URL", defaultTestnetURL),
		MainnetURL:         getEnv("ALGOD_MAINNET_URL", defaultMainnetURL),
		AlgodToken:         os.Getenv("ALGOD_TOKEN"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		Port:               getEnv("PORT", "4000"),
		ConfirmationRounds: 10,
		ConfigFile:         os.Getenv("X402_CONFIG_FILE"),
	}
	if v := os.Getenv("CONFIRMATION_ROUNDS"); v != "" {
		rounds, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, err
		}
		cfg.ConfirmationRounds = rounds
	}

	if err := utils.Validator().Struct(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// x402Config reads X402_CONFIG_FILE when set. Its clients replace the
// ALGOD_*_URL networks, zero fields fall back to the environment.
func (c *config) x402Config() (*types.X402Config, error) {
	fc := &types.X402Config{}
	if c.ConfigFile != "" {
		data, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return nil, err
		}
		if fc, err = utils.ParseX402Config(data); err != nil {
			return nil, err
		}
	}

	if fc.DefaultTimeout == 0 {
		fc.DefaultTimeout = 2 * time.Minute
	}
	if fc.RetryCount == 0 {
		fc.RetryCount = 3
	}
	if fc.ConfirmationRounds == 0 {
		fc.ConfirmationRounds = c.ConfirmationRounds
	}
	if len(fc.Clients) == 0 {
		fc.Clients = map[types.Network]types.ClientConfig{}
		for network, url := range map[types.Network]string{
			types.NetworkAlgorandTestnet: c.TestnetURL,
			types.NetworkAlgorandMainnet: c.MainnetURL,
		} {
			if url == "" {
				continue
			}
			fc.Clients[network] = types.ClientConfig{
				Network:    network,
				AlgodURL:   url,
				AlgodToken: c.AlgodToken,
			}
		}
	}
	return fc, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	zl, err := logger.NewZap(cfg.LogLevel)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer zl.Sync()

	feePayer, err := signer.NewKeySignerFromString(cfg.PrivateKey)
	if err != nil {
		zl.Fatal("invalid AVM_PRIVATE_KEY", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewPrometheusRecorder(registry)
	if err != nil {
		zl.Fatal("failed to register metrics", zap.Error(err))
	}

	x402Cfg, err := cfg.x402Config()
	if err != nil {
		zl.Fatal("invalid facilitator config file", zap.String("path", cfg.ConfigFile), zap.Error(err))
	}

	fac, err := x402.New(x402Cfg,
		x402.WithLogger(logger.NewZapLoggerFrom(zl)),
		x402.WithMetrics(recorder),
		x402.WithFeePayer(feePayer),
	)
	if err != nil {
		zl.Fatal("invalid facilitator config", zap.Error(err))
	}
	defer fac.Close()

	if err := fac.AddConfiguredNetworks(); err != nil {
		zl.Fatal("failed to add networks", zap.Error(err))
	}

	server := facilitator.NewServer(fac,
		facilitator.WithZapLogger(zl),
		facilitator.WithGatherer(registry),
		facilitator.WithServiceName("x402-avm-facilitator"),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	zl.Info("facilitator service running",
		zap.String("port", cfg.Port),
		zap.String("feePayer", feePayer.Address()),
		zap.Any("networks", fac.Supported().Kinds),
	)

	select {
	case err := <-errCh:
		zl.Fatal("server stopped", zap.Error(err))
	case <-ctx.Done():
		zl.Info("shutting down")
	}

	// in-flight settlements may wait for confirmation
	shutdownCtx, cancel := context.WithTimeout(context.Background(), x402Cfg.DefaultTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("graceful shutdown failed", zap.Error(err))
	}
}
