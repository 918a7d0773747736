package settlementd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"arenapay/chain"
	"arenapay/config"
	"arenapay/distribute"
	"arenapay/identity"
	"arenapay/ledger"
	"arenapay/observability/logging"
	telemetry "arenapay/observability/otel"
	"arenapay/server"
	"arenapay/settlement"
	"arenapay/verify"
)

// Main initialises and runs the settlement daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to settlementd configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ARENAPAY_ENV"))
	log := logging.Setup("settlementd", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "settlementd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	backend, err := chain.Dial(cfg.Chain.RPCEndpoint)
	if err != nil {
		return fmt.Errorf("dial chain rpc: %w", err)
	}
	defer backend.Close()

	tokenAddr, err := chain.ParseAddress(cfg.Chain.TokenAddress)
	if err != nil {
		return err
	}
	token := chain.NewERC20(backend, tokenAddr)

	wallet, err := chain.NewWallet(backend, cfg.Chain.SignerKey, chain.WithGasLimit(cfg.Chain.TransferGasLimit))
	if err != nil {
		return fmt.Errorf("init custodial wallet: %w", err)
	}
	treasury, err := chain.NewTreasury(token, wallet)
	if err != nil {
		return err
	}

	// Stake-aware ordering is best effort: a missing staking contract just
	// means candidate order is left as the directory returned it.
	var stakeReader identity.StakeReader
	if addr := strings.TrimSpace(cfg.Chain.StakingAddress); addr != "" {
		stakingAddr, err := chain.ParseAddress(addr)
		if err != nil {
			return err
		}
		reader, err := chain.NewStakeReader(backend, stakingAddr, cfg.Chain.StakingReadFunction)
		if err != nil {
			return err
		}
		stakeReader = reader
	}

	directory, err := identity.NewClient(cfg.Identity.BaseURL, cfg.Identity.APIKey,
		identity.WithRateLimit(rate.Limit(cfg.Identity.RatePerSecond), cfg.Identity.Burst))
	if err != nil {
		return fmt.Errorf("init identity client: %w", err)
	}
	resolver := identity.NewResolver(directory, stakeReader, log)

	db, err := ledger.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	guard := ledger.NewGuard(db)

	verifier := verify.NewVerifier(backend)
	distributor := distribute.NewDistributor(treasury, cfg.Chain.TokenDecimals, distribute.WithLogger(log))

	service := settlement.NewService(verifier, resolver, distributor, treasury, guard, settlement.Config{
		TokenAddress:    cfg.Chain.TokenAddress,
		TokenDecimals:   cfg.Chain.TokenDecimals,
		EscrowAddress:   cfg.Chain.EscrowAddress,
		ExplorerBaseURL: cfg.ExplorerBaseURL,
		KnownContracts:  identity.KnownContractSet(cfg.ContractAddresses()...),
	}, log)
	if cfg.PauseOnStart {
		service.Pause()
	}

	auth := server.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if !auth.Enabled() {
		log.Warn("bearer authentication disabled: no jwt secret configured")
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.New(service, auth, log).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.RequestTimeout.Duration,
		WriteTimeout:      cfg.RequestTimeout.Duration,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("settlementd listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
