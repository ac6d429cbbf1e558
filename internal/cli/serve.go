package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/remindfi/remind-network/pkg/log"
	"github.com/remindfi/remind-network/reminders"
	"github.com/remindfi/remind-network/reminders/api"
	"github.com/remindfi/remind-network/reminders/chain"
	"github.com/remindfi/remind-network/reminders/matcher"
	"github.com/remindfi/remind-network/reminders/metrics"
	"github.com/remindfi/remind-network/reminders/oracle"
	"github.com/spf13/cobra"
)

var serveListen string

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "api listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the verification api",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsNamespace != "" {
		metrics.RegisterMetrics(cfg.MetricsNamespace)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	signer, err := openSigner(cfg)
	if err != nil {
		return err
	}
	if signer == nil {
		log.Warn().Msg("signer key is not configured, claims will not be authorized")
	} else {
		log.Info().Str("address", signer.Address().Hex()).Msg("claim signer loaded, configure this address in the ledger")
	}

	orc := oracle.NewClient(oracle.Config{
		BaseURL: cfg.Oracle.BaseURL,
		APIKey:  cfg.Oracle.APIKey,
		Timeout: cfg.Oracle.Timeout(),
	}, logger)

	var (
		tasks    reminders.TaskProvider
		ledger   reminders.Ledger
		apiTasks api.Tasks
	)
	if chainEnabled(cfg) {
		l, err := openLedger(ctx, cfg)
		if err != nil {
			return err
		}

		cache := chain.NewTaskCache(l, cacheConfig(cfg.Chain), logger)
		cache.Subscribe(func(snap []*chain.Task) {
			log.Info().Int("tasks", len(snap)).Msg("task snapshot changed")
		})
		go func() {
			if _, err := cache.Refresh(ctx, true); err != nil {
				log.Warn().Err(err).Msg("initial task refresh failed")
			}
		}()

		tasks, ledger, apiTasks = cache, l, cache
	} else {
		log.Warn().Msg("chain is not configured, rewards are not priced and claims cannot be relayed")
	}

	svc := reminders.NewService(store, orc,
		matcher.New(cfg.Verification.Keywords, cfg.Verification.AppURL, cfg.Verification.RecencyWindow()),
		tasks, ledger, signer, reminders.Config{
			TTL:           cfg.Verification.TTL(),
			TokenDecimals: cfg.Chain.TokenDecimals,
		}, logger)

	listen := cfg.APIListenAddr
	if serveListen != "" {
		listen = serveListen
	}

	var creds *api.Credentials
	if cfg.APICredentials != nil {
		creds = &api.Credentials{Login: cfg.APICredentials.Login, Password: cfg.APICredentials.Password}
	}

	srv := api.NewServer(listen, svc, apiTasks, api.Config{
		WebhookSecret:  cfg.WebhookSecret,
		Credentials:    creds,
		TokenDecimals:  cfg.Chain.TokenDecimals,
		MetricsEnabled: metrics.Registered,
	}, logger)
	srv.SetAccounts(orc)

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Start()
	}()

	select {
	case err = <-errs:
		if err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
