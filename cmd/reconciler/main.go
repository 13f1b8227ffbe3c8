// Command reconciler runs the chainpay reconciliation loop as a daemon, or
// a single pass with the tick subcommand.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/metartpay/chainpay"
	"github.com/metartpay/chainpay/config"
	"github.com/metartpay/chainpay/docstore"
	"github.com/metartpay/chainpay/logger"
	"github.com/metartpay/chainpay/metrics"
	"github.com/metartpay/chainpay/types"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "reconciler",
		Short: "chainpay payment reconciliation engine",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	root.AddCommand(runCmd(), tickCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the reconciliation loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gateway, log, err := setup()
			if err != nil {
				return err
			}
			defer gateway.Close()

			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.MetricsAddr != "" {
				go serveMetrics(cfg.MetricsAddr, log)
			}

			for network, netCfg := range gateway.Networks() {
				go tickLoop(ctx, gateway, network, cadence(netCfg.BlockTime), log)
			}
			if cfg.RefreshInterval > 0 {
				go refreshLoop(ctx, gateway, cfg.RefreshInterval)
			}

			log.Info("reconciler started", map[string]any{
				"cluster":  cfg.Cluster,
				"networks": len(gateway.Networks()),
			})
			<-ctx.Done()
			log.Info("reconciler stopping", nil)
			return nil
		},
	}
}

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "run a single reconciliation pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gateway, log, err := setup()
			if err != nil {
				return err
			}
			defer gateway.Close()

			gateway.Tick(cmd.Context())
			gateway.RefreshPending(cmd.Context(), 0)
			log.Info("tick complete", nil)
			return nil
		},
	}
}

func setup() (*config.Config, *chainpay.Gateway, logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	log := logger.NewZapLogger(cfg.LogLevel)

	var store docstore.Store
	if cfg.MySQLDSN != "" {
		store, err = docstore.NewGormStore(cfg.MySQLDSN)
		if err != nil {
			return nil, nil, nil, err
		}
	} else {
		log.Warn("no mysql_dsn configured, using in-memory store", nil)
		store = docstore.NewMemoryStore()
	}

	gateway := chainpay.New(chainpay.Config{
		Cluster:      types.Cluster(cfg.Cluster),
		AllowPrefill: cfg.AllowPrefill,
	}, store,
		chainpay.WithLogger(log),
		chainpay.WithMetrics(metrics.NewPrometheusRecorder()),
	)

	for network, netCfg := range cfg.NetworkConfigs() {
		if err := gateway.AddNetwork(network, netCfg); err != nil {
			return nil, nil, nil, err
		}
	}
	if len(gateway.Networks()) == 0 {
		return nil, nil, nil, types.NewError(types.ErrConfig,
			"no networks enabled", nil)
	}
	return cfg, gateway, log, nil
}

func tickLoop(ctx context.Context, gateway *chainpay.Gateway, network types.Network, every time.Duration, log logger.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	gateway.Tick(ctx, network)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gateway.Tick(ctx, network)
		}
	}
}

func refreshLoop(ctx context.Context, gateway *chainpay.Gateway, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gateway.RefreshPending(ctx, 100)
		}
	}
}

// cadence derives the per-network tick interval from the chain's block time.
func cadence(blockTime time.Duration) time.Duration {
	every := 3 * blockTime
	if every < 5*time.Second {
		return 5 * time.Second
	}
	return every
}

func serveMetrics(addr string, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server failed", map[string]any{"error": err.Error()})
	}
}
