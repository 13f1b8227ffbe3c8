// Package chainpay implements payment reconciliation for multiple blockchain
// networks including EVM chains and Solana: payment intent creation with
// wallet-scannable QR payloads, monitored receiving addresses, and a
// recurring reconciliation loop that records observed transfers and
// completes payments exactly once.
package chainpay

import (
	"context"
	"fmt"
	"time"

	"github.com/metartpay/chainpay/clients"
	"github.com/metartpay/chainpay/docstore"
	"github.com/metartpay/chainpay/engine"
	"github.com/metartpay/chainpay/intent"
	"github.com/metartpay/chainpay/ledger"
	"github.com/metartpay/chainpay/logger"
	"github.com/metartpay/chainpay/metrics"
	"github.com/metartpay/chainpay/notify"
	"github.com/metartpay/chainpay/registry"
	"github.com/metartpay/chainpay/types"
	"github.com/metartpay/chainpay/wallets"
)

// Config is the top-level gateway configuration.
type Config struct {
	// Cluster selects the token-mint registry and the production safety
	// gates.
	Cluster types.Cluster

	// AllowPrefill enables amount-carrying QR payloads on the production
	// cluster.
	AllowPrefill bool

	// DefaultTimeout bounds adapter RPC calls when a network config carries
	// no explicit timeout.
	DefaultTimeout time.Duration
}

// Gateway is the main entry point wiring the intent factory, the monitor
// registry, the ledger and the reconciliation engine over one document
// store.
type Gateway struct {
	config   Config
	store    docstore.Store
	registry *registry.Registry
	ledger   *ledger.Ledger
	factory  *intent.Factory
	engine   *engine.Engine
	networks map[types.Network]types.NetworkConfig
	adapters []clients.ChainAdapter

	log      logger.Logger
	metrics  metrics.Recorder
	notifier notify.Notifier
	rates    wallets.RateSource
	now      func() time.Time
}

// New creates a Gateway over the given document store. Networks are added
// afterwards with AddNetwork.
func New(config Config, store docstore.Store, opts ...Option) *Gateway {
	g := &Gateway{
		config:   config,
		store:    store,
		networks: make(map[types.Network]types.NetworkConfig),
		log:      &logger.NoopLogger{},
		metrics:  &metrics.NoopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.notifier == nil {
		g.notifier = notify.NewStoreNotifier(store, g.now)
	}
	if g.rates == nil {
		g.rates = wallets.NewCoinGeckoRates(g.log)
	}
	if g.config.Cluster == "" {
		g.config.Cluster = types.ClusterDevnet
	}

	g.registry = registry.New(store, g.log, g.now)
	g.ledger = ledger.New(store, g.log, g.now)
	g.engine = engine.New(store, g.registry, g.ledger, g.notifier, g.log, g.metrics, g.now)
	g.factory = intent.NewFactory(store, g.registry, wallets.NewMatcher(g.log), g.rates,
		g.config.Cluster, g.config.AllowPrefill, g.networks, g.log, g.now)
	return g
}

// AddNetwork wires the chain adapter for one network. The config's defaults
// for the network are merged under any zero fields.
func (g *Gateway) AddNetwork(network types.Network, cfg types.NetworkConfig) error {
	cfg.Network = network
	if cfg.Timeout == 0 {
		cfg.Timeout = g.config.DefaultTimeout
	}
	mergeDefaults(&cfg)

	var adapter clients.ChainAdapter
	var err error
	switch {
	case network.IsEVM():
		adapter, err = clients.NewEVMAdapter(cfg)
	case network.IsSolana():
		adapter, err = clients.NewSolanaAdapter(cfg, g.config.Cluster)
	default:
		return types.NewError(types.ErrUnsupportedNetwork,
			fmt.Sprintf("unsupported network: %s", network), nil)
	}
	if err != nil {
		return err
	}

	g.networks[network] = cfg
	g.adapters = append(g.adapters, adapter)
	g.engine.AddAdapter(adapter, cfg)
	g.log.Info("network added", map[string]any{"network": network})
	return nil
}

// mergeDefaults fills zero fields from the built-in network configuration.
func mergeDefaults(cfg *types.NetworkConfig) {
	def, ok := types.DefaultNetworkConfigs()[cfg.Network]
	if !ok {
		return
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = def.ChainID
	}
	if cfg.BlockTime == 0 {
		cfg.BlockTime = def.BlockTime
	}
	if cfg.RequiredConfirmations == 0 {
		cfg.RequiredConfirmations = def.RequiredConfirmations
	}
	if cfg.Tokens == nil {
		cfg.Tokens = def.Tokens
	}
	if cfg.Mints == nil {
		cfg.Mints = def.Mints
	}
	if cfg.TokenDecimals == nil {
		cfg.TokenDecimals = def.TokenDecimals
	}
}

// CreateIntent creates a payment intent with its QR payload variants.
func (g *Gateway) CreateIntent(ctx context.Context, req intent.CreateIntentRequest) (*types.PaymentIntent, error) {
	return g.factory.CreateIntent(ctx, req)
}

// Tick runs one reconciliation pass. With no networks given, all configured
// networks run in parallel.
func (g *Gateway) Tick(ctx context.Context, networks ...types.Network) {
	g.engine.Tick(ctx, networks...)
}

// RefreshPending re-checks pending and confirming ledger entries.
func (g *Gateway) RefreshPending(ctx context.Context, limit int) {
	g.engine.RefreshPending(ctx, limit)
}

// Registry exposes the monitor registry for explicit address registration.
func (g *Gateway) Registry() *registry.Registry { return g.registry }

// Ledger exposes the transaction ledger for read access.
func (g *Gateway) Ledger() *ledger.Ledger { return g.ledger }

// Networks returns the configured network set.
func (g *Gateway) Networks() map[types.Network]types.NetworkConfig {
	out := make(map[types.Network]types.NetworkConfig, len(g.networks))
	for k, v := range g.networks {
		out[k] = v
	}
	return out
}

// Close releases all adapter connections.
func (g *Gateway) Close() {
	for _, a := range g.adapters {
		a.Close()
	}
}
