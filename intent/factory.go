// Package intent creates payment intents: resolving the merchant's wallet,
// converting the fiat amount, generating the wallet-scannable QR payloads
// and kicking off monitoring for address-only flows.
package intent

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/metartpay/chainpay/docstore"
	"github.com/metartpay/chainpay/logger"
	"github.com/metartpay/chainpay/registry"
	"github.com/metartpay/chainpay/types"
	"github.com/metartpay/chainpay/wallets"
)

const (
	merchantsCollection = "merchants"
	walletsCollection   = "wallets"
	paymentsCollection  = "payments"
)

// cryptoPlaces is the rounding applied to fiat-to-crypto conversion.
const cryptoPlaces = 6

// CreateIntentRequest is the validated input to CreateIntent.
type CreateIntentRequest struct {
	MerchantID  string          `json:"merchantId" validate:"required"`
	AmountFiat  decimal.Decimal `json:"amountFiat"`
	Token       string          `json:"token" validate:"required"`
	Network     types.Network   `json:"network" validate:"required"`
	Description string          `json:"description" validate:"max=500"`
	ExpiresIn   time.Duration   `json:"expiresIn"`
}

// Factory builds payment intents.
type Factory struct {
	store        docstore.Store
	registry     *registry.Registry
	matcher      *wallets.Matcher
	rates        wallets.RateSource
	cluster      types.Cluster
	allowPrefill bool
	networks     map[types.Network]types.NetworkConfig
	validate     *validator.Validate
	log          logger.Logger
	now          func() time.Time
}

func NewFactory(store docstore.Store, reg *registry.Registry, matcher *wallets.Matcher, rates wallets.RateSource, cluster types.Cluster, allowPrefill bool, networks map[types.Network]types.NetworkConfig, log logger.Logger, now func() time.Time) *Factory {
	if log == nil {
		log = &logger.NoopLogger{}
	}
	if now == nil {
		now = time.Now
	}
	if rates == nil {
		rates = &wallets.StaticRates{}
	}
	return &Factory{
		store:        store,
		registry:     reg,
		matcher:      matcher,
		rates:        rates,
		cluster:      cluster,
		allowPrefill: allowPrefill,
		networks:     networks,
		validate:     validator.New(),
		log:          log,
		now:          now,
	}
}

// CreateIntent builds and persists a payment intent, returning it with its
// QR payload variants filled in. Address-only intents (no positive fiat
// amount) also register a monitor entry so the reconciliation loop picks
// them up immediately.
func (f *Factory) CreateIntent(ctx context.Context, req CreateIntentRequest) (*types.PaymentIntent, error) {
	if err := f.validate.Struct(req); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "invalid intent request", err)
	}

	merchant, err := f.merchant(ctx, req.MerchantID)
	if err != nil {
		return nil, err
	}
	if !merchant.WalletsGenerated {
		return nil, types.NewError(types.ErrMerchantNotReady,
			fmt.Sprintf("merchant %s has not completed wallet provisioning", req.MerchantID), nil)
	}

	merchantWallets, err := f.wallets(ctx, req.MerchantID)
	if err != nil {
		return nil, err
	}
	wallet, err := f.matcher.Match(merchantWallets, req.Network, req.Token)
	if err != nil {
		return nil, err
	}
	address := wallet.PublicAddress
	if req.Network.IsEVM() {
		address = strings.ToLower(address)
	}

	var amountFiat, amountCrypto *decimal.Decimal
	if req.AmountFiat.IsPositive() {
		rate, err := f.rates.Rate(ctx, req.Token)
		if err != nil || !rate.IsPositive() {
			return nil, types.NewError(types.ErrProviderUnavailable,
				fmt.Sprintf("no rate for %s", req.Token), err)
		}
		crypto := req.AmountFiat.DivRound(rate, cryptoPlaces)
		fiat := req.AmountFiat
		amountFiat, amountCrypto = &fiat, &crypto
	} else if !req.Network.IsSolana() {
		return nil, types.NewError(types.ErrUnsupportedNetwork,
			fmt.Sprintf("address-only intents are not supported on %s", req.Network), nil)
	}

	reference, err := NewReference()
	if err != nil {
		return nil, err
	}

	now := f.now()
	intent := types.PaymentIntent{
		MerchantID:   req.MerchantID,
		Token:        req.Token,
		Network:      req.Network,
		Address:      address,
		Description:  req.Description,
		AmountFiat:   amountFiat,
		AmountCrypto: amountCrypto,
		Cluster:      f.cluster,
		Reference:    reference,
		Status:       types.IntentPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	intent.AddressPayload = AddressPayload(req.Network, address)
	if amountCrypto != nil && f.prefillAllowed() {
		mint := f.resolveMint(req.Network, req.Token)
		intent.PrefillPayload = PrefillPayload(req.Network, address, mint, *amountCrypto, reference)
	}

	data, err := docstore.Encode(intent)
	if err != nil {
		return nil, err
	}
	id, err := f.store.Add(ctx, paymentsCollection, data)
	if err != nil {
		return nil, err
	}
	intent.ID = id

	if amountCrypto != nil && req.Network.IsEVM() {
		intent.LegacyPayload = LegacyPayload(id, *amountCrypto, req.Token, req.Network)
		if err := f.store.Update(ctx, paymentsCollection, id, map[string]any{
			"legacyPayload": intent.LegacyPayload,
		}); err != nil {
			return nil, err
		}
	}

	if amountCrypto == nil {
		entry := types.MonitoredAddress{
			MerchantID: req.MerchantID,
			IntentID:   id,
			Address:    address,
			Network:    req.Network,
			Token:      req.Token,
		}
		if req.ExpiresIn > 0 {
			exp := now.Add(req.ExpiresIn)
			entry.ExpiresAt = &exp
		}
		if _, err := f.registry.Register(ctx, entry); err != nil {
			return nil, err
		}
		if err := f.store.Update(ctx, paymentsCollection, id, map[string]any{
			"status": string(types.IntentAwaitingOnchain),
		}); err != nil {
			return nil, err
		}
		intent.Status = types.IntentAwaitingOnchain
	}

	f.log.Info("payment intent created", map[string]any{
		"id":      id,
		"network": req.Network,
		"token":   req.Token,
		"prefill": intent.PrefillPayload != "",
	})
	return &intent, nil
}

// prefillAllowed gates the amount-carrying payload: suppressed on the
// production cluster unless the explicit safety flag is set.
func (f *Factory) prefillAllowed() bool {
	return !f.cluster.IsProduction() || f.allowPrefill
}

// resolveMint maps a token symbol to its on-chain mint for the active
// cluster. Unknown symbols pass through unresolved.
func (f *Factory) resolveMint(network types.Network, token string) string {
	cfg, ok := f.networks[network]
	if !ok {
		return token
	}
	if byCluster, ok := cfg.Mints[f.cluster]; ok {
		if mint, ok := byCluster[token]; ok {
			return mint
		}
	}
	return token
}

// NewReference generates a 32-byte random reference, base58-encoded.
func NewReference() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", types.NewError(types.ErrConfig, "reference generation failed", err)
	}
	return base58.Encode(buf), nil
}

func (f *Factory) merchant(ctx context.Context, merchantID string) (*types.Merchant, error) {
	snap, err := f.store.Get(ctx, merchantsCollection, merchantID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, types.NewError(types.ErrMerchantNotReady,
				fmt.Sprintf("merchant %s not found", merchantID), err)
		}
		return nil, err
	}
	var m types.Merchant
	if err := docstore.Decode(snap, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (f *Factory) wallets(ctx context.Context, merchantID string) ([]types.Wallet, error) {
	snaps, err := f.store.Query(ctx, walletsCollection,
		docstore.Where("merchantId", docstore.OpEqual, merchantID),
	)
	if err != nil {
		return nil, err
	}
	out := make([]types.Wallet, 0, len(snaps))
	for _, snap := range snaps {
		var w types.Wallet
		if err := docstore.Decode(snap, &w); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
