package intent

import (
	"context"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metartpay/chainpay/docstore"
	"github.com/metartpay/chainpay/registry"
	"github.com/metartpay/chainpay/types"
	"github.com/metartpay/chainpay/wallets"
)

const (
	solAddress = "9aE476sH92Vz7DMPyq5WLPkrKWivxeuTKEFKd2sZZcde"
	evmAddress = "0xAbCd000000000000000000000000000000000001"
)

type fixedRates struct{ rate decimal.Decimal }

func (f fixedRates) Rate(context.Context, string) (decimal.Decimal, error) {
	return f.rate, nil
}

func newTestFactory(t *testing.T, cluster types.Cluster, allowPrefill bool) (*Factory, docstore.Store, *registry.Registry) {
	t.Helper()
	store := docstore.NewMemoryStore()
	reg := registry.New(store, nil, nil)
	f := NewFactory(store, reg, wallets.NewMatcher(nil), fixedRates{decimal.NewFromInt(1650)},
		cluster, allowPrefill, types.DefaultNetworkConfigs(), nil, nil)
	return f, store, reg
}

func seedMerchant(t *testing.T, store docstore.Store, ready bool, walletList ...types.Wallet) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "merchants", "m1", map[string]any{
		"businessName":     "Test Shop",
		"walletsGenerated": ready,
	}))
	for _, w := range walletList {
		data, err := docstore.Encode(w)
		require.NoError(t, err)
		data["merchantId"] = "m1"
		_, err = store.Add(ctx, "wallets", data)
		require.NoError(t, err)
	}
}

func solWallet() types.Wallet {
	return types.Wallet{MerchantID: "m1", Chain: "SOL", PublicAddress: solAddress}
}

func evmWallet() types.Wallet {
	return types.Wallet{MerchantID: "m1", Chain: "ETH", PublicAddress: evmAddress}
}

func TestCreateIntent_MerchantNotFound(t *testing.T) {
	f, _, _ := newTestFactory(t, types.ClusterDevnet, false)

	_, err := f.CreateIntent(context.Background(), CreateIntentRequest{
		MerchantID: "ghost",
		Token:      "USDC",
		Network:    types.NetworkSolana,
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrMerchantNotReady, types.CodeOf(err))
}

func TestCreateIntent_MerchantNotReady(t *testing.T) {
	f, store, _ := newTestFactory(t, types.ClusterDevnet, false)
	seedMerchant(t, store, false, solWallet())

	_, err := f.CreateIntent(context.Background(), CreateIntentRequest{
		MerchantID: "m1",
		Token:      "USDC",
		Network:    types.NetworkSolana,
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrMerchantNotReady, types.CodeOf(err))
}

func TestCreateIntent_InvalidRequest(t *testing.T) {
	f, _, _ := newTestFactory(t, types.ClusterDevnet, false)

	_, err := f.CreateIntent(context.Background(), CreateIntentRequest{
		Token:   "USDC",
		Network: types.NetworkSolana,
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.CodeOf(err))
}

func TestCreateIntent_AmountConversion(t *testing.T) {
	f, store, _ := newTestFactory(t, types.ClusterDevnet, false)
	seedMerchant(t, store, true, solWallet())

	intent, err := f.CreateIntent(context.Background(), CreateIntentRequest{
		MerchantID: "m1",
		AmountFiat: decimal.NewFromInt(10000),
		Token:      "USDC",
		Network:    types.NetworkSolana,
	})
	require.NoError(t, err)

	// 10000 NGN at 1650 NGN per USDC, rounded to 6 places.
	require.NotNil(t, intent.AmountCrypto)
	assert.Equal(t, "6.060606", intent.AmountCrypto.String())
	assert.Equal(t, types.IntentPending, intent.Status)
}

func TestCreateIntent_AddressPayloadFormats(t *testing.T) {
	f, store, _ := newTestFactory(t, types.ClusterDevnet, false)
	seedMerchant(t, store, true, solWallet(), evmWallet())

	solIntent, err := f.CreateIntent(context.Background(), CreateIntentRequest{
		MerchantID: "m1",
		AmountFiat: decimal.NewFromInt(1650),
		Token:      "USDC",
		Network:    types.NetworkSolana,
	})
	require.NoError(t, err)
	assert.Equal(t, "solana:"+solAddress, solIntent.AddressPayload)

	evmIntent, err := f.CreateIntent(context.Background(), CreateIntentRequest{
		MerchantID: "m1",
		AmountFiat: decimal.NewFromInt(1650),
		Token:      "USDT",
		Network:    types.NetworkETH,
	})
	require.NoError(t, err)
	assert.Equal(t, "ethereum:0xabcd000000000000000000000000000000000001", evmIntent.AddressPayload)
}

func TestCreateIntent_PrefillPayloadDevnet(t *testing.T) {
	f, store, _ := newTestFactory(t, types.ClusterDevnet, false)
	seedMerchant(t, store, true, solWallet())

	intent, err := f.CreateIntent(context.Background(), CreateIntentRequest{
		MerchantID: "m1",
		AmountFiat: decimal.NewFromInt(1650),
		Token:      "USDC",
		Network:    types.NetworkSolana,
	})
	require.NoError(t, err)

	devnetMint := "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
	want := "solana:" + solAddress + "?spl-token=" + devnetMint +
		"&amount=1&reference=" + intent.Reference
	assert.Equal(t, want, intent.PrefillPayload)
}

func TestCreateIntent_PrefillSuppressedOnMainnet(t *testing.T) {
	f, store, _ := newTestFactory(t, types.ClusterMainnet, false)
	seedMerchant(t, store, true, solWallet())

	intent, err := f.CreateIntent(context.Background(), CreateIntentRequest{
		MerchantID: "m1",
		AmountFiat: decimal.NewFromInt(1650),
		Token:      "USDC",
		Network:    types.NetworkSolana,
	})
	require.NoError(t, err)
	assert.Empty(t, intent.PrefillPayload)
	assert.NotEmpty(t, intent.AddressPayload)
}

func TestCreateIntent_PrefillAllowedOnMainnetWithFlag(t *testing.T) {
	f, store, _ := newTestFactory(t, types.ClusterMainnet, true)
	seedMerchant(t, store, true, solWallet())

	intent, err := f.CreateIntent(context.Background(), CreateIntentRequest{
		MerchantID: "m1",
		AmountFiat: decimal.NewFromInt(1650),
		Token:      "USDC",
		Network:    types.NetworkSolana,
	})
	require.NoError(t, err)

	mainnetMint := "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	assert.Contains(t, intent.PrefillPayload, "spl-token="+mainnetMint)
}

func TestCreateIntent_UnknownTokenPassesThrough(t *testing.T) {
	f, store, _ := newTestFactory(t, types.ClusterDevnet, false)
	seedMerchant(t, store, true, solWallet())

	intent, err := f.CreateIntent(context.Background(), CreateIntentRequest{
		MerchantID: "m1",
		AmountFiat: decimal.NewFromInt(1650),
		Token:      "BONK",
		Network:    types.NetworkSolana,
	})
	require.NoError(t, err)
	assert.Contains(t, intent.PrefillPayload, "spl-token=BONK")
}

func TestCreateIntent_LegacyPayloadOnEVM(t *testing.T) {
	f, store, _ := newTestFactory(t, types.ClusterDevnet, false)
	seedMerchant(t, store, true, evmWallet())

	intent, err := f.CreateIntent(context.Background(), CreateIntentRequest{
		MerchantID: "m1",
		AmountFiat: decimal.NewFromInt(1650),
		Token:      "USDT",
		Network:    types.NetworkETH,
	})
	require.NoError(t, err)
	assert.Equal(t, "pay:"+intent.ID+"?amount=1&token=USDT&network=ETH", intent.LegacyPayload)
}

func TestCreateIntent_AddressOnlyRegistersMonitor(t *testing.T) {
	f, store, reg := newTestFactory(t, types.ClusterDevnet, false)
	seedMerchant(t, store, true, solWallet())

	intent, err := f.CreateIntent(context.Background(), CreateIntentRequest{
		MerchantID: "m1",
		Token:      "USDC",
		Network:    types.NetworkSolana,
	})
	require.NoError(t, err)
	assert.Equal(t, types.IntentAwaitingOnchain, intent.Status)
	assert.Nil(t, intent.AmountCrypto)

	entries, err := reg.ListActive(context.Background(), types.NetworkSolana)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, intent.ID, entries[0].IntentID)
	assert.Equal(t, solAddress, entries[0].Address)
	assert.Nil(t, entries[0].ExpectedAmount)
}

func TestCreateIntent_AddressOnlyRejectedOnEVM(t *testing.T) {
	f, store, _ := newTestFactory(t, types.ClusterDevnet, false)
	seedMerchant(t, store, true, evmWallet())

	_, err := f.CreateIntent(context.Background(), CreateIntentRequest{
		MerchantID: "m1",
		Token:      "USDT",
		Network:    types.NetworkETH,
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrUnsupportedNetwork, types.CodeOf(err))
}

func TestNewReference(t *testing.T) {
	ref1, err := NewReference()
	require.NoError(t, err)
	ref2, err := NewReference()
	require.NoError(t, err)

	assert.NotEqual(t, ref1, ref2)

	raw, err := base58.Decode(ref1)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}
