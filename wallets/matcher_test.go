package wallets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metartpay/chainpay/types"
)

func wallet(chain, address string) types.Wallet {
	return types.Wallet{MerchantID: "m1", Chain: chain, PublicAddress: address}
}

func TestMatch_Exact(t *testing.T) {
	m := NewMatcher(nil)

	w, err := m.Match([]types.Wallet{
		wallet("ETH", "0xaaa"),
		wallet("SOL", "sol1"),
	}, types.NetworkSolana, "USDC")
	require.NoError(t, err)
	assert.Equal(t, "sol1", w.PublicAddress)
}

func TestMatch_NormalizationIgnoresPunctuationAndCase(t *testing.T) {
	m := NewMatcher(nil)

	w, err := m.Match([]types.Wallet{
		wallet("e-t-h", "0xaaa"),
	}, types.NetworkETH, "USDT")
	require.NoError(t, err)
	assert.Equal(t, "0xaaa", w.PublicAddress)
}

func TestMatch_TronUSDTLabel(t *testing.T) {
	m := NewMatcher(nil)

	// A merchant whose only TRON wallet is labeled "trx_usdt" must still
	// serve a USDT-on-TRON request.
	w, err := m.Match([]types.Wallet{
		wallet("ETH", "0xaaa"),
		wallet("trx_usdt", "Taddr1"),
	}, types.Network("TRON"), "USDT")
	require.NoError(t, err)
	assert.Equal(t, "Taddr1", w.PublicAddress)
}

func TestMatch_TronSynonymsCanonicalize(t *testing.T) {
	m := NewMatcher(nil)

	for _, label := range []string{"TRON", "TRC20", "trc-20", "usdt_tron", "trx"} {
		w, err := m.Match([]types.Wallet{wallet(label, "Taddr1")},
			types.Network("TRX"), "USDT")
		require.NoError(t, err, "label %q", label)
		assert.Equal(t, "Taddr1", w.PublicAddress)
	}
}

func TestMatch_NoWalletForNetwork(t *testing.T) {
	m := NewMatcher(nil)

	_, err := m.Match([]types.Wallet{
		wallet("BTC", "bc1xyz"),
	}, types.NetworkSolana, "USDC")
	require.Error(t, err)
	assert.Equal(t, types.ErrNoWalletForNetwork, types.CodeOf(err))

	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, map[string]any{"availableChains": []string{"BTC"}}, typed.Data)
}

func TestMatch_EmptyWalletList(t *testing.T) {
	m := NewMatcher(nil)

	_, err := m.Match(nil, types.NetworkETH, "USDT")
	require.Error(t, err)
	assert.Equal(t, types.ErrNoWalletForNetwork, types.CodeOf(err))
}
