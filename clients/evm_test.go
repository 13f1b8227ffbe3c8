package clients

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metartpay/chainpay/types"
)

func transferLog(from, to common.Address, value *big.Int, block uint64, index uint) ethtypes.Log {
	return ethtypes.Log{
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        common.LeftPadBytes(value.Bytes(), 32),
		TxHash:      common.HexToHash("0x1111"),
		BlockNumber: block,
		Index:       index,
	}
}

func TestParseTransferLog(t *testing.T) {
	from := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	to := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	// 25.5 USDT at 6 decimals.
	l := transferLog(from, to, big.NewInt(25_500_000), 1234, 7)

	tr, err := parseTransferLog(l, 6)
	require.NoError(t, err)
	assert.Equal(t, "0x70997970c51812dc3a010c7d01b50e0d17dc79c8", tr.From)
	assert.Equal(t, "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266", tr.To)
	assert.True(t, tr.Amount.Equal(decimal.RequireFromString("25.5")))
	assert.Equal(t, uint64(1234), tr.BlockNumber)
	assert.Equal(t, uint(7), tr.LogIndex)
}

func TestParseTransferLog_RejectsOtherEvents(t *testing.T) {
	l := ethtypes.Log{
		Topics: []common.Hash{common.HexToHash("0xdead")},
	}
	_, err := parseTransferLog(l, 6)
	assert.Error(t, err)
}

func TestNewEVMAdapter_RejectsNonEVMNetwork(t *testing.T) {
	_, err := NewEVMAdapter(types.NetworkConfig{Network: types.NetworkSolana})
	require.Error(t, err)
	assert.Equal(t, types.ErrUnsupportedNetwork, types.CodeOf(err))
}

func TestEVMAdapter_IsValidAddress(t *testing.T) {
	a := &EVMAdapter{cfg: types.NetworkConfig{Network: types.NetworkETH}}

	assert.True(t, a.IsValidAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"))
	assert.False(t, a.IsValidAddress("0x123"))
	assert.False(t, a.IsValidAddress("9aE476sH92Vz7DMPyq5WLPkrKWivxeuTKEFKd2sZZcde"))
}
