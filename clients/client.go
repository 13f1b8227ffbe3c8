// Package clients wraps the per-network RPC/indexer access behind the
// ChainAdapter contract. The reconciliation engine treats every network
// uniformly; only the adapter varies.
package clients

import (
	"context"

	"github.com/metartpay/chainpay/types"
)

// ChainAdapter answers block-height, transfer-event and receipt queries for
// one network. All methods that hit the network honour the per-call timeout
// from the adapter's NetworkConfig.
type ChainAdapter interface {
	// Network returns the network this adapter serves.
	Network() types.Network

	// LatestBlock returns the current chain height. Fails with a
	// PROVIDER_UNAVAILABLE error on RPC failure; callers retry next tick.
	LatestBlock(ctx context.Context) (uint64, error)

	// TransfersTo returns the transfers of the given token into address
	// within [fromBlock, toBlock]. A token of "native" routes to the
	// chain's native-coin path. Absence of transfers is an empty slice,
	// not an error.
	TransfersTo(ctx context.Context, token, address string, fromBlock, toBlock uint64) ([]types.RawTransfer, error)

	// Receipt returns the mined state of a transaction, with
	// confirmations = max(0, height - inclusion + 1). Fails with a
	// NOT_FOUND error while the transaction is unmined.
	Receipt(ctx context.Context, txHash string) (*types.Receipt, error)

	// IsValidAddress is a format-only check, no RPC round-trip.
	IsValidAddress(address string) bool

	Close()
}
