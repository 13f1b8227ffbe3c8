package clients

import (
	"context"
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/metartpay/chainpay/types"
)

const (
	lamportDecimals = 9
	signaturePage   = 100
)

// SolanaAdapter reads transfers from signature history. Slots play the role
// of block heights; only finalized state is observed, so a transaction that
// appears at all already carries chain finality.
type SolanaAdapter struct {
	cfg     types.NetworkConfig
	cluster types.Cluster
	client  *rpc.Client
}

var _ ChainAdapter = (*SolanaAdapter)(nil)

func NewSolanaAdapter(cfg types.NetworkConfig, cluster types.Cluster) (*SolanaAdapter, error) {
	if !cfg.Network.IsSolana() {
		return nil, types.NewError(types.ErrUnsupportedNetwork,
			fmt.Sprintf("%s is not a Solana network", cfg.Network), nil)
	}
	return &SolanaAdapter{
		cfg:     cfg,
		cluster: cluster,
		client:  rpc.New(cfg.RPCURL),
	}, nil
}

func (a *SolanaAdapter) Network() types.Network { return a.cfg.Network }

func (a *SolanaAdapter) LatestBlock(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout())
	defer cancel()

	slot, err := a.client.GetSlot(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return 0, types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("%s: slot query failed", a.cfg.Network), err)
	}
	return slot, nil
}

func (a *SolanaAdapter) TransfersTo(ctx context.Context, token, address string, fromBlock, toBlock uint64) ([]types.RawTransfer, error) {
	addr, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, types.NewError(types.ErrConfig,
			fmt.Sprintf("invalid solana address %q", address), err)
	}

	var mint solana.PublicKey
	var mintDecimals int32
	if token != types.TokenNative {
		mint, mintDecimals, err = a.resolveMint(token)
		if err != nil {
			return nil, err
		}
	}

	var transfers []types.RawTransfer
	var before solana.Signature
	paging := true

	for paging {
		limit := signaturePage
		opts := &rpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Commitment: rpc.CommitmentFinalized,
		}
		if !before.IsZero() {
			opts.Before = before
		}

		sigs, err := a.signatures(ctx, addr, opts)
		if err != nil {
			return nil, err
		}
		if len(sigs) == 0 {
			break
		}

		// Signatures arrive newest-first; once a page dips below the range
		// there is nothing older worth fetching.
		for _, info := range sigs {
			slot := uint64(info.Slot)
			if slot < fromBlock {
				paging = false
				continue
			}
			if slot > toBlock || info.Err != nil {
				continue
			}
			tr, ok, err := a.transferIn(ctx, info.Signature, slot, addr, token, mint, mintDecimals)
			if err != nil {
				return nil, err
			}
			if ok {
				transfers = append(transfers, tr)
			}
		}
		before = sigs[len(sigs)-1].Signature
		if len(sigs) < signaturePage {
			break
		}
	}

	sort.Slice(transfers, func(i, j int) bool {
		return transfers[i].BlockNumber < transfers[j].BlockNumber
	})
	return transfers, nil
}

// transferIn inspects one finalized transaction and extracts the balance
// delta credited to addr, if any.
func (a *SolanaAdapter) transferIn(ctx context.Context, sig solana.Signature, slot uint64, addr solana.PublicKey, token string, mint solana.PublicKey, mintDecimals int32) (types.RawTransfer, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout())
	defer cancel()

	maxVersion := uint64(0)
	res, err := a.client.GetTransaction(callCtx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return types.RawTransfer{}, false, types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("%s: transaction %s fetch failed", a.cfg.Network, sig), err)
	}
	if res == nil || res.Meta == nil || res.Transaction == nil {
		return types.RawTransfer{}, false, nil
	}

	tx, err := res.Transaction.GetTransaction()
	if err != nil || len(tx.Message.AccountKeys) == 0 {
		return types.RawTransfer{}, false, nil
	}
	payer := tx.Message.AccountKeys[0].String()

	var amount decimal.Decimal
	if token == types.TokenNative {
		amount = nativeDelta(tx.Message.AccountKeys, res.Meta, addr)
	} else {
		amount = tokenDelta(res.Meta, addr, mint, mintDecimals)
	}
	if !amount.IsPositive() {
		return types.RawTransfer{}, false, nil
	}

	return types.RawTransfer{
		TxHash:      sig.String(),
		From:        payer,
		To:          addr.String(),
		Amount:      amount,
		BlockNumber: slot,
	}, true, nil
}

// nativeDelta computes the lamport balance change of addr across the
// transaction.
func nativeDelta(keys []solana.PublicKey, meta *rpc.TransactionMeta, addr solana.PublicKey) decimal.Decimal {
	for i, key := range keys {
		if !key.Equals(addr) {
			continue
		}
		if i >= len(meta.PreBalances) || i >= len(meta.PostBalances) {
			return decimal.Zero
		}
		pre := decimal.NewFromUint64(meta.PreBalances[i])
		post := decimal.NewFromUint64(meta.PostBalances[i])
		return post.Sub(pre).Shift(-lamportDecimals)
	}
	return decimal.Zero
}

// tokenDelta computes the SPL token balance change of addr for the given
// mint, from the pre/post token balances in the transaction meta.
func tokenDelta(meta *rpc.TransactionMeta, addr, mint solana.PublicKey, decimals int32) decimal.Decimal {
	for _, post := range meta.PostTokenBalances {
		if !post.Mint.Equals(mint) || post.Owner == nil || !post.Owner.Equals(addr) {
			continue
		}
		postAmt := rawTokenAmount(post.UiTokenAmount, decimals)

		pre := decimal.Zero
		for _, p := range meta.PreTokenBalances {
			if p.AccountIndex == post.AccountIndex && p.Mint.Equals(mint) {
				pre = rawTokenAmount(p.UiTokenAmount, decimals)
				break
			}
		}
		if d := postAmt.Sub(pre); d.IsPositive() {
			return d
		}
	}
	return decimal.Zero
}

func rawTokenAmount(ui *rpc.UiTokenAmount, decimals int32) decimal.Decimal {
	if ui == nil {
		return decimal.Zero
	}
	raw, err := decimal.NewFromString(ui.Amount)
	if err != nil {
		return decimal.Zero
	}
	if ui.Decimals > 0 {
		return raw.Shift(-int32(ui.Decimals))
	}
	return raw.Shift(-decimals)
}

func (a *SolanaAdapter) resolveMint(token string) (solana.PublicKey, int32, error) {
	if byCluster, ok := a.cfg.Mints[a.cluster]; ok {
		if addr, ok := byCluster[token]; ok {
			mint, err := solana.PublicKeyFromBase58(addr)
			if err != nil {
				return solana.PublicKey{}, 0, types.NewError(types.ErrConfig,
					fmt.Sprintf("bad mint for %s on cluster %s", token, a.cluster), err)
			}
			return mint, a.cfg.TokenDecimals[token], nil
		}
	}
	// Unknown symbols may be literal mint addresses passed through by the
	// intent layer.
	mint, err := solana.PublicKeyFromBase58(token)
	if err != nil {
		return solana.PublicKey{}, 0, types.NewError(types.ErrConfig,
			fmt.Sprintf("token %s not known on cluster %s", token, a.cluster), err)
	}
	return mint, a.cfg.TokenDecimals[token], nil
}

func (a *SolanaAdapter) signatures(ctx context.Context, addr solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout())
	defer cancel()

	sigs, err := a.client.GetSignaturesForAddressWithOpts(ctx, addr, opts)
	if err != nil {
		return nil, types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("%s: signature history query failed", a.cfg.Network), err)
	}
	return sigs, nil
}

func (a *SolanaAdapter) Receipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	sig, err := solana.SignatureFromBase58(txHash)
	if err != nil {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("invalid solana signature %q", txHash), err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout())
	defer cancel()

	statuses, err := a.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("%s: signature status query failed", a.cfg.Network), err)
	}
	if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("transaction %s not found", txHash), nil)
	}
	status := statuses.Value[0]

	slot, err := a.client.GetSlot(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("%s: slot query failed", a.cfg.Network), err)
	}

	inclusion := uint64(status.Slot)
	var confirmations uint64
	if slot+1 > inclusion {
		confirmations = slot - inclusion + 1
	}

	return &types.Receipt{
		TxHash:        txHash,
		BlockNumber:   inclusion,
		Confirmations: confirmations,
		Success:       status.Err == nil,
	}, nil
}

func (a *SolanaAdapter) IsValidAddress(address string) bool {
	_, err := solana.PublicKeyFromBase58(address)
	return err == nil
}

func (a *SolanaAdapter) Close() {}
