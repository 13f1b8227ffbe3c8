package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/metartpay/chainpay/types"
)

// transferTopic is keccak256("Transfer(address,address,uint256)"), the
// topic0 of every ERC-20 Transfer event.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

const nativeDecimals = 18

// EVMAdapter serves Ethereum-family networks (ETH, BSC, MATIC) through a
// JSON-RPC provider. Token transfers are read from ERC-20 Transfer logs
// filtered by the indexed recipient; native-coin transfers fall back to a
// plain block scan.
type EVMAdapter struct {
	cfg    types.NetworkConfig
	client *ethclient.Client
}

var _ ChainAdapter = (*EVMAdapter)(nil)

func NewEVMAdapter(cfg types.NetworkConfig) (*EVMAdapter, error) {
	if !cfg.Network.IsEVM() {
		return nil, types.NewError(types.ErrUnsupportedNetwork,
			fmt.Sprintf("%s is not an EVM network", cfg.Network), nil)
	}
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", cfg.Network, err)
	}
	return &EVMAdapter{cfg: cfg, client: client}, nil
}

func (a *EVMAdapter) Network() types.Network { return a.cfg.Network }

func (a *EVMAdapter) LatestBlock(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout())
	defer cancel()

	height, err := a.client.BlockNumber(ctx)
	if err != nil {
		return 0, types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("%s: block number query failed", a.cfg.Network), err)
	}
	return height, nil
}

func (a *EVMAdapter) TransfersTo(ctx context.Context, token, address string, fromBlock, toBlock uint64) ([]types.RawTransfer, error) {
	if token == types.TokenNative {
		return a.nativeTransfersTo(ctx, address, fromBlock, toBlock)
	}

	info, ok := a.cfg.Tokens[token]
	if !ok {
		return nil, types.NewError(types.ErrConfig,
			fmt.Sprintf("token %s not configured on %s", token, a.cfg.Network), nil)
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{common.HexToAddress(info.Address)},
		Topics: [][]common.Hash{
			{transferTopic},
			nil, // any sender
			{common.BytesToHash(common.HexToAddress(address).Bytes())},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout())
	defer cancel()

	logs, err := a.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("%s: transfer log query failed", a.cfg.Network), err)
	}

	transfers := make([]types.RawTransfer, 0, len(logs))
	for _, l := range logs {
		tr, err := parseTransferLog(l, info.Decimals)
		if err != nil {
			// Malformed log from the provider; skip rather than fail the range.
			continue
		}
		tr.TokenAddress = info.Address
		transfers = append(transfers, tr)
	}
	return transfers, nil
}

// parseTransferLog decodes one ERC-20 Transfer event log into a RawTransfer.
func parseTransferLog(l ethtypes.Log, decimals int32) (types.RawTransfer, error) {
	if len(l.Topics) != 3 || l.Topics[0] != transferTopic {
		return types.RawTransfer{}, fmt.Errorf("not a Transfer log")
	}
	value := new(big.Int).SetBytes(l.Data)
	return types.RawTransfer{
		TxHash:      l.TxHash.Hex(),
		From:        strings.ToLower(common.BytesToAddress(l.Topics[1].Bytes()).Hex()),
		To:          strings.ToLower(common.BytesToAddress(l.Topics[2].Bytes()).Hex()),
		Amount:      decimal.NewFromBigInt(value, -decimals),
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
	}, nil
}

// nativeTransfersTo scans block bodies for plain value transfers to the
// address. Used for the native coin only; token transfers go through logs.
func (a *EVMAdapter) nativeTransfersTo(ctx context.Context, address string, fromBlock, toBlock uint64) ([]types.RawTransfer, error) {
	target := common.HexToAddress(address)
	var transfers []types.RawTransfer

	for n := fromBlock; n <= toBlock; n++ {
		block, err := a.blockByNumber(ctx, n)
		if err != nil {
			return nil, err
		}
		for i, tx := range block.Transactions() {
			if tx.To() == nil || *tx.To() != target || tx.Value().Sign() == 0 {
				continue
			}
			from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(tx.ChainId()), tx)
			if err != nil {
				continue
			}
			transfers = append(transfers, types.RawTransfer{
				TxHash:      tx.Hash().Hex(),
				From:        strings.ToLower(from.Hex()),
				To:          strings.ToLower(target.Hex()),
				Amount:      decimal.NewFromBigInt(tx.Value(), -nativeDecimals),
				BlockNumber: n,
				LogIndex:    uint(i),
			})
		}
	}
	return transfers, nil
}

func (a *EVMAdapter) blockByNumber(ctx context.Context, n uint64) (*ethtypes.Block, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout())
	defer cancel()

	block, err := a.client.BlockByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return nil, types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("%s: block %d fetch failed", a.cfg.Network, n), err)
	}
	return block, nil
}

func (a *EVMAdapter) Receipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout())
	defer cancel()

	receipt, err := a.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("transaction %s not mined", txHash), err)
	}
	if err != nil {
		return nil, types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("%s: receipt query failed", a.cfg.Network), err)
	}

	height, err := a.client.BlockNumber(ctx)
	if err != nil {
		return nil, types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("%s: block number query failed", a.cfg.Network), err)
	}

	inclusion := receipt.BlockNumber.Uint64()
	var confirmations uint64
	if height+1 > inclusion {
		confirmations = height - inclusion + 1
	}

	gasPrice := ""
	if receipt.EffectiveGasPrice != nil {
		gasPrice = receipt.EffectiveGasPrice.String()
	}

	return &types.Receipt{
		TxHash:        txHash,
		BlockNumber:   inclusion,
		Confirmations: confirmations,
		Success:       receipt.Status == ethtypes.ReceiptStatusSuccessful,
		GasUsed:       receipt.GasUsed,
		GasPrice:      gasPrice,
	}, nil
}

func (a *EVMAdapter) IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

func (a *EVMAdapter) Close() {
	a.client.Close()
}
