// Package types defines the shared domain model for the chainpay payment
// reconciliation engine: networks, monitored addresses, ledger transactions,
// payment intents and the static per-network configuration.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Network identifies a supported blockchain network.
type Network string

const (
	// EVM networks
	NetworkETH   Network = "ETH"
	NetworkBSC   Network = "BSC"
	NetworkMatic Network = "MATIC"

	// Solana
	NetworkSolana Network = "SOL"
)

// IsEVM reports whether the network uses Ethereum-style addresses, blocks
// and ERC-20 transfer logs.
func (n Network) IsEVM() bool {
	return n == NetworkETH || n == NetworkBSC || n == NetworkMatic
}

// IsSolana reports whether the network is a Solana-style chain.
func (n Network) IsSolana() bool {
	return n == NetworkSolana
}

func (n Network) String() string {
	return string(n)
}

// Cluster is the environment tag selecting which token-mint registry and
// safety gates apply. The production cluster is "mainnet".
type Cluster string

const (
	ClusterMainnet Cluster = "mainnet"
	ClusterDevnet  Cluster = "devnet"
)

// IsProduction reports whether prefilled payment payloads are gated.
func (c Cluster) IsProduction() bool {
	return c == ClusterMainnet
}

// TokenNative is the token symbol routing to the chain's native-coin
// transfer path instead of a token contract or mint.
const TokenNative = "native"

// MonitorStatus is the lifecycle state of a MonitoredAddress.
type MonitorStatus string

const (
	MonitorActive    MonitorStatus = "active"
	MonitorCompleted MonitorStatus = "completed"
	MonitorExpired   MonitorStatus = "expired"
)

// TxStatus is the confirmation state of a ledger Transaction.
type TxStatus string

const (
	TxPending      TxStatus = "pending"
	TxConfirming   TxStatus = "confirming"
	TxConfirmed    TxStatus = "confirmed"
	TxFailed       TxStatus = "failed"
	TxInsufficient TxStatus = "insufficient"
)

// IntentStatus is the lifecycle state of a PaymentIntent.
type IntentStatus string

const (
	IntentPending         IntentStatus = "pending"
	IntentAwaitingOnchain IntentStatus = "awaiting_onchain"
	IntentCompleted       IntentStatus = "completed"
)

// MonitoredAddress is a merchant receiving address the reconciliation loop
// scans for incoming transfers. Entries are never deleted, only
// status-transitioned, so the collection doubles as an audit trail.
type MonitoredAddress struct {
	ID            string  `json:"id,omitempty"`
	MerchantID    string  `json:"merchantId"`
	PaymentLinkID string  `json:"paymentLinkId,omitempty"`
	IntentID      string  `json:"intentId,omitempty"`
	Address       string  `json:"address"`
	Network       Network `json:"network"`
	Token         string  `json:"token"`

	// ExpectedAmount is nil for address-only entries that reconcile any
	// amount.
	ExpectedAmount *decimal.Decimal `json:"expectedAmount,omitempty"`
	ExpiresAt      *time.Time       `json:"expiresAt,omitempty"`

	Status MonitorStatus `json:"status"`

	// LastCheckedBlock is the watermark: the highest block fully processed
	// for this entry. Zero means the entry has never been scanned and the
	// engine starts it at the current chain height.
	LastCheckedBlock uint64 `json:"lastCheckedBlock"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Expired reports whether the entry's deadline has passed at the given time.
func (m *MonitoredAddress) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// Transaction is a ledger entry for an observed on-chain transfer. The
// natural deduplication key is (TxHash, ToAddress).
type Transaction struct {
	ID            string `json:"id,omitempty"`
	MerchantID    string `json:"merchantId"`
	PaymentLinkID string `json:"paymentLinkId,omitempty"`
	IntentID      string `json:"intentId,omitempty"`

	TxHash      string          `json:"txHash"`
	FromAddress string          `json:"fromAddress"`
	ToAddress   string          `json:"toAddress"`
	Amount      decimal.Decimal `json:"amount"`

	ExpectedAmount *decimal.Decimal `json:"expectedAmount,omitempty"`

	Token   string  `json:"token"`
	Network Network `json:"network"`

	BlockNumber           uint64 `json:"blockNumber"`
	Confirmations         uint64 `json:"confirmations"`
	RequiredConfirmations uint64 `json:"requiredConfirmations"`

	Status TxStatus `json:"status"`

	ObservedAt  time.Time  `json:"observedAt"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`

	GasUsed      uint64          `json:"gasUsed,omitempty"`
	GasPrice     string          `json:"gasPrice,omitempty"`
	Fee          decimal.Decimal `json:"fee"`
	TokenAddress string          `json:"tokenAddress,omitempty"`
}

// PaymentIntent is the payment aggregate feeding the QR/UI layer. It owns
// zero or one MonitoredAddress and completes transitively when that entry
// completes.
type PaymentIntent struct {
	ID          string  `json:"id,omitempty"`
	MerchantID  string  `json:"merchantId"`
	Token       string  `json:"token"`
	Network     Network `json:"network"`
	Address     string  `json:"address"`
	Description string  `json:"description,omitempty"`

	// AmountFiat and AmountCrypto are nil for address-only flows.
	AmountFiat   *decimal.Decimal `json:"amountFiat,omitempty"`
	AmountCrypto *decimal.Decimal `json:"amountCrypto,omitempty"`

	Cluster Cluster `json:"cluster"`

	// Reference is 32 random bytes, base58-encoded, for wallets that carry
	// a memo/reference field on the transfer.
	Reference string `json:"reference"`

	Status IntentStatus `json:"status"`

	AddressPayload string `json:"addressPayload"`
	PrefillPayload string `json:"prefillPayload,omitempty"`
	LegacyPayload  string `json:"legacyPayload,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PaymentLink is the running-total aggregate updated on completion.
type PaymentLink struct {
	ID                  string          `json:"id,omitempty"`
	MerchantID          string          `json:"merchantId"`
	TotalPayments       int64           `json:"totalPayments"`
	TotalAmountReceived decimal.Decimal `json:"totalAmountReceived"`
}

// Wallet is one of a merchant's provisioned receiving wallets. Chain labels
// drift across onboarding flows ("TRON" vs "TRC20" vs "trx_usdt"), which is
// why matching is heuristic.
type Wallet struct {
	ID            string `json:"id,omitempty"`
	MerchantID    string `json:"merchantId"`
	Chain         string `json:"chain"`
	PublicAddress string `json:"publicAddress"`
}

// Merchant carries the fields the intent factory needs; the full merchant
// document is owned by the onboarding flows.
type Merchant struct {
	ID               string `json:"id,omitempty"`
	BusinessName     string `json:"businessName"`
	WalletsGenerated bool   `json:"walletsGenerated"`
}

// RawTransfer is a transfer event as observed from a chain indexer, before
// any reconciliation.
type RawTransfer struct {
	TxHash      string          `json:"txHash"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Amount      decimal.Decimal `json:"amount"`
	BlockNumber uint64          `json:"blockNumber"`

	// LogIndex orders transfers within a block (event index on EVM chains).
	LogIndex uint `json:"logIndex"`

	TokenAddress string `json:"tokenAddress,omitempty"`
}

// Receipt is the mined state of a transaction as reported by the chain.
type Receipt struct {
	TxHash        string `json:"txHash"`
	BlockNumber   uint64 `json:"blockNumber"`
	Confirmations uint64 `json:"confirmations"`
	Success       bool   `json:"success"`
	GasUsed       uint64 `json:"gasUsed"`
	GasPrice      string `json:"gasPrice"`
}

// PaymentEvent is the notification emitted to a merchant on completion.
type PaymentEvent struct {
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// TokenInfo describes a token contract on an EVM network.
type TokenInfo struct {
	Address  string `json:"address"`
	Decimals int32  `json:"decimals"`
}

// NetworkConfig is the static per-chain configuration passed into each
// chain adapter constructor.
type NetworkConfig struct {
	Network Network `json:"network"`
	RPCURL  string  `json:"rpcUrl"`
	ChainID int64   `json:"chainId,omitempty"`

	// BlockTime is advisory, used for scheduling backoff.
	BlockTime             time.Duration `json:"blockTime"`
	RequiredConfirmations uint64        `json:"requiredConfirmations"`

	// Timeout bounds every RPC round-trip made by the adapter.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Tokens maps token symbols to ERC-20 contracts (EVM networks).
	Tokens map[string]TokenInfo `json:"tokens,omitempty"`

	// Mints maps cluster -> symbol -> SPL mint address (Solana networks).
	// The same symbol resolves to different mints per cluster.
	Mints map[Cluster]map[string]string `json:"mints,omitempty"`

	// Decimals for SPL tokens, by symbol. Native SOL uses 9.
	TokenDecimals map[string]int32 `json:"tokenDecimals,omitempty"`
}

// DefaultTimeout applies when a NetworkConfig carries no explicit per-call
// timeout.
const DefaultTimeout = 5 * time.Second

// CallTimeout returns the per-call RPC timeout for this network.
func (c NetworkConfig) CallTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// DefaultNetworkConfigs returns the built-in configuration for the supported
// networks. RPC URLs are expected to be filled in from configuration.
func DefaultNetworkConfigs() map[Network]NetworkConfig {
	return map[Network]NetworkConfig{
		NetworkETH: {
			Network:               NetworkETH,
			ChainID:               1,
			BlockTime:             12 * time.Second,
			RequiredConfirmations: 3,
			Tokens: map[string]TokenInfo{
				"USDT": {Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
				"USDC": {Address: "0xA0b86a33E6417A4c55F985c248c8DC2083D72209", Decimals: 6},
			},
		},
		NetworkBSC: {
			Network:               NetworkBSC,
			ChainID:               56,
			BlockTime:             3 * time.Second,
			RequiredConfirmations: 6,
			Tokens: map[string]TokenInfo{
				"USDT": {Address: "0x55d398326f99059fF775485246999027B3197955", Decimals: 18},
				"USDC": {Address: "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d", Decimals: 18},
			},
		},
		NetworkMatic: {
			Network:               NetworkMatic,
			ChainID:               137,
			BlockTime:             2 * time.Second,
			RequiredConfirmations: 10,
			Tokens: map[string]TokenInfo{
				"USDT": {Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Decimals: 6},
				"USDC": {Address: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", Decimals: 6},
			},
		},
		NetworkSolana: {
			Network:               NetworkSolana,
			BlockTime:             time.Second,
			RequiredConfirmations: 1,
			Mints: map[Cluster]map[string]string{
				ClusterMainnet: {
					"USDC": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
					"USDT": "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
				},
				ClusterDevnet: {
					"USDC": "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
				},
			},
			TokenDecimals: map[string]int32{
				"USDC": 6,
				"USDT": 6,
			},
		},
	}
}
