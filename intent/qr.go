package intent

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/metartpay/chainpay/types"
)

// AddressPayload is the universal QR content: the bare receiving address
// wrapped in the chain's URI scheme, with no amount, so any wallet can scan
// it.
func AddressPayload(network types.Network, address string) string {
	if network.IsSolana() {
		return "solana:" + address
	}
	return "ethereum:" + address
}

// PrefillPayload is the amount-carrying QR content for wallets that honor
// transfer requests. For SPL tokens the mint travels in the spl-token
// parameter and the reference key lets the wallet tag the transfer.
func PrefillPayload(network types.Network, address, mint string, amount decimal.Decimal, reference string) string {
	if network.IsSolana() {
		if mint == "" {
			return fmt.Sprintf("solana:%s?amount=%s&reference=%s",
				address, amount.String(), reference)
		}
		return fmt.Sprintf("solana:%s?spl-token=%s&amount=%s&reference=%s",
			address, mint, amount.String(), reference)
	}
	return fmt.Sprintf("ethereum:%s?value=%s", address, amount.String())
}

// LegacyPayload is the app-internal deep-link format older clients scan.
func LegacyPayload(intentID string, amount decimal.Decimal, token string, network types.Network) string {
	return fmt.Sprintf("pay:%s?amount=%s&token=%s&network=%s",
		intentID, amount.String(), token, network)
}
