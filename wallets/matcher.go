// Package wallets resolves a merchant's provisioned wallets against a
// requested network and token, and converts fiat amounts to crypto through a
// pluggable rate source. Chain labels drift across onboarding flows, so
// matching is a cascade of heuristics from strict to loose.
package wallets

import (
	"fmt"
	"strings"

	"github.com/metartpay/chainpay/logger"
	"github.com/metartpay/chainpay/types"
)

// tronSynonyms are the labels onboarding flows have historically used for
// TRON wallets. All canonicalize to "trx".
var tronSynonyms = map[string]struct{}{
	"tron": {}, "trc": {}, "trc20": {}, "trc-20": {},
	"usdttron": {}, "usdt_tron": {}, "usdt-tron": {}, "trx": {},
}

// Matcher selects the wallet serving a (network, token) request.
type Matcher struct {
	log logger.Logger
}

func NewMatcher(log logger.Logger) *Matcher {
	if log == nil {
		log = &logger.NoopLogger{}
	}
	return &Matcher{log: log}
}

// normalize strips everything but letters and digits and lowercases, so
// "TRC-20" and "trc20" compare equal.
func normalize(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(label) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// canonical maps a network identifier to its canonical chain alias.
func canonical(network types.Network) string {
	alias := normalize(string(network))
	if _, ok := tronSynonyms[alias]; ok {
		return "trx"
	}
	return alias
}

// Match returns the wallet whose chain label best fits the requested network
// and token. Rules run in order; the first hit wins:
//
//  1. exact match on the normalized labels
//  2. wallet label contains the requested alias
//  3. requested alias contains the wallet label
//  4. token-qualified TRON labels like "trx_usdt" when USDT on TRON was asked
//  5. wallet label starts with the requested alias
func (m *Matcher) Match(wallets []types.Wallet, network types.Network, token string) (*types.Wallet, error) {
	want := canonical(network)
	tok := normalize(token)

	type rule struct {
		name string
		hit  func(chain string) bool
	}
	rules := []rule{
		{"exact", func(chain string) bool { return chain == want }},
		{"wallet-contains", func(chain string) bool { return strings.Contains(chain, want) }},
		{"request-contains", func(chain string) bool { return chain != "" && strings.Contains(want, chain) }},
		{"token-qualified", func(chain string) bool {
			return want == "trx" && strings.Contains(tok, "usdt") &&
				strings.HasPrefix(chain, "trx") && strings.Contains(chain, "usdt")
		}},
		{"prefix", func(chain string) bool { return strings.HasPrefix(chain, want) }},
	}

	for _, r := range rules {
		for i := range wallets {
			chain := normalize(wallets[i].Chain)
			if _, ok := tronSynonyms[chain]; ok {
				chain = "trx"
			}
			if r.hit(chain) {
				m.log.Info("wallet matched", map[string]any{
					"rule":    r.name,
					"network": network,
					"chain":   wallets[i].Chain,
				})
				return &wallets[i], nil
			}
		}
	}

	available := make([]string, len(wallets))
	for i, w := range wallets {
		available[i] = w.Chain
	}
	err := types.NewError(types.ErrNoWalletForNetwork,
		fmt.Sprintf("no wallet provisioned for %s", network), nil)
	err.Data = map[string]any{"availableChains": available}
	return nil, err
}
