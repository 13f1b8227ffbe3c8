package chainpay

import (
	"time"

	"github.com/metartpay/chainpay/logger"
	"github.com/metartpay/chainpay/metrics"
	"github.com/metartpay/chainpay/notify"
	"github.com/metartpay/chainpay/wallets"
)

type Option func(*Gateway)

func WithLogger(l logger.Logger) Option {
	return func(g *Gateway) {
		g.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(g *Gateway) {
		g.metrics = r
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(g *Gateway) {
		g.notifier = n
	}
}

func WithRates(r wallets.RateSource) Option {
	return func(g *Gateway) {
		g.rates = r
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}
