// Package engine runs the reconciliation loop: per network, it scans every
// active monitored address for incoming transfers, records them in the
// ledger, walks them through the confirmation state machine and completes
// payments exactly once.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/metartpay/chainpay/clients"
	"github.com/metartpay/chainpay/docstore"
	"github.com/metartpay/chainpay/ledger"
	"github.com/metartpay/chainpay/logger"
	"github.com/metartpay/chainpay/metrics"
	"github.com/metartpay/chainpay/notify"
	"github.com/metartpay/chainpay/registry"
	"github.com/metartpay/chainpay/types"
)

const paymentsCollection = "payments"
const paymentLinksCollection = "paymentLinks"

// amountTolerance is the accepted shortfall on the expected amount. An
// observed transfer is sufficient iff observed >= expected * (1 - tolerance).
var amountTolerance = decimal.NewFromFloat(0.01)

// Engine drives reconciliation across all configured networks.
type Engine struct {
	adapters map[types.Network]clients.ChainAdapter
	registry *registry.Registry
	ledger   *ledger.Ledger
	store    docstore.Store
	notifier notify.Notifier
	log      logger.Logger
	metrics  metrics.Recorder
	now      func() time.Time

	mu       sync.Mutex
	netLocks map[types.Network]*sync.Mutex
	configs  map[types.Network]types.NetworkConfig
}

func New(store docstore.Store, reg *registry.Registry, led *ledger.Ledger, notifier notify.Notifier, log logger.Logger, rec metrics.Recorder, now func() time.Time) *Engine {
	if log == nil {
		log = &logger.NoopLogger{}
	}
	if rec == nil {
		rec = &metrics.NoopRecorder{}
	}
	if notifier == nil {
		notifier = &notify.NoopNotifier{}
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		adapters: make(map[types.Network]clients.ChainAdapter),
		registry: reg,
		ledger:   led,
		store:    store,
		notifier: notifier,
		log:      log,
		metrics:  rec,
		now:      now,
		netLocks: make(map[types.Network]*sync.Mutex),
		configs:  make(map[types.Network]types.NetworkConfig),
	}
}

// AddAdapter registers the chain adapter serving a network, with the network
// configuration its confirmations policy comes from.
func (e *Engine) AddAdapter(adapter clients.ChainAdapter, cfg types.NetworkConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.adapters[adapter.Network()] = adapter
	e.netLocks[adapter.Network()] = &sync.Mutex{}
	e.configs[adapter.Network()] = cfg
}

// Adapter returns the adapter for a network, if configured.
func (e *Engine) Adapter(network types.Network) (clients.ChainAdapter, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.adapters[network]
	return a, ok
}

// Networks returns the configured networks.
func (e *Engine) Networks() []types.Network {
	e.mu.Lock()
	defer e.mu.Unlock()
	nets := make([]types.Network, 0, len(e.adapters))
	for n := range e.adapters {
		nets = append(nets, n)
	}
	return nets
}

// Tick runs one reconciliation pass over the given networks in parallel.
// With no networks given, all configured networks run. Per-network failures
// are logged and scoped to that network.
func (e *Engine) Tick(ctx context.Context, networks ...types.Network) {
	if len(networks) == 0 {
		networks = e.Networks()
	}
	var wg sync.WaitGroup
	for _, network := range networks {
		wg.Add(1)
		go func(n types.Network) {
			defer wg.Done()
			e.TickNetwork(ctx, n)
		}(network)
	}
	wg.Wait()
}

// TickNetwork runs one reconciliation pass for a single network. Overlapping
// ticks for the same network are skipped so watermark advancement stays
// race-free.
func (e *Engine) TickNetwork(ctx context.Context, network types.Network) {
	adapter, ok := e.Adapter(network)
	if !ok {
		e.log.Warn("tick for unconfigured network", map[string]any{"network": network})
		return
	}

	e.mu.Lock()
	lock := e.netLocks[network]
	e.mu.Unlock()
	if !lock.TryLock() {
		e.log.Warn("tick overlap, skipping", map[string]any{"network": network})
		return
	}
	defer lock.Unlock()

	start := e.now()
	defer func() {
		e.metrics.ObserveLatency("tick", e.now().Sub(start), map[string]string{"network": string(network)})
	}()

	height, err := adapter.LatestBlock(ctx)
	if err != nil {
		e.log.Error("latest block fetch failed, aborting tick", map[string]any{
			"network": network,
			"error":   err.Error(),
		})
		e.metrics.IncCounter("tick_errors", map[string]string{"network": string(network)})
		return
	}

	entries, err := e.registry.ListActive(ctx, network)
	if err != nil {
		e.log.Error("active entry listing failed, aborting tick", map[string]any{
			"network": network,
			"error":   err.Error(),
		})
		e.metrics.IncCounter("tick_errors", map[string]string{"network": string(network)})
		return
	}
	if len(entries) == 0 {
		return
	}

	now := e.now()
	for i := range entries {
		entry := entries[i]
		if entry.Expired(now) {
			if _, err := e.registry.Expire(ctx, entry.ID); err != nil {
				e.log.Error("expiry failed", map[string]any{
					"entry": entry.ID,
					"error": err.Error(),
				})
			}
			continue
		}
		if err := e.scanEntry(ctx, adapter, entry, height); err != nil {
			// The watermark is not advanced, so the range replays next tick.
			e.log.Error("entry scan failed, watermark held", map[string]any{
				"entry":   entry.ID,
				"network": network,
				"error":   err.Error(),
			})
			e.metrics.IncCounter("entry_errors", map[string]string{"network": string(network)})
		}
	}
}

// scanEntry fetches and processes all new transfers for one entry, then
// advances the watermark.
func (e *Engine) scanEntry(ctx context.Context, adapter clients.ChainAdapter, entry types.MonitoredAddress, height uint64) error {
	fromBlock := entry.LastCheckedBlock + 1
	if entry.LastCheckedBlock == 0 {
		// Fresh entry: start at the current height rather than scanning the
		// whole chain.
		fromBlock = height
	}
	if fromBlock > height {
		return nil
	}

	transfers, err := adapter.TransfersTo(ctx, entry.Token, entry.Address, fromBlock, height)
	if err != nil {
		return err
	}
	e.metrics.IncCounter("transfers_observed", map[string]string{"network": string(entry.Network)})

	sort.SliceStable(transfers, func(i, j int) bool {
		if transfers[i].BlockNumber != transfers[j].BlockNumber {
			return transfers[i].BlockNumber < transfers[j].BlockNumber
		}
		return transfers[i].LogIndex < transfers[j].LogIndex
	})

	// Unmined transfers are skipped but must be rescanned, so the watermark
	// stops just below the earliest one.
	advanceTo := height
	for _, transfer := range transfers {
		unmined, err := e.processTransfer(ctx, adapter, entry, transfer)
		if err != nil {
			return err
		}
		if unmined && transfer.BlockNumber > 0 && transfer.BlockNumber-1 < advanceTo {
			advanceTo = transfer.BlockNumber - 1
		}
	}

	return e.registry.AdvanceWatermark(ctx, entry.ID, advanceTo)
}

// processTransfer runs one transfer through dedup, the confirmation state
// machine and, when it qualifies, payment completion.
func (e *Engine) processTransfer(ctx context.Context, adapter clients.ChainAdapter, entry types.MonitoredAddress, transfer types.RawTransfer) (unmined bool, err error) {
	existing, err := e.ledger.FindByHash(ctx, transfer.TxHash, transfer.To)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if existing.Status == types.TxConfirmed {
			return false, nil
		}
		return false, e.refreshTransaction(ctx, adapter, entry, *existing)
	}

	receipt, err := adapter.Receipt(ctx, transfer.TxHash)
	if err != nil {
		if types.IsNotFound(err) {
			// Picked up on a later tick once mined.
			return true, nil
		}
		return false, err
	}
	if !receipt.Success {
		e.log.Info("skipping failed transfer", map[string]any{
			"txHash":  transfer.TxHash,
			"network": entry.Network,
		})
		return false, nil
	}

	required := e.requiredConfirmations(entry.Network)
	status := confirmationStatus(receipt.Confirmations, required)
	sufficient := amountSufficient(transfer.Amount, entry.ExpectedAmount)
	if !sufficient {
		status = types.TxInsufficient
	}

	tx := types.Transaction{
		MerchantID:            entry.MerchantID,
		PaymentLinkID:         entry.PaymentLinkID,
		IntentID:              entry.IntentID,
		TxHash:                transfer.TxHash,
		FromAddress:           transfer.From,
		ToAddress:             transfer.To,
		Amount:                transfer.Amount,
		ExpectedAmount:        entry.ExpectedAmount,
		Token:                 entry.Token,
		Network:               entry.Network,
		BlockNumber:           transfer.BlockNumber,
		Confirmations:         receipt.Confirmations,
		RequiredConfirmations: required,
		Status:                status,
		GasUsed:               receipt.GasUsed,
		GasPrice:              receipt.GasPrice,
		Fee:                   receiptFee(receipt),
		TokenAddress:          transfer.TokenAddress,
	}

	id, err := e.ledger.Record(ctx, tx)
	if err != nil {
		if types.CodeOf(err) == types.ErrDedupConflict {
			e.log.Error("dedup conflict, skipping transfer", map[string]any{
				"txHash": transfer.TxHash,
				"to":     transfer.To,
			})
			return false, nil
		}
		return false, err
	}
	tx.ID = id
	e.metrics.IncCounter("transactions_recorded", map[string]string{"network": string(entry.Network)})

	if status == types.TxConfirmed && sufficient {
		e.completePayment(ctx, entry, tx)
	}
	return false, nil
}

// refreshTransaction re-fetches the receipt for a known unconfirmed ledger
// entry and applies the confirmation rule again.
func (e *Engine) refreshTransaction(ctx context.Context, adapter clients.ChainAdapter, entry types.MonitoredAddress, tx types.Transaction) error {
	receipt, err := adapter.Receipt(ctx, tx.TxHash)
	if err != nil {
		if types.IsNotFound(err) {
			return nil
		}
		return err
	}

	required := tx.RequiredConfirmations
	if required == 0 {
		required = e.requiredConfirmations(entry.Network)
	}
	status := confirmationStatus(receipt.Confirmations, required)
	sufficient := amountSufficient(tx.Amount, tx.ExpectedAmount)
	if !sufficient {
		status = types.TxInsufficient
	}

	updated, err := e.ledger.UpdateConfirmation(ctx, tx.ID, receipt.Confirmations, status)
	if err != nil {
		return err
	}
	if updated.Status == types.TxConfirmed && sufficient {
		e.completePayment(ctx, entry, *updated)
	}
	return nil
}

// completePayment transitions the monitor entry to completed and, when this
// call wins the transition, applies the aggregate increments and emits the
// merchant notification. Losing the conditional write means another writer
// already completed the entry and everything after is someone else's to do.
func (e *Engine) completePayment(ctx context.Context, entry types.MonitoredAddress, tx types.Transaction) {
	if entry.ID == "" {
		e.log.Warn("confirmed transfer has no monitor entry to complete", map[string]any{
			"txHash": tx.TxHash,
		})
		return
	}
	won, err := e.registry.Complete(ctx, entry.ID)
	if err != nil {
		e.log.Error("completion transition failed", map[string]any{
			"entry": entry.ID,
			"error": err.Error(),
		})
		return
	}
	if !won {
		return
	}
	e.metrics.IncCounter("completions", map[string]string{"network": string(entry.Network)})
	e.log.Info("payment completed", map[string]any{
		"entry":  entry.ID,
		"txHash": tx.TxHash,
		"amount": tx.Amount.String(),
	})

	if entry.IntentID != "" {
		err := e.store.Update(ctx, paymentsCollection, entry.IntentID, map[string]any{
			"status":    string(types.IntentCompleted),
			"updatedAt": e.now().Format(time.RFC3339Nano),
		})
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			e.log.Error("intent status update failed", map[string]any{
				"intent": entry.IntentID,
				"error":  err.Error(),
			})
		}
	}

	if entry.PaymentLinkID != "" {
		if err := e.incrementLinkTotals(ctx, entry.PaymentLinkID, tx.Amount); err != nil {
			e.log.Error("payment link totals update failed", map[string]any{
				"paymentLink": entry.PaymentLinkID,
				"error":       err.Error(),
			})
		}
	}

	event := types.PaymentEvent{
		Type:    "payment_received",
		Title:   "Payment received",
		Message: fmt.Sprintf("Received %s %s on %s", tx.Amount.String(), tx.Token, tx.Network),
		Data: map[string]any{
			"txHash":  tx.TxHash,
			"amount":  tx.Amount.String(),
			"token":   tx.Token,
			"network": string(tx.Network),
		},
	}
	if err := e.notifier.Notify(ctx, entry.MerchantID, event); err != nil {
		e.log.Warn("notification delivery failed", map[string]any{
			"merchant": entry.MerchantID,
			"error":    err.Error(),
		})
	}
}

// incrementLinkTotals applies the running-total increment exactly once per
// won completion, retrying the conditional write on concurrent updates.
func (e *Engine) incrementLinkTotals(ctx context.Context, linkID string, amount decimal.Decimal) error {
	for {
		snap, err := e.store.Get(ctx, paymentLinksCollection, linkID)
		if err != nil {
			return err
		}
		var link types.PaymentLink
		if err := docstore.Decode(snap, &link); err != nil {
			return err
		}
		err = e.store.UpdateIf(ctx, paymentLinksCollection, linkID,
			"totalPayments", float64(link.TotalPayments),
			map[string]any{
				"totalPayments":       link.TotalPayments + 1,
				"totalAmountReceived": link.TotalAmountReceived.Add(amount).String(),
			})
		if err == nil {
			return nil
		}
		if !errors.Is(err, docstore.ErrConditionFailed) {
			return err
		}
	}
}

// RefreshPending re-checks pending and confirming ledger entries outside the
// transfer scan, applying the same confirmation and completion rules. Limit
// caps how many rows one pass touches; zero means no cap.
func (e *Engine) RefreshPending(ctx context.Context, limit int) {
	txs, err := e.ledger.ListByStatus(ctx,
		[]types.TxStatus{types.TxPending, types.TxConfirming}, limit)
	if err != nil {
		e.log.Error("pending listing failed", map[string]any{"error": err.Error()})
		return
	}

	for _, tx := range txs {
		adapter, ok := e.Adapter(tx.Network)
		if !ok {
			continue
		}
		entry := types.MonitoredAddress{
			MerchantID:     tx.MerchantID,
			PaymentLinkID:  tx.PaymentLinkID,
			IntentID:       tx.IntentID,
			Network:        tx.Network,
			Token:          tx.Token,
			Address:        tx.ToAddress,
			ExpectedAmount: tx.ExpectedAmount,
		}
		if mon := e.monitorFor(ctx, tx); mon != nil {
			entry = *mon
		}
		if err := e.refreshTransaction(ctx, adapter, entry, tx); err != nil {
			e.log.Warn("pending refresh failed", map[string]any{
				"tx":    tx.ID,
				"error": err.Error(),
			})
		}
	}
}

// monitorFor finds the active or completed monitor entry serving a ledger
// row, so completion from the refresh path targets the real entry.
func (e *Engine) monitorFor(ctx context.Context, tx types.Transaction) *types.MonitoredAddress {
	snaps, err := e.store.Query(ctx, "monitoredAddresses",
		docstore.Where("address", docstore.OpEqual, tx.ToAddress),
		docstore.Where("network", docstore.OpEqual, string(tx.Network)),
	)
	if err != nil || len(snaps) == 0 {
		return nil
	}
	for _, snap := range snaps {
		var m types.MonitoredAddress
		if err := docstore.Decode(snap, &m); err != nil {
			continue
		}
		if m.Status == types.MonitorActive {
			return &m
		}
	}
	return nil
}

func (e *Engine) requiredConfirmations(network types.Network) uint64 {
	e.mu.Lock()
	cfg, ok := e.configs[network]
	e.mu.Unlock()
	if ok && cfg.RequiredConfirmations > 0 {
		return cfg.RequiredConfirmations
	}
	return 1
}

// receiptFee derives the paid transaction fee in the chain's native coin.
// Only EVM receipts carry a gas price; elsewhere the fee stays zero.
func receiptFee(r *types.Receipt) decimal.Decimal {
	if r.GasUsed == 0 || r.GasPrice == "" {
		return decimal.Zero
	}
	price, err := decimal.NewFromString(r.GasPrice)
	if err != nil {
		return decimal.Zero
	}
	return price.Mul(decimal.NewFromInt(int64(r.GasUsed))).Shift(-18)
}

// confirmationStatus applies the confirmation rule.
func confirmationStatus(confirmations, required uint64) types.TxStatus {
	switch {
	case confirmations >= required:
		return types.TxConfirmed
	case confirmations > 0:
		return types.TxConfirming
	default:
		return types.TxPending
	}
}

// amountSufficient applies the tolerance rule: observed must reach the
// expected amount less the accepted shortfall. Entries without an expected
// amount accept any positive transfer.
func amountSufficient(observed decimal.Decimal, expected *decimal.Decimal) bool {
	if expected == nil || !expected.IsPositive() {
		return true
	}
	threshold := expected.Mul(decimal.NewFromInt(1).Sub(amountTolerance))
	return observed.GreaterThanOrEqual(threshold)
}
