// Package ledger owns the transactions collection: one append-only record
// per observed on-chain transfer, keyed naturally by (txHash, toAddress),
// with a confirmation state machine that never regresses a confirmed entry.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/metartpay/chainpay/docstore"
	"github.com/metartpay/chainpay/logger"
	"github.com/metartpay/chainpay/types"
)

const collection = "transactions"

// Ledger records observed transfers and tracks their confirmation state.
type Ledger struct {
	store docstore.Store
	log   logger.Logger
	now   func() time.Time
}

func New(store docstore.Store, log logger.Logger, now func() time.Time) *Ledger {
	if log == nil {
		log = &logger.NoopLogger{}
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, log: log, now: now}
}

// FindByHash returns the ledger entry for (txHash, toAddress), or nil when
// the transfer has not been recorded yet.
func (l *Ledger) FindByHash(ctx context.Context, txHash, toAddress string) (*types.Transaction, error) {
	snaps, err := l.store.Query(ctx, collection,
		docstore.Where("txHash", docstore.OpEqual, txHash),
		docstore.Where("toAddress", docstore.OpEqual, toAddress),
	)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	var tx types.Transaction
	if err := docstore.Decode(snaps[0], &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Record inserts a new ledger entry. Recording the same (txHash, toAddress)
// twice is a dedup conflict; callers are expected to check FindByHash first,
// so a conflict here means two writers raced and the second one loses.
func (l *Ledger) Record(ctx context.Context, tx types.Transaction) (string, error) {
	existing, err := l.FindByHash(ctx, tx.TxHash, tx.ToAddress)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", types.NewError(types.ErrDedupConflict,
			fmt.Sprintf("transfer %s to %s already recorded", tx.TxHash, tx.ToAddress), nil)
	}

	tx.ObservedAt = l.now()
	data, err := docstore.Encode(tx)
	if err != nil {
		return "", err
	}
	id, err := l.store.Add(ctx, collection, data)
	if err != nil {
		return "", err
	}
	l.log.Info("transfer recorded", map[string]any{
		"id":      id,
		"txHash":  tx.TxHash,
		"network": tx.Network,
		"amount":  tx.Amount.String(),
		"status":  tx.Status,
	})
	return id, nil
}

// UpdateConfirmation moves an entry through the confirmation state machine.
// Confirmed is terminal: once reached the entry is never touched again, even
// if a later receipt reports fewer confirmations. Returns the entry as it
// stands after the call.
func (l *Ledger) UpdateConfirmation(ctx context.Context, id string, confirmations uint64, status types.TxStatus) (*types.Transaction, error) {
	for {
		snap, err := l.store.Get(ctx, collection, id)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return nil, types.NewError(types.ErrNotFound,
					fmt.Sprintf("transaction %s not found", id), err)
			}
			return nil, err
		}
		var tx types.Transaction
		if err := docstore.Decode(snap, &tx); err != nil {
			return nil, err
		}
		if tx.Status == types.TxConfirmed {
			return &tx, nil
		}

		fields := map[string]any{
			"confirmations": confirmations,
			"status":        string(status),
		}
		if status == types.TxConfirmed {
			fields["confirmedAt"] = l.now().Format(time.RFC3339Nano)
		}
		err = l.store.UpdateIf(ctx, collection, id, "status", string(tx.Status), fields)
		if errors.Is(err, docstore.ErrConditionFailed) {
			continue
		}
		if err != nil {
			return nil, err
		}

		tx.Confirmations = confirmations
		tx.Status = status
		return &tx, nil
	}
}

// ListByStatus returns up to limit entries in any of the given statuses.
// A limit of zero means no cap.
func (l *Ledger) ListByStatus(ctx context.Context, statuses []types.TxStatus, limit int) ([]types.Transaction, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	snaps, err := l.store.Query(ctx, collection,
		docstore.Where("status", docstore.OpIn, values),
	)
	if err != nil {
		return nil, err
	}
	txs := make([]types.Transaction, 0, len(snaps))
	for _, snap := range snaps {
		var tx types.Transaction
		if err := docstore.Decode(snap, &tx); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
		if limit > 0 && len(txs) >= limit {
			break
		}
	}
	return txs, nil
}
