// Package registry owns the monitoredAddresses collection: the set of
// merchant receiving addresses the reconciliation loop scans, each with a
// per-entry block watermark and a lifecycle status.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/metartpay/chainpay/docstore"
	"github.com/metartpay/chainpay/logger"
	"github.com/metartpay/chainpay/types"
)

const collection = "monitoredAddresses"

// Registry manages monitored address entries. All writes that race with the
// reconciliation loop go through conditional updates.
type Registry struct {
	store docstore.Store
	log   logger.Logger
	now   func() time.Time
}

func New(store docstore.Store, log logger.Logger, now func() time.Time) *Registry {
	if log == nil {
		log = &logger.NoopLogger{}
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{store: store, log: log, now: now}
}

// Register adds a new active entry. EVM addresses are normalized to
// lowercase so transfer matching is case-insensitive.
func (r *Registry) Register(ctx context.Context, entry types.MonitoredAddress) (string, error) {
	if entry.Network.IsEVM() {
		entry.Address = strings.ToLower(entry.Address)
	}
	entry.Status = types.MonitorActive
	now := r.now()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	data, err := docstore.Encode(entry)
	if err != nil {
		return "", err
	}
	id, err := r.store.Add(ctx, collection, data)
	if err != nil {
		return "", err
	}
	r.log.Info("monitored address registered", map[string]any{
		"id":      id,
		"network": entry.Network,
		"address": entry.Address,
		"token":   entry.Token,
	})
	return id, nil
}

// Get returns one entry by id.
func (r *Registry) Get(ctx context.Context, id string) (*types.MonitoredAddress, error) {
	snap, err := r.store.Get(ctx, collection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, types.NewError(types.ErrNotFound,
				fmt.Sprintf("monitored address %s not found", id), err)
		}
		return nil, err
	}
	var entry types.MonitoredAddress
	if err := docstore.Decode(snap, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListActive returns all active entries for a network.
func (r *Registry) ListActive(ctx context.Context, network types.Network) ([]types.MonitoredAddress, error) {
	snaps, err := r.store.Query(ctx, collection,
		docstore.Where("status", docstore.OpEqual, string(types.MonitorActive)),
		docstore.Where("network", docstore.OpEqual, string(network)),
	)
	if err != nil {
		return nil, err
	}
	entries := make([]types.MonitoredAddress, 0, len(snaps))
	for _, snap := range snaps {
		var entry types.MonitoredAddress
		if err := docstore.Decode(snap, &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// AdvanceWatermark moves lastCheckedBlock forward to block. The watermark
// never regresses: a stale or concurrent writer loses the conditional update
// and the call retries against the fresh value.
func (r *Registry) AdvanceWatermark(ctx context.Context, id string, block uint64) error {
	for {
		entry, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if block <= entry.LastCheckedBlock {
			return nil
		}
		err = r.store.UpdateIf(ctx, collection, id,
			"lastCheckedBlock", float64(entry.LastCheckedBlock),
			map[string]any{
				"lastCheckedBlock": block,
				"updatedAt":        r.now().Format(time.RFC3339Nano),
			})
		if err == nil {
			return nil
		}
		if !errors.Is(err, docstore.ErrConditionFailed) {
			return err
		}
	}
}

// Complete transitions an active entry to completed. Exactly one caller wins
// the transition; the rest observe won=false with no error.
func (r *Registry) Complete(ctx context.Context, id string) (bool, error) {
	err := r.store.UpdateIf(ctx, collection, id,
		"status", string(types.MonitorActive),
		map[string]any{
			"status":    string(types.MonitorCompleted),
			"updatedAt": r.now().Format(time.RFC3339Nano),
		})
	if errors.Is(err, docstore.ErrConditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Expire transitions an active entry to expired. Completed entries are left
// alone even when the deadline has passed.
func (r *Registry) Expire(ctx context.Context, id string) (bool, error) {
	err := r.store.UpdateIf(ctx, collection, id,
		"status", string(types.MonitorActive),
		map[string]any{
			"status":    string(types.MonitorExpired),
			"updatedAt": r.now().Format(time.RFC3339Nano),
		})
	if errors.Is(err, docstore.ErrConditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
