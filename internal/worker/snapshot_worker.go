// Package worker keeps precomputed balance snapshots fresh. Snapshots are a
// read cache only; the API always recomputes from live expenses and the
// snapshot table exists for exports and cheap dashboard reads.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"conti/internal/amqp"
	"conti/internal/core"
	"conti/internal/services"
)

type snapshotStore interface {
	SaveBalanceSnapshot(ctx context.Context, scopeKey string, payload []byte) error
	ListStaleSnapshotKeys(ctx context.Context, limit int) ([]string, error)
	GetGroup(ctx context.Context, id string) (core.Group, error)
}

type settler interface {
	SettleUp(ctx context.Context, userID string) (services.Settlement, error)
	GroupSettleUp(ctx context.Context, userID, groupID string) (services.Settlement, error)
}

// SettlementExporter pushes a computed transfer plan somewhere external.
type SettlementExporter interface {
	ExportSettlement(ctx context.Context, scopeKey string, transfers []core.Transfer) error
}

// SnapshotPayload is the stored form of a computed settlement.
type SnapshotPayload struct {
	OwedByMe   map[string]core.Money `json:"owedByMe"`
	OwedToMe   map[string]core.Money `json:"owedToMe"`
	Transfers  []core.Transfer       `json:"transfers"`
	ComputedAt time.Time             `json:"computedAt"`
}

// SnapshotWorker recomputes balance snapshots when expense events arrive and
// sweeps stale scope keys as a backup in case messages are lost.
type SnapshotWorker struct {
	store     snapshotStore
	balances  settler
	exporter  SettlementExporter
	batchSize int
}

// NewSnapshotWorker builds a worker. exporter may be nil when no external
// export target is configured.
func NewSnapshotWorker(store snapshotStore, balances settler, exporter SettlementExporter, batchSize int) *SnapshotWorker {
	return &SnapshotWorker{
		store:     store,
		balances:  balances,
		exporter:  exporter,
		batchSize: batchSize,
	}
}

// HandleEvent refreshes every scope an expense event touches.
func (w *SnapshotWorker) HandleEvent(ctx context.Context, event *amqp.ExpenseEvent) error {
	slog.InfoContext(ctx, "Processing expense event",
		"kind", event.Kind,
		"expense_id", event.ExpenseID,
		"user_id", event.UserID)

	if event.UserID == "" {
		slog.WarnContext(ctx, "Event without user id, skipping", "kind", event.Kind)
		return nil
	}

	if err := w.refreshScope(ctx, "user:"+event.UserID); err != nil {
		return fmt.Errorf("refresh user scope: %w", err)
	}
	if event.GroupID != "" {
		if err := w.refreshScope(ctx, "group:"+event.GroupID); err != nil {
			return fmt.Errorf("refresh group scope: %w", err)
		}
	}
	return nil
}

// ProcessStaleSnapshots recomputes up to batchSize scopes marked stale.
// This is the backup mechanism in case AMQP messages are lost.
func (w *SnapshotWorker) ProcessStaleSnapshots(ctx context.Context) error {
	keys, err := w.store.ListStaleSnapshotKeys(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("list stale snapshots: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing stale snapshots", "count", len(keys))

	for _, key := range keys {
		if err := w.refreshScope(ctx, key); err != nil {
			slog.ErrorContext(ctx, "Failed to refresh snapshot", "scope", key, "error", err)
			continue
		}
	}
	return nil
}

// StartupRefresh sweeps a larger stale batch once at worker start, recovering
// from downtime while the API kept marking scopes stale.
func (w *SnapshotWorker) StartupRefresh(ctx context.Context) error {
	keys, err := w.store.ListStaleSnapshotKeys(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("list stale snapshots for startup: %w", err)
	}
	if len(keys) == 0 {
		slog.InfoContext(ctx, "No stale snapshots found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found stale snapshots on startup, processing...", "count", len(keys))

	successCount := 0
	errorCount := 0
	for _, key := range keys {
		if err := w.refreshScope(ctx, key); err != nil {
			slog.ErrorContext(ctx, "Failed to refresh snapshot during startup",
				"scope", key, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup refresh completed",
		"total", len(keys),
		"refreshed", successCount,
		"errors", errorCount)

	return nil
}

func (w *SnapshotWorker) refreshScope(ctx context.Context, scopeKey string) error {
	settlement, err := w.computeScope(ctx, scopeKey)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(SnapshotPayload{
		OwedByMe:   settlement.Sheet.OwedByMe,
		OwedToMe:   settlement.Sheet.OwedToMe,
		Transfers:  settlement.Transfers,
		ComputedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := w.store.SaveBalanceSnapshot(ctx, scopeKey, payload); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	slog.InfoContext(ctx, "Snapshot refreshed",
		"scope", scopeKey,
		"transfers", len(settlement.Transfers))

	if w.exporter != nil {
		if err := w.exporter.ExportSettlement(ctx, scopeKey, settlement.Transfers); err != nil {
			slog.ErrorContext(ctx, "Failed to export settlement", "scope", scopeKey, "error", err)
			// The snapshot is saved; a failed export does not requeue the event.
		}
	}
	return nil
}

func (w *SnapshotWorker) computeScope(ctx context.Context, scopeKey string) (services.Settlement, error) {
	kind, id, ok := strings.Cut(scopeKey, ":")
	if !ok || id == "" {
		return services.Settlement{}, fmt.Errorf("malformed scope key %q", scopeKey)
	}

	switch kind {
	case "user":
		return w.balances.SettleUp(ctx, id)
	case "group":
		group, err := w.store.GetGroup(ctx, id)
		if err != nil {
			return services.Settlement{}, fmt.Errorf("load group for scope: %w", err)
		}
		return w.balances.GroupSettleUp(ctx, group.UserID, id)
	default:
		return services.Settlement{}, fmt.Errorf("unknown scope kind %q", kind)
	}
}
