package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-booksync/core"
)

// AutoSyncJobID is the job identifier carried by enqueued auto-sync runs.
const AutoSyncJobID = "booksync.auto_sync"

// AutoSyncDispatcher periodically enqueues bulk runs for connections that
// opted into automatic syncing. Execution happens in the job worker; the
// dispatcher only decides who is due and emits messages.
type AutoSyncDispatcher struct {
	Connections core.ConnectionStore
	Enqueuer    core.JobEnqueuer
	Logger      core.Logger
	// Interval is the minimum gap between automatic runs per connection.
	Interval time.Duration
	Now      func() time.Time
}

func NewAutoSyncDispatcher(connections core.ConnectionStore, enqueuer core.JobEnqueuer, interval time.Duration) *AutoSyncDispatcher {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &AutoSyncDispatcher{
		Connections: connections,
		Enqueuer:    enqueuer,
		Interval:    interval,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (d *AutoSyncDispatcher) now() time.Time {
	if d != nil && d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// Dispatch enqueues one message per due connection and entity type. The
// idempotency key folds in the interval bucket so a crashed dispatcher
// re-running in the same window cannot double-enqueue.
func (d *AutoSyncDispatcher) Dispatch(ctx context.Context) (int, error) {
	if d == nil || d.Connections == nil || d.Enqueuer == nil {
		return 0, fmt.Errorf("sync: auto-sync dispatcher requires connection store and enqueuer")
	}

	connections, err := d.Connections.ListAutoSync(ctx)
	if err != nil {
		return 0, err
	}

	now := d.now()
	enqueued := 0
	for _, connection := range connections {
		if connection.Status != core.ConnectionStatusActive {
			continue
		}
		if !d.due(connection, now) {
			continue
		}
		for _, entityType := range autoSyncEntityTypes(connection) {
			msg := &core.JobExecutionMessage{
				JobID: AutoSyncJobID,
				Parameters: map[string]any{
					"owner_id":    connection.OwnerID,
					"entity_type": string(entityType),
					"run_type":    string(core.SyncRunTypeAuto),
				},
				IdempotencyKey: autoSyncIdempotencyKey(connection.ID, entityType, now, d.Interval),
				DedupPolicy:    "ignore",
			}
			if enqueueErr := d.Enqueuer.Enqueue(ctx, msg); enqueueErr != nil {
				d.logError("failed to enqueue auto-sync run", map[string]any{
					"connection_id": connection.ID,
					"entity_type":   string(entityType),
					"error":         enqueueErr.Error(),
				})
				continue
			}
			enqueued++
		}
	}
	return enqueued, nil
}

func (d *AutoSyncDispatcher) due(connection core.Connection, now time.Time) bool {
	if connection.LastSyncedAt == nil {
		return true
	}
	return now.Sub(*connection.LastSyncedAt) >= d.Interval
}

func autoSyncEntityTypes(connection core.Connection) []core.EntityType {
	var types []core.EntityType
	if connection.AutoSyncExpenses {
		types = append(types, core.EntityTypeExpense)
	}
	if connection.AutoSyncInvoices {
		types = append(types, core.EntityTypeInvoice)
	}
	return types
}

func autoSyncIdempotencyKey(connectionID string, entityType core.EntityType, now time.Time, interval time.Duration) string {
	bucket := now.Truncate(interval).Format(time.RFC3339)
	return fmt.Sprintf("%s:%s:%s:%s", AutoSyncJobID, connectionID, entityType, bucket)
}

func (d *AutoSyncDispatcher) logError(message string, fields map[string]any) {
	if d == nil || d.Logger == nil {
		return
	}
	d.Logger.Error(message, flatten(fields)...)
}

// AutoSyncWorker consumes auto-sync messages and drives the orchestrator.
type AutoSyncWorker struct {
	Orchestrator *Orchestrator
	Dequeuer     core.JobDequeuer
	Logger       core.Logger
}

// RunOnce processes a single delivery; callers loop it. Rate-limit
// failures are redelivered with a delay, everything else dead-letters
// since bulk runs record per-entity failures themselves.
func (w *AutoSyncWorker) RunOnce(ctx context.Context) error {
	if w == nil || w.Orchestrator == nil || w.Dequeuer == nil {
		return fmt.Errorf("sync: auto-sync worker requires orchestrator and dequeuer")
	}
	delivery, err := w.Dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	msg := delivery.Message()
	if msg == nil || msg.JobID != AutoSyncJobID {
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "unexpected job id"})
	}

	ownerID, _ := msg.Parameters["owner_id"].(string)
	entityTypeRaw, _ := msg.Parameters["entity_type"].(string)
	entityType, parseErr := core.ParseEntityType(entityTypeRaw)
	if ownerID == "" || parseErr != nil {
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "invalid auto-sync parameters"})
	}

	var runErr error
	if entityType == core.EntityTypeInvoice {
		_, runErr = w.Orchestrator.BulkSyncInvoices(ctx, ownerID, core.EntityFilters{}, core.SyncRunTypeAuto)
	} else {
		_, runErr = w.Orchestrator.BulkSyncExpenses(ctx, ownerID, core.EntityFilters{}, core.SyncRunTypeAuto)
	}
	if runErr != nil {
		if core.IsRateLimitError(runErr) {
			return delivery.Nack(ctx, core.JobNackOptions{
				Requeue: true,
				Delay:   time.Minute,
				Reason:  runErr.Error(),
			})
		}
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: runErr.Error()})
	}
	return delivery.Ack(ctx)
}
