package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-booksync/core"
	"github.com/google/uuid"
)

// EntityExecutor is the single-entity delivery path the orchestrator
// drives, satisfied by core.Service.
type EntityExecutor interface {
	SyncExpense(ctx context.Context, ownerID, expenseID string) (core.SyncOutcome, error)
	SyncInvoice(ctx context.Context, ownerID, invoiceID string) (core.SyncOutcome, error)
}

// Orchestrator runs bulk and retry passes over host entities, owning the
// SyncHistory lifecycle and the inter-call pacing that keeps the provider
// rate limiter quiet.
type Orchestrator struct {
	Executor    EntityExecutor
	Connections core.ConnectionStore
	Records     core.SyncRecordStore
	History     core.SyncHistoryStore
	Expenses    core.ExpenseSource
	Invoices    core.InvoiceSource
	Logger      core.Logger
	PacingDelay time.Duration
	Now         func() time.Time
	// Sleep is injectable so tests run without wall-clock delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(
	executor EntityExecutor,
	connections core.ConnectionStore,
	records core.SyncRecordStore,
	history core.SyncHistoryStore,
	expenses core.ExpenseSource,
	invoices core.InvoiceSource,
	pacingDelay time.Duration,
) *Orchestrator {
	return &Orchestrator{
		Executor:    executor,
		Connections: connections,
		Records:     records,
		History:     history,
		Expenses:    expenses,
		Invoices:    invoices,
		PacingDelay: pacingDelay,
		Now: func() time.Time {
			return time.Now().UTC()
		},
		Sleep: sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// BulkResult is the full outcome of one bulk or retry run.
type BulkResult struct {
	HistoryID   string
	RunType     core.SyncRunType
	Status      core.SyncRunStatus
	SyncedCount int
	FailedCount int
	// SkippedCount counts entities excluded because the ledger already
	// shows them synced.
	SkippedCount int
	Failures     []core.SyncFailure
	Outcomes     []core.SyncOutcome
}

// BulkSyncExpenses pushes every eligible expense for the owner, oldest
// first. Entities already synced for the connection are excluded before
// the run starts.
func (o *Orchestrator) BulkSyncExpenses(ctx context.Context, ownerID string, filters core.EntityFilters, runType core.SyncRunType) (BulkResult, error) {
	if err := o.validate(); err != nil {
		return BulkResult{}, err
	}
	if o.Expenses == nil {
		return BulkResult{}, fmt.Errorf("sync: expense source is required")
	}
	connection, err := o.requireConnection(ctx, ownerID)
	if err != nil {
		return BulkResult{}, err
	}

	expenses, err := o.Expenses.ListByOwner(ctx, ownerID, filters)
	if err != nil {
		return BulkResult{}, err
	}
	sort.SliceStable(expenses, func(i, j int) bool {
		return expenses[i].Date.Before(expenses[j].Date)
	})

	synced, err := o.Records.SyncedEntityIDs(ctx, connection.ID, core.EntityTypeExpense)
	if err != nil {
		return BulkResult{}, err
	}

	items := make([]bulkItem, 0, len(expenses))
	skipped := 0
	for _, expense := range expenses {
		if _, done := synced[expense.ID]; done {
			skipped++
			continue
		}
		items = append(items, bulkItem{
			id:          expense.ID,
			description: expenseDescription(expense),
		})
	}

	result, err := o.run(ctx, connection, runType, core.EntityTypeExpense, items, func(ctx context.Context, id string) (core.SyncOutcome, error) {
		return o.Executor.SyncExpense(ctx, ownerID, id)
	})
	result.SkippedCount = skipped
	return result, err
}

// BulkSyncInvoices mirrors BulkSyncExpenses for invoices.
func (o *Orchestrator) BulkSyncInvoices(ctx context.Context, ownerID string, filters core.EntityFilters, runType core.SyncRunType) (BulkResult, error) {
	if err := o.validate(); err != nil {
		return BulkResult{}, err
	}
	if o.Invoices == nil {
		return BulkResult{}, fmt.Errorf("sync: invoice source is required")
	}
	connection, err := o.requireConnection(ctx, ownerID)
	if err != nil {
		return BulkResult{}, err
	}

	invoices, err := o.Invoices.ListByOwner(ctx, ownerID, filters)
	if err != nil {
		return BulkResult{}, err
	}
	sort.SliceStable(invoices, func(i, j int) bool {
		return invoices[i].Date.Before(invoices[j].Date)
	})

	synced, err := o.Records.SyncedEntityIDs(ctx, connection.ID, core.EntityTypeInvoice)
	if err != nil {
		return BulkResult{}, err
	}

	items := make([]bulkItem, 0, len(invoices))
	skipped := 0
	for _, invoice := range invoices {
		if _, done := synced[invoice.ID]; done {
			skipped++
			continue
		}
		items = append(items, bulkItem{
			id:          invoice.ID,
			description: invoiceDescription(invoice),
		})
	}

	result, err := o.run(ctx, connection, runType, core.EntityTypeInvoice, items, func(ctx context.Context, id string) (core.SyncOutcome, error) {
		return o.Executor.SyncInvoice(ctx, ownerID, id)
	})
	result.SkippedCount = skipped
	return result, err
}

type bulkItem struct {
	id          string
	description string
}

// run opens the history row, walks the items sequentially with pacing and
// finalizes the row. Every per-entity error is captured, never propagated;
// only cancellation during pacing surfaces to the caller, after the row is
// finalized from the attempts actually made.
func (o *Orchestrator) run(
	ctx context.Context,
	connection core.Connection,
	runType core.SyncRunType,
	entityType core.EntityType,
	items []bulkItem,
	deliver func(ctx context.Context, id string) (core.SyncOutcome, error),
) (BulkResult, error) {
	open, err := o.History.FindStarted(ctx, connection.ID)
	if err != nil {
		return BulkResult{}, err
	}
	if len(open) > 0 {
		return BulkResult{}, fmt.Errorf("sync: sync already running for connection %s", connection.ID)
	}

	startedAt := o.now()
	history := core.SyncHistory{
		ID:           uuid.NewString(),
		ConnectionID: connection.ID,
		RunType:      runType,
		EntityTypes:  []core.EntityType{entityType},
		Status:       core.SyncRunStatusStarted,
		StartedAt:    startedAt,
	}
	history, err = o.History.Create(ctx, history)
	if err != nil {
		return BulkResult{}, err
	}

	result := BulkResult{
		HistoryID: history.ID,
		RunType:   runType,
	}
	var abortErr error
	for i, item := range items {
		if i > 0 {
			if sleepErr := o.sleep(ctx); sleepErr != nil {
				// Cancellation lands between items, so the pending one
				// was never attempted; it is not a delivery failure.
				abortErr = sleepErr
				break
			}
		}
		outcome, deliverErr := deliver(ctx, item.id)
		result.Outcomes = append(result.Outcomes, outcome)
		if deliverErr != nil || outcome.Status == core.SyncRecordStatusFailed {
			message := outcome.Error
			if message == "" && deliverErr != nil {
				message = deliverErr.Error()
			}
			result.Failures = append(result.Failures, core.SyncFailure{
				EntityID:    item.id,
				Description: item.description,
				Error:       message,
			})
			result.FailedCount++
			continue
		}
		result.SyncedCount++
	}

	result.Status = runStatus(result.SyncedCount, result.FailedCount)
	if abortErr != nil {
		result.Status = abortStatus(result.SyncedCount)
	}
	finishedAt := o.now()
	history.SyncedCount = result.SyncedCount
	history.FailedCount = result.FailedCount
	history.Failures = result.Failures
	if transitionErr := history.TransitionTo(result.Status, finishedAt); transitionErr != nil {
		return result, transitionErr
	}
	if _, updateErr := o.History.Update(ctx, history); updateErr != nil {
		return result, updateErr
	}
	// Every finalized run stamps the attempt time, successful or not, so
	// scheduling sees when the connection was last worked.
	if stampErr := o.Connections.StampLastSynced(ctx, connection.ID, finishedAt); stampErr != nil {
		o.logError("failed to stamp last synced timestamp", map[string]any{
			"connection_id": connection.ID,
			"error":         stampErr.Error(),
		})
	}
	return result, abortErr
}

func runStatus(synced, failed int) core.SyncRunStatus {
	switch {
	case failed == 0:
		return core.SyncRunStatusCompleted
	case synced == 0:
		return core.SyncRunStatusFailed
	default:
		return core.SyncRunStatusPartial
	}
}

// abortStatus finalizes a run cut short before its items were exhausted;
// a run with deliveries behind it is partial, one with none is failed.
func abortStatus(synced int) core.SyncRunStatus {
	if synced > 0 {
		return core.SyncRunStatusPartial
	}
	return core.SyncRunStatusFailed
}

// RetryResult reports one retry pass over failed ledger rows.
type RetryResult struct {
	HistoryID   string
	Succeeded   int
	StillFailed int
	// Skipped counts records whose host entity no longer exists.
	Skipped  int
	Failures []core.SyncFailure
}

// RetryFailedSyncs re-runs every failed record of the entity type through
// the single-entity path. Deleted host entities are skipped silently.
func (o *Orchestrator) RetryFailedSyncs(ctx context.Context, ownerID string, entityType core.EntityType) (RetryResult, error) {
	if err := o.validate(); err != nil {
		return RetryResult{}, err
	}
	connection, err := o.requireConnection(ctx, ownerID)
	if err != nil {
		return RetryResult{}, err
	}

	failed, err := o.Records.ListByStatus(ctx, connection.ID, entityType, core.SyncRecordStatusFailed)
	if err != nil {
		return RetryResult{}, err
	}

	items := make([]bulkItem, 0, len(failed))
	skipped := 0
	for _, record := range failed {
		exists, description, existsErr := o.entityExists(ctx, entityType, record.EntityID)
		if existsErr != nil {
			return RetryResult{}, existsErr
		}
		if !exists {
			skipped++
			continue
		}
		items = append(items, bulkItem{id: record.EntityID, description: description})
	}

	deliver := func(ctx context.Context, id string) (core.SyncOutcome, error) {
		if entityType == core.EntityTypeInvoice {
			return o.Executor.SyncInvoice(ctx, ownerID, id)
		}
		return o.Executor.SyncExpense(ctx, ownerID, id)
	}
	bulk, err := o.run(ctx, connection, core.SyncRunTypeRetry, entityType, items, deliver)
	if err != nil {
		return RetryResult{}, err
	}
	return RetryResult{
		HistoryID:   bulk.HistoryID,
		Succeeded:   bulk.SyncedCount,
		StillFailed: bulk.FailedCount,
		Skipped:     skipped,
		Failures:    bulk.Failures,
	}, nil
}

func (o *Orchestrator) entityExists(ctx context.Context, entityType core.EntityType, entityID string) (bool, string, error) {
	switch entityType {
	case core.EntityTypeInvoice:
		if o.Invoices == nil {
			return false, "", fmt.Errorf("sync: invoice source is required")
		}
		invoice, err := o.Invoices.Get(ctx, entityID)
		if err != nil {
			if isMissingEntity(err) {
				return false, "", nil
			}
			return false, "", err
		}
		return true, invoiceDescription(invoice), nil
	default:
		if o.Expenses == nil {
			return false, "", fmt.Errorf("sync: expense source is required")
		}
		expense, err := o.Expenses.Get(ctx, entityID)
		if err != nil {
			if isMissingEntity(err) {
				return false, "", nil
			}
			return false, "", err
		}
		return true, expenseDescription(expense), nil
	}
}

func isMissingEntity(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "no rows")
}

func expenseDescription(expense core.Expense) string {
	description := strings.TrimSpace(expense.Description)
	if description != "" {
		return description
	}
	return fmt.Sprintf("%s expense on %s", expense.Category, expense.Date.Format("2006-01-02"))
}

func invoiceDescription(invoice core.Invoice) string {
	number := strings.TrimSpace(invoice.Number)
	if number != "" {
		return fmt.Sprintf("invoice %s", number)
	}
	return fmt.Sprintf("invoice for %s", strings.TrimSpace(invoice.CustomerName))
}

func (o *Orchestrator) requireConnection(ctx context.Context, ownerID string) (core.Connection, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return core.Connection{}, fmt.Errorf("sync: owner id is required")
	}
	connection, err := o.Connections.GetByOwner(ctx, ownerID)
	if err != nil {
		return core.Connection{}, err
	}
	if connection.Status != core.ConnectionStatusActive {
		return core.Connection{}, fmt.Errorf("sync: connection for owner %s is not connected", ownerID)
	}
	return connection, nil
}

func (o *Orchestrator) validate() error {
	if o == nil {
		return fmt.Errorf("sync: orchestrator is nil")
	}
	if o.Executor == nil {
		return fmt.Errorf("sync: entity executor is required")
	}
	if o.Connections == nil || o.Records == nil || o.History == nil {
		return fmt.Errorf("sync: connection, record and history stores are required")
	}
	return nil
}

func (o *Orchestrator) sleep(ctx context.Context) error {
	if o.Sleep == nil {
		return sleepContext(ctx, o.PacingDelay)
	}
	return o.Sleep(ctx, o.PacingDelay)
}

func (o *Orchestrator) logError(message string, fields map[string]any) {
	if o == nil || o.Logger == nil {
		return
	}
	o.Logger.Error(message, flatten(fields)...)
}

func flatten(fields map[string]any) []any {
	out := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		out = append(out, key, value)
	}
	return out
}
