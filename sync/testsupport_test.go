package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-booksync/core"
)

var testEpoch = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type fakeExecutor struct {
	mu       sync.Mutex
	calls    []string
	failIDs  map[string]string
	external map[string]string
	errByID  map[string]error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		failIDs:  map[string]string{},
		external: map[string]string{},
		errByID:  map[string]error{},
	}
}

func (e *fakeExecutor) deliver(entityType core.EntityType, id string) (core.SyncOutcome, error) {
	e.mu.Lock()
	e.calls = append(e.calls, id)
	e.mu.Unlock()

	if err, ok := e.errByID[id]; ok {
		return core.SyncOutcome{EntityID: id, EntityType: entityType}, err
	}
	if reason, ok := e.failIDs[id]; ok {
		return core.SyncOutcome{
			EntityID:   id,
			EntityType: entityType,
			Status:     core.SyncRecordStatusFailed,
			Error:      reason,
		}, fmt.Errorf("sync failed: %s", reason)
	}
	external := e.external[id]
	if external == "" {
		external = "ext-" + id
	}
	return core.SyncOutcome{
		EntityID:   id,
		EntityType: entityType,
		Status:     core.SyncRecordStatusSynced,
		ExternalID: external,
	}, nil
}

func (e *fakeExecutor) SyncExpense(_ context.Context, _ string, expenseID string) (core.SyncOutcome, error) {
	return e.deliver(core.EntityTypeExpense, expenseID)
}

func (e *fakeExecutor) SyncInvoice(_ context.Context, _ string, invoiceID string) (core.SyncOutcome, error) {
	return e.deliver(core.EntityTypeInvoice, invoiceID)
}

type fakeConnectionStore struct {
	byOwner     map[string]core.Connection
	autoSync    []core.Connection
	stamped     map[string]time.Time
	listErr     error
	getOwnerErr error
}

func newFakeConnectionStore() *fakeConnectionStore {
	return &fakeConnectionStore{
		byOwner: map[string]core.Connection{},
		stamped: map[string]time.Time{},
	}
}

func (s *fakeConnectionStore) Upsert(_ context.Context, connection core.Connection) (core.Connection, error) {
	s.byOwner[connection.OwnerID] = connection
	return connection, nil
}

func (s *fakeConnectionStore) Get(_ context.Context, id string) (core.Connection, error) {
	for _, connection := range s.byOwner {
		if connection.ID == id {
			return connection, nil
		}
	}
	return core.Connection{}, core.ErrConnectionNotFound
}

func (s *fakeConnectionStore) GetByOwner(_ context.Context, ownerID string) (core.Connection, error) {
	if s.getOwnerErr != nil {
		return core.Connection{}, s.getOwnerErr
	}
	connection, ok := s.byOwner[ownerID]
	if !ok {
		return core.Connection{}, core.ErrConnectionNotFound
	}
	return connection, nil
}

func (s *fakeConnectionStore) Update(_ context.Context, connection core.Connection) (core.Connection, error) {
	s.byOwner[connection.OwnerID] = connection
	return connection, nil
}

func (s *fakeConnectionStore) UpdateStatus(_ context.Context, id string, status core.ConnectionStatus, reason string) error {
	for owner, connection := range s.byOwner {
		if connection.ID == id {
			connection.Status = status
			connection.LastError = reason
			s.byOwner[owner] = connection
		}
	}
	return nil
}

func (s *fakeConnectionStore) UpdatePaymentAccount(_ context.Context, id string, class core.PaymentClass, accountID, accountName string) error {
	for owner, connection := range s.byOwner {
		if connection.ID == id {
			if class == core.PaymentClassCreditCard {
				connection.CreditCardAccountID = accountID
				connection.CreditCardAccountName = accountName
			} else {
				connection.BankAccountID = accountID
				connection.BankAccountName = accountName
			}
			s.byOwner[owner] = connection
		}
	}
	return nil
}

func (s *fakeConnectionStore) StampLastSynced(_ context.Context, id string, at time.Time) error {
	s.stamped[id] = at
	return nil
}

func (s *fakeConnectionStore) ListAutoSync(context.Context) ([]core.Connection, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.autoSync, nil
}

func (s *fakeConnectionStore) Delete(_ context.Context, id string) error {
	for owner, connection := range s.byOwner {
		if connection.ID == id {
			delete(s.byOwner, owner)
		}
	}
	return nil
}

type fakeRecordStore struct {
	synced map[string]struct{}
	failed []core.SyncRecord
}

func (s *fakeRecordStore) Upsert(_ context.Context, record core.SyncRecord) (core.SyncRecord, error) {
	return record, nil
}

func (s *fakeRecordStore) Get(context.Context, string, core.EntityType, string) (core.SyncRecord, error) {
	return core.SyncRecord{}, fmt.Errorf("sync record not found")
}

func (s *fakeRecordStore) ListByStatus(_ context.Context, _ string, entityType core.EntityType, status core.SyncRecordStatus) ([]core.SyncRecord, error) {
	if status != core.SyncRecordStatusFailed {
		return nil, nil
	}
	var out []core.SyncRecord
	for _, record := range s.failed {
		if record.EntityType == entityType {
			out = append(out, record)
		}
	}
	return out, nil
}

func (s *fakeRecordStore) SyncedEntityIDs(context.Context, string, core.EntityType) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	for id := range s.synced {
		out[id] = struct{}{}
	}
	return out, nil
}

type fakeHistoryStore struct {
	mu      sync.Mutex
	seq     int
	rows    map[string]core.SyncHistory
	started []core.SyncHistory
}

func newFakeHistoryStore() *fakeHistoryStore {
	return &fakeHistoryStore{rows: map[string]core.SyncHistory{}}
}

func (s *fakeHistoryStore) Create(_ context.Context, history core.SyncHistory) (core.SyncHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if history.ID == "" {
		history.ID = fmt.Sprintf("run-%d", s.seq)
	}
	s.rows[history.ID] = history
	return history, nil
}

func (s *fakeHistoryStore) Update(_ context.Context, history core.SyncHistory) (core.SyncHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[history.ID]; !ok {
		return core.SyncHistory{}, fmt.Errorf("sync history not found")
	}
	s.rows[history.ID] = history
	return history, nil
}

func (s *fakeHistoryStore) Get(_ context.Context, id string) (core.SyncHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history, ok := s.rows[id]
	if !ok {
		return core.SyncHistory{}, fmt.Errorf("sync history not found")
	}
	return history, nil
}

func (s *fakeHistoryStore) List(context.Context, string, int) ([]core.SyncHistory, error) {
	return nil, nil
}

func (s *fakeHistoryStore) FindStarted(context.Context, string) ([]core.SyncHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.started) > 0 {
		return s.started, nil
	}
	var out []core.SyncHistory
	for _, history := range s.rows {
		if history.Status == core.SyncRunStatusStarted {
			out = append(out, history)
		}
	}
	return out, nil
}

type fakeExpenseSource struct {
	expenses []core.Expense
}

func (s *fakeExpenseSource) ListByOwner(_ context.Context, ownerID string, _ core.EntityFilters) ([]core.Expense, error) {
	var out []core.Expense
	for _, expense := range s.expenses {
		if expense.OwnerID == ownerID {
			out = append(out, expense)
		}
	}
	return out, nil
}

func (s *fakeExpenseSource) Get(_ context.Context, id string) (core.Expense, error) {
	for _, expense := range s.expenses {
		if expense.ID == id {
			return expense, nil
		}
	}
	return core.Expense{}, fmt.Errorf("expense not found")
}

type fakeInvoiceSource struct {
	invoices []core.Invoice
}

func (s *fakeInvoiceSource) ListByOwner(_ context.Context, ownerID string, _ core.EntityFilters) ([]core.Invoice, error) {
	var out []core.Invoice
	for _, invoice := range s.invoices {
		if invoice.OwnerID == ownerID {
			out = append(out, invoice)
		}
	}
	return out, nil
}

func (s *fakeInvoiceSource) Get(_ context.Context, id string) (core.Invoice, error) {
	for _, invoice := range s.invoices {
		if invoice.ID == id {
			return invoice, nil
		}
	}
	return core.Invoice{}, fmt.Errorf("invoice not found")
}

type orchestratorEnv struct {
	orchestrator *Orchestrator
	executor     *fakeExecutor
	connections  *fakeConnectionStore
	records      *fakeRecordStore
	history      *fakeHistoryStore
	expenses     *fakeExpenseSource
	invoices     *fakeInvoiceSource
	sleeps       []time.Duration
}

func newOrchestratorEnv() *orchestratorEnv {
	env := &orchestratorEnv{
		executor:    newFakeExecutor(),
		connections: newFakeConnectionStore(),
		records:     &fakeRecordStore{synced: map[string]struct{}{}},
		history:     newFakeHistoryStore(),
		expenses:    &fakeExpenseSource{},
		invoices:    &fakeInvoiceSource{},
	}
	env.orchestrator = NewOrchestrator(
		env.executor,
		env.connections,
		env.records,
		env.history,
		env.expenses,
		env.invoices,
		500*time.Millisecond,
	)
	env.orchestrator.Now = func() time.Time { return testEpoch }
	env.orchestrator.Sleep = func(_ context.Context, d time.Duration) error {
		env.sleeps = append(env.sleeps, d)
		return nil
	}
	return env
}

func (e *orchestratorEnv) seedConnection(ownerID string) core.Connection {
	connection := core.Connection{
		ID:      "conn-" + ownerID,
		OwnerID: ownerID,
		RealmID: "realm-" + ownerID,
		Status:  core.ConnectionStatusActive,
	}
	e.connections.byOwner[ownerID] = connection
	return connection
}

func (e *orchestratorEnv) seedExpense(id, ownerID string, date time.Time) {
	e.expenses.expenses = append(e.expenses.expenses, core.Expense{
		ID:       id,
		OwnerID:  ownerID,
		Category: core.CategoryFuel,
		Date:     date,
	})
}

func (e *orchestratorEnv) seedInvoice(id, ownerID string, date time.Time) {
	e.invoices.invoices = append(e.invoices.invoices, core.Invoice{
		ID:           id,
		OwnerID:      ownerID,
		Number:       "INV-" + id,
		CustomerName: "Customer " + id,
		Date:         date,
	})
}
