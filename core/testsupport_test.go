package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Shared in-memory fakes for service-level tests. Stores mimic the sqlstore
// contracts closely enough to exercise upsert-by-owner and idempotency-key
// semantics without a database.

var testEpoch = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type memConnectionStore struct {
	mu        sync.Mutex
	seq       int
	rows      map[string]Connection
	updateErr error
}

func newMemConnectionStore() *memConnectionStore {
	return &memConnectionStore{rows: map[string]Connection{}}
}

func (s *memConnectionStore) Upsert(_ context.Context, connection Connection) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.rows {
		if existing.OwnerID == connection.OwnerID {
			connection.ID = id
			connection.CreatedAt = existing.CreatedAt
			s.rows[id] = connection
			return connection, nil
		}
	}
	s.seq++
	connection.ID = fmt.Sprintf("conn-%d", s.seq)
	if connection.CreatedAt.IsZero() {
		connection.CreatedAt = connection.UpdatedAt
	}
	s.rows[connection.ID] = connection
	return connection, nil
}

func (s *memConnectionStore) Get(_ context.Context, id string) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	connection, ok := s.rows[id]
	if !ok {
		return Connection{}, ErrConnectionNotFound
	}
	return connection, nil
}

func (s *memConnectionStore) GetByOwner(_ context.Context, ownerID string) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, connection := range s.rows {
		if connection.OwnerID == ownerID {
			return connection, nil
		}
	}
	return Connection{}, ErrConnectionNotFound
}

func (s *memConnectionStore) Update(_ context.Context, connection Connection) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return Connection{}, s.updateErr
	}
	if _, ok := s.rows[connection.ID]; !ok {
		return Connection{}, ErrConnectionNotFound
	}
	s.rows[connection.ID] = connection
	return connection, nil
}

func (s *memConnectionStore) UpdateStatus(_ context.Context, id string, status ConnectionStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	connection, ok := s.rows[id]
	if !ok {
		return ErrConnectionNotFound
	}
	connection.Status = status
	connection.LastError = reason
	s.rows[id] = connection
	return nil
}

func (s *memConnectionStore) StampLastSynced(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	connection, ok := s.rows[id]
	if !ok {
		return ErrConnectionNotFound
	}
	stamped := at
	connection.LastSyncedAt = &stamped
	s.rows[id] = connection
	return nil
}

func (s *memConnectionStore) UpdatePaymentAccount(_ context.Context, id string, class PaymentClass, accountID, accountName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	connection, ok := s.rows[id]
	if !ok {
		return ErrConnectionNotFound
	}
	switch class {
	case PaymentClassCreditCard:
		connection.CreditCardAccountID = accountID
		connection.CreditCardAccountName = accountName
	default:
		connection.BankAccountID = accountID
		connection.BankAccountName = accountName
	}
	s.rows[id] = connection
	return nil
}

func (s *memConnectionStore) ListAutoSync(_ context.Context) ([]Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Connection
	for _, connection := range s.rows {
		if connection.Status == ConnectionStatusActive && (connection.AutoSyncExpenses || connection.AutoSyncInvoices) {
			out = append(out, connection)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memConnectionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

type memMappingStore struct {
	mu     sync.Mutex
	seq    int
	rows   map[string]CategoryMapping
	getErr error
}

func newMemMappingStore() *memMappingStore {
	return &memMappingStore{rows: map[string]CategoryMapping{}}
}

func mappingKey(connectionID string, category ExpenseCategory) string {
	return connectionID + "|" + string(category)
}

func (s *memMappingStore) Upsert(_ context.Context, mapping CategoryMapping) (CategoryMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := mappingKey(mapping.ConnectionID, mapping.Category)
	if existing, ok := s.rows[key]; ok {
		mapping.ID = existing.ID
		mapping.CreatedAt = existing.CreatedAt
	} else {
		s.seq++
		mapping.ID = fmt.Sprintf("map-%d", s.seq)
		mapping.CreatedAt = mapping.UpdatedAt
	}
	s.rows[key] = mapping
	return mapping, nil
}

func (s *memMappingStore) GetByCategory(_ context.Context, connectionID string, category ExpenseCategory) (CategoryMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return CategoryMapping{}, s.getErr
	}
	mapping, ok := s.rows[mappingKey(connectionID, category)]
	if !ok {
		return CategoryMapping{}, fmt.Errorf("core: category mapping not found")
	}
	return mapping, nil
}

func (s *memMappingStore) ListByConnection(_ context.Context, connectionID string) ([]CategoryMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CategoryMapping
	for _, mapping := range s.rows {
		if mapping.ConnectionID == connectionID {
			out = append(out, mapping)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

func (s *memMappingStore) Delete(_ context.Context, connectionID string, category ExpenseCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, mappingKey(connectionID, category))
	return nil
}

type memSyncRecordStore struct {
	mu   sync.Mutex
	seq  int
	rows map[string]SyncRecord
}

func newMemSyncRecordStore() *memSyncRecordStore {
	return &memSyncRecordStore{rows: map[string]SyncRecord{}}
}

func recordKey(connectionID string, entityType EntityType, entityID string) string {
	return connectionID + "|" + string(entityType) + "|" + entityID
}

func (s *memSyncRecordStore) Upsert(_ context.Context, record SyncRecord) (SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(record.ConnectionID, record.EntityType, record.EntityID)
	if existing, ok := s.rows[key]; ok {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
	} else if record.ID == "" {
		s.seq++
		record.ID = fmt.Sprintf("rec-%d", s.seq)
	}
	s.rows[key] = record
	return record, nil
}

func (s *memSyncRecordStore) Get(_ context.Context, connectionID string, entityType EntityType, entityID string) (SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.rows[recordKey(connectionID, entityType, entityID)]
	if !ok {
		return SyncRecord{}, fmt.Errorf("core: sync record not found")
	}
	return record, nil
}

func (s *memSyncRecordStore) ListByStatus(_ context.Context, connectionID string, entityType EntityType, status SyncRecordStatus) ([]SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SyncRecord
	for _, record := range s.rows {
		if record.ConnectionID == connectionID && record.EntityType == entityType && record.Status == status {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

func (s *memSyncRecordStore) SyncedEntityIDs(_ context.Context, connectionID string, entityType EntityType) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]struct{}{}
	for _, record := range s.rows {
		if record.ConnectionID == connectionID && record.EntityType == entityType && record.Status == SyncRecordStatusSynced {
			out[record.EntityID] = struct{}{}
		}
	}
	return out, nil
}

type memHistoryStore struct {
	mu        sync.Mutex
	seq       int
	rows      map[string]SyncHistory
	lastLimit int
}

func newMemHistoryStore() *memHistoryStore {
	return &memHistoryStore{rows: map[string]SyncHistory{}}
}

func (s *memHistoryStore) Create(_ context.Context, history SyncHistory) (SyncHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	history.ID = fmt.Sprintf("run-%d", s.seq)
	s.rows[history.ID] = history
	return history, nil
}

func (s *memHistoryStore) Update(_ context.Context, history SyncHistory) (SyncHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[history.ID]; !ok {
		return SyncHistory{}, fmt.Errorf("core: sync history not found")
	}
	s.rows[history.ID] = history
	return history, nil
}

func (s *memHistoryStore) Get(_ context.Context, id string) (SyncHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history, ok := s.rows[id]
	if !ok {
		return SyncHistory{}, fmt.Errorf("core: sync history not found")
	}
	return history, nil
}

func (s *memHistoryStore) List(_ context.Context, connectionID string, limit int) ([]SyncHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLimit = limit
	var out []SyncHistory
	for _, history := range s.rows {
		if history.ConnectionID == connectionID {
			out = append(out, history)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memHistoryStore) FindStarted(_ context.Context, connectionID string) ([]SyncHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SyncHistory
	for _, history := range s.rows {
		if history.ConnectionID == connectionID && history.Status == SyncRunStatusStarted {
			out = append(out, history)
		}
	}
	return out, nil
}

// fakeProviderClient delegates to fn fields; unset fields return benign
// zero values so tests only wire the calls they care about.
type fakeProviderClient struct {
	authorizeURLFn   func(redirectURI, state string) string
	exchangeCodeFn   func(ctx context.Context, code, redirectURI string) (TokenPair, error)
	refreshTokensFn  func(ctx context.Context, refreshToken string) (TokenPair, error)
	revokeTokenFn    func(ctx context.Context, refreshToken string) error
	companyInfoFn    func(ctx context.Context, auth ProviderAuth) (CompanyInfo, error)
	queryAccountsFn  func(ctx context.Context, auth ProviderAuth, class AccountClass) ([]Account, error)
	createPurchaseFn func(ctx context.Context, auth ProviderAuth, req CreatePurchaseRequest) (Purchase, error)
	findPurchaseFn   func(ctx context.Context, auth ProviderAuth, note string) (Purchase, bool, error)
	findCustomerFn   func(ctx context.Context, auth ProviderAuth, name string) (Customer, bool, error)
	createCustomerFn func(ctx context.Context, auth ProviderAuth, name string) (Customer, error)
	createInvoiceFn  func(ctx context.Context, auth ProviderAuth, req CreateInvoiceRequest) (InvoiceRef, error)
}

func (c *fakeProviderClient) AuthorizeURL(redirectURI, state string) string {
	if c.authorizeURLFn != nil {
		return c.authorizeURLFn(redirectURI, state)
	}
	return "https://auth.test/authorize?state=" + state
}

func (c *fakeProviderClient) ExchangeCode(ctx context.Context, code, redirectURI string) (TokenPair, error) {
	if c.exchangeCodeFn != nil {
		return c.exchangeCodeFn(ctx, code, redirectURI)
	}
	return TokenPair{}, nil
}

func (c *fakeProviderClient) RefreshTokens(ctx context.Context, refreshToken string) (TokenPair, error) {
	if c.refreshTokensFn != nil {
		return c.refreshTokensFn(ctx, refreshToken)
	}
	return TokenPair{}, nil
}

func (c *fakeProviderClient) RevokeToken(ctx context.Context, refreshToken string) error {
	if c.revokeTokenFn != nil {
		return c.revokeTokenFn(ctx, refreshToken)
	}
	return nil
}

func (c *fakeProviderClient) GetCompanyInfo(ctx context.Context, auth ProviderAuth) (CompanyInfo, error) {
	if c.companyInfoFn != nil {
		return c.companyInfoFn(ctx, auth)
	}
	return CompanyInfo{}, nil
}

func (c *fakeProviderClient) QueryAccounts(ctx context.Context, auth ProviderAuth, class AccountClass) ([]Account, error) {
	if c.queryAccountsFn != nil {
		return c.queryAccountsFn(ctx, auth, class)
	}
	return nil, nil
}

func (c *fakeProviderClient) CreatePurchase(ctx context.Context, auth ProviderAuth, req CreatePurchaseRequest) (Purchase, error) {
	if c.createPurchaseFn != nil {
		return c.createPurchaseFn(ctx, auth, req)
	}
	return Purchase{}, nil
}

func (c *fakeProviderClient) FindPurchaseByPrivateNote(ctx context.Context, auth ProviderAuth, note string) (Purchase, bool, error) {
	if c.findPurchaseFn != nil {
		return c.findPurchaseFn(ctx, auth, note)
	}
	return Purchase{}, false, nil
}

func (c *fakeProviderClient) FindCustomerByName(ctx context.Context, auth ProviderAuth, name string) (Customer, bool, error) {
	if c.findCustomerFn != nil {
		return c.findCustomerFn(ctx, auth, name)
	}
	return Customer{}, false, nil
}

func (c *fakeProviderClient) CreateCustomer(ctx context.Context, auth ProviderAuth, name string) (Customer, error) {
	if c.createCustomerFn != nil {
		return c.createCustomerFn(ctx, auth, name)
	}
	return Customer{}, nil
}

func (c *fakeProviderClient) CreateInvoice(ctx context.Context, auth ProviderAuth, req CreateInvoiceRequest) (InvoiceRef, error) {
	if c.createInvoiceFn != nil {
		return c.createInvoiceFn(ctx, auth, req)
	}
	return InvoiceRef{}, nil
}

type stubExpenseSource struct {
	byID    map[string]Expense
	byOwner map[string][]Expense
}

func (s *stubExpenseSource) ListByOwner(_ context.Context, ownerID string, _ EntityFilters) ([]Expense, error) {
	return s.byOwner[ownerID], nil
}

func (s *stubExpenseSource) Get(_ context.Context, id string) (Expense, error) {
	expense, ok := s.byID[id]
	if !ok {
		return Expense{}, fmt.Errorf("core: expense not found")
	}
	return expense, nil
}

type stubInvoiceSource struct {
	byID    map[string]Invoice
	byOwner map[string][]Invoice
}

func (s *stubInvoiceSource) ListByOwner(_ context.Context, ownerID string, _ EntityFilters) ([]Invoice, error) {
	return s.byOwner[ownerID], nil
}

func (s *stubInvoiceSource) Get(_ context.Context, id string) (Invoice, error) {
	invoice, ok := s.byID[id]
	if !ok {
		return Invoice{}, fmt.Errorf("core: invoice not found")
	}
	return invoice, nil
}

type testEnv struct {
	svc         *Service
	connections *memConnectionStore
	mappings    *memMappingStore
	records     *memSyncRecordStore
	history     *memHistoryStore
	expenses    *stubExpenseSource
	invoices    *stubInvoiceSource
	client      *fakeProviderClient
}

func newTestEnv() *testEnv {
	env := &testEnv{
		connections: newMemConnectionStore(),
		mappings:    newMemMappingStore(),
		records:     newMemSyncRecordStore(),
		history:     newMemHistoryStore(),
		expenses:    &stubExpenseSource{byID: map[string]Expense{}, byOwner: map[string][]Expense{}},
		invoices:    &stubInvoiceSource{byID: map[string]Invoice{}, byOwner: map[string][]Invoice{}},
		client:      &fakeProviderClient{},
	}
	clock := func() time.Time { return testEpoch }
	codec, err := NewStateCodec("test-state-secret", 10*time.Minute)
	if err != nil {
		panic(err)
	}
	codec.Now = clock
	stateStore := NewMemoryOAuthStateStore()
	stateStore.Now = clock

	env.svc = &Service{
		config:           DefaultConfig(),
		metricsRecorder:  NopMetricsRecorder{},
		errorMapper:      defaultErrorMapper,
		stateCodec:       codec,
		stateStore:       stateStore,
		connectionLocker: NewMemoryConnectionLocker(),
		client:           env.client,
		connectionStore:  env.connections,
		mappingStore:     env.mappings,
		syncRecordStore:  env.records,
		syncHistoryStore: env.history,
		expenseSource:    env.expenses,
		invoiceSource:    env.invoices,
		now:              clock,
	}
	return env
}

// seedConnection inserts an active connection with tokens valid for one
// hour past the test clock.
func (e *testEnv) seedConnection(ownerID string) Connection {
	expires := testEpoch.Add(time.Hour)
	connection, err := e.connections.Upsert(context.Background(), Connection{
		OwnerID:        ownerID,
		RealmID:        "realm-" + ownerID,
		CompanyName:    "Test Company",
		Status:         ConnectionStatusActive,
		AccessToken:    "access-" + ownerID,
		RefreshToken:   "refresh-" + ownerID,
		TokenExpiresAt: &expires,
		UpdatedAt:      testEpoch,
	})
	if err != nil {
		panic(err)
	}
	return connection
}

func textCodeOf(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return strings.TrimSpace(rich.TextCode)
	}
	return ""
}
