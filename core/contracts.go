package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/shopspring/decimal"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// ConnectionStore persists the one-connection-per-owner OAuth link.
type ConnectionStore interface {
	Upsert(ctx context.Context, connection Connection) (Connection, error)
	Get(ctx context.Context, id string) (Connection, error)
	GetByOwner(ctx context.Context, ownerID string) (Connection, error)
	Update(ctx context.Context, connection Connection) (Connection, error)
	UpdateStatus(ctx context.Context, id string, status ConnectionStatus, reason string) error
	StampLastSynced(ctx context.Context, id string, at time.Time) error
	// UpdatePaymentAccount caches the resolved payment account for the
	// class. Narrow by design: callers may hold a connection snapshot
	// whose tokens have rotated since the read, so a full-row write here
	// could persist a spent refresh token.
	UpdatePaymentAccount(ctx context.Context, id string, class PaymentClass, accountID, accountName string) error
	// ListAutoSync returns active connections with either auto-sync flag
	// enabled, for the background dispatcher.
	ListAutoSync(ctx context.Context) ([]Connection, error)
	// Delete hard-deletes the connection and cascades mappings and
	// sync records.
	Delete(ctx context.Context, id string) error
}

type CategoryMappingStore interface {
	Upsert(ctx context.Context, mapping CategoryMapping) (CategoryMapping, error)
	GetByCategory(ctx context.Context, connectionID string, category ExpenseCategory) (CategoryMapping, error)
	ListByConnection(ctx context.Context, connectionID string) ([]CategoryMapping, error)
	Delete(ctx context.Context, connectionID string, category ExpenseCategory) error
}

type SyncRecordStore interface {
	// Upsert writes the attempt outcome keyed on
	// (connection, entity type, entity id).
	Upsert(ctx context.Context, record SyncRecord) (SyncRecord, error)
	Get(ctx context.Context, connectionID string, entityType EntityType, entityID string) (SyncRecord, error)
	ListByStatus(ctx context.Context, connectionID string, entityType EntityType, status SyncRecordStatus) ([]SyncRecord, error)
	// SyncedEntityIDs returns the ids already delivered for the
	// connection and entity type, for cheap bulk-run exclusion.
	SyncedEntityIDs(ctx context.Context, connectionID string, entityType EntityType) (map[string]struct{}, error)
}

type SyncHistoryStore interface {
	Create(ctx context.Context, history SyncHistory) (SyncHistory, error)
	Update(ctx context.Context, history SyncHistory) (SyncHistory, error)
	Get(ctx context.Context, id string) (SyncHistory, error)
	List(ctx context.Context, connectionID string, limit int) ([]SyncHistory, error)
	// FindStarted returns runs still open for the connection, used to
	// guard against overlapping bulk runs.
	FindStarted(ctx context.Context, connectionID string) ([]SyncHistory, error)
}

// EntityFilters narrows bulk-run candidate selection. Zero value selects
// everything owned by the owner.
type EntityFilters struct {
	IDs        []string
	Categories []ExpenseCategory
	From       *time.Time
	To         *time.Time
}

// ExpenseSource reads host-application expenses. The host owns these rows;
// the engine never writes them.
type ExpenseSource interface {
	ListByOwner(ctx context.Context, ownerID string, filters EntityFilters) ([]Expense, error)
	Get(ctx context.Context, id string) (Expense, error)
}

type InvoiceSource interface {
	ListByOwner(ctx context.Context, ownerID string, filters EntityFilters) ([]Invoice, error)
	Get(ctx context.Context, id string) (Invoice, error)
}

// TokenPair is the provider-issued credential set for one connection.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

type CompanyInfo struct {
	RealmID string
	Name    string
	Country string
}

// AccountClass filters chart-of-accounts queries.
type AccountClass string

const (
	AccountClassExpense    AccountClass = "Expense"
	AccountClassBank       AccountClass = "Bank"
	AccountClassCreditCard AccountClass = "CreditCard"
)

// Account is one external chart-of-accounts entry.
type Account struct {
	ID      string
	Name    string
	Type    string
	SubType string
	Active  bool
}

// PurchaseLine is one expense line against a category account.
type PurchaseLine struct {
	AccountID   string
	Description string
	Amount      decimal.Decimal
}

// CreatePurchaseRequest is the typed payload for one expense push.
type CreatePurchaseRequest struct {
	PaymentAccountID string
	PaymentType      PaymentClass
	Date             time.Time
	Total            decimal.Decimal
	PrivateNote      string
	Vendor           string
	Lines            []PurchaseLine
}

type Purchase struct {
	ID          string
	DocNumber   string
	PrivateNote string
}

type Customer struct {
	ID          string
	DisplayName string
}

type CreateInvoiceLine struct {
	Description string
	Quantity    decimal.Decimal
	Rate        decimal.Decimal
	Amount      decimal.Decimal
}

type CreateInvoiceRequest struct {
	CustomerID  string
	DocNumber   string
	Date        time.Time
	DueDate     *time.Time
	Lines       []CreateInvoiceLine
	PrivateNote string
}

type InvoiceRef struct {
	ID        string
	DocNumber string
}

// ProviderClient is the uniform client for the external accounting API:
// one method per provider operation, each returning a typed result or an
// error classified by the providers package. Retry and backoff live above
// this interface, not inside it.
type ProviderClient interface {
	AuthorizeURL(redirectURI string, state string) string
	ExchangeCode(ctx context.Context, code string, redirectURI string) (TokenPair, error)
	RefreshTokens(ctx context.Context, refreshToken string) (TokenPair, error)
	RevokeToken(ctx context.Context, refreshToken string) error

	GetCompanyInfo(ctx context.Context, auth ProviderAuth) (CompanyInfo, error)
	QueryAccounts(ctx context.Context, auth ProviderAuth, class AccountClass) ([]Account, error)
	CreatePurchase(ctx context.Context, auth ProviderAuth, req CreatePurchaseRequest) (Purchase, error)
	FindPurchaseByPrivateNote(ctx context.Context, auth ProviderAuth, note string) (Purchase, bool, error)
	FindCustomerByName(ctx context.Context, auth ProviderAuth, name string) (Customer, bool, error)
	CreateCustomer(ctx context.Context, auth ProviderAuth, name string) (Customer, error)
	CreateInvoice(ctx context.Context, auth ProviderAuth, req CreateInvoiceRequest) (InvoiceRef, error)
}

// ProviderAuth carries the per-call credential context for REST operations.
type ProviderAuth struct {
	RealmID     string
	AccessToken string
}

type LockHandle interface {
	Unlock(ctx context.Context) error
}

// ConnectionLocker serializes mutating work per connection, most
// importantly token refresh where refresh tokens rotate on use.
type ConnectionLocker interface {
	Acquire(ctx context.Context, connectionID string, ttl time.Duration) (LockHandle, error)
}

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
