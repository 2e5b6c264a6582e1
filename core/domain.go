package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidConnectionStatusTransition = errors.New("core: invalid connection status transition")
	ErrInvalidSyncRecordStatusTransition = errors.New("core: invalid sync record status transition")
	ErrInvalidSyncRunStatusTransition    = errors.New("core: invalid sync run status transition")
	ErrInvalidExpenseCategory            = errors.New("core: invalid expense category")
	ErrInvalidEntityType                 = errors.New("core: invalid entity type")
	ErrConnectionNotFound                = errors.New("core: connection not found")
)

type ConnectionStatus string

const (
	ConnectionStatusNotConnected ConnectionStatus = "not_connected"
	ConnectionStatusActive       ConnectionStatus = "active"
	ConnectionStatusTokenExpired ConnectionStatus = "token_expired"
	ConnectionStatusErrored      ConnectionStatus = "errored"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
)

// Connection is the single OAuth link between an owner and one external
// accounting company file. One row per owner, enforced by a unique
// constraint in the schema.
type Connection struct {
	ID          string
	OwnerID     string
	RealmID     string
	CompanyName string
	Status      ConnectionStatus
	LastError   string

	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time

	BankAccountID         string
	BankAccountName       string
	CreditCardAccountID   string
	CreditCardAccountName string

	LastSyncedAt     *time.Time
	AutoSyncExpenses bool
	AutoSyncInvoices bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c *Connection) TransitionTo(status ConnectionStatus, reason string, now time.Time) error {
	if c == nil {
		return nil
	}
	if c.Status == status {
		c.UpdatedAt = now
		if strings.TrimSpace(reason) != "" {
			c.LastError = strings.TrimSpace(reason)
		}
		return nil
	}
	if !connectionTransitionAllowed(c.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidConnectionStatusTransition, c.Status, status)
	}
	c.Status = status
	c.UpdatedAt = now
	if strings.TrimSpace(reason) != "" {
		c.LastError = strings.TrimSpace(reason)
	}
	if status == ConnectionStatusActive {
		c.LastError = ""
	}
	return nil
}

func connectionTransitionAllowed(current, next ConnectionStatus) bool {
	allowed := map[ConnectionStatus]map[ConnectionStatus]struct{}{
		ConnectionStatusNotConnected: {
			ConnectionStatusActive: {},
		},
		ConnectionStatusActive: {
			ConnectionStatusTokenExpired: {},
			ConnectionStatusErrored:      {},
			ConnectionStatusDisconnected: {},
		},
		ConnectionStatusTokenExpired: {
			ConnectionStatusActive:       {},
			ConnectionStatusDisconnected: {},
		},
		ConnectionStatusErrored: {
			ConnectionStatusActive:       {},
			ConnectionStatusTokenExpired: {},
			ConnectionStatusDisconnected: {},
		},
		ConnectionStatusDisconnected: {
			ConnectionStatusActive: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

type ExpenseCategory string

const (
	CategoryFuel        ExpenseCategory = "fuel"
	CategoryMaintenance ExpenseCategory = "maintenance"
	CategoryInsurance   ExpenseCategory = "insurance"
	CategoryTolls       ExpenseCategory = "tolls"
	CategoryOffice      ExpenseCategory = "office"
	CategoryPermits     ExpenseCategory = "permits"
	CategoryMeals       ExpenseCategory = "meals"
	CategoryOther       ExpenseCategory = "other"
)

// ExpenseCategories returns the fixed category set in stable order.
func ExpenseCategories() []ExpenseCategory {
	return []ExpenseCategory{
		CategoryFuel,
		CategoryMaintenance,
		CategoryInsurance,
		CategoryTolls,
		CategoryOffice,
		CategoryPermits,
		CategoryMeals,
		CategoryOther,
	}
}

func ParseExpenseCategory(raw string) (ExpenseCategory, error) {
	normalized := ExpenseCategory(strings.TrimSpace(strings.ToLower(raw)))
	for _, category := range ExpenseCategories() {
		if category == normalized {
			return category, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidExpenseCategory, raw)
}

type MappingSource string

const (
	MappingSourceAuto   MappingSource = "auto"
	MappingSourceManual MappingSource = "manual"
)

// CategoryMapping associates one internal expense category with one external
// chart-of-accounts entry. Unique per (connection, category).
type CategoryMapping struct {
	ID           string
	ConnectionID string
	Category     ExpenseCategory
	AccountID    string
	AccountName  string
	AccountType  string
	Source       MappingSource
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type EntityType string

const (
	EntityTypeExpense EntityType = "expense"
	EntityTypeInvoice EntityType = "invoice"
)

func ParseEntityType(raw string) (EntityType, error) {
	switch EntityType(strings.TrimSpace(strings.ToLower(raw))) {
	case EntityTypeExpense:
		return EntityTypeExpense, nil
	case EntityTypeInvoice:
		return EntityTypeInvoice, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntityType, raw)
}

type SyncRecordStatus string

const (
	SyncRecordStatusPending SyncRecordStatus = "pending"
	SyncRecordStatusSynced  SyncRecordStatus = "synced"
	SyncRecordStatusFailed  SyncRecordStatus = "failed"
)

// SyncRecord is one idempotency ledger row per (connection, entity type,
// entity id). Rows are never deleted; a synced row never regresses.
type SyncRecord struct {
	ID                 string
	ConnectionID       string
	EntityType         EntityType
	EntityID           string
	ExternalEntityID   string
	ExternalEntityType string
	Status             SyncRecordStatus
	Error              string
	LastAttemptAt      time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (r *SyncRecord) TransitionTo(status SyncRecordStatus, now time.Time) error {
	if r == nil {
		return nil
	}
	if r.Status == status && status != SyncRecordStatusFailed {
		r.UpdatedAt = now
		return nil
	}
	if !syncRecordTransitionAllowed(r.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidSyncRecordStatusTransition, r.Status, status)
	}
	r.Status = status
	r.UpdatedAt = now
	if status == SyncRecordStatusSynced {
		r.Error = ""
	}
	return nil
}

func syncRecordTransitionAllowed(current, next SyncRecordStatus) bool {
	allowed := map[SyncRecordStatus]map[SyncRecordStatus]struct{}{
		SyncRecordStatusPending: {
			SyncRecordStatusSynced: {},
			SyncRecordStatusFailed: {},
		},
		SyncRecordStatusFailed: {
			SyncRecordStatusSynced: {},
			SyncRecordStatusFailed: {},
		},
		SyncRecordStatusSynced: {},
	}
	_, ok := allowed[current][next]
	return ok
}

type SyncRunType string

const (
	SyncRunTypeManual SyncRunType = "manual"
	SyncRunTypeBulk   SyncRunType = "bulk"
	SyncRunTypeRetry  SyncRunType = "retry"
	SyncRunTypeAuto   SyncRunType = "auto"
)

type SyncRunStatus string

const (
	SyncRunStatusStarted   SyncRunStatus = "started"
	SyncRunStatusCompleted SyncRunStatus = "completed"
	SyncRunStatusPartial   SyncRunStatus = "partial"
	SyncRunStatusFailed    SyncRunStatus = "failed"
)

// SyncHistory is one append-only audit row per batch or manual run.
type SyncHistory struct {
	ID           string
	ConnectionID string
	RunType      SyncRunType
	EntityTypes  []EntityType
	Status       SyncRunStatus
	SyncedCount  int
	FailedCount  int
	Failures     []SyncFailure
	StartedAt    time.Time
	FinishedAt   *time.Time
}

func (h *SyncHistory) TransitionTo(status SyncRunStatus, now time.Time) error {
	if h == nil {
		return nil
	}
	if h.Status == status {
		return nil
	}
	if !syncRunTransitionAllowed(h.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidSyncRunStatusTransition, h.Status, status)
	}
	h.Status = status
	if status != SyncRunStatusStarted {
		finished := now
		h.FinishedAt = &finished
	}
	return nil
}

func syncRunTransitionAllowed(current, next SyncRunStatus) bool {
	allowed := map[SyncRunStatus]map[SyncRunStatus]struct{}{
		SyncRunStatusStarted: {
			SyncRunStatusCompleted: {},
			SyncRunStatusPartial:   {},
			SyncRunStatusFailed:    {},
		},
		SyncRunStatusCompleted: {},
		SyncRunStatusPartial:   {},
		SyncRunStatusFailed:    {},
	}
	_, ok := allowed[current][next]
	return ok
}

// SyncFailure is one per-entity failure detail returned from a bulk run.
type SyncFailure struct {
	EntityID    string `json:"entity_id"`
	Description string `json:"description"`
	Error       string `json:"error"`
}

type PaymentClass string

const (
	PaymentClassCreditCard PaymentClass = "credit_card"
	PaymentClassBank       PaymentClass = "bank"
)

// ClassifyPaymentMethod buckets a free-form payment method into the account
// class used for the purchase header account. Checks and cash both draw
// from the bank class.
func ClassifyPaymentMethod(method string) PaymentClass {
	normalized := strings.TrimSpace(strings.ToLower(method))
	switch {
	case strings.Contains(normalized, "credit"), strings.Contains(normalized, "card"):
		return PaymentClassCreditCard
	default:
		return PaymentClassBank
	}
}

// Expense is the host-side record pushed as a purchase. Read-only here.
type Expense struct {
	ID            string
	OwnerID       string
	Category      ExpenseCategory
	Amount        decimal.Decimal
	PaymentMethod string
	Date          time.Time
	Description   string
	Vendor        string
}

// InvoiceLine is one billable line on a host invoice.
type InvoiceLine struct {
	Description string
	Quantity    decimal.Decimal
	Rate        decimal.Decimal
	Amount      decimal.Decimal
}

// Invoice is the host-side record pushed as an external invoice.
type Invoice struct {
	ID           string
	OwnerID      string
	Number       string
	CustomerName string
	Date         time.Time
	DueDate      *time.Time
	Lines        []InvoiceLine
	Total        decimal.Decimal
	Memo         string
}
