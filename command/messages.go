package command

import (
	"strings"

	"github.com/goliatone/go-booksync/core"
)

const (
	TypeConnect           = "booksync.command.connect"
	TypeCompleteCallback  = "booksync.command.callback.complete"
	TypeDisconnect        = "booksync.command.disconnect"
	TypeDeleteConnection  = "booksync.command.connection.delete"
	TypeAutoMapCategories = "booksync.command.mappings.auto_map"
	TypeUpsertMapping     = "booksync.command.mappings.upsert"
	TypeDeleteMapping     = "booksync.command.mappings.delete"
	TypeSyncExpense       = "booksync.command.sync.expense"
	TypeSyncInvoice       = "booksync.command.sync.invoice"
	TypeBulkSyncExpenses  = "booksync.command.sync.expenses.bulk"
	TypeBulkSyncInvoices  = "booksync.command.sync.invoices.bulk"
	TypeRetryFailedSyncs  = "booksync.command.sync.retry"
)

type ConnectMessage struct {
	Request core.ConnectRequest
}

func (ConnectMessage) Type() string { return TypeConnect }

func (m ConnectMessage) Validate() error {
	if strings.TrimSpace(m.Request.OwnerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	return nil
}

type CompleteCallbackMessage struct {
	Request core.CompleteCallbackRequest
}

func (CompleteCallbackMessage) Type() string { return TypeCompleteCallback }

func (m CompleteCallbackMessage) Validate() error {
	if strings.TrimSpace(m.Request.Code) == "" {
		return commandValidationError("code", "authorization code is required")
	}
	if strings.TrimSpace(m.Request.State) == "" {
		return commandValidationError("state", "state is required")
	}
	return nil
}

type DisconnectMessage struct {
	OwnerID string
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	return nil
}

type DeleteConnectionMessage struct {
	OwnerID string
}

func (DeleteConnectionMessage) Type() string { return TypeDeleteConnection }

func (m DeleteConnectionMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	return nil
}

type AutoMapCategoriesMessage struct {
	OwnerID string
}

func (AutoMapCategoriesMessage) Type() string { return TypeAutoMapCategories }

func (m AutoMapCategoriesMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	return nil
}

type UpsertMappingMessage struct {
	OwnerID     string
	Category    string
	AccountID   string
	AccountName string
}

func (UpsertMappingMessage) Type() string { return TypeUpsertMapping }

func (m UpsertMappingMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	if _, err := core.ParseExpenseCategory(m.Category); err != nil {
		return commandWrapValidation(err, "command: invalid category")
	}
	if strings.TrimSpace(m.AccountID) == "" {
		return commandValidationError("account_id", "account id is required")
	}
	return nil
}

type DeleteMappingMessage struct {
	OwnerID  string
	Category string
}

func (DeleteMappingMessage) Type() string { return TypeDeleteMapping }

func (m DeleteMappingMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	if _, err := core.ParseExpenseCategory(m.Category); err != nil {
		return commandWrapValidation(err, "command: invalid category")
	}
	return nil
}

type SyncExpenseMessage struct {
	OwnerID   string
	ExpenseID string
}

func (SyncExpenseMessage) Type() string { return TypeSyncExpense }

func (m SyncExpenseMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	if strings.TrimSpace(m.ExpenseID) == "" {
		return commandValidationError("expense_id", "expense id is required")
	}
	return nil
}

type SyncInvoiceMessage struct {
	OwnerID   string
	InvoiceID string
}

func (SyncInvoiceMessage) Type() string { return TypeSyncInvoice }

func (m SyncInvoiceMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	if strings.TrimSpace(m.InvoiceID) == "" {
		return commandValidationError("invoice_id", "invoice id is required")
	}
	return nil
}

type BulkSyncExpensesMessage struct {
	OwnerID string
	Filters core.EntityFilters
	RunType core.SyncRunType
}

func (BulkSyncExpensesMessage) Type() string { return TypeBulkSyncExpenses }

func (m BulkSyncExpensesMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	return nil
}

type BulkSyncInvoicesMessage struct {
	OwnerID string
	Filters core.EntityFilters
	RunType core.SyncRunType
}

func (BulkSyncInvoicesMessage) Type() string { return TypeBulkSyncInvoices }

func (m BulkSyncInvoicesMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	return nil
}

type RetryFailedSyncsMessage struct {
	OwnerID    string
	EntityType string
}

func (RetryFailedSyncsMessage) Type() string { return TypeRetryFailedSyncs }

func (m RetryFailedSyncsMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	if _, err := core.ParseEntityType(m.EntityType); err != nil {
		return commandWrapValidation(err, "command: invalid entity type")
	}
	return nil
}
