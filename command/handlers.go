package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-booksync/core"
	enginesync "github.com/goliatone/go-booksync/sync"
)

// ConnectionService covers the connection lifecycle mutations.
type ConnectionService interface {
	Connect(ctx context.Context, req core.ConnectRequest) (core.BeginAuthResponse, error)
	CompleteCallback(ctx context.Context, req core.CompleteCallbackRequest) (core.Connection, error)
	Disconnect(ctx context.Context, ownerID string) error
	DeleteConnection(ctx context.Context, ownerID string) error
}

// MappingService covers category mapping mutations.
type MappingService interface {
	AutoMapCategories(ctx context.Context, ownerID string) (core.AutoMapResult, error)
	UpsertMapping(ctx context.Context, ownerID string, category core.ExpenseCategory, accountID, accountName string) (core.CategoryMapping, error)
	DeleteMapping(ctx context.Context, ownerID string, category core.ExpenseCategory) error
}

// EntitySyncService pushes a single record.
type EntitySyncService interface {
	SyncExpense(ctx context.Context, ownerID, expenseID string) (core.SyncOutcome, error)
	SyncInvoice(ctx context.Context, ownerID, invoiceID string) (core.SyncOutcome, error)
}

// BulkSyncService runs multi-record sync passes.
type BulkSyncService interface {
	BulkSyncExpenses(ctx context.Context, ownerID string, filters core.EntityFilters, runType core.SyncRunType) (enginesync.BulkResult, error)
	BulkSyncInvoices(ctx context.Context, ownerID string, filters core.EntityFilters, runType core.SyncRunType) (enginesync.BulkResult, error)
	RetryFailedSyncs(ctx context.Context, ownerID string, entityType core.EntityType) (enginesync.RetryResult, error)
}

type ConnectCommand struct {
	service ConnectionService
}

func NewConnectCommand(service ConnectionService) *ConnectCommand {
	return &ConnectCommand{service: service}
}

func (c *ConnectCommand) Execute(ctx context.Context, msg ConnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	out, err := c.service.Connect(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteCallbackCommand struct {
	service ConnectionService
}

func NewCompleteCallbackCommand(service ConnectionService) *CompleteCallbackCommand {
	return &CompleteCallbackCommand{service: service}
}

func (c *CompleteCallbackCommand) Execute(ctx context.Context, msg CompleteCallbackMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: callback service is required")
	}
	out, err := c.service.CompleteCallback(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisconnectCommand struct {
	service ConnectionService
}

func NewDisconnectCommand(service ConnectionService) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disconnect service is required")
	}
	return c.service.Disconnect(ctx, msg.OwnerID)
}

type DeleteConnectionCommand struct {
	service ConnectionService
}

func NewDeleteConnectionCommand(service ConnectionService) *DeleteConnectionCommand {
	return &DeleteConnectionCommand{service: service}
}

func (c *DeleteConnectionCommand) Execute(ctx context.Context, msg DeleteConnectionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	return c.service.DeleteConnection(ctx, msg.OwnerID)
}

type AutoMapCategoriesCommand struct {
	service MappingService
}

func NewAutoMapCategoriesCommand(service MappingService) *AutoMapCategoriesCommand {
	return &AutoMapCategoriesCommand{service: service}
}

func (c *AutoMapCategoriesCommand) Execute(ctx context.Context, msg AutoMapCategoriesMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: mapping service is required")
	}
	out, err := c.service.AutoMapCategories(ctx, msg.OwnerID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpsertMappingCommand struct {
	service MappingService
}

func NewUpsertMappingCommand(service MappingService) *UpsertMappingCommand {
	return &UpsertMappingCommand{service: service}
}

func (c *UpsertMappingCommand) Execute(ctx context.Context, msg UpsertMappingMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: mapping service is required")
	}
	category, err := core.ParseExpenseCategory(msg.Category)
	if err != nil {
		return commandWrapValidation(err, "command: invalid category")
	}
	out, err := c.service.UpsertMapping(ctx, msg.OwnerID, category, msg.AccountID, msg.AccountName)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeleteMappingCommand struct {
	service MappingService
}

func NewDeleteMappingCommand(service MappingService) *DeleteMappingCommand {
	return &DeleteMappingCommand{service: service}
}

func (c *DeleteMappingCommand) Execute(ctx context.Context, msg DeleteMappingMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: mapping service is required")
	}
	category, err := core.ParseExpenseCategory(msg.Category)
	if err != nil {
		return commandWrapValidation(err, "command: invalid category")
	}
	return c.service.DeleteMapping(ctx, msg.OwnerID, category)
}

type SyncExpenseCommand struct {
	service EntitySyncService
}

func NewSyncExpenseCommand(service EntitySyncService) *SyncExpenseCommand {
	return &SyncExpenseCommand{service: service}
}

func (c *SyncExpenseCommand) Execute(ctx context.Context, msg SyncExpenseMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	out, err := c.service.SyncExpense(ctx, msg.OwnerID, msg.ExpenseID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SyncInvoiceCommand struct {
	service EntitySyncService
}

func NewSyncInvoiceCommand(service EntitySyncService) *SyncInvoiceCommand {
	return &SyncInvoiceCommand{service: service}
}

func (c *SyncInvoiceCommand) Execute(ctx context.Context, msg SyncInvoiceMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	out, err := c.service.SyncInvoice(ctx, msg.OwnerID, msg.InvoiceID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type BulkSyncExpensesCommand struct {
	service BulkSyncService
}

func NewBulkSyncExpensesCommand(service BulkSyncService) *BulkSyncExpensesCommand {
	return &BulkSyncExpensesCommand{service: service}
}

func (c *BulkSyncExpensesCommand) Execute(ctx context.Context, msg BulkSyncExpensesMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: bulk sync service is required")
	}
	out, err := c.service.BulkSyncExpenses(ctx, msg.OwnerID, msg.Filters, resolveRunType(msg.RunType))
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type BulkSyncInvoicesCommand struct {
	service BulkSyncService
}

func NewBulkSyncInvoicesCommand(service BulkSyncService) *BulkSyncInvoicesCommand {
	return &BulkSyncInvoicesCommand{service: service}
}

func (c *BulkSyncInvoicesCommand) Execute(ctx context.Context, msg BulkSyncInvoicesMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: bulk sync service is required")
	}
	out, err := c.service.BulkSyncInvoices(ctx, msg.OwnerID, msg.Filters, resolveRunType(msg.RunType))
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RetryFailedSyncsCommand struct {
	service BulkSyncService
}

func NewRetryFailedSyncsCommand(service BulkSyncService) *RetryFailedSyncsCommand {
	return &RetryFailedSyncsCommand{service: service}
}

func (c *RetryFailedSyncsCommand) Execute(ctx context.Context, msg RetryFailedSyncsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: bulk sync service is required")
	}
	entityType, err := core.ParseEntityType(msg.EntityType)
	if err != nil {
		return commandWrapValidation(err, "command: invalid entity type")
	}
	out, err := c.service.RetryFailedSyncs(ctx, msg.OwnerID, entityType)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func resolveRunType(runType core.SyncRunType) core.SyncRunType {
	if runType == "" {
		return core.SyncRunTypeBulk
	}
	return runType
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
