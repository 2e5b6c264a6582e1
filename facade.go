package booksync

import (
	"fmt"

	bookcommand "github.com/goliatone/go-booksync/command"
	"github.com/goliatone/go-booksync/core"
	bookquery "github.com/goliatone/go-booksync/query"
)

var _ CommandQueryService = (*core.Service)(nil)

// CommandQueryService is the surface the facade wires handlers around.
// *core.Service satisfies it.
type CommandQueryService interface {
	bookcommand.ConnectionService
	bookcommand.MappingService
	bookcommand.EntitySyncService
	bookquery.ConnectionStatusReader
	bookquery.MappingStatusReader
	bookquery.ExpenseAccountsReader
	bookquery.SyncHistoryReader
	bookquery.SyncStatusReader
}

type Commands struct {
	Connect           *bookcommand.ConnectCommand
	CompleteCallback  *bookcommand.CompleteCallbackCommand
	Disconnect        *bookcommand.DisconnectCommand
	DeleteConnection  *bookcommand.DeleteConnectionCommand
	AutoMapCategories *bookcommand.AutoMapCategoriesCommand
	UpsertMapping     *bookcommand.UpsertMappingCommand
	DeleteMapping     *bookcommand.DeleteMappingCommand
	SyncExpense       *bookcommand.SyncExpenseCommand
	SyncInvoice       *bookcommand.SyncInvoiceCommand
	BulkSyncExpenses  *bookcommand.BulkSyncExpensesCommand
	BulkSyncInvoices  *bookcommand.BulkSyncInvoicesCommand
	RetryFailedSyncs  *bookcommand.RetryFailedSyncsCommand
}

type Queries struct {
	ConnectionStatus *bookquery.ConnectionStatusQuery
	VerifyConnection *bookquery.VerifyConnectionQuery
	MappingStatus    *bookquery.MappingStatusQuery
	ExpenseAccounts  *bookquery.ExpenseAccountsQuery
	SyncHistory      *bookquery.SyncHistoryQuery
	SyncStatus       *bookquery.SyncStatusQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	bulkRunner bookcommand.BulkSyncService
}

// WithBulkRunner wires the orchestrator that backs bulk and retry
// commands. Without it those commands are left nil.
func WithBulkRunner(runner bookcommand.BulkSyncService) FacadeOption {
	return func(options *facadeOptions) {
		options.bulkRunner = runner
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("booksync: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	runner := cfg.bulkRunner
	if runner == nil {
		if candidate, ok := service.(bookcommand.BulkSyncService); ok {
			runner = candidate
		}
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		Connect:           bookcommand.NewConnectCommand(service),
		CompleteCallback:  bookcommand.NewCompleteCallbackCommand(service),
		Disconnect:        bookcommand.NewDisconnectCommand(service),
		DeleteConnection:  bookcommand.NewDeleteConnectionCommand(service),
		AutoMapCategories: bookcommand.NewAutoMapCategoriesCommand(service),
		UpsertMapping:     bookcommand.NewUpsertMappingCommand(service),
		DeleteMapping:     bookcommand.NewDeleteMappingCommand(service),
		SyncExpense:       bookcommand.NewSyncExpenseCommand(service),
		SyncInvoice:       bookcommand.NewSyncInvoiceCommand(service),
	}
	if runner != nil {
		facade.commands.BulkSyncExpenses = bookcommand.NewBulkSyncExpensesCommand(runner)
		facade.commands.BulkSyncInvoices = bookcommand.NewBulkSyncInvoicesCommand(runner)
		facade.commands.RetryFailedSyncs = bookcommand.NewRetryFailedSyncsCommand(runner)
	}
	facade.queries = Queries{
		ConnectionStatus: bookquery.NewConnectionStatusQuery(service),
		VerifyConnection: bookquery.NewVerifyConnectionQuery(service),
		MappingStatus:    bookquery.NewMappingStatusQuery(service),
		ExpenseAccounts:  bookquery.NewExpenseAccountsQuery(service),
		SyncHistory:      bookquery.NewSyncHistoryQuery(service),
		SyncStatus:       bookquery.NewSyncStatusQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
