package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ConnectMessage]           = (*ConnectCommand)(nil)
	_ gocmd.Commander[CompleteCallbackMessage]  = (*CompleteCallbackCommand)(nil)
	_ gocmd.Commander[DisconnectMessage]        = (*DisconnectCommand)(nil)
	_ gocmd.Commander[DeleteConnectionMessage]  = (*DeleteConnectionCommand)(nil)
	_ gocmd.Commander[AutoMapCategoriesMessage] = (*AutoMapCategoriesCommand)(nil)
	_ gocmd.Commander[UpsertMappingMessage]     = (*UpsertMappingCommand)(nil)
	_ gocmd.Commander[DeleteMappingMessage]     = (*DeleteMappingCommand)(nil)
	_ gocmd.Commander[SyncExpenseMessage]       = (*SyncExpenseCommand)(nil)
	_ gocmd.Commander[SyncInvoiceMessage]       = (*SyncInvoiceCommand)(nil)
	_ gocmd.Commander[BulkSyncExpensesMessage]  = (*BulkSyncExpensesCommand)(nil)
	_ gocmd.Commander[BulkSyncInvoicesMessage]  = (*BulkSyncInvoicesCommand)(nil)
	_ gocmd.Commander[RetryFailedSyncsMessage]  = (*RetryFailedSyncsCommand)(nil)
)
