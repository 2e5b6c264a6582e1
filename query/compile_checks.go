package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-booksync/core"
)

var (
	_ gocmd.Querier[ConnectionStatusMessage, core.ConnectionStatusReport] = (*ConnectionStatusQuery)(nil)
	_ gocmd.Querier[VerifyConnectionMessage, core.ConnectionStatusReport] = (*VerifyConnectionQuery)(nil)
	_ gocmd.Querier[MappingStatusMessage, core.MappingStatusReport]       = (*MappingStatusQuery)(nil)
	_ gocmd.Querier[ExpenseAccountsMessage, []core.Account]               = (*ExpenseAccountsQuery)(nil)
	_ gocmd.Querier[SyncHistoryMessage, []core.SyncHistory]               = (*SyncHistoryQuery)(nil)
	_ gocmd.Querier[SyncStatusMessage, core.SyncStatusReport]             = (*SyncStatusQuery)(nil)
)
