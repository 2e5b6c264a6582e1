package sqlstore

import "github.com/goliatone/go-booksync/core"

var (
	_ core.ConnectionStore        = (*ConnectionStore)(nil)
	_ core.CategoryMappingStore   = (*CategoryMappingStore)(nil)
	_ core.SyncRecordStore        = (*SyncRecordStore)(nil)
	_ core.SyncHistoryStore       = (*SyncHistoryStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
