package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-booksync/core"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db *bun.DB

	connectionStore  *ConnectionStore
	mappingStore     *CategoryMappingStore
	syncRecordStore  *SyncRecordStore
	syncHistoryStore *SyncHistoryStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.connectionStore != nil && f.syncHistoryStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) ConnectionStore() core.ConnectionStore {
	if f == nil {
		return nil
	}
	return f.connectionStore
}

func (f *RepositoryFactory) CategoryMappingStore() core.CategoryMappingStore {
	if f == nil {
		return nil
	}
	return f.mappingStore
}

func (f *RepositoryFactory) SyncRecordStore() core.SyncRecordStore {
	if f == nil {
		return nil
	}
	return f.syncRecordStore
}

func (f *RepositoryFactory) SyncHistoryStore() core.SyncHistoryStore {
	if f == nil {
		return nil
	}
	return f.syncHistoryStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	connectionStore, err := NewConnectionStore(f.db)
	if err != nil {
		return err
	}
	f.connectionStore = connectionStore

	mappingStore, err := NewCategoryMappingStore(f.db)
	if err != nil {
		return err
	}
	f.mappingStore = mappingStore

	syncRecordStore, err := NewSyncRecordStore(f.db)
	if err != nil {
		return err
	}
	f.syncRecordStore = syncRecordStore

	syncHistoryStore, err := NewSyncHistoryStore(f.db)
	if err != nil {
		return err
	}
	f.syncHistoryStore = syncHistoryStore

	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
