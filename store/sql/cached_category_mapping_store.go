package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-booksync/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const categoryMappingCacheKeyPrefix = "go-booksync::category_mapping::v1"

// CachedCategoryMappingStore serves mapping reads from cache. Every
// expense delivery resolves a mapping, so these rows are the hottest
// reads in the engine while writes are rare.
type CachedCategoryMappingStore struct {
	base  core.CategoryMappingStore
	cache repositorycache.CacheService
}

func NewCachedCategoryMappingStore(
	base core.CategoryMappingStore,
	cacheService repositorycache.CacheService,
) (*CachedCategoryMappingStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base category mapping store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: mapping cache service is required")
	}
	return &CachedCategoryMappingStore{base: base, cache: cacheService}, nil
}

// CategoryMappingCacheKey returns the deterministic key for one
// (connection, category) read, with each segment URL-path escaped.
func CategoryMappingCacheKey(connectionID string, category core.ExpenseCategory) string {
	segments := []string{
		url.PathEscape(strings.TrimSpace(connectionID)),
		url.PathEscape(string(category)),
	}
	return strings.Join(append([]string{categoryMappingCacheKeyPrefix}, segments...), "::")
}

func categoryMappingListCacheKey(connectionID string) string {
	return strings.Join([]string{
		categoryMappingCacheKeyPrefix,
		url.PathEscape(strings.TrimSpace(connectionID)),
		"list",
	}, "::")
}

func (s *CachedCategoryMappingStore) GetByCategory(ctx context.Context, connectionID string, category core.ExpenseCategory) (core.CategoryMapping, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.CategoryMapping{}, fmt.Errorf("sqlstore: cached category mapping store is not configured")
	}
	cacheKey := CategoryMappingCacheKey(connectionID, category)
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.CategoryMapping, error) {
		return s.base.GetByCategory(ctx, connectionID, category)
	})
}

func (s *CachedCategoryMappingStore) ListByConnection(ctx context.Context, connectionID string) ([]core.CategoryMapping, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached category mapping store is not configured")
	}
	cacheKey := categoryMappingListCacheKey(connectionID)
	mappings, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) ([]core.CategoryMapping, error) {
		return s.base.ListByConnection(ctx, connectionID)
	})
	if err != nil {
		return nil, err
	}
	return append([]core.CategoryMapping(nil), mappings...), nil
}

func (s *CachedCategoryMappingStore) Upsert(ctx context.Context, mapping core.CategoryMapping) (core.CategoryMapping, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.CategoryMapping{}, fmt.Errorf("sqlstore: cached category mapping store is not configured")
	}
	saved, err := s.base.Upsert(ctx, mapping)
	if err != nil {
		return core.CategoryMapping{}, err
	}
	if err := s.invalidate(ctx, saved.ConnectionID, saved.Category); err != nil {
		return core.CategoryMapping{}, err
	}
	return saved, nil
}

func (s *CachedCategoryMappingStore) Delete(ctx context.Context, connectionID string, category core.ExpenseCategory) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached category mapping store is not configured")
	}
	if err := s.base.Delete(ctx, connectionID, category); err != nil {
		return err
	}
	return s.invalidate(ctx, connectionID, category)
}

func (s *CachedCategoryMappingStore) invalidate(ctx context.Context, connectionID string, category core.ExpenseCategory) error {
	if err := s.cache.Delete(ctx, CategoryMappingCacheKey(connectionID, category)); err != nil {
		return err
	}
	return s.cache.Delete(ctx, categoryMappingListCacheKey(connectionID))
}

var _ core.CategoryMappingStore = (*CachedCategoryMappingStore)(nil)
