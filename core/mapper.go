package core

import (
	"context"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// categoryMatchRule drives auto-matching for one expense category. Tiers
// are tried in order and the first hit wins: exact primary name, exact
// fallback name, then keyword containment.
type categoryMatchRule struct {
	primaryName  string
	fallbackName string
	keywords     []string
}

var categoryMatchRules = map[ExpenseCategory]categoryMatchRule{
	CategoryFuel: {
		primaryName:  "Fuel Expense",
		fallbackName: "Auto Fuel",
		keywords:     []string{"fuel", "gas", "diesel"},
	},
	CategoryMaintenance: {
		primaryName:  "Repairs & Maintenance",
		fallbackName: "Vehicle Maintenance",
		keywords:     []string{"maintenance", "repair"},
	},
	CategoryInsurance: {
		primaryName:  "Insurance Expense",
		fallbackName: "Vehicle Insurance",
		keywords:     []string{"insurance"},
	},
	CategoryTolls: {
		primaryName:  "Tolls & Parking",
		fallbackName: "Travel Expense",
		keywords:     []string{"toll", "parking"},
	},
	CategoryOffice: {
		primaryName:  "Office Expenses",
		fallbackName: "Office Supplies",
		keywords:     []string{"office", "supplies"},
	},
	CategoryPermits: {
		primaryName:  "Licenses & Permits",
		fallbackName: "Dues & Subscriptions",
		keywords:     []string{"permit", "license", "registration"},
	},
	CategoryMeals: {
		primaryName:  "Meals & Entertainment",
		fallbackName: "Travel Meals",
		keywords:     []string{"meal", "entertainment"},
	},
	CategoryOther: {
		primaryName:  "Miscellaneous Expense",
		fallbackName: "Other Business Expenses",
		keywords:     []string{"miscellaneous", "other"},
	},
}

// AutoMapResult reports the outcome of one auto-mapping pass.
type AutoMapResult struct {
	Mapped    []CategoryMapping
	Unmatched []ExpenseCategory
	// Skipped categories already carried a manual mapping.
	Skipped []ExpenseCategory
}

// AutoMapCategories fetches the chart of expense accounts from the
// provider and maps every category it can. Existing manual mappings are
// never overwritten; auto mappings are refreshed in place so the pass is
// idempotent.
func (s *Service) AutoMapCategories(ctx context.Context, ownerID string) (result AutoMapResult, err error) {
	startedAt := s.clock()
	fields := map[string]any{
		"owner_id": ownerID,
	}
	defer func() {
		fields["mapped"] = len(result.Mapped)
		fields["unmatched"] = len(result.Unmatched)
		s.observeOperation(ctx, startedAt, "auto_map_categories", err, fields)
	}()

	if s.mappingStore == nil {
		err = s.mapError(fmt.Errorf("core: category mapping store is not configured"))
		return AutoMapResult{}, err
	}
	if s.client == nil {
		err = s.mapError(fmt.Errorf("core: provider client is not configured"))
		return AutoMapResult{}, err
	}

	connection, err := s.requireActiveConnection(ctx, ownerID)
	if err != nil {
		return AutoMapResult{}, err
	}
	fields["connection_id"] = connection.ID

	var accounts []Account
	err = s.callWithAuthRetry(ctx, connection, func(auth ProviderAuth) error {
		fetched, queryErr := s.client.QueryAccounts(ctx, auth, AccountClassExpense)
		if queryErr != nil {
			return queryErr
		}
		accounts = fetched
		return nil
	})
	if err != nil {
		err = s.mapError(err)
		return AutoMapResult{}, err
	}

	existing, err := s.mappingStore.ListByConnection(ctx, connection.ID)
	if err != nil {
		err = s.mapError(err)
		return AutoMapResult{}, err
	}
	manual := map[ExpenseCategory]struct{}{}
	for _, mapping := range existing {
		if mapping.Source == MappingSourceManual {
			manual[mapping.Category] = struct{}{}
		}
	}

	now := s.clock()
	for _, category := range ExpenseCategories() {
		if _, ok := manual[category]; ok {
			result.Skipped = append(result.Skipped, category)
			continue
		}
		account, matched := matchCategoryAccount(category, accounts)
		if !matched {
			result.Unmatched = append(result.Unmatched, category)
			continue
		}
		mapping := CategoryMapping{
			ConnectionID: connection.ID,
			Category:     category,
			AccountID:    account.ID,
			AccountName:  account.Name,
			Source:       MappingSourceAuto,
			UpdatedAt:    now,
		}
		saved, upsertErr := s.mappingStore.Upsert(ctx, mapping)
		if upsertErr != nil {
			err = s.mapError(upsertErr)
			return AutoMapResult{}, err
		}
		result.Mapped = append(result.Mapped, saved)
	}
	return result, nil
}

func matchCategoryAccount(category ExpenseCategory, accounts []Account) (Account, bool) {
	rule, ok := categoryMatchRules[category]
	if !ok {
		return Account{}, false
	}
	active := make([]Account, 0, len(accounts))
	for _, account := range accounts {
		if account.Active {
			active = append(active, account)
		}
	}
	for _, account := range active {
		if strings.EqualFold(strings.TrimSpace(account.Name), rule.primaryName) {
			return account, true
		}
	}
	if rule.fallbackName != "" {
		for _, account := range active {
			if strings.EqualFold(strings.TrimSpace(account.Name), rule.fallbackName) {
				return account, true
			}
		}
	}
	for _, keyword := range rule.keywords {
		for _, account := range active {
			if strings.Contains(strings.ToLower(account.Name), keyword) {
				return account, true
			}
		}
	}
	return Account{}, false
}

// UpsertMapping records a manual category mapping chosen by the owner.
// Manual mappings win over auto ones and survive later auto passes.
func (s *Service) UpsertMapping(ctx context.Context, ownerID string, category ExpenseCategory, accountID, accountName string) (mapping CategoryMapping, err error) {
	startedAt := s.clock()
	fields := map[string]any{
		"owner_id": ownerID,
		"category": string(category),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "upsert_mapping", err, fields)
	}()

	if s.mappingStore == nil {
		err = s.mapError(fmt.Errorf("core: category mapping store is not configured"))
		return CategoryMapping{}, err
	}
	if _, parseErr := ParseExpenseCategory(string(category)); parseErr != nil {
		err = s.mapError(parseErr)
		return CategoryMapping{}, err
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		err = s.mapError(fmt.Errorf("core: account id is required"))
		return CategoryMapping{}, err
	}

	connection, err := s.requireConnection(ctx, ownerID)
	if err != nil {
		return CategoryMapping{}, err
	}
	fields["connection_id"] = connection.ID

	mapping = CategoryMapping{
		ConnectionID: connection.ID,
		Category:     category,
		AccountID:    accountID,
		AccountName:  strings.TrimSpace(accountName),
		Source:       MappingSourceManual,
		UpdatedAt:    s.clock(),
	}
	mapping, err = s.mappingStore.Upsert(ctx, mapping)
	if err != nil {
		err = s.mapError(err)
		return CategoryMapping{}, err
	}
	return mapping, nil
}

// DeleteMapping removes the mapping for one category. Subsequent syncs of
// that category fail fast until it is remapped.
func (s *Service) DeleteMapping(ctx context.Context, ownerID string, category ExpenseCategory) (err error) {
	startedAt := s.clock()
	fields := map[string]any{
		"owner_id": ownerID,
		"category": string(category),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "delete_mapping", err, fields)
	}()

	if s.mappingStore == nil {
		err = s.mapError(fmt.Errorf("core: category mapping store is not configured"))
		return err
	}

	connection, err := s.requireConnection(ctx, ownerID)
	if err != nil {
		return err
	}
	fields["connection_id"] = connection.ID

	if deleteErr := s.mappingStore.Delete(ctx, connection.ID, category); deleteErr != nil {
		err = s.mapError(deleteErr)
		return err
	}
	return nil
}

// ExpenseAccounts returns the provider's Expense-class chart of accounts,
// active entries first the way the provider returns them. Backs the manual
// mapping picker.
func (s *Service) ExpenseAccounts(ctx context.Context, ownerID string) (accounts []Account, err error) {
	startedAt := s.clock()
	fields := map[string]any{
		"owner_id": ownerID,
	}
	defer func() {
		fields["account_count"] = len(accounts)
		s.observeOperation(ctx, startedAt, "expense_accounts", err, fields)
	}()

	if s.client == nil {
		err = s.mapError(fmt.Errorf("core: provider client is not configured"))
		return nil, err
	}

	connection, err := s.requireActiveConnection(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	fields["connection_id"] = connection.ID

	err = s.callWithAuthRetry(ctx, connection, func(auth ProviderAuth) error {
		fetched, queryErr := s.client.QueryAccounts(ctx, auth, AccountClassExpense)
		if queryErr != nil {
			return queryErr
		}
		accounts = fetched
		return nil
	})
	if err != nil {
		err = s.mapError(err)
		return nil, err
	}
	return accounts, nil
}

// MappingStatusReport lists current mappings alongside the categories
// still missing one.
type MappingStatusReport struct {
	Mappings []CategoryMapping
	Unmapped []ExpenseCategory
}

func (s *Service) MappingStatus(ctx context.Context, ownerID string) (report MappingStatusReport, err error) {
	startedAt := s.clock()
	fields := map[string]any{
		"owner_id": ownerID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "mapping_status", err, fields)
	}()

	if s.mappingStore == nil {
		err = s.mapError(fmt.Errorf("core: category mapping store is not configured"))
		return MappingStatusReport{}, err
	}

	connection, err := s.requireConnection(ctx, ownerID)
	if err != nil {
		return MappingStatusReport{}, err
	}
	fields["connection_id"] = connection.ID

	mappings, err := s.mappingStore.ListByConnection(ctx, connection.ID)
	if err != nil {
		err = s.mapError(err)
		return MappingStatusReport{}, err
	}
	mapped := map[ExpenseCategory]struct{}{}
	for _, mapping := range mappings {
		mapped[mapping.Category] = struct{}{}
	}
	report = MappingStatusReport{Mappings: mappings}
	for _, category := range ExpenseCategories() {
		if _, ok := mapped[category]; !ok {
			report.Unmapped = append(report.Unmapped, category)
		}
	}
	return report, nil
}

func (s *Service) requireActiveConnection(ctx context.Context, ownerID string) (Connection, error) {
	connection, err := s.requireConnection(ctx, ownerID)
	if err != nil {
		return Connection{}, err
	}
	if connection.Status != ConnectionStatusActive {
		return Connection{}, s.mapError(newSyncError(
			fmt.Sprintf("core: connection for owner %s is %s, not active", connection.OwnerID, connection.Status),
			goerrors.CategoryOperation,
			SyncErrorNotConnected,
		))
	}
	return connection, nil
}
