package core

import (
	"context"
	"testing"
)

func TestAutoMapCategories_TierOrderAndManualPrecedence(t *testing.T) {
	env := newTestEnv()
	connection := env.seedConnection("owner-1")

	// Manual tolls mapping must survive the pass untouched.
	if _, err := env.mappings.Upsert(context.Background(), CategoryMapping{
		ConnectionID: connection.ID,
		Category:     CategoryTolls,
		AccountID:    "acc-manual-tolls",
		Source:       MappingSourceManual,
		UpdatedAt:    testEpoch,
	}); err != nil {
		t.Fatalf("seed manual mapping: %v", err)
	}

	env.client.queryAccountsFn = func(_ context.Context, _ ProviderAuth, class AccountClass) ([]Account, error) {
		if class != AccountClassExpense {
			t.Fatalf("expected expense account query, got %s", class)
		}
		return []Account{
			{ID: "acc-1", Name: "Fuel Expense", Active: true},             // fuel, primary name
			{ID: "acc-2", Name: "Vehicle Maintenance", Active: true},      // maintenance, fallback name
			{ID: "acc-3", Name: "Business Insurance Plan", Active: true},  // insurance, keyword
			{ID: "acc-4", Name: "Meals & Entertainment", Active: false},   // inactive, ignored
			{ID: "acc-5", Name: "Office Expenses", Active: true},          // office, primary name
		}, nil
	}

	result, err := env.svc.AutoMapCategories(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("auto map: %v", err)
	}

	mapped := map[ExpenseCategory]string{}
	for _, mapping := range result.Mapped {
		mapped[mapping.Category] = mapping.AccountID
		if mapping.Source != MappingSourceAuto {
			t.Fatalf("expected auto source for %s, got %s", mapping.Category, mapping.Source)
		}
	}
	want := map[ExpenseCategory]string{
		CategoryFuel:        "acc-1",
		CategoryMaintenance: "acc-2",
		CategoryInsurance:   "acc-3",
		CategoryOffice:      "acc-5",
	}
	if len(mapped) != len(want) {
		t.Fatalf("expected %d mapped categories, got %+v", len(want), mapped)
	}
	for category, accountID := range want {
		if mapped[category] != accountID {
			t.Fatalf("category %s mapped to %q, want %q", category, mapped[category], accountID)
		}
	}

	if len(result.Skipped) != 1 || result.Skipped[0] != CategoryTolls {
		t.Fatalf("expected tolls skipped for manual mapping, got %+v", result.Skipped)
	}
	for _, category := range result.Unmatched {
		if category == CategoryMeals {
			continue // only inactive candidate
		}
		if category != CategoryPermits && category != CategoryOther {
			t.Fatalf("unexpected unmatched category %s", category)
		}
	}

	stored, err := env.mappings.GetByCategory(context.Background(), connection.ID, CategoryTolls)
	if err != nil {
		t.Fatalf("manual mapping lookup: %v", err)
	}
	if stored.AccountID != "acc-manual-tolls" || stored.Source != MappingSourceManual {
		t.Fatalf("manual mapping was overwritten: %+v", stored)
	}
}

func TestAutoMapCategories_IdempotentRefresh(t *testing.T) {
	env := newTestEnv()
	connection := env.seedConnection("owner-1")
	env.client.queryAccountsFn = func(context.Context, ProviderAuth, AccountClass) ([]Account, error) {
		return []Account{{ID: "acc-1", Name: "Fuel Expense", Active: true}}, nil
	}

	first, err := env.svc.AutoMapCategories(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	second, err := env.svc.AutoMapCategories(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(first.Mapped) != 1 || len(second.Mapped) != 1 {
		t.Fatalf("expected one mapping per pass, got %d then %d", len(first.Mapped), len(second.Mapped))
	}
	if first.Mapped[0].ID != second.Mapped[0].ID {
		t.Fatalf("expected refresh in place, got new row %s vs %s", second.Mapped[0].ID, first.Mapped[0].ID)
	}

	mappings, _ := env.mappings.ListByConnection(context.Background(), connection.ID)
	if len(mappings) != 1 {
		t.Fatalf("expected single fuel mapping row, got %d", len(mappings))
	}
}

func TestAutoMapCategories_RequiresActiveConnection(t *testing.T) {
	env := newTestEnv()
	connection := env.seedConnection("owner-1")
	if err := env.connections.UpdateStatus(context.Background(), connection.ID, ConnectionStatusDisconnected, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := env.svc.AutoMapCategories(context.Background(), "owner-1")
	if err == nil {
		t.Fatalf("expected inactive connection rejection")
	}
	if textCodeOf(err) != SyncErrorNotConnected {
		t.Fatalf("expected %s, got %s", SyncErrorNotConnected, textCodeOf(err))
	}
}

func TestUpsertMapping_ManualWinsOverAuto(t *testing.T) {
	env := newTestEnv()
	connection := env.seedConnection("owner-1")

	mapping, err := env.svc.UpsertMapping(context.Background(), "owner-1", CategoryFuel, "acc-chosen", "Chosen Fuel Account")
	if err != nil {
		t.Fatalf("upsert mapping: %v", err)
	}
	if mapping.Source != MappingSourceManual {
		t.Fatalf("expected manual source, got %s", mapping.Source)
	}
	if mapping.ConnectionID != connection.ID {
		t.Fatalf("expected mapping bound to connection, got %q", mapping.ConnectionID)
	}

	env.client.queryAccountsFn = func(context.Context, ProviderAuth, AccountClass) ([]Account, error) {
		return []Account{{ID: "acc-auto", Name: "Fuel Expense", Active: true}}, nil
	}
	result, err := env.svc.AutoMapCategories(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("auto map: %v", err)
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != CategoryFuel {
		t.Fatalf("expected fuel skipped, got %+v", result.Skipped)
	}

	stored, _ := env.mappings.GetByCategory(context.Background(), connection.ID, CategoryFuel)
	if stored.AccountID != "acc-chosen" {
		t.Fatalf("manual mapping lost: %+v", stored)
	}
}

func TestUpsertMapping_RejectsUnknownCategory(t *testing.T) {
	env := newTestEnv()
	env.seedConnection("owner-1")
	_, err := env.svc.UpsertMapping(context.Background(), "owner-1", ExpenseCategory("gambling"), "acc-1", "")
	if err == nil {
		t.Fatalf("expected unknown category rejection")
	}
	if textCodeOf(err) != SyncErrorBadInput {
		t.Fatalf("expected %s, got %s", SyncErrorBadInput, textCodeOf(err))
	}
}

func TestUpsertMapping_RequiresAccountID(t *testing.T) {
	env := newTestEnv()
	env.seedConnection("owner-1")
	if _, err := env.svc.UpsertMapping(context.Background(), "owner-1", CategoryFuel, "   ", ""); err == nil {
		t.Fatalf("expected blank account id rejection")
	}
}

func TestDeleteMapping_RemovesRow(t *testing.T) {
	env := newTestEnv()
	connection := env.seedConnection("owner-1")
	if _, err := env.svc.UpsertMapping(context.Background(), "owner-1", CategoryFuel, "acc-1", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := env.svc.DeleteMapping(context.Background(), "owner-1", CategoryFuel); err != nil {
		t.Fatalf("delete mapping: %v", err)
	}
	if _, err := env.mappings.GetByCategory(context.Background(), connection.ID, CategoryFuel); err == nil {
		t.Fatalf("expected mapping removed")
	}
}

func TestMappingStatus_ListsUnmapped(t *testing.T) {
	env := newTestEnv()
	env.seedConnection("owner-1")
	if _, err := env.svc.UpsertMapping(context.Background(), "owner-1", CategoryFuel, "acc-1", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := env.svc.UpsertMapping(context.Background(), "owner-1", CategoryMeals, "acc-2", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	report, err := env.svc.MappingStatus(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("mapping status: %v", err)
	}
	if len(report.Mappings) != 2 {
		t.Fatalf("expected 2 mappings, got %d", len(report.Mappings))
	}
	if len(report.Unmapped) != len(ExpenseCategories())-2 {
		t.Fatalf("expected %d unmapped, got %+v", len(ExpenseCategories())-2, report.Unmapped)
	}
	for _, category := range report.Unmapped {
		if category == CategoryFuel || category == CategoryMeals {
			t.Fatalf("mapped category %s listed as unmapped", category)
		}
	}
}

func TestExpenseAccounts_ReturnsProviderChart(t *testing.T) {
	env := newTestEnv()
	env.seedConnection("owner-1")
	env.client.queryAccountsFn = func(_ context.Context, _ ProviderAuth, class AccountClass) ([]Account, error) {
		if class != AccountClassExpense {
			t.Fatalf("unexpected account class %q", class)
		}
		return []Account{
			{ID: "a-1", Name: "Fuel", Type: "Expense", Active: true},
			{ID: "a-2", Name: "Repairs and Maintenance", Type: "Expense", Active: true},
		}, nil
	}

	accounts, err := env.svc.ExpenseAccounts(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("expense accounts: %v", err)
	}
	if len(accounts) != 2 || accounts[0].ID != "a-1" || accounts[1].Name != "Repairs and Maintenance" {
		t.Fatalf("unexpected accounts: %+v", accounts)
	}
}

func TestExpenseAccounts_RequiresActiveConnection(t *testing.T) {
	env := newTestEnv()
	connection := env.seedConnection("owner-1")
	if err := env.connections.UpdateStatus(context.Background(), connection.ID, ConnectionStatusDisconnected, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := env.svc.ExpenseAccounts(context.Background(), "owner-1")
	if err == nil {
		t.Fatalf("expected inactive connection rejection")
	}
	if textCodeOf(err) != SyncErrorNotConnected {
		t.Fatalf("expected %s, got %s", SyncErrorNotConnected, textCodeOf(err))
	}
}
