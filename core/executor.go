package core

import (
	"context"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// SyncOutcome is the structured result of one entity delivery attempt.
// Failures land here with a written SyncRecord; only pre-attempt problems
// (missing connection, bad input) surface as plain errors.
type SyncOutcome struct {
	EntityID     string
	EntityType   EntityType
	Status       SyncRecordStatus
	ExternalID   string
	ExternalType string
	Error        string
	// Deduplicated is set when no provider write happened because the
	// entity was already delivered.
	Deduplicated bool
}

// expensePrivateNote embeds the internal id in the provider-side document
// so a crashed attempt can be recognized on the next run.
func expensePrivateNote(expenseID string) string {
	return fmt.Sprintf("booksync:expense:%s", expenseID)
}

func invoicePrivateNote(invoiceID string) string {
	return fmt.Sprintf("booksync:invoice:%s", invoiceID)
}

// SyncExpense delivers one expense as a provider purchase. Re-running for
// an already-synced expense is a no-op reporting the stored external id.
func (s *Service) SyncExpense(ctx context.Context, ownerID, expenseID string) (outcome SyncOutcome, err error) {
	startedAt := s.clock()
	fields := map[string]any{
		"owner_id":    ownerID,
		"entity_type": string(EntityTypeExpense),
		"entity_id":   expenseID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "sync_expense", err, fields)
	}()

	expenseID = strings.TrimSpace(expenseID)
	if expenseID == "" {
		err = s.mapError(fmt.Errorf("core: expense id is required"))
		return SyncOutcome{}, err
	}
	if s.expenseSource == nil || s.syncRecordStore == nil || s.mappingStore == nil || s.client == nil {
		err = s.mapError(fmt.Errorf("core: sync executor dependencies are not configured"))
		return SyncOutcome{}, err
	}

	connection, err := s.requireActiveConnection(ctx, ownerID)
	if err != nil {
		return SyncOutcome{}, err
	}
	fields["connection_id"] = connection.ID

	if existing, found := s.lookupSyncedRecord(ctx, connection.ID, EntityTypeExpense, expenseID); found {
		outcome = SyncOutcome{
			EntityID:     expenseID,
			EntityType:   EntityTypeExpense,
			Status:       SyncRecordStatusSynced,
			ExternalID:   existing.ExternalEntityID,
			ExternalType: existing.ExternalEntityType,
			Deduplicated: true,
		}
		return outcome, nil
	}

	expense, err := s.expenseSource.Get(ctx, expenseID)
	if err != nil {
		err = s.mapError(err)
		return SyncOutcome{}, err
	}
	if expense.OwnerID != connection.OwnerID {
		err = s.mapError(fmt.Errorf("core: expense %s does not belong to owner %s", expenseID, connection.OwnerID))
		return SyncOutcome{}, err
	}

	purchase, attemptErr := s.deliverExpense(ctx, connection, expense)
	outcome = s.recordAttempt(ctx, connection.ID, EntityTypeExpense, expense.ID, purchase.ID, "Purchase", attemptErr)
	if attemptErr != nil {
		err = s.mapError(attemptErr)
		return outcome, err
	}
	return outcome, nil
}

func (s *Service) deliverExpense(ctx context.Context, connection Connection, expense Expense) (Purchase, error) {
	mapping, mappingErr := s.mappingStore.GetByCategory(ctx, connection.ID, expense.Category)
	if mappingErr != nil && !isNotFound(mappingErr) {
		// A store read failure is not a mapping gap; surface it as a
		// persistence problem instead of a per-entity gap a retry run
		// would report as "category not mapped".
		return Purchase{}, newSyncError(
			fmt.Sprintf("core: load mapping for category %q: %s", expense.Category, mappingErr.Error()),
			goerrors.CategoryInternal,
			SyncErrorPersistence,
		)
	}
	if mappingErr != nil || strings.TrimSpace(mapping.AccountID) == "" {
		return Purchase{}, newSyncError(
			fmt.Sprintf("core: category %q is not mapped to an account", expense.Category),
			goerrors.CategoryOperation,
			SyncErrorMappingMissing,
		)
	}

	paymentClass := ClassifyPaymentMethod(expense.PaymentMethod)
	paymentAccountID, paymentClass, err := s.resolvePaymentAccount(ctx, connection, paymentClass)
	if err != nil {
		return Purchase{}, err
	}

	note := expensePrivateNote(expense.ID)

	// A previous attempt may have created the purchase and crashed before
	// the ledger write landed.
	var existing Purchase
	var existingFound bool
	err = s.callWithAuthRetry(ctx, connection, func(auth ProviderAuth) error {
		found, ok, findErr := s.client.FindPurchaseByPrivateNote(ctx, auth, note)
		if findErr != nil {
			return findErr
		}
		existing, existingFound = found, ok
		return nil
	})
	if err != nil {
		return Purchase{}, err
	}
	if existingFound {
		s.logInfo(ctx, "adopting provider purchase from interrupted attempt", map[string]any{
			"connection_id": connection.ID,
			"entity_id":     expense.ID,
			"external_id":   existing.ID,
		})
		return existing, nil
	}

	description := strings.TrimSpace(expense.Description)
	if description == "" {
		description = string(expense.Category)
	}
	request := CreatePurchaseRequest{
		PaymentAccountID: paymentAccountID,
		PaymentType:      paymentClass,
		Date:             expense.Date,
		Total:            expense.Amount,
		PrivateNote:      note,
		Vendor:           strings.TrimSpace(expense.Vendor),
		Lines: []PurchaseLine{
			{
				AccountID:   mapping.AccountID,
				Description: description,
				Amount:      expense.Amount,
			},
		},
	}

	var purchase Purchase
	err = s.callWithAuthRetry(ctx, connection, func(auth ProviderAuth) error {
		created, createErr := s.client.CreatePurchase(ctx, auth, request)
		if createErr != nil {
			return createErr
		}
		purchase = created
		return nil
	})
	if err != nil {
		return Purchase{}, err
	}
	return purchase, nil
}

// resolvePaymentAccount returns the provider account backing the purchase
// header. Cached ids on the connection are preferred; a miss queries the
// provider for the first active account of the class and caches it. An
// empty credit-card chart falls back to the bank class.
func (s *Service) resolvePaymentAccount(ctx context.Context, connection Connection, class PaymentClass) (string, PaymentClass, error) {
	if class == PaymentClassCreditCard && strings.TrimSpace(connection.CreditCardAccountID) != "" {
		return connection.CreditCardAccountID, PaymentClassCreditCard, nil
	}
	if class == PaymentClassBank && strings.TrimSpace(connection.BankAccountID) != "" {
		return connection.BankAccountID, PaymentClassBank, nil
	}

	account, found, err := s.queryFirstAccount(ctx, connection, accountClassForPayment(class))
	if err != nil {
		return "", class, err
	}
	if !found && class == PaymentClassCreditCard {
		class = PaymentClassBank
		if strings.TrimSpace(connection.BankAccountID) != "" {
			return connection.BankAccountID, class, nil
		}
		account, found, err = s.queryFirstAccount(ctx, connection, AccountClassBank)
		if err != nil {
			return "", class, err
		}
	}
	if !found {
		return "", class, newSyncError(
			"core: no payment account available for purchase header",
			goerrors.CategoryOperation,
			SyncErrorProvider,
		)
	}

	// The account query above may have refreshed and rotated the tokens,
	// so this snapshot is stale; only the account columns get written.
	if updateErr := s.connectionStore.UpdatePaymentAccount(ctx, connection.ID, class, account.ID, account.Name); updateErr != nil {
		// Caching is an optimization; the resolved account still serves
		// this attempt.
		s.logError(ctx, "failed to cache payment account on connection", map[string]any{
			"connection_id": connection.ID,
			"account_id":    account.ID,
			"error":         updateErr.Error(),
		})
	}
	return account.ID, class, nil
}

func accountClassForPayment(class PaymentClass) AccountClass {
	if class == PaymentClassCreditCard {
		return AccountClassCreditCard
	}
	return AccountClassBank
}

func (s *Service) queryFirstAccount(ctx context.Context, connection Connection, class AccountClass) (Account, bool, error) {
	var accounts []Account
	err := s.callWithAuthRetry(ctx, connection, func(auth ProviderAuth) error {
		fetched, queryErr := s.client.QueryAccounts(ctx, auth, class)
		if queryErr != nil {
			return queryErr
		}
		accounts = fetched
		return nil
	})
	if err != nil {
		return Account{}, false, err
	}
	for _, account := range accounts {
		if account.Active {
			return account, true, nil
		}
	}
	return Account{}, false, nil
}

// SyncInvoice delivers one invoice, creating the customer on first use.
func (s *Service) SyncInvoice(ctx context.Context, ownerID, invoiceID string) (outcome SyncOutcome, err error) {
	startedAt := s.clock()
	fields := map[string]any{
		"owner_id":    ownerID,
		"entity_type": string(EntityTypeInvoice),
		"entity_id":   invoiceID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "sync_invoice", err, fields)
	}()

	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		err = s.mapError(fmt.Errorf("core: invoice id is required"))
		return SyncOutcome{}, err
	}
	if s.invoiceSource == nil || s.syncRecordStore == nil || s.client == nil {
		err = s.mapError(fmt.Errorf("core: sync executor dependencies are not configured"))
		return SyncOutcome{}, err
	}

	connection, err := s.requireActiveConnection(ctx, ownerID)
	if err != nil {
		return SyncOutcome{}, err
	}
	fields["connection_id"] = connection.ID

	if existing, found := s.lookupSyncedRecord(ctx, connection.ID, EntityTypeInvoice, invoiceID); found {
		outcome = SyncOutcome{
			EntityID:     invoiceID,
			EntityType:   EntityTypeInvoice,
			Status:       SyncRecordStatusSynced,
			ExternalID:   existing.ExternalEntityID,
			ExternalType: existing.ExternalEntityType,
			Deduplicated: true,
		}
		return outcome, nil
	}

	invoice, err := s.invoiceSource.Get(ctx, invoiceID)
	if err != nil {
		err = s.mapError(err)
		return SyncOutcome{}, err
	}
	if invoice.OwnerID != connection.OwnerID {
		err = s.mapError(fmt.Errorf("core: invoice %s does not belong to owner %s", invoiceID, connection.OwnerID))
		return SyncOutcome{}, err
	}

	ref, attemptErr := s.deliverInvoice(ctx, connection, invoice)
	outcome = s.recordAttempt(ctx, connection.ID, EntityTypeInvoice, invoice.ID, ref.ID, "Invoice", attemptErr)
	if attemptErr != nil {
		err = s.mapError(attemptErr)
		return outcome, err
	}
	return outcome, nil
}

func (s *Service) deliverInvoice(ctx context.Context, connection Connection, invoice Invoice) (InvoiceRef, error) {
	customerName := strings.TrimSpace(invoice.CustomerName)
	if customerName == "" {
		return InvoiceRef{}, newSyncError(
			fmt.Sprintf("core: invoice %s has no customer name", invoice.ID),
			goerrors.CategoryBadInput,
			SyncErrorBadInput,
		)
	}

	customer, err := s.findOrCreateCustomer(ctx, connection, customerName)
	if err != nil {
		return InvoiceRef{}, err
	}

	lines := make([]CreateInvoiceLine, 0, len(invoice.Lines))
	for _, line := range invoice.Lines {
		lines = append(lines, CreateInvoiceLine{
			Description: line.Description,
			Quantity:    line.Quantity,
			Rate:        line.Rate,
			Amount:      line.Amount,
		})
	}
	if len(lines) == 0 {
		memo := strings.TrimSpace(invoice.Memo)
		if memo == "" {
			memo = "Services"
		}
		lines = append(lines, CreateInvoiceLine{
			Description: memo,
			Amount:      invoice.Total,
		})
	}

	request := CreateInvoiceRequest{
		CustomerID:  customer.ID,
		DocNumber:   strings.TrimSpace(invoice.Number),
		Date:        invoice.Date,
		DueDate:     invoice.DueDate,
		Lines:       lines,
		PrivateNote: invoicePrivateNote(invoice.ID),
	}

	var ref InvoiceRef
	err = s.callWithAuthRetry(ctx, connection, func(auth ProviderAuth) error {
		created, createErr := s.client.CreateInvoice(ctx, auth, request)
		if createErr != nil {
			return createErr
		}
		ref = created
		return nil
	})
	if err != nil {
		return InvoiceRef{}, err
	}
	return ref, nil
}

// findOrCreateCustomer looks the customer up by display name and creates
// it on a miss. A duplicate-name rejection from a concurrent create is
// resolved by re-querying.
func (s *Service) findOrCreateCustomer(ctx context.Context, connection Connection, name string) (Customer, error) {
	lookup := func() (Customer, bool, error) {
		var customer Customer
		var found bool
		err := s.callWithAuthRetry(ctx, connection, func(auth ProviderAuth) error {
			fetched, ok, findErr := s.client.FindCustomerByName(ctx, auth, name)
			if findErr != nil {
				return findErr
			}
			customer, found = fetched, ok
			return nil
		})
		return customer, found, err
	}

	customer, found, err := lookup()
	if err != nil {
		return Customer{}, err
	}
	if found {
		return customer, nil
	}

	var created Customer
	createErr := s.callWithAuthRetry(ctx, connection, func(auth ProviderAuth) error {
		fetched, callErr := s.client.CreateCustomer(ctx, auth, name)
		if callErr != nil {
			return callErr
		}
		created = fetched
		return nil
	})
	if createErr == nil {
		return created, nil
	}

	customer, found, err = lookup()
	if err == nil && found {
		return customer, nil
	}
	return Customer{}, createErr
}

func (s *Service) lookupSyncedRecord(ctx context.Context, connectionID string, entityType EntityType, entityID string) (SyncRecord, bool) {
	record, err := s.syncRecordStore.Get(ctx, connectionID, entityType, entityID)
	if err != nil {
		return SyncRecord{}, false
	}
	if record.Status != SyncRecordStatusSynced {
		return SyncRecord{}, false
	}
	return record, true
}

// recordAttempt writes the ledger row for the attempt and shapes the
// outcome. Ledger write failures are logged and reflected in the outcome
// error; they never mask the provider result.
func (s *Service) recordAttempt(ctx context.Context, connectionID string, entityType EntityType, entityID, externalID, externalType string, attemptErr error) SyncOutcome {
	now := s.clock()

	record, getErr := s.syncRecordStore.Get(ctx, connectionID, entityType, entityID)
	if getErr != nil {
		record = SyncRecord{
			ConnectionID: connectionID,
			EntityType:   entityType,
			EntityID:     entityID,
			Status:       SyncRecordStatusPending,
			CreatedAt:    now,
		}
	}
	record.LastAttemptAt = now

	status := SyncRecordStatusSynced
	if attemptErr != nil {
		status = SyncRecordStatusFailed
		record.Error = attemptErr.Error()
	} else {
		record.ExternalEntityID = externalID
		record.ExternalEntityType = externalType
	}
	if transitionErr := record.TransitionTo(status, now); transitionErr != nil {
		s.logError(ctx, "sync record transition rejected", map[string]any{
			"connection_id": connectionID,
			"entity_id":     entityID,
			"error":         transitionErr.Error(),
		})
	}
	if _, upsertErr := s.syncRecordStore.Upsert(ctx, record); upsertErr != nil {
		s.logError(ctx, "failed to persist sync record", map[string]any{
			"connection_id": connectionID,
			"entity_id":     entityID,
			"error":         upsertErr.Error(),
		})
	}

	outcome := SyncOutcome{
		EntityID:     entityID,
		EntityType:   entityType,
		Status:       record.Status,
		ExternalID:   record.ExternalEntityID,
		ExternalType: record.ExternalEntityType,
	}
	if attemptErr != nil {
		outcome.Error = attemptErr.Error()
	}
	return outcome
}
