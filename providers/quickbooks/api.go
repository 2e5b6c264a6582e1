package quickbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/goliatone/go-booksync/core"
	"github.com/goliatone/go-booksync/ratelimit"
)

const dateLayout = "2006-01-02"

var _ core.ProviderClient = (*Client)(nil)

func (c *Client) GetCompanyInfo(ctx context.Context, auth core.ProviderAuth) (core.CompanyInfo, error) {
	var envelope struct {
		CompanyInfo struct {
			CompanyName string `json:"CompanyName"`
			Country     string `json:"Country"`
		} `json:"CompanyInfo"`
	}
	path := fmt.Sprintf("companyinfo/%s", url.PathEscape(auth.RealmID))
	if err := c.get(ctx, auth, path, nil, &envelope); err != nil {
		return core.CompanyInfo{}, err
	}
	return core.CompanyInfo{
		RealmID: auth.RealmID,
		Name:    strings.TrimSpace(envelope.CompanyInfo.CompanyName),
		Country: strings.TrimSpace(envelope.CompanyInfo.Country),
	}, nil
}

type accountPayload struct {
	ID             string `json:"Id"`
	Name           string `json:"Name"`
	AccountType    string `json:"AccountType"`
	AccountSubType string `json:"AccountSubType"`
	Active         bool   `json:"Active"`
}

func (c *Client) QueryAccounts(ctx context.Context, auth core.ProviderAuth, class core.AccountClass) ([]core.Account, error) {
	statement := fmt.Sprintf(
		"select * from Account where AccountType = '%s' maxresults %d",
		accountTypeForClass(class),
		defaultQueryResultLimit,
	)
	var envelope struct {
		QueryResponse struct {
			Account []accountPayload `json:"Account"`
		} `json:"QueryResponse"`
	}
	if err := c.query(ctx, auth, statement, &envelope); err != nil {
		return nil, err
	}

	accounts := make([]core.Account, 0, len(envelope.QueryResponse.Account))
	for _, payload := range envelope.QueryResponse.Account {
		accounts = append(accounts, core.Account{
			ID:      payload.ID,
			Name:    payload.Name,
			Type:    payload.AccountType,
			SubType: payload.AccountSubType,
			Active:  payload.Active,
		})
	}
	return accounts, nil
}

func accountTypeForClass(class core.AccountClass) string {
	switch class {
	case core.AccountClassBank:
		return "Bank"
	case core.AccountClassCreditCard:
		return "Credit Card"
	default:
		return "Expense"
	}
}

type accountRef struct {
	Value string `json:"value"`
}

type purchaseLinePayload struct {
	Amount      decimal.Decimal `json:"Amount"`
	DetailType  string          `json:"DetailType"`
	Description string          `json:"Description,omitempty"`
	Detail      struct {
		AccountRef accountRef `json:"AccountRef"`
	} `json:"AccountBasedExpenseLineDetail"`
}

type purchasePayload struct {
	ID          string                `json:"Id,omitempty"`
	PaymentType string                `json:"PaymentType"`
	AccountRef  accountRef            `json:"AccountRef"`
	TxnDate     string                `json:"TxnDate"`
	TotalAmt    decimal.Decimal       `json:"TotalAmt"`
	PrivateNote string                `json:"PrivateNote,omitempty"`
	DocNumber   string                `json:"DocNumber,omitempty"`
	EntityRef   *accountRef           `json:"EntityRef,omitempty"`
	Line        []purchaseLinePayload `json:"Line"`
}

func (c *Client) CreatePurchase(ctx context.Context, auth core.ProviderAuth, req core.CreatePurchaseRequest) (core.Purchase, error) {
	payload := purchasePayload{
		PaymentType: paymentTypeForClass(req.PaymentType),
		AccountRef:  accountRef{Value: req.PaymentAccountID},
		TxnDate:     req.Date.Format(dateLayout),
		TotalAmt:    req.Total,
		PrivateNote: req.PrivateNote,
	}
	for _, line := range req.Lines {
		entry := purchaseLinePayload{
			Amount:      line.Amount,
			DetailType:  "AccountBasedExpenseLineDetail",
			Description: line.Description,
		}
		entry.Detail.AccountRef = accountRef{Value: line.AccountID}
		payload.Line = append(payload.Line, entry)
	}

	var envelope struct {
		Purchase struct {
			ID          string `json:"Id"`
			DocNumber   string `json:"DocNumber"`
			PrivateNote string `json:"PrivateNote"`
		} `json:"Purchase"`
	}
	if err := c.post(ctx, auth, "purchase", payload, &envelope); err != nil {
		return core.Purchase{}, err
	}
	return core.Purchase{
		ID:          envelope.Purchase.ID,
		DocNumber:   envelope.Purchase.DocNumber,
		PrivateNote: envelope.Purchase.PrivateNote,
	}, nil
}

func paymentTypeForClass(class core.PaymentClass) string {
	if class == core.PaymentClassCreditCard {
		return "CreditCard"
	}
	return "Check"
}

func (c *Client) FindPurchaseByPrivateNote(ctx context.Context, auth core.ProviderAuth, note string) (core.Purchase, bool, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return core.Purchase{}, false, nil
	}
	statement := fmt.Sprintf(
		"select * from Purchase where PrivateNote = '%s' maxresults 1",
		escapeQueryLiteral(note),
	)
	var envelope struct {
		QueryResponse struct {
			Purchase []struct {
				ID          string `json:"Id"`
				DocNumber   string `json:"DocNumber"`
				PrivateNote string `json:"PrivateNote"`
			} `json:"Purchase"`
		} `json:"QueryResponse"`
	}
	if err := c.query(ctx, auth, statement, &envelope); err != nil {
		return core.Purchase{}, false, err
	}
	if len(envelope.QueryResponse.Purchase) == 0 {
		return core.Purchase{}, false, nil
	}
	found := envelope.QueryResponse.Purchase[0]
	return core.Purchase{
		ID:          found.ID,
		DocNumber:   found.DocNumber,
		PrivateNote: found.PrivateNote,
	}, true, nil
}

func (c *Client) FindCustomerByName(ctx context.Context, auth core.ProviderAuth, name string) (core.Customer, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Customer{}, false, nil
	}
	statement := fmt.Sprintf(
		"select * from Customer where DisplayName = '%s' maxresults 1",
		escapeQueryLiteral(name),
	)
	var envelope struct {
		QueryResponse struct {
			Customer []struct {
				ID          string `json:"Id"`
				DisplayName string `json:"DisplayName"`
			} `json:"Customer"`
		} `json:"QueryResponse"`
	}
	if err := c.query(ctx, auth, statement, &envelope); err != nil {
		return core.Customer{}, false, err
	}
	if len(envelope.QueryResponse.Customer) == 0 {
		return core.Customer{}, false, nil
	}
	found := envelope.QueryResponse.Customer[0]
	return core.Customer{ID: found.ID, DisplayName: found.DisplayName}, true, nil
}

func (c *Client) CreateCustomer(ctx context.Context, auth core.ProviderAuth, name string) (core.Customer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Customer{}, fmt.Errorf("quickbooks: customer display name is required")
	}
	var envelope struct {
		Customer struct {
			ID          string `json:"Id"`
			DisplayName string `json:"DisplayName"`
		} `json:"Customer"`
	}
	payload := map[string]string{"DisplayName": name}
	if err := c.post(ctx, auth, "customer", payload, &envelope); err != nil {
		return core.Customer{}, err
	}
	return core.Customer{
		ID:          envelope.Customer.ID,
		DisplayName: envelope.Customer.DisplayName,
	}, nil
}

type invoiceLinePayload struct {
	Amount      decimal.Decimal `json:"Amount"`
	DetailType  string          `json:"DetailType"`
	Description string          `json:"Description,omitempty"`
	Detail      struct {
		Qty       decimal.Decimal `json:"Qty,omitempty"`
		UnitPrice decimal.Decimal `json:"UnitPrice,omitempty"`
	} `json:"SalesItemLineDetail"`
}

func (c *Client) CreateInvoice(ctx context.Context, auth core.ProviderAuth, req core.CreateInvoiceRequest) (core.InvoiceRef, error) {
	payload := map[string]any{
		"CustomerRef": accountRef{Value: req.CustomerID},
		"TxnDate":     req.Date.Format(dateLayout),
	}
	if strings.TrimSpace(req.DocNumber) != "" {
		payload["DocNumber"] = strings.TrimSpace(req.DocNumber)
	}
	if req.DueDate != nil {
		payload["DueDate"] = req.DueDate.Format(dateLayout)
	}
	if strings.TrimSpace(req.PrivateNote) != "" {
		payload["PrivateNote"] = strings.TrimSpace(req.PrivateNote)
	}

	lines := make([]invoiceLinePayload, 0, len(req.Lines))
	for _, line := range req.Lines {
		entry := invoiceLinePayload{
			Amount:      lineAmount(line),
			DetailType:  "SalesItemLineDetail",
			Description: line.Description,
		}
		entry.Detail.Qty = line.Quantity
		entry.Detail.UnitPrice = line.Rate
		lines = append(lines, entry)
	}
	payload["Line"] = lines

	var envelope struct {
		Invoice struct {
			ID        string `json:"Id"`
			DocNumber string `json:"DocNumber"`
		} `json:"Invoice"`
	}
	if err := c.post(ctx, auth, "invoice", payload, &envelope); err != nil {
		return core.InvoiceRef{}, err
	}
	return core.InvoiceRef{
		ID:        envelope.Invoice.ID,
		DocNumber: envelope.Invoice.DocNumber,
	}, nil
}

func lineAmount(line core.CreateInvoiceLine) decimal.Decimal {
	if !line.Amount.IsZero() {
		return line.Amount
	}
	return line.Quantity.Mul(line.Rate)
}

// escapeQueryLiteral escapes single quotes for the provider query grammar.
func escapeQueryLiteral(value string) string {
	return strings.ReplaceAll(value, "'", `\'`)
}

func (c *Client) query(ctx context.Context, auth core.ProviderAuth, statement string, out any) error {
	params := url.Values{}
	params.Set("query", statement)
	return c.get(ctx, auth, "query", params, out)
}

func (c *Client) get(ctx context.Context, auth core.ProviderAuth, path string, params url.Values, out any) error {
	endpoint, err := c.apiURL(auth, path)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return c.do(ctx, auth, http.MethodGet, endpoint, nil, out)
}

func (c *Client) post(ctx context.Context, auth core.ProviderAuth, path string, payload any, out any) error {
	endpoint, err := c.apiURL(auth, path)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("quickbooks: encode %s payload: %w", path, err)
	}
	return c.do(ctx, auth, http.MethodPost, endpoint, body, out)
}

func (c *Client) apiURL(auth core.ProviderAuth, path string) (string, error) {
	realmID := strings.TrimSpace(auth.RealmID)
	if realmID == "" {
		return "", fmt.Errorf("quickbooks: realm id is required")
	}
	if strings.TrimSpace(auth.AccessToken) == "" {
		return "", fmt.Errorf("quickbooks: access token is required")
	}
	base := strings.TrimRight(c.cfg.APIBaseURL, "/")
	return fmt.Sprintf("%s/v3/company/%s/%s", base, url.PathEscape(realmID), path), nil
}

func (c *Client) do(ctx context.Context, auth core.ProviderAuth, method, endpoint string, body []byte, out any) error {
	if c == nil {
		return fmt.Errorf("quickbooks: client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	requestCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(requestCtx, method, endpoint, reader)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+auth.AccessToken)
	if len(body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	operation := fmt.Sprintf("%s %s", strings.ToLower(method), requestPathLabel(endpoint))
	bucket := ratelimit.Key{RealmID: auth.RealmID, Bucket: requestPathLabel(endpoint)}
	if c.cfg.RateLimit != nil {
		if err := c.cfg.RateLimit.BeforeCall(requestCtx, bucket); err != nil {
			var throttled ratelimit.ThrottledError
			if errors.As(err, &throttled) {
				return throttled.ToSyncError()
			}
			return err
		}
	}

	response, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return wrapTransportError(operation, err)
	}
	defer response.Body.Close()

	if c.cfg.RateLimit != nil {
		// State-store write failures never fail the provider call.
		_ = c.cfg.RateLimit.AfterCall(requestCtx, bucket, ratelimit.ResponseMeta{
			StatusCode: response.StatusCode,
			Headers:    flattenHeader(response.Header),
			Metadata:   map[string]any{"endpoint": bucket.Bucket},
		})
	}

	responseBody, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes+1))
	if readErr != nil {
		return fmt.Errorf("quickbooks: read %s response: %w", operation, readErr)
	}
	if int64(len(responseBody)) > maxResponseBodyBytes {
		return fmt.Errorf("quickbooks: %s response exceeds %d bytes", operation, maxResponseBodyBytes)
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return classifyStatus(operation, response, responseBody)
	}
	if out == nil || len(responseBody) == 0 {
		return nil
	}
	if unmarshalErr := json.Unmarshal(responseBody, out); unmarshalErr != nil {
		return fmt.Errorf("quickbooks: decode %s response: %w", operation, unmarshalErr)
	}
	return nil
}

func flattenHeader(header http.Header) map[string]string {
	if len(header) == 0 {
		return nil
	}
	out := make(map[string]string, len(header))
	for key := range header {
		out[key] = header.Get(key)
	}
	return out
}

func requestPathLabel(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) == 0 {
		return parsed.Path
	}
	return segments[len(segments)-1]
}
