package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Upstream endpoint paths, relative to the configured base URL.
const (
	searchAggregatePath = "/wholesale-drug/sales/getRegularSearchPurchaseListForPc/v5430"
	listProvidersPath   = "/wholesale-drug/sales/facetWholesaleListByProvider/v4270"
	providerHotPath     = "/wholesale-drug/sales/getHotWholesalesForProvider/v4230"
)

// APISource is the FastSource implementation over the upstream JSON API.
// Every call attaches the shared bearer token; an auth-expired status code
// is surfaced as ErrAuthExpired, never as an empty result.
type APISource struct {
	client  *http.Client
	tokens  *TokenManager
	logger  *zap.Logger
	baseURL string
}

// NewAPISource builds the fast source against baseURL.
func NewAPISource(baseURL string, tokens *TokenManager, timeout time.Duration, logger *zap.Logger) *APISource {
	return &APISource{
		client:  &http.Client{Timeout: timeout},
		tokens:  tokens,
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type envelope struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// post issues one authenticated API call and unwraps the status envelope.
func (s *APISource) post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Token", token)
	req.AddCookie(&http.Cookie{Name: "Token", Value: token})

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &TransientError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("source: decoding %s response: %w", path, err)
	}
	if codeAuthExpired(env.Code) {
		s.tokens.Invalidate(ctx)
		return nil, ErrAuthExpired
	}
	if !codeOK(env.Code) {
		return nil, fmt.Errorf("source: %s returned error: %s", path, env.Message)
	}
	return env.Data, nil
}

// Probe issues the cheapest possible authenticated call, used to validate
// the token before a bulk run.
func (s *APISource) Probe(ctx context.Context) error {
	_, err := s.post(ctx, searchAggregatePath, map[string]interface{}{
		"keyword": "感冒", "page": 1, "pageSize": 1,
	})
	return err
}

// aggregateRow tolerates the two shapes search results arrive in: a bare
// drug object or one nested under a "drug" key.
type aggregateRow struct {
	Drug *aggregateDrug `json:"drug"`
	aggregateDrug
}

type aggregateDrug struct {
	DrugName      string          `json:"drugName"`
	MinPrice      json.RawMessage `json:"minprice"`
	MaxPrice      json.RawMessage `json:"maxprice"`
	Specification string          `json:"specification"`
	Factory       string          `json:"factory"`
	DrugID        int64           `json:"drugId"`
	WholesaleNum  int             `json:"wholesaleNum"`
}

func (s *APISource) SearchAggregate(ctx context.Context, keyword string, page, pageSize int) ([]AggregateItem, error) {
	data, err := s.post(ctx, searchAggregatePath, map[string]interface{}{
		"keyword": keyword, "page": page, "pageSize": pageSize,
	})
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows[aggregateRow](data)
	if err != nil {
		return nil, fmt.Errorf("source: parsing aggregate search: %w", err)
	}

	items := make([]AggregateItem, 0, len(rows))
	for _, row := range rows {
		d := row.aggregateDrug
		if row.Drug != nil {
			d = *row.Drug
		}
		if d.DrugName == "" {
			continue
		}
		minP, ok := parsePrice(d.MinPrice)
		if !ok {
			s.logger.Warn("skipping aggregate row with unparseable price",
				zap.String("name", d.DrugName))
			continue
		}
		maxP, ok := parsePrice(d.MaxPrice)
		if !ok {
			maxP = minP
		}
		items = append(items, AggregateItem{
			Name:          d.DrugName,
			Specification: d.Specification,
			Manufacturer:  d.Factory,
			MinPrice:      minP,
			MaxPrice:      maxP,
			ProviderCount: d.WholesaleNum,
			ExternalID:    d.DrugID,
		})
	}
	return items, nil
}

type providerRow struct {
	PID          int64  `json:"pid"`
	Name         string `json:"name"`
	Abbreviation string `json:"abbreviation"`
}

func (s *APISource) ListProviders(ctx context.Context, keyword string, externalID int64, page, pageSize int) ([]Provider, error) {
	body := map[string]interface{}{"keyword": keyword, "page": page, "pageSize": pageSize}
	if externalID != 0 {
		body["drugId"] = externalID
	}
	data, err := s.post(ctx, listProvidersPath, body)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Providers []providerRow `json:"providers"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("source: parsing provider list: %w", err)
	}

	providers := make([]Provider, 0, len(wrapper.Providers))
	for _, p := range wrapper.Providers {
		name := p.Abbreviation
		if name == "" {
			name = p.Name
		}
		if name == "" {
			continue
		}
		providers = append(providers, Provider{ID: p.PID, Name: name})
	}
	return providers, nil
}

type hotItemRow struct {
	DrugName      string          `json:"drugname"`
	Price         json.RawMessage `json:"price"`
	Specification string          `json:"specification"`
	Manufacturer  string          `json:"manufacturer"`
	WholesaleID   int64           `json:"wholesaleid"`
}

func (s *APISource) ListProviderHotItems(ctx context.Context, providerID int64, page, pageSize int) ([]HotItem, error) {
	data, err := s.post(ctx, providerHotPath, map[string]interface{}{
		"providerId": providerID, "page": page, "pageSize": pageSize,
	})
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows[hotItemRow](data)
	if err != nil {
		return nil, fmt.Errorf("source: parsing hot items: %w", err)
	}

	items := make([]HotItem, 0, len(rows))
	for _, row := range rows {
		if row.DrugName == "" {
			continue
		}
		price, ok := parsePrice(row.Price)
		if !ok || !price.IsPositive() {
			s.logger.Warn("skipping hot item with unparseable price",
				zap.String("name", row.DrugName), zap.Int64("provider_id", providerID))
			continue
		}
		items = append(items, HotItem{
			Name:          row.DrugName,
			Price:         price,
			Specification: row.Specification,
			Manufacturer:  row.Manufacturer,
			WholesaleID:   row.WholesaleID,
		})
	}
	return items, nil
}

// decodeRows tolerates the list arriving either bare or under a "list" key.
func decodeRows[T any](data json.RawMessage) ([]T, error) {
	var rows []T
	if err := json.Unmarshal(data, &rows); err == nil {
		return rows, nil
	}
	var wrapper struct {
		List []T `json:"list"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.List, nil
}

// parsePrice accepts numbers and strings, tolerating currency prefixes.
func parsePrice(raw json.RawMessage) (decimal.Decimal, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Zero, false
	}
	s := strings.Trim(string(raw), `"`)
	s = strings.NewReplacer("¥", "", "￥", "", ",", "").Replace(s)
	s = strings.TrimSpace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d.Round(2), true
}
