package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestAPISource wires an APISource against a stub upstream that serves
// both the login endpoint and the API paths. The redis cache points at a
// closed port, so every run logs in fresh; cache write failures are only
// warnings by design of the token manager.
func newTestAPISource(t *testing.T, handler http.HandlerFunc) (*APISource, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	tokens := NewTokenManager(rdb, srv.URL+"/login",
		Credentials{Phone: "13800000000", Password: "secret"}, zap.NewNop())
	return NewAPISource(srv.URL, tokens, 5*time.Second, zap.NewNop()), srv
}

func loginOK(w http.ResponseWriter) {
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code": "0",
		"data": map[string]string{"token": "tok-123"},
	})
}

func TestSearchAggregate(t *testing.T) {
	var gotToken string
	src, _ := newTestAPISource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			loginOK(w)
			return
		}
		require.Equal(t, searchAggregatePath, r.URL.Path)
		gotToken = r.Header.Get("Token")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 0,
			"data": map[string]interface{}{
				"list": []map[string]interface{}{
					{"drug": map[string]interface{}{
						"drugName":      "阿莫西林胶囊",
						"minprice":      "¥12.50",
						"maxprice":      15.8,
						"specification": "0.25g*24粒",
						"factory":       "华北制药",
						"drugId":        42,
						"wholesaleNum":  7,
					}},
					// Rows without a name are dropped.
					{"drug": map[string]interface{}{"minprice": 1}},
				},
			},
		})
	})

	items, err := src.SearchAggregate(context.Background(), "阿莫西林", 1, 60)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "tok-123", gotToken)
	assert.Equal(t, "阿莫西林胶囊", items[0].Name)
	assert.Equal(t, "12.5", items[0].MinPrice.String())
	assert.Equal(t, "15.8", items[0].MaxPrice.String())
	assert.Equal(t, int64(42), items[0].ExternalID)
	assert.Equal(t, 7, items[0].ProviderCount)
}

func TestListProvidersPrefersAbbreviation(t *testing.T) {
	src, _ := newTestAPISource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			loginOK(w)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": "0",
			"data": map[string]interface{}{
				"providers": []map[string]interface{}{
					{"pid": 1, "name": "康德乐大药房连锁有限公司", "abbreviation": "康德乐"},
					{"pid": 2, "name": "老百姓大药房"},
					{"pid": 3}, // nameless rows are dropped
				},
			},
		})
	})

	providers, err := src.ListProviders(context.Background(), "阿莫西林", 42, 1, 50)
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, "康德乐", providers[0].Name)
	assert.Equal(t, "老百姓大药房", providers[1].Name)
}

func TestAuthExpiredSurfaced(t *testing.T) {
	src, _ := newTestAPISource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			loginOK(w)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": "40020", "message": "token expired",
		})
	})

	_, err := src.ListProviderHotItems(context.Background(), 1, 1, 200)
	assert.ErrorIs(t, err, ErrAuthExpired)
}

func TestSoftSuccessCode(t *testing.T) {
	src, _ := newTestAPISource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			loginOK(w)
			return
		}
		// "40001" means success-with-warnings upstream.
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": "40001",
			"data": []map[string]interface{}{
				{"drugname": "布洛芬缓释胶囊", "price": "23.40", "wholesaleid": 9001},
			},
		})
	})

	items, err := src.ListProviderHotItems(context.Background(), 1, 1, 200)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "布洛芬缓释胶囊", items[0].Name)
	assert.Equal(t, "23.4", items[0].Price.String())
	assert.Equal(t, int64(9001), items[0].WholesaleID)
}

func TestLoginRejected(t *testing.T) {
	src, _ := newTestAPISource(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": "1001", "message": "bad credentials",
		})
	})

	_, err := src.SearchAggregate(context.Background(), "阿莫西林", 1, 60)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login rejected")
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{`"¥12.50"`, "12.5", true},
		{`"￥1,234.56"`, "1234.56", true},
		{`15.8`, "15.8", true},
		{`"15.899"`, "15.9", true}, // rounded to cents
		{`null`, "", false},
		{`"面议"`, "", false},
	}
	for _, tc := range cases {
		got, ok := parsePrice(json.RawMessage(tc.raw))
		assert.Equal(t, tc.ok, ok, tc.raw)
		if tc.ok {
			assert.Equal(t, tc.want, got.String(), tc.raw)
		}
	}
}
