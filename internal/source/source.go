// Package source defines the contracts for the two upstream acquisition
// collaborators: a cheap, rate-limited fast source with partial coverage,
// and a slow, near-exhaustive completeness source.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/user/medprice/internal/domain"
)

// ErrAuthExpired aborts the current acquisition call. It is surfaced
// distinctly from empty results so the caller can re-authenticate.
var ErrAuthExpired = errors.New("source: auth token expired")

// TransientError wraps a network-level failure the caller may retry.
// Nothing inside the core retries it automatically.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("source: transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable network failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// AggregateItem is one row of the fast source's aggregate search: min/max
// price across providers plus a provider count, no per-provider detail.
type AggregateItem struct {
	Name          string
	Specification string
	Manufacturer  string
	MinPrice      decimal.Decimal
	MaxPrice      decimal.Decimal
	ProviderCount int
	ExternalID    int64
}

// Provider identifies one upstream seller.
type Provider struct {
	ID   int64
	Name string
}

// HotItem is one product from a provider's hot-sales listing.
type HotItem struct {
	Name          string
	Price         decimal.Decimal
	Specification string
	Manufacturer  string
	WholesaleID   int64
}

// FastSource is the cheap path. Calls are rate-limited upstream; coverage
// is limited to hot-sale listings. An empty result is not an error.
type FastSource interface {
	SearchAggregate(ctx context.Context, keyword string, page, pageSize int) ([]AggregateItem, error)
	ListProviders(ctx context.Context, keyword string, externalID int64, page, pageSize int) ([]Provider, error)
	ListProviderHotItems(ctx context.Context, providerID int64, page, pageSize int) ([]HotItem, error)
}

// CompletenessSource is the slow path: near-exhaustive per-provider prices
// at the cost of a browser-automation session (seconds per call).
type CompletenessSource interface {
	GetAllProviderPrices(ctx context.Context, keyword string, externalID int64) ([]domain.ProviderPrice, error)
}
