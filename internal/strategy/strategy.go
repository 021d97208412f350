// Package strategy decides, per request, whether the cheap fast source
// suffices or the slow completeness source must be consulted, and merges
// the results of both paths.
package strategy

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/medprice/internal/domain"
	"github.com/user/medprice/internal/monitoring"
	"github.com/user/medprice/internal/source"
)

// Mode selects the acquisition policy.
type Mode string

const (
	// ModeFast consults only the fast source.
	ModeFast Mode = "fast"
	// ModeComplete consults only the completeness source.
	ModeComplete Mode = "complete"
	// ModeSmart uses the fast source and falls back to the completeness
	// source when coverage is insufficient.
	ModeSmart Mode = "smart"
)

// Acquisition methods reported in results.
const (
	MethodAPI        = "api"
	MethodPlaywright = "playwright"
	MethodHybrid     = "hybrid"
)

const (
	defaultPageSize  = 60
	maxProviders     = 50
	hotItemsPageSize = 200
)

// Query is one acquisition request.
type Query struct {
	Keyword       string
	ExternalID    int64
	Mode          Mode
	ForceComplete bool
}

// Result is the structured outcome of one acquisition run. It never wraps
// a raw error across the core boundary; failures are recorded in fields.
type Result struct {
	RunID             string                 `json:"run_id"`
	Keyword           string                 `json:"keyword"`
	Method            string                 `json:"method"`
	Success           bool                   `json:"success"`
	AuthExpired       bool                   `json:"auth_expired,omitempty"`
	Observations      []domain.ProviderPrice `json:"observations"`
	FastCount         int                    `json:"fast_count"`
	CompleteCount     int                    `json:"complete_count"`
	Error             string                 `json:"error,omitempty"`
	CompletenessError string                 `json:"completeness_error,omitempty"`
}

// Strategy orchestrates the two sources under a cost/completeness tradeoff.
type Strategy struct {
	fast      source.FastSource
	complete  source.CompletenessSource
	threshold int
	logger    *zap.Logger
	metrics   *monitoring.Metrics
}

// New builds a strategy. threshold is the provider count below which the
// smart mode escalates to the completeness source.
func New(fast source.FastSource, complete source.CompletenessSource, threshold int, m *monitoring.Metrics, l *zap.Logger) *Strategy {
	if threshold <= 0 {
		threshold = 5
	}
	return &Strategy{fast: fast, complete: complete, threshold: threshold, logger: l, metrics: m}
}

// Acquire runs one acquisition for the query. Fast-path results are always
// gathered before completeness-path results; the merge keeps all fast
// results and appends only completeness results from unseen providers.
func (s *Strategy) Acquire(ctx context.Context, q Query) Result {
	res := Result{RunID: uuid.NewString(), Keyword: q.Keyword}

	switch q.Mode {
	case ModeComplete:
		q.ForceComplete = true
	case ModeFast:
		s.runFast(ctx, q, &res)
		res.Method = MethodAPI
		res.Success = len(res.Observations) > 0
		s.metrics.IncAcquisition(res.Method)
		return res
	}

	if q.ForceComplete {
		s.runComplete(ctx, q, &res, nil)
		res.Method = MethodPlaywright
		res.Success = len(res.Observations) > 0
		s.metrics.IncAcquisition(res.Method)
		return res
	}

	// Smart policy: fast first, escalate on thin coverage.
	fastErr := s.runFast(ctx, q, &res)
	if res.AuthExpired {
		return res
	}

	if fastErr == nil && res.FastCount >= s.threshold {
		res.Method = MethodAPI
		res.Success = true
		s.logger.Info("fast source coverage sufficient",
			zap.String("keyword", q.Keyword), zap.Int("providers", res.FastCount))
		s.metrics.IncAcquisition(res.Method)
		return res
	}

	s.logger.Info("fast source coverage insufficient, consulting completeness source",
		zap.String("keyword", q.Keyword),
		zap.Int("providers", res.FastCount), zap.Int("threshold", s.threshold))

	seen := make(map[string]bool, len(res.Observations))
	for _, o := range res.Observations {
		seen[o.ProviderName] = true
	}
	added := s.runComplete(ctx, q, &res, seen)

	switch {
	case res.AuthExpired:
		return res
	case res.CompletenessError != "":
		// Degraded to fast-only results.
		res.Method = MethodAPI
		res.Success = res.FastCount > 0
	case added > 0 && res.FastCount > 0:
		res.Method = MethodHybrid
		res.Success = true
	case res.FastCount == 0:
		res.Method = MethodPlaywright
		res.Success = added > 0
	default:
		res.Method = MethodAPI
		res.Success = true
	}
	s.metrics.IncAcquisition(res.Method)
	return res
}

// runFast gathers the fast path: aggregate search, provider listing, then
// per-provider hot items filtered by the keyword match rule. One
// observation per provider, keyed by provider name. Failures inside a
// single provider's listing are absorbed; a failure of the path itself is
// returned and recorded as advisory.
func (s *Strategy) runFast(ctx context.Context, q Query, res *Result) error {
	start := time.Now()
	defer func() { s.metrics.ObserveSource("fast", time.Since(start)) }()

	externalID := q.ExternalID
	aggs, err := s.fast.SearchAggregate(ctx, q.Keyword, 1, defaultPageSize)
	if err != nil {
		return s.recordFastErr(q.Keyword, res, err)
	}
	if externalID == 0 {
		for _, a := range aggs {
			if matchesKeyword(a.Name, q.Keyword) {
				externalID = a.ExternalID
				break
			}
		}
	}

	providers, err := s.fast.ListProviders(ctx, q.Keyword, externalID, 1, maxProviders)
	if err != nil {
		return s.recordFastErr(q.Keyword, res, err)
	}

	byProvider := make(map[string]bool, len(providers))
	for _, p := range providers {
		items, err := s.fast.ListProviderHotItems(ctx, p.ID, 1, hotItemsPageSize)
		if err != nil {
			if errors.Is(err, source.ErrAuthExpired) {
				return s.recordFastErr(q.Keyword, res, err)
			}
			s.logger.Warn("provider hot items failed, skipping provider",
				zap.String("keyword", q.Keyword), zap.String("provider", p.Name), zap.Error(err))
			s.metrics.IncErrorsTotal("fast_source")
			continue
		}
		for _, item := range items {
			if !matchesKeyword(item.Name, q.Keyword) {
				continue
			}
			if byProvider[p.Name] {
				break
			}
			byProvider[p.Name] = true
			res.Observations = append(res.Observations, domain.ProviderPrice{
				ProviderName:  p.Name,
				ProviderID:    p.ID,
				ProductName:   item.Name,
				Price:         item.Price,
				Specification: item.Specification,
				Manufacturer:  item.Manufacturer,
				SourceRef:     sourceRef(item.WholesaleID),
			})
			break // one matching item per provider
		}
	}
	res.FastCount = len(res.Observations)
	return nil
}

func (s *Strategy) recordFastErr(keyword string, res *Result, err error) error {
	if errors.Is(err, source.ErrAuthExpired) {
		res.AuthExpired = true
		res.Error = err.Error()
		return err
	}
	s.logger.Warn("fast source failed", zap.String("keyword", keyword), zap.Error(err))
	s.metrics.IncErrorsTotal("fast_source")
	res.Error = err.Error()
	return err
}

// runComplete invokes the completeness source and appends observations from
// providers not already seen on the fast path. Returns the number appended.
func (s *Strategy) runComplete(ctx context.Context, q Query, res *Result, seen map[string]bool) int {
	start := time.Now()
	defer func() { s.metrics.ObserveSource("completeness", time.Since(start)) }()

	prices, err := s.complete.GetAllProviderPrices(ctx, q.Keyword, q.ExternalID)
	if err != nil {
		if errors.Is(err, source.ErrAuthExpired) {
			res.AuthExpired = true
			res.CompletenessError = err.Error()
			return 0
		}
		s.logger.Warn("completeness source failed",
			zap.String("keyword", q.Keyword), zap.Error(err))
		s.metrics.IncErrorsTotal("completeness_source")
		res.CompletenessError = err.Error()
		return 0
	}

	added := 0
	for _, p := range prices {
		if seen != nil && seen[p.ProviderName] {
			continue
		}
		res.Observations = append(res.Observations, p)
		added++
	}
	res.CompleteCount = added
	return added
}

// matchesKeyword applies the fast-path filter: case-insensitive substring
// match, or, for keywords of at least 3 runes, a partial-prefix match on
// the first 3 runes.
func matchesKeyword(name, keyword string) bool {
	n := strings.ToLower(name)
	k := strings.ToLower(keyword)
	if strings.Contains(n, k) {
		return true
	}
	kr := []rune(k)
	if len(kr) >= 3 && strings.Contains(n, string(kr[:3])) {
		return true
	}
	return false
}

func sourceRef(wholesaleID int64) string {
	if wholesaleID == 0 {
		return ""
	}
	return "wholesale:" + strconv.FormatInt(wholesaleID, 10)
}
