package reconcile

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/user/medprice/internal/domain"
)

// Well-known sentinel values sellers list instead of a real quote.
var placeholderPrices = []decimal.Decimal{
	decimal.NewFromInt(9999),
	decimal.NewFromInt(99999),
	decimal.NewFromInt(999999),
	decimal.RequireFromString("9.99"),
	decimal.RequireFromString("99.99"),
}

var iqrFactor = decimal.RequireFromString("1.5")

const (
	minObsForDetection = 3
	minObsForIQR       = 5
)

func isPlaceholder(p decimal.Decimal) bool {
	for _, sentinel := range placeholderPrices {
		if p.Equal(sentinel) {
			return true
		}
	}
	return false
}

// FlagOutliers runs outlier detection over each listed product and returns
// how many observations were newly flagged. Products with fewer than three
// observations are left alone; the interquartile fences additionally need
// five. Previously flagged rows are never re-examined.
func (r *Reconciler) FlagOutliers(ctx context.Context, productIDs []int64) (int, error) {
	flagged := 0
	for _, id := range productIDs {
		n, err := r.flagProduct(ctx, id)
		if err != nil {
			return flagged, fmt.Errorf("flag outliers for product %d: %w", id, err)
		}
		flagged += n
	}
	return flagged, nil
}

func (r *Reconciler) flagProduct(ctx context.Context, productID int64) (int, error) {
	obs, err := r.store.ObservationsByProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	if len(obs) < minObsForDetection {
		return 0, nil
	}

	flagged := 0
	for i := range obs {
		o := &obs[i]
		if o.OutlierFlag != domain.OutlierNone || !isPlaceholder(o.Price) {
			continue
		}
		if err := r.flag(ctx, o, domain.OutlierPlaceholder, "占位价格"); err != nil {
			return flagged, err
		}
		flagged++
	}

	if len(obs) < minObsForIQR {
		return flagged, nil
	}

	// Quartiles by rank over the whole sample, fences at 1.5 IQR.
	values := make([]decimal.Decimal, len(obs))
	for i, o := range obs {
		values[i] = o.Price
	}
	sort.Slice(values, func(i, j int) bool { return values[i].LessThan(values[j]) })
	q1 := values[len(values)/4]
	q3 := values[len(values)*3/4]
	iqr := q3.Sub(q1)
	if !iqr.IsPositive() {
		// A collapsed quartile range means most providers quote the same
		// price; fences at Q1/Q3 would flag every deviation.
		return flagged, nil
	}
	lower := q1.Sub(iqr.Mul(iqrFactor))
	upper := q3.Add(iqr.Mul(iqrFactor))

	for i := range obs {
		o := &obs[i]
		if o.OutlierFlag != domain.OutlierNone {
			continue
		}
		switch {
		case o.Price.LessThan(lower):
			reason := fmt.Sprintf("异常低价 (低于 ¥%s)", lower.StringFixed(2))
			if err := r.flag(ctx, o, domain.OutlierLow, reason); err != nil {
				return flagged, err
			}
			flagged++
		case o.Price.GreaterThan(upper):
			reason := fmt.Sprintf("异常高价 (高于 ¥%s)", upper.StringFixed(2))
			if err := r.flag(ctx, o, domain.OutlierHigh, reason); err != nil {
				return flagged, err
			}
			flagged++
		}
	}
	return flagged, nil
}

func (r *Reconciler) flag(ctx context.Context, o *domain.PriceObservation, flag domain.OutlierFlag, reason string) error {
	if err := r.store.SetObservationOutlier(ctx, o.ID, flag, reason); err != nil {
		return err
	}
	o.OutlierFlag = flag
	o.OutlierReason = reason
	if r.metrics != nil {
		r.metrics.OutliersFlagged.WithLabelValues(string(flag)).Inc()
	}
	r.logger.Debug("observation flagged",
		zap.Int64("observation_id", o.ID),
		zap.String("flag", string(flag)),
		zap.String("price", o.Price.String()))
	return nil
}
