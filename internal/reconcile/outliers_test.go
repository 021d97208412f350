package reconcile

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/medprice/internal/domain"
)

// seedObservations inserts one observation per price, each from a distinct
// provider, and returns the product id.
func seedObservations(t *testing.T, r *Reconciler, prices []string) int64 {
	t.Helper()
	ctx := context.Background()
	var productID int64
	for i, p := range prices {
		id, inserted, err := r.UpsertObservation(ctx,
			record(fmt.Sprintf("药房%d", i), "阿莫西林胶囊", "0.25g×24粒", "华北制药", p))
		require.NoError(t, err)
		require.True(t, inserted)
		productID = id
	}
	return productID
}

func flagsByPrice(t *testing.T, r *Reconciler, productID int64) map[string]domain.OutlierFlag {
	t.Helper()
	obs, err := r.store.ObservationsByProduct(context.Background(), productID)
	require.NoError(t, err)
	out := make(map[string]domain.OutlierFlag, len(obs))
	for _, o := range obs {
		out[o.Price.String()] = o.OutlierFlag
	}
	return out
}

func TestFlagOutliersIQR(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	productID := seedObservations(t, r, []string{"9", "10", "10", "11", "12", "50"})

	flagged, err := r.FlagOutliers(ctx, []int64{productID})
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)

	// Q1=10, Q3=12, IQR=2: fences at 7 and 15, so only 50 is suspect.
	flags := flagsByPrice(t, r, productID)
	assert.Equal(t, domain.OutlierHigh, flags["50"])
	assert.Equal(t, domain.OutlierNone, flags["9"])
	assert.Equal(t, domain.OutlierNone, flags["12"])
}

func TestFlagOutliersLow(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	productID := seedObservations(t, r, []string{"0.5", "10", "10.5", "11", "11.5", "12"})

	flagged, err := r.FlagOutliers(ctx, []int64{productID})
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)

	flags := flagsByPrice(t, r, productID)
	assert.Equal(t, domain.OutlierLow, flags["0.5"])
}

func TestFlagOutliersUniformPricesNeverFlag(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	// Q1 == Q3, so the quartile range collapses and fences would sit on the
	// consensus price itself. The cheaper quote must survive.
	productID := seedObservations(t, r, []string{"5", "10", "10", "10", "10"})

	flagged, err := r.FlagOutliers(ctx, []int64{productID})
	require.NoError(t, err)
	assert.Equal(t, 0, flagged)

	flags := flagsByPrice(t, r, productID)
	assert.Equal(t, domain.OutlierNone, flags["5"])
	assert.Equal(t, domain.OutlierNone, flags["10"])
}

func TestFlagOutliersPlaceholder(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	// Three observations suffice for the placeholder check even though the
	// quartile fences need five.
	productID := seedObservations(t, r, []string{"10", "11", "9999"})

	flagged, err := r.FlagOutliers(ctx, []int64{productID})
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)

	flags := flagsByPrice(t, r, productID)
	assert.Equal(t, domain.OutlierPlaceholder, flags["9999"])
	assert.Equal(t, domain.OutlierNone, flags["10"])
}

func TestFlagOutliersTooFewObservations(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	productID := seedObservations(t, r, []string{"10", "9999"})

	flagged, err := r.FlagOutliers(ctx, []int64{productID})
	require.NoError(t, err)
	assert.Equal(t, 0, flagged, "fewer than three observations are never flagged")

	// Four observations: placeholders flagged, but no quartile fences yet.
	r2, _ := newTestReconciler(t)
	productID2 := seedObservations(t, r2, []string{"10", "11", "12", "99999"})
	flagged, err = r2.FlagOutliers(ctx, []int64{productID2})
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)
	flags := flagsByPrice(t, r2, productID2)
	assert.Equal(t, domain.OutlierPlaceholder, flags["99999"])
}

func TestFlagOutliersIdempotent(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	productID := seedObservations(t, r, []string{"9", "10", "10", "11", "12", "50"})

	flagged, err := r.FlagOutliers(ctx, []int64{productID})
	require.NoError(t, err)
	require.Equal(t, 1, flagged)

	// A second pass sees the flag and leaves the row alone.
	flagged, err = r.FlagOutliers(ctx, []int64{productID})
	require.NoError(t, err)
	assert.Equal(t, 0, flagged)
}
