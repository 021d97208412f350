package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/user/medprice/internal/domain"
	"github.com/user/medprice/internal/identity"
	"github.com/user/medprice/internal/monitoring"
	"github.com/user/medprice/internal/storage"
)

// Reconciler folds provider price records from any source into the canonical
// product catalog and appends deduplicated observations.
type Reconciler struct {
	store       storage.Store
	resolver    *identity.Resolver
	sourceLabel string
	logger      *zap.Logger
	metrics     *monitoring.Metrics
}

func New(store storage.Store, resolver *identity.Resolver, sourceLabel string, logger *zap.Logger, metrics *monitoring.Metrics) *Reconciler {
	if sourceLabel == "" {
		sourceLabel = "ysbang"
	}
	return &Reconciler{
		store:       store,
		resolver:    resolver,
		sourceLabel: sourceLabel,
		logger:      logger,
		metrics:     metrics,
	}
}

// BatchResult summarizes one reconciled batch.
type BatchResult struct {
	Saved      int
	Skipped    int
	Failed     int
	Flagged    int
	ProductIDs []int64
}

// ReconcileBatch upserts every record of a batch and then runs outlier
// detection over the touched products. A bad record never aborts the batch.
func (r *Reconciler) ReconcileBatch(ctx context.Context, records []domain.ProviderPrice) (BatchResult, error) {
	res := BatchResult{}
	touched := make(map[int64]struct{})

	for _, rec := range records {
		productID, inserted, err := r.UpsertObservation(ctx, rec)
		if err != nil {
			res.Failed++
			r.logger.Warn("reconcile record failed",
				zap.String("product", rec.ProductName),
				zap.String("provider", rec.ProviderName),
				zap.Error(err))
			continue
		}
		touched[productID] = struct{}{}
		if inserted {
			res.Saved++
		} else {
			res.Skipped++
		}
	}

	for id := range touched {
		res.ProductIDs = append(res.ProductIDs, id)
	}
	flagged, err := r.FlagOutliers(ctx, res.ProductIDs)
	res.Flagged = flagged
	if err != nil {
		return res, err
	}
	if r.metrics != nil {
		r.metrics.ObservationsSaved.Add(float64(res.Saved))
	}
	return res, nil
}

// UpsertObservation resolves the record to a canonical product, creating or
// backfilling the product as needed, and appends one observation. The bool
// result reports whether a new row was actually written.
func (r *Reconciler) UpsertObservation(ctx context.Context, rec domain.ProviderPrice) (int64, bool, error) {
	cleanName := r.resolver.CleanRawName(rec.ProductName)
	if cleanName == "" {
		return 0, false, fmt.Errorf("empty product name after cleaning %q", rec.ProductName)
	}
	specNorm := r.resolver.NormalizeSpec(rec.Specification)
	fullKey := r.resolver.FullKey(cleanName, rec.Specification, rec.Manufacturer)
	simpleKey := r.resolver.SimpleKey(cleanName, rec.Specification)

	product, err := r.store.ProductByFullKey(ctx, fullKey)
	if errors.Is(err, storage.ErrNotFound) && strings.TrimSpace(rec.Manufacturer) == "" {
		// Manufacturer-less listings fold into an existing product with
		// the same name and spec rather than spawning a sibling.
		product, err = r.store.ProductByNameSpec(ctx, r.resolver.Normalize(cleanName), specNorm)
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		product, err = r.createProduct(ctx, rec, cleanName, fullKey, simpleKey)
		if err != nil {
			return 0, false, err
		}
	case err != nil:
		return 0, false, fmt.Errorf("lookup product: %w", err)
	default:
		if err := r.backfill(ctx, product, rec); err != nil {
			r.logger.Warn("classification backfill failed",
				zap.Int64("product_id", product.ID), zap.Error(err))
		}
	}

	obs := domain.PriceObservation{
		ProductID:   product.ID,
		SourceName:  fmt.Sprintf("%s-%s", r.sourceLabel, rec.ProviderName),
		SourceRef:   rec.SourceRef,
		Price:       rec.Price,
		ObservedAt:  time.Now(),
		OutlierFlag: domain.OutlierNone,
	}
	inserted, err := r.store.AppendObservation(ctx, &obs)
	if err != nil {
		return product.ID, false, fmt.Errorf("append observation: %w", err)
	}
	return product.ID, inserted, nil
}

func (r *Reconciler) createProduct(ctx context.Context, rec domain.ProviderPrice, cleanName, fullKey, simpleKey string) (*domain.CanonicalProduct, error) {
	generic, brand := r.resolver.ExtractGeneric(cleanName)
	regCode := ExtractRegulatoryCode(rec.ProductName)
	cls := Classify(cleanName, rec.Manufacturer, regCode)
	if cls.Confidence < reviewConfidence {
		r.logger.Info("low confidence classification",
			zap.String("name", cleanName),
			zap.String("category", string(cls.Category)),
			zap.Float64("confidence", cls.Confidence),
			zap.String("reason", cls.Reason))
	}

	product := &domain.CanonicalProduct{
		FullKey:        fullKey,
		SimpleKey:      simpleKey,
		Name:           r.resolver.Normalize(cleanName),
		GenericName:    generic,
		BrandName:      brand,
		Specification:  r.resolver.NormalizeSpec(rec.Specification),
		Manufacturer:   strings.TrimSpace(rec.Manufacturer),
		Category:       cls.Category,
		RegulatoryCode: regCode,
	}
	id, err := r.store.CreateProduct(ctx, product)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	product.ID = id
	return product, nil
}

// backfill upgrades a drug-by-default product when stronger evidence arrives
// later, and fills a missing regulatory code. It never downgrades.
func (r *Reconciler) backfill(ctx context.Context, product *domain.CanonicalProduct, rec domain.ProviderPrice) error {
	regCode := ExtractRegulatoryCode(rec.ProductName)

	var newCategory domain.ProductCategory
	if product.Category == domain.CategoryDrug {
		cls := Classify(product.Name, rec.Manufacturer, regCode)
		if cls.Category != domain.CategoryDrug && cls.Confidence >= reviewConfidence {
			newCategory = cls.Category
		}
	}
	newCode := ""
	if product.RegulatoryCode == "" && regCode != "" {
		newCode = regCode
	}
	if newCategory == "" && newCode == "" {
		return nil
	}
	return r.store.BackfillClassification(ctx, product.ID, newCategory, newCode)
}
