package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/user/medprice/internal/domain"
	"github.com/user/medprice/internal/storage"
	"github.com/user/medprice/internal/strategy"
)

type acquireRequest struct {
	Keyword       string `json:"keyword"`
	ExternalID    int64  `json:"external_id,omitempty"`
	Mode          string `json:"mode,omitempty"`
	ForceComplete bool   `json:"force_complete,omitempty"`
}

type acquireResponse struct {
	strategy.Result
	Saved   int `json:"saved"`
	Skipped int `json:"skipped"`
	Flagged int `json:"flagged"`
}

// handleAcquire runs a single acquisition synchronously and persists its
// observations. Long batches belong in tasks; this endpoint is for one
// keyword at a time.
func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	var req acquireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Keyword = strings.TrimSpace(req.Keyword)
	if req.Keyword == "" {
		s.respondWithError(w, http.StatusBadRequest, "Keyword cannot be empty")
		return
	}

	mode := strategy.Mode(req.Mode)
	switch mode {
	case strategy.ModeFast, strategy.ModeComplete, strategy.ModeSmart:
	case "":
		mode = strategy.ModeSmart
	default:
		s.respondWithError(w, http.StatusBadRequest, "Unknown mode: "+req.Mode)
		return
	}

	res := s.strategy.Acquire(r.Context(), strategy.Query{
		Keyword:       req.Keyword,
		ExternalID:    req.ExternalID,
		Mode:          mode,
		ForceComplete: req.ForceComplete,
	})
	if res.AuthExpired {
		s.respondWithJSON(w, http.StatusBadGateway, res)
		return
	}

	batch, err := s.reconciler.ReconcileBatch(r.Context(), res.Observations)
	if err != nil {
		s.logger.Error("reconcile failed", zap.String("keyword", req.Keyword), zap.Error(err))
	}
	s.respondWithJSON(w, http.StatusOK, acquireResponse{
		Result:  res,
		Saved:   batch.Saved,
		Skipped: batch.Skipped,
		Flagged: batch.Flagged,
	})
}

type createTaskRequest struct {
	Name         string   `json:"name"`
	Keywords     []string `json:"keywords"`
	UseWatchList bool     `json:"use_watch_list"`
	Category     string   `json:"category"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	keywords := req.Keywords[:0]
	for _, kw := range req.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	if req.UseWatchList {
		entries, err := s.store.ListWatch(r.Context(), req.Category, true)
		if err != nil {
			s.logger.Error("failed to load watch list", zap.Error(err))
			s.respondWithError(w, http.StatusInternalServerError, "Could not load watch list")
			return
		}
		for _, e := range entries {
			keywords = append(keywords, e.Keyword)
		}
	}
	if len(keywords) == 0 {
		s.respondWithError(w, http.StatusBadRequest, "Keywords list cannot be empty")
		return
	}
	if req.Name == "" {
		req.Name = "acquisition " + time.Now().Format("2006-01-02 15:04")
	}

	t, err := s.orchestrator.Submit(r.Context(), req.Name, keywords)
	if err != nil {
		s.logger.Error("failed to submit task", zap.Error(err))
		s.respondWithError(w, http.StatusServiceUnavailable, "Could not queue task")
		return
	}
	s.respondWithJSON(w, http.StatusAccepted, t)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := domain.TaskStatus(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 50)

	tasks, err := s.store.ListTasks(r.Context(), status, limit)
	if err != nil {
		s.logger.Error("failed to list tasks", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not list tasks")
		return
	}
	s.respondWithJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "taskID")
	if !ok {
		return
	}
	t, err := s.store.TaskByID(r.Context(), id)
	if err != nil {
		s.respondNotFoundOr500(w, err, "task")
		return
	}
	s.respondWithJSON(w, http.StatusOK, struct {
		*domain.AcquisitionTask
		Progress float64 `json:"progress"`
	}{t, t.Progress()})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "taskID")
	if !ok {
		return
	}
	cancelled, err := s.orchestrator.Cancel(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to cancel task", zap.Int64("task_id", id), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not cancel task")
		return
	}
	if !cancelled {
		s.respondWithError(w, http.StatusConflict, "Task is not running")
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Cancellation requested"})
}

func (s *Server) handleTaskStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.TaskStatistics(r.Context())
	if err != nil {
		s.logger.Error("failed to compute statistics", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not compute statistics")
		return
	}
	s.respondWithJSON(w, http.StatusOK, stats)
}

type priceStats struct {
	Observations int              `json:"observations"`
	MinPrice     *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice     *decimal.Decimal `json:"max_price,omitempty"`
}

type searchResult struct {
	domain.CanonicalProduct
	PriceStats priceStats `json:"price_stats"`
}

func (s *Server) handleSearchProducts(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.respondWithError(w, http.StatusBadRequest, "Query parameter q is required")
		return
	}
	products, err := s.store.SearchProducts(r.Context(), q, queryInt(r, "limit", 50))
	if err != nil {
		s.logger.Error("product search failed", zap.String("q", q), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Search failed")
		return
	}

	results := make([]searchResult, 0, len(products))
	for _, p := range products {
		res := searchResult{CanonicalProduct: p}
		obs, err := s.store.ObservationsByProduct(r.Context(), p.ID)
		if err != nil {
			s.logger.Warn("could not load observations for search result",
				zap.Int64("product_id", p.ID), zap.Error(err))
			results = append(results, res)
			continue
		}
		res.PriceStats.Observations = len(obs)
		// Flagged rows stay out of the displayed price range.
		for i := range obs {
			if obs[i].OutlierFlag != domain.OutlierNone {
				continue
			}
			price := obs[i].Price
			if res.PriceStats.MinPrice == nil || price.LessThan(*res.PriceStats.MinPrice) {
				res.PriceStats.MinPrice = &price
			}
			if res.PriceStats.MaxPrice == nil || price.GreaterThan(*res.PriceStats.MaxPrice) {
				res.PriceStats.MaxPrice = &price
			}
		}
		results = append(results, res)
	}
	s.respondWithJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	p, err := s.store.ProductByID(r.Context(), id)
	if err != nil {
		s.respondNotFoundOr500(w, err, "product")
		return
	}
	s.respondWithJSON(w, http.StatusOK, p)
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	obs, err := s.store.ObservationsByProduct(r.Context(), id)
	if err != nil {
		s.respondNotFoundOr500(w, err, "product")
		return
	}
	s.respondWithJSON(w, http.StatusOK, obs)
}

type compareEntry struct {
	Product      domain.CanonicalProduct   `json:"product"`
	Observations []domain.PriceObservation `json:"observations"`
	LowestPrice  *decimal.Decimal          `json:"lowest_price,omitempty"`
}

// handleCompare lines up all manufacturer variants of a product (same
// simple key) with their clean, non-outlier price levels.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	p, err := s.store.ProductByID(r.Context(), id)
	if err != nil {
		s.respondNotFoundOr500(w, err, "product")
		return
	}
	variants, err := s.store.ProductsBySimpleKey(r.Context(), p.SimpleKey)
	if err != nil {
		s.logger.Error("compare lookup failed", zap.Int64("product_id", id), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Comparison failed")
		return
	}

	entries := make([]compareEntry, 0, len(variants))
	for _, v := range variants {
		obs, err := s.store.ObservationsByProduct(r.Context(), v.ID)
		if err != nil {
			s.logger.Error("compare observations failed", zap.Int64("product_id", v.ID), zap.Error(err))
			continue
		}
		entry := compareEntry{Product: v, Observations: obs}
		for i := range obs {
			if obs[i].OutlierFlag != domain.OutlierNone {
				continue
			}
			if entry.LowestPrice == nil || obs[i].Price.LessThan(*entry.LowestPrice) {
				price := obs[i].Price
				entry.LowestPrice = &price
			}
		}
		entries = append(entries, entry)
	}
	s.respondWithJSON(w, http.StatusOK, entries)
}

type watchRequest struct {
	Keyword  string `json:"keyword"`
	Category string `json:"category,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

func (s *Server) handleUpsertWatch(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Keyword = strings.TrimSpace(req.Keyword)
	if req.Keyword == "" {
		s.respondWithError(w, http.StatusBadRequest, "Keyword cannot be empty")
		return
	}
	entry, err := s.store.UpsertWatchEntry(r.Context(), req.Keyword, req.Category, req.Priority)
	if err != nil {
		s.logger.Error("failed to upsert watch entry", zap.String("keyword", req.Keyword), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not save watch entry")
		return
	}
	s.respondWithJSON(w, http.StatusOK, entry)
}

type watchBatchRequest struct {
	Keywords []string `json:"keywords"`
	Category string   `json:"category,omitempty"`
	Priority int      `json:"priority,omitempty"`
}

func (s *Server) handleBatchUpsertWatch(w http.ResponseWriter, r *http.Request) {
	var req watchBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	entries := make([]*domain.WatchListEntry, 0, len(req.Keywords))
	for _, kw := range req.Keywords {
		if kw = strings.TrimSpace(kw); kw == "" {
			continue
		}
		entry, err := s.store.UpsertWatchEntry(r.Context(), kw, req.Category, req.Priority)
		if err != nil {
			s.logger.Error("failed to upsert watch entry", zap.String("keyword", kw), zap.Error(err))
			s.respondWithError(w, http.StatusInternalServerError, "Could not save watch entries")
			return
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		s.respondWithError(w, http.StatusBadRequest, "Keywords list cannot be empty")
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]any{
		"added":   len(entries),
		"entries": entries,
	})
}

func (s *Server) handleListWatch(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") == ""
	entries, err := s.store.ListWatch(r.Context(), r.URL.Query().Get("category"), activeOnly)
	if err != nil {
		s.logger.Error("failed to list watch entries", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not list watch entries")
		return
	}
	s.respondWithJSON(w, http.StatusOK, entries)
}

func (s *Server) handleWatchCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.WatchCategories(r.Context())
	if err != nil {
		s.logger.Error("failed to list watch categories", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not list categories")
		return
	}
	s.respondWithJSON(w, http.StatusOK, categories)
}

func (s *Server) handleDeactivateWatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "entryID")
	if !ok {
		return
	}
	removed, err := s.store.DeactivateWatchEntry(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to deactivate watch entry", zap.Int64("entry_id", id), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not deactivate entry")
		return
	}
	if !removed {
		s.respondWithError(w, http.StatusNotFound, "Watch entry not found")
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Watch entry deactivated"})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	healthStatus := make(map[string]string)

	// Check Postgres
	if err := s.pgStore.Ping(ctx); err != nil {
		healthStatus["postgres"] = "unhealthy"
		s.logger.Error("health check failed for postgres", zap.Error(err))
	} else {
		healthStatus["postgres"] = "healthy"
	}

	// Check Redis
	if err := s.redisStore.Ping(ctx); err != nil {
		healthStatus["redis"] = "unhealthy"
		s.logger.Error("health check failed for redis", zap.Error(err))
	} else {
		healthStatus["redis"] = "healthy"
	}

	isHealthy := healthStatus["postgres"] == "healthy" && healthStatus["redis"] == "healthy"
	if !isHealthy {
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}

	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

// --- Helper Functions ---

func (s *Server) respondNotFoundOr500(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, storage.ErrNotFound) {
		s.respondWithError(w, http.StatusNotFound, "The requested "+what+" was not found")
		return
	}
	s.logger.Error("lookup failed", zap.String("entity", what), zap.Error(err))
	s.respondWithError(w, http.StatusInternalServerError, "Could not retrieve "+what)
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, `{"error":"Invalid id"}`, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
