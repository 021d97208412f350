package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/medprice/internal/domain"
)

// MemoryStore is an in-memory Store with the same semantics as the postgres
// implementation. It backs tests and local runs without a database.
type MemoryStore struct {
	mu sync.Mutex

	products     map[int64]*domain.CanonicalProduct
	observations map[int64]*domain.PriceObservation
	tasks        map[int64]*domain.AcquisitionTask
	watch        map[int64]*domain.WatchListEntry

	nextProductID     int64
	nextObservationID int64
	nextTaskID        int64
	nextWatchID       int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[int64]*domain.CanonicalProduct),
		observations: make(map[int64]*domain.PriceObservation),
		tasks:        make(map[int64]*domain.AcquisitionTask),
		watch:        make(map[int64]*domain.WatchListEntry),
	}
}

func (s *MemoryStore) ProductByFullKey(_ context.Context, fullKey string) (*domain.CanonicalProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.FullKey == fullKey {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ProductByNameSpec(_ context.Context, name, spec string) (*domain.CanonicalProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.CanonicalProduct
	for _, p := range s.products {
		if p.Name == name && p.Specification == spec {
			if best == nil || p.ID < best.ID {
				best = p
			}
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *MemoryStore) ProductByID(_ context.Context, id int64) (*domain.CanonicalProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ProductsBySimpleKey(_ context.Context, simpleKey string) ([]domain.CanonicalProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CanonicalProduct
	for _, p := range s.products {
		if p.SimpleKey == simpleKey {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SearchProducts(_ context.Context, keyword string, limit int) ([]domain.CanonicalProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CanonicalProduct
	for _, p := range s.products {
		if strings.Contains(p.Name, keyword) || strings.Contains(p.GenericName, keyword) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateProduct(_ context.Context, p *domain.CanonicalProduct) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.products {
		if existing.FullKey == p.FullKey {
			existing.UpdatedAt = time.Now()
			return existing.ID, nil
		}
	}
	s.nextProductID++
	cp := *p
	cp.ID = s.nextProductID
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.products[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemoryStore) BackfillClassification(_ context.Context, id int64, category domain.ProductCategory, regulatoryCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return ErrNotFound
	}
	if p.Category == domain.CategoryDrug && category != "" {
		p.Category = category
	}
	if p.RegulatoryCode == "" && regulatoryCode != "" {
		p.RegulatoryCode = regulatoryCode
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) AppendObservation(_ context.Context, o *domain.PriceObservation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.observations {
		if existing.ProductID == o.ProductID &&
			existing.SourceName == o.SourceName &&
			existing.Price.Equal(o.Price) {
			return false, nil
		}
	}
	s.nextObservationID++
	cp := *o
	cp.ID = s.nextObservationID
	if cp.OutlierFlag == "" {
		cp.OutlierFlag = domain.OutlierNone
	}
	s.observations[cp.ID] = &cp
	return true, nil
}

func (s *MemoryStore) ObservationsByProduct(_ context.Context, productID int64) ([]domain.PriceObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PriceObservation
	for _, o := range s.observations {
		if o.ProductID == productID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ObservedAt.Equal(out[j].ObservedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ObservedAt.Before(out[j].ObservedAt)
	})
	return out, nil
}

func (s *MemoryStore) SetObservationOutlier(_ context.Context, id int64, flag domain.OutlierFlag, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.observations[id]
	if !ok {
		return ErrNotFound
	}
	o.OutlierFlag = flag
	o.OutlierReason = reason
	return nil
}

func (s *MemoryStore) CreateTask(_ context.Context, t *domain.AcquisitionTask) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTaskID++
	cp := *t
	cp.ID = s.nextTaskID
	cp.Status = domain.TaskPending
	cp.TotalKeywords = len(cp.Keywords)
	cp.CreatedAt = time.Now()
	s.tasks[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemoryStore) TaskByID(_ context.Context, id int64) (*domain.AcquisitionTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	cp.Keywords = append([]string(nil), t.Keywords...)
	return &cp, nil
}

func (s *MemoryStore) ListTasks(_ context.Context, status domain.TaskStatus, limit int) ([]domain.AcquisitionTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AcquisitionTask
	for _, t := range s.tasks {
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) TryStartTask(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false, ErrNotFound
	}
	if t.Status == domain.TaskRunning {
		return false, nil
	}
	now := time.Now()
	t.Status = domain.TaskRunning
	t.StartedAt = &now
	t.CompletedAt = nil
	t.CompletedKeywords = 0
	t.TotalFound = 0
	t.Error = ""
	return true, nil
}

func (s *MemoryStore) RequestCancel(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false, ErrNotFound
	}
	if t.Status != domain.TaskRunning {
		return false, nil
	}
	now := time.Now()
	t.Status = domain.TaskCancelled
	t.CompletedAt = &now
	return true, nil
}

func (s *MemoryStore) UpdateTaskProgress(_ context.Context, id int64, completedKeywords, totalFound int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.CompletedKeywords = completedKeywords
	t.TotalFound = totalFound
	return nil
}

func (s *MemoryStore) FinishTask(_ context.Context, id int64, status domain.TaskStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status == domain.TaskCancelled {
		return nil
	}
	now := time.Now()
	t.Status = status
	t.Error = errMsg
	t.CompletedAt = &now
	return nil
}

func (s *MemoryStore) TaskStatistics(_ context.Context) (*TaskStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &TaskStatistics{}
	today := time.Now().Truncate(24 * time.Hour)
	for _, t := range s.tasks {
		st.TotalTasks++
		st.TotalFound += t.TotalFound
		if t.Status == domain.TaskCompleted {
			st.CompletedTasks++
		}
		if !t.CreatedAt.Before(today) {
			st.TodayTasks++
			st.TodayFound += t.TotalFound
		}
	}
	for _, w := range s.watch {
		if w.Active {
			st.WatchListCount++
		}
	}
	return st, nil
}

func (s *MemoryStore) UpsertWatchEntry(_ context.Context, keyword, category string, priority int) (*domain.WatchListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.watch {
		if e.Keyword == keyword {
			e.Active = true
			if category != "" {
				e.Category = category
			}
			e.Priority = priority
			cp := *e
			return &cp, nil
		}
	}
	s.nextWatchID++
	e := &domain.WatchListEntry{
		ID:       s.nextWatchID,
		Keyword:  keyword,
		Category: category,
		Priority: priority,
		Active:   true,
	}
	s.watch[e.ID] = e
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) DeactivateWatchEntry(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.watch[id]
	if !ok {
		return false, nil
	}
	e.Active = false
	return true, nil
}

func (s *MemoryStore) ListWatch(_ context.Context, category string, activeOnly bool) ([]domain.WatchListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WatchListEntry
	for _, e := range s.watch {
		if activeOnly && !e.Active {
			continue
		}
		if category != "" && e.Category != category {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Keyword < out[j].Keyword
	})
	return out, nil
}

func (s *MemoryStore) WatchCategories(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, e := range s.watch {
		if e.Active && e.Category != "" && !seen[e.Category] {
			seen[e.Category] = true
			out = append(out, e.Category)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) TouchWatchEntry(_ context.Context, keyword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.watch {
		if e.Keyword == keyword {
			now := time.Now()
			e.LastCrawledAt = &now
			e.CrawlCount++
			return nil
		}
	}
	return nil
}
