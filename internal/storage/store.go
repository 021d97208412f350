// Package storage provides the persistence contract consumed by the
// reconciler, the task orchestrator, the scheduler and the API handlers.
package storage

import (
	"context"
	"errors"

	"github.com/user/medprice/internal/domain"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// TaskStatistics summarizes orchestration activity.
type TaskStatistics struct {
	TotalTasks     int `json:"total_tasks"`
	CompletedTasks int `json:"completed_tasks"`
	TotalFound     int `json:"total_found"`
	WatchListCount int `json:"watch_list_count"`
	TodayTasks     int `json:"today_tasks"`
	TodayFound     int `json:"today_found"`
}

// Store is the persistence contract. Implementations must scope every call
// to a single short-lived transaction or statement; callers hold no locks
// across source invocations.
type Store interface {
	// Products.
	ProductByFullKey(ctx context.Context, fullKey string) (*domain.CanonicalProduct, error)
	ProductByNameSpec(ctx context.Context, name, spec string) (*domain.CanonicalProduct, error)
	ProductByID(ctx context.Context, id int64) (*domain.CanonicalProduct, error)
	ProductsBySimpleKey(ctx context.Context, simpleKey string) ([]domain.CanonicalProduct, error)
	SearchProducts(ctx context.Context, keyword string, limit int) ([]domain.CanonicalProduct, error)
	CreateProduct(ctx context.Context, p *domain.CanonicalProduct) (int64, error)
	BackfillClassification(ctx context.Context, id int64, category domain.ProductCategory, regulatoryCode string) error

	// Observations. AppendObservation is idempotent on the exact
	// (product, source name, price) triple and reports whether a row was
	// actually inserted.
	AppendObservation(ctx context.Context, o *domain.PriceObservation) (bool, error)
	ObservationsByProduct(ctx context.Context, productID int64) ([]domain.PriceObservation, error)
	SetObservationOutlier(ctx context.Context, id int64, flag domain.OutlierFlag, reason string) error

	// Tasks. TryStartTask atomically moves a task into RUNNING and returns
	// false without error when it is already RUNNING. RequestCancel flips a
	// RUNNING task to CANCELLED; workers observe the flag cooperatively.
	CreateTask(ctx context.Context, t *domain.AcquisitionTask) (int64, error)
	TaskByID(ctx context.Context, id int64) (*domain.AcquisitionTask, error)
	ListTasks(ctx context.Context, status domain.TaskStatus, limit int) ([]domain.AcquisitionTask, error)
	TryStartTask(ctx context.Context, id int64) (bool, error)
	RequestCancel(ctx context.Context, id int64) (bool, error)
	UpdateTaskProgress(ctx context.Context, id int64, completedKeywords, totalFound int) error
	FinishTask(ctx context.Context, id int64, status domain.TaskStatus, errMsg string) error
	TaskStatistics(ctx context.Context) (*TaskStatistics, error)

	// Watch list.
	UpsertWatchEntry(ctx context.Context, keyword, category string, priority int) (*domain.WatchListEntry, error)
	DeactivateWatchEntry(ctx context.Context, id int64) (bool, error)
	ListWatch(ctx context.Context, category string, activeOnly bool) ([]domain.WatchListEntry, error)
	WatchCategories(ctx context.Context) ([]string, error)
	TouchWatchEntry(ctx context.Context, keyword string) error
}
