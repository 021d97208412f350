// Package task runs acquisition tasks on a bounded worker pool. A task is
// an ordered batch of keywords processed sequentially by one worker;
// cancellation is cooperative and observed between keywords.
package task

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/user/medprice/internal/domain"
	"github.com/user/medprice/internal/monitoring"
	"github.com/user/medprice/internal/reconcile"
	"github.com/user/medprice/internal/storage"
	"github.com/user/medprice/internal/strategy"
)

var (
	// ErrQueueFull is returned when the task queue cannot accept more work.
	ErrQueueFull = errors.New("task: queue full")
	// ErrStopped is returned for submissions arriving after Stop.
	ErrStopped = errors.New("task: orchestrator stopped")
)

// Prober validates upstream auth with one cheap call before a bulk run.
type Prober interface {
	Probe(ctx context.Context) error
}

// Orchestrator owns the worker pool and the task lifecycle.
type Orchestrator struct {
	store      storage.Store
	strategy   *strategy.Strategy
	reconciler *reconcile.Reconciler
	metrics    *monitoring.Metrics
	logger     *zap.Logger
	workers    int
	prober     Prober
	taskQueue  chan int64
	stopChan   chan struct{}
	wg         sync.WaitGroup
}

func NewOrchestrator(store storage.Store, st *strategy.Strategy, rec *reconcile.Reconciler, workers int, m *monitoring.Metrics, l *zap.Logger) *Orchestrator {
	if workers <= 0 {
		workers = 2
	}
	return &Orchestrator{
		store:      store,
		strategy:   st,
		reconciler: rec,
		metrics:    m,
		logger:     l,
		workers:    workers,
		taskQueue:  make(chan int64, workers*4),
		stopChan:   make(chan struct{}),
	}
}

// SetProber installs an optional auth probe run once per task before the
// keyword loop.
func (o *Orchestrator) SetProber(p Prober) {
	o.prober = p
}

func (o *Orchestrator) Start() {
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	o.logger.Info("task orchestrator started", zap.Int("workers", o.workers))
}

// Stop drains the workers. The queue itself is never closed so late
// submissions fail cleanly instead of panicking; whatever they left behind
// stays PENDING and is re-queued by ResumePending on the next start.
func (o *Orchestrator) Stop() {
	close(o.stopChan)
	o.wg.Wait()
	o.logger.Info("task orchestrator stopped")
}

// Submit creates a task record and queues it. The returned task is PENDING
// until a worker picks it up.
func (o *Orchestrator) Submit(ctx context.Context, name string, keywords []string) (*domain.AcquisitionTask, error) {
	t := &domain.AcquisitionTask{
		Name:          name,
		Keywords:      keywords,
		Status:        domain.TaskPending,
		TotalKeywords: len(keywords),
	}
	id, err := o.store.CreateTask(ctx, t)
	if err != nil {
		return nil, err
	}
	t.ID = id
	if err := o.Enqueue(id); err != nil {
		return t, err
	}
	return t, nil
}

// Enqueue places an existing task on the queue without creating a record.
func (o *Orchestrator) Enqueue(id int64) error {
	select {
	case <-o.stopChan:
		return ErrStopped
	default:
	}
	select {
	case o.taskQueue <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// ResumePending re-queues tasks left PENDING by a previous process.
func (o *Orchestrator) ResumePending(ctx context.Context) error {
	tasks, err := o.store.ListTasks(ctx, domain.TaskPending, cap(o.taskQueue))
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if err := o.Enqueue(t.ID); err != nil {
			return err
		}
		o.logger.Info("resumed pending task", zap.Int64("task_id", t.ID))
	}
	return nil
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case id := <-o.taskQueue:
			o.runTask(id)
		case <-o.stopChan:
			return
		}
	}
}

// runTask drives one task to a terminal state. Per-keyword acquisition and
// reconciliation failures are absorbed; only failures on the task record
// itself mark the task FAILED.
func (o *Orchestrator) runTask(id int64) {
	ctx := context.Background()

	started, err := o.store.TryStartTask(ctx, id)
	if err != nil {
		o.logger.Error("failed to start task", zap.Int64("task_id", id), zap.Error(err))
		return
	}
	if !started {
		o.logger.Info("task already running, skipping", zap.Int64("task_id", id))
		return
	}

	t, err := o.store.TaskByID(ctx, id)
	if err != nil {
		o.finish(ctx, id, domain.TaskFailed, "load task: "+err.Error())
		return
	}

	if o.prober != nil {
		if err := o.prober.Probe(ctx); err != nil {
			// A stale token usually recovers on the first real search, so a
			// failed probe is a warning rather than a task failure.
			o.logger.Warn("pre-run probe failed", zap.Int64("task_id", id), zap.Error(err))
		}
	}

	totalFound := 0
	for i, keyword := range t.Keywords {
		// Re-read the record between keywords so a cancel request lands
		// at the next boundary.
		current, err := o.store.TaskByID(ctx, id)
		if err != nil {
			o.finish(ctx, id, domain.TaskFailed, "reload task: "+err.Error())
			return
		}
		if current.Status == domain.TaskCancelled {
			o.logger.Info("task cancelled, stopping",
				zap.Int64("task_id", id), zap.Int("completed_keywords", i))
			o.metrics.TasksTotal.WithLabelValues(string(domain.TaskCancelled)).Inc()
			return
		}

		totalFound += o.processKeyword(ctx, id, keyword)

		if err := o.store.UpdateTaskProgress(ctx, id, i+1, totalFound); err != nil {
			o.finish(ctx, id, domain.TaskFailed, "update progress: "+err.Error())
			return
		}
	}

	o.finish(ctx, id, domain.TaskCompleted, "")
	o.logger.Info("task completed",
		zap.Int64("task_id", id),
		zap.Int("keywords", len(t.Keywords)),
		zap.Int("total_found", totalFound))
}

// processKeyword acquires and reconciles one keyword and returns how many
// observations were persisted. It never fails the task.
func (o *Orchestrator) processKeyword(ctx context.Context, taskID int64, keyword string) int {
	res := o.strategy.Acquire(ctx, strategy.Query{Keyword: keyword, Mode: strategy.ModeSmart})
	if res.AuthExpired {
		o.logger.Warn("auth expired during task, keyword skipped",
			zap.Int64("task_id", taskID), zap.String("keyword", keyword))
		o.metrics.IncErrorsTotal("auth_expired")
		return 0
	}
	if !res.Success {
		o.logger.Warn("acquisition yielded nothing",
			zap.Int64("task_id", taskID),
			zap.String("keyword", keyword),
			zap.String("error", res.Error))
		return 0
	}

	batch, err := o.reconciler.ReconcileBatch(ctx, res.Observations)
	if err != nil {
		o.logger.Error("reconcile batch failed",
			zap.Int64("task_id", taskID), zap.String("keyword", keyword), zap.Error(err))
		o.metrics.IncErrorsTotal("db_save_failed")
	}

	if err := o.store.TouchWatchEntry(ctx, keyword); err != nil && !errors.Is(err, storage.ErrNotFound) {
		o.logger.Warn("failed to touch watch entry",
			zap.String("keyword", keyword), zap.Error(err))
	}

	o.logger.Info("keyword processed",
		zap.Int64("task_id", taskID),
		zap.String("keyword", keyword),
		zap.String("method", res.Method),
		zap.Int("providers", len(res.Observations)),
		zap.Int("saved", batch.Saved),
		zap.Int("flagged", batch.Flagged))
	return batch.Saved
}

// Cancel requests cooperative cancellation of a RUNNING task.
func (o *Orchestrator) Cancel(ctx context.Context, id int64) (bool, error) {
	return o.store.RequestCancel(ctx, id)
}

func (o *Orchestrator) finish(ctx context.Context, id int64, status domain.TaskStatus, errMsg string) {
	if err := o.store.FinishTask(ctx, id, status, errMsg); err != nil {
		o.logger.Error("failed to finish task",
			zap.Int64("task_id", id), zap.String("status", string(status)), zap.Error(err))
		return
	}
	o.metrics.TasksTotal.WithLabelValues(string(status)).Inc()
}
