package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/servevlc/platform/pkg/logging"
	"github.com/servevlc/platform/services/sync-service/domain/entity"
)

// Operation names one sync step
type Operation string

const (
	OpAccounts        Operation = "accounts"
	OpAccountHistory  Operation = "account_history"
	OpWorkItems       Operation = "work_items"
	OpWorkItemHistory Operation = "work_item_history"
	OpSnapshot        Operation = "snapshot"
	OpAll             Operation = "all"
)

// Steps is the order ReconcileAll runs in. History follows its owning
// family so that owners already carry a surrogate id.
var Steps = []Operation{OpAccounts, OpAccountHistory, OpWorkItems, OpWorkItemHistory, OpSnapshot}

// ErrLocked is returned by a Locker when another run holds the lock
var ErrLocked = errors.New("another sync run holds the lock")

// Locker serializes runs of the same step across processes
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, err error)
}

// RunEvent describes a finished step
type RunEvent struct {
	RunID      string             `json:"runId"`
	Operation  Operation          `json:"operation"`
	Status     Status             `json:"status"`
	Message    string             `json:"message"`
	Report     *entity.SyncReport `json:"report"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
}

// ReportPublisher announces finished steps. Delivery is best effort.
type ReportPublisher interface {
	PublishRun(ctx context.Context, event *RunEvent) error
}

// Orchestrator exposes every sync operation and runs them in order for
// ReconcileAll.
type Orchestrator struct {
	accounts        *AccountReconciler
	accountHistory  *AccountHistoryReconciler
	workItems       *WorkItemReconciler
	workItemHistory *WorkItemHistoryReconciler
	snapshots       *SnapshotPublisher

	locker  Locker
	lockTTL time.Duration
	events  ReportPublisher
	metrics MetricsRecorder
	logger  *logging.Logger
}

// NewOrchestrator creates a new Orchestrator. locker, events and metrics
// may be nil.
func NewOrchestrator(
	accounts *AccountReconciler,
	accountHistory *AccountHistoryReconciler,
	workItems *WorkItemReconciler,
	workItemHistory *WorkItemHistoryReconciler,
	snapshots *SnapshotPublisher,
	locker Locker,
	lockTTL time.Duration,
	events ReportPublisher,
	metrics MetricsRecorder,
	logger *logging.Logger,
) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Orchestrator{
		accounts:        accounts,
		accountHistory:  accountHistory,
		workItems:       workItems,
		workItemHistory: workItemHistory,
		snapshots:       snapshots,
		locker:          locker,
		lockTTL:         lockTTL,
		events:          events,
		metrics:         metrics,
		logger:          logger,
	}
}

// ReconcileAccounts converges the account stores
func (o *Orchestrator) ReconcileAccounts(ctx context.Context) *Result {
	return o.run(ctx, OpAccounts)
}

// ReconcileAccountHistory converges account history
func (o *Orchestrator) ReconcileAccountHistory(ctx context.Context) *Result {
	return o.run(ctx, OpAccountHistory)
}

// ReconcileWorkItems converges the work item stores
func (o *Orchestrator) ReconcileWorkItems(ctx context.Context) *Result {
	return o.run(ctx, OpWorkItems)
}

// ReconcileWorkItemHistory converges work item history
func (o *Orchestrator) ReconcileWorkItemHistory(ctx context.Context) *Result {
	return o.run(ctx, OpWorkItemHistory)
}

// PublishSnapshot publishes the dashboard snapshot
func (o *Orchestrator) PublishSnapshot(ctx context.Context) *Result {
	return o.run(ctx, OpSnapshot)
}

// Run dispatches a single operation by name
func (o *Orchestrator) Run(ctx context.Context, op Operation) *Result {
	if op == OpAll {
		return o.ReconcileAll(ctx)
	}
	return o.run(ctx, op)
}

// ReconcileAll runs every step in order and merges the reports. A fatal
// step does not stop the following ones; the merged result is an error
// when any step was.
func (o *Orchestrator) ReconcileAll(ctx context.Context) *Result {
	ctx, runID := o.withRunID(ctx)
	logger := o.logger.WithRunID(runID).WithOperation(string(OpAll))
	start := time.Now()

	merged := entity.NewSyncReport()
	status := StatusSuccess
	for _, op := range Steps {
		res := o.run(ctx, op)
		merged.Merge(res.Report)
		if res.Status == StatusError {
			status = StatusError
			merged.AddError(fmt.Sprintf("Step %s aborted: %s", op, res.Message))
		}
	}

	logger.LogPerformance("reconcile all", time.Since(start),
		zap.String("status", string(status)),
		zap.Int("errors", merged.TotalErrors()),
	)
	return &Result{Status: status, Report: merged, Message: merged.Summary()}
}

func (o *Orchestrator) withRunID(ctx context.Context) (context.Context, string) {
	if id := logging.GetRunID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return logging.WithRunID(ctx, id), id
}

func (o *Orchestrator) step(op Operation) (func(context.Context) (*entity.SyncReport, error), bool) {
	switch op {
	case OpAccounts:
		return o.accounts.Reconcile, true
	case OpAccountHistory:
		return o.accountHistory.Reconcile, true
	case OpWorkItems:
		return o.workItems.Reconcile, true
	case OpWorkItemHistory:
		return o.workItemHistory.Reconcile, true
	case OpSnapshot:
		return o.snapshots.Publish, true
	default:
		return nil, false
	}
}

// run wraps one step: run id, optional lock, fatal error conversion,
// metrics and the run event.
func (o *Orchestrator) run(ctx context.Context, op Operation) *Result {
	ctx, runID := o.withRunID(ctx)
	logger := o.logger.WithRunID(runID).WithOperation(string(op))
	start := time.Now()

	fn, ok := o.step(op)
	if !ok {
		return &Result{Status: StatusError, Report: entity.NewSyncReport(), Message: fmt.Sprintf("unknown operation %q", op)}
	}

	result := o.locked(ctx, op, logger, fn)
	duration := time.Since(start)

	o.metrics.ObserveStep(string(op), string(result.Status), duration)
	for _, f := range entity.Families {
		counters := result.Report.Counters(f)
		for _, action := range entity.Actions {
			if n := counters.Get(action); n > 0 {
				o.metrics.RecordAction(string(f), string(action), n)
			}
		}
	}
	if n := result.Report.TotalErrors(); n > 0 {
		o.metrics.RecordErrors(string(op), n)
	}

	if result.Status == StatusError {
		logger.Error("Sync step failed", zap.String("message", result.Message))
	} else {
		logger.LogPerformance("sync step", duration, zap.Int("errors", result.Report.TotalErrors()))
	}

	if o.events != nil {
		event := &RunEvent{
			RunID:      runID,
			Operation:  op,
			Status:     result.Status,
			Message:    result.Message,
			Report:     result.Report,
			StartedAt:  start,
			FinishedAt: start.Add(duration),
		}
		if err := o.events.PublishRun(ctx, event); err != nil {
			logger.Warn("Failed to publish run event", zap.Error(err))
		}
	}
	return result
}

func (o *Orchestrator) locked(ctx context.Context, op Operation, logger *logging.Logger, fn func(context.Context) (*entity.SyncReport, error)) *Result {
	if o.locker != nil {
		release, err := o.locker.Acquire(ctx, "sync:"+string(op), o.lockTTL)
		if err != nil {
			return &Result{Status: StatusError, Report: entity.NewSyncReport(), Message: err.Error()}
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("Failed to release sync lock", zap.Error(err))
			}
		}()
	}

	report, err := fn(ctx)
	if report == nil {
		report = entity.NewSyncReport()
	}
	if err != nil {
		return &Result{Status: StatusError, Report: report, Message: err.Error()}
	}
	return &Result{Status: StatusSuccess, Report: report, Message: report.Summary()}
}
