package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/services/sync-service/domain/service"
)

// Status is the outcome of one sync operation
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is returned by every sync operation. StatusError is reserved for
// fatal preconditions; per-item failures live in Report.
type Result struct {
	Status  Status             `json:"status"`
	Report  *entity.SyncReport `json:"report"`
	Message string             `json:"message"`
}

// FatalError aborts a whole reconciliation step, typically because a full
// listing could not be fetched.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// Options tune every reconciler
type Options struct {
	// Workers bounds per-key parallelism. Values below 1 mean sequential.
	Workers int

	// Policy decides conflicts between records present in both stores
	Policy service.ConflictPolicy

	// Clock returns the current time; time.Now when nil
	Clock func() time.Time
}

// DefaultOptions returns four workers with the equality short-circuit on
func DefaultOptions() Options {
	return Options{
		Workers: 4,
		Policy:  service.ConflictPolicy{EqualityShortCircuit: true},
	}
}

func (o Options) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}

// MetricsRecorder receives reconciliation counters
type MetricsRecorder interface {
	RecordAction(family, action string, n int)
	RecordErrors(family string, n int)
	ObserveStep(operation, status string, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordAction(string, string, int)          {}
func (noopMetrics) RecordErrors(string, int)                  {}
func (noopMetrics) ObserveStep(string, string, time.Duration) {}

// forEach runs fn once per key with at most workers concurrent calls.
// Each call records into its own report; the reports are merged into
// into in key order once every call has returned.
func forEach(ctx context.Context, workers int, keys []string, into *entity.SyncReport, fn func(ctx context.Context, key string, report *entity.SyncReport)) {
	if workers < 1 {
		workers = 1
	}

	reports := make([]*entity.SyncReport, len(keys))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, key := range keys {
		key, report := key, entity.NewSyncReport()
		reports[i] = report
		g.Go(func() error {
			fn(ctx, key, report)
			return nil
		})
	}
	_ = g.Wait()

	for _, report := range reports {
		into.Merge(report)
	}
}

func unionKeys[L, R any](local map[string]L, remote map[string]R) []string {
	seen := make(map[string]struct{}, len(local)+len(remote))
	keys := make([]string, 0, len(local)+len(remote))
	for k := range local {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for k := range remote {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
