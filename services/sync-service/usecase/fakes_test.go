package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/services/sync-service/domain/repository"
)

var errInjected = errors.New("injected failure")

// flakyAccounts fails listings or upserts of selected emails
type flakyAccounts struct {
	repository.AccountStore
	failList   bool
	failEmails map[string]bool
}

func (f *flakyAccounts) ListAll(ctx context.Context) ([]*entity.Account, error) {
	if f.failList {
		return nil, errInjected
	}
	return f.AccountStore.ListAll(ctx)
}

func (f *flakyAccounts) Upsert(ctx context.Context, account *entity.Account) (*entity.Account, error) {
	if f.failEmails[strings.ToLower(account.Email)] {
		return nil, errInjected
	}
	return f.AccountStore.Upsert(ctx, account)
}

// flakyWorkItems fails the first n upserts
type flakyWorkItems struct {
	repository.WorkItemStore
	mu       sync.Mutex
	failures int
}

func (f *flakyWorkItems) Upsert(ctx context.Context, item *entity.WorkItem) (*entity.WorkItem, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errInjected
	}
	f.mu.Unlock()
	return f.WorkItemStore.Upsert(ctx, item)
}

type failingSink struct{}

func (failingSink) PublishSnapshot(context.Context, *entity.Snapshot) error {
	return errInjected
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return nil, ErrLocked
}

type countingLocker struct {
	mu       sync.Mutex
	acquired []string
	released int
}

func (l *countingLocker) Acquire(_ context.Context, name string, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired = append(l.acquired, name)
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []*RunEvent
}

func (r *recordingEvents) PublishRun(_ context.Context, event *RunEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEvents) operations() []Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]Operation, 0, len(r.events))
	for _, e := range r.events {
		ops = append(ops, e.Operation)
	}
	return ops
}

type recordingMetrics struct {
	mu      sync.Mutex
	actions map[string]int
	steps   map[string]string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{actions: map[string]int{}, steps: map[string]string{}}
}

func (m *recordingMetrics) RecordAction(family, action string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[family+"/"+action] += n
}

func (m *recordingMetrics) RecordErrors(string, int) {}

func (m *recordingMetrics) ObserveStep(operation, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[operation] = status
}
