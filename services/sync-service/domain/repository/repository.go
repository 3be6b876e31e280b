package repository

import (
	"context"

	"github.com/servevlc/platform/services/sync-service/domain/entity"
)

// AccountStore is the capability set shared by the local and remote
// account adapters.
type AccountStore interface {
	// ListAll returns every account of the store
	ListAll(ctx context.Context) ([]*entity.Account, error)

	// FindBySurrogate returns the account with the given remote id, or an
	// ErrCodeNotFound error
	FindBySurrogate(ctx context.Context, remoteID string) (*entity.Account, error)

	// Upsert creates the account when it is unknown to the store and updates
	// it otherwise. The returned account carries its surrogate id.
	Upsert(ctx context.Context, account *entity.Account) (*entity.Account, error)
}

// WorkItemStore is the capability set shared by the local and remote work
// item adapters.
type WorkItemStore interface {
	ListAll(ctx context.Context) ([]*entity.WorkItem, error)
	FindBySurrogate(ctx context.Context, remoteID string) (*entity.WorkItem, error)
	Upsert(ctx context.Context, item *entity.WorkItem) (*entity.WorkItem, error)
}

// AccountHistoryStore lists and appends history entries scoped to one
// account. Local stores scope by local id, remote stores by surrogate id.
type AccountHistoryStore interface {
	ListByOwner(ctx context.Context, owner *entity.Account) ([]*entity.AccountHistoryEntry, error)
	Upsert(ctx context.Context, owner *entity.Account, entry *entity.AccountHistoryEntry) (*entity.AccountHistoryEntry, error)
}

// WorkItemHistoryStore lists and appends history entries scoped to one
// work item.
type WorkItemHistoryStore interface {
	ListByOwner(ctx context.Context, owner *entity.WorkItem) ([]*entity.WorkItemHistoryEntry, error)
	Upsert(ctx context.Context, owner *entity.WorkItem, entry *entity.WorkItemHistoryEntry) (*entity.WorkItemHistoryEntry, error)
}

// ReferenceStore resolves local lookup tables used when materializing
// remote work items.
type ReferenceStore interface {
	// LifecycleStates returns every state ordered by progress
	LifecycleStates(ctx context.Context) ([]entity.LifecycleState, error)

	// EnsureCategory returns the category with the given label, creating it
	// when missing
	EnsureCategory(ctx context.Context, label string) (*entity.Category, error)
}

// SnapshotSource is the read model the dashboard snapshot is computed from
type SnapshotSource interface {
	// Summary aggregates work items, optionally restricted to one owner
	Summary(ctx context.Context, ownerID *int64) (entity.Summary, error)

	// FinishedWorkItems returns work items whose state progress is 1
	FinishedWorkItems(ctx context.Context) ([]*entity.WorkItem, error)

	// AllWorkItemHistory returns every local work item history entry
	AllWorkItemHistory(ctx context.Context) ([]*entity.WorkItemHistoryEntry, error)
}

// SnapshotSink stores the published dashboard snapshot under a fixed key
type SnapshotSink interface {
	PublishSnapshot(ctx context.Context, snapshot *entity.Snapshot) error
}
