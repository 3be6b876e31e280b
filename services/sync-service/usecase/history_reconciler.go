package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/servevlc/platform/pkg/logging"
	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/services/sync-service/domain/repository"
)

type historyEntry[E any] interface {
	SurrogateID() string
	SameData(E) bool
	Clone() E
	RefreshFrom(E)
}

type historyStore[O, E any] interface {
	ListByOwner(ctx context.Context, owner O) ([]E, error)
	Upsert(ctx context.Context, owner O, entry E) (E, error)
}

// historyReconciler merges append-only history between stores. Entries are
// never deleted; an entry seen on one side only is copied to the other.
type historyReconciler[O entity.Replicated, E historyEntry[E]] struct {
	kind   string
	family entity.Family

	owners   func(ctx context.Context) ([]O, error)
	ownerKey func(O) string
	local    historyStore[O, E]
	remote   historyStore[O, E]

	// detach clears local identities of an entry read from the remote store
	detach func(E)
	// link stamps the surrogate id assigned by the remote store
	link func(E, string)

	opts   Options
	logger *logging.Logger
}

func (r *historyReconciler[O, E]) reconcile(ctx context.Context) (*entity.SyncReport, error) {
	report := entity.NewSyncReport()
	logger := r.logger.WithContext(ctx)

	owners, err := r.owners(ctx)
	if err != nil {
		return report, fatal("list "+r.kind+" owners", err)
	}

	byKey := make(map[string]O, len(owners))
	skipped := 0
	for _, owner := range owners {
		// remote history is scoped by the owner's surrogate id
		if owner.SurrogateID() == "" {
			skipped++
			continue
		}
		byKey[r.ownerKey(owner)] = owner
	}
	keys := sortedKeys(byKey)

	logger.Info("Reconciling history",
		zap.String("kind", r.kind),
		zap.Int("owners", len(keys)),
		zap.Int("skipped", skipped),
	)

	forEach(ctx, r.opts.Workers, keys, report, func(ctx context.Context, key string, report *entity.SyncReport) {
		if err := r.reconcileOwner(ctx, report, byKey[key]); err != nil {
			report.Fail(r.kind, key, err)
			logger.Warn("History sync failed",
				zap.String("kind", r.kind),
				zap.String("key", key),
				zap.Error(err),
			)
		}
	})
	return report, nil
}

func (r *historyReconciler[O, E]) reconcileOwner(ctx context.Context, report *entity.SyncReport, owner O) error {
	localEntries, err := r.local.ListByOwner(ctx, owner)
	if err != nil {
		return err
	}
	remoteEntries, err := r.remote.ListByOwner(ctx, owner)
	if err != nil {
		return err
	}

	localBySurrogate := entity.IndexBySurrogate(localEntries)
	remoteBySurrogate := entity.IndexBySurrogate(remoteEntries)

	for _, remote := range remoteEntries {
		if remote.SurrogateID() == "" {
			continue
		}
		local, ok := localBySurrogate[remote.SurrogateID()]
		if !ok {
			created := remote.Clone()
			r.detach(created)
			if _, err := r.local.Upsert(ctx, owner, created); err != nil {
				return err
			}
			report.Record(r.family, entity.ActionCreatedLocally)
			continue
		}
		if local.SameData(remote) {
			continue
		}
		refreshed := local.Clone()
		refreshed.RefreshFrom(remote)
		if _, err := r.local.Upsert(ctx, owner, refreshed); err != nil {
			return err
		}
		report.Record(r.family, entity.ActionUpdatedLocally)
	}

	for _, local := range localEntries {
		if _, ok := remoteBySurrogate[local.SurrogateID()]; ok && local.SurrogateID() != "" {
			continue
		}
		saved, err := r.remote.Upsert(ctx, owner, local.Clone())
		if err != nil {
			return err
		}
		if id := saved.SurrogateID(); id != "" && id != local.SurrogateID() {
			linked := local.Clone()
			r.link(linked, id)
			if _, err := r.local.Upsert(ctx, owner, linked); err != nil {
				return err
			}
		}
		report.Record(r.family, entity.ActionPushedToRemote)
	}
	return nil
}

// AccountHistoryReconciler merges account history for every replicated
// local account.
type AccountHistoryReconciler struct {
	core *historyReconciler[*entity.Account, *entity.AccountHistoryEntry]
}

// NewAccountHistoryReconciler creates a new AccountHistoryReconciler.
// Owners are read from the local account store.
func NewAccountHistoryReconciler(
	accounts repository.AccountStore,
	local, remote repository.AccountHistoryStore,
	opts Options,
	logger *logging.Logger,
) *AccountHistoryReconciler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &AccountHistoryReconciler{core: &historyReconciler[*entity.Account, *entity.AccountHistoryEntry]{
		kind:     "account history",
		family:   entity.FamilyAccountHistory,
		owners:   accounts.ListAll,
		ownerKey: (*entity.Account).Key,
		local:    local,
		remote:   remote,
		detach: func(e *entity.AccountHistoryEntry) {
			e.ID = 0
			e.AccountID = 0
		},
		link:   func(e *entity.AccountHistoryEntry, id string) { e.RemoteID = id },
		opts:   opts,
		logger: logger.WithFields(zap.String("family", string(entity.FamilyAccountHistory))),
	}}
}

// Reconcile runs one pass. Only a failure to list owners is returned.
func (r *AccountHistoryReconciler) Reconcile(ctx context.Context) (*entity.SyncReport, error) {
	return r.core.reconcile(ctx)
}

// WorkItemHistoryReconciler merges work item history for every replicated
// local work item.
type WorkItemHistoryReconciler struct {
	core *historyReconciler[*entity.WorkItem, *entity.WorkItemHistoryEntry]
}

// NewWorkItemHistoryReconciler creates a new WorkItemHistoryReconciler
func NewWorkItemHistoryReconciler(
	items repository.WorkItemStore,
	local, remote repository.WorkItemHistoryStore,
	opts Options,
	logger *logging.Logger,
) *WorkItemHistoryReconciler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &WorkItemHistoryReconciler{core: &historyReconciler[*entity.WorkItem, *entity.WorkItemHistoryEntry]{
		kind:     "work item history",
		family:   entity.FamilyWorkItemHistory,
		owners:   items.ListAll,
		ownerKey: (*entity.WorkItem).Key,
		local:    local,
		remote:   remote,
		detach: func(e *entity.WorkItemHistoryEntry) {
			e.ID = 0
			e.WorkItemID = 0
		},
		link:   func(e *entity.WorkItemHistoryEntry, id string) { e.RemoteID = id },
		opts:   opts,
		logger: logger.WithFields(zap.String("family", string(entity.FamilyWorkItemHistory))),
	}}
}

// Reconcile runs one pass. Only a failure to list owners is returned.
func (r *WorkItemHistoryReconciler) Reconcile(ctx context.Context) (*entity.SyncReport, error) {
	return r.core.reconcile(ctx)
}
