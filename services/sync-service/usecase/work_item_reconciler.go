package usecase

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/servevlc/platform/pkg/logging"
	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/services/sync-service/domain/repository"
	"github.com/servevlc/platform/services/sync-service/domain/service"
	"github.com/servevlc/platform/shared/common"
)

// WorkItemReconciler converges the local and remote work item stores,
// matching records by surrogate id.
type WorkItemReconciler struct {
	local    repository.WorkItemStore
	remote   repository.WorkItemStore
	accounts repository.AccountStore
	refs     repository.ReferenceStore
	opts     Options
	logger   *logging.Logger
}

// NewWorkItemReconciler creates a new WorkItemReconciler. accounts is the
// local account store used to check that owners exist before a remote work
// item is materialized.
func NewWorkItemReconciler(
	local, remote repository.WorkItemStore,
	accounts repository.AccountStore,
	refs repository.ReferenceStore,
	opts Options,
	logger *logging.Logger,
) *WorkItemReconciler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &WorkItemReconciler{
		local:    local,
		remote:   remote,
		accounts: accounts,
		refs:     refs,
		opts:     opts,
		logger:   logger.WithFields(zap.String("family", string(entity.FamilyWorkItems))),
	}
}

// stateCatalog loads lifecycle states at most once per pass
type stateCatalog struct {
	once   sync.Once
	refs   repository.ReferenceStore
	states []entity.LifecycleState
	err    error
}

func (c *stateCatalog) load(ctx context.Context) ([]entity.LifecycleState, error) {
	c.once.Do(func() {
		c.states, c.err = c.refs.LifecycleStates(ctx)
	})
	return c.states, c.err
}

// resolve maps a remote state reference onto a local state: by id, then by
// label, else the state of lowest progress.
func (c *stateCatalog) resolve(ctx context.Context, ref *entity.LifecycleState) (*entity.LifecycleState, error) {
	states, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, common.ErrBusinessRule("no lifecycle state defined locally")
	}
	if ref != nil {
		for i := range states {
			if states[i].ID == ref.ID {
				return &states[i], nil
			}
		}
		for i := range states {
			if states[i].Label == ref.Label {
				return &states[i], nil
			}
		}
	}
	lowest := states[0]
	for _, s := range states[1:] {
		if s.Progress < lowest.Progress {
			lowest = s
		}
	}
	return &lowest, nil
}

// Reconcile runs one pass. Only listing failures are returned.
func (r *WorkItemReconciler) Reconcile(ctx context.Context) (*entity.SyncReport, error) {
	report := entity.NewSyncReport()
	logger := r.logger.WithContext(ctx)

	localItems, err := r.local.ListAll(ctx)
	if err != nil {
		return report, fatal("list local work items", err)
	}
	remoteItems, err := r.remote.ListAll(ctx)
	if err != nil {
		return report, fatal("list remote work items", err)
	}

	localByKey := entity.IndexBy(localItems, (*entity.WorkItem).Key)
	remoteByKey := entity.IndexBySurrogate(remoteItems)
	keys := unionKeys(localByKey, remoteByKey)
	catalog := &stateCatalog{refs: r.refs}

	logger.Info("Reconciling work items",
		zap.Int("local", len(localByKey)),
		zap.Int("remote", len(remoteByKey)),
		zap.Int("keys", len(keys)),
	)

	forEach(ctx, r.opts.Workers, keys, report, func(ctx context.Context, key string, report *entity.SyncReport) {
		local, remote := localByKey[key], remoteByKey[key]
		if err := r.reconcileOne(ctx, report, catalog, local, remote); err != nil {
			report.Fail("work item", key, err)
			logger.Warn("Work item sync failed", zap.String("key", key), zap.Error(err))
		}
	})

	return report, nil
}

func (r *WorkItemReconciler) reconcileOne(ctx context.Context, report *entity.SyncReport, catalog *stateCatalog, local, remote *entity.WorkItem) error {
	switch {
	case local == nil:
		return r.createLocally(ctx, report, catalog, remote)
	case remote == nil:
		return r.pushToRemote(ctx, report, local, entity.ActionPushedToRemote)
	}

	decision := r.opts.Policy.Resolve(local.UpdatedAt, remote.UpdatedAt, local.SameData(remote))
	r.logger.Debug("Work item conflict resolved",
		zap.String("key", local.Key()),
		zap.Stringer("decision", decision),
	)

	switch decision {
	case service.DecisionPushLocal:
		return r.pushToRemote(ctx, report, local, entity.ActionUpdatedInRemote)
	case service.DecisionPullRemote:
		updated := local.Clone()
		updated.OverwriteFrom(remote)
		if err := r.materialize(ctx, catalog, updated); err != nil {
			return err
		}
		if _, err := r.local.Upsert(ctx, updated); err != nil {
			return err
		}
		report.Record(entity.FamilyWorkItems, entity.ActionUpdatedLocally)
	}
	return nil
}

func (r *WorkItemReconciler) createLocally(ctx context.Context, report *entity.SyncReport, catalog *stateCatalog, remote *entity.WorkItem) error {
	created := remote.Clone()
	created.ID = 0
	if created.CreatedAt.IsZero() {
		created.CreatedAt = r.opts.now()
	}
	if err := r.materialize(ctx, catalog, created); err != nil {
		return err
	}
	if _, err := r.local.Upsert(ctx, created); err != nil {
		return err
	}
	report.Record(entity.FamilyWorkItems, entity.ActionCreatedLocally)
	return nil
}

// materialize resolves the local references of a work item coming from the
// remote store: its owner, its lifecycle state and its category.
func (r *WorkItemReconciler) materialize(ctx context.Context, catalog *stateCatalog, item *entity.WorkItem) error {
	owner, err := r.owner(ctx, item.Owner.RemoteID)
	if err != nil {
		return err
	}
	item.OwnerID = owner.ID
	item.Owner = entity.AccountRef{RemoteID: owner.RemoteID, Email: owner.Email, DisplayName: owner.DisplayName}

	state, err := catalog.resolve(ctx, item.State)
	if err != nil {
		return err
	}
	item.State = state

	if item.Category == nil {
		if label, ok := entity.CategoryForSeverity(item.Severity); ok {
			category, err := r.refs.EnsureCategory(ctx, label)
			if err != nil {
				return err
			}
			item.Category = category
		}
	}
	return nil
}

func (r *WorkItemReconciler) owner(ctx context.Context, remoteID string) (*entity.Account, error) {
	if remoteID == "" {
		return nil, common.ErrBusinessRule("work item has no owning account")
	}
	owner, err := r.accounts.FindBySurrogate(ctx, remoteID)
	if common.IsNotFound(err) {
		return nil, common.ErrBusinessRule(fmt.Sprintf("owning account %s does not exist locally", remoteID))
	}
	return owner, err
}

func (r *WorkItemReconciler) pushToRemote(ctx context.Context, report *entity.SyncReport, local *entity.WorkItem, action entity.Action) error {
	if local.Owner.RemoteID == "" {
		return common.ErrBusinessRule("owning account has not been replicated")
	}
	saved, err := r.remote.Upsert(ctx, local.Clone())
	if err != nil {
		return err
	}
	if saved.RemoteID != "" && saved.RemoteID != local.RemoteID {
		linked := local.Clone()
		linked.RemoteID = saved.RemoteID
		if _, err := r.local.Upsert(ctx, linked); err != nil {
			return err
		}
	}
	report.Record(entity.FamilyWorkItems, action)
	return nil
}
