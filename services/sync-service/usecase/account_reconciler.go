package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/servevlc/platform/pkg/logging"
	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/services/sync-service/domain/repository"
	"github.com/servevlc/platform/services/sync-service/domain/service"
)

// AccountReconciler converges the local and remote account stores. Accounts
// are matched by email because remote-only accounts may not carry their
// surrogate id locally yet.
type AccountReconciler struct {
	local  repository.AccountStore
	remote repository.AccountStore
	opts   Options
	logger *logging.Logger
}

// NewAccountReconciler creates a new AccountReconciler
func NewAccountReconciler(local, remote repository.AccountStore, opts Options, logger *logging.Logger) *AccountReconciler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &AccountReconciler{
		local:  local,
		remote: remote,
		opts:   opts,
		logger: logger.WithFields(zap.String("family", string(entity.FamilyAccounts))),
	}
}

// Reconcile runs one pass. Only listing failures are returned; per-account
// failures are recorded in the report.
func (r *AccountReconciler) Reconcile(ctx context.Context) (*entity.SyncReport, error) {
	report := entity.NewSyncReport()
	logger := r.logger.WithContext(ctx)

	localAccounts, err := r.local.ListAll(ctx)
	if err != nil {
		return report, fatal("list local accounts", err)
	}
	remoteAccounts, err := r.remote.ListAll(ctx)
	if err != nil {
		return report, fatal("list remote accounts", err)
	}

	localByEmail := entity.IndexBy(localAccounts, (*entity.Account).Key)
	remoteByEmail := entity.IndexBy(remoteAccounts, (*entity.Account).Key)
	keys := unionKeys(localByEmail, remoteByEmail)

	logger.Info("Reconciling accounts",
		zap.Int("local", len(localByEmail)),
		zap.Int("remote", len(remoteByEmail)),
		zap.Int("keys", len(keys)),
	)

	forEach(ctx, r.opts.Workers, keys, report, func(ctx context.Context, key string, report *entity.SyncReport) {
		local, remote := localByEmail[key], remoteByEmail[key]
		if err := r.reconcileOne(ctx, report, local, remote); err != nil {
			report.Fail("account", key, err)
			logger.Warn("Account sync failed", zap.String("key", key), zap.Error(err))
		}
	})

	return report, nil
}

func (r *AccountReconciler) reconcileOne(ctx context.Context, report *entity.SyncReport, local, remote *entity.Account) error {
	switch {
	case local == nil:
		return r.createLocally(ctx, report, remote)
	case remote == nil:
		return r.pushToRemote(ctx, report, local, "", entity.ActionPushedToRemote)
	}

	decision := r.opts.Policy.Resolve(local.UpdatedAt, remote.UpdatedAt, local.SameData(remote))
	r.logger.Debug("Account conflict resolved",
		zap.String("key", local.Key()),
		zap.Stringer("decision", decision),
	)

	switch decision {
	case service.DecisionPushLocal:
		return r.pushToRemote(ctx, report, local, remote.RemoteID, entity.ActionUpdatedInRemote)
	case service.DecisionPullRemote:
		updated := local.Clone()
		updated.OverwriteFrom(remote)
		if _, err := r.local.Upsert(ctx, updated); err != nil {
			return err
		}
		report.Record(entity.FamilyAccounts, entity.ActionUpdatedLocally)
		return nil
	default:
		return r.link(ctx, local, remote.RemoteID)
	}
}

func (r *AccountReconciler) createLocally(ctx context.Context, report *entity.SyncReport, remote *entity.Account) error {
	created := remote.Clone()
	created.ID = 0
	if !created.State.Valid() {
		created.State = entity.AccountStateActive
	}
	if _, err := r.local.Upsert(ctx, created); err != nil {
		return err
	}
	report.Record(entity.FamilyAccounts, entity.ActionCreatedLocally)
	return nil
}

func (r *AccountReconciler) pushToRemote(ctx context.Context, report *entity.SyncReport, local *entity.Account, remoteID string, action entity.Action) error {
	push := local.Clone()
	if push.RemoteID == "" {
		push.RemoteID = remoteID
	}
	saved, err := r.remote.Upsert(ctx, push)
	if err != nil {
		return err
	}
	if err := r.link(ctx, local, saved.RemoteID); err != nil {
		return err
	}
	report.Record(entity.FamilyAccounts, action)
	return nil
}

// link persists a newly learned surrogate id on the local account
func (r *AccountReconciler) link(ctx context.Context, local *entity.Account, remoteID string) error {
	if remoteID == "" || local.RemoteID == remoteID {
		return nil
	}
	linked := local.Clone()
	linked.RemoteID = remoteID
	_, err := r.local.Upsert(ctx, linked)
	return err
}
