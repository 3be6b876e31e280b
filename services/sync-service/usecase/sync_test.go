package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"

	"github.com/servevlc/platform/pkg/logging"
	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/services/sync-service/domain/repository"
	"github.com/servevlc/platform/services/sync-service/infrastructure/database/memory"
)

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

type SyncSuite struct {
	suite.Suite
	ctx    context.Context
	logger *logging.Logger
	opts   Options

	local  *memory.LocalStore
	remote *memory.RemoteStore

	localAccounts  repository.AccountStore
	remoteAccounts repository.AccountStore
	remoteItems    repository.WorkItemStore
	sink           repository.SnapshotSink

	locker  Locker
	events  *recordingEvents
	metrics *recordingMetrics
}

func (s *SyncSuite) SetupTest() {
	s.ctx = context.Background()
	s.logger = logging.Wrap(zaptest.NewLogger(s.T()))
	s.opts = DefaultOptions()
	s.opts.Clock = func() time.Time { return base.Add(24 * time.Hour) }

	s.local = memory.NewLocalStore()
	s.remote = memory.NewRemoteStore()
	s.localAccounts = s.local.Accounts()
	s.remoteAccounts = s.remote.Accounts()
	s.remoteItems = s.remote.WorkItems()
	s.sink = s.remote
	s.locker = nil
	s.events = &recordingEvents{}
	s.metrics = newRecordingMetrics()
}

func (s *SyncSuite) orchestrator() *Orchestrator {
	return NewOrchestrator(
		NewAccountReconciler(s.localAccounts, s.remoteAccounts, s.opts, s.logger),
		NewAccountHistoryReconciler(s.localAccounts, s.local.AccountHistory(), s.remote.AccountHistory(), s.opts, s.logger),
		NewWorkItemReconciler(s.local.WorkItems(), s.remoteItems, s.local.Accounts(), s.local, s.opts, s.logger),
		NewWorkItemHistoryReconciler(s.local.WorkItems(), s.local.WorkItemHistory(), s.remote.WorkItemHistory(), s.opts, s.logger),
		NewSnapshotPublisher(s.local, s.sink, s.opts, s.logger),
		s.locker,
		time.Minute,
		s.events,
		s.metrics,
		s.logger,
	)
}

func (s *SyncSuite) localAccount(a *entity.Account) *entity.Account {
	saved, err := s.local.Accounts().Upsert(s.ctx, a)
	s.Require().NoError(err)
	return saved
}

func (s *SyncSuite) remoteAccount(a *entity.Account) *entity.Account {
	saved, err := s.remote.Accounts().Upsert(s.ctx, a)
	s.Require().NoError(err)
	return saved
}

func (s *SyncSuite) localAccountByEmail(email string) *entity.Account {
	all, err := s.local.Accounts().ListAll(s.ctx)
	s.Require().NoError(err)
	for _, a := range all {
		if a.Email == email {
			return a
		}
	}
	s.FailNow("local account not found", email)
	return nil
}

func (s *SyncSuite) TestLocalOnlyAccountIsPushed() {
	s.localAccount(&entity.Account{Email: "a@x.com", DisplayName: "A", Credential: "secret"})

	res := s.orchestrator().ReconcileAccounts(s.ctx)

	s.Equal(StatusSuccess, res.Status)
	s.Equal(1, res.Report.Counters(entity.FamilyAccounts).Get(entity.ActionPushedToRemote))
	s.Zero(res.Report.TotalErrors())

	local := s.localAccountByEmail("a@x.com")
	s.NotEmpty(local.RemoteID)

	identity, ok := s.remote.Identity(local.RemoteID)
	s.Require().True(ok)
	s.Equal("secret", identity.Credential)
	s.False(identity.Disabled)
}

func (s *SyncSuite) TestRemoteOnlyIdentityIsCreatedLocally() {
	s.remote.PutIdentity(memory.Identity{UID: "uid-b", Email: "b@x.com", DisplayName: "B"})

	res := s.orchestrator().ReconcileAccounts(s.ctx)

	s.Equal(1, res.Report.Counters(entity.FamilyAccounts).Get(entity.ActionCreatedLocally))
	local := s.localAccountByEmail("b@x.com")
	s.Equal("uid-b", local.RemoteID)
	s.Equal(entity.AccountStateActive, local.State)
}

func (s *SyncSuite) TestNewerLocalAccountWins() {
	s.remoteAccount(&entity.Account{RemoteID: "uid-1", Email: "a@x.com", DisplayName: "Remote", UpdatedAt: at(0)})
	s.localAccount(&entity.Account{RemoteID: "uid-1", Email: "a@x.com", DisplayName: "Local", UpdatedAt: at(time.Second)})

	res := s.orchestrator().ReconcileAccounts(s.ctx)

	s.Equal(1, res.Report.Counters(entity.FamilyAccounts).Get(entity.ActionUpdatedInRemote))
	remote, err := s.remote.Accounts().FindBySurrogate(s.ctx, "uid-1")
	s.Require().NoError(err)
	s.Equal("Local", remote.DisplayName)
}

func (s *SyncSuite) TestNewerRemoteAccountWins() {
	s.remoteAccount(&entity.Account{RemoteID: "uid-1", Email: "a@x.com", DisplayName: "Remote", UpdatedAt: at(time.Second)})
	s.localAccount(&entity.Account{RemoteID: "uid-1", Email: "a@x.com", DisplayName: "Local", Credential: "pw", UpdatedAt: at(0)})

	res := s.orchestrator().ReconcileAccounts(s.ctx)

	s.Equal(1, res.Report.Counters(entity.FamilyAccounts).Get(entity.ActionUpdatedLocally))
	local := s.localAccountByEmail("a@x.com")
	s.Equal("Remote", local.DisplayName)
	s.Equal("pw", local.Credential)
}

func (s *SyncSuite) TestMissingLocalTimestampYieldsToRemote() {
	s.remoteAccount(&entity.Account{RemoteID: "uid-1", Email: "a@x.com", DisplayName: "Remote", UpdatedAt: at(-72 * time.Hour)})
	s.localAccount(&entity.Account{RemoteID: "uid-1", Email: "a@x.com", DisplayName: "Local"})

	res := s.orchestrator().ReconcileAccounts(s.ctx)

	s.Equal(1, res.Report.Counters(entity.FamilyAccounts).Get(entity.ActionUpdatedLocally))
	s.Equal("Remote", s.localAccountByEmail("a@x.com").DisplayName)
}

func (s *SyncSuite) TestEqualDataIsSkippedAndLinked() {
	s.remoteAccount(&entity.Account{RemoteID: "uid-1", Email: "a@x.com", DisplayName: "Same", UpdatedAt: at(time.Second)})
	s.localAccount(&entity.Account{Email: "a@x.com", DisplayName: "Same", UpdatedAt: at(0)})

	res := s.orchestrator().ReconcileAccounts(s.ctx)

	s.True(res.Report.Empty())
	s.Equal("uid-1", s.localAccountByEmail("a@x.com").RemoteID)
}

func (s *SyncSuite) TestWithoutShortCircuitTimestampsDecide() {
	s.opts.Policy.EqualityShortCircuit = false
	s.remoteAccount(&entity.Account{RemoteID: "uid-1", Email: "a@x.com", DisplayName: "Same", UpdatedAt: at(time.Second)})
	s.localAccount(&entity.Account{RemoteID: "uid-1", Email: "a@x.com", DisplayName: "Same", UpdatedAt: at(0)})

	res := s.orchestrator().ReconcileAccounts(s.ctx)

	s.Equal(1, res.Report.Counters(entity.FamilyAccounts).Get(entity.ActionUpdatedLocally))
}

func (s *SyncSuite) TestAccountsConvergeIdempotently() {
	s.localAccount(&entity.Account{Email: "a@x.com", DisplayName: "A"})
	s.localAccount(&entity.Account{Email: "c@x.com", DisplayName: "C", UpdatedAt: at(time.Hour), State: entity.AccountStateBlocked})
	s.remote.PutIdentity(memory.Identity{UID: "uid-b", Email: "b@x.com"})
	s.remoteAccount(&entity.Account{RemoteID: "uid-c", Email: "c@x.com", DisplayName: "old", UpdatedAt: at(0)})

	o := s.orchestrator()
	first := o.ReconcileAccounts(s.ctx)
	s.False(first.Report.Empty())
	s.Zero(first.Report.TotalErrors())

	second := o.ReconcileAccounts(s.ctx)
	s.True(second.Report.Empty(), second.Report.Summary())
	s.Equal("Sync completed.\n\nEverything is already in sync.\n", second.Message)

	identity, ok := s.remote.Identity("uid-c")
	s.Require().True(ok)
	s.True(identity.Disabled)
}

func (s *SyncSuite) TestAccountFailureIsRecordedPerItem() {
	s.localAccount(&entity.Account{Email: "bad@x.com"})
	s.localAccount(&entity.Account{Email: "good@x.com"})
	s.remoteAccounts = &flakyAccounts{AccountStore: s.remote.Accounts(), failEmails: map[string]bool{"bad@x.com": true}}

	res := s.orchestrator().ReconcileAccounts(s.ctx)

	s.Equal(StatusSuccess, res.Status)
	s.Equal(1, res.Report.Counters(entity.FamilyAccounts).Get(entity.ActionPushedToRemote))
	s.Equal([]string{"Failed to sync account bad@x.com: injected failure"}, res.Report.Errors())
	s.NotEmpty(s.localAccountByEmail("good@x.com").RemoteID)
}

func (s *SyncSuite) TestItemErrorsFollowKeyOrder() {
	for _, email := range []string{"c@x.com", "a@x.com", "b@x.com"} {
		s.localAccount(&entity.Account{Email: email})
	}
	s.remoteAccounts = &flakyAccounts{AccountStore: s.remote.Accounts(), failEmails: map[string]bool{
		"a@x.com": true, "b@x.com": true, "c@x.com": true,
	}}
	s.opts.Workers = 4

	for i := 0; i < 5; i++ {
		res := s.orchestrator().ReconcileAccounts(s.ctx)
		s.Equal([]string{
			"Failed to sync account a@x.com: injected failure",
			"Failed to sync account b@x.com: injected failure",
			"Failed to sync account c@x.com: injected failure",
		}, res.Report.Errors())
	}
}

func (s *SyncSuite) TestListingFailureIsFatal() {
	s.localAccounts = &flakyAccounts{AccountStore: s.local.Accounts(), failList: true}

	reconciler := NewAccountReconciler(s.localAccounts, s.remoteAccounts, s.opts, s.logger)
	_, err := reconciler.Reconcile(s.ctx)
	var fe *FatalError
	s.Require().True(errors.As(err, &fe))
	s.ErrorIs(err, errInjected)

	res := s.orchestrator().ReconcileAccounts(s.ctx)
	s.Equal(StatusError, res.Status)
	s.Contains(res.Message, "list local accounts")
	s.Equal("error", s.metrics.steps[string(OpAccounts)])
}

func (s *SyncSuite) TestRemoteWorkItemIsMaterialized() {
	s.localAccount(&entity.Account{RemoteID: "uid-a", Email: "a@x.com"})
	_, err := s.remote.WorkItems().Upsert(s.ctx, &entity.WorkItem{
		RemoteID: "w-1",
		Area:     12.5,
		Severity: 9,
		Owner:    entity.AccountRef{RemoteID: "uid-a"},
		State:    &entity.LifecycleState{ID: 99, Label: "in progress", Progress: 0.5},
	})
	s.Require().NoError(err)
	_, err = s.remote.WorkItems().Upsert(s.ctx, &entity.WorkItem{
		RemoteID:  "w-2",
		CreatedAt: base,
		Severity:  2,
		Owner:     entity.AccountRef{RemoteID: "uid-a"},
	})
	s.Require().NoError(err)

	res := s.orchestrator().ReconcileWorkItems(s.ctx)
	s.Equal(2, res.Report.Counters(entity.FamilyWorkItems).Get(entity.ActionCreatedLocally))
	s.Zero(res.Report.TotalErrors())

	items, err := s.local.WorkItems().ListAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(items, 2)
	byRemote := entity.IndexBySurrogate(items)

	w1 := byRemote["w-1"]
	s.Equal(int64(2), w1.State.ID)
	s.Equal(entity.CategoryCritical, w1.Category.Label)
	s.Equal(base.Add(24*time.Hour), w1.CreatedAt)
	s.Equal("a@x.com", w1.Owner.Email)

	w2 := byRemote["w-2"]
	s.Equal("new", w2.State.Label)
	s.Equal(entity.CategoryMinor, w2.Category.Label)
	s.Equal(base, w2.CreatedAt)

	second := s.orchestrator().ReconcileWorkItems(s.ctx)
	s.True(second.Report.Empty(), second.Report.Summary())
}

func (s *SyncSuite) TestWorkItemWithUnknownOwnerIsSkipped() {
	s.localAccount(&entity.Account{RemoteID: "uid-a", Email: "a@x.com"})
	_, err := s.remote.WorkItems().Upsert(s.ctx, &entity.WorkItem{RemoteID: "w-ghost", Owner: entity.AccountRef{RemoteID: "ghost"}})
	s.Require().NoError(err)
	_, err = s.remote.WorkItems().Upsert(s.ctx, &entity.WorkItem{RemoteID: "w-ok", Owner: entity.AccountRef{RemoteID: "uid-a"}})
	s.Require().NoError(err)

	res := s.orchestrator().ReconcileWorkItems(s.ctx)

	s.Equal(StatusSuccess, res.Status)
	s.Equal(1, res.Report.Counters(entity.FamilyWorkItems).Get(entity.ActionCreatedLocally))
	s.Require().Len(res.Report.Errors(), 1)
	s.Contains(res.Report.Errors()[0], "Failed to sync work item w-ghost:")

	_, err = s.local.WorkItems().FindBySurrogate(s.ctx, "w-ghost")
	s.Error(err)
}

func (s *SyncSuite) TestRetriedWorkItemIsCreatedOnce() {
	s.localAccount(&entity.Account{RemoteID: "uid-a", Email: "a@x.com"})
	_, err := s.remote.WorkItems().Upsert(s.ctx, &entity.WorkItem{RemoteID: "w-1", Owner: entity.AccountRef{RemoteID: "uid-a"}})
	s.Require().NoError(err)

	for i := 0; i < 3; i++ {
		s.orchestrator().ReconcileWorkItems(s.ctx)
	}

	items, err := s.local.WorkItems().ListAll(s.ctx)
	s.Require().NoError(err)
	s.Len(items, 1)
}

func (s *SyncSuite) TestLocalWorkItemIsPushedAndLinked() {
	owner := s.localAccount(&entity.Account{RemoteID: "uid-a", Email: "a@x.com"})
	item, err := s.local.WorkItems().Upsert(s.ctx, &entity.WorkItem{OwnerID: owner.ID, CreatedAt: base, Area: 3})
	s.Require().NoError(err)
	s.remoteItems = &flakyWorkItems{WorkItemStore: s.remote.WorkItems(), failures: 1}

	first := s.orchestrator().ReconcileWorkItems(s.ctx)
	s.Equal([]string{"Failed to sync work item " + item.Key() + ": injected failure"}, first.Report.Errors())

	second := s.orchestrator().ReconcileWorkItems(s.ctx)
	s.Equal(1, second.Report.Counters(entity.FamilyWorkItems).Get(entity.ActionPushedToRemote))

	items, err := s.local.WorkItems().ListAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.NotEmpty(items[0].RemoteID)

	remote, err := s.remote.WorkItems().FindBySurrogate(s.ctx, items[0].RemoteID)
	s.Require().NoError(err)
	s.Equal("uid-a", remote.Owner.RemoteID)
	s.Equal(3.0, remote.Area)
}

func (s *SyncSuite) TestWorkItemOfUnreplicatedOwnerIsNotPushed() {
	owner := s.localAccount(&entity.Account{Email: "a@x.com"})
	_, err := s.local.WorkItems().Upsert(s.ctx, &entity.WorkItem{OwnerID: owner.ID})
	s.Require().NoError(err)

	res := s.orchestrator().ReconcileWorkItems(s.ctx)

	s.Len(res.Report.Errors(), 1)
	remote, err := s.remote.WorkItems().ListAll(s.ctx)
	s.Require().NoError(err)
	s.Empty(remote)
}

func (s *SyncSuite) TestNewerRemoteWorkItemOverwritesLocal() {
	owner := s.localAccount(&entity.Account{RemoteID: "uid-a", Email: "a@x.com"})
	_, err := s.local.WorkItems().Upsert(s.ctx, &entity.WorkItem{RemoteID: "w-1", OwnerID: owner.ID, Budget: 10, UpdatedAt: at(0)})
	s.Require().NoError(err)
	_, err = s.remote.WorkItems().Upsert(s.ctx, &entity.WorkItem{RemoteID: "w-1", Owner: entity.AccountRef{RemoteID: "uid-a"}, Budget: 99, UpdatedAt: at(time.Minute)})
	s.Require().NoError(err)

	res := s.orchestrator().ReconcileWorkItems(s.ctx)

	s.Equal(1, res.Report.Counters(entity.FamilyWorkItems).Get(entity.ActionUpdatedLocally))
	local, err := s.local.WorkItems().FindBySurrogate(s.ctx, "w-1")
	s.Require().NoError(err)
	s.Equal(99.0, local.Budget)
	s.Equal(owner.ID, local.OwnerID)
}

func (s *SyncSuite) TestAccountHistoryIsAdditive() {
	owner := s.localAccount(&entity.Account{RemoteID: "uid-a", Email: "a@x.com"})
	s.remoteAccount(&entity.Account{RemoteID: "uid-a", Email: "a@x.com"})
	_, err := s.local.AccountHistory().Upsert(s.ctx, owner, &entity.AccountHistoryEntry{Email: "a@x.com", RecordedAt: base})
	s.Require().NoError(err)
	_, err = s.remote.AccountHistory().Upsert(s.ctx, owner, &entity.AccountHistoryEntry{RemoteID: "h-r", Email: "old@x.com", RecordedAt: base.Add(-time.Hour)})
	s.Require().NoError(err)
	s.localAccount(&entity.Account{Email: "unlinked@x.com"})

	o := s.orchestrator()
	first := o.ReconcileAccountHistory(s.ctx)
	counters := first.Report.Counters(entity.FamilyAccountHistory)
	s.Equal(1, counters.Get(entity.ActionCreatedLocally))
	s.Equal(1, counters.Get(entity.ActionPushedToRemote))
	s.Zero(first.Report.TotalErrors())

	second := o.ReconcileAccountHistory(s.ctx)
	s.True(second.Report.Empty(), second.Report.Summary())

	local, err := s.local.AccountHistory().ListByOwner(s.ctx, owner)
	s.Require().NoError(err)
	s.Require().Len(local, 2)
	s.NotEqual(local[0].RemoteID, local[1].RemoteID)
	for _, h := range local {
		s.NotEmpty(h.RemoteID)
	}

	remote, err := s.remote.AccountHistory().ListByOwner(s.ctx, owner)
	s.Require().NoError(err)
	s.Len(remote, 2)
}

func (s *SyncSuite) TestWorkItemHistoryRefreshesDivergentEntries() {
	owner := s.localAccount(&entity.Account{RemoteID: "uid-a", Email: "a@x.com"})
	item, err := s.local.WorkItems().Upsert(s.ctx, &entity.WorkItem{RemoteID: "w-1", OwnerID: owner.ID})
	s.Require().NoError(err)
	_, err = s.local.WorkItemHistory().Upsert(s.ctx, item, &entity.WorkItemHistoryEntry{RemoteID: "h-1", RecordedAt: base, Area: 1})
	s.Require().NoError(err)
	_, err = s.remote.WorkItemHistory().Upsert(s.ctx, item, &entity.WorkItemHistoryEntry{RemoteID: "h-1", RecordedAt: base, Area: 2})
	s.Require().NoError(err)

	res := s.orchestrator().ReconcileWorkItemHistory(s.ctx)

	s.Equal(1, res.Report.Counters(entity.FamilyWorkItemHistory).Get(entity.ActionUpdatedLocally))
	local, err := s.local.WorkItemHistory().ListByOwner(s.ctx, item)
	s.Require().NoError(err)
	s.Require().Len(local, 1)
	s.Equal(2.0, local[0].Area)

	s.True(s.orchestrator().ReconcileWorkItemHistory(s.ctx).Report.Empty())
}

func (s *SyncSuite) seedFinishedWorkItem() {
	owner := s.localAccount(&entity.Account{RemoteID: "uid-a", Email: "a@x.com"})
	states := memory.DefaultLifecycleStates
	item, err := s.local.WorkItems().Upsert(s.ctx, &entity.WorkItem{
		OwnerID: owner.ID, CreatedAt: base, Area: 4, Budget: 100, State: &states[2],
	})
	s.Require().NoError(err)
	for i, offset := range []time.Duration{0, 90 * time.Second, 90*time.Second + 3700*time.Second} {
		_, err := s.local.WorkItemHistory().Upsert(s.ctx, item, &entity.WorkItemHistoryEntry{
			RecordedAt: base.Add(offset), State: &states[i],
		})
		s.Require().NoError(err)
	}
}

func (s *SyncSuite) TestSnapshotIsPublished() {
	s.seedFinishedWorkItem()

	res := s.orchestrator().PublishSnapshot(s.ctx)

	s.Equal(StatusSuccess, res.Status)
	s.Equal(1, res.Report.Counters(entity.FamilySnapshots).Get(entity.ActionPushedToRemote))

	snapshot, writes := s.remote.Snapshot()
	s.Equal(1, writes)
	s.Require().NotNil(snapshot)
	s.Equal(int64(1), snapshot.Summary.Count)
	s.Equal(100.0, snapshot.Summary.TotalBudget)
	s.Require().Len(snapshot.Delay.Items, 1)
	s.Equal("1m 30s", *snapshot.Delay.Items[0].NewLabel)
	s.Equal("1h 1m", *snapshot.Delay.Items[0].InProgressLabel)
	s.Equal(base.Add(24*time.Hour), snapshot.PushedAt)
}

func (s *SyncSuite) TestSnapshotPublishFailureIsRecorded() {
	s.seedFinishedWorkItem()
	s.sink = failingSink{}

	res := s.orchestrator().PublishSnapshot(s.ctx)

	s.Equal(StatusSuccess, res.Status)
	s.True(res.Report.Counters(entity.FamilySnapshots).IsZero())
	s.Equal([]string{"Failed to publish dashboard snapshot: injected failure"}, res.Report.Errors())
}

func (s *SyncSuite) TestReconcileAllConvergesBothStores() {
	owner := s.localAccount(&entity.Account{Email: "a@x.com", DisplayName: "A"})
	item, err := s.local.WorkItems().Upsert(s.ctx, &entity.WorkItem{OwnerID: owner.ID, CreatedAt: base, Severity: 5})
	s.Require().NoError(err)
	_, err = s.local.WorkItemHistory().Upsert(s.ctx, item, &entity.WorkItemHistoryEntry{RecordedAt: base})
	s.Require().NoError(err)
	s.remote.PutIdentity(memory.Identity{UID: "uid-b", Email: "b@x.com"})

	o := s.orchestrator()
	first := o.ReconcileAll(s.ctx)

	s.Equal(StatusSuccess, first.Status)
	s.Zero(first.Report.TotalErrors(), first.Message)
	s.Equal(1, first.Report.Counters(entity.FamilyAccounts).Get(entity.ActionPushedToRemote))
	s.Equal(1, first.Report.Counters(entity.FamilyAccounts).Get(entity.ActionCreatedLocally))
	s.Equal(1, first.Report.Counters(entity.FamilyWorkItems).Get(entity.ActionPushedToRemote))
	s.Equal(1, first.Report.Counters(entity.FamilyWorkItemHistory).Get(entity.ActionPushedToRemote))
	s.Equal(1, first.Report.Counters(entity.FamilySnapshots).Get(entity.ActionPushedToRemote))
	s.Equal(Steps, s.events.operations())
	s.Equal(1, s.metrics.actions["accounts/pushed_to_remote"])

	second := o.ReconcileAll(s.ctx)
	for _, f := range []entity.Family{entity.FamilyAccounts, entity.FamilyAccountHistory, entity.FamilyWorkItems, entity.FamilyWorkItemHistory} {
		s.True(second.Report.Counters(f).IsZero(), string(f))
	}
	s.Zero(second.Report.TotalErrors())
}

func (s *SyncSuite) TestReconcileAllContinuesAfterFatalStep() {
	s.localAccounts = &flakyAccounts{AccountStore: s.local.Accounts(), failList: true}

	res := s.orchestrator().ReconcileAll(s.ctx)

	s.Equal(StatusError, res.Status)
	s.Equal(Steps, s.events.operations())
	s.Require().NotEmpty(res.Report.Errors())
	s.Contains(res.Report.Errors()[0], "Step accounts aborted: list local accounts")
	s.Equal(1, res.Report.Counters(entity.FamilySnapshots).Get(entity.ActionPushedToRemote))
	s.Equal("success", s.metrics.steps[string(OpSnapshot)])
}

func (s *SyncSuite) TestLockedStepIsRejected() {
	s.locker = busyLocker{}

	res := s.orchestrator().ReconcileAccounts(s.ctx)

	s.Equal(StatusError, res.Status)
	s.Equal(ErrLocked.Error(), res.Message)
}

func (s *SyncSuite) TestLockIsReleasedAfterEachStep() {
	locker := &countingLocker{}
	s.locker = locker

	s.orchestrator().ReconcileAll(s.ctx)

	s.Equal([]string{"sync:accounts", "sync:account_history", "sync:work_items", "sync:work_item_history", "sync:snapshot"}, locker.acquired)
	s.Equal(5, locker.released)
}

func (s *SyncSuite) TestRunEventsShareTheRunID() {
	s.orchestrator().ReconcileAll(s.ctx)

	s.Require().Len(s.events.events, len(Steps))
	runID := s.events.events[0].RunID
	s.NotEmpty(runID)
	for _, e := range s.events.events {
		s.Equal(runID, e.RunID)
	}
}

func TestSyncSuite(t *testing.T) {
	suite.Run(t, new(SyncSuite))
}

func TestUnionKeysIsSorted(t *testing.T) {
	keys := unionKeys(map[string]int{"b": 1, "a": 2}, map[string]string{"c": "", "a": ""})
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestForEachVisitsEveryKey(t *testing.T) {
	for _, workers := range []int{0, 1, 8} {
		seen := make(chan string, 10)
		into := entity.NewSyncReport()
		forEach(context.Background(), workers, []string{"a", "b", "c"}, into, func(_ context.Context, key string, report *entity.SyncReport) {
			seen <- key
			report.Record(entity.FamilyAccounts, entity.ActionPushedToRemote)
		})
		close(seen)
		var got []string
		for k := range seen {
			got = append(got, k)
		}
		require.ElementsMatch(t, []string{"a", "b", "c"}, got, "workers=%d", workers)
		assert.Equal(t, 3, into.Counters(entity.FamilyAccounts).PushedToRemote, "workers=%d", workers)
	}
}

func TestForEachMergesErrorsInKeyOrder(t *testing.T) {
	delays := map[string]time.Duration{"a": 30 * time.Millisecond, "b": 15 * time.Millisecond, "c": 0}
	into := entity.NewSyncReport()

	forEach(context.Background(), 3, []string{"a", "b", "c"}, into, func(_ context.Context, key string, report *entity.SyncReport) {
		time.Sleep(delays[key])
		report.Fail("account", key, errInjected)
	})

	assert.Equal(t, []string{
		"Failed to sync account a: injected failure",
		"Failed to sync account b: injected failure",
		"Failed to sync account c: injected failure",
	}, into.Errors())
}
