package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/shared/common"
)

// DefaultLifecycleStates seeds a fresh local store
var DefaultLifecycleStates = []entity.LifecycleState{
	{ID: 1, Label: "new", Progress: 0},
	{ID: 2, Label: "in progress", Progress: 0.5},
	{ID: 3, Label: "done", Progress: 1},
}

// LocalStore is a goroutine-safe in-memory rendition of the relational
// store. It backs development runs and reconciler tests.
type LocalStore struct {
	mu     sync.RWMutex
	nextID int64

	accounts        map[int64]*entity.Account
	accountHistory  map[int64]*entity.AccountHistoryEntry
	workItems       map[int64]*entity.WorkItem
	workItemHistory map[int64]*entity.WorkItemHistoryEntry
	states          []entity.LifecycleState
	categories      map[int64]*entity.Category
}

// NewLocalStore returns an empty store seeded with DefaultLifecycleStates
func NewLocalStore() *LocalStore {
	return &LocalStore{
		nextID:          100,
		accounts:        make(map[int64]*entity.Account),
		accountHistory:  make(map[int64]*entity.AccountHistoryEntry),
		workItems:       make(map[int64]*entity.WorkItem),
		workItemHistory: make(map[int64]*entity.WorkItemHistoryEntry),
		states:          append([]entity.LifecycleState(nil), DefaultLifecycleStates...),
		categories:      make(map[int64]*entity.Category),
	}
}

func (s *LocalStore) newID() int64 {
	s.nextID++
	return s.nextID
}

// Accounts returns the account adapter
func (s *LocalStore) Accounts() *LocalAccountRepository {
	return &LocalAccountRepository{store: s}
}

// AccountHistory returns the account history adapter
func (s *LocalStore) AccountHistory() *LocalAccountHistoryRepository {
	return &LocalAccountHistoryRepository{store: s}
}

// WorkItems returns the work item adapter
func (s *LocalStore) WorkItems() *LocalWorkItemRepository {
	return &LocalWorkItemRepository{store: s}
}

// WorkItemHistory returns the work item history adapter
func (s *LocalStore) WorkItemHistory() *LocalWorkItemHistoryRepository {
	return &LocalWorkItemHistoryRepository{store: s}
}

// LocalAccountRepository stores accounts, unique by email and surrogate id
type LocalAccountRepository struct {
	store *LocalStore
}

// ListAll returns every account ordered by id
func (r *LocalAccountRepository) ListAll(ctx context.Context) ([]*entity.Account, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]*entity.Account, 0, len(r.store.accounts))
	for _, a := range r.store.accounts {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindBySurrogate returns the account carrying remoteID
func (r *LocalAccountRepository) FindBySurrogate(ctx context.Context, remoteID string) (*entity.Account, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, a := range r.store.accounts {
		if remoteID != "" && a.RemoteID == remoteID {
			return a.Clone(), nil
		}
	}
	return nil, common.ErrNotFound("account")
}

// Upsert matches by id, then surrogate id, then email
func (r *LocalAccountRepository) Upsert(ctx context.Context, account *entity.Account) (*entity.Account, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	target := r.match(account)
	for _, other := range r.store.accounts {
		if other == target {
			continue
		}
		if account.RemoteID != "" && other.RemoteID == account.RemoteID {
			return nil, common.NewAppErrorWithDetails(common.ErrCodeDatabaseConstraint,
				"duplicate account surrogate id", account.RemoteID)
		}
		if other.Key() == account.Key() {
			return nil, common.NewAppErrorWithDetails(common.ErrCodeDatabaseConstraint,
				"duplicate account email", account.Email)
		}
	}

	stored := account.Clone()
	if target != nil {
		stored.ID = target.ID
		if stored.RemoteID == "" {
			stored.RemoteID = target.RemoteID
		}
		if stored.Credential == "" {
			stored.Credential = target.Credential
		}
	} else {
		stored.ID = r.store.newID()
	}
	if !stored.State.Valid() {
		stored.State = entity.AccountStateActive
	}

	r.store.accounts[stored.ID] = stored
	return stored.Clone(), nil
}

func (r *LocalAccountRepository) match(account *entity.Account) *entity.Account {
	if existing, ok := r.store.accounts[account.ID]; ok && account.ID > 0 {
		return existing
	}
	for _, a := range r.store.accounts {
		if account.RemoteID != "" && a.RemoteID == account.RemoteID {
			return a
		}
	}
	for _, a := range r.store.accounts {
		if a.Key() == account.Key() {
			return a
		}
	}
	return nil
}

// LocalAccountHistoryRepository stores account history rows
type LocalAccountHistoryRepository struct {
	store *LocalStore
}

// ListByOwner returns the owner's entries, oldest first
func (r *LocalAccountHistoryRepository) ListByOwner(ctx context.Context, owner *entity.Account) ([]*entity.AccountHistoryEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*entity.AccountHistoryEntry
	for _, h := range r.store.accountHistory {
		if h.AccountID == owner.ID {
			c := *h
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

// Upsert matches by id, then surrogate id
func (r *LocalAccountHistoryRepository) Upsert(ctx context.Context, owner *entity.Account, entry *entity.AccountHistoryEntry) (*entity.AccountHistoryEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.accounts[owner.ID]; !ok {
		return nil, common.ErrNotFound("account")
	}

	stored := *entry
	stored.AccountID = owner.ID
	stored.AccountRemoteID = owner.RemoteID

	var target *entity.AccountHistoryEntry
	if existing, ok := r.store.accountHistory[entry.ID]; ok && entry.ID > 0 {
		target = existing
	}
	for _, h := range r.store.accountHistory {
		if entry.RemoteID == "" || h.RemoteID != entry.RemoteID {
			continue
		}
		if target == nil {
			target = h
		} else if h != target {
			return nil, common.NewAppErrorWithDetails(common.ErrCodeDatabaseConstraint,
				"duplicate account history surrogate id", entry.RemoteID)
		}
	}

	if target != nil {
		stored.ID = target.ID
		if stored.RemoteID == "" {
			stored.RemoteID = target.RemoteID
		}
	} else {
		stored.ID = r.store.newID()
	}

	r.store.accountHistory[stored.ID] = &stored
	out := stored
	return &out, nil
}

// LocalWorkItemRepository stores work items
type LocalWorkItemRepository struct {
	store *LocalStore
}

// ListAll returns every work item ordered by id
func (r *LocalWorkItemRepository) ListAll(ctx context.Context) ([]*entity.WorkItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.listWorkItems(func(*entity.WorkItem) bool { return true }), nil
}

func (s *LocalStore) listWorkItems(keep func(*entity.WorkItem) bool) []*entity.WorkItem {
	out := make([]*entity.WorkItem, 0, len(s.workItems))
	for _, w := range s.workItems {
		if keep(w) {
			out = append(out, s.withOwner(w.Clone()))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// withOwner fills the owner summary from the accounts table
func (s *LocalStore) withOwner(w *entity.WorkItem) *entity.WorkItem {
	if owner, ok := s.accounts[w.OwnerID]; ok {
		w.Owner = entity.AccountRef{RemoteID: owner.RemoteID, Email: owner.Email, DisplayName: owner.DisplayName}
	}
	return w
}

// FindBySurrogate returns the work item carrying remoteID
func (r *LocalWorkItemRepository) FindBySurrogate(ctx context.Context, remoteID string) (*entity.WorkItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, w := range r.store.workItems {
		if remoteID != "" && w.RemoteID == remoteID {
			return r.store.withOwner(w.Clone()), nil
		}
	}
	return nil, common.ErrNotFound("work item")
}

// Upsert matches by id, then surrogate id. The owner must exist locally.
func (r *LocalWorkItemRepository) Upsert(ctx context.Context, item *entity.WorkItem) (*entity.WorkItem, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.accounts[item.OwnerID]; !ok {
		return nil, common.NewAppErrorWithDetails(common.ErrCodeDatabaseConstraint,
			"work item owner does not exist", item.Owner.Email)
	}

	var target *entity.WorkItem
	if existing, ok := r.store.workItems[item.ID]; ok && item.ID > 0 {
		target = existing
	}
	for _, w := range r.store.workItems {
		if item.RemoteID == "" || w.RemoteID != item.RemoteID {
			continue
		}
		if target == nil {
			target = w
		} else if w != target {
			return nil, common.NewAppErrorWithDetails(common.ErrCodeDatabaseConstraint,
				"duplicate work item surrogate id", item.RemoteID)
		}
	}

	stored := item.Clone()
	if target != nil {
		stored.ID = target.ID
		if stored.RemoteID == "" {
			stored.RemoteID = target.RemoteID
		}
	} else {
		stored.ID = r.store.newID()
	}
	if stored.State != nil {
		if state, ok := r.store.resolveState(*stored.State); ok {
			stored.State = &state
		}
	}

	r.store.workItems[stored.ID] = stored
	return r.store.withOwner(stored.Clone()), nil
}

func (s *LocalStore) resolveState(state entity.LifecycleState) (entity.LifecycleState, bool) {
	for _, known := range s.states {
		if known.ID == state.ID {
			return known, true
		}
	}
	for _, known := range s.states {
		if strings.EqualFold(known.Label, state.Label) {
			return known, true
		}
	}
	return entity.LifecycleState{}, false
}

// LifecycleStates returns every state ordered by progress
func (s *LocalStore) LifecycleStates(ctx context.Context) ([]entity.LifecycleState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]entity.LifecycleState(nil), s.states...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Progress < out[j].Progress })
	return out, nil
}

// EnsureCategory returns the category labelled label, creating it if needed
func (s *LocalStore) EnsureCategory(ctx context.Context, label string) (*entity.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.categories {
		if strings.EqualFold(c.Label, label) {
			out := *c
			return &out, nil
		}
	}
	c := &entity.Category{ID: s.newID(), Label: label}
	s.categories[c.ID] = c
	out := *c
	return &out, nil
}

// LocalWorkItemHistoryRepository stores work item history rows
type LocalWorkItemHistoryRepository struct {
	store *LocalStore
}

// ListByOwner returns the owner's entries, oldest first
func (r *LocalWorkItemHistoryRepository) ListByOwner(ctx context.Context, owner *entity.WorkItem) ([]*entity.WorkItemHistoryEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.listWorkItemHistory(func(h *entity.WorkItemHistoryEntry) bool {
		return h.WorkItemID == owner.ID
	}), nil
}

func (s *LocalStore) listWorkItemHistory(keep func(*entity.WorkItemHistoryEntry) bool) []*entity.WorkItemHistoryEntry {
	var out []*entity.WorkItemHistoryEntry
	for _, h := range s.workItemHistory {
		if keep(h) {
			out = append(out, h.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out
}

// Upsert matches by id, then surrogate id
func (r *LocalWorkItemHistoryRepository) Upsert(ctx context.Context, owner *entity.WorkItem, entry *entity.WorkItemHistoryEntry) (*entity.WorkItemHistoryEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.workItems[owner.ID]; !ok {
		return nil, common.ErrNotFound("work item")
	}

	stored := entry.Clone()
	stored.WorkItemID = owner.ID
	stored.WorkItemRemoteID = owner.RemoteID
	if stored.State != nil {
		if resolved, ok := r.store.resolveState(*stored.State); ok {
			stored.State = &resolved
		}
	}

	var target *entity.WorkItemHistoryEntry
	if existing, ok := r.store.workItemHistory[entry.ID]; ok && entry.ID > 0 {
		target = existing
	}
	for _, h := range r.store.workItemHistory {
		if entry.RemoteID == "" || h.RemoteID != entry.RemoteID {
			continue
		}
		if target == nil {
			target = h
		} else if h != target {
			return nil, common.NewAppErrorWithDetails(common.ErrCodeDatabaseConstraint,
				"duplicate work item history surrogate id", entry.RemoteID)
		}
	}

	if target != nil {
		stored.ID = target.ID
		if stored.RemoteID == "" {
			stored.RemoteID = target.RemoteID
		}
	} else {
		stored.ID = r.store.newID()
	}

	r.store.workItemHistory[stored.ID] = stored
	return stored.Clone(), nil
}

// Summary aggregates work items, optionally for one owner. Items without a
// lifecycle state count towards every figure but the average progress.
func (s *LocalStore) Summary(ctx context.Context, ownerID *int64) (entity.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		summary   entity.Summary
		progress  float64
		withState int
	)
	for _, w := range s.workItems {
		if ownerID != nil && w.OwnerID != *ownerID {
			continue
		}
		summary.Count++
		summary.TotalArea += w.Area
		summary.TotalBudget += w.Budget
		if w.State != nil {
			progress += w.State.Progress
			withState++
		}
	}
	if withState > 0 {
		summary.AverageProgress = progress / float64(withState)
	}
	return summary, nil
}

// FinishedWorkItems returns work items whose state progress is 1
func (s *LocalStore) FinishedWorkItems(ctx context.Context) ([]*entity.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listWorkItems(func(w *entity.WorkItem) bool { return w.State.Finished() }), nil
}

// AllWorkItemHistory returns every work item history entry
func (s *LocalStore) AllWorkItemHistory(ctx context.Context) ([]*entity.WorkItemHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listWorkItemHistory(func(*entity.WorkItemHistoryEntry) bool { return true }), nil
}
