package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/shared/common"
)

// Identity is an identity-provider record
type Identity struct {
	UID         string
	Email       string
	DisplayName string
	Credential  string
	Disabled    bool
}

// RemoteStore is a goroutine-safe in-memory rendition of the document
// store and its identity provider. Surrogate ids are random UUIDs.
type RemoteStore struct {
	mu sync.RWMutex

	identities      map[string]*Identity
	accounts        map[string]*entity.Account
	workItems       map[string]*entity.WorkItem
	accountHistory  map[string]map[string]*entity.AccountHistoryEntry
	workItemHistory map[string]map[string]*entity.WorkItemHistoryEntry

	snapshot       *entity.Snapshot
	snapshotWrites int
}

// NewRemoteStore returns an empty remote store
func NewRemoteStore() *RemoteStore {
	return &RemoteStore{
		identities:      make(map[string]*Identity),
		accounts:        make(map[string]*entity.Account),
		workItems:       make(map[string]*entity.WorkItem),
		accountHistory:  make(map[string]map[string]*entity.AccountHistoryEntry),
		workItemHistory: make(map[string]map[string]*entity.WorkItemHistoryEntry),
	}
}

// Accounts returns the account adapter
func (s *RemoteStore) Accounts() *RemoteAccountRepository {
	return &RemoteAccountRepository{store: s}
}

// AccountHistory returns the account history adapter
func (s *RemoteStore) AccountHistory() *RemoteAccountHistoryRepository {
	return &RemoteAccountHistoryRepository{store: s}
}

// WorkItems returns the work item adapter
func (s *RemoteStore) WorkItems() *RemoteWorkItemRepository {
	return &RemoteWorkItemRepository{store: s}
}

// WorkItemHistory returns the work item history adapter
func (s *RemoteStore) WorkItemHistory() *RemoteWorkItemHistoryRepository {
	return &RemoteWorkItemHistoryRepository{store: s}
}

// PutIdentity registers an identity without an account document
func (s *RemoteStore) PutIdentity(identity Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if identity.UID == "" {
		identity.UID = uuid.NewString()
	}
	s.identities[identity.UID] = &identity
}

// Identity returns a copy of the identity record for uid
func (s *RemoteStore) Identity(uid string) (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.identities[uid]; ok {
		return *id, true
	}
	return Identity{}, false
}

// Snapshot returns the last published snapshot and the number of writes
func (s *RemoteStore) Snapshot() (*entity.Snapshot, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return nil, s.snapshotWrites
	}
	c := *s.snapshot
	return &c, s.snapshotWrites
}

// PublishSnapshot replaces the dashboard document
func (s *RemoteStore) PublishSnapshot(ctx context.Context, snapshot *entity.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *snapshot
	s.snapshot = &c
	s.snapshotWrites++
	return nil
}

// RemoteAccountRepository pairs identity records with account documents
type RemoteAccountRepository struct {
	store *RemoteStore
}

// ListAll returns account documents plus identities that have none
func (r *RemoteAccountRepository) ListAll(ctx context.Context) ([]*entity.Account, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]*entity.Account, 0, len(r.store.identities))
	for _, a := range r.store.accounts {
		out = append(out, a.Clone())
	}
	for uid, id := range r.store.identities {
		if _, ok := r.store.accounts[uid]; ok {
			continue
		}
		out = append(out, &entity.Account{
			RemoteID:    uid,
			Email:       id.Email,
			DisplayName: id.DisplayName,
			State:       entity.AccountStateActive,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// FindBySurrogate returns the account document for uid
func (r *RemoteAccountRepository) FindBySurrogate(ctx context.Context, remoteID string) (*entity.Account, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	if a, ok := r.store.accounts[remoteID]; ok {
		return a.Clone(), nil
	}
	return nil, common.ErrNotFound("account")
}

// Upsert creates or updates the identity, reusing an identity registered
// under the same email, then writes the account document.
func (r *RemoteAccountRepository) Upsert(ctx context.Context, account *entity.Account) (*entity.Account, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	uid := account.RemoteID
	if uid == "" {
		for _, id := range r.store.identities {
			if strings.EqualFold(id.Email, account.Email) {
				uid = id.UID
				break
			}
		}
	}
	if uid == "" {
		uid = uuid.NewString()
	}

	identity, ok := r.store.identities[uid]
	if !ok {
		identity = &Identity{UID: uid}
		r.store.identities[uid] = identity
	}
	identity.Email = account.Email
	identity.DisplayName = account.DisplayName
	identity.Disabled = account.State.Disabled()
	if account.Credential != "" {
		identity.Credential = account.Credential
	}

	stored := account.Clone()
	stored.ID = 0
	stored.RemoteID = uid
	stored.Credential = ""
	r.store.accounts[uid] = stored

	out := account.Clone()
	out.RemoteID = uid
	return out, nil
}

// RemoteAccountHistoryRepository stores history under the owner's document
type RemoteAccountHistoryRepository struct {
	store *RemoteStore
}

// ListByOwner returns the entries stored under owner.RemoteID
func (r *RemoteAccountHistoryRepository) ListByOwner(ctx context.Context, owner *entity.Account) ([]*entity.AccountHistoryEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*entity.AccountHistoryEntry
	for _, h := range r.store.accountHistory[owner.RemoteID] {
		c := *h
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

// Upsert writes the entry under owner.RemoteID, assigning a surrogate id
func (r *RemoteAccountHistoryRepository) Upsert(ctx context.Context, owner *entity.Account, entry *entity.AccountHistoryEntry) (*entity.AccountHistoryEntry, error) {
	if owner.RemoteID == "" {
		return nil, common.ErrBusinessRule("history owner has no surrogate id")
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored := *entry
	if stored.RemoteID == "" {
		stored.RemoteID = uuid.NewString()
	}
	stored.AccountRemoteID = owner.RemoteID
	stored.ID = 0
	stored.AccountID = 0
	stored.Credential = ""

	bucket, ok := r.store.accountHistory[owner.RemoteID]
	if !ok {
		bucket = make(map[string]*entity.AccountHistoryEntry)
		r.store.accountHistory[owner.RemoteID] = bucket
	}
	bucket[stored.RemoteID] = &stored

	out := *entry
	out.RemoteID = stored.RemoteID
	out.AccountRemoteID = owner.RemoteID
	return &out, nil
}

// RemoteWorkItemRepository stores work item documents
type RemoteWorkItemRepository struct {
	store *RemoteStore
}

// ListAll returns every work item document
func (r *RemoteWorkItemRepository) ListAll(ctx context.Context) ([]*entity.WorkItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]*entity.WorkItem, 0, len(r.store.workItems))
	for _, w := range r.store.workItems {
		out = append(out, w.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out, nil
}

// FindBySurrogate returns the work item document for remoteID
func (r *RemoteWorkItemRepository) FindBySurrogate(ctx context.Context, remoteID string) (*entity.WorkItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	if w, ok := r.store.workItems[remoteID]; ok {
		return w.Clone(), nil
	}
	return nil, common.ErrNotFound("work item")
}

// Upsert writes the document, assigning a surrogate id when missing
func (r *RemoteWorkItemRepository) Upsert(ctx context.Context, item *entity.WorkItem) (*entity.WorkItem, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored := item.Clone()
	if stored.RemoteID == "" {
		stored.RemoteID = uuid.NewString()
	}
	stored.ID = 0
	stored.OwnerID = 0
	r.store.workItems[stored.RemoteID] = stored

	out := item.Clone()
	out.RemoteID = stored.RemoteID
	return out, nil
}

// RemoteWorkItemHistoryRepository stores history under the owner's document
type RemoteWorkItemHistoryRepository struct {
	store *RemoteStore
}

// ListByOwner returns the entries stored under owner.RemoteID
func (r *RemoteWorkItemHistoryRepository) ListByOwner(ctx context.Context, owner *entity.WorkItem) ([]*entity.WorkItemHistoryEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*entity.WorkItemHistoryEntry
	for _, h := range r.store.workItemHistory[owner.RemoteID] {
		out = append(out, h.Clone())
	}
	entity.SortHistory(out)
	return out, nil
}

// Upsert writes the entry under owner.RemoteID, assigning a surrogate id
func (r *RemoteWorkItemHistoryRepository) Upsert(ctx context.Context, owner *entity.WorkItem, entry *entity.WorkItemHistoryEntry) (*entity.WorkItemHistoryEntry, error) {
	if owner.RemoteID == "" {
		return nil, common.ErrBusinessRule("history owner has no surrogate id")
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored := entry.Clone()
	if stored.RemoteID == "" {
		stored.RemoteID = uuid.NewString()
	}
	stored.WorkItemRemoteID = owner.RemoteID
	stored.ID = 0
	stored.WorkItemID = 0

	bucket, ok := r.store.workItemHistory[owner.RemoteID]
	if !ok {
		bucket = make(map[string]*entity.WorkItemHistoryEntry)
		r.store.workItemHistory[owner.RemoteID] = bucket
	}
	bucket[stored.RemoteID] = stored

	out := entry.Clone()
	out.RemoteID = stored.RemoteID
	out.WorkItemRemoteID = owner.RemoteID
	return out, nil
}
