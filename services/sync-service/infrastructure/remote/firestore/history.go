package firestore

import (
	"context"

	fs "cloud.google.com/go/firestore"

	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/services/sync-service/infrastructure/remote/schema"
	"github.com/servevlc/platform/shared/common"
)

// AccountHistoryRepository stores entries in the history sub-collection of
// the owning account document.
type AccountHistoryRepository struct {
	store *Store
}

func (r *AccountHistoryRepository) collection(owner *entity.Account) *fs.CollectionRef {
	return r.store.client.Collection(schema.AccountsCollection).
		Doc(owner.RemoteID).
		Collection(schema.HistoryCollection)
}

// ListByOwner returns the entries of owner, oldest first
func (r *AccountHistoryRepository) ListByOwner(ctx context.Context, owner *entity.Account) ([]*entity.AccountHistoryEntry, error) {
	if owner.RemoteID == "" {
		return nil, nil
	}
	var out []*entity.AccountHistoryEntry
	err := r.store.do(ctx, func(ctx context.Context) error {
		entries, err := readAll(r.collection(owner).OrderBy("date", fs.Asc).Documents(ctx), decodeAccountHistory)
		out = entries
		return wrap(err, "list account history of "+owner.RemoteID)
	})
	return out, err
}

// Upsert writes the entry under the owner's document
func (r *AccountHistoryRepository) Upsert(ctx context.Context, owner *entity.Account, entry *entity.AccountHistoryEntry) (*entity.AccountHistoryEntry, error) {
	if owner.RemoteID == "" {
		return nil, common.ErrBusinessRule("history owner has no surrogate id")
	}

	var id string
	err := r.store.do(ctx, func(ctx context.Context) error {
		col := r.collection(owner)
		ref := col.NewDoc()
		if entry.RemoteID != "" {
			ref = col.Doc(entry.RemoteID)
		}
		stored := entry.Clone()
		stored.RemoteID = ref.ID
		stored.AccountRemoteID = owner.RemoteID
		if _, err := ref.Set(ctx, schema.AccountHistoryToDocument(stored)); err != nil {
			return wrap(err, "write account history "+ref.ID)
		}
		id = ref.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := entry.Clone()
	out.RemoteID = id
	out.AccountRemoteID = owner.RemoteID
	return out, nil
}

// WorkItemHistoryRepository stores entries in the history sub-collection of
// the owning work item document.
type WorkItemHistoryRepository struct {
	store *Store
}

func (r *WorkItemHistoryRepository) collection(owner *entity.WorkItem) *fs.CollectionRef {
	return r.store.client.Collection(schema.WorkItemsCollection).
		Doc(owner.RemoteID).
		Collection(schema.HistoryCollection)
}

// ListByOwner returns the entries of owner, oldest first
func (r *WorkItemHistoryRepository) ListByOwner(ctx context.Context, owner *entity.WorkItem) ([]*entity.WorkItemHistoryEntry, error) {
	if owner.RemoteID == "" {
		return nil, nil
	}
	var out []*entity.WorkItemHistoryEntry
	err := r.store.do(ctx, func(ctx context.Context) error {
		entries, err := readAll(r.collection(owner).OrderBy("date", fs.Asc).Documents(ctx), decodeWorkItemHistory)
		out = entries
		return wrap(err, "list work item history of "+owner.RemoteID)
	})
	return out, err
}

// Upsert writes the entry under the owner's document
func (r *WorkItemHistoryRepository) Upsert(ctx context.Context, owner *entity.WorkItem, entry *entity.WorkItemHistoryEntry) (*entity.WorkItemHistoryEntry, error) {
	if owner.RemoteID == "" {
		return nil, common.ErrBusinessRule("history owner has no surrogate id")
	}

	var id string
	err := r.store.do(ctx, func(ctx context.Context) error {
		col := r.collection(owner)
		ref := col.NewDoc()
		if entry.RemoteID != "" {
			ref = col.Doc(entry.RemoteID)
		}
		stored := entry.Clone()
		stored.RemoteID = ref.ID
		stored.WorkItemRemoteID = owner.RemoteID
		if _, err := ref.Set(ctx, schema.WorkItemHistoryToDocument(stored)); err != nil {
			return wrap(err, "write work item history "+ref.ID)
		}
		id = ref.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := entry.Clone()
	out.RemoteID = id
	out.WorkItemRemoteID = owner.RemoteID
	return out, nil
}

func decodeAccountHistory(snap *fs.DocumentSnapshot) (*entity.AccountHistoryEntry, error) {
	var doc schema.AccountHistoryDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, common.WrapError(err, common.ErrCodeInternal, "decode account history document")
	}
	doc.ID = snap.Ref.ID
	return doc.ToEntity(), nil
}

func decodeWorkItemHistory(snap *fs.DocumentSnapshot) (*entity.WorkItemHistoryEntry, error) {
	var doc schema.WorkItemHistoryDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, common.WrapError(err, common.ErrCodeInternal, "decode work item history document")
	}
	doc.ID = snap.Ref.ID
	return doc.ToEntity(), nil
}
