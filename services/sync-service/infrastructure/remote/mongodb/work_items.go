package mongodb

import (
	"context"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/services/sync-service/infrastructure/remote/schema"
	"github.com/servevlc/platform/shared/common"
)

// WorkItemRepository stores work item documents keyed by surrogate id
type WorkItemRepository struct {
	store *Store
}

// ListAll returns every work item document
func (r *WorkItemRepository) ListAll(ctx context.Context) ([]*entity.WorkItem, error) {
	var out []*entity.WorkItem
	err := r.store.do(ctx, func(ctx context.Context) error {
		docs, err := findAll[schema.WorkItemDocument](ctx, r.store.database.Collection(schema.WorkItemsCollection), bson.M{})
		if err != nil {
			return wrap(err, "list work item documents")
		}
		out = make([]*entity.WorkItem, 0, len(docs))
		for _, d := range docs {
			out = append(out, d.ToEntity())
		}
		return nil
	})
	return out, err
}

// FindBySurrogate returns the work item document stored under remoteID
func (r *WorkItemRepository) FindBySurrogate(ctx context.Context, remoteID string) (*entity.WorkItem, error) {
	var out *entity.WorkItem
	err := r.store.do(ctx, func(ctx context.Context) error {
		var doc schema.WorkItemDocument
		err := r.store.database.Collection(schema.WorkItemsCollection).
			FindOne(ctx, bson.M{"_id": remoteID}).Decode(&doc)
		if err != nil {
			return wrap(err, "get work item "+remoteID)
		}
		out = doc.ToEntity()
		return nil
	})
	return out, err
}

// Upsert replaces the document, assigning a uuid to new items
func (r *WorkItemRepository) Upsert(ctx context.Context, item *entity.WorkItem) (*entity.WorkItem, error) {
	stored := item.Clone()
	if stored.RemoteID == "" {
		stored.RemoteID = uuid.NewString()
	}
	err := r.store.do(ctx, func(ctx context.Context) error {
		return wrap(r.store.replace(ctx, schema.WorkItemsCollection, stored.RemoteID, schema.WorkItemToDocument(stored)),
			"write work item "+stored.RemoteID)
	})
	if err != nil {
		return nil, err
	}

	out := item.Clone()
	out.RemoteID = stored.RemoteID
	return out, nil
}

// AccountHistoryRepository stores account history entries tagged with the
// owner's surrogate id.
type AccountHistoryRepository struct {
	store *Store
}

// ListByOwner returns the entries of owner, oldest first
func (r *AccountHistoryRepository) ListByOwner(ctx context.Context, owner *entity.Account) ([]*entity.AccountHistoryEntry, error) {
	if owner.RemoteID == "" {
		return nil, nil
	}
	var out []*entity.AccountHistoryEntry
	err := r.store.do(ctx, func(ctx context.Context) error {
		docs, err := findAll[schema.AccountHistoryDocument](ctx, r.store.database.Collection(accountHistoryCollection),
			bson.M{"ownerId": owner.RemoteID}, byDate())
		if err != nil {
			return wrap(err, "list account history of "+owner.RemoteID)
		}
		for _, d := range docs {
			out = append(out, d.ToEntity())
		}
		return nil
	})
	return out, err
}

// Upsert replaces the entry, assigning a uuid to new entries
func (r *AccountHistoryRepository) Upsert(ctx context.Context, owner *entity.Account, entry *entity.AccountHistoryEntry) (*entity.AccountHistoryEntry, error) {
	if owner.RemoteID == "" {
		return nil, common.ErrBusinessRule("history owner has no surrogate id")
	}
	stored := entry.Clone()
	if stored.RemoteID == "" {
		stored.RemoteID = uuid.NewString()
	}
	stored.AccountRemoteID = owner.RemoteID

	err := r.store.do(ctx, func(ctx context.Context) error {
		return wrap(r.store.replace(ctx, accountHistoryCollection, stored.RemoteID, schema.AccountHistoryToDocument(stored)),
			"write account history "+stored.RemoteID)
	})
	if err != nil {
		return nil, err
	}

	out := entry.Clone()
	out.RemoteID = stored.RemoteID
	out.AccountRemoteID = owner.RemoteID
	return out, nil
}

// WorkItemHistoryRepository stores work item history entries tagged with
// the owner's surrogate id.
type WorkItemHistoryRepository struct {
	store *Store
}

// ListByOwner returns the entries of owner, oldest first
func (r *WorkItemHistoryRepository) ListByOwner(ctx context.Context, owner *entity.WorkItem) ([]*entity.WorkItemHistoryEntry, error) {
	if owner.RemoteID == "" {
		return nil, nil
	}
	var out []*entity.WorkItemHistoryEntry
	err := r.store.do(ctx, func(ctx context.Context) error {
		docs, err := findAll[schema.WorkItemHistoryDocument](ctx, r.store.database.Collection(workItemHistoryCollection),
			bson.M{"ownerId": owner.RemoteID}, byDate())
		if err != nil {
			return wrap(err, "list work item history of "+owner.RemoteID)
		}
		for _, d := range docs {
			out = append(out, d.ToEntity())
		}
		return nil
	})
	return out, err
}

// Upsert replaces the entry, assigning a uuid to new entries
func (r *WorkItemHistoryRepository) Upsert(ctx context.Context, owner *entity.WorkItem, entry *entity.WorkItemHistoryEntry) (*entity.WorkItemHistoryEntry, error) {
	if owner.RemoteID == "" {
		return nil, common.ErrBusinessRule("history owner has no surrogate id")
	}
	stored := entry.Clone()
	if stored.RemoteID == "" {
		stored.RemoteID = uuid.NewString()
	}
	stored.WorkItemRemoteID = owner.RemoteID

	err := r.store.do(ctx, func(ctx context.Context) error {
		return wrap(r.store.replace(ctx, workItemHistoryCollection, stored.RemoteID, schema.WorkItemHistoryToDocument(stored)),
			"write work item history "+stored.RemoteID)
	})
	if err != nil {
		return nil, err
	}

	out := entry.Clone()
	out.RemoteID = stored.RemoteID
	out.WorkItemRemoteID = owner.RemoteID
	return out, nil
}

func byDate() *options.FindOptions {
	return options.Find().SetSort(bson.D{{Key: "date", Value: 1}})
}
