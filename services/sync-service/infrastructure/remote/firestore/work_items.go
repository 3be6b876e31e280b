package firestore

import (
	"context"

	fs "cloud.google.com/go/firestore"

	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/services/sync-service/infrastructure/remote/schema"
	"github.com/servevlc/platform/shared/common"
)

// WorkItemRepository stores work item documents keyed by surrogate id
type WorkItemRepository struct {
	store *Store
}

func (r *WorkItemRepository) collection() *fs.CollectionRef {
	return r.store.client.Collection(schema.WorkItemsCollection)
}

// ListAll returns every work item document
func (r *WorkItemRepository) ListAll(ctx context.Context) ([]*entity.WorkItem, error) {
	var out []*entity.WorkItem
	err := r.store.do(ctx, func(ctx context.Context) error {
		items, err := readAll(r.collection().Documents(ctx), decodeWorkItem)
		out = items
		return wrap(err, "list work item documents")
	})
	return out, err
}

// FindBySurrogate returns the work item document stored under remoteID
func (r *WorkItemRepository) FindBySurrogate(ctx context.Context, remoteID string) (*entity.WorkItem, error) {
	var out *entity.WorkItem
	err := r.store.do(ctx, func(ctx context.Context) error {
		snap, err := r.collection().Doc(remoteID).Get(ctx)
		if err != nil {
			return wrap(err, "get work item "+remoteID)
		}
		out, err = decodeWorkItem(snap)
		return err
	})
	return out, err
}

// Upsert writes the document, letting Firestore pick an id for new items
func (r *WorkItemRepository) Upsert(ctx context.Context, item *entity.WorkItem) (*entity.WorkItem, error) {
	var id string
	err := r.store.do(ctx, func(ctx context.Context) error {
		ref := r.collection().NewDoc()
		if item.RemoteID != "" {
			ref = r.collection().Doc(item.RemoteID)
		}
		stored := item.Clone()
		stored.RemoteID = ref.ID
		if _, err := ref.Set(ctx, schema.WorkItemToDocument(stored)); err != nil {
			return wrap(err, "write work item "+ref.ID)
		}
		id = ref.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := item.Clone()
	out.RemoteID = id
	return out, nil
}

func decodeWorkItem(snap *fs.DocumentSnapshot) (*entity.WorkItem, error) {
	var doc schema.WorkItemDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, common.WrapError(err, common.ErrCodeInternal, "decode work item document")
	}
	doc.ID = snap.Ref.ID
	return doc.ToEntity(), nil
}
