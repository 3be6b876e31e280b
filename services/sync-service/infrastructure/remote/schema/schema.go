// Package schema holds the document representation shared by every remote
// adapter. Field names are the ones mobile clients read.
package schema

import (
	"time"

	"github.com/servevlc/platform/services/sync-service/domain/entity"
)

// Collection and document names
const (
	AccountsCollection   = "users"
	WorkItemsCollection  = "points"
	HistoryCollection    = "history"
	DashboardCollection  = "dashboard"
	IdentitiesCollection = "identities"
)

// CoordinateDocument is an embedded position
type CoordinateDocument struct {
	Longitude float64 `firestore:"longitude" bson:"longitude"`
	Latitude  float64 `firestore:"latitude" bson:"latitude"`
}

// OwnerDocument is the account summary embedded in a work item
type OwnerDocument struct {
	ID          string `firestore:"fbId" bson:"fbId"`
	Email       string `firestore:"email" bson:"email"`
	DisplayName string `firestore:"displayName" bson:"displayName"`
}

// StateDocument is an embedded lifecycle state reference
type StateDocument struct {
	ID       int64   `firestore:"id" bson:"id"`
	Label    string  `firestore:"label" bson:"label"`
	Progress float64 `firestore:"progress" bson:"progress"`
}

// LabelDocument is an embedded category or tag reference
type LabelDocument struct {
	ID    int64  `firestore:"id" bson:"id"`
	Label string `firestore:"label" bson:"label"`
}

// AccountDocument mirrors an account in the accounts collection
type AccountDocument struct {
	ID          string     `firestore:"-" bson:"_id"`
	LocalID     int64      `firestore:"id" bson:"localId"`
	Email       string     `firestore:"email" bson:"email"`
	DisplayName string     `firestore:"displayName" bson:"displayName"`
	State       int        `firestore:"state" bson:"state"`
	Disabled    bool       `firestore:"disabled" bson:"disabled"`
	Roles       []string   `firestore:"roles" bson:"roles"`
	UpdatedAt   *time.Time `firestore:"updatedAt" bson:"updatedAt"`
}

// AccountHistoryDocument is one entry of an account's history sub-collection
type AccountHistoryDocument struct {
	ID          string    `firestore:"-" bson:"_id"`
	OwnerID     string    `firestore:"userFbId" bson:"ownerId"`
	LocalID     int64     `firestore:"id" bson:"localId"`
	Email       string    `firestore:"email" bson:"email"`
	DisplayName string    `firestore:"displayName" bson:"displayName"`
	State       int       `firestore:"state" bson:"state"`
	RecordedAt  time.Time `firestore:"date" bson:"date"`
}

// WorkItemDocument mirrors a work item in the work items collection
type WorkItemDocument struct {
	ID          string             `firestore:"-" bson:"_id"`
	LocalID     int64              `firestore:"id" bson:"localId"`
	CreatedAt   *time.Time         `firestore:"date" bson:"date"`
	UpdatedAt   *time.Time         `firestore:"updatedAt" bson:"updatedAt"`
	DeletedAt   *time.Time         `firestore:"deletedAt" bson:"deletedAt"`
	Surface     float64            `firestore:"surface" bson:"surface"`
	Budget      float64            `firestore:"budget" bson:"budget"`
	Level       int                `firestore:"level" bson:"level"`
	Coordinates CoordinateDocument `firestore:"coordinates" bson:"coordinates"`
	Owner       *OwnerDocument     `firestore:"user" bson:"user"`
	State       *StateDocument     `firestore:"pointState" bson:"pointState"`
	Category    *LabelDocument     `firestore:"pointType" bson:"pointType"`
	Tags        []LabelDocument    `firestore:"factories" bson:"factories"`
}

// WorkItemHistoryDocument is one entry of a work item's history sub-collection
type WorkItemHistoryDocument struct {
	ID          string             `firestore:"-" bson:"_id"`
	OwnerID     string             `firestore:"pointFbId" bson:"ownerId"`
	LocalID     int64              `firestore:"id" bson:"localId"`
	RecordedAt  time.Time          `firestore:"date" bson:"date"`
	Surface     float64            `firestore:"surface" bson:"surface"`
	Budget      float64            `firestore:"budget" bson:"budget"`
	Level       int                `firestore:"level" bson:"level"`
	Coordinates CoordinateDocument `firestore:"coordinates" bson:"coordinates"`
	State       *StateDocument     `firestore:"pointState" bson:"pointState"`
}

// AccountToDocument maps an account for storage under its surrogate id
func AccountToDocument(a *entity.Account) AccountDocument {
	return AccountDocument{
		ID:          a.RemoteID,
		LocalID:     a.ID,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		State:       int(a.State),
		Disabled:    a.State.Disabled(),
		Roles:       nonNil(a.Roles),
		UpdatedAt:   utc(a.UpdatedAt),
	}
}

// ToEntity maps the document back. The local id is not carried over.
func (d AccountDocument) ToEntity() *entity.Account {
	state := entity.AccountState(d.State)
	if !state.Valid() {
		state = entity.AccountStateActive
		if d.Disabled {
			state = entity.AccountStateBlocked
		}
	}
	return &entity.Account{
		RemoteID:    d.ID,
		Email:       d.Email,
		DisplayName: d.DisplayName,
		State:       state,
		Roles:       append([]string(nil), d.Roles...),
		UpdatedAt:   utc(d.UpdatedAt),
	}
}

// AccountHistoryToDocument maps an account history entry
func AccountHistoryToDocument(h *entity.AccountHistoryEntry) AccountHistoryDocument {
	return AccountHistoryDocument{
		ID:          h.RemoteID,
		OwnerID:     h.AccountRemoteID,
		LocalID:     h.ID,
		Email:       h.Email,
		DisplayName: h.DisplayName,
		State:       int(h.State),
		RecordedAt:  h.RecordedAt.UTC(),
	}
}

// ToEntity maps the document back
func (d AccountHistoryDocument) ToEntity() *entity.AccountHistoryEntry {
	return &entity.AccountHistoryEntry{
		RemoteID:        d.ID,
		AccountRemoteID: d.OwnerID,
		Email:           d.Email,
		DisplayName:     d.DisplayName,
		State:           entity.AccountState(d.State),
		RecordedAt:      d.RecordedAt.UTC(),
	}
}

// WorkItemToDocument maps a work item for storage under its surrogate id
func WorkItemToDocument(w *entity.WorkItem) WorkItemDocument {
	doc := WorkItemDocument{
		ID:          w.RemoteID,
		LocalID:     w.ID,
		UpdatedAt:   utc(w.UpdatedAt),
		DeletedAt:   utc(w.DeletedAt),
		Surface:     w.Area,
		Budget:      w.Budget,
		Level:       w.Severity,
		Coordinates: CoordinateDocument(w.Location),
		State:       stateToDocument(w.State),
		Tags:        make([]LabelDocument, 0, len(w.Tags)),
	}
	if !w.CreatedAt.IsZero() {
		created := w.CreatedAt.UTC()
		doc.CreatedAt = &created
	}
	if w.Owner.RemoteID != "" || w.Owner.Email != "" {
		doc.Owner = &OwnerDocument{
			ID:          w.Owner.RemoteID,
			Email:       w.Owner.Email,
			DisplayName: w.Owner.DisplayName,
		}
	}
	if w.Category != nil {
		doc.Category = &LabelDocument{ID: w.Category.ID, Label: w.Category.Label}
	}
	for _, t := range w.Tags {
		doc.Tags = append(doc.Tags, LabelDocument{ID: t.ID, Label: t.Label})
	}
	return doc
}

// ToEntity maps the document back. A missing creation date stays zero.
func (d WorkItemDocument) ToEntity() *entity.WorkItem {
	w := &entity.WorkItem{
		RemoteID:  d.ID,
		UpdatedAt: utc(d.UpdatedAt),
		DeletedAt: utc(d.DeletedAt),
		Area:      d.Surface,
		Budget:    d.Budget,
		Severity:  d.Level,
		Location:  entity.Coordinate(d.Coordinates),
		State:     d.State.toEntity(),
	}
	if d.CreatedAt != nil {
		w.CreatedAt = d.CreatedAt.UTC()
	}
	if d.Owner != nil {
		w.Owner = entity.AccountRef{
			RemoteID:    d.Owner.ID,
			Email:       d.Owner.Email,
			DisplayName: d.Owner.DisplayName,
		}
	}
	if d.Category != nil {
		w.Category = &entity.Category{ID: d.Category.ID, Label: d.Category.Label}
	}
	for _, t := range d.Tags {
		w.Tags = append(w.Tags, entity.Tag{ID: t.ID, Label: t.Label})
	}
	return w
}

// WorkItemHistoryToDocument maps a work item history entry
func WorkItemHistoryToDocument(h *entity.WorkItemHistoryEntry) WorkItemHistoryDocument {
	return WorkItemHistoryDocument{
		ID:          h.RemoteID,
		OwnerID:     h.WorkItemRemoteID,
		LocalID:     h.ID,
		RecordedAt:  h.RecordedAt.UTC(),
		Surface:     h.Area,
		Budget:      h.Budget,
		Level:       h.Severity,
		Coordinates: CoordinateDocument(h.Location),
		State:       stateToDocument(h.State),
	}
}

// ToEntity maps the document back
func (d WorkItemHistoryDocument) ToEntity() *entity.WorkItemHistoryEntry {
	return &entity.WorkItemHistoryEntry{
		RemoteID:         d.ID,
		WorkItemRemoteID: d.OwnerID,
		RecordedAt:       d.RecordedAt.UTC(),
		Area:             d.Surface,
		Budget:           d.Budget,
		Severity:         d.Level,
		Location:         entity.Coordinate(d.Coordinates),
		State:            d.State.toEntity(),
	}
}

func stateToDocument(s *entity.LifecycleState) *StateDocument {
	if s == nil {
		return nil
	}
	return &StateDocument{ID: s.ID, Label: s.Label, Progress: s.Progress}
}

func (d *StateDocument) toEntity() *entity.LifecycleState {
	if d == nil {
		return nil
	}
	return &entity.LifecycleState{ID: d.ID, Label: d.Label, Progress: d.Progress}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return append([]string(nil), s...)
}
