package entity

import (
	"fmt"
	"sort"
	"time"
)

// Coordinate is a WGS84 position
type Coordinate struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// AccountRef is the owner summary embedded in a work item
type AccountRef struct {
	RemoteID    string `json:"remoteId"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// LifecycleState is a work item state ordered by progress in [0,1]
type LifecycleState struct {
	ID       int64   `json:"id"`
	Label    string  `json:"label"`
	Progress float64 `json:"progress"`
}

// Finished reports whether the state marks completed work
func (s *LifecycleState) Finished() bool {
	return s != nil && s.Progress == 1
}

// Category classifies a work item
type Category struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

// Tag is a many-valued label attached to a work item
type Tag struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

// Category labels derived from severity
const (
	CategoryMinor    = "minor"
	CategoryMajor    = "major"
	CategoryCritical = "critical"
)

// CategoryForSeverity derives a category label from a 1..10 severity level
func CategoryForSeverity(level int) (string, bool) {
	switch {
	case level >= 1 && level <= 3:
		return CategoryMinor, true
	case level >= 4 && level <= 7:
		return CategoryMajor, true
	case level >= 8 && level <= 10:
		return CategoryCritical, true
	default:
		return "", false
	}
}

// WorkItem is a geolocated unit of work owned by an account
type WorkItem struct {
	ID        int64      `json:"id"`
	RemoteID  string     `json:"remoteId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`

	Area     float64    `json:"area"`
	Budget   float64    `json:"budget"`
	Severity int        `json:"severity"`
	Location Coordinate `json:"location"`

	OwnerID int64      `json:"ownerId"`
	Owner   AccountRef `json:"owner"`

	State    *LifecycleState `json:"state,omitempty"`
	Category *Category       `json:"category,omitempty"`
	Tags     []Tag           `json:"tags"`
}

// SurrogateID returns the remote identity, empty until replicated
func (w *WorkItem) SurrogateID() string { return w.RemoteID }

// LastModified returns the last-modified timestamp, nil if unknown
func (w *WorkItem) LastModified() *time.Time { return w.UpdatedAt }

// Key is the reconciliation key: the surrogate id, or a local-only
// placeholder for items that were never replicated.
func (w *WorkItem) Key() string {
	if w.RemoteID != "" {
		return w.RemoteID
	}
	return fmt.Sprintf("local:%d", w.ID)
}

// Clone returns a deep copy
func (w *WorkItem) Clone() *WorkItem {
	if w == nil {
		return nil
	}
	c := *w
	c.UpdatedAt = cloneTime(w.UpdatedAt)
	c.DeletedAt = cloneTime(w.DeletedAt)
	if w.State != nil {
		s := *w.State
		c.State = &s
	}
	if w.Category != nil {
		cat := *w.Category
		c.Category = &cat
	}
	c.Tags = append([]Tag(nil), w.Tags...)
	return &c
}

// OverwriteFrom copies every replicated field of src onto w, keeping w's
// local id and local owner id. A zero creation date on src is ignored.
func (w *WorkItem) OverwriteFrom(src *WorkItem) {
	if src.RemoteID != "" {
		w.RemoteID = src.RemoteID
	}
	if !src.CreatedAt.IsZero() {
		w.CreatedAt = src.CreatedAt
	}
	w.UpdatedAt = cloneTime(src.UpdatedAt)
	w.DeletedAt = cloneTime(src.DeletedAt)
	w.Area = src.Area
	w.Budget = src.Budget
	w.Severity = src.Severity
	w.Location = src.Location
	w.Owner = src.Owner
	if src.State != nil {
		s := *src.State
		w.State = &s
	}
	if src.Category != nil {
		c := *src.Category
		w.Category = &c
	}
	w.Tags = append([]Tag(nil), src.Tags...)
}

// SameData reports whether both items carry identical business data,
// ignoring identities and the last-modified timestamp.
func (w *WorkItem) SameData(o *WorkItem) bool {
	if w == nil || o == nil {
		return w == o
	}
	return sameInstant(&w.CreatedAt, &o.CreatedAt) &&
		sameInstant(w.DeletedAt, o.DeletedAt) &&
		w.Area == o.Area &&
		w.Budget == o.Budget &&
		w.Severity == o.Severity &&
		w.Location == o.Location &&
		w.Owner.RemoteID == o.Owner.RemoteID &&
		stateLabel(w.State) == stateLabel(o.State) &&
		categoryLabel(w.Category) == categoryLabel(o.Category) &&
		sameSet(tagLabels(w.Tags), tagLabels(o.Tags))
}

// WorkItemHistoryEntry is an immutable snapshot of a work item
type WorkItemHistoryEntry struct {
	ID               int64           `json:"id"`
	RemoteID         string          `json:"remoteId,omitempty"`
	WorkItemID       int64           `json:"workItemId"`
	WorkItemRemoteID string          `json:"workItemRemoteId"`
	RecordedAt       time.Time       `json:"recordedAt"`
	Area             float64         `json:"area"`
	Budget           float64         `json:"budget"`
	Severity         int             `json:"severity"`
	Location         Coordinate      `json:"location"`
	State            *LifecycleState `json:"state,omitempty"`
}

// SurrogateID returns the remote identity of the entry
func (h *WorkItemHistoryEntry) SurrogateID() string { return h.RemoteID }

// Clone returns a deep copy
func (h *WorkItemHistoryEntry) Clone() *WorkItemHistoryEntry {
	c := *h
	if h.State != nil {
		s := *h.State
		c.State = &s
	}
	return &c
}

// RefreshFrom copies the snapshot fields of src, keeping identities
func (h *WorkItemHistoryEntry) RefreshFrom(src *WorkItemHistoryEntry) {
	if !src.RecordedAt.IsZero() {
		h.RecordedAt = src.RecordedAt
	}
	h.Area = src.Area
	h.Budget = src.Budget
	h.Severity = src.Severity
	h.Location = src.Location
	if src.State != nil {
		s := *src.State
		h.State = &s
	}
}

// SameData reports whether both entries hold the same snapshot
func (h *WorkItemHistoryEntry) SameData(o *WorkItemHistoryEntry) bool {
	return sameInstant(&h.RecordedAt, &o.RecordedAt) &&
		h.Area == o.Area &&
		h.Budget == o.Budget &&
		h.Severity == o.Severity &&
		h.Location == o.Location &&
		stateLabel(h.State) == stateLabel(o.State)
}

// SortHistory orders entries by recording time, oldest first
func SortHistory(entries []*WorkItemHistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].RecordedAt.Before(entries[j].RecordedAt)
	})
}

func stateLabel(s *LifecycleState) string {
	if s == nil {
		return ""
	}
	return s.Label
}

func categoryLabel(c *Category) string {
	if c == nil {
		return ""
	}
	return c.Label
}

func tagLabels(tags []Tag) []string {
	labels := make([]string, 0, len(tags))
	for _, t := range tags {
		labels = append(labels, t.Label)
	}
	return labels
}
