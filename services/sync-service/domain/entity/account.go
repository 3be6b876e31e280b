package entity

import (
	"sort"
	"strings"
	"time"
)

// AccountState is the lifecycle state of an account
type AccountState int

const (
	AccountStateActive  AccountState = 1
	AccountStateDeleted AccountState = 2
	AccountStateBlocked AccountState = 3
)

// String returns the state label
func (s AccountState) String() string {
	switch s {
	case AccountStateActive:
		return "ACTIVE"
	case AccountStateDeleted:
		return "DELETED"
	case AccountStateBlocked:
		return "BLOCKED"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is a known state
func (s AccountState) Valid() bool {
	return s >= AccountStateActive && s <= AccountStateBlocked
}

// Disabled reports whether the identity provider should refuse sign-in
func (s AccountState) Disabled() bool {
	return s == AccountStateDeleted || s == AccountStateBlocked
}

// Account is a user account known to both stores. Email is the natural key.
type Account struct {
	ID          int64        `json:"id"`
	RemoteID    string       `json:"remoteId,omitempty"`
	Email       string       `json:"email"`
	DisplayName string       `json:"displayName"`
	Credential  string       `json:"-"`
	State       AccountState `json:"state"`
	Roles       []string     `json:"roles"`
	UpdatedAt   *time.Time   `json:"updatedAt,omitempty"`
}

// SurrogateID returns the remote identity, empty until replicated
func (a *Account) SurrogateID() string { return a.RemoteID }

// Key is the natural reconciliation key, the normalized email
func (a *Account) Key() string {
	return strings.ToLower(strings.TrimSpace(a.Email))
}

// LastModified returns the last-modified timestamp, nil if unknown
func (a *Account) LastModified() *time.Time { return a.UpdatedAt }

// Clone returns a deep copy
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Roles = append([]string(nil), a.Roles...)
	c.UpdatedAt = cloneTime(a.UpdatedAt)
	return &c
}

// OverwriteFrom copies every replicated field of src onto a, keeping a's
// local id. The surrogate id is only taken when src carries one.
func (a *Account) OverwriteFrom(src *Account) {
	if src.RemoteID != "" {
		a.RemoteID = src.RemoteID
	}
	a.Email = src.Email
	a.DisplayName = src.DisplayName
	if src.Credential != "" {
		a.Credential = src.Credential
	}
	if src.State.Valid() {
		a.State = src.State
	}
	a.Roles = append([]string(nil), src.Roles...)
	a.UpdatedAt = cloneTime(src.UpdatedAt)
}

// SameData reports whether both accounts carry identical business data,
// ignoring identities and timestamps. Roles compare as a set.
func (a *Account) SameData(b *Account) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Email == b.Email &&
		a.DisplayName == b.DisplayName &&
		sameCredential(a.Credential, b.Credential) &&
		a.State == b.State &&
		sameSet(a.Roles, b.Roles)
}

// AccountHistoryEntry is an immutable snapshot of an account
type AccountHistoryEntry struct {
	ID              int64        `json:"id"`
	RemoteID        string       `json:"remoteId,omitempty"`
	AccountID       int64        `json:"accountId"`
	AccountRemoteID string       `json:"accountRemoteId"`
	Email           string       `json:"email"`
	DisplayName     string       `json:"displayName"`
	Credential      string       `json:"-"`
	State           AccountState `json:"state"`
	RecordedAt      time.Time    `json:"recordedAt"`
}

// SurrogateID returns the remote identity of the entry
func (h *AccountHistoryEntry) SurrogateID() string { return h.RemoteID }

// Clone returns a copy
func (h *AccountHistoryEntry) Clone() *AccountHistoryEntry {
	c := *h
	return &c
}

// RefreshFrom copies the snapshot fields of src, keeping identities
func (h *AccountHistoryEntry) RefreshFrom(src *AccountHistoryEntry) {
	h.Email = src.Email
	h.DisplayName = src.DisplayName
	if src.Credential != "" {
		h.Credential = src.Credential
	}
	if src.State.Valid() {
		h.State = src.State
	}
	if !src.RecordedAt.IsZero() {
		h.RecordedAt = src.RecordedAt
	}
}

// SameData reports whether both entries hold the same snapshot
func (h *AccountHistoryEntry) SameData(o *AccountHistoryEntry) bool {
	return h.Email == o.Email &&
		h.DisplayName == o.DisplayName &&
		sameCredential(h.Credential, o.Credential) &&
		h.State == o.State &&
		sameInstant(&h.RecordedAt, &o.RecordedAt)
}

// sameCredential treats a missing credential as unknown rather than different;
// identity providers never return the secret.
func sameCredential(a, b string) bool {
	return a == "" || b == "" || a == b
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
