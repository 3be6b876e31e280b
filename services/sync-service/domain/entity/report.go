package entity

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Family identifies a group of replicated records in a report
type Family string

const (
	FamilyAccounts        Family = "accounts"
	FamilyAccountHistory  Family = "account_history"
	FamilyWorkItems       Family = "work_items"
	FamilyWorkItemHistory Family = "work_item_history"
	FamilySnapshots       Family = "snapshots"
)

// Families lists every family in rendering order
var Families = []Family{
	FamilyAccounts,
	FamilyAccountHistory,
	FamilyWorkItems,
	FamilyWorkItemHistory,
	FamilySnapshots,
}

var familyTitles = map[Family]string{
	FamilyAccounts:        "Accounts",
	FamilyAccountHistory:  "Account History",
	FamilyWorkItems:       "Work Items",
	FamilyWorkItemHistory: "Work Item History",
	FamilySnapshots:       "Dashboard",
}

// Action is the direction a record travelled
type Action string

const (
	ActionCreatedLocally  Action = "created_locally"
	ActionPushedToRemote  Action = "pushed_to_remote"
	ActionUpdatedLocally  Action = "updated_locally"
	ActionUpdatedInRemote Action = "updated_in_remote"
)

// Actions lists every action in rendering order
var Actions = []Action{
	ActionCreatedLocally,
	ActionPushedToRemote,
	ActionUpdatedLocally,
	ActionUpdatedInRemote,
}

var actionLabels = map[Action]string{
	ActionCreatedLocally:  "created locally (from remote)",
	ActionPushedToRemote:  "pushed to remote (from local)",
	ActionUpdatedLocally:  "updated locally (from remote)",
	ActionUpdatedInRemote: "updated in remote (from local)",
}

// Counters holds per-direction counts for one family
type Counters struct {
	CreatedLocally  int `json:"createdLocally"`
	PushedToRemote  int `json:"pushedToRemote"`
	UpdatedLocally  int `json:"updatedLocally"`
	UpdatedInRemote int `json:"updatedInRemote"`
}

// Get returns the count for an action
func (c Counters) Get(action Action) int {
	switch action {
	case ActionCreatedLocally:
		return c.CreatedLocally
	case ActionPushedToRemote:
		return c.PushedToRemote
	case ActionUpdatedLocally:
		return c.UpdatedLocally
	case ActionUpdatedInRemote:
		return c.UpdatedInRemote
	default:
		return 0
	}
}

// IsZero reports whether nothing was counted
func (c Counters) IsZero() bool {
	return c == Counters{}
}

func (c *Counters) add(action Action, n int) {
	switch action {
	case ActionCreatedLocally:
		c.CreatedLocally += n
	case ActionPushedToRemote:
		c.PushedToRemote += n
	case ActionUpdatedLocally:
		c.UpdatedLocally += n
	case ActionUpdatedInRemote:
		c.UpdatedInRemote += n
	}
}

func (c *Counters) merge(o Counters) {
	c.CreatedLocally += o.CreatedLocally
	c.PushedToRemote += o.PushedToRemote
	c.UpdatedLocally += o.UpdatedLocally
	c.UpdatedInRemote += o.UpdatedInRemote
}

// SyncReport accumulates the outcome of one or more reconciliation steps.
// It is safe for concurrent use.
type SyncReport struct {
	mu       sync.Mutex
	counters map[Family]*Counters
	errors   []string
}

// NewSyncReport returns an empty report
func NewSyncReport() *SyncReport {
	return &SyncReport{counters: make(map[Family]*Counters)}
}

func (r *SyncReport) family(f Family) *Counters {
	if r.counters == nil {
		r.counters = make(map[Family]*Counters)
	}
	c, ok := r.counters[f]
	if !ok {
		c = &Counters{}
		r.counters[f] = c
	}
	return c
}

// Record increments one counter
func (r *SyncReport) Record(f Family, action Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.family(f).add(action, 1)
}

// AddError appends a free-text error
func (r *SyncReport) AddError(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, message)
}

// Fail records a per-item failure as "Failed to sync <kind> <key>: <message>"
func (r *SyncReport) Fail(kind, key string, err error) string {
	message := fmt.Sprintf("Failed to sync %s %s: %v", kind, key, err)
	r.AddError(message)
	return message
}

// Counters returns a copy of the counters of one family
func (r *SyncReport) Counters(f Family) Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[f]; ok {
		return *c
	}
	return Counters{}
}

// Errors returns a copy of the error list
func (r *SyncReport) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

// TotalErrors returns the number of recorded errors
func (r *SyncReport) TotalErrors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

// Empty reports whether nothing was counted and nothing failed
func (r *SyncReport) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.counters {
		if !c.IsZero() {
			return false
		}
	}
	return len(r.errors) == 0
}

// Merge adds other's counters field by field and appends its errors
func (r *SyncReport) Merge(other *SyncReport) {
	if other == nil || other == r {
		return
	}

	other.mu.Lock()
	counters := make(map[Family]Counters, len(other.counters))
	for f, c := range other.counters {
		counters[f] = *c
	}
	errs := append([]string(nil), other.errors...)
	other.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	for f, c := range counters {
		r.family(f).merge(c)
	}
	r.errors = append(r.errors, errs...)
}

// Summary renders the non-zero counters of every family followed by a
// numbered error list.
func (r *SyncReport) Summary() string {
	var sb strings.Builder
	sb.WriteString("Sync completed.\n")

	wrote := false
	for _, f := range Families {
		c := r.Counters(f)
		if c.IsZero() {
			continue
		}
		sb.WriteString("\n")
		sb.WriteString(familyTitles[f])
		sb.WriteString(":\n")
		for _, a := range Actions {
			if n := c.Get(a); n > 0 {
				fmt.Fprintf(&sb, "  - %d %s\n", n, actionLabels[a])
			}
		}
		wrote = true
	}

	errs := r.Errors()
	if !wrote && len(errs) == 0 {
		sb.WriteString("\nEverything is already in sync.\n")
	}
	if len(errs) > 0 {
		fmt.Fprintf(&sb, "\nErrors (%d):\n", len(errs))
		for i, e := range errs {
			fmt.Fprintf(&sb, "  %d. %s\n", i+1, e)
		}
	}

	return sb.String()
}

// ReportView is the serialized shape of a report
type ReportView struct {
	Accounts        Counters `json:"accounts"`
	AccountHistory  Counters `json:"accountHistory"`
	WorkItems       Counters `json:"workItems"`
	WorkItemHistory Counters `json:"workItemHistory"`
	Snapshots       Counters `json:"snapshots"`
	TotalErrors     int      `json:"totalErrors"`
	Errors          []string `json:"errors"`
}

// View copies the counters and errors with the derived error total
func (r *SyncReport) View() ReportView {
	errs := r.Errors()
	if errs == nil {
		errs = []string{}
	}
	return ReportView{
		Accounts:        r.Counters(FamilyAccounts),
		AccountHistory:  r.Counters(FamilyAccountHistory),
		WorkItems:       r.Counters(FamilyWorkItems),
		WorkItemHistory: r.Counters(FamilyWorkItemHistory),
		Snapshots:       r.Counters(FamilySnapshots),
		TotalErrors:     len(errs),
		Errors:          errs,
	}
}

// MarshalJSON renders the report view
func (r *SyncReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.View())
}
