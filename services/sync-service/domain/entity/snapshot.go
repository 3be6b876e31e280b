package entity

import "time"

// SnapshotDocumentID is the fixed key of the published dashboard document
const SnapshotDocumentID = "stats"

// Summary aggregates the work items of the local store
type Summary struct {
	Count           int64   `json:"count"`
	TotalArea       float64 `json:"totalArea"`
	AverageProgress float64 `json:"averageProgress"`
	TotalBudget     float64 `json:"totalBudget"`
}

// ItemDelay holds the phase durations of one finished work item. Nil
// durations mean the phase boundaries were not found in its history.
type ItemDelay struct {
	WorkItemID       int64      `json:"workItemId"`
	WorkItemRemoteID string     `json:"workItemRemoteId,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	Area             float64    `json:"area"`
	Budget           float64    `json:"budget"`
	Location         Coordinate `json:"location"`
	StateLabel       string     `json:"stateLabel,omitempty"`
	CategoryLabel    string     `json:"categoryLabel,omitempty"`

	NewMs           *int64  `json:"newMs"`
	NewLabel        *string `json:"newLabel"`
	InProgressMs    *int64  `json:"inProgressMs"`
	InProgressLabel *string `json:"inProgressLabel"`
	TotalMs         *int64  `json:"totalMs"`
	TotalLabel      *string `json:"totalLabel"`
}

// DelayReport summarizes how long finished work items spent in each phase
type DelayReport struct {
	Items []ItemDelay `json:"items"`

	AverageNewMs           *int64  `json:"averageNewMs"`
	AverageNewLabel        *string `json:"averageNewLabel"`
	AverageInProgressMs    *int64  `json:"averageInProgressMs"`
	AverageInProgressLabel *string `json:"averageInProgressLabel"`
	AverageTotalMs         *int64  `json:"averageTotalMs"`
	AverageTotalLabel      *string `json:"averageTotalLabel"`
}

// Snapshot is the dashboard payload published under SnapshotDocumentID
type Snapshot struct {
	Summary  Summary     `json:"summary"`
	Delay    DelayReport `json:"delay"`
	PushedAt time.Time   `json:"pushedAt"`
}
