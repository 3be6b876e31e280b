package postgres

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/shared/common"
)

// Store bundles the PostgreSQL repositories of the local side
type Store struct {
	db *sqlx.DB

	accounts        *AccountRepository
	accountHistory  *AccountHistoryRepository
	workItems       *WorkItemRepository
	workItemHistory *WorkItemHistoryRepository
}

// NewStore creates a new Store over an open pool
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:              db,
		accounts:        NewAccountRepository(db),
		accountHistory:  NewAccountHistoryRepository(db),
		workItems:       NewWorkItemRepository(db),
		workItemHistory: NewWorkItemHistoryRepository(db),
	}
}

func (s *Store) Accounts() *AccountRepository                { return s.accounts }
func (s *Store) AccountHistory() *AccountHistoryRepository   { return s.accountHistory }
func (s *Store) WorkItems() *WorkItemRepository              { return s.workItems }
func (s *Store) WorkItemHistory() *WorkItemHistoryRepository { return s.workItemHistory }

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return wrap(s.db.PingContext(ctx), "ping")
}

// Close closes the pool
func (s *Store) Close() error {
	return s.db.Close()
}

// LifecycleStates returns every state ordered by progress
func (s *Store) LifecycleStates(ctx context.Context) ([]entity.LifecycleState, error) {
	var states []entity.LifecycleState
	err := s.db.SelectContext(ctx, &states, `
		SELECT id, label, progress
		FROM lifecycle_states
		ORDER BY progress, id`)
	if err != nil {
		return nil, wrap(err, "list lifecycle states")
	}
	return states, nil
}

// EnsureCategory returns the category labelled label, creating it if needed
func (s *Store) EnsureCategory(ctx context.Context, label string) (*entity.Category, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, common.NewAppError(common.ErrCodeInvalidInput, "category label is required")
	}
	var c entity.Category
	err := s.db.GetContext(ctx, &c, `
		INSERT INTO categories (label) VALUES ($1)
		ON CONFLICT (label) DO UPDATE SET label = EXCLUDED.label
		RETURNING id, label`, label)
	if err != nil {
		return nil, wrap(err, "ensure category "+label)
	}
	return &c, nil
}

// Summary aggregates work items, optionally for one owner. Items without a
// lifecycle state count towards every figure but the average progress.
func (s *Store) Summary(ctx context.Context, ownerID *int64) (entity.Summary, error) {
	var row struct {
		Count           int64   `db:"count"`
		TotalArea       float64 `db:"total_area"`
		AverageProgress float64 `db:"average_progress"`
		TotalBudget     float64 `db:"total_budget"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT count(*) AS count,
		       COALESCE(sum(w.area), 0) AS total_area,
		       COALESCE(avg(st.progress), 0) AS average_progress,
		       COALESCE(sum(w.budget), 0) AS total_budget
		FROM work_items w
		LEFT JOIN lifecycle_states st ON st.id = w.state_id
		WHERE $1::BIGINT IS NULL OR w.owner_id = $1`, ownerID)
	if err != nil {
		return entity.Summary{}, wrap(err, "summarize work items")
	}
	return entity.Summary{
		Count:           row.Count,
		TotalArea:       row.TotalArea,
		AverageProgress: row.AverageProgress,
		TotalBudget:     row.TotalBudget,
	}, nil
}

// FinishedWorkItems returns work items whose state progress is 1
func (s *Store) FinishedWorkItems(ctx context.Context) ([]*entity.WorkItem, error) {
	return listWorkItems(ctx, s.db, `WHERE s.progress = 1`)
}

// AllWorkItemHistory returns every work item history entry
func (s *Store) AllWorkItemHistory(ctx context.Context) ([]*entity.WorkItemHistoryEntry, error) {
	return listWorkItemHistory(ctx, s.db, ``)
}
