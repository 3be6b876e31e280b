package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/servevlc/platform/services/sync-service/domain/entity"
)

type workItemHistoryRow struct {
	ID               int64           `db:"id"`
	RemoteID         sql.NullString  `db:"remote_id"`
	WorkItemID       int64           `db:"work_item_id"`
	WorkItemRemoteID sql.NullString  `db:"work_item_remote_id"`
	RecordedAt       time.Time       `db:"recorded_at"`
	Area             float64         `db:"area"`
	Budget           float64         `db:"budget"`
	Severity         int             `db:"severity"`
	Longitude        float64         `db:"longitude"`
	Latitude         float64         `db:"latitude"`
	StateID          sql.NullInt64   `db:"state_id"`
	StateLabel       sql.NullString  `db:"state_label"`
	StateProgress    sql.NullFloat64 `db:"state_progress"`
}

func (r workItemHistoryRow) toEntity() *entity.WorkItemHistoryEntry {
	h := &entity.WorkItemHistoryEntry{
		ID:               r.ID,
		RemoteID:         r.RemoteID.String,
		WorkItemID:       r.WorkItemID,
		WorkItemRemoteID: r.WorkItemRemoteID.String,
		RecordedAt:       r.RecordedAt.UTC(),
		Area:             r.Area,
		Budget:           r.Budget,
		Severity:         r.Severity,
		Location:         entity.Coordinate{Longitude: r.Longitude, Latitude: r.Latitude},
	}
	if r.StateID.Valid {
		h.State = &entity.LifecycleState{ID: r.StateID.Int64, Label: r.StateLabel.String, Progress: r.StateProgress.Float64}
	}
	return h
}

const selectWorkItemHistory = `
	SELECT h.id, h.remote_id, h.work_item_id, w.remote_id AS work_item_remote_id, h.recorded_at,
	       h.area, h.budget, h.severity, h.longitude, h.latitude,
	       h.state_id, s.label AS state_label, s.progress AS state_progress
	FROM work_item_history h
	JOIN work_items w ON w.id = h.work_item_id
	LEFT JOIN lifecycle_states s ON s.id = h.state_id`

// WorkItemHistoryRepository stores work item history rows
type WorkItemHistoryRepository struct {
	db *sqlx.DB
}

// NewWorkItemHistoryRepository creates a new WorkItemHistoryRepository
func NewWorkItemHistoryRepository(db *sqlx.DB) *WorkItemHistoryRepository {
	return &WorkItemHistoryRepository{db: db}
}

// ListByOwner returns the item's entries, oldest first
func (r *WorkItemHistoryRepository) ListByOwner(ctx context.Context, owner *entity.WorkItem) ([]*entity.WorkItemHistoryEntry, error) {
	return listWorkItemHistory(ctx, r.db, `WHERE h.work_item_id = $1`, owner.ID)
}

func listWorkItemHistory(ctx context.Context, q sqlx.QueryerContext, where string, args ...interface{}) ([]*entity.WorkItemHistoryEntry, error) {
	var rows []workItemHistoryRow
	query := selectWorkItemHistory + ` ` + where + ` ORDER BY h.recorded_at, h.id`
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, wrap(err, "list work item history")
	}
	out := make([]*entity.WorkItemHistoryEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

// Upsert matches by id, then surrogate id. A state is resolved by id, then
// by label.
func (r *WorkItemHistoryRepository) Upsert(ctx context.Context, owner *entity.WorkItem, entry *entity.WorkItemHistoryEntry) (*entity.WorkItemHistoryEntry, error) {
	recordedAt := entry.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	var stateID sql.NullInt64
	if entry.State != nil {
		err := r.db.GetContext(ctx, &stateID, `
			SELECT id FROM lifecycle_states
			WHERE id = $1 OR lower(label) = lower($2)
			ORDER BY (id = $1) DESC
			LIMIT 1`, entry.State.ID, entry.State.Label)
		if err != nil && err != sql.ErrNoRows {
			return nil, wrap(err, "resolve history state")
		}
	}

	var id int64
	err := r.db.GetContext(ctx, &id, `
		WITH existing AS (
			SELECT id FROM work_item_history
			WHERE id = $1 OR ($2 <> '' AND remote_id = $2)
			ORDER BY (id = $1) DESC
			LIMIT 1
		), updated AS (
			UPDATE work_item_history SET
				remote_id = COALESCE(NULLIF($2, ''), remote_id),
				work_item_id = $3, recorded_at = $4, area = $5, budget = $6, severity = $7,
				longitude = $8, latitude = $9, state_id = $10
			WHERE id = (SELECT id FROM existing)
			RETURNING id
		), inserted AS (
			INSERT INTO work_item_history (remote_id, work_item_id, recorded_at, area, budget, severity,
			                               longitude, latitude, state_id)
			SELECT NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10
			WHERE NOT EXISTS (SELECT 1 FROM existing)
			RETURNING id
		)
		SELECT id FROM updated UNION ALL SELECT id FROM inserted`,
		entry.ID, entry.RemoteID, owner.ID, recordedAt.UTC(), entry.Area, entry.Budget, entry.Severity,
		entry.Location.Longitude, entry.Location.Latitude, stateID)
	if err != nil {
		return nil, wrap(err, "write work item history")
	}

	entries, err := listWorkItemHistory(ctx, r.db, `WHERE h.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, wrap(sql.ErrNoRows, "reload work item history")
	}
	return entries[0], nil
}
