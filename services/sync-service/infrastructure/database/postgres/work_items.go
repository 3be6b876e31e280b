package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/shared/common"
)

type workItemRow struct {
	ID               int64           `db:"id"`
	RemoteID         sql.NullString  `db:"remote_id"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        sql.NullTime    `db:"updated_at"`
	DeletedAt        sql.NullTime    `db:"deleted_at"`
	Area             float64         `db:"area"`
	Budget           float64         `db:"budget"`
	Severity         int             `db:"severity"`
	Longitude        float64         `db:"longitude"`
	Latitude         float64         `db:"latitude"`
	OwnerID          int64           `db:"owner_id"`
	OwnerRemoteID    sql.NullString  `db:"owner_remote_id"`
	OwnerEmail       string          `db:"owner_email"`
	OwnerDisplayName string          `db:"owner_display_name"`
	StateID          sql.NullInt64   `db:"state_id"`
	StateLabel       sql.NullString  `db:"state_label"`
	StateProgress    sql.NullFloat64 `db:"state_progress"`
	CategoryID       sql.NullInt64   `db:"category_id"`
	CategoryLabel    sql.NullString  `db:"category_label"`
}

func (r workItemRow) toEntity() *entity.WorkItem {
	w := &entity.WorkItem{
		ID:        r.ID,
		RemoteID:  r.RemoteID.String,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: nullTime(r.UpdatedAt),
		DeletedAt: nullTime(r.DeletedAt),
		Area:      r.Area,
		Budget:    r.Budget,
		Severity:  r.Severity,
		Location:  entity.Coordinate{Longitude: r.Longitude, Latitude: r.Latitude},
		OwnerID:   r.OwnerID,
		Owner: entity.AccountRef{
			RemoteID:    r.OwnerRemoteID.String,
			Email:       r.OwnerEmail,
			DisplayName: r.OwnerDisplayName,
		},
		Tags: []entity.Tag{},
	}
	if r.StateID.Valid {
		w.State = &entity.LifecycleState{ID: r.StateID.Int64, Label: r.StateLabel.String, Progress: r.StateProgress.Float64}
	}
	if r.CategoryID.Valid {
		w.Category = &entity.Category{ID: r.CategoryID.Int64, Label: r.CategoryLabel.String}
	}
	return w
}

type tagRow struct {
	WorkItemID int64  `db:"work_item_id"`
	ID         int64  `db:"id"`
	Label      string `db:"label"`
}

const selectWorkItems = `
	SELECT w.id, w.remote_id, w.created_at, w.updated_at, w.deleted_at,
	       w.area, w.budget, w.severity, w.longitude, w.latitude,
	       w.owner_id, a.remote_id AS owner_remote_id, a.email AS owner_email, a.display_name AS owner_display_name,
	       w.state_id, s.label AS state_label, s.progress AS state_progress,
	       w.category_id, c.label AS category_label
	FROM work_items w
	JOIN accounts a ON a.id = w.owner_id
	LEFT JOIN lifecycle_states s ON s.id = w.state_id
	LEFT JOIN categories c ON c.id = w.category_id`

// WorkItemRepository stores work items with their tags
type WorkItemRepository struct {
	db *sqlx.DB
}

// NewWorkItemRepository creates a new WorkItemRepository
func NewWorkItemRepository(db *sqlx.DB) *WorkItemRepository {
	return &WorkItemRepository{db: db}
}

// ListAll returns every work item ordered by id
func (r *WorkItemRepository) ListAll(ctx context.Context) ([]*entity.WorkItem, error) {
	return listWorkItems(ctx, r.db, ``)
}

// FindBySurrogate returns the work item carrying remoteID
func (r *WorkItemRepository) FindBySurrogate(ctx context.Context, remoteID string) (*entity.WorkItem, error) {
	items, err := listWorkItems(ctx, r.db, `WHERE w.remote_id = $1`, remoteID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, common.ErrNotFound("work item")
	}
	return items[0], nil
}

func listWorkItems(ctx context.Context, q sqlx.QueryerContext, where string, args ...interface{}) ([]*entity.WorkItem, error) {
	var rows []workItemRow
	if err := sqlx.SelectContext(ctx, q, &rows, selectWorkItems+` `+where+` ORDER BY w.id`, args...); err != nil {
		return nil, wrap(err, "list work items")
	}
	if len(rows) == 0 {
		return []*entity.WorkItem{}, nil
	}

	items := make([]*entity.WorkItem, 0, len(rows))
	byID := make(map[int64]*entity.WorkItem, len(rows))
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		w := row.toEntity()
		items = append(items, w)
		byID[w.ID] = w
		ids = append(ids, w.ID)
	}

	var tags []tagRow
	err := sqlx.SelectContext(ctx, q, &tags, `
		SELECT wt.work_item_id, t.id, t.label
		FROM work_item_tags wt
		JOIN tags t ON t.id = wt.tag_id
		WHERE wt.work_item_id = ANY($1)
		ORDER BY wt.work_item_id, t.label`, pq.Array(ids))
	if err != nil {
		return nil, wrap(err, "list work item tags")
	}
	for _, t := range tags {
		if w, ok := byID[t.WorkItemID]; ok {
			w.Tags = append(w.Tags, entity.Tag{ID: t.ID, Label: t.Label})
		}
	}
	return items, nil
}

// Upsert matches by id, then surrogate id. Tags are replaced by label and
// created when unknown. The owner must exist locally.
func (r *WorkItemRepository) Upsert(ctx context.Context, item *entity.WorkItem) (*entity.WorkItem, error) {
	var saved *entity.WorkItem
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var id int64
		err := tx.GetContext(ctx, &id, `
			SELECT id FROM work_items
			WHERE id = $1 OR ($2 <> '' AND remote_id = $2)
			ORDER BY (id = $1) DESC
			LIMIT 1`, item.ID, item.RemoteID)
		if err != nil && err != sql.ErrNoRows {
			return wrap(err, "match work item")
		}

		createdAt := item.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		args := []interface{}{
			nullString(item.RemoteID), createdAt.UTC(), timeArg(item.UpdatedAt), timeArg(item.DeletedAt),
			item.Area, item.Budget, item.Severity, item.Location.Longitude, item.Location.Latitude,
			item.OwnerID, stateArg(item.State), categoryArg(item.Category),
		}

		if id == 0 {
			err = tx.GetContext(ctx, &id, `
				INSERT INTO work_items (remote_id, created_at, updated_at, deleted_at, area, budget, severity,
				                        longitude, latitude, owner_id, state_id, category_id)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
				RETURNING id`, args...)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE work_items SET
					remote_id = COALESCE($1, remote_id),
					created_at = $2, updated_at = $3, deleted_at = $4,
					area = $5, budget = $6, severity = $7, longitude = $8, latitude = $9,
					owner_id = $10, state_id = COALESCE($11, state_id), category_id = COALESCE($12, category_id)
				WHERE id = $13`, append(args, id)...)
		}
		if err != nil {
			return wrap(err, "write work item")
		}

		if err := replaceTags(ctx, tx, id, item.Tags); err != nil {
			return err
		}

		items, err := listWorkItems(ctx, tx, `WHERE w.id = $1`, id)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return common.ErrNotFound("work item")
		}
		saved = items[0]
		return nil
	})
	return saved, err
}

func replaceTags(ctx context.Context, tx *sqlx.Tx, itemID int64, tags []entity.Tag) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM work_item_tags WHERE work_item_id = $1`, itemID); err != nil {
		return wrap(err, "clear work item tags")
	}
	for _, tag := range tags {
		label := strings.TrimSpace(tag.Label)
		if label == "" {
			continue
		}
		var tagID int64
		err := tx.GetContext(ctx, &tagID, `
			INSERT INTO tags (label) VALUES ($1)
			ON CONFLICT (label) DO UPDATE SET label = EXCLUDED.label
			RETURNING id`, label)
		if err != nil {
			return wrap(err, "ensure tag "+label)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO work_item_tags (work_item_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			itemID, tagID); err != nil {
			return wrap(err, "attach tag "+label)
		}
	}
	return nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func timeArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func stateArg(s *entity.LifecycleState) sql.NullInt64 {
	if s == nil || s.ID == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: s.ID, Valid: true}
}

func categoryArg(c *entity.Category) sql.NullInt64 {
	if c == nil || c.ID == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: c.ID, Valid: true}
}
