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

type accountRow struct {
	ID          int64          `db:"id"`
	RemoteID    sql.NullString `db:"remote_id"`
	Email       string         `db:"email"`
	DisplayName string         `db:"display_name"`
	Credential  sql.NullString `db:"credential"`
	State       int            `db:"state"`
	UpdatedAt   sql.NullTime   `db:"updated_at"`
	Roles       pq.StringArray `db:"roles"`
}

func (r accountRow) toEntity() *entity.Account {
	return &entity.Account{
		ID:          r.ID,
		RemoteID:    r.RemoteID.String,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		Credential:  r.Credential.String,
		State:       entity.AccountState(r.State),
		Roles:       append([]string(nil), r.Roles...),
		UpdatedAt:   nullTime(r.UpdatedAt),
	}
}

const selectAccounts = `
	SELECT a.id, a.remote_id, a.email, a.display_name, a.credential, a.state, a.updated_at,
	       COALESCE(array_agg(r.role ORDER BY r.role) FILTER (WHERE r.role IS NOT NULL), '{}') AS roles
	FROM accounts a
	LEFT JOIN account_roles r ON r.account_id = a.id`

// AccountRepository stores accounts with their roles
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// ListAll returns every account ordered by id
func (r *AccountRepository) ListAll(ctx context.Context) ([]*entity.Account, error) {
	var rows []accountRow
	query := selectAccounts + ` GROUP BY a.id ORDER BY a.id`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, wrap(err, "list accounts")
	}
	out := make([]*entity.Account, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

// FindBySurrogate returns the account carrying remoteID
func (r *AccountRepository) FindBySurrogate(ctx context.Context, remoteID string) (*entity.Account, error) {
	return r.get(ctx, r.db, `a.remote_id = $1`, remoteID)
}

func (r *AccountRepository) get(ctx context.Context, q sqlx.QueryerContext, where string, args ...interface{}) (*entity.Account, error) {
	var row accountRow
	query := selectAccounts + ` WHERE ` + where + ` GROUP BY a.id`
	if err := sqlx.GetContext(ctx, q, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, common.ErrNotFound("account")
		}
		return nil, wrap(err, "get account")
	}
	return row.toEntity(), nil
}

// Upsert matches by id, then surrogate id, then email. An empty surrogate
// id or credential never clears a stored one.
func (r *AccountRepository) Upsert(ctx context.Context, account *entity.Account) (*entity.Account, error) {
	var saved *entity.Account
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		id, err := r.match(ctx, tx, account)
		if err != nil {
			return err
		}

		state := account.State
		if !state.Valid() {
			state = entity.AccountStateActive
		}
		updatedAt := timeArg(account.UpdatedAt)

		if id == 0 {
			err = tx.GetContext(ctx, &id, `
				INSERT INTO accounts (remote_id, email, display_name, credential, state, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING id`,
				nullString(account.RemoteID), strings.TrimSpace(account.Email), account.DisplayName,
				nullString(account.Credential), int(state), updatedAt)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE accounts SET
					remote_id = COALESCE($2, remote_id),
					email = $3,
					display_name = $4,
					credential = COALESCE($5, credential),
					state = $6,
					updated_at = $7
				WHERE id = $1`,
				id, nullString(account.RemoteID), strings.TrimSpace(account.Email), account.DisplayName,
				nullString(account.Credential), int(state), updatedAt)
		}
		if err != nil {
			return wrap(err, "write account "+account.Email)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM account_roles WHERE account_id = $1`, id); err != nil {
			return wrap(err, "clear account roles")
		}
		for _, role := range account.Roles {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO account_roles (account_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				id, role); err != nil {
				return wrap(err, "write account role")
			}
		}

		saved, err = r.get(ctx, tx, `a.id = $1`, id)
		return err
	})
	return saved, err
}

func (r *AccountRepository) match(ctx context.Context, tx *sqlx.Tx, account *entity.Account) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, `
		SELECT id FROM accounts
		WHERE id = $1
		   OR ($2 <> '' AND remote_id = $2)
		   OR lower(email) = lower($3)
		ORDER BY (id = $1) DESC, (remote_id = $2) DESC NULLS LAST
		LIMIT 1`,
		account.ID, account.RemoteID, strings.TrimSpace(account.Email))
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, wrap(err, "match account")
}

type accountHistoryRow struct {
	ID              int64          `db:"id"`
	RemoteID        sql.NullString `db:"remote_id"`
	AccountID       int64          `db:"account_id"`
	AccountRemoteID sql.NullString `db:"account_remote_id"`
	Email           string         `db:"email"`
	DisplayName     string         `db:"display_name"`
	Credential      sql.NullString `db:"credential"`
	State           int            `db:"state"`
	RecordedAt      time.Time      `db:"recorded_at"`
}

func (r accountHistoryRow) toEntity() *entity.AccountHistoryEntry {
	return &entity.AccountHistoryEntry{
		ID:              r.ID,
		RemoteID:        r.RemoteID.String,
		AccountID:       r.AccountID,
		AccountRemoteID: r.AccountRemoteID.String,
		Email:           r.Email,
		DisplayName:     r.DisplayName,
		Credential:      r.Credential.String,
		State:           entity.AccountState(r.State),
		RecordedAt:      r.RecordedAt.UTC(),
	}
}

// AccountHistoryRepository stores account history rows
type AccountHistoryRepository struct {
	db *sqlx.DB
}

// NewAccountHistoryRepository creates a new AccountHistoryRepository
func NewAccountHistoryRepository(db *sqlx.DB) *AccountHistoryRepository {
	return &AccountHistoryRepository{db: db}
}

// ListByOwner returns the owner's entries, oldest first
func (r *AccountHistoryRepository) ListByOwner(ctx context.Context, owner *entity.Account) ([]*entity.AccountHistoryEntry, error) {
	var rows []accountHistoryRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT h.id, h.remote_id, h.account_id, a.remote_id AS account_remote_id,
		       h.email, h.display_name, h.credential, h.state, h.recorded_at
		FROM account_history h
		JOIN accounts a ON a.id = h.account_id
		WHERE h.account_id = $1
		ORDER BY h.recorded_at, h.id`, owner.ID)
	if err != nil {
		return nil, wrap(err, "list account history")
	}
	out := make([]*entity.AccountHistoryEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

// Upsert matches by id, then surrogate id
func (r *AccountHistoryRepository) Upsert(ctx context.Context, owner *entity.Account, entry *entity.AccountHistoryEntry) (*entity.AccountHistoryEntry, error) {
	recordedAt := entry.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	var id int64
	err := r.db.GetContext(ctx, &id, `
		WITH existing AS (
			SELECT id FROM account_history
			WHERE id = $1 OR ($2 <> '' AND remote_id = $2)
			ORDER BY (id = $1) DESC
			LIMIT 1
		), updated AS (
			UPDATE account_history SET
				remote_id = COALESCE(NULLIF($2, ''), remote_id),
				account_id = $3, email = $4, display_name = $5,
				credential = COALESCE(NULLIF($6, ''), credential),
				state = $7, recorded_at = $8
			WHERE id = (SELECT id FROM existing)
			RETURNING id
		), inserted AS (
			INSERT INTO account_history (remote_id, account_id, email, display_name, credential, state, recorded_at)
			SELECT NULLIF($2, ''), $3, $4, $5, NULLIF($6, ''), $7, $8
			WHERE NOT EXISTS (SELECT 1 FROM existing)
			RETURNING id
		)
		SELECT id FROM updated UNION ALL SELECT id FROM inserted`,
		entry.ID, entry.RemoteID, owner.ID, entry.Email, entry.DisplayName,
		entry.Credential, int(entry.State), recordedAt.UTC())
	if err != nil {
		return nil, wrap(err, "write account history")
	}

	out := entry.Clone()
	out.ID = id
	out.AccountID = owner.ID
	out.AccountRemoteID = owner.RemoteID
	out.RecordedAt = recordedAt
	return out, nil
}
