package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/services/sync-service/domain/repository"
	"github.com/servevlc/platform/shared/common"
)

var (
	_ repository.AccountStore         = (*AccountRepository)(nil)
	_ repository.AccountHistoryStore  = (*AccountHistoryRepository)(nil)
	_ repository.WorkItemStore        = (*WorkItemRepository)(nil)
	_ repository.WorkItemHistoryStore = (*WorkItemHistoryRepository)(nil)
	_ repository.ReferenceStore       = (*Store)(nil)
	_ repository.SnapshotSource       = (*Store)(nil)
)

func TestWrapMapsDriverErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code common.ErrorCode
	}{
		{"no rows", sql.ErrNoRows, common.ErrCodeNotFound},
		{"unique", &pq.Error{Code: "23505"}, common.ErrCodeDatabaseConstraint},
		{"foreign key", &pq.Error{Code: "23503"}, common.ErrCodeDatabaseConstraint},
		{"admin shutdown", &pq.Error{Code: "57P01"}, common.ErrCodeDatabaseConnection},
		{"syntax", &pq.Error{Code: "42601"}, common.ErrCodeDatabaseQuery},
		{"plain", errors.New("boom"), common.ErrCodeDatabaseQuery},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := wrap(tc.err, "op")
			require.Error(t, err)
			assert.True(t, common.HasErrorCode(err, tc.code), "got %v", err)
			assert.ErrorIs(t, err, tc.err)
		})
	}

	assert.NoError(t, wrap(nil, "op"))

	notFound := common.ErrNotFound("account")
	assert.Same(t, notFound, wrap(notFound, "op"))
}

func TestAccountRowToEntity(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	row := accountRow{
		ID:          4,
		RemoteID:    sql.NullString{String: "uid-4", Valid: true},
		Email:       "a@x.com",
		DisplayName: "Alice",
		State:       3,
		UpdatedAt:   sql.NullTime{Time: ts, Valid: true},
		Roles:       pq.StringArray{"ADMIN", "USER"},
	}

	a := row.toEntity()

	assert.Equal(t, "uid-4", a.RemoteID)
	assert.Empty(t, a.Credential)
	assert.Equal(t, entity.AccountStateBlocked, a.State)
	assert.Equal(t, []string{"ADMIN", "USER"}, a.Roles)
	require.NotNil(t, a.UpdatedAt)
	assert.Equal(t, time.UTC, a.UpdatedAt.Location())
	assert.True(t, ts.Equal(*a.UpdatedAt))

	row.UpdatedAt = sql.NullTime{}
	row.RemoteID = sql.NullString{}
	a = row.toEntity()
	assert.Nil(t, a.UpdatedAt)
	assert.Empty(t, a.SurrogateID())
}

func TestWorkItemRowToEntity(t *testing.T) {
	row := workItemRow{
		ID:            9,
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Area:          12.5,
		Longitude:     -0.37,
		Latitude:      39.47,
		OwnerID:       4,
		OwnerRemoteID: sql.NullString{String: "uid-4", Valid: true},
		OwnerEmail:    "a@x.com",
		StateID:       sql.NullInt64{Int64: 3, Valid: true},
		StateLabel:    sql.NullString{String: "done", Valid: true},
		StateProgress: sql.NullFloat64{Float64: 1, Valid: true},
	}

	w := row.toEntity()

	assert.Equal(t, "local:9", w.Key())
	assert.Equal(t, entity.Coordinate{Longitude: -0.37, Latitude: 39.47}, w.Location)
	assert.Equal(t, "uid-4", w.Owner.RemoteID)
	assert.True(t, w.State.Finished())
	assert.Nil(t, w.Category)
	assert.NotNil(t, w.Tags)
	assert.Nil(t, w.UpdatedAt)
}

func TestWorkItemHistoryRowWithoutState(t *testing.T) {
	row := workItemHistoryRow{ID: 1, WorkItemID: 9, RecordedAt: time.Now()}
	assert.Nil(t, row.toEntity().State)
}

func TestQueryArguments(t *testing.T) {
	assert.False(t, nullString("").Valid)
	assert.True(t, nullString("x").Valid)

	assert.Nil(t, timeArg(nil))
	assert.False(t, stateArg(nil).Valid)
	assert.False(t, stateArg(&entity.LifecycleState{Label: "new"}).Valid)
	assert.Equal(t, int64(2), stateArg(&entity.LifecycleState{ID: 2}).Int64)
	assert.False(t, categoryArg(&entity.Category{}).Valid)
}

func TestConnectReportsUnreachableServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := Connect(ctx, common.PostgreSQLConfig{
		Host:     "127.0.0.1",
		Port:     1,
		Database: "servevlc",
		Username: "servevlc",
		Password: "secret",
		SSLMode:  "disable",
	})
	require.Error(t, err)
	assert.Nil(t, db)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeDatabaseConnection))
}
