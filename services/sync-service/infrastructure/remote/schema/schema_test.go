package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servevlc/platform/services/sync-service/domain/entity"
)

func TestAccountDocumentRoundTrip(t *testing.T) {
	updated := time.Date(2024, 6, 1, 9, 30, 0, 0, time.FixedZone("EAT", 3*3600))
	account := &entity.Account{
		ID:          4,
		RemoteID:    "uid-4",
		Email:       "a@x.com",
		DisplayName: "Alice",
		Credential:  "secret",
		State:       entity.AccountStateBlocked,
		Roles:       []string{"USER"},
		UpdatedAt:   &updated,
	}

	doc := AccountToDocument(account)
	assert.True(t, doc.Disabled)
	assert.Equal(t, time.UTC, doc.UpdatedAt.Location())

	back := doc.ToEntity()
	assert.Equal(t, "uid-4", back.RemoteID)
	assert.Zero(t, back.ID)
	assert.Empty(t, back.Credential)
	assert.True(t, back.SameData(account))
	assert.True(t, back.UpdatedAt.Equal(updated))
}

func TestAccountDocumentWithoutStateFallsBackToDisabledFlag(t *testing.T) {
	assert.Equal(t, entity.AccountStateBlocked, AccountDocument{Disabled: true}.ToEntity().State)
	assert.Equal(t, entity.AccountStateActive, AccountDocument{}.ToEntity().State)
}

func TestWorkItemDocumentRoundTrip(t *testing.T) {
	created := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	item := &entity.WorkItem{
		ID:        9,
		RemoteID:  "p-9",
		CreatedAt: created,
		Area:      120.5,
		Budget:    3000,
		Severity:  5,
		Location:  entity.Coordinate{Longitude: 47.52, Latitude: -18.91},
		Owner:     entity.AccountRef{RemoteID: "uid-1", Email: "a@x.com"},
		State:     &entity.LifecycleState{ID: 2, Label: "in progress", Progress: 0.5},
		Category:  &entity.Category{ID: 1, Label: "major"},
		Tags:      []entity.Tag{{ID: 3, Label: "roads"}},
	}

	back := WorkItemToDocument(item).ToEntity()

	assert.Equal(t, "p-9", back.RemoteID)
	assert.True(t, back.SameData(item))
	assert.Nil(t, back.UpdatedAt)
	assert.Equal(t, 0.5, back.State.Progress)
}

func TestWorkItemDocumentWithoutOptionalParts(t *testing.T) {
	back := WorkItemDocument{ID: "p-1", Level: 2}.ToEntity()
	assert.True(t, back.CreatedAt.IsZero())
	assert.Nil(t, back.State)
	assert.Nil(t, back.Category)
	assert.Empty(t, back.Owner.RemoteID)
}

func TestHistoryDocumentsRoundTrip(t *testing.T) {
	recorded := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)

	ah := &entity.AccountHistoryEntry{RemoteID: "h1", AccountRemoteID: "uid-1", Email: "a@x.com", State: entity.AccountStateActive, RecordedAt: recorded}
	backAH := AccountHistoryToDocument(ah).ToEntity()
	assert.Equal(t, "uid-1", backAH.AccountRemoteID)
	assert.True(t, backAH.SameData(ah))

	wh := &entity.WorkItemHistoryEntry{RemoteID: "h2", WorkItemRemoteID: "p-1", RecordedAt: recorded, Area: 3, State: &entity.LifecycleState{Label: "done", Progress: 1}}
	backWH := WorkItemHistoryToDocument(wh).ToEntity()
	assert.Equal(t, "p-1", backWH.WorkItemRemoteID)
	assert.True(t, backWH.SameData(wh))
}

func TestSnapshotToMapWritesNullForMissingAverages(t *testing.T) {
	label := "1m 30s"
	ms := int64(90_000)
	snapshot := &entity.Snapshot{
		Summary: entity.Summary{Count: 2, TotalArea: 10},
		Delay: entity.DelayReport{
			Items:           []entity.ItemDelay{{WorkItemID: 1, NewMs: &ms, NewLabel: &label}},
			AverageNewMs:    &ms,
			AverageNewLabel: &label,
		},
		PushedAt: time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC),
	}

	m := SnapshotToMap(snapshot)

	delay := m["workDelay"].(map[string]interface{})
	assert.Equal(t, int64(90_000), delay["average0to05Ms"])
	assert.Nil(t, delay["average05to1Ms"])
	assert.Nil(t, delay["average0to1Label"])

	items := delay["workTreatments"].([]interface{})
	require.Len(t, items, 1)
	assert.Nil(t, items[0].(map[string]interface{})["totalMs"])

	summary := m["summary"].(map[string]interface{})
	assert.Equal(t, int64(2), summary["count"])
	assert.Contains(t, m, "pushedAt")
}
