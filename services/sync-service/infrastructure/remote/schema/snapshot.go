package schema

import "github.com/servevlc/platform/services/sync-service/domain/entity"

// SnapshotToMap renders the dashboard payload as a nested map, the form
// both document stores accept for a whole-document write.
func SnapshotToMap(s *entity.Snapshot) map[string]interface{} {
	items := make([]interface{}, 0, len(s.Delay.Items))
	for _, it := range s.Delay.Items {
		items = append(items, map[string]interface{}{
			"workItemId":       it.WorkItemID,
			"workItemRemoteId": it.WorkItemRemoteID,
			"createdAt":        it.CreatedAt.UTC(),
			"surface":          it.Area,
			"budget":           it.Budget,
			"coordinates": map[string]interface{}{
				"longitude": it.Location.Longitude,
				"latitude":  it.Location.Latitude,
			},
			"stateLabel":      it.StateLabel,
			"typeLabel":       it.CategoryLabel,
			"newMs":           int64OrNil(it.NewMs),
			"newLabel":        stringOrNil(it.NewLabel),
			"inProgressMs":    int64OrNil(it.InProgressMs),
			"inProgressLabel": stringOrNil(it.InProgressLabel),
			"totalMs":         int64OrNil(it.TotalMs),
			"totalLabel":      stringOrNil(it.TotalLabel),
		})
	}

	return map[string]interface{}{
		"summary": map[string]interface{}{
			"count":           s.Summary.Count,
			"totalSurface":    s.Summary.TotalArea,
			"averageProgress": s.Summary.AverageProgress,
			"totalBudget":     s.Summary.TotalBudget,
		},
		"workDelay": map[string]interface{}{
			"workTreatments":    items,
			"average0to05Ms":    int64OrNil(s.Delay.AverageNewMs),
			"average0to05Label": stringOrNil(s.Delay.AverageNewLabel),
			"average05to1Ms":    int64OrNil(s.Delay.AverageInProgressMs),
			"average05to1Label": stringOrNil(s.Delay.AverageInProgressLabel),
			"average0to1Ms":     int64OrNil(s.Delay.AverageTotalMs),
			"average0to1Label":  stringOrNil(s.Delay.AverageTotalLabel),
		},
		"pushedAt": s.PushedAt.UTC(),
	}
}

// nil pointers must become untyped nil so the drivers write null
func int64OrNil(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func stringOrNil(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
