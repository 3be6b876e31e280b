package service

import (
	"fmt"
	"math"
	"time"

	"github.com/servevlc/platform/services/sync-service/domain/entity"
)

// Phase boundaries, as lifecycle progress values
const (
	ProgressNew        = 0.0
	ProgressInProgress = 0.5
	ProgressFinished   = 1.0
)

// FormatDuration renders milliseconds using the largest non-zero unit:
// "{d}d {h}h {m}m", "{h}h {m}m", "{m}m {s}s" or "{s}s".
func FormatDuration(ms int64) string {
	if ms < 0 {
		return "-" + FormatDuration(-ms)
	}

	d := time.Duration(ms) * time.Millisecond
	days := int64(d / (24 * time.Hour))
	hours := int64(d/time.Hour) % 24
	minutes := int64(d/time.Minute) % 60
	seconds := int64(d/time.Second) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

func formatPtr(ms *int64) *string {
	if ms == nil {
		return nil
	}
	s := FormatDuration(*ms)
	return &s
}

// PhaseBoundaries finds the earliest entries at progress 0, 0.5 and 1 in
// history sorted oldest first. The 1.0 boundary falls back to the last
// entry at progress 1 when no earliest match was recorded.
func PhaseBoundaries(history []*entity.WorkItemHistoryEntry) (start, midway, end *time.Time) {
	var lastFinished *time.Time
	for _, h := range history {
		if h.State == nil {
			continue
		}
		at := h.RecordedAt
		switch h.State.Progress {
		case ProgressNew:
			if start == nil {
				start = &at
			}
		case ProgressInProgress:
			if midway == nil {
				midway = &at
			}
		case ProgressFinished:
			if end == nil {
				end = &at
			}
			lastFinished = &at
		}
	}
	if end == nil {
		end = lastFinished
	}
	return start, midway, end
}

type phaseAverage struct {
	sum   int64
	count int64
}

func (a *phaseAverage) add(ms *int64) {
	if ms == nil {
		return
	}
	a.sum += *ms
	a.count++
}

// value rounds half away from zero; nil when nothing contributed
func (a phaseAverage) value() *int64 {
	if a.count == 0 {
		return nil
	}
	v := int64(math.Round(float64(a.sum) / float64(a.count)))
	return &v
}

func between(from, to *time.Time) *int64 {
	if from == nil || to == nil {
		return nil
	}
	ms := to.Sub(*from).Milliseconds()
	return &ms
}

// AnalyzeDelays computes the per-item and average phase durations of the
// given finished work items. history is keyed by local work item id.
func AnalyzeDelays(items []*entity.WorkItem, history map[int64][]*entity.WorkItemHistoryEntry) entity.DelayReport {
	report := entity.DelayReport{Items: make([]entity.ItemDelay, 0, len(items))}

	var avgNew, avgInProgress, avgTotal phaseAverage
	for _, item := range items {
		entries := append([]*entity.WorkItemHistoryEntry(nil), history[item.ID]...)
		entity.SortHistory(entries)

		start, midway, end := PhaseBoundaries(entries)
		newMs := between(start, midway)
		inProgressMs := between(midway, end)

		var totalMs *int64
		if newMs != nil && inProgressMs != nil {
			total := *newMs + *inProgressMs
			totalMs = &total
		}

		avgNew.add(newMs)
		avgInProgress.add(inProgressMs)
		avgTotal.add(totalMs)

		delay := entity.ItemDelay{
			WorkItemID:       item.ID,
			WorkItemRemoteID: item.RemoteID,
			CreatedAt:        item.CreatedAt,
			Area:             item.Area,
			Budget:           item.Budget,
			Location:         item.Location,
			NewMs:            newMs,
			NewLabel:         formatPtr(newMs),
			InProgressMs:     inProgressMs,
			InProgressLabel:  formatPtr(inProgressMs),
			TotalMs:          totalMs,
			TotalLabel:       formatPtr(totalMs),
		}
		if item.State != nil {
			delay.StateLabel = item.State.Label
		}
		if item.Category != nil {
			delay.CategoryLabel = item.Category.Label
		}
		report.Items = append(report.Items, delay)
	}

	report.AverageNewMs = avgNew.value()
	report.AverageNewLabel = formatPtr(report.AverageNewMs)
	report.AverageInProgressMs = avgInProgress.value()
	report.AverageInProgressLabel = formatPtr(report.AverageInProgressMs)
	report.AverageTotalMs = avgTotal.value()
	report.AverageTotalLabel = formatPtr(report.AverageTotalMs)

	return report
}
