package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/servevlc/platform/pkg/logging"
	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/services/sync-service/domain/repository"
	"github.com/servevlc/platform/services/sync-service/domain/service"
)

// SnapshotPublisher computes the dashboard snapshot from the local store
// and upserts it into the remote store under a fixed key.
type SnapshotPublisher struct {
	source repository.SnapshotSource
	sink   repository.SnapshotSink
	opts   Options
	logger *logging.Logger
}

// NewSnapshotPublisher creates a new SnapshotPublisher
func NewSnapshotPublisher(source repository.SnapshotSource, sink repository.SnapshotSink, opts Options, logger *logging.Logger) *SnapshotPublisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &SnapshotPublisher{
		source: source,
		sink:   sink,
		opts:   opts,
		logger: logger.WithFields(zap.String("family", string(entity.FamilySnapshots))),
	}
}

// Compute builds the snapshot without publishing it
func (p *SnapshotPublisher) Compute(ctx context.Context) (*entity.Snapshot, error) {
	summary, err := p.source.Summary(ctx, nil)
	if err != nil {
		return nil, fatal("compute work item summary", err)
	}
	finished, err := p.source.FinishedWorkItems(ctx)
	if err != nil {
		return nil, fatal("list finished work items", err)
	}
	entries, err := p.source.AllWorkItemHistory(ctx)
	if err != nil {
		return nil, fatal("list work item history", err)
	}

	history := make(map[int64][]*entity.WorkItemHistoryEntry)
	for _, e := range entries {
		history[e.WorkItemID] = append(history[e.WorkItemID], e)
	}

	return &entity.Snapshot{
		Summary:  summary,
		Delay:    service.AnalyzeDelays(finished, history),
		PushedAt: p.opts.now(),
	}, nil
}

// Publish computes and upserts the snapshot. A failed upsert is recorded in
// the report; only a failed computation is returned.
func (p *SnapshotPublisher) Publish(ctx context.Context) (*entity.SyncReport, error) {
	report := entity.NewSyncReport()
	logger := p.logger.WithContext(ctx)

	snapshot, err := p.Compute(ctx)
	if err != nil {
		return report, err
	}

	if err := p.sink.PublishSnapshot(ctx, snapshot); err != nil {
		report.AddError("Failed to publish dashboard snapshot: " + err.Error())
		logger.Warn("Snapshot publish failed", zap.Error(err))
		return report, nil
	}

	report.Record(entity.FamilySnapshots, entity.ActionPushedToRemote)
	logger.Info("Snapshot published",
		zap.Int64("work_items", snapshot.Summary.Count),
		zap.Int("finished", len(snapshot.Delay.Items)),
	)
	return report, nil
}
