package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"doccal/internal/metrics"
	"doccal/internal/models"
)

// Inserter creates a single event in a remote calendar and returns the
// identifier the remote side assigned to it.
type Inserter interface {
	InsertEvent(ctx context.Context, ev models.ValidatedEvent) (string, error)
}

// Refresher makes sure the credentials used by an Inserter are usable.
type Refresher interface {
	EnsureFresh(ctx context.Context) error
}

// Options tune a Syncer.
type Options struct {
	// Workers bounds concurrent insertions. Values below 1 mean 1.
	Workers int
	DryRun  bool
	Metrics *metrics.Recorder
}

// Syncer pushes validated events to a remote calendar, one call per event.
type Syncer struct {
	logger    *slog.Logger
	inserter  Inserter
	refresher Refresher
	workers   int
	dryRun    bool
	metrics   *metrics.Recorder
}

// NewSyncer creates a new Syncer. refresher may be nil for targets that do
// not use an OAuth grant.
func NewSyncer(logger *slog.Logger, inserter Inserter, refresher Refresher, opts Options) *Syncer {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Syncer{
		logger:    logger,
		inserter:  inserter,
		refresher: refresher,
		workers:   opts.Workers,
		dryRun:    opts.DryRun,
		metrics:   opts.Metrics,
	}
}

// SyncAll inserts events in order and returns exactly one result per
// event, at the same index. A failed insertion never stops the others.
//
// Credentials are refreshed once up front. If that fails, every event is
// marked failed and the returned error wraps models.ErrTokenRefresh.
func (s *Syncer) SyncAll(ctx context.Context, events []models.ValidatedEvent) ([]models.SyncResult, error) {
	results := make([]models.SyncResult, len(events))
	if len(events) == 0 {
		return results, nil
	}

	if s.refresher != nil && !s.dryRun {
		if err := s.refresher.EnsureFresh(ctx); err != nil {
			s.logger.Error("Could not refresh credentials, aborting batch", "events", len(events), "error", err)
			for i, ev := range events {
				results[i] = failed(ev, fmt.Sprintf("credentials unavailable: %v", err))
			}
			return results, err
		}
	}

	s.logger.Info("Starting sync of validated events.", "count", len(events), "workers", s.workers)

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, ev := range events {
		i, ev := i, ev
		g.Go(func() error {
			results[i] = s.insertOne(ctx, ev)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("Sync finished.", "count", len(events))
	return results, nil
}

// insertOne submits a single event and converts the outcome into a result.
func (s *Syncer) insertOne(ctx context.Context, ev models.ValidatedEvent) models.SyncResult {
	if err := ctx.Err(); err != nil {
		return failed(ev, fmt.Sprintf("not attempted: %v", err))
	}

	if s.dryRun {
		s.logger.Info("[DRY RUN] Would insert event", "title", ev.Title, "start", ev.Start)
		res := models.Skipped(ev.Source, "dry run")
		res.Warning = ev.Warning
		return res
	}

	start := time.Now()
	id, err := s.inserter.InsertEvent(ctx, ev)
	s.metrics.ObserveInsert(start)
	if err != nil {
		s.logger.Error("Failed to insert event", "title", ev.Title, "error", err)
		return failed(ev, err.Error())
	}

	res := models.Inserted(ev.Source, id)
	res.Warning = ev.Warning
	return res
}

func failed(ev models.ValidatedEvent, reason string) models.SyncResult {
	res := models.Failed(ev.Source, reason)
	res.Warning = ev.Warning
	return res
}
