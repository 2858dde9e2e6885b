// Package pipeline turns one extraction result into calendar events:
// parse, validate, then sync.
package pipeline

import (
	"context"
	"log/slog"

	"doccal/internal/metrics"
	"doccal/internal/models"
	"doccal/internal/validate"
)

// EventSyncer pushes validated events to a calendar. Implemented by
// syncer.Syncer.
type EventSyncer interface {
	SyncAll(ctx context.Context, events []models.ValidatedEvent) ([]models.SyncResult, error)
}

// Orchestrator runs documents through the pipeline.
type Orchestrator struct {
	logger    *slog.Logger
	validator *validate.Validator
	syncer    EventSyncer
	metrics   *metrics.Recorder
}

// New creates an Orchestrator. rec may be nil.
func New(logger *slog.Logger, v *validate.Validator, s EventSyncer, rec *metrics.Recorder) *Orchestrator {
	return &Orchestrator{logger: logger, validator: v, syncer: s, metrics: rec}
}

// Process handles one extraction result.
//
// Malformed output fails the document as a whole: the report is nil and
// the error wraps models.ErrMalformedExtraction. Otherwise the report has
// one result per candidate. If the batch was aborted because the grant
// could not be refreshed, the complete report is returned together with
// that error.
func (o *Orchestrator) Process(ctx context.Context, raw string) (*models.Report, error) {
	candidates, err := ParseExtraction(raw)
	if err != nil {
		o.metrics.ObserveDocument("malformed")
		o.logger.Error("Extraction output is malformed", "error", err)
		return nil, err
	}

	report := &models.Report{
		Events:  candidates,
		Results: make([]models.SyncResult, len(candidates)),
	}

	var valid []models.ValidatedEvent
	var positions []int
	for i, c := range candidates {
		ev, err := o.validator.Validate(c)
		if err != nil {
			o.logger.Warn("Skipping event with invalid date", "title", c.Title, "date", c.Date)
			report.Results[i] = models.Skipped(c, validate.ReasonInvalidDate)
			continue
		}
		if ev.Warning != "" {
			o.logger.Warn("Accepting event with warning", "warning", ev.Warning, "date", c.Date)
		}
		valid = append(valid, ev)
		positions = append(positions, i)
	}

	synced, err := o.syncer.SyncAll(ctx, valid)
	for j, res := range synced {
		report.Results[positions[j]] = res
	}
	report.Err = err

	for _, res := range report.Results {
		o.metrics.ObserveEvent(string(res.Status))
	}

	sum := report.Summary()
	if err != nil {
		o.metrics.ObserveDocument("aborted")
		o.logger.Error("Document sync aborted", "events", sum.Total, "error", err)
		return report, err
	}
	o.metrics.ObserveDocument("ok")
	o.logger.Info("Document processed.", "events", sum.Total, "inserted", sum.Inserted, "skipped", sum.Skipped, "failed", sum.Failed)
	return report, nil
}
