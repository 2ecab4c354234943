// Package pipeline orchestrates one merge run: validation gate, snapshot
// diff, SCD2 merge, and lineage annotation, with audit events at each
// stage boundary.
//
// A run is whole-or-nothing. On a REJECTED validation verdict or a
// timestamp discipline violation under the ABORT policy, the prior history
// state is returned untouched and the error carries the full diagnostic
// context; there is no partial commit and no cancellation mid-merge.
package pipeline

import (
	"fmt"
	"time"

	"github.com/cauam1/silverlake/internal/audit"
	"github.com/cauam1/silverlake/internal/diff"
	"github.com/cauam1/silverlake/internal/history"
	"github.com/cauam1/silverlake/internal/lineage"
	"github.com/cauam1/silverlake/internal/merge"
	"github.com/cauam1/silverlake/internal/record"
	"github.com/cauam1/silverlake/internal/validate"
)

// BatchIDGenerator generates unique batch ids for run provenance.
// Implemented by UUIDv7Generator (production) and testutil.FixedBatchGenerator
// (tests).
type BatchIDGenerator interface {
	Generate() string
}

// Pipeline wires the validation engine to the diff and merge stages.
type Pipeline struct {
	validator        *validate.Engine
	opts             merge.Options
	transformVersion string
	batchGen         BatchIDGenerator
	sink             audit.Sink
	now              func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAuditSink routes audit events to the given sink.
// Default: audit.Discard.
func WithAuditSink(sink audit.Sink) Option {
	return func(p *Pipeline) { p.sink = sink }
}

// WithBatchIDGenerator overrides batch id generation.
// Default: UUIDv7Generator.
func WithBatchIDGenerator(gen BatchIDGenerator) Option {
	return func(p *Pipeline) { p.batchGen = gen }
}

// WithClock overrides the wall clock used for ingestion timestamps.
// Used by tests and the scenario harness for deterministic runs.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a Pipeline. The merge options and transform version are
// explicit parameters: the pipeline reads no ambient configuration.
func New(validator *validate.Engine, opts merge.Options, transformVersion string, options ...Option) (*Pipeline, error) {
	if validator == nil {
		return nil, fmt.Errorf("pipeline: validator is required")
	}
	if transformVersion == "" {
		return nil, fmt.Errorf("pipeline: transform version is required")
	}
	opts = opts.Defaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{
		validator:        validator,
		opts:             opts,
		transformVersion: transformVersion,
		batchGen:         UUIDv7Generator{},
		sink:             audit.Discard,
		now:              time.Now,
	}
	for _, opt := range options {
		opt(p)
	}
	return p, nil
}

// Result is the outcome of one successful (or partially excluded) run.
type Result struct {
	BatchID  string
	Table    *history.Table
	Manifest *merge.Manifest
	Report   *validate.Report

	// OutOfOrder is set when keys were excluded for timestamp violations
	// under the EXCLUDE policy. The table and manifest are still valid.
	OutOfOrder *merge.OutOfOrderSnapshotError
}

// Run merges one snapshot into the prior history state.
//
// asOf is the snapshot's extraction instant and becomes the effective
// timestamp of every row version this run opens or closes.
//
// Errors: *validate.RejectedError on a BLOCKING rule failure,
// *diff.DuplicateKeyError if duplicates survive validation,
// *merge.OutOfOrderSnapshotError under the ABORT policy, and
// *record.SchemaMismatchError on type disagreement. In every error case
// the prior table is untouched.
func (p *Pipeline) Run(snap *record.Snapshot, prior *history.Table, asOf time.Time) (*Result, error) {
	batchID := p.batchGen.Generate()

	report, err := p.validator.Validate(snap, prior)
	if err != nil {
		p.emitError(audit.StageValidation, batchID, err)
		return nil, err
	}

	p.sink.Emit(audit.Event{
		Timestamp: p.now(),
		Stage:     audit.StageValidation,
		EventType: "validation_verdict",
		Message:   fmt.Sprintf("snapshot validation verdict: %s", report.Verdict),
		Metadata: map[string]any{
			"batch_id":    batchID,
			"verdict":     string(report.Verdict),
			"rows":        snap.Len(),
			"quarantined": len(report.Quarantined),
		},
	})

	if report.Verdict == validate.VerdictRejected {
		err := &validate.RejectedError{Report: report}
		p.emitError(audit.StagePipeline, batchID, err)
		return nil, err
	}

	classified, err := diff.Classify(report.Accepted, prior, p.opts.FloatTol)
	if err != nil {
		p.emitError(audit.StageDiff, batchID, err)
		return nil, err
	}

	next, manifest, err := merge.Merge(classified, prior, asOf, p.opts)
	var oooErr *merge.OutOfOrderSnapshotError
	if err != nil {
		if e, ok := err.(*merge.OutOfOrderSnapshotError); ok && e.Excluded {
			oooErr = e
		} else {
			p.emitError(audit.StageMerge, batchID, err)
			return nil, err
		}
	}

	manifest.BatchID = batchID
	for _, i := range report.QuarantinedIndexes {
		key, kerr := record.KeyOf(snap.Schema, snap.Records[i])
		if kerr != nil {
			// A row quarantined for a broken natural key still leaves a
			// trace in the manifest, by snapshot position.
			key = record.Key(fmt.Sprintf("row:%d", i))
		}
		manifest.Quarantined = append(manifest.Quarantined, key)
	}

	annotated, err := lineage.Annotate(next, manifest, batchID, p.transformVersion, p.now())
	if err != nil {
		p.emitError(audit.StageLineage, batchID, err)
		return nil, err
	}

	meta := map[string]any{"batch_id": batchID, "as_of": asOf.Format(time.RFC3339)}
	for k, v := range manifest.Counts() {
		meta[k] = v
	}
	p.sink.Emit(audit.Event{
		Timestamp: p.now(),
		Stage:     audit.StageMerge,
		EventType: "merge_complete",
		Message:   fmt.Sprintf("merged snapshot into %d-row history", annotated.Len()),
		Metadata:  meta,
	})

	return &Result{
		BatchID:    batchID,
		Table:      annotated,
		Manifest:   manifest,
		Report:     report,
		OutOfOrder: oooErr,
	}, nil
}

func (p *Pipeline) emitError(stage audit.Stage, batchID string, err error) {
	p.sink.Emit(audit.Event{
		Timestamp: p.now(),
		Stage:     stage,
		EventType: "run_error",
		Message:   err.Error(),
		Metadata:  map[string]any{"batch_id": batchID},
	})
}
