// Package lineage stamps provenance metadata on the rows a merge run
// touched. Purely additive: it never changes SCD2 metadata and never
// touches rows the run left alone.
package lineage

import (
	"fmt"
	"time"

	"github.com/cauam1/silverlake/internal/history"
	"github.com/cauam1/silverlake/internal/merge"
)

// Annotate returns a new table with source_batch_id, ingested_at, and
// transform_version stamped on every row the manifest reports as created
// or closed this run. Rows untouched by the run keep whatever lineage they
// already carried.
func Annotate(table *history.Table, manifest *merge.Manifest, batchID, transformVersion string, ingestedAt time.Time) (*history.Table, error) {
	if batchID == "" {
		return nil, fmt.Errorf("lineage: batch id is required")
	}
	if transformVersion == "" {
		return nil, fmt.Errorf("lineage: transform version is required")
	}

	stamp := history.Lineage{
		SourceBatchID:    batchID,
		IngestedAt:       ingestedAt,
		TransformVersion: transformVersion,
	}
	// Stamps are keyed by (key, version), not surrogate key: a reused
	// revert surrogate would otherwise rewrite the provenance of the old
	// closed version it points back to.
	stamps := make(map[history.VersionRef]history.Lineage)
	for _, ref := range manifest.AffectedVersions() {
		stamps[ref] = stamp
	}
	return table.WithLineage(stamps), nil
}
