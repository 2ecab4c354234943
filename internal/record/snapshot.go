package record

// Snapshot is the full state of a source table as of one extraction
// instant: an unordered set of records under one schema. Natural keys
// within a snapshot should be unique; the duplicate rule enforces that,
// and the differ fails fast if a duplicate slips through.
type Snapshot struct {
	Schema  *Schema
	Records []Record
}

// CheckSchema verifies every record against the schema. Returns the first
// SchemaMismatchError encountered; a type disagreement is fatal for the
// whole run, not a per-row quality issue.
func (s *Snapshot) CheckSchema() error {
	for _, r := range s.Records {
		if err := CheckRecord(s.Schema, r); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of records in the snapshot.
func (s *Snapshot) Len() int { return len(s.Records) }
