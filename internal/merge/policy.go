package merge

import "fmt"

// RetirementPolicy governs what happens to keys present in the current set
// but absent from the snapshot.
type RetirementPolicy string

const (
	// SoftRetire closes the current version without a replacement, leaving
	// the key with zero current rows.
	SoftRetire RetirementPolicy = "SOFT_RETIRE"
	// IgnoreMissing leaves the row current despite its absence from the
	// latest snapshot.
	IgnoreMissing RetirementPolicy = "IGNORE"
)

// OutOfOrderPolicy governs how timestamp discipline violations are handled.
type OutOfOrderPolicy string

const (
	// AbortRun fails the whole merge when any key's close would violate
	// timestamp ordering. The prior table is left untouched.
	AbortRun OutOfOrderPolicy = "ABORT"
	// ExcludeKeys proceeds with the merge, skipping the offending keys
	// and reporting them in the manifest and the returned error context.
	ExcludeKeys OutOfOrderPolicy = "EXCLUDE"
)

// RevertPolicy governs the surrogate identity of a CHANGED row whose new
// attribute values exactly match a prior, now-closed version of the key.
type RevertPolicy string

const (
	// RevertNewVersion mints a fresh surrogate key; a revert is treated
	// like any other change.
	RevertNewVersion RevertPolicy = "NEW_VERSION"
	// RevertReuseSurrogate carries the matched prior version's surrogate
	// key onto the new row, preserving identity lineage across the revert.
	// The version number still advances.
	RevertReuseSurrogate RevertPolicy = "REUSE_SURROGATE"
)

// Options configures one merge run. All policy is explicit here; the
// engine reads no ambient configuration.
type Options struct {
	Retirement RetirementPolicy
	OutOfOrder OutOfOrderPolicy
	Revert     RevertPolicy

	// FloatTol is the tolerance used when matching a changed row against
	// prior versions for revert detection. Usually the same value the
	// differ ran with.
	FloatTol float64
}

// Defaults fills zero-valued policies with their defaults.
func (o Options) Defaults() Options {
	if o.Retirement == "" {
		o.Retirement = SoftRetire
	}
	if o.OutOfOrder == "" {
		o.OutOfOrder = AbortRun
	}
	if o.Revert == "" {
		o.Revert = RevertNewVersion
	}
	return o
}

// Validate checks that every policy value is known.
func (o Options) Validate() error {
	switch o.Retirement {
	case SoftRetire, IgnoreMissing:
	default:
		return fmt.Errorf("unknown retirement policy %q", o.Retirement)
	}
	switch o.OutOfOrder {
	case AbortRun, ExcludeKeys:
	default:
		return fmt.Errorf("unknown out-of-order policy %q", o.OutOfOrder)
	}
	switch o.Revert {
	case RevertNewVersion, RevertReuseSurrogate:
	default:
		return fmt.Errorf("unknown revert policy %q", o.Revert)
	}
	return nil
}

// ParseRetirementPolicy parses a retirement policy from configuration.
func ParseRetirementPolicy(s string) (RetirementPolicy, error) {
	switch RetirementPolicy(s) {
	case SoftRetire:
		return SoftRetire, nil
	case IgnoreMissing:
		return IgnoreMissing, nil
	default:
		return "", fmt.Errorf("unknown retirement policy %q (want %s or %s)", s, SoftRetire, IgnoreMissing)
	}
}
