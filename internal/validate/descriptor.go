package validate

import (
	"fmt"
)

// Rule kinds, dispatched by tag.
const (
	KindNullRatio = "null-ratio"
	KindDuplicate = "duplicate"
	KindRange     = "range"
	KindAnomaly   = "anomaly"
	KindCustom    = "custom"
)

// Descriptor is the configuration form of a rule: how rulesets arrive from
// the config layer. Custom rules cannot be described declaratively; they
// are constructed in code via NewCustomRule.
type Descriptor struct {
	ID       string         `json:"id" yaml:"id"`
	Kind     string         `json:"kind" yaml:"kind"`
	Severity Severity       `json:"severity" yaml:"severity"`
	Params   map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// FromDescriptor builds a Rule from its configuration descriptor.
func FromDescriptor(d Descriptor) (Rule, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("rule descriptor: id is required")
	}
	if !ValidSeverities[d.Severity] {
		return nil, fmt.Errorf("rule %s: invalid severity %q", d.ID, d.Severity)
	}

	p := params(d.Params)
	switch d.Kind {
	case KindNullRatio:
		column, _ := p.str("column")
		ratio, err := p.float("max_ratio")
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", d.ID, err)
		}
		return NewNullRatioRule(d.ID, d.Severity, column, ratio), nil

	case KindDuplicate:
		return NewDuplicateRule(d.ID, d.Severity), nil

	case KindRange:
		column, ok := p.str("column")
		if !ok {
			return nil, fmt.Errorf("rule %s: column is required", d.ID)
		}
		min, err := p.float("min")
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", d.ID, err)
		}
		max, err := p.float("max")
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", d.ID, err)
		}
		if min > max {
			return nil, fmt.Errorf("rule %s: min %v greater than max %v", d.ID, min, max)
		}
		return NewRangeRule(d.ID, d.Severity, column, min, max), nil

	case KindAnomaly:
		column, ok := p.str("column")
		if !ok {
			return nil, fmt.Errorf("rule %s: column is required", d.ID)
		}
		z, err := p.float("max_zscore")
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", d.ID, err)
		}
		minSamples := p.intOr("min_samples", 0)
		return NewAnomalyRule(d.ID, d.Severity, column, z, minSamples), nil

	case KindCustom:
		return nil, fmt.Errorf("rule %s: custom rules must be constructed in code", d.ID)

	default:
		return nil, fmt.Errorf("rule %s: unknown kind %q", d.ID, d.Kind)
	}
}

// FromDescriptors builds rules from descriptors, rejecting duplicate ids.
func FromDescriptors(descriptors []Descriptor) ([]Rule, error) {
	rules := make([]Rule, 0, len(descriptors))
	seen := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		if seen[d.ID] {
			return nil, fmt.Errorf("duplicate rule id %q", d.ID)
		}
		seen[d.ID] = true
		r, err := FromDescriptor(d)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// params wraps descriptor parameter access with type coercion. YAML and
// CUE decoders hand numbers over as int, int64, or float64 depending on
// their spelling.
type params map[string]any

func (p params) str(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (p params) float(key string) (float64, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("parameter %q is required", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("parameter %q must be numeric, got %T", key, v)
	}
}

func (p params) intOr(key string, fallback int) int {
	v, ok := p[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}
