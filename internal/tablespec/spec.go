package tablespec

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/cauam1/silverlake/internal/merge"
	"github.com/cauam1/silverlake/internal/record"
	"github.com/cauam1/silverlake/internal/validate"
)

// Spec is one compiled table definition: everything the pipeline needs to
// run a merge for this table except the snapshot itself.
type Spec struct {
	Schema *record.Schema
	Rules  []validate.Descriptor
	Merge  merge.Options
}

// CompileTable parses a CUE value into a Spec.
//
// The CUE value should be the table struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`table: sales: { ... }`)
//	spec, err := CompileTable(v.LookupPath(cue.ParsePath("table.sales")))
func CompileTable(v cue.Value) (*Spec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	// Table name comes from the struct label (the path selector).
	name := ""
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		name = labels[len(labels)-1].String()
	}
	if name == "" {
		return nil, &CompileError{
			Field:   "table",
			Message: "table name is required",
			Pos:     v.Pos(),
		}
	}

	attrs, err := parseAttributes(v)
	if err != nil {
		return nil, err
	}

	naturalKey, err := parseNaturalKey(v)
	if err != nil {
		return nil, err
	}

	schema, err := record.NewSchema(name, attrs, naturalKey)
	if err != nil {
		return nil, &CompileError{
			Field:   "table",
			Message: err.Error(),
			Pos:     v.Pos(),
		}
	}

	rules, err := parseRules(v)
	if err != nil {
		return nil, err
	}

	opts, err := parseMergeOptions(v)
	if err != nil {
		return nil, err
	}

	return &Spec{
		Schema: schema,
		Rules:  rules,
		Merge:  opts,
	}, nil
}

// RuleSet builds the runnable validation rules from the compiled
// descriptors.
func (s *Spec) RuleSet() ([]validate.Rule, error) {
	return validate.FromDescriptors(s.Rules)
}

// parseAttributes extracts the attribute declarations in source order.
func parseAttributes(v cue.Value) ([]record.Attribute, error) {
	attrsVal := v.LookupPath(cue.ParsePath("attributes"))
	if !attrsVal.Exists() {
		return nil, &CompileError{
			Field:   "attributes",
			Message: "attributes are required",
			Pos:     v.Pos(),
		}
	}

	iter, err := attrsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var attrs []record.Attribute
	for iter.Next() {
		typeName, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   "attributes." + iter.Label(),
				Message: "attribute type must be a string",
				Pos:     iter.Value().Pos(),
			}
		}
		if !record.ValidAttrTypes[record.AttrType(typeName)] {
			return nil, &CompileError{
				Field:   "attributes." + iter.Label(),
				Message: fmt.Sprintf("unknown attribute type %q", typeName),
				Pos:     iter.Value().Pos(),
			}
		}
		attrs = append(attrs, record.Attribute{
			Name: iter.Label(),
			Type: record.AttrType(typeName),
		})
	}

	return attrs, nil
}

// parseNaturalKey extracts the ordered natural key list.
func parseNaturalKey(v cue.Value) ([]string, error) {
	keyVal := v.LookupPath(cue.ParsePath("natural_key"))
	if !keyVal.Exists() {
		return nil, &CompileError{
			Field:   "natural_key",
			Message: "natural_key is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := keyVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var key []string
	for iter.Next() {
		name, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   "natural_key",
				Message: "natural key members must be strings",
				Pos:     iter.Value().Pos(),
			}
		}
		key = append(key, name)
	}

	return key, nil
}

// parseRules extracts the rule descriptors. Rules are optional: a table
// with no rules merges every snapshot unvalidated.
func parseRules(v cue.Value) ([]validate.Descriptor, error) {
	rulesVal := v.LookupPath(cue.ParsePath("rules"))
	if !rulesVal.Exists() {
		return nil, nil
	}

	iter, err := rulesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var descriptors []validate.Descriptor
	for iter.Next() {
		d, err := parseRule(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}

	return descriptors, nil
}

// parseRule parses one rule descriptor. The kind and severity fields are
// structural; every other field becomes a rule parameter.
func parseRule(id string, v cue.Value) (validate.Descriptor, error) {
	d := validate.Descriptor{ID: id}

	kindVal := v.LookupPath(cue.ParsePath("kind"))
	if !kindVal.Exists() {
		return d, &CompileError{
			Field:   "rules." + id,
			Message: "kind is required",
			Pos:     v.Pos(),
		}
	}
	kind, err := kindVal.String()
	if err != nil {
		return d, formatCUEError(err)
	}
	d.Kind = kind

	sevVal := v.LookupPath(cue.ParsePath("severity"))
	if !sevVal.Exists() {
		return d, &CompileError{
			Field:   "rules." + id,
			Message: "severity is required",
			Pos:     v.Pos(),
		}
	}
	sev, err := sevVal.String()
	if err != nil {
		return d, formatCUEError(err)
	}
	d.Severity = validate.Severity(sev)

	iter, err := v.Fields()
	if err != nil {
		return d, formatCUEError(err)
	}
	for iter.Next() {
		label := iter.Label()
		if label == "kind" || label == "severity" {
			continue
		}
		param, err := scalarValue(iter.Value())
		if err != nil {
			return d, &CompileError{
				Field:   fmt.Sprintf("rules.%s.%s", id, label),
				Message: err.Error(),
				Pos:     iter.Value().Pos(),
			}
		}
		if d.Params == nil {
			d.Params = make(map[string]any)
		}
		d.Params[label] = param
	}

	return d, nil
}

// parseMergeOptions extracts the merge policy block. Absent fields take
// the engine defaults.
func parseMergeOptions(v cue.Value) (merge.Options, error) {
	var opts merge.Options

	mergeVal := v.LookupPath(cue.ParsePath("merge"))
	if !mergeVal.Exists() {
		return opts.Defaults(), nil
	}

	if rv := mergeVal.LookupPath(cue.ParsePath("retirement")); rv.Exists() {
		s, err := rv.String()
		if err != nil {
			return opts, formatCUEError(err)
		}
		opts.Retirement = merge.RetirementPolicy(s)
	}
	if ov := mergeVal.LookupPath(cue.ParsePath("out_of_order")); ov.Exists() {
		s, err := ov.String()
		if err != nil {
			return opts, formatCUEError(err)
		}
		opts.OutOfOrder = merge.OutOfOrderPolicy(s)
	}
	if rv := mergeVal.LookupPath(cue.ParsePath("revert")); rv.Exists() {
		s, err := rv.String()
		if err != nil {
			return opts, formatCUEError(err)
		}
		opts.Revert = merge.RevertPolicy(s)
	}
	if tv := mergeVal.LookupPath(cue.ParsePath("float_tolerance")); tv.Exists() {
		f, err := tv.Float64()
		if err != nil {
			return opts, formatCUEError(err)
		}
		opts.FloatTol = f
	}

	opts = opts.Defaults()
	if err := opts.Validate(); err != nil {
		return opts, &CompileError{
			Field:   "merge",
			Message: err.Error(),
			Pos:     mergeVal.Pos(),
		}
	}

	return opts, nil
}

// scalarValue decodes a CUE scalar into the Go value rule parameters use.
func scalarValue(v cue.Value) (any, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return v.String()
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return nil, err
		}
		return int(i), nil
	case cue.FloatKind, cue.NumberKind:
		return v.Float64()
	case cue.BoolKind:
		return v.Bool()
	default:
		return nil, fmt.Errorf("unsupported parameter kind: %v", v.IncompleteKind())
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
