package kb

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind discriminates the three rule-table shapes.
type Kind string

const (
	KindDirect          Kind = "direct"
	KindMatrix          Kind = "matrix"
	KindMaximalSeverity Kind = "maximal_severity"
)

// ConfigurationError marks malformed classification or treatment
// configuration. It is fatal and surfaced at load time, never silently
// defaulted, and is distinct from a normal "no state" result.
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string {
	return "knowledge base configuration error: " + e.Detail
}

func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func configErrf(format string, args ...interface{}) error {
	return &ConfigurationError{Detail: fmt.Sprintf(format, args...)}
}

// Grade is an ordinal toxicity severity. The zero value means "no known
// grade". Higher is worse; the scale is extendable past GRADE IV.
type Grade int

const (
	GradeNone Grade = iota
	GradeI
	GradeII
	GradeIII
	GradeIV
)

var romanNumerals = []string{"I", "II", "III", "IV", "V", "VI", "VII", "VIII", "IX", "X"}

func (g Grade) String() string {
	if g <= GradeNone {
		return ""
	}
	if int(g) <= len(romanNumerals) {
		return "GRADE " + romanNumerals[g-1]
	}
	return fmt.Sprintf("GRADE %d", int(g))
}

func ParseGrade(s string) (Grade, error) {
	token := strings.TrimSpace(strings.ToUpper(s))
	token = strings.TrimPrefix(token, "GRADE")
	token = strings.TrimSpace(token)
	for i, numeral := range romanNumerals {
		if token == numeral {
			return Grade(i + 1), nil
		}
	}
	return GradeNone, fmt.Errorf("unrecognised grade %q", s)
}

// RangeState maps the half-open numeric interval [Min, Max) to a state.
type RangeState struct {
	Min   float64
	Max   float64
	State string
}

// DirectVariant holds one demographic variant of a 1-input table: an
// ordered set of numeric ranges and/or categorical equalities.
type DirectVariant struct {
	Ranges []RangeState
	Values map[string]string
}

// Bucket names the half-open interval [Min, Max) on one matrix axis.
type Bucket struct {
	Name string
	Min  float64
	Max  float64
}

// MatrixVariant is one demographic variant of a 2-input table. Cells is
// indexed [row bucket][column bucket].
type MatrixVariant struct {
	RowBuckets []Bucket
	ColBuckets []Bucket
	Cells      [][]string
}

// GradeRange maps [Min, Max) to a severity grade.
type GradeRange struct {
	Min   float64
	Max   float64
	Grade Grade
}

// SeverityInput grades one input of a maximal-severity table, either by
// numeric range or by categorical equality (case-insensitive).
type SeverityInput struct {
	Input  string
	Ranges []GradeRange
	Values map[string]Grade
}

// GradeFor returns the grade for a raw value, or GradeNone when the
// value is outside every range and equality.
func (si SeverityInput) GradeFor(raw string, numeric float64, isNumeric bool) Grade {
	if isNumeric {
		for _, gr := range si.Ranges {
			if numeric >= gr.Min && numeric < gr.Max {
				return gr.Grade
			}
		}
	}
	needle := strings.ToLower(strings.TrimSpace(raw))
	for value, grade := range si.Values {
		if strings.ToLower(value) == needle {
			return grade
		}
	}
	return GradeNone
}

// Precondition gates a maximal-severity table: the named input's value
// must equal Equals (case-insensitive) or the result is no-state.
type Precondition struct {
	Input  string
	Equals string
}

// Table is the tagged union of the three rule kinds. Exactly the fields
// of the active kind are populated; Validate enforces that.
type Table struct {
	Name   string
	Kind   Kind
	Output string

	// direct
	Input    string
	Variants map[string]DirectVariant

	// matrix
	RowInput       string
	ColInput       string
	MatrixVariants map[string]MatrixVariant

	// maximal severity
	Precondition *Precondition
	Inputs       []SeverityInput
}

// InputConcepts lists every concept the table reads, precondition
// included.
func (t *Table) InputConcepts() []string {
	switch t.Kind {
	case KindDirect:
		return []string{t.Input}
	case KindMatrix:
		return []string{t.RowInput, t.ColInput}
	case KindMaximalSeverity:
		var out []string
		for _, in := range t.Inputs {
			out = append(out, in.Input)
		}
		if t.Precondition != nil {
			out = append(out, t.Precondition.Input)
		}
		return out
	}
	return nil
}

// TreatmentKey is the strongly typed lookup key for a recommendation:
// demographic attribute plus the combined derived-state tuple.
type TreatmentKey struct {
	Attribute string // e.g. gender, lowercased
	StateA    string // hemoglobin state
	StateB    string // hematological state
	Grade     Grade  // systemic toxicity
}

// Combination renders the canonical serialized form used only at the
// load/store boundary.
func (k TreatmentKey) Combination() string {
	return k.StateA + " + " + k.StateB + " + " + k.Grade.String()
}

// KnowledgeBase is an immutable configuration object constructed once
// and passed into the engines; there is no process-wide instance.
type KnowledgeBase struct {
	Tables     map[string]*Table
	Treatments map[TreatmentKey]string
}

// Table fetches a rule table; a missing table is a configuration error,
// not a no-state result.
func (kb *KnowledgeBase) Table(name string) (*Table, error) {
	t, ok := kb.Tables[name]
	if !ok {
		return nil, configErrf("no classification table %q", name)
	}
	return t, nil
}

func (kb *KnowledgeBase) Treatment(key TreatmentKey) (string, bool) {
	key.Attribute = strings.ToLower(strings.TrimSpace(key.Attribute))
	text, ok := kb.Treatments[key]
	return text, ok
}

// TableNames lists the configured tables, sorted.
func (kb *KnowledgeBase) TableNames() []string {
	names := make([]string, 0, len(kb.Tables))
	for name := range kb.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the whole knowledge base eagerly so malformed tables
// fail at load time rather than at query time.
func (kb *KnowledgeBase) Validate() error {
	for name, t := range kb.Tables {
		if t == nil {
			return configErrf("table %q is nil", name)
		}
		if err := t.validate(); err != nil {
			return err
		}
	}
	for key := range kb.Treatments {
		if key.Attribute == "" {
			return configErrf("treatment rule with empty demographic attribute")
		}
		if key.StateA == "" || key.StateB == "" {
			return configErrf("treatment rule %q has an empty state", key.Combination())
		}
	}
	return nil
}

func (t *Table) validate() error {
	switch t.Kind {
	case KindDirect:
		if t.Input == "" {
			return configErrf("direct table %q has no input", t.Name)
		}
		if len(t.Variants) == 0 {
			return configErrf("direct table %q has no variants", t.Name)
		}
		for variant, dv := range t.Variants {
			if len(dv.Ranges) == 0 && len(dv.Values) == 0 {
				return configErrf("direct table %q variant %q is empty", t.Name, variant)
			}
			if err := validateRanges(t.Name, variant, dv.Ranges); err != nil {
				return err
			}
		}
	case KindMatrix:
		if t.RowInput == "" || t.ColInput == "" {
			return configErrf("matrix table %q must name row and column inputs", t.Name)
		}
		if len(t.MatrixVariants) == 0 {
			return configErrf("matrix table %q has no variants", t.Name)
		}
		for variant, mv := range t.MatrixVariants {
			if err := validateBuckets(t.Name, variant, "row", mv.RowBuckets); err != nil {
				return err
			}
			if err := validateBuckets(t.Name, variant, "column", mv.ColBuckets); err != nil {
				return err
			}
			if len(mv.Cells) != len(mv.RowBuckets) {
				return configErrf("matrix table %q variant %q has %d cell rows for %d row buckets",
					t.Name, variant, len(mv.Cells), len(mv.RowBuckets))
			}
			for i, row := range mv.Cells {
				if len(row) != len(mv.ColBuckets) {
					return configErrf("matrix table %q variant %q row %d has %d cells for %d column buckets",
						t.Name, variant, i, len(row), len(mv.ColBuckets))
				}
			}
		}
	case KindMaximalSeverity:
		if len(t.Inputs) == 0 {
			return configErrf("maximal-severity table %q has no inputs", t.Name)
		}
		for _, in := range t.Inputs {
			if in.Input == "" {
				return configErrf("maximal-severity table %q has an unnamed input", t.Name)
			}
			if len(in.Ranges) == 0 && len(in.Values) == 0 {
				return configErrf("maximal-severity table %q input %q grades nothing", t.Name, in.Input)
			}
			for _, gr := range in.Ranges {
				if gr.Grade <= GradeNone {
					return configErrf("maximal-severity table %q input %q has a range without a grade", t.Name, in.Input)
				}
				if gr.Min >= gr.Max {
					return configErrf("maximal-severity table %q input %q has inverted range [%g, %g)", t.Name, in.Input, gr.Min, gr.Max)
				}
			}
			for value, grade := range in.Values {
				if grade <= GradeNone {
					return configErrf("maximal-severity table %q input %q value %q has no grade", t.Name, in.Input, value)
				}
			}
		}
		if t.Precondition != nil && (t.Precondition.Input == "" || t.Precondition.Equals == "") {
			return configErrf("maximal-severity table %q has an incomplete precondition", t.Name)
		}
	default:
		return configErrf("table %q has unknown kind %q", t.Name, t.Kind)
	}
	return nil
}

func validateRanges(table, variant string, ranges []RangeState) error {
	sorted := make([]RangeState, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Min < sorted[j].Min })
	for i, r := range sorted {
		if r.Min >= r.Max {
			return configErrf("table %q variant %q has inverted range [%g, %g)", table, variant, r.Min, r.Max)
		}
		if r.State == "" {
			return configErrf("table %q variant %q has a range without a state", table, variant)
		}
		if i > 0 && r.Min < sorted[i-1].Max {
			return configErrf("table %q variant %q ranges overlap at %g", table, variant, r.Min)
		}
	}
	return nil
}

func validateBuckets(table, variant, axis string, buckets []Bucket) error {
	if len(buckets) == 0 {
		return configErrf("matrix table %q variant %q has no %s buckets", table, variant, axis)
	}
	sorted := make([]Bucket, len(buckets))
	copy(sorted, buckets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Min < sorted[j].Min })
	for i, b := range sorted {
		if b.Min >= b.Max {
			return configErrf("matrix table %q variant %q %s bucket %q is inverted", table, variant, axis, b.Name)
		}
		if i > 0 && b.Min < sorted[i-1].Max {
			return configErrf("matrix table %q variant %q %s buckets overlap at %g", table, variant, axis, b.Min)
		}
	}
	return nil
}
