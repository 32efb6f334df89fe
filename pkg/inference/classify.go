package inference

import (
	"strings"

	"github.com/chronomed-ai/cdss/pkg/kb"
	"github.com/chronomed-ai/cdss/pkg/measurement"
)

// NoState is the sentinel classification for "no conclusion possible":
// missing inputs, values outside every configured range, an unsatisfied
// precondition. It is a value, not an error.
const NoState = "NoState"

// Observation is one input value handed to a rule table, keyed by the
// component name the table refers to.
type Observation struct {
	Concept string
	Record  measurement.Record
	Known   bool
}

// Classification is the output of evaluating one rule table. Grade is
// set only by maximal-severity tables; for the rest it is GradeNone.
type Classification struct {
	State string
	Grade kb.Grade
	Used  []measurement.Record
}

// Classify evaluates a single rule table against a set of observations.
// It is pure: no store access, no time. The demographic variant (e.g.
// the patient's gender, lowercased) selects the range set for direct and
// matrix tables; an unknown variant value yields NoState because it is a
// data problem, not a configuration problem.
func Classify(t *kb.Table, variant string, obs map[string]Observation) (Classification, error) {
	switch t.Kind {
	case kb.KindDirect:
		return classifyDirect(t, variant, obs)
	case kb.KindMatrix:
		return classifyMatrix(t, variant, obs)
	case kb.KindMaximalSeverity:
		return classifyMaximalSeverity(t, obs)
	}
	return Classification{}, &kb.ConfigurationError{Detail: "table " + t.Name + " has unknown kind"}
}

func classifyDirect(t *kb.Table, variant string, obs map[string]Observation) (Classification, error) {
	dv, ok := t.Variants[strings.ToLower(variant)]
	if !ok {
		return Classification{State: NoState}, nil
	}
	in, ok := obs[t.Input]
	if !ok || !in.Known {
		return Classification{State: NoState}, nil
	}
	if v, numeric := in.Record.Float64(); numeric {
		for _, r := range dv.Ranges {
			if v >= r.Min && v < r.Max {
				return Classification{State: r.State, Used: []measurement.Record{in.Record}}, nil
			}
		}
	}
	needle := strings.ToLower(strings.TrimSpace(in.Record.Value))
	for value, state := range dv.Values {
		if strings.ToLower(value) == needle {
			return Classification{State: state, Used: []measurement.Record{in.Record}}, nil
		}
	}
	return Classification{State: NoState}, nil
}

func classifyMatrix(t *kb.Table, variant string, obs map[string]Observation) (Classification, error) {
	mv, ok := t.MatrixVariants[strings.ToLower(variant)]
	if !ok {
		return Classification{State: NoState}, nil
	}
	row, rowOK := obs[t.RowInput]
	col, colOK := obs[t.ColInput]
	if !rowOK || !row.Known || !colOK || !col.Known {
		return Classification{State: NoState}, nil
	}
	rowVal, rowNum := row.Record.Float64()
	colVal, colNum := col.Record.Float64()
	if !rowNum || !colNum {
		return Classification{State: NoState}, nil
	}

	rowIdx, colIdx := -1, -1
	for i, b := range mv.RowBuckets {
		if rowVal >= b.Min && rowVal < b.Max {
			rowIdx = i
			break
		}
	}
	for i, b := range mv.ColBuckets {
		if colVal >= b.Min && colVal < b.Max {
			colIdx = i
			break
		}
	}
	if rowIdx < 0 || colIdx < 0 {
		return Classification{State: NoState}, nil
	}
	return Classification{
		State: mv.Cells[rowIdx][colIdx],
		Used:  []measurement.Record{row.Record, col.Record},
	}, nil
}

// classifyMaximalSeverity requires the precondition to hold and every
// graded input to be present with a recognised value. A single missing
// or ungradeable input collapses the whole result to NoState.
func classifyMaximalSeverity(t *kb.Table, obs map[string]Observation) (Classification, error) {
	var used []measurement.Record
	if t.Precondition != nil {
		gate, ok := obs[t.Precondition.Input]
		if !ok || !gate.Known {
			return Classification{State: NoState}, nil
		}
		if !strings.EqualFold(strings.TrimSpace(gate.Record.Value), t.Precondition.Equals) {
			return Classification{State: NoState}, nil
		}
		used = append(used, gate.Record)
	}

	max := kb.GradeNone
	for _, input := range t.Inputs {
		in, ok := obs[input.Input]
		if !ok || !in.Known {
			return Classification{State: NoState}, nil
		}
		v, numeric := in.Record.Float64()
		grade := input.GradeFor(in.Record.Value, v, numeric)
		if grade == kb.GradeNone {
			return Classification{State: NoState}, nil
		}
		if grade > max {
			max = grade
		}
		used = append(used, in.Record)
	}
	return Classification{State: max.String(), Grade: max, Used: used}, nil
}
