package kb

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

type tableDoc struct {
	Name     string                    `json:"name"`
	Kind     Kind                      `json:"kind"`
	Output   string                    `json:"output"`
	Input    string                    `json:"input,omitempty"`
	RowInput string                    `json:"row_input,omitempty"`
	ColInput string                    `json:"col_input,omitempty"`
	Variants map[string]variantDoc     `json:"variants,omitempty"`
	Precond  *preconditionDoc          `json:"precondition,omitempty"`
	Inputs   []severityInputDoc        `json:"inputs,omitempty"`
}

type variantDoc struct {
	Ranges     []rangeDoc        `json:"ranges,omitempty"`
	Values     map[string]string `json:"values,omitempty"`
	RowBuckets []bucketDoc       `json:"row_buckets,omitempty"`
	ColBuckets []bucketDoc       `json:"col_buckets,omitempty"`
	Cells      [][]string        `json:"cells,omitempty"`
}

type rangeDoc struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	State string  `json:"state,omitempty"`
	Grade string  `json:"grade,omitempty"`
}

type bucketDoc struct {
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

type preconditionDoc struct {
	Input  string `json:"input"`
	Equals string `json:"equals"`
}

type severityInputDoc struct {
	Input  string            `json:"input"`
	Ranges []rangeDoc        `json:"ranges,omitempty"`
	Values map[string]string `json:"values,omitempty"`
}

type knowledgeBaseDoc struct {
	Tables     []tableDoc                   `json:"tables"`
	Treatments map[string]map[string]string `json:"treatments"`
}

// Load reads a knowledge base from JSON and validates it eagerly. The
// serialized treatment keys use the "A + B + GRADE X" combination form
// and are parsed into typed keys here, at the boundary.
func Load(path string) (*KnowledgeBase, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

// Parse decodes and validates a JSON knowledge base document.
func Parse(content []byte) (*KnowledgeBase, error) {
	var doc knowledgeBaseDoc
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, configErrf("decode: %v", err)
	}

	kb := &KnowledgeBase{
		Tables:     make(map[string]*Table, len(doc.Tables)),
		Treatments: make(map[TreatmentKey]string),
	}
	for _, td := range doc.Tables {
		if td.Name == "" {
			return nil, configErrf("table with no name")
		}
		if _, dup := kb.Tables[td.Name]; dup {
			return nil, configErrf("duplicate table %q", td.Name)
		}
		t, err := td.toTable()
		if err != nil {
			return nil, err
		}
		kb.Tables[td.Name] = t
	}

	for attribute, rules := range doc.Treatments {
		for combination, text := range rules {
			key, err := parseCombination(attribute, combination)
			if err != nil {
				return nil, err
			}
			if _, dup := kb.Treatments[key]; dup {
				return nil, configErrf("duplicate treatment rule %s / %q", attribute, combination)
			}
			kb.Treatments[key] = text
		}
	}

	if err := kb.Validate(); err != nil {
		return nil, err
	}
	return kb, nil
}

func (td tableDoc) toTable() (*Table, error) {
	t := &Table{
		Name:     td.Name,
		Kind:     td.Kind,
		Output:   td.Output,
		Input:    td.Input,
		RowInput: td.RowInput,
		ColInput: td.ColInput,
	}
	switch td.Kind {
	case KindDirect:
		t.Variants = make(map[string]DirectVariant, len(td.Variants))
		for name, vd := range td.Variants {
			dv := DirectVariant{Values: vd.Values}
			for _, rd := range vd.Ranges {
				dv.Ranges = append(dv.Ranges, RangeState{Min: rd.Min, Max: rd.Max, State: rd.State})
			}
			t.Variants[strings.ToLower(name)] = dv
		}
	case KindMatrix:
		t.MatrixVariants = make(map[string]MatrixVariant, len(td.Variants))
		for name, vd := range td.Variants {
			mv := MatrixVariant{Cells: vd.Cells}
			for _, bd := range vd.RowBuckets {
				mv.RowBuckets = append(mv.RowBuckets, Bucket(bd))
			}
			for _, bd := range vd.ColBuckets {
				mv.ColBuckets = append(mv.ColBuckets, Bucket(bd))
			}
			t.MatrixVariants[strings.ToLower(name)] = mv
		}
	case KindMaximalSeverity:
		if td.Precond != nil {
			t.Precondition = &Precondition{Input: td.Precond.Input, Equals: td.Precond.Equals}
		}
		for _, id := range td.Inputs {
			si := SeverityInput{Input: id.Input}
			for _, rd := range id.Ranges {
				grade, err := ParseGrade(rd.Grade)
				if err != nil {
					return nil, configErrf("table %q input %q: %v", td.Name, id.Input, err)
				}
				si.Ranges = append(si.Ranges, GradeRange{Min: rd.Min, Max: rd.Max, Grade: grade})
			}
			if len(id.Values) > 0 {
				si.Values = make(map[string]Grade, len(id.Values))
				for value, gradeText := range id.Values {
					grade, err := ParseGrade(gradeText)
					if err != nil {
						return nil, configErrf("table %q input %q value %q: %v", td.Name, id.Input, value, err)
					}
					si.Values[value] = grade
				}
			}
			t.Inputs = append(t.Inputs, si)
		}
	}
	return t, nil
}

func parseCombination(attribute, combination string) (TreatmentKey, error) {
	parts := strings.Split(combination, " + ")
	if len(parts) != 3 {
		return TreatmentKey{}, configErrf("treatment key %q: want \"stateA + stateB + grade\"", combination)
	}
	grade, err := ParseGrade(parts[2])
	if err != nil {
		return TreatmentKey{}, configErrf("treatment key %q: %v", combination, err)
	}
	return TreatmentKey{
		Attribute: strings.ToLower(strings.TrimSpace(attribute)),
		StateA:    strings.TrimSpace(parts[0]),
		StateB:    strings.TrimSpace(parts[1]),
		Grade:     grade,
	}, nil
}

// MarshalTreatments renders the treatment map back into the serialized
// form, grouped by demographic attribute. Used by the export endpoint.
func MarshalTreatments(kb *KnowledgeBase) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for key, text := range kb.Treatments {
		if out[key.Attribute] == nil {
			out[key.Attribute] = make(map[string]string)
		}
		out[key.Attribute][key.Combination()] = text
	}
	return out
}
