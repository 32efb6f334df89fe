package inference

import (
	"strings"
	"time"

	"github.com/chronomed-ai/cdss/pkg/kb"
)

// Recommendation is the treatment decision for a patient at one moment,
// together with the derived states it was keyed on. Found is false when
// any contributing state is NoState or no rule matches the combination.
type Recommendation struct {
	Patient            string    `json:"patient"`
	At                 time.Time `json:"at"`
	Gender             string    `json:"gender,omitempty"`
	HemoglobinState    string    `json:"hemoglobin_state"`
	HematologicalState string    `json:"hematological_state"`
	Toxicity           string    `json:"systemic_toxicity"`
	Treatment          string    `json:"treatment,omitempty"`
	Found              bool      `json:"found"`
}

// Recommend derives the three protocol states for a patient and looks up
// the treatment keyed by (gender, hemoglobin state, hematological state,
// toxicity grade).
func (e *Engine) Recommend(patient string, at time.Time) (Recommendation, error) {
	rec := Recommendation{Patient: patient, At: at}

	gender, found, err := e.coveringRecord(patient, "Gender", at)
	if err != nil {
		return rec, err
	}
	if found {
		rec.Gender = strings.ToLower(strings.TrimSpace(gender.Value))
	}

	hgb, err := e.StateAt(patient, kb.TableHemoglobinState, at)
	if err != nil {
		return rec, err
	}
	hema, err := e.StateAt(patient, kb.TableHematologicalState, at)
	if err != nil {
		return rec, err
	}
	tox, err := e.StateAt(patient, kb.TableSystemicToxicity, at)
	if err != nil {
		return rec, err
	}

	rec.HemoglobinState = hgb.State
	rec.HematologicalState = hema.State
	rec.Toxicity = tox.State
	if rec.Gender == "" || hgb.State == NoState || hema.State == NoState || tox.State == NoState {
		return rec, nil
	}

	treatment, ok := e.kb.Treatment(kb.TreatmentKey{
		Attribute: rec.Gender,
		StateA:    hgb.State,
		StateB:    hema.State,
		Grade:     tox.Grade,
	})
	if !ok {
		return rec, nil
	}
	rec.Treatment = treatment
	rec.Found = true
	return rec, nil
}
