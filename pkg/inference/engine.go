package inference

import (
	"sort"
	"strings"
	"time"

	"github.com/chronomed-ai/cdss/pkg/kb"
	"github.com/chronomed-ai/cdss/pkg/measurement"
	"github.com/chronomed-ai/cdss/pkg/terminology"
)

// Engine evaluates the knowledge base against the measurement store. It
// holds no state of its own: every query re-reads the store, so results
// always reflect the latest corrections and deletions.
type Engine struct {
	kb      *kb.KnowledgeBase
	catalog *terminology.Catalog
	meas    *measurement.Service
}

func NewEngine(base *kb.KnowledgeBase, catalog *terminology.Catalog, meas *measurement.Service) *Engine {
	return &Engine{kb: base, catalog: catalog, meas: meas}
}

func (e *Engine) KnowledgeBase() *kb.KnowledgeBase {
	return e.kb
}

// Result is one evaluated table state for a patient at a point in time.
type Result struct {
	Table   string               `json:"table"`
	Concept string               `json:"concept"`
	State   string               `json:"state"`
	Grade   kb.Grade             `json:"grade,omitempty"`
	At      time.Time            `json:"at"`
	Used    []measurement.Record `json:"used,omitempty"`
}

// coveringRecord finds the value of a concept that governs the moment
// `at`: among current versions whose validity window covers `at`, the
// one with the greatest valid time wins.
func (e *Engine) coveringRecord(patient, component string, at time.Time) (measurement.Record, bool, error) {
	code, err := e.catalog.Resolve(component)
	if err != nil {
		return measurement.Record{}, false, err
	}
	before, after := e.catalog.Window(code)

	var best measurement.Record
	found := false
	for _, r := range e.meas.CurrentVersions(patient, code, time.Time{}) {
		if at.Before(r.ValidTime.Add(-before)) || at.After(r.ValidTime.Add(after)) {
			continue
		}
		// versions arrive sorted by valid time ascending
		best = r
		found = true
	}
	return best, found, nil
}

// observe gathers the covering observation for every input concept of a
// table.
func (e *Engine) observe(patient string, t *kb.Table, at time.Time) (map[string]Observation, error) {
	obs := make(map[string]Observation)
	for _, concept := range t.InputConcepts() {
		r, found, err := e.coveringRecord(patient, concept, at)
		if err != nil {
			return nil, err
		}
		obs[concept] = Observation{Concept: concept, Record: r, Known: found}
	}
	return obs, nil
}

// variantFor resolves the demographic variant (gender) governing `at`.
func (e *Engine) variantFor(patient string, at time.Time) string {
	r, found, err := e.coveringRecord(patient, "Gender", at)
	if err != nil || !found {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(r.Value))
}

// StateAt evaluates one named rule table for a patient at a point in
// time. A missing table is a configuration error; missing patient data
// is a NoState result.
func (e *Engine) StateAt(patient, tableName string, at time.Time) (Result, error) {
	t, err := e.kb.Table(tableName)
	if err != nil {
		return Result{}, err
	}
	obs, err := e.observe(patient, t, at)
	if err != nil {
		return Result{}, err
	}
	c, err := Classify(t, e.variantFor(patient, at), obs)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Table:   t.Name,
		Concept: t.Output,
		State:   c.State,
		Grade:   c.Grade,
		At:      at,
		Used:    c.Used,
	}, nil
}

// PatientStates evaluates every configured table for a patient at one
// moment, sorted by table name.
func (e *Engine) PatientStates(patient string, at time.Time) ([]Result, error) {
	names := e.kb.TableNames()
	out := make([]Result, 0, len(names))
	for _, name := range names {
		r, err := e.StateAt(patient, name, at)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// FindPatients returns every known patient whose state for the table
// equals the requested state at the given moment, sorted by name. State
// comparison is case-insensitive.
func (e *Engine) FindPatients(tableName, state string, at time.Time) ([]string, error) {
	if _, err := e.kb.Table(tableName); err != nil {
		return nil, err
	}
	var out []string
	for _, patient := range e.meas.Patients() {
		r, err := e.StateAt(patient, tableName, at)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(r.State, state) {
			out = append(out, patient)
		}
	}
	sort.Strings(out)
	return out, nil
}
