package inference

import (
	"sort"
	"strings"
	"time"

	"github.com/chronomed-ai/cdss/pkg/kb"
)

// Interval is a maximal span during which a derived state held
// continuously. Bounds are inclusive.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	State string    `json:"state"`
}

// StateIntervals computes when derived states of a table held for a
// patient inside [from, to]. A non-empty target restricts the output to
// that state (case-insensitive); an empty target reports every state.
//
// Single-input tables classify each measurement's own value and
// attribute its full validity window. Multi-input tables evaluate the
// covering values at every contributing valid time; the contribution is
// the intersection of the covering values' validity windows. Both are
// clipped to the query range, then touching or overlapping intervals
// with the same state are merged.
func (e *Engine) StateIntervals(patient, tableName, target string, from, to time.Time) ([]Interval, error) {
	if from.After(to) {
		return nil, nil
	}
	t, err := e.kb.Table(tableName)
	if err != nil {
		return nil, err
	}
	if t.Kind == kb.KindDirect {
		raw, err := e.directIntervals(patient, t, target, from, to)
		if err != nil {
			return nil, err
		}
		return mergeIntervals(raw), nil
	}

	points, err := e.candidatePoints(patient, t)
	if err != nil {
		return nil, err
	}

	var raw []Interval
	for _, p := range points {
		obs, err := e.observe(patient, t, p)
		if err != nil {
			return nil, err
		}
		c, err := Classify(t, e.variantFor(patient, p), obs)
		if err != nil {
			return nil, err
		}
		if c.State == NoState {
			continue
		}
		if target != "" && !strings.EqualFold(c.State, target) {
			continue
		}

		start, end, ok := e.contribution(c, from, to)
		if !ok {
			continue
		}
		raw = append(raw, Interval{Start: start, End: end, State: c.State})
	}

	return mergeIntervals(raw), nil
}

// directIntervals classifies every current version of a single-input
// table by its own value. Evaluating the covering value instead would
// let a later measurement shadow an earlier one at its own valid time,
// erasing the earlier state from the report.
func (e *Engine) directIntervals(patient string, t *kb.Table, target string, from, to time.Time) ([]Interval, error) {
	code, err := e.catalog.Resolve(t.Input)
	if err != nil {
		return nil, err
	}
	var raw []Interval
	for _, r := range e.meas.CurrentVersions(patient, code, time.Time{}) {
		obs := map[string]Observation{
			t.Input: {Concept: t.Input, Record: r, Known: true},
		}
		c, err := Classify(t, e.variantFor(patient, r.ValidTime), obs)
		if err != nil {
			return nil, err
		}
		if c.State == NoState {
			continue
		}
		if target != "" && !strings.EqualFold(c.State, target) {
			continue
		}
		start, end, ok := e.contribution(c, from, to)
		if !ok {
			continue
		}
		raw = append(raw, Interval{Start: start, End: end, State: c.State})
	}
	return raw, nil
}

// candidatePoints lists the distinct valid times of the current versions
// of every input concept, ascending. State can only change at one of
// these points, so they are the only moments worth evaluating.
func (e *Engine) candidatePoints(patient string, t *kb.Table) ([]time.Time, error) {
	seen := make(map[time.Time]struct{})
	var points []time.Time
	for _, concept := range t.InputConcepts() {
		code, err := e.catalog.Resolve(concept)
		if err != nil {
			return nil, err
		}
		for _, r := range e.meas.CurrentVersions(patient, code, time.Time{}) {
			if _, dup := seen[r.ValidTime]; dup {
				continue
			}
			seen[r.ValidTime] = struct{}{}
			points = append(points, r.ValidTime)
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Before(points[j]) })
	return points, nil
}

// contribution intersects the validity windows of the records a
// classification actually used, then clips to the query range.
func (e *Engine) contribution(c Classification, from, to time.Time) (time.Time, time.Time, bool) {
	if len(c.Used) == 0 {
		return time.Time{}, time.Time{}, false
	}
	var start, end time.Time
	for i, r := range c.Used {
		before, after := e.catalog.Window(r.Code)
		lo := r.ValidTime.Add(-before)
		hi := r.ValidTime.Add(after)
		if i == 0 {
			start, end = lo, hi
			continue
		}
		if lo.After(start) {
			start = lo
		}
		if hi.Before(end) {
			end = hi
		}
	}
	if start.Before(from) {
		start = from
	}
	if end.After(to) {
		end = to
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// mergeIntervals coalesces same-state intervals that touch or overlap,
// [a,b] followed by [b,c] becomes [a,c]. Merging runs per state so an
// intervening interval of another state cannot break a chain. The
// result is sorted by start, then end, then state.
func mergeIntervals(raw []Interval) []Interval {
	if len(raw) == 0 {
		return nil
	}
	byState := make(map[string][]Interval)
	for _, iv := range raw {
		byState[iv.State] = append(byState[iv.State], iv)
	}

	var out []Interval
	for _, group := range byState {
		sort.Slice(group, func(i, j int) bool {
			if !group[i].Start.Equal(group[j].Start) {
				return group[i].Start.Before(group[j].Start)
			}
			return group[i].End.Before(group[j].End)
		})
		merged := []Interval{group[0]}
		for _, next := range group[1:] {
			last := &merged[len(merged)-1]
			if !next.Start.After(last.End) {
				if next.End.After(last.End) {
					last.End = next.End
				}
				continue
			}
			merged = append(merged, next)
		}
		out = append(out, merged...)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		if !out[i].End.Equal(out[j].End) {
			return out[i].End.Before(out[j].End)
		}
		return out[i].State < out[j].State
	})
	return out
}
