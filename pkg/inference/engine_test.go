package inference

import (
	"testing"
	"time"

	"github.com/chronomed-ai/cdss/pkg/kb"
	"github.com/chronomed-ai/cdss/pkg/measurement"
	"github.com/chronomed-ai/cdss/pkg/terminology"
)

func newTestEngine(t *testing.T) (*Engine, *measurement.Service) {
	t.Helper()
	store := measurement.NewStore()
	catalog := terminology.DefaultCatalog()
	svc := measurement.NewService(store, catalog)
	return NewEngine(kb.Default(), catalog, svc), svc
}

func ingest(t *testing.T, svc *measurement.Service, patient, concept, value string, valid time.Time) {
	t.Helper()
	_, err := svc.Ingest(measurement.Record{
		Patient:         patient,
		Code:            concept,
		Value:           value,
		ValidTime:       valid,
		TransactionTime: valid,
	})
	if err != nil {
		t.Fatalf("ingest %s: %v", concept, err)
	}
}

var at = time.Date(2025, 4, 20, 10, 0, 0, 0, time.UTC)

func TestHemoglobinStateByGender(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingest(t, svc, "Jane Roe", "Gender", "Female", at.Add(-24*time.Hour))
	ingest(t, svc, "Jane Roe", "Hemoglobin", "9.5", at)
	ingest(t, svc, "John Doe", "Gender", "Male", at.Add(-24*time.Hour))
	ingest(t, svc, "John Doe", "Hemoglobin", "9.5", at)

	female, err := eng.StateAt("Jane Roe", kb.TableHemoglobinState, at)
	if err != nil {
		t.Fatalf("StateAt: %v", err)
	}
	if female.State != "Moderate Anemia" {
		t.Fatalf("female 9.5 = %q, want Moderate Anemia", female.State)
	}

	male, err := eng.StateAt("John Doe", kb.TableHemoglobinState, at)
	if err != nil {
		t.Fatalf("StateAt: %v", err)
	}
	if male.State != "Moderate Anemia" {
		t.Fatalf("male 9.5 = %q, want Moderate Anemia", male.State)
	}
}

func TestRangeBoundariesAreHalfOpen(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingest(t, svc, "Jane Roe", "Gender", "female", at.Add(-24*time.Hour))
	ingest(t, svc, "Jane Roe", "Hemoglobin", "12", at)

	r, err := eng.StateAt("Jane Roe", kb.TableHemoglobinState, at)
	if err != nil {
		t.Fatalf("StateAt: %v", err)
	}
	// 12 belongs to [12, 14), not [10, 12)
	if r.State != "Normal Hemoglobin" {
		t.Fatalf("female 12 = %q, want Normal Hemoglobin", r.State)
	}
}

func TestHematologicalMatrix(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingest(t, svc, "John Doe", "Gender", "male", at.Add(-24*time.Hour))
	ingest(t, svc, "John Doe", "Hemoglobin", "10", at)
	ingest(t, svc, "John Doe", "WBC", "12000", at)

	r, err := eng.StateAt("John Doe", kb.TableHematologicalState, at)
	if err != nil {
		t.Fatalf("StateAt: %v", err)
	}
	if r.State != "Suspected Leukemia" {
		t.Fatalf("low hgb / high wbc = %q, want Suspected Leukemia", r.State)
	}
}

func TestMatrixMissingInputYieldsNoState(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingest(t, svc, "John Doe", "Gender", "male", at.Add(-24*time.Hour))
	ingest(t, svc, "John Doe", "Hemoglobin", "10", at)

	r, err := eng.StateAt("John Doe", kb.TableHematologicalState, at)
	if err != nil {
		t.Fatalf("StateAt: %v", err)
	}
	if r.State != NoState {
		t.Fatalf("missing WBC = %q, want %s", r.State, NoState)
	}
}

func ingestToxicityInputs(t *testing.T, svc *measurement.Service, patient string) {
	t.Helper()
	ingest(t, svc, patient, "Therapy", "CCTG522", at.Add(-48*time.Hour))
	ingest(t, svc, patient, "Fever", "38.7", at)
	ingest(t, svc, patient, "Chills", "None", at)
	ingest(t, svc, patient, "Skin-look", "Erythema", at)
	ingest(t, svc, patient, "Allergic-state", "Edema", at)
}

func TestSystemicToxicityTakesMaximalGrade(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingest(t, svc, "John Doe", "Gender", "male", at.Add(-24*time.Hour))
	ingestToxicityInputs(t, svc, "John Doe")

	r, err := eng.StateAt("John Doe", kb.TableSystemicToxicity, at)
	if err != nil {
		t.Fatalf("StateAt: %v", err)
	}
	// fever 38.7 grades II, everything else grades I
	if r.State != "GRADE II" || r.Grade != kb.GradeII {
		t.Fatalf("toxicity = %q (%v), want GRADE II", r.State, r.Grade)
	}
}

func TestSystemicToxicityRequiresEveryInput(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingest(t, svc, "John Doe", "Therapy", "CCTG522", at.Add(-48*time.Hour))
	ingest(t, svc, "John Doe", "Fever", "38.7", at)
	ingest(t, svc, "John Doe", "Chills", "None", at)
	// no skin or allergic observations

	r, err := eng.StateAt("John Doe", kb.TableSystemicToxicity, at)
	if err != nil {
		t.Fatalf("StateAt: %v", err)
	}
	if r.State != NoState {
		t.Fatalf("incomplete inputs = %q, want %s", r.State, NoState)
	}
}

func TestSystemicToxicityUnrecognisedValueYieldsNoState(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingestToxicityInputs(t, svc, "John Doe")
	if _, err := svc.Update("John Doe", "Chills", at, "Mild", at.Add(time.Minute)); err != nil {
		t.Fatalf("Update: %v", err)
	}

	r, err := eng.StateAt("John Doe", kb.TableSystemicToxicity, at)
	if err != nil {
		t.Fatalf("StateAt: %v", err)
	}
	if r.State != NoState {
		t.Fatalf("unrecognised chills value = %q, want %s", r.State, NoState)
	}
}

func TestSystemicToxicityPrecondition(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingestToxicityInputs(t, svc, "John Doe")
	if _, err := svc.Update("John Doe", "Therapy", at.Add(-48*time.Hour), "OTHER", at); err != nil {
		t.Fatalf("Update: %v", err)
	}

	r, err := eng.StateAt("John Doe", kb.TableSystemicToxicity, at)
	if err != nil {
		t.Fatalf("StateAt: %v", err)
	}
	if r.State != NoState {
		t.Fatalf("wrong therapy protocol = %q, want %s", r.State, NoState)
	}
}

func TestCoveringValuePrefersLatestValidTime(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingest(t, svc, "John Doe", "Gender", "male", at.Add(-24*time.Hour))
	ingest(t, svc, "John Doe", "Hemoglobin", "7.5", at)
	ingest(t, svc, "John Doe", "Hemoglobin", "9.5", at.Add(2*time.Hour))

	// both windows cover at+1h; the later measurement governs
	r, err := eng.StateAt("John Doe", kb.TableHemoglobinState, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("StateAt: %v", err)
	}
	if r.State != "Moderate Anemia" {
		t.Fatalf("covering state = %q, want Moderate Anemia", r.State)
	}
}

func TestStateAtUnknownTableIsConfigurationError(t *testing.T) {
	eng, _ := newTestEngine(t)
	if _, err := eng.StateAt("John Doe", "no_such_table", at); !kb.IsConfigurationError(err) {
		t.Fatalf("want ConfigurationError, got %v", err)
	}
}

func TestStateIntervalsMergesTouchingSameState(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingest(t, svc, "John Doe", "Gender", "male", at.AddDate(0, 0, -30))
	first := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	second := time.Date(2025, 4, 10, 10, 0, 0, 0, time.UTC)
	ingest(t, svc, "John Doe", "Hemoglobin", "9.5", first)
	ingest(t, svc, "John Doe", "Hemoglobin", "10.5", second)

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	intervals, err := eng.StateIntervals("John Doe", kb.TableHemoglobinState, "", from, to)
	if err != nil {
		t.Fatalf("StateIntervals: %v", err)
	}
	// 9.5 and 10.5 both grade Moderate Anemia for a male; the two
	// windows overlap, so one merged interval comes back
	if len(intervals) != 1 {
		t.Fatalf("got %d intervals, want 1 merged: %+v", len(intervals), intervals)
	}
	iv := intervals[0]
	if iv.State != "Moderate Anemia" {
		t.Fatalf("interval state = %q", iv.State)
	}
	wantStart := first.AddDate(0, 0, -7)
	wantEnd := second.AddDate(0, 0, 7)
	if !iv.Start.Equal(wantStart) || !iv.End.Equal(wantEnd) {
		t.Fatalf("interval [%v, %v], want [%v, %v]", iv.Start, iv.End, wantStart, wantEnd)
	}
}

func TestStateIntervalsDistinctStatesStaySeparate(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingest(t, svc, "John Doe", "Gender", "male", at.AddDate(0, 0, -30))
	ingest(t, svc, "John Doe", "Hemoglobin", "9.5", time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC))
	ingest(t, svc, "John Doe", "Hemoglobin", "12.5", time.Date(2025, 4, 10, 10, 0, 0, 0, time.UTC))

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	intervals, err := eng.StateIntervals("John Doe", kb.TableHemoglobinState, "", from, to)
	if err != nil {
		t.Fatalf("StateIntervals: %v", err)
	}
	if len(intervals) != 2 {
		t.Fatalf("got %d intervals, want 2: %+v", len(intervals), intervals)
	}
	if intervals[0].State != "Moderate Anemia" || intervals[1].State != "Mild Anemia" {
		t.Fatalf("states = %q, %q", intervals[0].State, intervals[1].State)
	}
}

func TestStateIntervalsTargetFilter(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingest(t, svc, "John Doe", "Gender", "male", at.AddDate(0, 0, -30))
	ingest(t, svc, "John Doe", "Hemoglobin", "9.5", time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC))
	ingest(t, svc, "John Doe", "Hemoglobin", "12.5", time.Date(2025, 4, 10, 10, 0, 0, 0, time.UTC))

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	intervals, err := eng.StateIntervals("John Doe", kb.TableHemoglobinState, "mild anemia", from, to)
	if err != nil {
		t.Fatalf("StateIntervals: %v", err)
	}
	if len(intervals) != 1 || intervals[0].State != "Mild Anemia" {
		t.Fatalf("target filter returned %+v", intervals)
	}
}

func TestStateIntervalsKeepEachMeasurementOwnState(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingest(t, svc, "John Doe", "Gender", "male", at.AddDate(0, 0, -30))
	first := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	second := time.Date(2025, 4, 5, 10, 0, 0, 0, time.UTC)
	ingest(t, svc, "John Doe", "Hemoglobin", "9.5", first)
	ingest(t, svc, "John Doe", "Hemoglobin", "12.5", second)

	// the 12.5 window covers Apr 1 and would win a covering lookup
	// there; the 9.5 measurement still owns its full window
	from := time.Date(2025, 3, 18, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 4, 22, 0, 0, 0, 0, time.UTC)
	intervals, err := eng.StateIntervals("John Doe", kb.TableHemoglobinState, "Moderate Anemia", from, to)
	if err != nil {
		t.Fatalf("StateIntervals: %v", err)
	}
	if len(intervals) != 1 {
		t.Fatalf("got %d intervals, want 1: %+v", len(intervals), intervals)
	}
	wantStart := first.AddDate(0, 0, -7)
	wantEnd := first.AddDate(0, 0, 7)
	if !intervals[0].Start.Equal(wantStart) || !intervals[0].End.Equal(wantEnd) {
		t.Fatalf("interval [%v, %v], want [%v, %v]",
			intervals[0].Start, intervals[0].End, wantStart, wantEnd)
	}
}

func TestStateIntervalsSameStateMergesAcrossOtherState(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingest(t, svc, "John Doe", "Gender", "male", at.AddDate(0, 0, -30))
	ingest(t, svc, "John Doe", "Hemoglobin", "9.5", time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC))
	ingest(t, svc, "John Doe", "Hemoglobin", "12.5", time.Date(2025, 4, 4, 10, 0, 0, 0, time.UTC))
	ingest(t, svc, "John Doe", "Hemoglobin", "9.5", time.Date(2025, 4, 7, 10, 0, 0, 0, time.UTC))

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	intervals, err := eng.StateIntervals("John Doe", kb.TableHemoglobinState, "", from, to)
	if err != nil {
		t.Fatalf("StateIntervals: %v", err)
	}
	// the two Moderate Anemia windows overlap and merge even though
	// the Mild Anemia interval starts between them
	if len(intervals) != 2 {
		t.Fatalf("got %d intervals, want 2: %+v", len(intervals), intervals)
	}
	if intervals[0].State != "Moderate Anemia" || intervals[1].State != "Mild Anemia" {
		t.Fatalf("states = %q, %q", intervals[0].State, intervals[1].State)
	}
	wantStart := time.Date(2025, 3, 25, 10, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2025, 4, 14, 10, 0, 0, 0, time.UTC)
	if !intervals[0].Start.Equal(wantStart) || !intervals[0].End.Equal(wantEnd) {
		t.Fatalf("merged interval [%v, %v], want [%v, %v]",
			intervals[0].Start, intervals[0].End, wantStart, wantEnd)
	}
}

func TestStateIntervalsMatrixIntersectsWindows(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingest(t, svc, "John Doe", "Gender", "male", at.AddDate(0, 0, -60))
	hgbAt := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	wbcAt := time.Date(2025, 4, 3, 10, 0, 0, 0, time.UTC)
	ingest(t, svc, "John Doe", "Hemoglobin", "10", hgbAt)
	ingest(t, svc, "John Doe", "WBC", "12000", wbcAt)
	// a later WBC with no hemoglobin window over it contributes nothing
	ingest(t, svc, "John Doe", "WBC", "12000", time.Date(2025, 4, 20, 10, 0, 0, 0, time.UTC))

	from := time.Date(2025, 3, 18, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)
	intervals, err := eng.StateIntervals("John Doe", kb.TableHematologicalState, "", from, to)
	if err != nil {
		t.Fatalf("StateIntervals: %v", err)
	}
	if len(intervals) != 1 {
		t.Fatalf("got %d intervals, want 1: %+v", len(intervals), intervals)
	}
	if intervals[0].State != "Suspected Leukemia" {
		t.Fatalf("state = %q", intervals[0].State)
	}
	// hemoglobin window is 7 days, WBC 3; the intersection is the
	// tighter WBC window
	wantStart := wbcAt.AddDate(0, 0, -3)
	wantEnd := wbcAt.AddDate(0, 0, 3)
	if !intervals[0].Start.Equal(wantStart) || !intervals[0].End.Equal(wantEnd) {
		t.Fatalf("interval [%v, %v], want [%v, %v]",
			intervals[0].Start, intervals[0].End, wantStart, wantEnd)
	}
}

func TestStateIntervalsMaximalSeverityIntersectsWindows(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingestToxicityInputs(t, svc, "John Doe")

	from := at.AddDate(0, 0, -5)
	to := at.AddDate(0, 0, 5)
	intervals, err := eng.StateIntervals("John Doe", kb.TableSystemicToxicity, "", from, to)
	if err != nil {
		t.Fatalf("StateIntervals: %v", err)
	}
	if len(intervals) != 1 {
		t.Fatalf("got %d intervals, want 1: %+v", len(intervals), intervals)
	}
	if intervals[0].State != "GRADE II" {
		t.Fatalf("state = %q", intervals[0].State)
	}
	// fever, chills, and allergic-state carry 12-hour windows; they
	// bound the intersection despite the month-long therapy window
	if !intervals[0].Start.Equal(at.Add(-12*time.Hour)) || !intervals[0].End.Equal(at.Add(12*time.Hour)) {
		t.Fatalf("interval [%v, %v], want [%v, %v]",
			intervals[0].Start, intervals[0].End, at.Add(-12*time.Hour), at.Add(12*time.Hour))
	}
}

func TestStateIntervalsClipsToQueryRange(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingest(t, svc, "John Doe", "Gender", "male", at.AddDate(0, 0, -30))
	ingest(t, svc, "John Doe", "Hemoglobin", "9.5", at)

	from := at.Add(-time.Hour)
	to := at.Add(time.Hour)
	intervals, err := eng.StateIntervals("John Doe", kb.TableHemoglobinState, "", from, to)
	if err != nil {
		t.Fatalf("StateIntervals: %v", err)
	}
	if len(intervals) != 1 {
		t.Fatalf("got %d intervals, want 1", len(intervals))
	}
	if !intervals[0].Start.Equal(from) || !intervals[0].End.Equal(to) {
		t.Fatalf("interval not clipped: [%v, %v]", intervals[0].Start, intervals[0].End)
	}
}

func TestStateIntervalsReversedRange(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingest(t, svc, "John Doe", "Gender", "male", at)
	ingest(t, svc, "John Doe", "Hemoglobin", "9.5", at)

	intervals, err := eng.StateIntervals("John Doe", kb.TableHemoglobinState, "", at, at.Add(-time.Hour))
	if err != nil {
		t.Fatalf("StateIntervals: %v", err)
	}
	if len(intervals) != 0 {
		t.Fatalf("reversed range returned %d intervals", len(intervals))
	}
}

func TestRecommend(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingest(t, svc, "John Doe", "Gender", "male", at.AddDate(0, 0, -30))
	ingest(t, svc, "John Doe", "Hemoglobin", "8.5", at)
	ingest(t, svc, "John Doe", "WBC", "3000", at)
	ingest(t, svc, "John Doe", "Therapy", "CCTG522", at.Add(-48*time.Hour))
	ingest(t, svc, "John Doe", "Fever", "37.0", at)
	ingest(t, svc, "John Doe", "Chills", "None", at)
	ingest(t, svc, "John Doe", "Skin-look", "Erythema", at)
	ingest(t, svc, "John Doe", "Allergic-state", "Edema", at)

	rec, err := eng.Recommend("John Doe", at)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if !rec.Found {
		t.Fatalf("no recommendation found: %+v", rec)
	}
	if rec.HemoglobinState != "Severe Anemia" || rec.HematologicalState != "Pancytopenia" || rec.Toxicity != "GRADE I" {
		t.Fatalf("derived states wrong: %+v", rec)
	}
	if rec.Treatment != "Measure BP once a week" {
		t.Fatalf("treatment = %q", rec.Treatment)
	}
}

func TestRecommendWithoutToxicityInputs(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingest(t, svc, "John Doe", "Gender", "male", at.AddDate(0, 0, -30))
	ingest(t, svc, "John Doe", "Hemoglobin", "8.5", at)
	ingest(t, svc, "John Doe", "WBC", "3000", at)

	rec, err := eng.Recommend("John Doe", at)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if rec.Found {
		t.Fatalf("recommendation should not resolve with NoState toxicity: %+v", rec)
	}
	if rec.Toxicity != NoState {
		t.Fatalf("toxicity = %q, want %s", rec.Toxicity, NoState)
	}
}

func TestFindPatients(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingest(t, svc, "John Doe", "Gender", "male", at.AddDate(0, 0, -30))
	ingest(t, svc, "John Doe", "Hemoglobin", "8.5", at)
	ingest(t, svc, "Jane Roe", "Gender", "female", at.AddDate(0, 0, -30))
	ingest(t, svc, "Jane Roe", "Hemoglobin", "13.0", at)

	anemic, err := eng.FindPatients(kb.TableHemoglobinState, "severe anemia", at)
	if err != nil {
		t.Fatalf("FindPatients: %v", err)
	}
	if len(anemic) != 1 || anemic[0] != "John Doe" {
		t.Fatalf("anemic patients = %v", anemic)
	}

	normal, err := eng.FindPatients(kb.TableHemoglobinState, "Normal Hemoglobin", at)
	if err != nil {
		t.Fatalf("FindPatients: %v", err)
	}
	if len(normal) != 1 || normal[0] != "Jane Roe" {
		t.Fatalf("normal patients = %v", normal)
	}
}

func TestPatientStatesCoversEveryTable(t *testing.T) {
	eng, svc := newTestEngine(t)
	ingest(t, svc, "John Doe", "Gender", "male", at.AddDate(0, 0, -30))
	ingest(t, svc, "John Doe", "Hemoglobin", "8.5", at)

	states, err := eng.PatientStates("John Doe", at)
	if err != nil {
		t.Fatalf("PatientStates: %v", err)
	}
	if len(states) != len(eng.KnowledgeBase().TableNames()) {
		t.Fatalf("got %d states for %d tables", len(states), len(eng.KnowledgeBase().TableNames()))
	}
	byTable := make(map[string]Result)
	for _, s := range states {
		byTable[s.Table] = s
	}
	if byTable[kb.TableHemoglobinState].State != "Severe Anemia" {
		t.Fatalf("hemoglobin state = %q", byTable[kb.TableHemoglobinState].State)
	}
	if byTable[kb.TableSystemicToxicity].State != NoState {
		t.Fatalf("toxicity state = %q, want %s", byTable[kb.TableSystemicToxicity].State, NoState)
	}
}
