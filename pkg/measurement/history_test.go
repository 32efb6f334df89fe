package measurement

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/chronomed-ai/cdss/pkg/terminology"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(NewStore(), terminology.DefaultCatalog())
}

func seedJohnDoe(t *testing.T, s *Service) {
	t.Helper()
	for _, r := range []Record{
		record("John Doe", "Hemoglobin", "3.0", validA, txnA),
		record("John Doe", "Hemoglobin", "2.9", validB, txnB),
	} {
		if _, err := s.Ingest(r); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}
}

func TestHistoryReturnsAllVersionsInOrder(t *testing.T) {
	s := newTestService(t)
	seedJohnDoe(t, s)
	if _, err := s.Update("John Doe", "Hemoglobin", validA, "9.9", time.Date(2025, 4, 26, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Update: %v", err)
	}

	history, err := s.History(HistoryQuery{
		Patient:     "John Doe",
		CodeOrAlias: "718-7",
		Start:       validA.Add(-time.Hour),
		End:         validB.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history has %d records, want every version", len(history))
	}
	// sorted by valid time, then transaction time
	want := []string{"3.0", "9.9", "2.9"}
	for i, value := range want {
		if history[i].Value != value {
			t.Fatalf("history[%d] = %q, want %q", i, history[i].Value, value)
		}
	}
}

func TestHistoryReversedRangeIsEmpty(t *testing.T) {
	s := newTestService(t)
	seedJohnDoe(t, s)

	history, err := s.History(HistoryQuery{
		Patient:     "John Doe",
		CodeOrAlias: "Hemoglobin",
		Start:       validB,
		End:         validA,
	})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("reversed range returned %d records", len(history))
	}
}

func TestHistoryUnknownPatientIsEmpty(t *testing.T) {
	s := newTestService(t)
	seedJohnDoe(t, s)

	history, err := s.History(HistoryQuery{
		Patient:     "Nobody",
		CodeOrAlias: "Hemoglobin",
		Start:       validA.Add(-time.Hour),
		End:         validB.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("unknown patient returned %d records", len(history))
	}
}

func TestHistoryUnknownCode(t *testing.T) {
	s := newTestService(t)
	if _, err := s.History(HistoryQuery{
		Patient:     "John Doe",
		CodeOrAlias: "bogus-code",
		Start:       validA,
		End:         validB,
	}); !errors.Is(err, terminology.ErrUnknownIdentifier) {
		t.Fatalf("want ErrUnknownIdentifier, got %v", err)
	}
}

func TestHistoryHourFilter(t *testing.T) {
	s := newTestService(t)
	seedJohnDoe(t, s)

	hour := 12
	history, err := s.History(HistoryQuery{
		Patient:     "John Doe",
		CodeOrAlias: "Hemoglobin",
		Start:       validA.Add(-time.Hour),
		End:         validB.Add(time.Hour),
		Hour:        &hour,
	})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Value != "2.9" {
		t.Fatalf("hour filter returned %+v", history)
	}
}

func TestHistoryAsOfHidesLaterKnowledge(t *testing.T) {
	s := newTestService(t)
	seedJohnDoe(t, s)
	if _, err := s.Update("John Doe", "Hemoglobin", validA, "9.9", time.Date(2025, 4, 26, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Update: %v", err)
	}

	history, err := s.History(HistoryQuery{
		Patient:     "John Doe",
		CodeOrAlias: "Hemoglobin",
		Start:       validA.Add(-time.Hour),
		End:         validB.Add(time.Hour),
		AsOf:        time.Date(2025, 4, 22, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	// the correction was recorded April 26 and is invisible as of the 22nd
	if len(history) != 2 {
		t.Fatalf("as-of history has %d records, want 2", len(history))
	}
}

func TestCurrentVersionsPickGreatestTransactionTime(t *testing.T) {
	s := newTestService(t)
	seedJohnDoe(t, s)
	if _, err := s.Update("John Doe", "Hemoglobin", validA, "9.9", time.Date(2025, 4, 26, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Update: %v", err)
	}

	current := s.CurrentVersions("John Doe", "718-7", time.Time{})
	if len(current) != 2 {
		t.Fatalf("got %d current versions, want one per valid time", len(current))
	}
	if current[0].Value != "9.9" {
		t.Fatalf("current version at 10:00 = %q, want the correction", current[0].Value)
	}
	if current[1].Value != "2.9" {
		t.Fatalf("current version at 12:00 = %q", current[1].Value)
	}
}

func TestCurrentVersionTieBreaksOnSequence(t *testing.T) {
	s := newTestService(t)
	// two versions with the same transaction time; the later insertion
	// wins
	if _, err := s.Ingest(record("John Doe", "Hemoglobin", "3.0", validA, txnA)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := s.Ingest(record("John Doe", "Hemoglobin", "3.5", validA, txnA)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	current := s.CurrentVersions("John Doe", "718-7", time.Time{})
	if len(current) != 1 || current[0].Value != "3.5" {
		t.Fatalf("current = %+v", current)
	}
}

func TestLatestValue(t *testing.T) {
	s := newTestService(t)
	seedJohnDoe(t, s)

	latest, found, err := s.LatestValue("John Doe", "Hemoglobin", time.Time{})
	if err != nil || !found {
		t.Fatalf("LatestValue: found=%v err=%v", found, err)
	}
	if latest.Value != "2.9" {
		t.Fatalf("latest = %q, want the 12:00 observation", latest.Value)
	}

	_, found, err = s.LatestValue("Nobody", "Hemoglobin", time.Time{})
	if err != nil {
		t.Fatalf("LatestValue: %v", err)
	}
	if found {
		t.Fatal("unknown patient should have no latest value")
	}
}

func TestStatusOneRowPerPatientAndConcept(t *testing.T) {
	s := newTestService(t)
	seedJohnDoe(t, s)
	if _, err := s.Ingest(record("John Doe", "WBC", "4200", validA, txnA)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := s.Ingest(record("Jane Roe", "Hemoglobin", "12.5", validA, txnA)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	status := s.Status()
	if len(status) != 3 {
		t.Fatalf("status has %d rows, want 3", len(status))
	}
	// John Doe's hemoglobin row shows the newest valid time
	for _, row := range status {
		if row.Patient == "John Doe" && row.Code == "718-7" && row.Value != "2.9" {
			t.Fatalf("status hemoglobin = %q", row.Value)
		}
	}
}

func TestLoadSeedResolvesAliases(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/seed.yaml"
	content := []byte(`measurements:
  - patient: John Doe
    code: Hemoglobin
    value: "9.5"
    valid_time: 2025-04-20T10:00:00Z
  - patient: John Doe
    code: "6690-2"
    value: "4200"
    valid_time: 2025-04-20T10:00:00Z
    transaction_time: 2025-04-21T10:00:00Z
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	records, err := LoadSeed(path, terminology.DefaultCatalog())
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("loaded %d records", len(records))
	}
	if records[0].Code != "718-7" {
		t.Fatalf("alias not resolved: %s", records[0].Code)
	}
	// transaction time defaults to the valid time
	if !records[0].TransactionTime.Equal(records[0].ValidTime) {
		t.Fatalf("default transaction time wrong: %+v", records[0])
	}
}
