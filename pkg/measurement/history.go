package measurement

import (
	"sort"
	"strings"
	"time"
)

// Resolver maps a test code or component alias to the canonical code.
// Satisfied by terminology.Catalog.
type Resolver interface {
	Resolve(codeOrAlias string) (string, error)
}

// Service is the history/mutation engine over the store. Patient names
// match case-insensitively on the full name; identifiers are resolved
// through the catalog and unknown ones propagate as errors.
type Service struct {
	store    *Store
	resolver Resolver
}

func NewService(store *Store, resolver Resolver) *Service {
	return &Service{store: store, resolver: resolver}
}

func (s *Service) Store() *Store {
	return s.store
}

// HistoryQuery selects records by valid-time range. Hour, when set,
// additionally filters on the hour-of-day of the valid time. AsOf, when
// set, hides records the system learned after that transaction time.
type HistoryQuery struct {
	Patient     string
	CodeOrAlias string
	Start       time.Time
	End         time.Time
	Hour        *int
	AsOf        time.Time
}

// History returns every stored version (not only current ones) whose
// valid time lies in [Start, End], sorted ascending by (valid time,
// transaction time, insertion order). An unknown patient yields an empty
// result; a reversed range yields an empty result without error.
func (s *Service) History(q HistoryQuery) ([]Record, error) {
	code, err := s.resolver.Resolve(q.CodeOrAlias)
	if err != nil {
		return nil, err
	}
	if q.Start.After(q.End) {
		return nil, nil
	}

	records := s.store.Select(func(r Record) bool {
		if !matchPatient(r.Patient, q.Patient) || r.Code != code {
			return false
		}
		if r.ValidTime.Before(q.Start) || r.ValidTime.After(q.End) {
			return false
		}
		if q.Hour != nil && r.ValidTime.Hour() != *q.Hour {
			return false
		}
		if !q.AsOf.IsZero() && r.TransactionTime.After(q.AsOf) {
			return false
		}
		return true
	})

	sortChronological(records)
	return records, nil
}

// Update appends a corrective version for the fact at validTime. The
// target must already exist; correcting a fact that was never recorded
// is an error, not an insert.
func (s *Service) Update(patient, codeOrAlias string, validTime time.Time, newValue string, txnTime time.Time) (Record, error) {
	code, err := s.resolver.Resolve(codeOrAlias)
	if err != nil {
		return Record{}, err
	}
	if txnTime.IsZero() {
		txnTime = time.Now()
	}
	return s.store.Correct(patient, code, validTime, newValue, txnTime)
}

// Delete permanently removes all records on the given date whose valid
// time has the given hour-of-day component.
func (s *Service) Delete(patient, codeOrAlias string, day time.Time, hour int) ([]Record, error) {
	code, err := s.resolver.Resolve(codeOrAlias)
	if err != nil {
		return nil, err
	}
	return s.store.DeleteHour(patient, code, day, hour)
}

// Ingest records a brand-new observation.
func (s *Service) Ingest(r Record) (Record, error) {
	code, err := s.resolver.Resolve(r.Code)
	if err != nil {
		return Record{}, err
	}
	r.Code = code
	if r.TransactionTime.IsZero() {
		r.TransactionTime = time.Now()
	}
	return s.store.Append(r), nil
}

// CurrentVersions returns, for each distinct valid time of (patient,
// code), the record with the greatest transaction time, sorted by valid
// time. AsOf, when non-zero, restricts to what was known at that moment.
func (s *Service) CurrentVersions(patient, code string, asOf time.Time) []Record {
	candidates := s.store.Select(func(r Record) bool {
		if !matchPatient(r.Patient, patient) || r.Code != code {
			return false
		}
		if !asOf.IsZero() && r.TransactionTime.After(asOf) {
			return false
		}
		return true
	})

	current := make(map[time.Time]Record)
	for _, r := range candidates {
		key := r.ValidTime
		if prev, ok := current[key]; !ok || newerVersion(r, prev) {
			current[key] = r
		}
	}
	out := make([]Record, 0, len(current))
	for _, r := range current {
		out = append(out, r)
	}
	sortChronological(out)
	return out
}

// LatestValue returns the current version with the newest valid time, as
// known at asOf (zero = now, i.e. everything).
func (s *Service) LatestValue(patient, codeOrAlias string, asOf time.Time) (Record, bool, error) {
	code, err := s.resolver.Resolve(codeOrAlias)
	if err != nil {
		return Record{}, false, err
	}
	versions := s.CurrentVersions(patient, code, asOf)
	if len(versions) == 0 {
		return Record{}, false, nil
	}
	return versions[len(versions)-1], true, nil
}

// Status lists, per (patient, code), the current version with the newest
// valid time across the whole store. This backs the dashboard view.
func (s *Service) Status() []Record {
	all := s.store.Snapshot()

	type key struct {
		patient string
		code    string
	}
	latest := make(map[key]Record)
	currents := make(map[key]map[time.Time]Record)
	for _, r := range all {
		k := key{patient: normalizeName(r.Patient), code: r.Code}
		if currents[k] == nil {
			currents[k] = make(map[time.Time]Record)
		}
		if prev, ok := currents[k][r.ValidTime]; !ok || newerVersion(r, prev) {
			currents[k][r.ValidTime] = r
		}
	}
	for k, versions := range currents {
		for _, r := range versions {
			if prev, ok := latest[k]; !ok || r.ValidTime.After(prev.ValidTime) {
				latest[k] = r
			}
		}
	}

	out := make([]Record, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Patient != out[j].Patient {
			return out[i].Patient < out[j].Patient
		}
		return out[i].Code < out[j].Code
	})
	return out
}

func (s *Service) Patients() []string {
	return s.store.Patients()
}

func sortChronological(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.ValidTime.Equal(b.ValidTime) {
			return a.ValidTime.Before(b.ValidTime)
		}
		if !a.TransactionTime.Equal(b.TransactionTime) {
			return a.TransactionTime.Before(b.TransactionTime)
		}
		return a.Seq < b.Seq
	})
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
