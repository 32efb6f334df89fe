package measurement

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNoMatchingFact is returned by corrective updates and deletions when
// no stored record matches the requested target.
var ErrNoMatchingFact = errors.New("no matching fact")

// Store is the bi-temporal measurement store: append-only, in-memory,
// single-writer. Reads run under a shared lock; mutations take the
// exclusive lock for their whole duration so a current-version lookup
// never observes a half-written record set.
type Store struct {
	mu      sync.RWMutex
	records []Record
	nextSeq uint64
}

func NewStore() *Store {
	return &Store{}
}

// Append adds a record and returns it with its insertion sequence
// assigned. Records are never modified after this point.
func (s *Store) Append(r Record) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(r)
}

func (s *Store) appendLocked(r Record) Record {
	s.nextSeq++
	r.Seq = s.nextSeq
	s.records = append(s.records, r)
	return r
}

// Select returns a copy of every record accepted by the filter, in
// insertion order.
func (s *Store) Select(keep func(Record) bool) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// Correct appends a new transaction-time version for an existing fact.
// The prior versions stay in place; the non-value attributes of the
// newest prior version are carried over.
func (s *Store) Correct(patient, code string, validTime time.Time, newValue string, txnTime time.Time) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *Record
	for i := range s.records {
		r := &s.records[i]
		if !matchPatient(r.Patient, patient) || r.Code != code || !r.ValidTime.Equal(validTime) {
			continue
		}
		if current == nil || newerVersion(*r, *current) {
			current = r
		}
	}
	if current == nil {
		return Record{}, ErrNoMatchingFact
	}

	corrected := *current
	corrected.Value = newValue
	corrected.TransactionTime = txnTime
	return s.appendLocked(corrected), nil
}

// DeleteHour permanently removes every record for (patient, code) whose
// valid time falls on the given calendar date with the given hour of
// day. This is a destructive operation: no tombstone is kept.
func (s *Store) DeleteHour(patient, code string, day time.Time, hour int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted []Record
	kept := s.records[:0]
	for _, r := range s.records {
		if matchPatient(r.Patient, patient) && r.Code == code && sameDate(r.ValidTime, day) && r.ValidTime.Hour() == hour {
			deleted = append(deleted, r)
			continue
		}
		kept = append(kept, r)
	}
	if len(deleted) == 0 {
		return nil, ErrNoMatchingFact
	}
	s.records = kept
	return deleted, nil
}

// Snapshot copies out the full record set in insertion order.
func (s *Store) Snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Patients lists the distinct patient names currently present, sorted.
func (s *Store) Patients() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]string)
	for _, r := range s.records {
		seen[strings.ToLower(r.Patient)] = r.Patient
	}
	out := make([]string, 0, len(seen))
	for _, name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func matchPatient(stored, queried string) bool {
	return strings.EqualFold(strings.TrimSpace(stored), strings.TrimSpace(queried))
}

func sameDate(t, day time.Time) bool {
	ty, tm, td := t.Date()
	dy, dm, dd := day.Date()
	return ty == dy && tm == dm && td == dd
}
