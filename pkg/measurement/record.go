package measurement

import (
	"strconv"
	"strings"
	"time"
)

// Record is one immutable observation. ValidTime is when the fact was
// true in the world; TransactionTime is when the system learned it. The
// same ValidTime may appear with several TransactionTimes: corrections
// are appended, never written in place. Seq is the store insertion
// sequence and breaks TransactionTime ties deterministically.
type Record struct {
	Patient         string            `json:"patient"`
	Code            string            `json:"code"`
	Value           string            `json:"value"`
	Unit            string            `json:"unit,omitempty"`
	ValidTime       time.Time         `json:"valid_time"`
	TransactionTime time.Time         `json:"transaction_time"`
	Seq             uint64            `json:"-"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Float64 parses the value as a number. Categorical values (e.g. chills
// descriptors) simply fail to parse; callers treat that as non-numeric.
func (r Record) Float64() (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.Value), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// newerVersion reports whether a supersedes b as the current version of
// the same (patient, code, valid time) fact.
func newerVersion(a, b Record) bool {
	if !a.TransactionTime.Equal(b.TransactionTime) {
		return a.TransactionTime.After(b.TransactionTime)
	}
	return a.Seq > b.Seq
}
