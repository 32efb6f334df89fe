package models

import "time"

// Transport-level payloads shared between the HTTP layer and the audit
// event stream. Core domain types live in their own packages.

type IngestMeasurementRequest struct {
	Patient         string            `json:"patient"`
	Code            string            `json:"code"` // LOINC code or component alias
	Value           string            `json:"value"`
	Unit            string            `json:"unit,omitempty"`
	ValidTime       time.Time         `json:"valid_time"`
	TransactionTime time.Time         `json:"transaction_time,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type UpdateMeasurementRequest struct {
	Patient         string    `json:"patient"`
	Code            string    `json:"code"`
	ValidTime       time.Time `json:"valid_time"`
	Value           string    `json:"value"`
	TransactionTime time.Time `json:"transaction_time,omitempty"`
}

type DeleteMeasurementRequest struct {
	Patient string `json:"patient"`
	Code    string `json:"code"`
	Date    string `json:"date"` // YYYY-MM-DD
	Hour    *int   `json:"hour"` // required; 0 is a valid hour
}

const (
	AuditMeasurementIngested  = "measurement.ingested"
	AuditMeasurementCorrected = "measurement.corrected"
	AuditMeasurementDeleted   = "measurement.deleted"
)

// AuditEvent is published to Kafka on every mutation of the measurement
// store. It is a boundary-layer side channel; the store itself keeps no
// tombstones.
type AuditEvent struct {
	ID              string    `json:"id"`
	Action          string    `json:"action"`
	Patient         string    `json:"patient"`
	Code            string    `json:"code"`
	Value           string    `json:"value,omitempty"`
	Unit            string    `json:"unit,omitempty"`
	ValidTime       time.Time `json:"valid_time"`
	TransactionTime time.Time `json:"transaction_time"`
	OccurredAt      time.Time `json:"occurred_at"`
}
