package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/chronomed-ai/cdss/pkg/common/logger"
	"github.com/chronomed-ai/cdss/pkg/common/models"
	"github.com/chronomed-ai/cdss/pkg/inference"
	"github.com/chronomed-ai/cdss/pkg/kb"
	"github.com/chronomed-ai/cdss/pkg/measurement"
	"github.com/chronomed-ai/cdss/pkg/observability/metrics"
)

// AuditPublisher pushes mutation events to the audit stream. Satisfied
// by kafka.Producer.
type AuditPublisher interface {
	PublishAudit(ctx context.Context, event models.AuditEvent) error
}

// Mirror persists mutations outside the in-memory store. Satisfied by
// measurement.Archive.
type Mirror interface {
	Append(ctx context.Context, r measurement.Record) error
	DeleteHour(ctx context.Context, patient, code string, day time.Time, hour int) error
}

// Service is the decision-support facade: measurement history and
// mutations on one side, classification and recommendations on the
// other. Audit publication and archive mirroring are best effort; the
// in-memory store remains the source of truth.
type Service struct {
	meas   *measurement.Service
	engine *inference.Engine
	audit  AuditPublisher
	mirror Mirror
	cache  *StateCache
}

func NewService(meas *measurement.Service, engine *inference.Engine) *Service {
	return &Service{meas: meas, engine: engine}
}

func (s *Service) WithAudit(audit AuditPublisher) *Service {
	s.audit = audit
	return s
}

func (s *Service) WithMirror(mirror Mirror) *Service {
	s.mirror = mirror
	return s
}

func (s *Service) WithCache(cache *StateCache) *Service {
	s.cache = cache
	return s
}

// Ingest records a new observation, mirrors it, and emits an audit
// event.
func (s *Service) Ingest(ctx context.Context, req models.IngestMeasurementRequest) (measurement.Record, error) {
	record, err := s.meas.Ingest(measurement.Record{
		Patient:         req.Patient,
		Code:            req.Code,
		Value:           req.Value,
		Unit:            req.Unit,
		ValidTime:       req.ValidTime,
		TransactionTime: req.TransactionTime,
		Metadata:        req.Metadata,
	})
	if err != nil {
		return measurement.Record{}, err
	}
	metrics.IncMutations()
	s.afterMutation(ctx, models.AuditMeasurementIngested, record)
	if s.mirror != nil {
		if err := s.mirror.Append(ctx, record); err != nil {
			logger.Log.WithError(err).Warn("archive append failed")
		}
	}
	return record, nil
}

// History returns every stored version in the valid-time range.
func (s *Service) History(q measurement.HistoryQuery) ([]measurement.Record, error) {
	metrics.IncHistoryQueries()
	return s.meas.History(q)
}

// Update appends a corrective version for an existing fact.
func (s *Service) Update(ctx context.Context, req models.UpdateMeasurementRequest) (measurement.Record, error) {
	record, err := s.meas.Update(req.Patient, req.Code, req.ValidTime, req.Value, req.TransactionTime)
	if err != nil {
		return measurement.Record{}, err
	}
	metrics.IncMutations()
	s.afterMutation(ctx, models.AuditMeasurementCorrected, record)
	if s.mirror != nil {
		if err := s.mirror.Append(ctx, record); err != nil {
			logger.Log.WithError(err).Warn("archive append failed")
		}
	}
	return record, nil
}

// Delete hard-removes every version of the fact identified by patient,
// code, calendar date, and hour of day.
func (s *Service) Delete(ctx context.Context, req models.DeleteMeasurementRequest) ([]measurement.Record, error) {
	day, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, fmt.Errorf("bad date %q: %w", req.Date, err)
	}
	if req.Hour == nil {
		return nil, fmt.Errorf("hour is required")
	}
	if *req.Hour < 0 || *req.Hour > 23 {
		return nil, fmt.Errorf("hour out of range: %d", *req.Hour)
	}
	deleted, err := s.meas.Delete(req.Patient, req.Code, day, *req.Hour)
	if err != nil {
		return nil, err
	}
	metrics.IncMutations()
	for _, record := range deleted {
		s.afterMutation(ctx, models.AuditMeasurementDeleted, record)
	}
	if s.mirror != nil && len(deleted) > 0 {
		if err := s.mirror.DeleteHour(ctx, req.Patient, deleted[0].Code, day, *req.Hour); err != nil {
			logger.Log.WithError(err).Warn("archive delete failed")
		}
	}
	return deleted, nil
}

// LatestValue returns the current version with the newest valid time, as
// known at asOf (zero means now).
func (s *Service) LatestValue(patient, code string, asOf time.Time) (measurement.Record, bool, error) {
	return s.meas.LatestValue(patient, code, asOf)
}

// PatientStates evaluates every rule table for a patient at a point in
// time, consulting the snapshot cache first.
func (s *Service) PatientStates(ctx context.Context, patient string, at time.Time) ([]inference.Result, error) {
	if cached, ok := s.cache.Get(ctx, patient, at); ok {
		return cached, nil
	}
	results, err := s.engine.PatientStates(patient, at)
	if err != nil {
		return nil, err
	}
	metrics.IncClassifications()
	s.cache.Set(ctx, patient, at, results)
	return results, nil
}

// AllPatientStates is the dashboard snapshot: every known patient,
// every table, one moment.
func (s *Service) AllPatientStates(ctx context.Context, at time.Time) (map[string][]inference.Result, error) {
	out := make(map[string][]inference.Result)
	for _, patient := range s.meas.Patients() {
		results, err := s.PatientStates(ctx, patient, at)
		if err != nil {
			return nil, err
		}
		out[patient] = results
	}
	return out, nil
}

// StateIntervals reports when derived states held in a range; target
// narrows to one state when non-empty.
func (s *Service) StateIntervals(patient, table, target string, from, to time.Time) ([]inference.Interval, error) {
	metrics.IncClassifications()
	return s.engine.StateIntervals(patient, table, target, from, to)
}

// Recommend resolves the treatment for a patient at a point in time.
func (s *Service) Recommend(patient string, at time.Time) (inference.Recommendation, error) {
	metrics.IncRecommendations()
	return s.engine.Recommend(patient, at)
}

// FindPatients lists patients in a given derived state at a moment.
func (s *Service) FindPatients(table, state string, at time.Time) ([]string, error) {
	return s.engine.FindPatients(table, state, at)
}

// Status lists the freshest current version per (patient, concept).
func (s *Service) Status() []measurement.Record {
	return s.meas.Status()
}

func (s *Service) Patients() []string {
	return s.meas.Patients()
}

func (s *Service) KnowledgeBase() *kb.KnowledgeBase {
	return s.engine.KnowledgeBase()
}

func (s *Service) afterMutation(ctx context.Context, action string, record measurement.Record) {
	s.cache.Invalidate(ctx, record.Patient)
	if s.audit == nil {
		return
	}
	event := models.AuditEvent{
		Action:          action,
		Patient:         record.Patient,
		Code:            record.Code,
		Value:           record.Value,
		Unit:            record.Unit,
		ValidTime:       record.ValidTime,
		TransactionTime: record.TransactionTime,
	}
	if err := s.audit.PublishAudit(ctx, event); err != nil {
		metrics.IncAuditFailures()
		logger.Log.WithError(err).WithField("action", action).Warn("audit publish failed")
	}
}
