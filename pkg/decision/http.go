package decision

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/chronomed-ai/cdss/pkg/common/logger"
	"github.com/chronomed-ai/cdss/pkg/common/models"
	"github.com/chronomed-ai/cdss/pkg/kb"
	"github.com/chronomed-ai/cdss/pkg/measurement"
	"github.com/chronomed-ai/cdss/pkg/terminology"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/measurements", h.handleIngest).Methods(http.MethodPost)
	r.HandleFunc("/measurements", h.handleUpdate).Methods(http.MethodPatch)
	r.HandleFunc("/measurements", h.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/measurements/history", h.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/measurements/latest", h.handleLatest).Methods(http.MethodGet)
	r.HandleFunc("/measurements/status", h.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/patients", h.handleListPatients).Methods(http.MethodGet)
	r.HandleFunc("/patients/states", h.handleAllStates).Methods(http.MethodGet)
	r.HandleFunc("/patients/search", h.handleFindPatients).Methods(http.MethodGet)
	r.HandleFunc("/patients/{name}/states", h.handlePatientStates).Methods(http.MethodGet)
	r.HandleFunc("/patients/{name}/intervals", h.handleIntervals).Methods(http.MethodGet)
	r.HandleFunc("/patients/{name}/recommendation", h.handleRecommendation).Methods(http.MethodGet)
	r.HandleFunc("/knowledge-base/treatments", h.handleTreatments).Methods(http.MethodGet)
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req models.IngestMeasurementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Patient == "" || req.Code == "" || req.Value == "" || req.ValidTime.IsZero() {
		http.Error(w, "patient, code, value, and valid_time are required", http.StatusBadRequest)
		return
	}
	record, err := h.service.Ingest(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "failed to ingest measurement")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"measurement": record})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseTime(q.Get("start"))
	if err != nil {
		http.Error(w, "invalid start", http.StatusBadRequest)
		return
	}
	end, err := parseTime(q.Get("end"))
	if err != nil {
		http.Error(w, "invalid end", http.StatusBadRequest)
		return
	}
	query := measurement.HistoryQuery{
		Patient:     q.Get("patient"),
		CodeOrAlias: q.Get("code"),
		Start:       start,
		End:         end,
	}
	if raw := q.Get("hour"); raw != "" {
		hour, err := strconv.Atoi(raw)
		if err != nil || hour < 0 || hour > 23 {
			http.Error(w, "invalid hour", http.StatusBadRequest)
			return
		}
		query.Hour = &hour
	}
	if raw := q.Get("as_of"); raw != "" {
		asOf, err := parseTime(raw)
		if err != nil {
			http.Error(w, "invalid as_of", http.StatusBadRequest)
			return
		}
		query.AsOf = asOf
	}

	records, err := h.service.History(query)
	if err != nil {
		writeDomainError(w, err, "failed to query history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": records, "count": len(records)})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateMeasurementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Patient == "" || req.Code == "" || req.Value == "" || req.ValidTime.IsZero() {
		http.Error(w, "patient, code, value, and valid_time are required", http.StatusBadRequest)
		return
	}
	record, err := h.service.Update(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "failed to update measurement")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"measurement": record})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req models.DeleteMeasurementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Patient == "" || req.Code == "" || req.Date == "" {
		http.Error(w, "patient, code, and date are required", http.StatusBadRequest)
		return
	}
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if req.Hour == nil {
		http.Error(w, "hour is required", http.StatusBadRequest)
		return
	}
	if *req.Hour < 0 || *req.Hour > 23 {
		http.Error(w, "hour must be between 0 and 23", http.StatusBadRequest)
		return
	}
	deleted, err := h.service.Delete(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "failed to delete measurement")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": len(deleted), "items": deleted})
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var asOf time.Time
	if raw := q.Get("as_of"); raw != "" {
		parsed, err := parseTime(raw)
		if err != nil {
			http.Error(w, "invalid as_of", http.StatusBadRequest)
			return
		}
		asOf = parsed
	}
	record, found, err := h.service.LatestValue(q.Get("patient"), q.Get("code"), asOf)
	if err != nil {
		writeDomainError(w, err, "failed to resolve latest value")
		return
	}
	if !found {
		http.Error(w, "no measurement found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"measurement": record})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": h.service.Status()})
}

func (h *Handler) handleListPatients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": h.service.Patients()})
}

func (h *Handler) handlePatientStates(w http.ResponseWriter, r *http.Request) {
	at, err := parseTimeDefault(r.URL.Query().Get("at"))
	if err != nil {
		http.Error(w, "invalid at", http.StatusBadRequest)
		return
	}
	states, err := h.service.PatientStates(r.Context(), mux.Vars(r)["name"], at)
	if err != nil {
		writeDomainError(w, err, "failed to evaluate patient states")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": states})
}

func (h *Handler) handleAllStates(w http.ResponseWriter, r *http.Request) {
	at, err := parseTimeDefault(r.URL.Query().Get("at"))
	if err != nil {
		http.Error(w, "invalid at", http.StatusBadRequest)
		return
	}
	states, err := h.service.AllPatientStates(r.Context(), at)
	if err != nil {
		writeDomainError(w, err, "failed to evaluate patient states")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"patients": states})
}

func (h *Handler) handleFindPatients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("table") == "" || q.Get("state") == "" {
		http.Error(w, "table and state are required", http.StatusBadRequest)
		return
	}
	at, err := parseTimeDefault(q.Get("at"))
	if err != nil {
		http.Error(w, "invalid at", http.StatusBadRequest)
		return
	}
	patients, err := h.service.FindPatients(q.Get("table"), q.Get("state"), at)
	if err != nil {
		writeDomainError(w, err, "failed to search patients")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": patients})
}

func (h *Handler) handleIntervals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("table") == "" {
		http.Error(w, "table is required", http.StatusBadRequest)
		return
	}
	from, err := parseTime(q.Get("from"))
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}
	intervals, err := h.service.StateIntervals(mux.Vars(r)["name"], q.Get("table"), q.Get("state"), from, to)
	if err != nil {
		writeDomainError(w, err, "failed to compute state intervals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": intervals})
}

func (h *Handler) handleRecommendation(w http.ResponseWriter, r *http.Request) {
	at, err := parseTimeDefault(r.URL.Query().Get("at"))
	if err != nil {
		http.Error(w, "invalid at", http.StatusBadRequest)
		return
	}
	rec, err := h.service.Recommend(mux.Vars(r)["name"], at)
	if err != nil {
		writeDomainError(w, err, "failed to resolve recommendation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"recommendation": rec})
}

func (h *Handler) handleTreatments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"treatments": kb.MarshalTreatments(h.service.KnowledgeBase()),
	})
}

// writeDomainError maps domain errors onto HTTP statuses: unknown
// identifiers and missing facts are client problems, configuration
// errors are ours.
func writeDomainError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, terminology.ErrUnknownIdentifier):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, measurement.ErrNoMatchingFact):
		http.Error(w, err.Error(), http.StatusNotFound)
	case kb.IsConfigurationError(err):
		logger.Log.WithError(err).Error(message)
		http.Error(w, "knowledge base misconfigured", http.StatusInternalServerError)
	default:
		logger.Log.WithError(err).Error(message)
		http.Error(w, message, http.StatusInternalServerError)
	}
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339, raw)
}

func parseTimeDefault(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	return parseTime(raw)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
