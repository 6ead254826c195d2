// Package handlers provides HTTP handlers for the adherence API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/caretrack/go-dose/internal/api/middleware"
	"github.com/caretrack/go-dose/internal/domain/medicine"
	fhir "github.com/caretrack/go-dose/internal/fhir/r5"
	"github.com/caretrack/go-dose/internal/intake"
	"github.com/caretrack/go-dose/internal/observability/metrics"
	"github.com/caretrack/go-dose/internal/schedule"
	"github.com/caretrack/go-dose/pkg/idempotency"
)

// MedicineHandler handles medicine order and adherence endpoints
type MedicineHandler struct {
	repo    *medicine.Repository
	engine  *schedule.Engine
	mapper  *intake.Mapper
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewMedicineHandler creates a new handler
func NewMedicineHandler(repo *medicine.Repository, engine *schedule.Engine, m *metrics.Metrics, logger *zap.Logger) *MedicineHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MedicineHandler{
		repo:    repo,
		engine:  engine,
		mapper:  intake.NewMapper(),
		metrics: m,
		logger:  logger,
	}
}

// Routes returns the handler routes
func (h *MedicineHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/schedule", h.GetSchedule)
	r.Get("/{id}/calendar", h.GetCalendar)
	r.Get("/{id}/events", h.GetEvents)
	r.Post("/{id}/adherence", h.RecordAdherence)
	r.Post("/{id}/complete", h.Complete)
	r.Post("/{id}/discontinue", h.Discontinue)
	return r
}

// PatientRoutes returns patient-scoped routes
func (h *MedicineHandler) PatientRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{patientID}/schedules", h.ListPatientSchedules)
	return r
}

// CreateRequest is the request body for creating a medicine order
type CreateRequest struct {
	MedicationRequest *fhir.MedicationRequest `json:"medicationRequest"`
	Patient           *fhir.Patient           `json:"patient,omitempty"`
}

// CreateResponse is the response for creating a medicine order
type CreateResponse struct {
	ID             string    `json:"id"`
	PatientID      string    `json:"patient_id"`
	Status         string    `json:"status"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
}

// Create handles POST /medicines
func (h *MedicineHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("medicine-handler")
	ctx, span := tracer.Start(ctx, "create_medicine_order")
	defer span.End()

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.MedicationRequest == nil {
		h.jsonError(w, "medicationRequest is required", http.StatusBadRequest)
		return
	}

	mapResult, err := h.mapper.MapMedicationRequest(req.MedicationRequest, req.Patient)
	if err != nil {
		h.logger.Warn("intake mapping failed", zap.Error(err))
		h.jsonError(w, "failed to process medication request: "+err.Error(), http.StatusBadRequest)
		return
	}

	order := mapResult.Order
	span.SetAttributes(attribute.String("medicine_id", order.ID))

	agg := medicine.NewAggregate(order.ID)
	createData := &medicine.OrderCreatedData{
		OrderID:        order.ID,
		PatientID:      mapResult.PatientID,
		PrescriberID:   mapResult.Requester,
		Name:           order.Name,
		Dosage:         order.Dosage,
		Frequency:      order.Frequency,
		Timing:         order.Timing,
		FoodTiming:     order.FoodTiming,
		Duration:       medicine.DurationDataFrom(order.Duration),
		PrescribedDate: order.PrescribedDate,
	}

	if err := agg.Create(createData); err != nil {
		h.logger.Error("aggregate create failed", zap.Error(err))
		h.jsonError(w, "failed to create medicine order", http.StatusInternalServerError)
		return
	}

	if err := h.repo.Save(ctx, agg); err != nil {
		h.logger.Error("save failed", zap.Error(err))
		h.jsonError(w, "failed to save medicine order", http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.OrdersCreated.Inc()
		h.metrics.ActiveOrders.Inc()
	}

	h.logger.Info("medicine order created",
		zap.String("id", order.ID),
		zap.String("patient_id", mapResult.PatientID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	resp := CreateResponse{
		ID:             order.ID,
		PatientID:      mapResult.PatientID,
		Status:         string(agg.Status()),
		IdempotencyKey: idempotency.GenerateKey(mapResult.PatientID, order.ID, "", order.PrescribedDate),
		CreatedAt:      time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// Get handles GET /medicines/{id}
func (h *MedicineHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	agg, err := h.repo.Load(ctx, id)
	if err != nil {
		h.jsonError(w, "medicine order not found", http.StatusNotFound)
		return
	}

	order := agg.Order()
	resp := map[string]interface{}{
		"id":         agg.ID(),
		"patient_id": agg.PatientID(),
		"status":     agg.Status(),
		"version":    agg.Version(),
		"name":       order.Name,
		"dosage":     order.Dosage,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetSchedule handles GET /medicines/{id}/schedule.
// An optional "at" query parameter (RFC 3339) pins the reference time,
// which clients use to render past days consistently.
func (h *MedicineHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	sched, ok := h.expandOrder(ctx, w, r, id)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sched)
}

// GetCalendar handles GET /medicines/{id}/calendar
func (h *MedicineHandler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	sched, ok := h.expandOrder(ctx, w, r, id)
	if !ok {
		return
	}

	resp := map[string]interface{}{
		"medicine_id":    sched.MedicineID,
		"name":           sched.Name,
		"adherence_rate": sched.AdherenceRate,
		"days":           schedule.GroupByDay(sched),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetEvents handles GET /medicines/{id}/events
func (h *MedicineHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	events, err := h.repo.GetEvents(ctx, id)
	if err != nil {
		h.jsonError(w, "failed to get events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// AdherenceRequest is the request for recording an adherence entry
type AdherenceRequest struct {
	DoseID    string     `json:"dose_id"`
	Taken     bool       `json:"taken"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

// RecordAdherence handles POST /medicines/{id}/adherence
func (h *MedicineHandler) RecordAdherence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("medicine-handler")
	ctx, span := tracer.Start(ctx, "record_adherence")
	defer span.End()

	id := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("medicine_id", id))

	var req AdherenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DoseID == "" {
		h.jsonError(w, "dose_id is required", http.StatusBadRequest)
		return
	}

	at := time.Now().UTC()
	if req.Timestamp != nil {
		at = *req.Timestamp
	}

	agg, err := h.repo.Load(ctx, id)
	if err != nil {
		h.jsonError(w, "medicine order not found", http.StatusNotFound)
		return
	}

	sched, err := h.engine.Expand(agg.Order(), at)
	if err != nil {
		h.logger.Error("expansion failed", zap.String("id", id), zap.Error(err))
		h.jsonError(w, "failed to expand schedule", http.StatusInternalServerError)
		return
	}

	entry, err := schedule.RecordAdherence(sched, req.DoseID, req.Taken, at, req.Notes)
	if err != nil {
		h.writeRecordError(w, err)
		return
	}

	err = agg.RecordAdherence(&medicine.AdherenceRecordedData{
		EntryID:   entry.ID,
		DoseID:    req.DoseID,
		Taken:     entry.Taken,
		Timestamp: entry.Timestamp,
		Notes:     entry.Notes,
	})
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusConflict)
		return
	}

	if err := h.repo.Save(ctx, agg); err != nil {
		h.logger.Error("save failed", zap.Error(err))
		h.jsonError(w, "failed to save adherence entry", http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		if entry.Taken {
			h.metrics.AdherenceRecorded.WithLabelValues("true").Inc()
		} else {
			h.metrics.AdherenceRecorded.WithLabelValues("false").Inc()
		}
	}

	h.logger.Info("adherence recorded",
		zap.String("medicine_id", id),
		zap.String("entry_id", entry.ID),
		zap.Bool("taken", entry.Taken),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(entry)
}

// Discontinue handles POST /medicines/{id}/discontinue
// Complete handles POST /medicines/{id}/complete.
func (h *MedicineHandler) Complete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	agg, err := h.repo.Load(ctx, id)
	if err != nil {
		h.jsonError(w, "medicine order not found", http.StatusNotFound)
		return
	}

	if err := agg.Complete(); err != nil {
		h.jsonError(w, err.Error(), http.StatusConflict)
		return
	}

	if err := h.repo.Save(ctx, agg); err != nil {
		h.jsonError(w, "failed to save", http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.ActiveOrders.Dec()
	}

	resp := map[string]interface{}{
		"id":     agg.ID(),
		"status": agg.Status(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Discontinue handles POST /medicines/{id}/discontinue.
func (h *MedicineHandler) Discontinue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var body struct {
		Reason string `json:"reason"`
	}
	// Body is optional, a bare POST discontinues without a reason.
	_ = json.NewDecoder(r.Body).Decode(&body)

	agg, err := h.repo.Load(ctx, id)
	if err != nil {
		h.jsonError(w, "medicine order not found", http.StatusNotFound)
		return
	}

	if err := agg.Discontinue(body.Reason); err != nil {
		h.jsonError(w, err.Error(), http.StatusConflict)
		return
	}

	if err := h.repo.Save(ctx, agg); err != nil {
		h.jsonError(w, "failed to save", http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.ActiveOrders.Dec()
	}

	resp := map[string]interface{}{
		"id":     agg.ID(),
		"status": agg.Status(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ListPatientSchedules handles GET /patients/{patientID}/schedules.
// Failures on individual medicines do not fail the batch, each item
// reports its own error.
func (h *MedicineHandler) ListPatientSchedules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID := chi.URLParam(r, "patientID")

	now, ok := h.referenceTime(w, r)
	if !ok {
		return
	}

	aggs, err := h.repo.LoadByPatient(ctx, patientID)
	if err != nil {
		h.jsonError(w, "failed to load patient medicines", http.StatusInternalServerError)
		return
	}

	orders := make([]schedule.MedicineOrder, 0, len(aggs))
	for _, agg := range aggs {
		if agg.Status() != medicine.StatusActive {
			continue
		}
		orders = append(orders, agg.Order())
	}

	type scheduleItem struct {
		MedicineID string                     `json:"medicine_id"`
		Schedule   *schedule.MedicineSchedule `json:"schedule,omitempty"`
		Error      string                     `json:"error,omitempty"`
	}

	results := h.engine.ExpandAll(orders, now)
	items := make([]scheduleItem, 0, len(results))
	for _, res := range results {
		item := scheduleItem{MedicineID: orders[res.Index].ID}
		if res.Err != nil {
			item.Error = res.Err.Error()
			if h.metrics != nil {
				h.metrics.ExpansionFailed.Inc()
			}
		} else {
			item.Schedule = res.Schedule
			if h.metrics != nil {
				h.metrics.SchedulesExpanded.Inc()
				h.metrics.DosesGenerated.Add(float64(len(res.Schedule.Doses)))
			}
		}
		items = append(items, item)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"patient_id": patientID,
		"schedules":  items,
	})
}

// expandOrder loads and expands one order, writing the HTTP error itself
// when anything fails.
func (h *MedicineHandler) expandOrder(ctx context.Context, w http.ResponseWriter, r *http.Request, id string) (*schedule.MedicineSchedule, bool) {
	now, ok := h.referenceTime(w, r)
	if !ok {
		return nil, false
	}

	agg, err := h.repo.Load(ctx, id)
	if err != nil {
		h.jsonError(w, "medicine order not found", http.StatusNotFound)
		return nil, false
	}

	start := time.Now()
	sched, err := h.engine.Expand(agg.Order(), now)
	if err != nil {
		var invalid *schedule.InvalidMedicineError
		if errors.As(err, &invalid) {
			if h.metrics != nil {
				h.metrics.ExpansionFailed.Inc()
			}
			h.jsonError(w, err.Error(), http.StatusUnprocessableEntity)
			return nil, false
		}
		h.logger.Error("expansion failed", zap.String("id", id), zap.Error(err))
		h.jsonError(w, "failed to expand schedule", http.StatusInternalServerError)
		return nil, false
	}

	if h.metrics != nil {
		h.metrics.SchedulesExpanded.Inc()
		h.metrics.DosesGenerated.Add(float64(len(sched.Doses)))
		h.metrics.ExpansionDuration.Observe(time.Since(start).Seconds())
	}

	return sched, true
}

func (h *MedicineHandler) referenceTime(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	at := r.URL.Query().Get("at")
	if at == "" {
		return time.Now().UTC(), true
	}
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		h.jsonError(w, "invalid 'at' parameter, want RFC 3339", http.StatusBadRequest)
		return time.Time{}, false
	}
	return t, true
}

func (h *MedicineHandler) writeRecordError(w http.ResponseWriter, err error) {
	var notActive *schedule.NotActiveError
	switch {
	case errors.Is(err, schedule.ErrDoseNotFound):
		h.jsonError(w, "dose not found in schedule", http.StatusNotFound)
	case errors.As(err, &notActive):
		if h.metrics != nil {
			h.metrics.AdherenceRejected.Inc()
		}
		h.jsonError(w, err.Error(), http.StatusConflict)
	default:
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	}
}

func (h *MedicineHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
