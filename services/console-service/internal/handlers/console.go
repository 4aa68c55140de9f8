package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/studio-ops/console/services/console-service/internal/annotate"
	"github.com/studio-ops/console/services/console-service/internal/deactivate"
	"github.com/studio-ops/console/services/console-service/internal/derive"
	"github.com/studio-ops/console/services/console-service/internal/model"
	"github.com/studio-ops/console/services/console-service/internal/store"
	"github.com/studio-ops/console/services/console-service/internal/views"
)

// ConsoleHandler serves the read-only dashboard API plus the deactivation
// scheduler's lifecycle controls. All listing responses are snapshots computed
// on demand from the entity store.
type ConsoleHandler struct {
	store     *store.Store
	annotator *annotate.Annotator
	scheduler *deactivate.Scheduler
	logger    *slog.Logger
	loc       *time.Location
}

func NewConsoleHandler(st *store.Store, annotator *annotate.Annotator, scheduler *deactivate.Scheduler, logger *slog.Logger, loc *time.Location) *ConsoleHandler {
	return &ConsoleHandler{
		store:     st,
		annotator: annotator,
		scheduler: scheduler,
		logger:    logger,
		loc:       loc,
	}
}

type appointmentItem struct {
	model.Appointment
	Annotation derive.Annotation `json:"annotation"`
}

type listAppointmentsResponse struct {
	Stale        bool              `json:"stale"`
	Appointments []appointmentItem `json:"appointments"`
}

type groupedResponse struct {
	Stale  bool                                 `json:"stale"`
	Groups map[model.Status][]model.Appointment `json:"groups"`
}

type startSchedulerRequest struct {
	PeriodMinutes int `json:"period_minutes"`
}

type schedulerStatusResponse struct {
	Running bool `json:"running"`
}

func (h *ConsoleHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	f := views.Filter{
		TrainerID: strings.TrimSpace(r.URL.Query().Get("trainer_id")),
		Query:     r.URL.Query().Get("q"),
	}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		if !model.Status(status).Valid() {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		f.Status = model.Status(status)
	}
	var err error
	if f.From, err = parseDayParam(r.URL.Query().Get("from"), h.loc, false); err != nil {
		http.Error(w, "invalid from date", http.StatusBadRequest)
		return
	}
	if f.To, err = parseDayParam(r.URL.Query().Get("to"), h.loc, true); err != nil {
		http.Error(w, "invalid to date", http.StatusBadRequest)
		return
	}

	matched := views.FilterAppointments(h.store, f, h.loc)
	writeJSON(w, http.StatusOK, listAppointmentsResponse{
		Stale:        h.store.Stale(),
		Appointments: h.annotated(matched),
	})
}

func (h *ConsoleHandler) Grouped(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, groupedResponse{
		Stale:  h.store.Stale(),
		Groups: views.GroupByStatus(h.store.Appointments.All()),
	})
}

func (h *ConsoleHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ordered := views.RelevantUpcoming(h.store.Appointments.All(), h.loc)
	writeJSON(w, http.StatusOK, listAppointmentsResponse{
		Stale:        h.store.Stale(),
		Appointments: h.annotated(ordered),
	})
}

func (h *ConsoleHandler) Members(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.store.Members.All())
}

func (h *ConsoleHandler) Trainers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.store.Trainers.All())
}

func (h *ConsoleHandler) Services(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.store.Services.All())
}

func (h *ConsoleHandler) LatestDeactivations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	report, ok := h.scheduler.LastReport()
	if !ok {
		http.Error(w, "no scan has completed yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *ConsoleHandler) StartScheduler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startSchedulerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.PeriodMinutes < 0 {
		http.Error(w, "period_minutes must not be negative", http.StatusBadRequest)
		return
	}

	period := time.Duration(req.PeriodMinutes) * time.Minute
	if err := h.scheduler.Start(r.Context(), period); err != nil {
		if errors.Is(err, deactivate.ErrAlreadyRunning) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.logger.Error("scheduler start failed", "err", err)
		http.Error(w, "failed to start scheduler", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, schedulerStatusResponse{Running: true})
}

func (h *ConsoleHandler) StopScheduler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.scheduler.Stop()
	writeJSON(w, http.StatusOK, schedulerStatusResponse{Running: false})
}

func (h *ConsoleHandler) annotated(appointments []model.Appointment) []appointmentItem {
	items := make([]appointmentItem, 0, len(appointments))
	for _, a := range appointments {
		items = append(items, appointmentItem{
			Appointment: a,
			Annotation:  h.annotator.Annotation(a.ID),
		})
	}
	return items
}

// parseDayParam accepts a YYYY-MM-DD day; endOfDay makes the bound exclusive at
// the following midnight so "to" includes the whole named day.
func parseDayParam(raw string, loc *time.Location, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	day, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return day.AddDate(0, 0, 1), nil
	}
	return day, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
