package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/studio-ops/console/services/console-service/internal/annotate"
	"github.com/studio-ops/console/services/console-service/internal/deactivate"
	"github.com/studio-ops/console/services/console-service/internal/model"
	"github.com/studio-ops/console/services/console-service/internal/store"
)

type stubBackend struct{}

func (stubBackend) LoadMembers(context.Context) ([]model.Member, error)           { return nil, nil }
func (stubBackend) LoadServices(context.Context) ([]model.Service, error)         { return nil, nil }
func (stubBackend) LoadAppointments(context.Context) ([]model.Appointment, error) { return nil, nil }
func (stubBackend) DeactivateMember(context.Context, string) (bool, error)        { return false, nil }

func newTestHandler(t *testing.T) (*ConsoleHandler, *store.Store, *deactivate.Scheduler) {
	t.Helper()
	st := store.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	annotator := annotate.New(st, time.UTC)
	scheduler := deactivate.NewScheduler(stubBackend{}, stubBackend{}, logger)
	t.Cleanup(scheduler.Stop)
	return NewConsoleHandler(st, annotator, scheduler, logger, time.UTC), st, scheduler
}

func TestAppointments_FilterAndAnnotations(t *testing.T) {
	h, st, _ := newTestHandler(t)
	st.Members.Upsert(model.Member{ID: "m1", Name: "Ada", Active: true})
	st.Services.Upsert(model.Service{ID: "s1", Name: "Yoga", DurationMinutes: 60, SessionCount: 10})
	st.Appointments.Load([]model.Appointment{
		{ID: "a1", MemberID: "m1", TrainerID: "t1", ServiceID: "s1", Date: "2026-09-01", TimeOfDay: "10:00", Status: model.StatusScheduled},
		{ID: "a2", MemberID: "m1", TrainerID: "t2", ServiceID: "s1", Date: "2026-09-01", TimeOfDay: "11:00", Status: model.StatusCompleted},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments?trainer_id=t1", nil)
	rw := httptest.NewRecorder()
	h.Appointments(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	var resp struct {
		Stale        bool `json:"stale"`
		Appointments []struct {
			ID         string `json:"id"`
			Annotation struct {
				Kind string `json:"kind"`
			} `json:"annotation"`
		} `json:"appointments"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Appointments) != 1 || resp.Appointments[0].ID != "a1" {
		t.Fatalf("trainer filter failed: %+v", resp.Appointments)
	}
	if resp.Appointments[0].Annotation.Kind != "none" {
		t.Fatalf("expected default annotation none, got %s", resp.Appointments[0].Annotation.Kind)
	}
}

func TestAppointments_RejectsBadParams(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments?status=parked", nil)
	rw := httptest.NewRecorder()
	h.Appointments(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("bad status: expected 400, got %d", rw.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/appointments?from=tomorrow", nil)
	rw = httptest.NewRecorder()
	h.Appointments(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("bad from: expected 400, got %d", rw.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil)
	rw = httptest.NewRecorder()
	h.Appointments(rw, req)
	if rw.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rw.Code)
	}
}

func TestGrouped(t *testing.T) {
	h, st, _ := newTestHandler(t)
	st.Appointments.Load([]model.Appointment{
		{ID: "a1", Status: model.StatusScheduled, Date: "2026-09-01", TimeOfDay: "10:00"},
		{ID: "a2", Status: model.StatusCancelled, Date: "2026-09-01", TimeOfDay: "11:00"},
	})

	rw := httptest.NewRecorder()
	h.Grouped(rw, httptest.NewRequest(http.MethodGet, "/api/v1/appointments/grouped", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	var resp struct {
		Groups map[string][]model.Appointment `json:"groups"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Groups["scheduled"]) != 1 || len(resp.Groups["cancelled"]) != 1 {
		t.Fatalf("unexpected grouping: %v", resp.Groups)
	}
}

func TestSchedulerLifecycleEndpoints(t *testing.T) {
	h, _, scheduler := newTestHandler(t)

	start := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/scheduler/start", strings.NewReader(body))
		rw := httptest.NewRecorder()
		h.StartScheduler(rw, req)
		return rw
	}

	if rw := start(`{"period_minutes": 60}`); rw.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d (%s)", rw.Code, rw.Body.String())
	}
	if !scheduler.Running() {
		t.Fatal("scheduler should be running")
	}

	if rw := start(`{"period_minutes": 60}`); rw.Code != http.StatusConflict {
		t.Fatalf("double start: expected 409, got %d", rw.Code)
	}

	if rw := start(`{"period_minutes": -1}`); rw.Code != http.StatusBadRequest {
		t.Fatalf("negative period: expected 400, got %d", rw.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scheduler/stop", nil)
	rw := httptest.NewRecorder()
	h.StopScheduler(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", rw.Code)
	}
	if scheduler.Running() {
		t.Fatal("scheduler should be stopped")
	}

	// Empty body starts with the default period.
	if rw := start(""); rw.Code != http.StatusOK {
		t.Fatalf("restart with default period: expected 200, got %d", rw.Code)
	}
}

func TestLatestDeactivations_NotFoundBeforeFirstScan(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rw := httptest.NewRecorder()
	h.LatestDeactivations(rw, httptest.NewRequest(http.MethodGet, "/api/v1/deactivations/latest", nil))
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rw.Code)
	}
}
