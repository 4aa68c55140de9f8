package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/studio-ops/console/services/console-service/internal/model"
	"github.com/studio-ops/console/services/console-service/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLoader struct {
	members      []model.Member
	trainers     []model.Trainer
	services     []model.Service
	appointments []model.Appointment
	err          error
}

func (f *fakeLoader) LoadMembers(context.Context) ([]model.Member, error) {
	return f.members, f.err
}
func (f *fakeLoader) LoadTrainers(context.Context) ([]model.Trainer, error) {
	return f.trainers, f.err
}
func (f *fakeLoader) LoadServices(context.Context) ([]model.Service, error) {
	return f.services, f.err
}
func (f *fakeLoader) LoadAppointments(context.Context) ([]model.Appointment, error) {
	return f.appointments, f.err
}

func mustEvent(t *testing.T, op model.Op, entityType model.EntityType, entity any) ChangeEvent {
	t.Helper()
	raw, err := json.Marshal(entity)
	if err != nil {
		t.Fatalf("marshal entity: %v", err)
	}
	return ChangeEvent{Op: op, EntityType: entityType, Entity: raw}
}

func TestApply_DuplicateDeliveryIsIdempotent(t *testing.T) {
	st := store.New()
	r := NewReconciler(st, &fakeLoader{}, discardLogger())

	ev := mustEvent(t, model.OpInsert, model.EntityAppointment, model.Appointment{
		ID: "a1", MemberID: "m1", ServiceID: "s1",
		Date: "2026-09-01", TimeOfDay: "10:00", Status: model.StatusScheduled,
	})
	if err := r.Apply(ev); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := r.Apply(ev); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	if st.Appointments.Len() != 1 {
		t.Fatalf("expected exactly one appointment, got %d", st.Appointments.Len())
	}
	got, _ := st.Appointments.Get("a1")
	if got.Status != model.StatusScheduled || got.TimeOfDay != "10:00" {
		t.Fatalf("unexpected stored state: %+v", got)
	}
}

func TestApply_FeedOrderWins(t *testing.T) {
	v1 := model.Appointment{ID: "a1", MemberID: "m1", ServiceID: "s1", Date: "2026-09-01", TimeOfDay: "10:00", Status: model.StatusScheduled, Note: "v1"}
	v2 := v1
	v2.Status = model.StatusInProgress
	v2.Note = "v2"

	// In-order delivery: final state is v2.
	st := store.New()
	r := NewReconciler(st, &fakeLoader{}, discardLogger())
	if err := r.Apply(mustEvent(t, model.OpUpdate, model.EntityAppointment, v1)); err != nil {
		t.Fatalf("apply v1: %v", err)
	}
	if err := r.Apply(mustEvent(t, model.OpUpdate, model.EntityAppointment, v2)); err != nil {
		t.Fatalf("apply v2: %v", err)
	}
	if got, _ := st.Appointments.Get("a1"); got.Note != "v2" {
		t.Fatalf("expected v2, got %+v", got)
	}

	// Out-of-order delivery: the later-delivered v1 wins. This is the accepted
	// trust-the-feed limitation, not value recency.
	st2 := store.New()
	r2 := NewReconciler(st2, &fakeLoader{}, discardLogger())
	if err := r2.Apply(mustEvent(t, model.OpUpdate, model.EntityAppointment, v2)); err != nil {
		t.Fatalf("apply v2: %v", err)
	}
	if err := r2.Apply(mustEvent(t, model.OpUpdate, model.EntityAppointment, v1)); err != nil {
		t.Fatalf("apply v1: %v", err)
	}
	if got, _ := st2.Appointments.Get("a1"); got.Note != "v1" {
		t.Fatalf("expected v1 (delivery order wins), got %+v", got)
	}
}

func TestApply_DeleteThenStaleUpdateResurrects(t *testing.T) {
	// Documented limitation: a stale update after a delete brings the entity back.
	st := store.New()
	r := NewReconciler(st, &fakeLoader{}, discardLogger())

	appt := model.Appointment{ID: "a1", MemberID: "m1", ServiceID: "s1", Date: "2026-09-01", TimeOfDay: "10:00", Status: model.StatusScheduled}
	if err := r.Apply(mustEvent(t, model.OpInsert, model.EntityAppointment, appt)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := r.Apply(mustEvent(t, model.OpDelete, model.EntityAppointment, map[string]string{"id": "a1"})); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if st.Appointments.Len() != 0 {
		t.Fatal("expected delete to remove a1")
	}
	if err := r.Apply(mustEvent(t, model.OpUpdate, model.EntityAppointment, appt)); err != nil {
		t.Fatalf("stale update: %v", err)
	}
	if st.Appointments.Len() != 1 {
		t.Fatal("stale update after delete is expected to resurrect the entity")
	}
}

func TestApply_MalformedEventLeavesStoreUnchanged(t *testing.T) {
	st := store.New()
	r := NewReconciler(st, &fakeLoader{}, discardLogger())

	cases := []ChangeEvent{
		mustEvent(t, model.OpInsert, model.EntityAppointment, map[string]string{"note": "no id"}),
		mustEvent(t, model.OpInsert, model.EntityAppointment, map[string]string{"id": "a9", "status": "exploded"}),
	}
	for _, ev := range cases {
		if err := r.Apply(ev); !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("expected ErrMalformedEvent, got %v", err)
		}
	}
	if st.Appointments.Len() != 0 {
		t.Fatalf("malformed events must not touch the store, got %d appointments", st.Appointments.Len())
	}
}

func TestParseChangeEvent_Validation(t *testing.T) {
	if _, err := ParseChangeEvent([]byte(`{`)); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("bad json: expected ErrMalformedEvent, got %v", err)
	}
	if _, err := ParseChangeEvent([]byte(`{"op":"upsert","entity_type":"member","entity":{"id":"m1"}}`)); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("bad op: expected ErrMalformedEvent, got %v", err)
	}
	if _, err := ParseChangeEvent([]byte(`{"op":"insert","entity_type":"robot","entity":{"id":"r1"}}`)); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("bad type: expected ErrMalformedEvent, got %v", err)
	}
	if _, err := ParseChangeEvent([]byte(`{"op":"insert","entity_type":"member"}`)); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("missing entity: expected ErrMalformedEvent, got %v", err)
	}
	if _, err := ParseChangeEvent([]byte(`{"op":"delete","entity_type":"member","entity":{"id":"m1"}}`)); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}
}

func TestResync_ReplacesCollectionsAndClearsStale(t *testing.T) {
	st := store.New()
	st.Appointments.Upsert(model.Appointment{ID: "gone", Status: model.StatusScheduled})
	st.SetStale(true)

	loader := &fakeLoader{
		members:      []model.Member{{ID: "m1", Name: "Ada", Active: true}},
		services:     []model.Service{{ID: "s1", Name: "Yoga", SessionCount: 10}},
		appointments: []model.Appointment{{ID: "a1", MemberID: "m1", ServiceID: "s1", Date: "2026-09-01", TimeOfDay: "10:00", Status: model.StatusScheduled}},
	}
	r := NewReconciler(st, loader, discardLogger())
	if err := r.Resync(context.Background()); err != nil {
		t.Fatalf("resync: %v", err)
	}

	if st.Stale() {
		t.Fatal("resync must clear the stale flag")
	}
	if _, ok := st.Appointments.Get("gone"); ok {
		t.Fatal("resync must replace collections, stale row survived")
	}
	if _, ok := st.Appointments.Get("a1"); !ok {
		t.Fatal("resynced appointment missing")
	}
}

func TestResync_FailureKeepsLastKnownGoodState(t *testing.T) {
	st := store.New()
	st.Members.Upsert(model.Member{ID: "m1", Name: "Ada", Active: true})

	loader := &fakeLoader{err: errors.New("backend down")}
	r := NewReconciler(st, loader, discardLogger())
	if err := r.Resync(context.Background()); err == nil {
		t.Fatal("expected resync error")
	}

	if !st.Stale() {
		t.Fatal("store should stay flagged stale after a failed resync")
	}
	if st.Members.Len() != 1 {
		t.Fatal("failed resync must not clear the store")
	}
}
