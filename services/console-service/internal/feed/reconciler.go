// Package feed keeps the in-memory store consistent with the remote store's
// push-based change feed. Events are applied strictly in delivery order; each
// carries a full entity snapshot, so duplicate delivery is naturally idempotent.
// A delete followed by a stale update for the same id resurrects the entity,
// a known limitation of trusting feed order, documented in the tests.
package feed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/studio-ops/console/services/console-service/internal/model"
	"github.com/studio-ops/console/services/console-service/internal/store"
)

// Loader is the slice of the remote store contract the reconciler needs to
// resynchronize after the subscription drops (missed events cannot be replayed).
type Loader interface {
	LoadMembers(ctx context.Context) ([]model.Member, error)
	LoadTrainers(ctx context.Context) ([]model.Trainer, error)
	LoadServices(ctx context.Context) ([]model.Service, error)
	LoadAppointments(ctx context.Context) ([]model.Appointment, error)
}

type Reconciler struct {
	store  *store.Store
	loader Loader
	logger *slog.Logger
}

func NewReconciler(st *store.Store, loader Loader, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: st, loader: loader, logger: logger}
}

// Apply translates one change event into store mutations. Malformed payloads
// return ErrMalformedEvent and leave the store untouched; the caller drops them.
func (r *Reconciler) Apply(ev ChangeEvent) error {
	id, err := ev.entityID()
	if err != nil {
		return err
	}

	if ev.Op == model.OpDelete {
		r.applyDelete(ev.EntityType, id)
		r.store.MarkChanged()
		return nil
	}

	if err := r.applyUpsert(ev); err != nil {
		return err
	}
	r.store.MarkChanged()
	return nil
}

func (r *Reconciler) applyDelete(t model.EntityType, id string) {
	switch t {
	case model.EntityAppointment:
		r.store.Appointments.Delete(id)
	case model.EntityMember:
		r.store.Members.Delete(id)
	case model.EntityService:
		r.store.Services.Delete(id)
	case model.EntityTrainer:
		r.store.Trainers.Delete(id)
	}
}

func (r *Reconciler) applyUpsert(ev ChangeEvent) error {
	switch ev.EntityType {
	case model.EntityAppointment:
		var a model.Appointment
		if err := decodeEntity(ev.Entity, &a); err != nil {
			return err
		}
		if !a.Status.Valid() {
			return fmt.Errorf("%w: bad appointment status %q", ErrMalformedEvent, a.Status)
		}
		r.store.Appointments.Upsert(a)
	case model.EntityMember:
		var m model.Member
		if err := decodeEntity(ev.Entity, &m); err != nil {
			return err
		}
		r.store.Members.Upsert(m)
	case model.EntityService:
		var s model.Service
		if err := decodeEntity(ev.Entity, &s); err != nil {
			return err
		}
		r.store.Services.Upsert(s)
	case model.EntityTrainer:
		var t model.Trainer
		if err := decodeEntity(ev.Entity, &t); err != nil {
			return err
		}
		r.store.Trainers.Upsert(t)
	}
	return nil
}

// Resync replaces every collection from a full remote load. The store stays
// flagged stale (and keeps serving last-known-good data) until the load lands.
func (r *Reconciler) Resync(ctx context.Context) error {
	r.store.SetStale(true)

	members, err := r.loader.LoadMembers(ctx)
	if err != nil {
		return fmt.Errorf("load members: %w", err)
	}
	trainers, err := r.loader.LoadTrainers(ctx)
	if err != nil {
		return fmt.Errorf("load trainers: %w", err)
	}
	services, err := r.loader.LoadServices(ctx)
	if err != nil {
		return fmt.Errorf("load services: %w", err)
	}
	appointments, err := r.loader.LoadAppointments(ctx)
	if err != nil {
		return fmt.Errorf("load appointments: %w", err)
	}

	r.store.Members.Load(members)
	r.store.Trainers.Load(trainers)
	r.store.Services.Load(services)
	r.store.Appointments.Load(appointments)
	r.store.SetStale(false)
	r.store.MarkChanged()

	r.logger.Info("store resynchronized",
		"members", len(members),
		"trainers", len(trainers),
		"services", len(services),
		"appointments", len(appointments),
	)
	return nil
}
