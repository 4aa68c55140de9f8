// Package remote adapts the remote store contract (full-collection loads and
// the single-field member update) onto Postgres. The console owns no durable
// state of its own; everything here reads or writes the remote store's tables.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/studio-ops/console/libs/db"
	"github.com/studio-ops/console/services/console-service/internal/model"
	"github.com/studio-ops/console/services/console-service/internal/outbox"
)

// memberUpdatedEventType marks deactivation write-backs on the change feed.
const memberUpdatedEventType = "console.member.updated.v1"

type Repository struct {
	pool       *db.Pool
	outboxRepo *outbox.Repository
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository) *Repository {
	return &Repository{pool: pool, outboxRepo: outboxRepo}
}

func (r *Repository) LoadMembers(ctx context.Context) ([]model.Member, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, COALESCE(service_ids, '{}'), active, joined_at
		FROM members
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.ID, &m.Name, &m.ServiceIDs, &m.Active, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *Repository) LoadTrainers(ctx context.Context) ([]model.Trainer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, COALESCE(specialty, ''), active, hired_at
		FROM trainers
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trainers []model.Trainer
	for rows.Next() {
		var t model.Trainer
		if err := rows.Scan(&t.ID, &t.Name, &t.Specialty, &t.Active, &t.HiredAt); err != nil {
			return nil, err
		}
		trainers = append(trainers, t)
	}
	return trainers, rows.Err()
}

func (r *Repository) LoadServices(ctx context.Context) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, price, duration_minutes, session_count, vip_only, active
		FROM services
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []model.Service
	for rows.Next() {
		var s model.Service
		if err := rows.Scan(&s.ID, &s.Name, &s.Price, &s.DurationMinutes, &s.SessionCount, &s.VIPOnly, &s.Active); err != nil {
			return nil, err
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

func (r *Repository) LoadAppointments(ctx context.Context) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, member_id, trainer_id, service_id, date, time_of_day, status, COALESCE(note, ''), created_at
		FROM appointments
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appointments []model.Appointment
	for rows.Next() {
		var a model.Appointment
		if err := rows.Scan(&a.ID, &a.MemberID, &a.TrainerID, &a.ServiceID, &a.Date, &a.TimeOfDay, &a.Status, &a.Note, &a.CreatedAt); err != nil {
			return nil, err
		}
		appointments = append(appointments, a)
	}
	return appointments, rows.Err()
}

// DeactivateMember flips active to false and enqueues the updated snapshot on
// the outbox in the same transaction, so the change re-enters the console
// through the reconciler like any other remote write. Returns false without
// writing when the member is already inactive or unknown.
func (r *Repository) DeactivateMember(ctx context.Context, memberID string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var m model.Member
	err = tx.QueryRow(ctx, `
		UPDATE members
		SET active = false, updated_at = now()
		WHERE id = $1 AND active
		RETURNING id, name, COALESCE(service_ids, '{}'), active, joined_at
	`, memberID).Scan(&m.ID, &m.Name, &m.ServiceIDs, &m.Active, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	payload, err := changeEventPayload(model.OpUpdate, model.EntityMember, m)
	if err != nil {
		return false, err
	}
	if err := r.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: string(model.EntityMember),
		AggregateID:   m.ID,
		EventType:     memberUpdatedEventType,
		Payload:       payload,
	}); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

func changeEventPayload(op model.Op, entityType model.EntityType, entity any) ([]byte, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("marshal %s snapshot: %w", entityType, err)
	}
	return json.Marshal(map[string]any{
		"op":          op,
		"entity_type": entityType,
		"entity":      json.RawMessage(raw),
	})
}
