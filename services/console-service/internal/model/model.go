package model

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an appointment. completed and cancelled are
// terminal: the sync engine never moves an appointment out of either state.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further automated transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Appointment references member, trainer and service by id rather than embedding
// them. Date and TimeOfDay are kept as the remote store delivers them ("2006-01-02"
// and "15:04" local wall clock) and combined on demand.
type Appointment struct {
	ID        string    `json:"id"`
	MemberID  string    `json:"member_id"`
	TrainerID string    `json:"trainer_id"`
	ServiceID string    `json:"service_id"`
	Date      string    `json:"date"`
	TimeOfDay string    `json:"time"`
	Status    Status    `json:"status"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StartsAt combines the calendar date and time-of-day into an instant in loc.
func (a Appointment) StartsAt(loc *time.Location) (time.Time, error) {
	return CombineDateTime(a.Date, a.TimeOfDay, loc)
}

func CombineDateTime(date, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("combine %q %q: %w", date, clock, err)
	}
	return t, nil
}

// Member's ServiceIDs may contain duplicates: each occurrence is a separate
// purchase of that package with its own session entitlement.
type Member struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ServiceIDs []string  `json:"service_ids"`
	Active     bool      `json:"active"`
	JoinedAt   time.Time `json:"joined_at"`
}

// Service is a purchasable package. SessionCount is the number of sessions a
// single purchase entitles the member to.
type Service struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Price           float64 `json:"price"`
	DurationMinutes int     `json:"duration_minutes"`
	SessionCount    int     `json:"session_count"`
	VIPOnly         bool    `json:"vip_only"`
	Active          bool    `json:"active"`
}

type Trainer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Specialty string    `json:"specialty,omitempty"`
	Active    bool      `json:"active"`
	HiredAt   time.Time `json:"hired_at"`
}

// EntityType names a synchronized collection on the change feed.
type EntityType string

const (
	EntityAppointment EntityType = "appointment"
	EntityMember      EntityType = "member"
	EntityService     EntityType = "service"
	EntityTrainer     EntityType = "trainer"
)

func (t EntityType) Valid() bool {
	switch t {
	case EntityAppointment, EntityMember, EntityService, EntityTrainer:
		return true
	}
	return false
}

// Op is the kind of change carried by a feed event.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

func (o Op) Valid() bool {
	return o == OpInsert || o == OpUpdate || o == OpDelete
}
