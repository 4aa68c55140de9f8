// Package views derives the grouped, filtered and prioritized appointment
// listings the dashboards render. Everything is recomputed from current store
// contents plus the supplied parameters; there is no hidden state.
package views

import (
	"sort"
	"strings"
	"time"

	"github.com/studio-ops/console/services/console-service/internal/model"
	"github.com/studio-ops/console/services/console-service/internal/store"
)

// Filter narrows the appointment listing. Zero values mean "no constraint".
// Query matches case-insensitively against the note and the member's name.
type Filter struct {
	Status    model.Status
	TrainerID string
	Query     string
	From      time.Time
	To        time.Time
}

// GroupByStatus partitions appointments by lifecycle state.
func GroupByStatus(appointments []model.Appointment) map[model.Status][]model.Appointment {
	groups := map[model.Status][]model.Appointment{}
	for _, a := range appointments {
		groups[a.Status] = append(groups[a.Status], a)
	}
	return groups
}

// FilterAppointments returns the subset of the store's appointments matching f,
// ordered by start time ascending (unparsable starts sort last, by id).
func FilterAppointments(st *store.Store, f Filter, loc *time.Location) []model.Appointment {
	query := strings.ToLower(strings.TrimSpace(f.Query))

	var out []model.Appointment
	for _, a := range st.Appointments.All() {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.TrainerID != "" && a.TrainerID != f.TrainerID {
			continue
		}
		if !f.From.IsZero() || !f.To.IsZero() {
			startsAt, err := a.StartsAt(loc)
			if err != nil {
				continue
			}
			if !f.From.IsZero() && startsAt.Before(f.From) {
				continue
			}
			if !f.To.IsZero() && !startsAt.Before(f.To) {
				continue
			}
		}
		if query != "" && !matchesQuery(st, a, query) {
			continue
		}
		out = append(out, a)
	}

	sortByStart(out, loc)
	return out
}

// RelevantUpcoming orders appointments for the live dashboard: in-progress
// first, then scheduled, then the terminal ones, each block by start ascending.
func RelevantUpcoming(appointments []model.Appointment, loc *time.Location) []model.Appointment {
	out := make([]model.Appointment, len(appointments))
	copy(out, appointments)

	rank := func(s model.Status) int {
		switch s {
		case model.StatusInProgress:
			return 0
		case model.StatusScheduled:
			return 1
		default:
			return 2
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i].Status), rank(out[j].Status)
		if ri != rj {
			return ri < rj
		}
		return startLess(out[i], out[j], loc)
	})
	return out
}

func matchesQuery(st *store.Store, a model.Appointment, query string) bool {
	if strings.Contains(strings.ToLower(a.Note), query) {
		return true
	}
	if member, ok := st.Members.Get(a.MemberID); ok {
		return strings.Contains(strings.ToLower(member.Name), query)
	}
	return false
}

func sortByStart(appointments []model.Appointment, loc *time.Location) {
	sort.SliceStable(appointments, func(i, j int) bool {
		return startLess(appointments[i], appointments[j], loc)
	})
}

func startLess(a, b model.Appointment, loc *time.Location) bool {
	sa, errA := a.StartsAt(loc)
	sb, errB := b.StartsAt(loc)
	if errA != nil || errB != nil {
		if errA == nil {
			return true
		}
		if errB == nil {
			return false
		}
		return a.ID < b.ID
	}
	if sa.Equal(sb) {
		return a.ID < b.ID
	}
	return sa.Before(sb)
}
