// Package derive computes the wall-clock-relative annotation shown next to an
// appointment on the dashboard. Classification is a pure function of the
// appointment, its service duration and "now"; nothing here is persisted.
package derive

import (
	"time"

	"github.com/studio-ops/console/services/console-service/internal/model"
)

type Kind string

const (
	KindNone     Kind = "none"
	KindUpcoming Kind = "upcoming"
	KindRunning  Kind = "running"
)

// upcomingWindowMinutes is how far ahead an appointment still counts as upcoming.
const upcomingWindowMinutes = 30

type Annotation struct {
	Kind              Kind `json:"kind"`
	MinutesUntilStart int  `json:"minutes_until_start,omitempty"`
	MinutesElapsed    int  `json:"minutes_elapsed,omitempty"`
	MinutesRemaining  int  `json:"minutes_remaining,omitempty"`
	Overtime          bool `json:"overtime,omitempty"`
}

var none = Annotation{Kind: KindNone}

// Classify annotates appt relative to now. The running branch is evaluated before
// the upcoming one, so an appointment already in progress never reports upcoming
// even when its recorded start lies in the future. A negative elapsed time on an
// in-progress appointment is treated as clock skew and yields no annotation.
func Classify(appt model.Appointment, durationMinutes int, now time.Time) Annotation {
	startsAt, err := appt.StartsAt(now.Location())
	if err != nil {
		return none
	}

	if appt.Status == model.StatusInProgress {
		elapsed := wholeMinutes(now.Sub(startsAt))
		if elapsed < 0 {
			return none
		}
		remaining := durationMinutes - elapsed
		if remaining < 0 {
			remaining = 0
		}
		return Annotation{
			Kind:             KindRunning,
			MinutesElapsed:   elapsed,
			MinutesRemaining: remaining,
			Overtime:         elapsed > durationMinutes,
		}
	}

	delta := wholeMinutes(startsAt.Sub(now))
	if delta >= 0 && delta <= upcomingWindowMinutes {
		return Annotation{Kind: KindUpcoming, MinutesUntilStart: delta}
	}
	return none
}

// wholeMinutes floors toward negative infinity so that -30s becomes -1, keeping
// the skew guard strict.
func wholeMinutes(d time.Duration) int {
	m := int(d / time.Minute)
	if d < 0 && d%time.Minute != 0 {
		m--
	}
	return m
}
