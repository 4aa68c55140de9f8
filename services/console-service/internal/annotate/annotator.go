// Package annotate republishes derived appointment annotations once per second.
// Classification is pure and cheap, so every tick rebuilds the full snapshot
// unconditionally; readers always see an immutable map.
package annotate

import (
	"sync/atomic"
	"time"

	"github.com/studio-ops/console/libs/timerx"
	"github.com/studio-ops/console/services/console-service/internal/derive"
	"github.com/studio-ops/console/services/console-service/internal/store"
)

type Annotator struct {
	store    *store.Store
	loc      *time.Location
	now      func() time.Time
	snapshot atomic.Pointer[map[string]derive.Annotation]
}

func New(st *store.Store, loc *time.Location) *Annotator {
	a := &Annotator{
		store: st,
		loc:   loc,
		now:   time.Now,
	}
	empty := map[string]derive.Annotation{}
	a.snapshot.Store(&empty)
	return a
}

// Start begins the one-second tick. The returned stop handle cancels it; the
// owning process must call it on teardown so no tick outlives its consumer.
func (a *Annotator) Start() (stop func()) {
	return timerx.Repeat(time.Second, true, a.Refresh)
}

// Refresh recomputes every appointment's annotation from the current store
// state and wall clock. Also invoked by the store change hook so an applied
// feed event is reflected without waiting for the next tick.
func (a *Annotator) Refresh() {
	now := a.now().In(a.loc)
	appointments := a.store.Appointments.All()

	next := make(map[string]derive.Annotation, len(appointments))
	for _, appt := range appointments {
		duration := 0
		if svc, ok := a.store.Services.Get(appt.ServiceID); ok {
			duration = svc.DurationMinutes
		}
		next[appt.ID] = derive.Classify(appt, duration, now)
	}
	a.snapshot.Store(&next)
}

// Annotation returns the latest computed annotation for an appointment id.
func (a *Annotator) Annotation(appointmentID string) derive.Annotation {
	snap := *a.snapshot.Load()
	if ann, ok := snap[appointmentID]; ok {
		return ann
	}
	return derive.Annotation{Kind: derive.KindNone}
}
