package derive

import (
	"testing"
	"time"

	"github.com/studio-ops/console/services/console-service/internal/model"
)

func appt(status model.Status, date, clock string) model.Appointment {
	return model.Appointment{
		ID:        "a1",
		MemberID:  "m1",
		ServiceID: "s1",
		Date:      date,
		TimeOfDay: clock,
		Status:    status,
	}
}

func TestClassify_RunningBeatsUpcoming(t *testing.T) {
	// Start recorded 2 minutes in the future but status already in-progress:
	// the running branch wins over a stale upcoming countdown.
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	ann := Classify(appt(model.StatusInProgress, "2026-09-01", "10:02"), 60, now)
	if ann.Kind != KindNone {
		// elapsed is negative here, so the skew guard applies first.
		t.Fatalf("expected none via skew guard, got %s", ann.Kind)
	}

	// Same-tick transition: start equals now, status in-progress.
	ann = Classify(appt(model.StatusInProgress, "2026-09-01", "10:00"), 60, now)
	if ann.Kind != KindRunning {
		t.Fatalf("expected running, got %s", ann.Kind)
	}
	if ann.MinutesElapsed != 0 || ann.MinutesRemaining != 60 || ann.Overtime {
		t.Fatalf("unexpected annotation: %+v", ann)
	}
}

func TestClassify_RunningElapsedAndOvertime(t *testing.T) {
	now := time.Date(2026, 9, 1, 11, 15, 0, 0, time.UTC)
	a := appt(model.StatusInProgress, "2026-09-01", "10:00")

	ann := Classify(a, 60, now)
	if ann.Kind != KindRunning {
		t.Fatalf("expected running, got %s", ann.Kind)
	}
	if ann.MinutesElapsed != 75 {
		t.Fatalf("expected elapsed 75, got %d", ann.MinutesElapsed)
	}
	if ann.MinutesRemaining != 0 {
		t.Fatalf("remaining clamps at 0, got %d", ann.MinutesRemaining)
	}
	if !ann.Overtime {
		t.Fatal("expected overtime")
	}

	// Exactly at duration: no overtime yet.
	ann = Classify(a, 75, now)
	if ann.Overtime {
		t.Fatal("elapsed == duration should not be overtime")
	}
	if ann.MinutesRemaining != 0 {
		t.Fatalf("expected remaining 0, got %d", ann.MinutesRemaining)
	}
}

func TestClassify_ClockSkewGuard(t *testing.T) {
	now := time.Date(2026, 9, 1, 9, 59, 30, 0, time.UTC)
	ann := Classify(appt(model.StatusInProgress, "2026-09-01", "10:00"), 60, now)
	if ann.Kind != KindNone {
		t.Fatalf("negative elapsed must yield none, got %s", ann.Kind)
	}
}

func TestClassify_UpcomingWindow(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	a := func(clock string) model.Appointment { return appt(model.StatusScheduled, "2026-09-01", clock) }

	ann := Classify(a("10:00"), 60, now)
	if ann.Kind != KindUpcoming || ann.MinutesUntilStart != 0 {
		t.Fatalf("delta 0 should be upcoming, got %+v", ann)
	}

	ann = Classify(a("10:30"), 60, now)
	if ann.Kind != KindUpcoming || ann.MinutesUntilStart != 30 {
		t.Fatalf("delta 30 should be upcoming, got %+v", ann)
	}

	if ann := Classify(a("10:31"), 60, now); ann.Kind != KindNone {
		t.Fatalf("delta 31 is outside the window, got %s", ann.Kind)
	}

	if ann := Classify(a("09:59"), 60, now); ann.Kind != KindNone {
		t.Fatalf("already-started scheduled appointment is not upcoming, got %s", ann.Kind)
	}
}

func TestClassify_FractionalMinutesFloor(t *testing.T) {
	// 29m30s ahead floors to 29; 30s behind floors to -1 and falls out of the window.
	now := time.Date(2026, 9, 1, 10, 0, 30, 0, time.UTC)
	ann := Classify(appt(model.StatusScheduled, "2026-09-01", "10:30"), 60, now)
	if ann.Kind != KindUpcoming || ann.MinutesUntilStart != 29 {
		t.Fatalf("expected upcoming at 29 minutes, got %+v", ann)
	}

	ann = Classify(appt(model.StatusScheduled, "2026-09-01", "10:00"), 60, now)
	if ann.Kind != KindNone {
		t.Fatalf("start 30s in the past floors to -1, expected none, got %s", ann.Kind)
	}
}

func TestClassify_UnparsableDateYieldsNone(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	if ann := Classify(appt(model.StatusScheduled, "not-a-date", "10:00"), 60, now); ann.Kind != KindNone {
		t.Fatalf("expected none for unparsable date, got %s", ann.Kind)
	}
}
