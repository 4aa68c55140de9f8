// Package deactivate runs the recurring scan that retires members whose
// purchased sessions are used up. The transition is one-way: nothing in this
// package (or anywhere else automated) reactivates a member.
package deactivate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/studio-ops/console/libs/timerx"
	"github.com/studio-ops/console/services/console-service/internal/model"
)

const DefaultPeriod = 5 * time.Minute

var ErrAlreadyRunning = errors.New("deactivation scheduler already running")

// DataSource supplies the full snapshots a scan evaluates. A failure on any of
// the three loads aborts the whole scan; no partial member set is processed.
type DataSource interface {
	LoadMembers(ctx context.Context) ([]model.Member, error)
	LoadServices(ctx context.Context) ([]model.Service, error)
	LoadAppointments(ctx context.Context) ([]model.Appointment, error)
}

// MemberWriter applies the single-field active=false update. The write is
// expected to feed back through the change stream on its own.
type MemberWriter interface {
	DeactivateMember(ctx context.Context, memberID string) (bool, error)
}

// DeactivatedMember is recorded per applied transition for observability.
type DeactivatedMember struct {
	MemberID string   `json:"member_id"`
	Name     string   `json:"name"`
	Packages []string `json:"packages"`
}

// Report summarizes one completed scan.
type Report struct {
	RanAt       time.Time           `json:"ran_at"`
	Evaluated   int                 `json:"evaluated"`
	Deactivated []DeactivatedMember `json:"deactivated"`
	WriteErrors int                 `json:"write_errors"`
}

type Scheduler struct {
	data   DataSource
	writer MemberWriter
	logger *slog.Logger

	mu         sync.Mutex
	running    bool
	inScan     bool
	stopTimer  func()
	lastReport *Report
}

func NewScheduler(data DataSource, writer MemberWriter, logger *slog.Logger) *Scheduler {
	return &Scheduler{data: data, writer: writer, logger: logger}
}

// Start begins the recurring scan with an immediate first run. It refuses to
// start while a previous timer is still armed.
func (s *Scheduler) Start(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		period = DefaultPeriod
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.stopTimer = timerx.Repeat(period, true, func() {
		s.runOnce(ctx)
	})
	s.mu.Unlock()

	s.logger.Info("deactivation scheduler started", "period", period.String())
	return nil
}

// Stop clears the timer. Safe to call repeatedly or when never started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop := s.stopTimer
	wasRunning := s.running
	s.running = false
	s.stopTimer = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if wasRunning {
		s.logger.Info("deactivation scheduler stopped")
	}
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastReport returns the most recent completed scan's report, if any.
func (s *Scheduler) LastReport() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastReport == nil {
		return Report{}, false
	}
	return *s.lastReport, true
}

// runOnce guards against overlapping executions: if a prior scan is still in
// flight when the timer fires again, the new tick is skipped.
func (s *Scheduler) runOnce(ctx context.Context) {
	s.mu.Lock()
	if s.inScan {
		s.mu.Unlock()
		s.logger.Warn("scan still in progress, skipping tick")
		return
	}
	s.inScan = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inScan = false
		s.mu.Unlock()
	}()

	report, err := s.Scan(ctx)
	if err != nil {
		s.logger.Error("deactivation scan aborted", "err", err)
		return
	}

	s.mu.Lock()
	s.lastReport = &report
	s.mu.Unlock()
}

// Scan evaluates every currently active member and deactivates those whose
// purchased packages are all exhausted. Re-running with unchanged data is a
// no-op: inactive members are excluded from the candidate set up front.
func (s *Scheduler) Scan(ctx context.Context) (Report, error) {
	members, err := s.data.LoadMembers(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load members: %w", err)
	}
	services, err := s.data.LoadServices(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load services: %w", err)
	}
	appointments, err := s.data.LoadAppointments(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load appointments: %w", err)
	}

	servicesByID := make(map[string]model.Service, len(services))
	for _, svc := range services {
		servicesByID[svc.ID] = svc
	}
	completed := completedCounts(appointments)

	report := Report{RanAt: time.Now()}
	for _, member := range members {
		if !member.Active {
			continue
		}
		report.Evaluated++

		if !allPackagesExhausted(member, servicesByID, completed[member.ID]) {
			continue
		}

		applied, err := s.writer.DeactivateMember(ctx, member.ID)
		if err != nil {
			// Best effort per member: log and keep scanning the rest.
			s.logger.Error("member deactivation failed",
				"member_id", member.ID,
				"member_name", member.Name,
				"err", err,
			)
			report.WriteErrors++
			continue
		}
		if !applied {
			continue
		}

		names := packageNames(member.ServiceIDs, servicesByID)
		report.Deactivated = append(report.Deactivated, DeactivatedMember{
			MemberID: member.ID,
			Name:     member.Name,
			Packages: names,
		})
		s.logger.Info("member deactivated",
			"member_id", member.ID,
			"member_name", member.Name,
			"packages", names,
		)
	}

	return report, nil
}

// completedCounts tallies completed appointments per member per service.
// Only completed sessions consume entitlement: cancelled never counts, and
// scheduled/in-progress do not count yet.
func completedCounts(appointments []model.Appointment) map[string]map[string]int {
	counts := map[string]map[string]int{}
	for _, a := range appointments {
		if a.Status != model.StatusCompleted {
			continue
		}
		per := counts[a.MemberID]
		if per == nil {
			per = map[string]int{}
			counts[a.MemberID] = per
		}
		per[a.ServiceID]++
	}
	return counts
}

// allPackagesExhausted applies the exhaustion rule. A service id subscribed n
// times is n separate purchases, each entitling session_count sessions, so the
// pool for that service is n*session_count. Members with no purchases, with a
// purchase referencing an unknown service, or with a non-positive session count
// are never considered exhausted.
func allPackagesExhausted(member model.Member, services map[string]model.Service, completed map[string]int) bool {
	if len(member.ServiceIDs) == 0 {
		return false
	}

	purchases := map[string]int{}
	for _, sid := range member.ServiceIDs {
		purchases[sid]++
	}

	for sid, count := range purchases {
		svc, ok := services[sid]
		if !ok || svc.SessionCount <= 0 {
			return false
		}
		if completed[sid] < count*svc.SessionCount {
			return false
		}
	}
	return true
}

func packageNames(serviceIDs []string, services map[string]model.Service) []string {
	names := make([]string, 0, len(serviceIDs))
	for _, sid := range serviceIDs {
		if svc, ok := services[sid]; ok {
			names = append(names, svc.Name)
			continue
		}
		names = append(names, sid)
	}
	return names
}
