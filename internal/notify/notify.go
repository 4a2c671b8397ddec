// Package notify maintains the alert panel and the pending-approval badge,
// both derived from independently polled collections.
package notify

import (
	"context"
	"fmt"
	"log"
	"os/exec"

	"dashagent/internal/api"
	"dashagent/internal/state"
)

// maxVisible bounds the alert view; older alerts stay server-side only.
const maxVisible = 10

// Backend is the slice of the attendance API this service needs.
type Backend interface {
	Alerts(ctx context.Context) ([]api.Alert, error)
	ClearAlerts(ctx context.Context) error
	PendingApprovals(ctx context.Context) ([]api.PendingApproval, error)
}

// Notifier delivers a system-level notification to the operator.
type Notifier interface {
	Notify(title, body string) error
}

// CommandNotifier shells out to a configured command (notify-send style:
// command, title, body). An empty command means notification permission was
// never granted and nothing ever fires.
type CommandNotifier struct {
	Command string
}

// Granted reports whether notifications may be shown at all.
func (n CommandNotifier) Granted() bool { return n.Command != "" }

// Notify runs the configured command.
func (n CommandNotifier) Notify(title, body string) error {
	if n.Command == "" {
		return nil
	}
	return exec.Command(n.Command, title, body).Run()
}

// Service refreshes the alert and approval panels.
type Service struct {
	backend  Backend
	store    *state.Store
	notifier Notifier
	granted  bool
}

// NewService creates the notifier service. granted gates system notifications;
// when false they are suppressed entirely.
func NewService(backend Backend, store *state.Store, notifier Notifier, granted bool) *Service {
	return &Service{backend: backend, store: store, notifier: notifier, granted: granted}
}

// LatestAlerts returns at most the ten most recent alerts, newest first. The
// server appends chronologically, so the tail holds the newest entries.
func LatestAlerts(alerts []api.Alert) []api.Alert {
	start := 0
	if len(alerts) > maxVisible {
		start = len(alerts) - maxVisible
	}
	recent := alerts[start:]
	out := make([]api.Alert, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		out = append(out, recent[i])
	}
	return out
}

// RefreshAlerts re-fetches the alert log and updates the panel. The badge
// counts every alert; the view shows only the most recent ones.
func (s *Service) RefreshAlerts(ctx context.Context) error {
	seq := s.store.Begin(state.PanelAlerts)
	alerts, err := s.backend.Alerts(ctx)
	if err != nil {
		return err
	}
	s.store.Apply(state.PanelAlerts, seq, func(snap *state.Snapshot) {
		snap.Alerts = LatestAlerts(alerts)
		snap.AlertCount = len(alerts)
	})
	return nil
}

// Clear empties the server-side alert log and zeroes the visible state
// immediately, without waiting for the next poll. Idempotent: clearing an
// already-empty log succeeds and leaves the badge hidden.
func (s *Service) Clear(ctx context.Context) error {
	if err := s.backend.ClearAlerts(ctx); err != nil {
		return err
	}
	s.store.Update(func(snap *state.Snapshot) {
		snap.Alerts = nil
		snap.AlertCount = 0
	})
	return nil
}

// RefreshApprovals re-fetches the pending-approval set and updates the badge.
// While the set is non-empty every poll re-fires the system notification;
// there is no dedup across polls.
func (s *Service) RefreshApprovals(ctx context.Context) error {
	seq := s.store.Begin(state.PanelApprovals)
	pending, err := s.backend.PendingApprovals(ctx)
	if err != nil {
		return err
	}
	s.store.Apply(state.PanelApprovals, seq, func(snap *state.Snapshot) {
		snap.ApprovalCount = len(pending)
	})

	if len(pending) > 0 && s.granted && s.notifier != nil {
		body := fmt.Sprintf("%d student(s) waiting for approval", len(pending))
		if err := s.notifier.Notify("Pending Approvals", body); err != nil {
			log.Printf("approval notification failed: %v", err)
		}
	}
	return nil
}
