// Package state holds the dashboard's presentation state. It replaces the
// original page's ambient globals with one mutex-guarded store that poll tasks
// write into and the HTTP surface reads from.
package state

import (
	"sync"

	"dashagent/internal/api"
	"dashagent/internal/attendance"
)

// Panel names the independently refreshed regions of the dashboard.
type Panel string

const (
	PanelClock     Panel = "clock"
	PanelOngoing   Panel = "ongoing"
	PanelCompleted Panel = "completed"
	PanelSessions  Panel = "sessions"
	PanelInside    Panel = "inside"
	PanelAlerts    Panel = "alerts"
	PanelApprovals Panel = "approvals"
)

// Snapshot is a point-in-time copy of everything a frontend needs to render.
type Snapshot struct {
	Clock           string              `json:"clock"`
	Ongoing         attendance.View     `json:"ongoing"`
	Completed       attendance.View     `json:"completed"`
	Cameras         []api.CameraSession `json:"cameras"`
	CurrentCameraID string              `json:"current_camera_id"`
	FeedLive        bool                `json:"feed_live"`
	InsideCount     int                 `json:"inside_count"`
	Alerts          []api.Alert         `json:"alerts"`
	AlertCount      int                 `json:"alert_count"`
	ApprovalCount   int                 `json:"approval_count"`
}

// Store serializes panel updates. Each panel carries a sequence number handed
// out before the fetch starts; an apply with a sequence older than the last
// applied one is dropped, so a slow in-flight response can never overwrite a
// newer panel state.
type Store struct {
	mu      sync.RWMutex
	snap    Snapshot
	issued  map[Panel]uint64
	applied map[Panel]uint64

	// onStaleDrop is invoked (without the lock) when an out-of-order apply
	// is rejected. Used for metrics.
	onStaleDrop func(Panel)
}

// New creates an empty store.
func New() *Store {
	return &Store{
		issued:  make(map[Panel]uint64),
		applied: make(map[Panel]uint64),
	}
}

// OnStaleDrop registers a hook called whenever a stale apply is discarded.
func (s *Store) OnStaleDrop(fn func(Panel)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStaleDrop = fn
}

// Begin reserves the next sequence number for a panel refresh. Call it before
// issuing the fetch, then pass the number to Apply with the result.
func (s *Store) Begin(panel Panel) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued[panel]++
	return s.issued[panel]
}

// Apply mutates the snapshot for one panel refresh. It returns false and
// leaves the snapshot untouched when a newer refresh of the same panel has
// already been applied.
func (s *Store) Apply(panel Panel, seq uint64, mutate func(*Snapshot)) bool {
	s.mu.Lock()
	if seq <= s.applied[panel] {
		hook := s.onStaleDrop
		s.mu.Unlock()
		if hook != nil {
			hook(panel)
		}
		return false
	}
	s.applied[panel] = seq
	mutate(&s.snap)
	s.mu.Unlock()
	return true
}

// Update mutates the snapshot outside of any panel refresh, for state owned by
// a single writer (the camera feed binding, manual clears).
func (s *Store) Update(mutate func(*Snapshot)) {
	s.mu.Lock()
	mutate(&s.snap)
	s.mu.Unlock()
}

// Snapshot returns a copy safe for concurrent use by readers.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	snap.Cameras = append([]api.CameraSession(nil), s.snap.Cameras...)
	snap.Alerts = append([]api.Alert(nil), s.snap.Alerts...)
	snap.Ongoing.Rows = append([]attendance.Row(nil), s.snap.Ongoing.Rows...)
	snap.Completed.Rows = append([]attendance.Row(nil), s.snap.Completed.Rows...)
	return snap
}
