package camera

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Coordinator bootstraps a default camera once at startup. After a settle
// delay it queries the active sessions and starts the default camera if and
// only if none exist. The query-then-start window is racy against other
// clients; the server stays the source of truth and a duplicate start is
// reported back as an ordinary rejection.
type Coordinator struct {
	manager   *Manager
	settle    time.Duration
	cameraID  string
	cameraURL string
	ran       atomic.Bool
}

// NewCoordinator configures the bootstrap for one default camera identity.
func NewCoordinator(manager *Manager, settle time.Duration, cameraID, cameraURL string) *Coordinator {
	return &Coordinator{
		manager:   manager,
		settle:    settle,
		cameraID:  cameraID,
		cameraURL: cameraURL,
	}
}

// Run performs the bootstrap. It issues at most one start request per process
// lifetime and never starts when any session is already active, including one
// started manually moments earlier.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.ran.CompareAndSwap(false, true) {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.settle):
	}

	sessions, err := c.manager.ListActive(ctx)
	if err != nil {
		log.Printf("auto-start: could not check cameras: %v", err)
		return err
	}
	if len(sessions) > 0 {
		log.Printf("auto-start: %d camera(s) already active, skipping", len(sessions))
		if c.manager.CurrentCameraID() == "" {
			// Nothing displayed yet; show the first active session.
			c.manager.BindFeed(sessions[0].CameraID)
		}
		return nil
	}

	log.Printf("auto-start: no cameras active, starting %s", c.cameraID)
	if _, err := c.manager.Start(ctx, c.cameraID, c.cameraURL); err != nil {
		// Lost the race to another client, or the device is unavailable.
		// Either way this bootstrap is best-effort.
		log.Printf("auto-start: could not start %s: %v", c.cameraID, err)
		return err
	}
	return nil
}
