package camera

import (
	"context"
	"io"
	"log"
	"sync"

	"dashagent/internal/api"
	"dashagent/internal/monitoring"
	"dashagent/internal/state"
)

// Backend is the slice of the attendance API the manager needs.
type Backend interface {
	ListCameras(ctx context.Context) ([]api.CameraSession, error)
	StartCamera(ctx context.Context, cameraID, cameraURL string) (*api.StartCameraResult, error)
	VideoFeed(ctx context.Context, cameraID string) (io.ReadCloser, string, error)
}

// Manager tracks active camera sessions and owns the single displayed live
// feed. Any number of sessions may run server-side; exactly one feed is bound
// to the display at a time, and every successful start rebinds it.
type Manager struct {
	backend Backend
	store   *state.Store

	mu              sync.Mutex
	currentCameraID string
	feed            *MJPEGSource
	feedCancel      context.CancelFunc
}

// NewManager creates a manager writing display state into store.
func NewManager(backend Backend, store *state.Store) *Manager {
	return &Manager{backend: backend, store: store}
}

// ListActive fetches the active sessions from the server.
func (m *Manager) ListActive(ctx context.Context) ([]api.CameraSession, error) {
	return m.backend.ListCameras(ctx)
}

// Start asks the server to start a session. Whether a duplicate id is accepted
// is entirely the server's call; a rejected start leaves local state alone.
// On success the new camera's feed supersedes whatever was displayed.
func (m *Manager) Start(ctx context.Context, cameraID, cameraURL string) (*api.StartCameraResult, error) {
	result, err := m.backend.StartCamera(ctx, cameraID, cameraURL)
	if err != nil {
		monitoring.CameraStart("rejected")
		return nil, err
	}
	monitoring.CameraStart("ok")
	m.BindFeed(cameraID)
	return result, nil
}

// CurrentCameraID returns the camera whose feed is bound to the display.
func (m *Manager) CurrentCameraID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentCameraID
}

// LatestFrame returns the newest frame of the bound feed, if one is live.
func (m *Manager) LatestFrame() (Frame, bool) {
	m.mu.Lock()
	feed := m.feed
	m.mu.Unlock()
	if feed == nil {
		return Frame{}, false
	}
	return feed.Latest()
}

// BindFeed points the display at cameraID's stream, tearing down the previous
// one. The stream is opened in the background; the display goes live on
// success and falls back to the "no camera" placeholder if the stream fails.
// The bound camera id is retained across a feed failure so a retry targets
// the camera shown as failed.
func (m *Manager) BindFeed(cameraID string) {
	m.mu.Lock()
	if m.feedCancel != nil {
		m.feedCancel()
	}
	feedCtx, cancel := context.WithCancel(context.Background())
	m.feedCancel = cancel
	m.currentCameraID = cameraID
	m.feed = nil
	// Written under m.mu so this cannot clobber a FeedLive=true published
	// by an older feed's watcher after it was superseded.
	m.store.Update(func(snap *state.Snapshot) {
		snap.CurrentCameraID = cameraID
		snap.FeedLive = false
	})
	m.mu.Unlock()

	go m.watchFeed(feedCtx, cameraID)
}

func (m *Manager) watchFeed(ctx context.Context, cameraID string) {
	src, err := OpenMJPEG(ctx, func(ctx context.Context) (io.ReadCloser, string, error) {
		return m.backend.VideoFeed(ctx, cameraID)
	})
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("video feed for %s failed to open: %v", cameraID, err)
		}
		m.mu.Lock()
		if m.currentCameraID == cameraID {
			m.store.Update(func(snap *state.Snapshot) { snap.FeedLive = false })
		}
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	if m.currentCameraID != cameraID {
		// Superseded while connecting.
		m.mu.Unlock()
		src.Close()
		return
	}
	m.feed = src
	// Currency check and liveness update share the critical section, so a
	// concurrent rebind cannot interleave between them.
	m.store.Update(func(snap *state.Snapshot) { snap.FeedLive = true })
	m.mu.Unlock()
	log.Printf("live feed bound to camera %s", cameraID)

	<-src.Done()
	if err := src.Err(); err != nil && ctx.Err() == nil {
		log.Printf("video feed for %s ended: %v", cameraID, err)
	}

	m.mu.Lock()
	if m.currentCameraID == cameraID {
		if m.feed == src {
			m.feed = nil
		}
		m.store.Update(func(snap *state.Snapshot) { snap.FeedLive = false })
	}
	m.mu.Unlock()
}

// ReleaseFeed tears down the bound stream on shutdown.
func (m *Manager) ReleaseFeed() {
	m.mu.Lock()
	cancel := m.feedCancel
	feed := m.feed
	m.feedCancel = nil
	m.feed = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if feed != nil {
		feed.Close()
	}
}
