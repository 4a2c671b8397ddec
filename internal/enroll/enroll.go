// Package enroll drives the enrollment flow: a scoped capture device, the
// photo artifact, and asynchronous submission to the backend.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dashagent/internal/api"
	"dashagent/internal/camera"
	"dashagent/internal/monitoring"
	"dashagent/internal/queue"
)

// ErrNoCapture is returned when submit is attempted without a captured photo.
var ErrNoCapture = errors.New("no captured photo")

// ErrNotOpen is returned when capture actions run before the flow is opened.
var ErrNotOpen = errors.New("enrollment not open")

// Backend is the slice of the attendance API this service needs.
type Backend interface {
	CreateUser(ctx context.Context, name, usn string, image []byte) (*api.User, error)
}

// SourceFactory acquires a fresh local capture device.
type SourceFactory func(ctx context.Context) (camera.FrameSource, error)

// Service owns one enrollment flow at a time. Concurrent enrollments are not
// supported: opening a new flow replaces (and releases) the previous one.
type Service struct {
	backend    Backend
	q          queue.Queue
	newSource  SourceFactory
	quality    int
	minReady   int
	onEnrolled func()

	mu        sync.Mutex
	session   *camera.CaptureSession
	devCancel context.CancelFunc
}

// NewService wires the enrollment flow. onEnrolled runs after each successful
// submission so dependent panels can refresh without a manual reload; it may
// be nil.
func NewService(backend Backend, q queue.Queue, newSource SourceFactory, quality, minReady int, onEnrolled func()) *Service {
	return &Service{
		backend:    backend,
		q:          q,
		newSource:  newSource,
		quality:    quality,
		minReady:   minReady,
		onEnrolled: onEnrolled,
	}
}

// Open acquires the capture device. An already-open flow is torn down first
// so the device is never double-acquired. The device runs under its own
// context, not the opening request's: the stream must stay alive across many
// capture/retake requests until Close or a replacing Open.
func (s *Service) Open() error {
	s.Close()
	devCtx, cancel := context.WithCancel(context.Background())
	src, err := s.newSource(devCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("acquire capture device: %w", err)
	}
	s.mu.Lock()
	s.session = camera.NewCaptureSession(src, s.quality, s.minReady)
	s.devCancel = cancel
	s.mu.Unlock()
	return nil
}

// Close releases the capture device and discards any pending artifact. Safe
// to call whether or not the flow is open, and however it ended.
func (s *Service) Close() {
	s.mu.Lock()
	session := s.session
	cancel := s.devCancel
	s.session = nil
	s.devCancel = nil
	s.mu.Unlock()
	if session != nil {
		session.Close()
	}
	if cancel != nil {
		cancel()
	}
}

func (s *Service) current() *camera.CaptureSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Capture takes a still from the live device.
func (s *Service) Capture() (*camera.Artifact, error) {
	session := s.current()
	if session == nil {
		return nil, ErrNotOpen
	}
	return session.Capture()
}

// Retake discards the held photo and returns to capture-ready state.
func (s *Service) Retake() error {
	session := s.current()
	if session == nil {
		return ErrNotOpen
	}
	session.Retake()
	return nil
}

// State reports the capture phase for the frontend.
func (s *Service) State() camera.CaptureState {
	session := s.current()
	if session == nil {
		return camera.StateCapture
	}
	return session.State()
}

// Submit validates the form, enqueues the submission, and resets the capture
// state. The USN is uppercased the way the backend expects.
func (s *Service) Submit(ctx context.Context, name, usn string) (string, error) {
	name = strings.TrimSpace(name)
	usn = strings.ToUpper(strings.TrimSpace(usn))
	if name == "" || usn == "" {
		return "", errors.New("name and usn required")
	}
	session := s.current()
	if session == nil {
		return "", ErrNotOpen
	}
	artifact, ok := session.Artifact()
	if !ok {
		return "", ErrNoCapture
	}

	sub := queue.Submission{
		ID:   uuid.NewString(),
		Name: name,
		USN:  usn,
		JPEG: artifact.JPEG,
	}
	if err := s.q.Publish(ctx, sub); err != nil {
		return "", fmt.Errorf("enqueue submission: %w", err)
	}
	session.Retake()
	return sub.ID, nil
}

// RunWorker drains the submission queue until ctx is cancelled, posting each
// enrollment to the backend. Failures are logged and dropped; the operator
// sees the outcome on the next approval/user poll.
func (s *Service) RunWorker(ctx context.Context) error {
	subs, err := s.q.Consume(ctx)
	if err != nil {
		return err
	}
	log.Println("enrollment worker started")
	for sub := range subs {
		user, err := s.backend.CreateUser(ctx, sub.Name, sub.USN, sub.JPEG)
		if err != nil {
			monitoring.EnrollSubmission("error")
			log.Printf("enrollment %s (%s) failed: %v", sub.ID, sub.USN, err)
			continue
		}
		monitoring.EnrollSubmission("ok")
		log.Printf("enrolled %q (%s) as user %d", user.Name, user.USN, user.ID)
		if s.onEnrolled != nil {
			s.onEnrolled()
		}
		time.Sleep(10 * time.Millisecond)
	}
	log.Println("enrollment worker stopped")
	return nil
}
