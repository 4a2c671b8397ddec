package camera

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"sync"
	"time"

	"github.com/google/uuid"

	"dashagent/internal/monitoring"
)

// ErrNotReady is returned when capture is attempted before the source has
// dimensions and enough buffered frames.
var ErrNotReady = errors.New("capture source not ready")

// ErrAlreadyCaptured is returned when an artifact is pending preview; the
// caller must retake or submit first.
var ErrAlreadyCaptured = errors.New("photo already captured")

// Artifact is one captured enrollment photo, held in memory until it is
// submitted or discarded.
type Artifact struct {
	ID      string
	JPEG    []byte
	Width   int
	Height  int
	TakenAt time.Time
}

// CaptureState is the UI phase of the capture flow.
type CaptureState string

const (
	// StateCapture means the session is ready to take a photo.
	StateCapture CaptureState = "capture"
	// StatePreview means an artifact is held and awaiting retake or submit.
	StatePreview CaptureState = "preview"
)

// CaptureSession turns live frames into enrollment photo artifacts. It owns a
// scoped frame source: Close always stops the source so the device is
// released no matter how the enrollment flow ends.
type CaptureSession struct {
	mu       sync.Mutex
	src      FrameSource
	quality  int
	minReady int
	artifact *Artifact
	closed   bool
}

// NewCaptureSession wraps a frame source. quality is the JPEG encode quality
// for captured stills; minReady the number of frames required before capture.
func NewCaptureSession(src FrameSource, quality, minReady int) *CaptureSession {
	if quality <= 0 || quality > 100 {
		quality = 95
	}
	if minReady <= 0 {
		minReady = 1
	}
	return &CaptureSession{src: src, quality: quality, minReady: minReady}
}

// Capture encodes the newest frame into a single still artifact and moves the
// session to preview state. It fails without side effects when the source is
// not ready or a previous artifact is still held.
func (s *CaptureSession) Capture() (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("capture session closed")
	}
	if s.artifact != nil {
		return nil, ErrAlreadyCaptured
	}
	if !s.src.Ready(s.minReady) {
		monitoring.Capture("not_ready")
		return nil, ErrNotReady
	}
	frame, ok := s.src.Latest()
	if !ok {
		monitoring.Capture("not_ready")
		return nil, ErrNotReady
	}

	img, err := jpeg.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		monitoring.Capture("error")
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		monitoring.Capture("error")
		return nil, fmt.Errorf("encode still: %w", err)
	}

	bounds := img.Bounds()
	s.artifact = &Artifact{
		ID:      uuid.NewString(),
		JPEG:    buf.Bytes(),
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
		TakenAt: time.Now(),
	}
	monitoring.Capture("ok")
	return s.artifact, nil
}

// Retake discards the held artifact and returns to capture-ready state.
// Calling it with no artifact is a no-op.
func (s *CaptureSession) Retake() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifact = nil
}

// Artifact returns the held artifact, if any.
func (s *CaptureSession) Artifact() (*Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifact == nil {
		return nil, false
	}
	return s.artifact, true
}

// State reports the current UI phase.
func (s *CaptureSession) State() CaptureState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifact != nil {
		return StatePreview
	}
	return StateCapture
}

// Close releases the frame source and discards any held artifact. Idempotent.
func (s *CaptureSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.artifact = nil
	src := s.src
	s.mu.Unlock()
	src.Close()
}
