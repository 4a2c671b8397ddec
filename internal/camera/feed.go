// Package camera manages the live-feed lifecycle: which server-side capture
// session is bound to the display, the MJPEG frame stream behind it, and the
// scoped capture device used for enrollment photos.
package camera

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"strings"
	"sync"

	"dashagent/internal/monitoring"
)

// Frame is one still image received from a stream.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Seq    uint64
}

// FrameSource provides live frames for display and capture.
//
// Ready reports whether the source has frame dimensions and at least
// minFrames buffered, the precondition for capturing. Close releases the
// underlying stream; it is idempotent and must always be called so the device
// is never leaked, however the owning flow ends.
type FrameSource interface {
	Latest() (Frame, bool)
	Ready(minFrames int) bool
	Close()
}

// StreamOpener opens a raw MJPEG stream and returns its body and content type.
type StreamOpener func(ctx context.Context) (io.ReadCloser, string, error)

// MJPEGSource consumes a multipart MJPEG stream, retaining only the newest
// frame. Older frames are discarded, never queued.
type MJPEGSource struct {
	mu     sync.Mutex
	latest *Frame
	count  uint64
	err    error

	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// OpenMJPEG connects a stream and starts reading frames in the background.
// The returned source keeps reading until the stream ends or Close is called.
func OpenMJPEG(ctx context.Context, open StreamOpener) (*MJPEGSource, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	body, contentType, err := open(streamCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		cancel()
		body.Close()
		return nil, fmt.Errorf("unexpected feed content type %q", contentType)
	}

	s := &MJPEGSource{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.readLoop(body, params["boundary"])
	return s, nil
}

func (s *MJPEGSource) readLoop(body io.ReadCloser, boundary string) {
	defer close(s.done)
	defer body.Close()

	reader := multipart.NewReader(body, boundary)
	for {
		part, err := reader.NextPart()
		if err != nil {
			s.setErr(err)
			return
		}
		data, err := io.ReadAll(part)
		if err != nil {
			s.setErr(err)
			return
		}
		if len(data) == 0 {
			continue
		}

		frame := Frame{Data: data}
		if cfg, err := jpeg.DecodeConfig(bytes.NewReader(data)); err == nil {
			frame.Width = cfg.Width
			frame.Height = cfg.Height
		}

		s.mu.Lock()
		s.count++
		frame.Seq = s.count
		s.latest = &frame
		s.mu.Unlock()
		monitoring.FeedFrame()
	}
}

func (s *MJPEGSource) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// Latest returns the newest frame received so far.
func (s *MJPEGSource) Latest() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return Frame{}, false
	}
	return *s.latest, true
}

// Ready reports whether dimensions are known and enough frames have arrived.
func (s *MJPEGSource) Ready(minFrames int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest != nil && s.latest.Width > 0 && s.latest.Height > 0 && s.count >= uint64(minFrames)
}

// Err returns the terminal stream error, if any.
func (s *MJPEGSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the stream has stopped for any reason.
func (s *MJPEGSource) Done() <-chan struct{} { return s.done }

// Close stops the stream. Safe to call multiple times.
func (s *MJPEGSource) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	<-s.done
}
