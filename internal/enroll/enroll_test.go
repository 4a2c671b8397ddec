package enroll

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dashagent/internal/api"
	"dashagent/internal/camera"
	"dashagent/internal/queue"
)

type fakeSource struct {
	mu     sync.Mutex
	frame  camera.Frame
	ready  bool
	closed bool
}

func (f *fakeSource) Latest() (camera.Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame, f.frame.Data != nil
}

func (f *fakeSource) Ready(min int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeSource) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeBackend struct {
	mu    sync.Mutex
	users []api.User
}

func (f *fakeBackend) CreateUser(ctx context.Context, name, usn string, image []byte) (*api.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := api.User{ID: len(f.users) + 1, Name: name, USN: usn}
	f.users = append(f.users, user)
	return &user, nil
}

func (f *fakeBackend) list() []api.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.User(nil), f.users...)
}

func readySource(t *testing.T) *fakeSource {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil))
	return &fakeSource{frame: camera.Frame{Data: buf.Bytes(), Width: 4, Height: 4, Seq: 5}, ready: true}
}

func newTestService(t *testing.T, backend Backend, src camera.FrameSource, onEnrolled func()) *Service {
	t.Helper()
	return NewService(backend, queue.NewInMemory(4), func(ctx context.Context) (camera.FrameSource, error) {
		return src, nil
	}, 90, 3, onEnrolled)
}

func TestSubmit_RequiresCapture(t *testing.T) {
	s := newTestService(t, &fakeBackend{}, readySource(t), nil)
	require.NoError(t, s.Open())
	defer s.Close()

	_, err := s.Submit(context.Background(), "Asha Rao", "1ab20cs001")
	assert.ErrorIs(t, err, ErrNoCapture)
}

func TestSubmit_RequiresOpenFlow(t *testing.T) {
	s := newTestService(t, &fakeBackend{}, readySource(t), nil)

	_, err := s.Capture()
	assert.ErrorIs(t, err, ErrNotOpen)
	_, err = s.Submit(context.Background(), "Asha Rao", "1AB20CS001")
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestOpen_ReplacesPreviousDevice(t *testing.T) {
	first := readySource(t)
	second := readySource(t)
	sources := []camera.FrameSource{first, second}
	s := NewService(&fakeBackend{}, queue.NewInMemory(4), func(ctx context.Context) (camera.FrameSource, error) {
		src := sources[0]
		sources = sources[1:]
		return src, nil
	}, 90, 3, nil)

	require.NoError(t, s.Open())
	require.NoError(t, s.Open())
	defer s.Close()

	assert.True(t, first.isClosed(), "replaced device must be released")
	assert.False(t, second.isClosed())
}

func TestClose_AlwaysReleasesDevice(t *testing.T) {
	src := readySource(t)
	s := newTestService(t, &fakeBackend{}, src, nil)
	require.NoError(t, s.Open())
	_, err := s.Capture()
	require.NoError(t, err)

	s.Close()
	s.Close()

	assert.True(t, src.isClosed())
	assert.Equal(t, camera.StateCapture, s.State())
}

func TestEnrollment_EndToEnd(t *testing.T) {
	backend := &fakeBackend{}
	var refreshed sync.WaitGroup
	refreshed.Add(1)
	src := readySource(t)
	s := newTestService(t, backend, src, func() { refreshed.Done() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		_ = s.RunWorker(ctx)
	}()

	require.NoError(t, s.Open())
	defer s.Close()

	artifact, err := s.Capture()
	require.NoError(t, err)
	assert.Equal(t, camera.StatePreview, s.State())

	id, err := s.Submit(ctx, " Asha Rao ", "1ab20cs001")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	// Submitting hands the artifact off and re-arms capture.
	assert.Equal(t, camera.StateCapture, s.State())

	done := make(chan struct{})
	go func() { refreshed.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("enrollment never reached the backend")
	}

	users := backend.list()
	require.Len(t, users, 1)
	assert.Equal(t, "Asha Rao", users[0].Name)
	assert.Equal(t, "1AB20CS001", users[0].USN)
	assert.NotEmpty(t, artifact.JPEG)

	cancel()
	select {
	case <-workerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
