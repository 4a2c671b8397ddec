package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dashagent/internal/api"
	"dashagent/internal/camera"
	"dashagent/internal/config"
	"dashagent/internal/enroll"
	"dashagent/internal/notify"
	"dashagent/internal/queue"
	"dashagent/internal/state"
)

type stubCameraBackend struct{}

func (stubCameraBackend) ListCameras(ctx context.Context) ([]api.CameraSession, error) {
	return nil, nil
}

func (stubCameraBackend) StartCamera(ctx context.Context, cameraID, cameraURL string) (*api.StartCameraResult, error) {
	return &api.StartCameraResult{Message: "started", CameraID: cameraID}, nil
}

func (stubCameraBackend) VideoFeed(ctx context.Context, cameraID string) (io.ReadCloser, string, error) {
	return io.NopCloser(bytes.NewReader(nil)), "text/plain", nil
}

func testConfig() config.App {
	return config.App{
		Env:             "test",
		JWTIssuer:       "dashboard-agent",
		JWTSigningKey:   "test-signing-key",
		AccessTTL:       time.Hour,
		RateLimitPerMin: 1000,
	}
}

// newAgent wires a router against an attendance backend served by fn.
func newAgent(t *testing.T, fn http.HandlerFunc) (*gin.Engine, *state.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend := httptest.NewServer(fn)
	t.Cleanup(backend.Close)

	client := api.New(backend.URL, 2*time.Second)
	store := state.New()
	cfg := testConfig()
	mgr := camera.NewManager(stubCameraBackend{}, store)
	enrollSvc := enroll.NewService(client, queue.NewInMemory(1), func(ctx context.Context) (camera.FrameSource, error) {
		return nil, context.Canceled
	}, 90, 3, nil)

	r := New(Deps{
		Cfg:    cfg,
		Store:  store,
		Client: client,
		Camera: mgr,
		Notify: notify.NewService(client, store, notify.CommandNotifier{}, false),
		Enroll: enrollSvc,
	})
	return r, store
}

func issueToken(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"kiosk_id":"front-desk"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/token", body)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func TestHealthz_ReportsQueueBacklog(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := state.New()
	client := api.New("http://127.0.0.1:0", time.Second)
	r := New(Deps{
		Cfg:     testConfig(),
		Store:   store,
		Client:  client,
		Camera:  camera.NewManager(stubCameraBackend{}, store),
		Notify:  notify.NewService(client, store, notify.CommandNotifier{}, false),
		Enroll:  enroll.NewService(client, queue.NewInMemory(1), nil, 90, 3, nil),
		Healthy: func() bool { return true },
		QueueDepth: func(ctx context.Context) (int64, error) {
			return 7, nil
		},
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Status  string `json:"status"`
		Queue   bool   `json:"queue"`
		Pending int64  `json:"pending_enrollments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Queue)
	assert.Equal(t, int64(7), resp.Pending)
}

func TestState_ReturnsSnapshot(t *testing.T) {
	r, store := newAgent(t, func(w http.ResponseWriter, req *http.Request) {})
	store.Update(func(s *state.Snapshot) {
		s.Clock = "10:30:00 AM"
		s.InsideCount = 4
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/state", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var snap state.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "10:30:00 AM", snap.Clock)
	assert.Equal(t, 4, snap.InsideCount)
}

func TestFrame_NotFoundWithoutFeed(t *testing.T) {
	r, _ := newAgent(t, func(w http.ResponseWriter, req *http.Request) {})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/frame", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuth_RejectsMissingToken(t *testing.T) {
	r, _ := newAgent(t, func(w http.ResponseWriter, req *http.Request) {})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/alerts/clear", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAlertsClear_ForwardsAndZeroesBadge(t *testing.T) {
	cleared := false
	r, store := newAgent(t, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/api/alerts/clear" {
			cleared = true
			w.Write([]byte(`{"message":"cleared"}`))
			return
		}
		w.Write([]byte(`{}`))
	})
	store.Update(func(s *state.Snapshot) { s.AlertCount = 7 })
	token := issueToken(t, r)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/alerts/clear", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, cleared)
	assert.Equal(t, 0, store.Snapshot().AlertCount)
}

func TestCameraStart_ReturnsBackendResult(t *testing.T) {
	r, _ := newAgent(t, func(w http.ResponseWriter, req *http.Request) {})
	token := issueToken(t, r)

	w := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"camera_id":"macbook_camera","camera_url":"0"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/camera/start", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result api.StartCameraResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "macbook_camera", result.CameraID)
}

func TestApprove_ParsesIDAndForwards(t *testing.T) {
	var approvedPath string
	r, _ := newAgent(t, func(w http.ResponseWriter, req *http.Request) {
		approvedPath = req.URL.Path
		w.Write([]byte(`{"message":"ok"}`))
	})
	token := issueToken(t, r)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/approvals/12/approve", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, approvedPath, "12")

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/approvals/oops/approve", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// streamFrames serves a multipart MJPEG feed, pacing frames out and then
// holding the connection open until the client hangs up.
func streamFrames(w http.ResponseWriter, req *http.Request, frames int, interval time.Duration) {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil)
	still := buf.Bytes()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	flusher := w.(http.Flusher)
	for i := 0; i < frames; i++ {
		fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n")
		w.Write(still)
		fmt.Fprintf(w, "\r\n")
		flusher.Flush()
		select {
		case <-req.Context().Done():
			return
		case <-time.After(interval):
		}
	}
	<-req.Context().Done()
}

// The capture device must outlive the open request. A device opened under the
// request's context dies the moment the handler returns, leaving every later
// capture failing as not ready.
func TestEnrollment_DeviceSurvivesOpenRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/api/video_feed/macbook_camera" {
			streamFrames(w, req, 8, 30*time.Millisecond)
			return
		}
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(backend.Close)

	client := api.New(backend.URL, 2*time.Second)
	store := state.New()
	mgr := camera.NewManager(stubCameraBackend{}, store)
	enrollSvc := enroll.NewService(client, queue.NewInMemory(1), func(ctx context.Context) (camera.FrameSource, error) {
		src, err := camera.OpenMJPEG(ctx, func(sctx context.Context) (io.ReadCloser, string, error) {
			return client.VideoFeed(sctx, "macbook_camera")
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	}, 90, 3, nil)
	t.Cleanup(enrollSvc.Close)

	r := New(Deps{
		Cfg:    testConfig(),
		Store:  store,
		Client: client,
		Camera: mgr,
		Notify: notify.NewService(client, store, notify.CommandNotifier{}, false),
		Enroll: enrollSvc,
	})
	token := issueToken(t, r)

	// Serve the agent over a real listener: net/http cancels the request
	// context when the open handler returns, which a recorder never does.
	agent := httptest.NewServer(r)
	t.Cleanup(agent.Close)

	post := func(path string) (int, string) {
		req, err := http.NewRequest(http.MethodPost, agent.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	code, body := post("/v1/enroll/open")
	require.Equal(t, http.StatusOK, code, body)

	deadline := time.Now().Add(3 * time.Second)
	for {
		code, body = post("/v1/enroll/capture")
		if code == http.StatusOK {
			break
		}
		require.Equal(t, http.StatusConflict, code, "capture failed hard: %s", body)
		if time.Now().After(deadline) {
			t.Fatalf("capture never became ready: %s", body)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestExport_SetsDispositionHeader(t *testing.T) {
	r, _ := newAgent(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="attendance_2026-01-01_to_2026-01-31.pdf"`)
		w.Write([]byte("%PDF-1.4"))
	})
	token := issueToken(t, r)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/reports/export?start_date=2026-01-01&end_date=2026-01-31", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attendance_2026-01-01_to_2026-01-31.pdf")
	assert.Equal(t, "%PDF-1.4", w.Body.String())
}
