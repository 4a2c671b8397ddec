// Package api is the client for the attendance backend's REST surface. All
// dashboard state originates here; the agent never persists anything itself.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"dashagent/internal/attendance"
)

// CameraSession is one active server-side capture source.
type CameraSession struct {
	CameraID  string `json:"camera_id"`
	CameraURL string `json:"camera_url"`
	StartedAt string `json:"started_at"`
	Status    string `json:"status"`
}

// StartCameraResult is the backend's response to a successful camera start.
type StartCameraResult struct {
	Message         string `json:"message"`
	CameraID        string `json:"camera_id"`
	KnownFacesCount int    `json:"known_faces_count"`
}

// Alert is an ephemeral notification emitted by the recognition pipeline.
type Alert struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// PendingApproval is an enrolled-but-unapproved identity.
type PendingApproval struct {
	ID         int      `json:"id"`
	Name       string   `json:"name"`
	USN        string   `json:"usn"`
	CreatedAt  string   `json:"created_at"`
	ImagePaths []string `json:"image_paths"`
}

// User is a registered, recognizable person.
type User struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	USN       string `json:"usn"`
	CreatedAt string `json:"created_at"`
}

// ClassTime holds the class start and lateness threshold settings.
type ClassTime struct {
	ClassStartTime       string `json:"class_start_time"`
	LateThresholdMinutes int    `json:"late_threshold_minutes"`
	LastUpdated          string `json:"last_updated,omitempty"`
}

// Analytics is the per-day summary panel payload.
type Analytics struct {
	TotalStudents      int     `json:"total_students"`
	PresentToday       int     `json:"present_today"`
	AttendancePercent  float64 `json:"attendance_percent"`
	LateCount          int     `json:"late_count"`
	AvgDurationMinutes float64 `json:"avg_duration_minutes"`
	CurrentlyInside    int     `json:"currently_inside"`
}

// Report is a downloaded export file.
type Report struct {
	Filename string
	Data     []byte
}

// Client calls the attendance backend.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client with a request timeout. Streaming requests (the video
// feed) bypass the timeout with their own transport settings.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// apiError mirrors the backend's JSON error object.
type apiError struct {
	Err string `json:"error"`
}

// decodeFailure turns a non-2xx response into an error, preferring the
// backend's error field when the body carries one.
func decodeFailure(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var ae apiError
	if err := json.Unmarshal(body, &ae); err == nil && ae.Err != "" {
		return fmt.Errorf("backend error %s: %s", resp.Status, ae.Err)
	}
	return fmt.Errorf("backend error %s: %s", resp.Status, string(body))
}

func isSuccess(code int) bool { return code >= 200 && code < 300 }

// getJSON issues a GET and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return decodeFailure(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// postJSON issues a POST with an optional JSON body and decodes the response into out when non-nil.
func (c *Client) postJSON(ctx context.Context, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return decodeFailure(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Attendance fetches all attendance records. Exit sentinels are normalized
// during decode (see attendance.Record).
func (c *Client) Attendance(ctx context.Context) ([]attendance.Record, error) {
	var records []attendance.Record
	if err := c.getJSON(ctx, "/api/attendance", &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ArchivedAttendance fetches the archived record list.
func (c *Client) ArchivedAttendance(ctx context.Context) ([]attendance.Record, error) {
	var records []attendance.Record
	if err := c.getJSON(ctx, "/api/attendance/archive", &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ArchiveRecord moves a record into the archive.
func (c *Client) ArchiveRecord(ctx context.Context, id int) error {
	return c.postJSON(ctx, fmt.Sprintf("/api/attendance/%d/archive", id), nil, nil)
}

// UnarchiveRecord restores an archived record.
func (c *Client) UnarchiveRecord(ctx context.Context, id int) error {
	return c.postJSON(ctx, fmt.Sprintf("/api/attendance/%d/unarchive", id), nil, nil)
}

// StudentsInside returns how many people are currently inside. Only the count
// is meaningful to the dashboard.
func (c *Client) StudentsInside(ctx context.Context) (int, error) {
	var inside []json.RawMessage
	if err := c.getJSON(ctx, "/api/students/inside", &inside); err != nil {
		return 0, err
	}
	return len(inside), nil
}

// ListCameras returns the active camera sessions.
func (c *Client) ListCameras(ctx context.Context) ([]CameraSession, error) {
	var sessions []CameraSession
	if err := c.getJSON(ctx, "/api/cameras", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

var numericSource = regexp.MustCompile(`^[0-9]+$`)

// StartCamera asks the backend to start a capture session. Numeric source
// strings are sent as integers (local device indexes), anything else as-is
// (network stream addresses). Duplicate starts are accepted or rejected
// entirely by the server; no pre-check happens here.
func (c *Client) StartCamera(ctx context.Context, cameraID, cameraURL string) (*StartCameraResult, error) {
	if cameraID == "" {
		return nil, fmt.Errorf("camera id required")
	}
	var source interface{} = cameraURL
	if numericSource.MatchString(cameraURL) {
		n, _ := strconv.Atoi(cameraURL)
		source = n
	}
	payload := map[string]interface{}{
		"camera_id":  cameraID,
		"camera_url": source,
	}
	var result StartCameraResult
	if err := c.postJSON(ctx, "/api/cameras", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// VideoFeed opens the MJPEG stream for a camera. The caller owns the returned
// body and must close it. No overall timeout applies; cancel ctx to stop.
func (c *Client) VideoFeed(ctx context.Context, cameraID string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/video_feed/"+url.PathEscape(cameraID), nil)
	if err != nil {
		return nil, "", err
	}
	streamClient := &http.Client{Transport: c.HTTP.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("video feed request failed: %w", err)
	}
	if !isSuccess(resp.StatusCode) {
		defer resp.Body.Close()
		return nil, "", decodeFailure(resp)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// Users lists registered users.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.getJSON(ctx, "/api/users", &users); err != nil {
		return nil, err
	}
	return users, nil
}

// CreateUser enrolls a user with a captured photo via multipart upload.
func (c *Client) CreateUser(ctx context.Context, name, usn string, image []byte) (*User, error) {
	if name == "" || usn == "" {
		return nil, fmt.Errorf("name and usn required")
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("image required")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("name", name)
	_ = w.WriteField("usn", usn)
	part, err := w.CreateFormFile("image", "captured_image.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/users", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, decodeFailure(resp)
	}
	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &user, nil
}

// DeleteUser removes a user and their enrollment data.
func (c *Client) DeleteUser(ctx context.Context, id int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/api/users/%d", c.BaseURL, id), nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return decodeFailure(resp)
	}
	return nil
}

// Alerts fetches the alert log.
func (c *Client) Alerts(ctx context.Context) ([]Alert, error) {
	var alerts []Alert
	if err := c.getJSON(ctx, "/api/alerts", &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

// ClearAlerts empties the server-side alert log.
func (c *Client) ClearAlerts(ctx context.Context) error {
	return c.postJSON(ctx, "/api/alerts/clear", nil, nil)
}

// PendingApprovals lists enrollments awaiting admin action.
func (c *Client) PendingApprovals(ctx context.Context) ([]PendingApproval, error) {
	var pending []PendingApproval
	if err := c.getJSON(ctx, "/api/admin/approvals", &pending); err != nil {
		return nil, err
	}
	return pending, nil
}

// ApproveStudent accepts a pending enrollment. Irreversible from the client side.
func (c *Client) ApproveStudent(ctx context.Context, id int) error {
	return c.postJSON(ctx, fmt.Sprintf("/api/admin/approve/%d", id), nil, nil)
}

// RejectStudent rejects a pending enrollment. Irreversible from the client side.
func (c *Client) RejectStudent(ctx context.Context, id int) error {
	return c.postJSON(ctx, fmt.Sprintf("/api/admin/reject/%d", id), nil, nil)
}

// ClassTime fetches the class start / late threshold settings.
func (c *Client) ClassTime(ctx context.Context) (*ClassTime, error) {
	var ct ClassTime
	if err := c.getJSON(ctx, "/api/class-time", &ct); err != nil {
		return nil, err
	}
	return &ct, nil
}

// SetClassTime updates the class settings.
func (c *Client) SetClassTime(ctx context.Context, ct ClassTime) (*ClassTime, error) {
	var updated ClassTime
	if err := c.postJSON(ctx, "/api/class-time", ct, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// AnalyticsFor fetches the summary for one date (YYYY-MM-DD).
func (c *Client) AnalyticsFor(ctx context.Context, date string) (*Analytics, error) {
	var a Analytics
	if err := c.getJSON(ctx, "/api/analytics?date="+url.QueryEscape(date), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

var filenameRe = regexp.MustCompile(`filename="?([^";]+)"?`)

// ExportReport downloads an attendance report. The filename comes from the
// Content-Disposition header when present.
func (c *Client) ExportReport(ctx context.Context, startDate, endDate, format string, combineHours bool) (*Report, error) {
	q := url.Values{}
	q.Set("start_date", startDate)
	q.Set("end_date", endDate)
	q.Set("format", format)
	q.Set("combine_hours", strconv.FormatBool(combineHours))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/reports/export?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, decodeFailure(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	ext := "pdf"
	if format == "excel" {
		ext = "xlsx"
	}
	filename := fmt.Sprintf("attendance_%s_to_%s.%s", startDate, endDate, ext)
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if m := filenameRe.FindStringSubmatch(cd); m != nil {
			filename = m[1]
		}
	}
	return &Report{Filename: filename, Data: data}, nil
}

// Logout ends the backend session.
func (c *Client) Logout(ctx context.Context) error {
	return c.postJSON(ctx, "/logout", nil, nil)
}
