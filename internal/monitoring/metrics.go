package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_poll_ticks_total",
			Help: "Completed poll task invocations",
		},
		[]string{"task", "status"},
	)

	pollSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_poll_skips_total",
			Help: "Ticks skipped because the previous invocation was still running",
		},
		[]string{"task"},
	)

	pollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dashboard_poll_duration_seconds",
			Help:    "Duration of poll task invocations",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"task"},
	)

	staleDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_stale_drops_total",
			Help: "Out-of-order panel updates discarded",
		},
		[]string{"panel"},
	)

	cameraStarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_camera_starts_total",
			Help: "Camera start requests by outcome",
		},
		[]string{"outcome"},
	)

	feedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dashboard_feed_frames_total",
			Help: "Frames received from the bound live feed",
		},
	)

	captures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_captures_total",
			Help: "Capture attempts by outcome",
		},
		[]string{"outcome"},
	)

	enrollSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_enroll_submissions_total",
			Help: "Enrollment submissions by outcome",
		},
		[]string{"outcome"},
	)
)

// ObservePoll records one finished poll task invocation.
func ObservePoll(task string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	pollTicks.WithLabelValues(task, status).Inc()
	pollDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())
}

// PollSkipped records a tick suppressed by the in-flight guard.
func PollSkipped(task string) { pollSkips.WithLabelValues(task).Inc() }

// StaleDropped records a discarded out-of-order panel update.
func StaleDropped(panel string) { staleDrops.WithLabelValues(panel).Inc() }

// CameraStart records a camera start outcome ("ok", "rejected", "error").
func CameraStart(outcome string) { cameraStarts.WithLabelValues(outcome).Inc() }

// FeedFrame records one live-feed frame.
func FeedFrame() { feedFrames.Inc() }

// Capture records a capture attempt outcome ("ok", "not_ready", "error").
func Capture(outcome string) { captures.WithLabelValues(outcome).Inc() }

// EnrollSubmission records an enrollment submission outcome.
func EnrollSubmission(outcome string) { enrollSubmissions.WithLabelValues(outcome).Inc() }
