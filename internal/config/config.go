package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env      string
	HTTPPort string

	// Attendance backend the agent polls.
	BackendURL     string
	RequestTimeout time.Duration

	// Camera bootstrap.
	DefaultCameraID  string
	DefaultCameraURL string
	AutoStartDelay   time.Duration

	// Poll cadences.
	ClockInterval     time.Duration
	OngoingInterval   time.Duration
	CompletedInterval time.Duration
	SessionInterval   time.Duration
	AlertInterval     time.Duration
	ApprovalInterval  time.Duration

	// Capture pipeline.
	CaptureQuality  int
	CaptureMinReady int

	// Enrollment submission queue.
	QueueBackend string
	RedisAddr    string

	// Agent surface auth.
	JWTIssuer       string
	JWTSigningKey   string
	AccessTTL       time.Duration
	RateLimitPerMin int

	// System notifications for pending approvals.
	NotifyCommand string
}

// Load returns application config populated from environment variables with sensible defaults.
// A .env file in the working directory is honored when present.
func Load() App {
	if err := godotenv.Load(); err == nil {
		log.Println("loaded environment from .env")
	}
	return App{
		Env:               getEnv("APP_ENV", "dev"),
		HTTPPort:          getEnv("HTTP_PORT", "8090"),
		BackendURL:        getEnv("BACKEND_URL", "http://localhost:5001"),
		RequestTimeout:    durationEnv("REQUEST_TIMEOUT", 10*time.Second),
		DefaultCameraID:   getEnv("DEFAULT_CAMERA_ID", "macbook_camera"),
		DefaultCameraURL:  getEnv("DEFAULT_CAMERA_URL", "0"),
		AutoStartDelay:    durationEnv("AUTO_START_DELAY", 2*time.Second),
		ClockInterval:     durationEnv("CLOCK_INTERVAL", time.Second),
		OngoingInterval:   durationEnv("ONGOING_INTERVAL", 5*time.Second),
		CompletedInterval: durationEnv("COMPLETED_INTERVAL", 10*time.Second),
		SessionInterval:   durationEnv("SESSION_INTERVAL", 5*time.Second),
		AlertInterval:     durationEnv("ALERT_INTERVAL", 3*time.Second),
		ApprovalInterval:  durationEnv("APPROVAL_INTERVAL", 30*time.Second),
		CaptureQuality:    intEnv("CAPTURE_QUALITY", 95),
		CaptureMinReady:   intEnv("CAPTURE_MIN_READY", 3),
		QueueBackend:      getEnv("QUEUE_BACKEND", "memory"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		JWTIssuer:         getEnv("JWT_ISSUER", "dashboard-agent"),
		JWTSigningKey:     getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		AccessTTL:         durationEnv("ACCESS_TTL", 12*time.Hour),
		RateLimitPerMin:   intEnv("RATE_LIMIT_PER_MIN", 240),
		NotifyCommand:     getEnv("NOTIFY_COMMAND", ""),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}
