// Package server is the agent's own HTTP surface: the dashboard frontend
// reads /state and drives camera, enrollment, and approval actions through it.
package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dashagent/internal/api"
	"dashagent/internal/auth"
	"dashagent/internal/camera"
	"dashagent/internal/config"
	"dashagent/internal/enroll"
	"dashagent/internal/httpmiddleware"
	"dashagent/internal/notify"
	"dashagent/internal/state"
)

// Deps carries everything the routes need.
type Deps struct {
	Cfg    config.App
	Store  *state.Store
	Client *api.Client
	Camera *camera.Manager
	Notify *notify.Service
	Enroll *enroll.Service

	// Healthy reports whether optional infrastructure (the Redis queue
	// backend) is reachable. Nil when the in-memory queue is in use.
	Healthy func() bool

	// QueueDepth reports the enrollment submission backlog. Nil when the
	// queue backend cannot measure it.
	QueueDepth func(ctx context.Context) (int64, error)
}

// New builds the router with the full middleware chain and all routes mounted.
func New(d Deps) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics", "/state"},
	}))
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(d.Cfg.RateLimitPerMin, d.Cfg.RateLimitPerMin,
		"/state", "/healthz", "/metrics").GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		queueHealthy := d.Healthy == nil || d.Healthy()
		status := http.StatusOK
		if !queueHealthy {
			status = http.StatusServiceUnavailable
		}
		resp := gin.H{"status": "ok", "queue": queueHealthy}
		if d.QueueDepth != nil {
			if n, err := d.QueueDepth(c.Request.Context()); err == nil {
				resp["pending_enrollments"] = n
			}
		}
		c.JSON(status, resp)
	})

	// The whole presentation state in one read, refreshed by the pollers.
	r.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, d.Store.Snapshot())
	})

	// Latest frame of the bound camera feed, for an <img> refresh loop.
	r.GET("/frame", func(c *gin.Context) {
		frame, ok := d.Camera.LatestFrame()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no frame available"})
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/jpeg", frame.Data)
	})

	r.POST("/auth/token", func(c *gin.Context) {
		var req struct {
			KioskID string `json:"kiosk_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token, err := auth.Issue(req.KioskID, auth.RoleKiosk, d.Cfg.JWTIssuer, d.Cfg.JWTSigningKey, d.Cfg.AccessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token": token.Value,
			"expires_at":   token.ExpiresAt.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.KioskAuth(d.Cfg.JWTSigningKey, d.Cfg.JWTIssuer))

	mountCamera(authGroup, d)
	mountEnrollment(authGroup, d)
	mountAlerts(authGroup, d)
	mountApprovals(authGroup, d)
	mountUsers(authGroup, d)
	mountRecords(authGroup, d)

	authGroup.POST("/logout", func(c *gin.Context) {
		if err := d.Client.Logout(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "logged out"})
	})

	return r
}

func mountCamera(g *gin.RouterGroup, d Deps) {
	g.POST("/camera/start", func(c *gin.Context) {
		var req struct {
			CameraID  string `json:"camera_id" binding:"required"`
			CameraURL string `json:"camera_url" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := d.Camera.Start(c.Request.Context(), req.CameraID, req.CameraURL)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	g.POST("/camera/release", func(c *gin.Context) {
		d.Camera.ReleaseFeed()
		c.JSON(http.StatusOK, gin.H{"message": "feed released"})
	})
}

func mountEnrollment(g *gin.RouterGroup, d Deps) {
	g.POST("/enroll/open", func(c *gin.Context) {
		if err := d.Enroll.Open(); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": d.Enroll.State()})
	})

	g.POST("/enroll/capture", func(c *gin.Context) {
		artifact, err := d.Enroll.Capture()
		switch {
		case err == enroll.ErrNotOpen:
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case err == camera.ErrNotReady:
			c.JSON(http.StatusConflict, gin.H{"error": "camera warming up, try again"})
		case err == camera.ErrAlreadyCaptured:
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{
				"state":  d.Enroll.State(),
				"width":  artifact.Width,
				"height": artifact.Height,
			})
		}
	})

	g.POST("/enroll/retake", func(c *gin.Context) {
		if err := d.Enroll.Retake(); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": d.Enroll.State()})
	})

	g.POST("/enroll/submit", func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
			USN  string `json:"usn" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := d.Enroll.Submit(c.Request.Context(), req.Name, req.USN)
		switch {
		case err == enroll.ErrNoCapture, err == enroll.ErrNotOpen:
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusAccepted, gin.H{"submission_id": id})
		}
	})

	g.POST("/enroll/close", func(c *gin.Context) {
		d.Enroll.Close()
		c.JSON(http.StatusOK, gin.H{"message": "enrollment closed"})
	})
}

func mountAlerts(g *gin.RouterGroup, d Deps) {
	g.POST("/alerts/clear", func(c *gin.Context) {
		if err := d.Notify.Clear(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "alerts cleared"})
	})
}

func mountApprovals(g *gin.RouterGroup, d Deps) {
	g.GET("/approvals", func(c *gin.Context) {
		approvals, err := d.Client.PendingApprovals(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"pending": approvals})
	})

	g.POST("/approvals/:id/approve", idAction(d.Client.ApproveStudent))
	g.POST("/approvals/:id/reject", idAction(d.Client.RejectStudent))
}

// idAction adapts a backend call keyed by a numeric path id into a handler.
func idAction(act func(ctx context.Context, id int) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		if err := act(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	}
}

func mountUsers(g *gin.RouterGroup, d Deps) {
	g.GET("/users", func(c *gin.Context) {
		users, err := d.Client.Users(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	})

	g.DELETE("/users/:id", func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		if err := d.Client.DeleteUser(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
	})
}

func mountRecords(g *gin.RouterGroup, d Deps) {
	g.GET("/attendance/archived", func(c *gin.Context) {
		records, err := d.Client.ArchivedAttendance(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	g.POST("/attendance/:id/archive", idAction(d.Client.ArchiveRecord))
	g.POST("/attendance/:id/unarchive", idAction(d.Client.UnarchiveRecord))

	g.GET("/class-time", func(c *gin.Context) {
		ct, err := d.Client.ClassTime(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, ct)
	})

	g.POST("/class-time", func(c *gin.Context) {
		var req api.ClassTime
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ct, err := d.Client.SetClassTime(c.Request.Context(), req)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, ct)
	})

	g.GET("/analytics", func(c *gin.Context) {
		a, err := d.Client.AnalyticsFor(c.Request.Context(), c.Query("date"))
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, a)
	})

	g.GET("/reports/export", func(c *gin.Context) {
		combine := c.Query("combine_hours") == "true"
		report, err := d.Client.ExportReport(c.Request.Context(),
			c.Query("start_date"), c.Query("end_date"), c.DefaultQuery("format", "pdf"), combine)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Disposition", "attachment; filename="+report.Filename)
		c.Data(http.StatusOK, "application/octet-stream", report.Data)
	})
}
