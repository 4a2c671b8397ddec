package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"dashagent/internal/api"
	"dashagent/internal/attendance"
	"dashagent/internal/camera"
	"dashagent/internal/config"
	"dashagent/internal/enroll"
	"dashagent/internal/monitoring"
	"dashagent/internal/notify"
	"dashagent/internal/poller"
	"dashagent/internal/queue"
	"dashagent/internal/server"
	"dashagent/internal/state"
	"dashagent/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("agent failed: %v", err)
	}
}

func run(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := api.New(cfg.BackendURL, cfg.RequestTimeout)

	st := state.New()
	st.OnStaleDrop(func(p state.Panel) { monitoring.StaleDropped(string(p)) })

	const queueKey = "dashboard:enrollments"
	var (
		q          queue.Queue
		healthy    func() bool
		queueDepth func(ctx context.Context) (int64, error)
	)
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		q = queue.NewRedisQueue(redisClient.Client, queueKey)
		healthy = func() bool {
			hctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return redisClient.Healthy(hctx)
		}
		queueDepth = func(ctx context.Context) (int64, error) {
			return redisClient.PendingEnrollments(ctx, queueKey)
		}
	}

	mgr := camera.NewManager(client, st)

	coord := camera.NewCoordinator(mgr, cfg.AutoStartDelay, cfg.DefaultCameraID, cfg.DefaultCameraURL)
	go func() {
		if err := coord.Run(ctx); err != nil {
			log.Printf("camera auto-start: %v", err)
		}
	}()

	notifier := notify.CommandNotifier{Command: cfg.NotifyCommand}
	notifySvc := notify.NewService(client, st, notifier, notifier.Granted())

	enrollSvc := enroll.NewService(client, q, enrollSource(client, mgr), cfg.CaptureQuality, cfg.CaptureMinReady,
		func() {
			rctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
			defer cancel()
			if err := notifySvc.RefreshApprovals(rctx); err != nil {
				log.Printf("approval refresh after enrollment: %v", err)
			}
		})
	go func() {
		if err := enrollSvc.RunWorker(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("enrollment worker: %v", err)
		}
	}()

	sched := poller.New()
	registerPolls(sched, cfg, client, st, notifySvc)
	sched.Start(ctx)

	r := server.New(server.Deps{
		Cfg:        cfg,
		Store:      st,
		Client:     client,
		Camera:     mgr,
		Notify:     notifySvc,
		Enroll:     enrollSvc,
		Healthy:    healthy,
		QueueDepth: queueDepth,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("dashboard agent listening on %s (backend %s)", srv.Addr, cfg.BackendURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("shutting down")
	enrollSvc.Close()
	mgr.ReleaseFeed()
	sched.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// registerPolls wires every panel refresh onto the scheduler. Each fetch runs
// under a sequence number so a slow response can never clobber a newer one.
func registerPolls(sched *poller.Scheduler, cfg config.App, client *api.Client, st *state.Store, notifySvc *notify.Service) {
	sched.Add("clock", cfg.ClockInterval, func(ctx context.Context) error {
		st.Update(func(s *state.Snapshot) {
			s.Clock = time.Now().Format("3:04:05 PM")
		})
		return nil
	})

	sched.Add("ongoing", cfg.OngoingInterval, func(ctx context.Context) error {
		seq := st.Begin(state.PanelOngoing)
		records, err := client.Attendance(ctx)
		if err != nil {
			st.Apply(state.PanelOngoing, seq, func(s *state.Snapshot) {
				s.Ongoing = attendance.ErrorView()
			})
			return err
		}
		view := attendance.OngoingView(records, time.Now())
		st.Apply(state.PanelOngoing, seq, func(s *state.Snapshot) { s.Ongoing = view })
		return nil
	})

	sched.Add("completed", cfg.CompletedInterval, func(ctx context.Context) error {
		seq := st.Begin(state.PanelCompleted)
		records, err := client.Attendance(ctx)
		if err != nil {
			st.Apply(state.PanelCompleted, seq, func(s *state.Snapshot) {
				s.Completed = attendance.ErrorView()
			})
			return err
		}
		view := attendance.CompletedView(records)
		st.Apply(state.PanelCompleted, seq, func(s *state.Snapshot) { s.Completed = view })
		return nil
	})

	sched.Add("sessions", cfg.SessionInterval, func(ctx context.Context) error {
		seq := st.Begin(state.PanelSessions)
		sessions, err := client.ListCameras(ctx)
		if err != nil {
			return err
		}
		st.Apply(state.PanelSessions, seq, func(s *state.Snapshot) { s.Cameras = sessions })

		insideSeq := st.Begin(state.PanelInside)
		count, err := client.StudentsInside(ctx)
		if err != nil {
			return err
		}
		st.Apply(state.PanelInside, insideSeq, func(s *state.Snapshot) { s.InsideCount = count })
		return nil
	})

	sched.Add("alerts", cfg.AlertInterval, notifySvc.RefreshAlerts)
	sched.Add("approvals", cfg.ApprovalInterval, notifySvc.RefreshApprovals)
}

// enrollSource opens a dedicated MJPEG stream of the currently displayed
// camera for the enrollment capture flow.
func enrollSource(client *api.Client, mgr *camera.Manager) enroll.SourceFactory {
	return func(ctx context.Context) (camera.FrameSource, error) {
		cameraID := mgr.CurrentCameraID()
		if cameraID == "" {
			return nil, errors.New("no camera session active")
		}
		src, err := camera.OpenMJPEG(ctx, func(sctx context.Context) (io.ReadCloser, string, error) {
			return client.VideoFeed(sctx, cameraID)
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}
