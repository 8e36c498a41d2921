// Package web exposes the backend HTTP surface: voice turn endpoints,
// MJPEG camera feeds, detection queries and control session management.
package web

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/jakkii/scrapple/internal/log"
	"github.com/jakkii/scrapple/pkg/bridge"
	"github.com/jakkii/scrapple/pkg/hub"
	"github.com/jakkii/scrapple/pkg/orchestrator"
	"github.com/jakkii/scrapple/pkg/vision"
)

// detectionBroadcastEvery paces the websocket detection feed.
const detectionBroadcastEvery = 250 * time.Millisecond

// Camera is the arbiter surface the HTTP layer consumes.
type Camera interface {
	Stream(ctx context.Context, name string, emit func(jpeg []byte) error) error
	Snapshot() vision.DetectionSet
	PauseAll() error
	ResumeAll() error
}

// SessionInfo provides extra control process diagnostics for the
// status endpoint. Optional; may be nil.
type SessionInfo interface {
	State() bridge.State
	Output() []string
}

// Config configures the HTTP server.
type Config struct {
	Port string

	// Session is the default control process parameter set, overridden
	// per request by the start endpoint's body.
	Session bridge.Params
}

// Server is the backend HTTP server.
type Server struct {
	app  *fiber.App
	cfg  Config
	orch *orchestrator.Orchestrator
	cams Camera
	info SessionInfo

	detHub *hub.Hub

	demoMu      sync.Mutex
	demoRunning bool
}

// NewServer wires the routes. info may be nil when no control process
// diagnostics are available.
func NewServer(cfg Config, orch *orchestrator.Orchestrator, cams Camera, info SessionInfo) *Server {
	s := &Server{
		cfg:    cfg,
		orch:   orch,
		cams:   cams,
		info:   info,
		detHub: hub.New("detections"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Scrapple Backend",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)

	api.Post("/voice/announce", s.handleAnnounce)
	api.Post("/voice/listen", s.handleListen)
	api.Post("/voice/evaluate", s.handleEvaluate)

	api.Get("/video/feed", s.handleFeed("front"))
	api.Get("/video/handeye", s.handleFeed("handeye"))
	api.Post("/video/pause", s.handleVideoPause)
	api.Post("/video/resume", s.handleVideoResume)
	api.Get("/detections", s.handleDetections)

	api.Post("/lerobot/start", s.handleSessionStart)
	api.Post("/lerobot/stop", s.handleSessionStop)
	api.Post("/lerobot/enter", s.handleSessionEnter)
	api.Post("/lerobot/kill", s.handleSessionKill)
	api.Get("/lerobot/status", s.handleSessionStatus)

	api.Get("/arm/next", s.handleArmNext)

	api.Post("/demo/start", s.handleDemoStart)
	api.Post("/demo/stop", s.handleDemoStop)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/detections", websocket.New(s.handleDetectionsWS))

	s.app = app
	return s
}

// App exposes the fiber app, used by tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until the context is canceled or the listener fails.
func (s *Server) Listen(ctx context.Context) error {
	go s.detHub.Run()
	go s.broadcastDetections(ctx)

	go func() {
		<-ctx.Done()
		if err := s.app.Shutdown(); err != nil {
			log.Warn("server shutdown", "error", err)
		}
	}()

	log.Info("backend listening", "port", s.cfg.Port)
	return s.app.Listen(":" + s.cfg.Port)
}

// broadcastDetections pushes detection snapshots to websocket clients.
func (s *Server) broadcastDetections(ctx context.Context) {
	ticker := time.NewTicker(detectionBroadcastEvery)
	defer ticker.Stop()

	var lastAt time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.detHub.ClientCount() == 0 {
				continue
			}
			snap := s.cams.Snapshot()
			if snap.At.Equal(lastAt) {
				continue
			}
			lastAt = snap.At
			if err := s.detHub.BroadcastJSON(snap); err != nil {
				log.Warn("detection broadcast failed", "error", err)
			}
		}
	}
}

// handleDetectionsWS attaches a client to the detection feed.
func (s *Server) handleDetectionsWS(c *websocket.Conn) {
	hub.NewClient(s.detHub, c).Run()
}
