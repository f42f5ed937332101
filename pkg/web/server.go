// Package web provides the AR pipeline dashboard: status, the camera
// permission prompt, surface visibility, camera settings and a live scene
// feed over websockets.
package web

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-arx/pkg/camera"
	"github.com/teslashibe/go-arx/pkg/hub"
	"github.com/teslashibe/go-arx/pkg/pipeline"
)

// Pipeline is the control surface the dashboard drives.
// *pipeline.Orchestrator implements it.
type Pipeline interface {
	Status() pipeline.Status
	Resume() error
	Pause() error
	LayoutChanged() error
}

// LogEntry represents a log line for the dashboard
type LogEntry struct {
	Time    string `json:"time"`
	Type    string `json:"type"` // info, permission, error
	Message string `json:"message"`
}

// Event is pushed to websocket clients.
type Event struct {
	Type   string           `json:"type"` // status, permission_prompt, scene
	Status *pipeline.Status `json:"status,omitempty"`
	Scene  any              `json:"scene,omitempty"`
	Seq    uint64           `json:"seq,omitempty"`
}

const maxLogs = 500

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSceneSource supplies the payload broadcast on every paint.
func WithSceneSource(fn func() any) Option {
	return func(s *Server) {
		s.sceneSource = fn
	}
}

// WithStaticDir serves dashboard assets from dir.
func WithStaticDir(dir string) Option {
	return func(s *Server) {
		s.staticDir = dir
	}
}

// Server is the web dashboard server. It also acts as the camera permission
// prompter and as the display renderer.
type Server struct {
	app         *fiber.App
	addr        string
	logger      *slog.Logger
	pipeline    Pipeline
	camera      *camera.Manager
	sceneSource func() any
	staticDir   string

	// Log buffer (last maxLogs entries)
	logs   []LogEntry
	logsMu sync.RWMutex

	// Prompt answers waiting for the user
	prompts  []func(granted bool)
	promptMu sync.Mutex

	paints uint64
	drawMu sync.Mutex

	// Hubs for websocket broadcast
	statusHub *hub.Hub
	sceneHub  *hub.Hub
	logHub    *hub.Hub
}

// NewServer creates a dashboard listening on addr.
func NewServer(addr string, p Pipeline, cam *camera.Manager, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		logger:   slog.Default(),
		pipeline: p,
		camera:   cam,
		logs:     make([]LogEntry, 0, maxLogs),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "web")
	s.statusHub = hub.New("status", s.logger)
	s.sceneHub = hub.New("scene", s.logger)
	s.logHub = hub.New("logs", s.logger)

	app := fiber.New(fiber.Config{
		AppName:               "ARX Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	if s.staticDir != "" {
		app.Static("/", s.staticDir)
	}

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/visibility", s.handleVisibility)
	api.Post("/layout", s.handleLayout)
	api.Get("/permission", s.handleGetPermission)
	api.Post("/permission", s.handlePermission)
	api.Get("/camera", s.handleGetCamera)
	api.Put("/camera", s.handleUpdateCamera)
	api.Get("/logs", s.handleGetLogs)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket routes
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/scene", websocket.New(s.handleSceneWS))
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))

	s.app = app
	return s
}

// Start starts the hubs and serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("web dashboard listening", "addr", s.addr)

	go s.statusHub.Run()
	go s.sceneHub.Run()
	go s.logHub.Run()

	return s.app.Listen(s.addr)
}

// StartAsync starts the web server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("web server stopped", "error", err)
		}
	}()
}

// Shutdown gracefully stops the web server and its hubs.
func (s *Server) Shutdown() error {
	s.statusHub.Stop()
	s.sceneHub.Stop()
	s.logHub.Stop()
	return s.app.Shutdown()
}

// Prompt implements permission.Prompter. The answer arrives through
// POST /api/permission.
func (s *Server) Prompt(respond func(granted bool)) {
	s.promptMu.Lock()
	s.prompts = append(s.prompts, respond)
	s.promptMu.Unlock()

	s.AddLog("permission", "camera access requested")
	_ = s.statusHub.BroadcastJSON(Event{Type: "permission_prompt"})
}

// PendingPrompts returns how many prompts await an answer.
func (s *Server) PendingPrompts() int {
	s.promptMu.Lock()
	defer s.promptMu.Unlock()
	return len(s.prompts)
}

// answer resolves every pending prompt. It reports false if none was pending.
func (s *Server) answer(granted bool) bool {
	s.promptMu.Lock()
	pending := s.prompts
	s.prompts = nil
	s.promptMu.Unlock()

	for _, respond := range pending {
		respond(granted)
	}
	return len(pending) > 0
}

// Draw implements display.Renderer by pushing the scene to /ws/scene.
func (s *Server) Draw(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.drawMu.Lock()
	s.paints++
	seq := s.paints
	s.drawMu.Unlock()

	ev := Event{Type: "scene", Seq: seq}
	if s.sceneSource != nil {
		ev.Scene = s.sceneSource()
	}
	return s.sceneHub.BroadcastJSON(ev)
}

// PublishStatus pushes a status snapshot to /ws/status.
func (s *Server) PublishStatus(st pipeline.Status) {
	_ = s.statusHub.BroadcastJSON(Event{Type: "status", Status: &st})
}

// ReportError records a pipeline error for the dashboard.
func (s *Server) ReportError(err error) {
	s.AddLog("error", err.Error())
}

// AddLog adds a log entry and broadcasts to clients
func (s *Server) AddLog(logType, message string) {
	entry := LogEntry{
		Time:    time.Now().Format("15:04:05"),
		Type:    logType,
		Message: message,
	}

	s.logsMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogs {
		s.logs = s.logs[1:]
	}
	s.logsMu.Unlock()

	_ = s.logHub.BroadcastJSON(entry)
}
