package web

import (
	"slices"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-arx/pkg/camera"
	"github.com/teslashibe/go-arx/pkg/hub"
)

// handleStatus returns the pipeline status
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.pipeline.Status())
}

// VisibilityRequest is the request body for POST /api/visibility
type VisibilityRequest struct {
	Visible bool `json:"visible"`
}

// handleVisibility resumes or pauses the pipeline
func (s *Server) handleVisibility(c *fiber.Ctx) error {
	var req VisibilityRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	op := s.pipeline.Pause
	if req.Visible {
		op = s.pipeline.Resume
	}
	if err := op(); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(s.pipeline.Status())
}

// handleLayout reports a layout change
func (s *Server) handleLayout(c *fiber.Ctx) error {
	if err := s.pipeline.LayoutChanged(); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(s.pipeline.Status())
}

// handleGetPermission reports pending prompts
func (s *Server) handleGetPermission(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"pending":    s.PendingPrompts(),
		"permission": s.pipeline.Status().Permission,
	})
}

// PermissionRequest is the request body for POST /api/permission
type PermissionRequest struct {
	Granted bool `json:"granted"`
}

// handlePermission answers the pending camera prompt
func (s *Server) handlePermission(c *fiber.Ctx) error {
	var req PermissionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if !s.answer(req.Granted) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "no permission request outstanding",
		})
	}

	msg := "camera access denied"
	if req.Granted {
		msg = "camera access granted"
	}
	s.AddLog("permission", msg)
	return c.JSON(s.pipeline.Status())
}

// handleGetCamera returns camera settings and capabilities
func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"config":       s.camera.GetConfigJSON(),
		"capabilities": camera.Capabilities(),
	})
}

// handleUpdateCamera applies a partial camera update
func (s *Server) handleUpdateCamera(c *fiber.Ctx) error {
	params := make(map[string]any)
	if err := c.BodyParser(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if err := s.camera.UpdateConfig(params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	s.AddLog("info", "camera settings updated")
	return c.JSON(s.camera.GetConfigJSON())
}

// handleGetLogs returns recent log entries
func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return c.JSON(slices.Clone(s.logs))
}

// handleStatusWS streams status events, starting with a snapshot
func (s *Server) handleStatusWS(c *websocket.Conn) {
	client := hub.NewClient(s.statusHub, c)
	if client == nil {
		return
	}
	st := s.pipeline.Status()
	_ = c.WriteJSON(Event{Type: "status", Status: &st})
	client.Run()
}

// handleSceneWS streams scene events
func (s *Server) handleSceneWS(c *websocket.Conn) {
	if client := hub.NewClient(s.sceneHub, c); client != nil {
		client.Run()
	}
}

// handleLogsWS streams log entries, starting with the buffered ones
func (s *Server) handleLogsWS(c *websocket.Conn) {
	client := hub.NewClient(s.logHub, c)
	if client == nil {
		return
	}
	s.logsMu.RLock()
	backlog := slices.Clone(s.logs)
	s.logsMu.RUnlock()
	for _, entry := range backlog {
		_ = c.WriteJSON(entry)
	}
	client.Run()
}
