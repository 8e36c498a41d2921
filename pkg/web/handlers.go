package web

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/jakkii/scrapple/internal/log"
	"github.com/jakkii/scrapple/pkg/bridge"
)

// handleStatus reports overall backend state.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	running, lastTarget := s.orch.Status()
	command, decision := s.orch.LastTurn()

	s.demoMu.Lock()
	demo := s.demoRunning
	s.demoMu.Unlock()

	return c.JSON(fiber.Map{
		"status": "online",
		"state": fiber.Map{
			"visible_objects": s.orch.Visible(),
			"last_command":    command,
			"last_decision":   decision,
			"demo_running":    demo,
			"running":         running,
			"last_target":     lastTarget,
		},
	})
}

// handleAnnounce speaks the scanner prompt.
func (s *Server) handleAnnounce(c *fiber.Ctx) error {
	prompt, visible, err := s.orch.Announce(c.Context())
	resp := fiber.Map{
		"spoken":          prompt,
		"visible_objects": visible,
	}
	if err != nil {
		resp["speech_error"] = err.Error()
	}
	return c.JSON(resp)
}

type listenRequest struct {
	Duration int `json:"duration"`
}

// handleListen runs a full voice turn.
func (s *Server) handleListen(c *fiber.Ctx) error {
	var req listenRequest
	if err := c.BodyParser(&req); err != nil {
		req.Duration = 0
	}
	res := s.orch.BeginTurn(context.Background(), time.Duration(req.Duration)*time.Second)
	return c.JSON(res)
}

type evaluateRequest struct {
	Command        string   `json:"command"`
	VisibleObjects []string `json:"visible_objects"`
}

// handleEvaluate evaluates a browser-transcribed command.
func (s *Server) handleEvaluate(c *fiber.Ctx) error {
	var req evaluateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	res := s.orch.EvaluateText(context.Background(), req.Command, req.VisibleObjects)
	return c.JSON(res)
}

// handleFeed serves an MJPEG stream for the named channel. The stream
// runs until the client disconnects; paused channels keep receiving
// placeholder frames so the feed never terminates mid-session.
func (s *Server) handleFeed(name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "multipart/x-mixed-replace; boundary=frame")
		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			err := s.cams.Stream(context.Background(), name, func(jpeg []byte) error {
				if _, err := fmt.Fprintf(w,
					"--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpeg)); err != nil {
					return err
				}
				if _, err := w.Write(jpeg); err != nil {
					return err
				}
				if _, err := w.Write([]byte("\r\n")); err != nil {
					return err
				}
				return w.Flush()
			})
			if err != nil {
				log.Debug("video stream ended", "channel", name, "error", err)
			}
		}))
		return nil
	}
}

// handleDetections returns the latest detection snapshot.
func (s *Server) handleDetections(c *fiber.Ctx) error {
	return c.JSON(s.cams.Snapshot())
}

// handleVideoPause releases the camera handles.
func (s *Server) handleVideoPause(c *fiber.Ctx) error {
	if err := s.cams.PauseAll(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}
	return c.JSON(fiber.Map{"success": true, "paused": true})
}

// handleVideoResume re-enables the camera feeds.
func (s *Server) handleVideoResume(c *fiber.Ctx) error {
	if err := s.cams.ResumeAll(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}
	return c.JSON(fiber.Map{"success": true, "paused": false})
}

type sessionStartRequest struct {
	Task         string `json:"task"`
	EpisodeTimeS int    `json:"episode_time_s"`
	RepoID       string `json:"repo_id"`
	PolicyPath   string `json:"policy_path"`
}

// handleSessionStart starts a control session with request overrides on
// top of the configured defaults.
func (s *Server) handleSessionStart(c *fiber.Ctx) error {
	p := s.cfg.Session

	var req sessionStartRequest
	if err := c.BodyParser(&req); err == nil {
		if req.Task != "" {
			p.Task = req.Task
		}
		if req.EpisodeTimeS > 0 {
			p.EpisodeTimeS = req.EpisodeTimeS
		}
		if req.RepoID != "" {
			p.RepoID = req.RepoID
		}
		if req.PolicyPath != "" {
			p.PolicyPath = req.PolicyPath
		}
	}

	if err := s.orch.StartSession(p); err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, bridge.ErrAlreadyRunning) {
			status = fiber.StatusConflict
		}
		running, _ := s.orch.Status()
		return c.Status(status).JSON(fiber.Map{
			"success": false,
			"message": "Failed to start control session: " + err.Error(),
			"running": running,
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Control session started",
		"running": true,
	})
}

// handleSessionStop stops the control session.
func (s *Server) handleSessionStop(c *fiber.Ctx) error {
	err := s.orch.StopSession()
	if errors.Is(err, bridge.ErrNotRunning) {
		return c.JSON(fiber.Map{
			"success": false,
			"message": "No session to stop",
			"running": false,
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Control session stopped",
		"running": false,
	})
}

// handleSessionEnter forwards a proceed keystroke to the control
// process. With no active session this is a client error, not a retry.
func (s *Server) handleSessionEnter(c *fiber.Ctx) error {
	if err := s.orch.Confirm(); err != nil {
		running, _ := s.orch.Status()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "No active session or confirm failed: " + err.Error(),
			"running": running,
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Confirm sent to control process",
	})
}

// handleSessionKill force-stops the session and resumes video.
func (s *Server) handleSessionKill(c *fiber.Ctx) error {
	if err := s.orch.KillSession(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"success":       true,
		"message":       "Session terminated, video resumed",
		"video_resumed": true,
	})
}

// handleSessionStatus reports control session state.
func (s *Server) handleSessionStatus(c *fiber.Ctx) error {
	running, lastTarget := s.orch.Status()
	resp := fiber.Map{
		"running":     running,
		"last_target": lastTarget,
	}
	if s.info != nil {
		resp["state"] = s.info.State().String()
		resp["output"] = s.info.Output()
	}
	return c.JSON(resp)
}

// handleArmNext returns the current pick target for the arm pipeline.
func (s *Server) handleArmNext(c *fiber.Ctx) error {
	_, decision := s.orch.LastTurn()
	if decision.Valid && decision.Target != "" {
		return c.JSON(fiber.Map{"target": decision.Target})
	}
	return c.JSON(fiber.Map{"target": nil})
}

// handleDemoStart flags the frontend demo loop as running.
func (s *Server) handleDemoStart(c *fiber.Ctx) error {
	s.demoMu.Lock()
	s.demoRunning = true
	s.demoMu.Unlock()
	return c.JSON(fiber.Map{"ok": true, "demo_running": true})
}

// handleDemoStop flags the frontend demo loop as stopped.
func (s *Server) handleDemoStop(c *fiber.Ctx) error {
	s.demoMu.Lock()
	s.demoRunning = false
	s.demoMu.Unlock()
	return c.JSON(fiber.Map{"ok": true, "demo_running": false})
}
