package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/capture"
	"github.com/foxseedlab/kikitori/internal/session"
	"github.com/gofiber/fiber/v2"
)

const stopTimeout = 5 * time.Minute

// SessionService is the part of session.Manager the API exposes.
type SessionService interface {
	Start(ctx context.Context) (session.StartResult, error)
	Stop(ctx context.Context) (string, error)
	Status() session.Status
	NewChunksSince(ctx context.Context, lastChunkID string) ([]session.ChunkView, error)
	CombinedTranscript() (string, error)
	TranscriptPath() (string, error)
	AudioPath(ctx context.Context, chunkID string) (string, error)
	SetThreshold(source audio.Source, value float64) error
}

type Server struct {
	app *fiber.App
	svc SessionService
}

type startResponse struct {
	Session           session.Status `json:"session"`
	ReplacedSessionID string         `json:"replaced_session_id,omitempty"`
}

type stopResponse struct {
	SessionID string `json:"session_id"`
}

type chunksResponse struct {
	Chunks []session.ChunkView `json:"chunks"`
}

type pathResponse struct {
	Path string `json:"path"`
}

type thresholdRequest struct {
	Value *float64 `json:"value"`
}

func NewServer(svc SessionService) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{DisableStartupMessage: true}),
		svc: svc,
	}
	api := s.app.Group("/api")
	api.Post("/sessions", s.startSession)
	api.Delete("/sessions/active", s.stopSession)
	api.Get("/sessions/active", s.sessionStatus)
	api.Get("/chunks", s.listChunks)
	api.Get("/chunks/:id/audio", s.chunkAudio)
	api.Get("/transcript", s.transcript)
	api.Get("/transcript/path", s.transcriptPath)
	api.Put("/thresholds/:source", s.setThreshold)
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	slog.Info("http api listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func (s *Server) startSession(c *fiber.Ctx) error {
	res, err := s.svc.Start(c.UserContext())
	if err != nil {
		slog.Error("failed to start session", "error", err)
		if errors.Is(err, audio.ErrDeviceUnavailable) {
			return errorJSON(c, fiber.StatusServiceUnavailable, err.Error())
		}
		return errorJSON(c, fiber.StatusInternalServerError, "failed to start session")
	}
	return c.Status(fiber.StatusCreated).JSON(startResponse{
		Session:           s.svc.Status(),
		ReplacedSessionID: res.ReplacedSessionID,
	})
}

func (s *Server) stopSession(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), stopTimeout)
	defer cancel()
	id, err := s.svc.Stop(ctx)
	if errors.Is(err, session.ErrNoActiveSession) {
		return errorJSON(c, fiber.StatusNotFound, err.Error())
	}
	if err != nil {
		// The session is gone either way; report the id with the failure.
		slog.Error("session stopped with errors", "error", err, "session_id", id)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"session_id": id, "error": err.Error()})
	}
	return c.JSON(stopResponse{SessionID: id})
}

func (s *Server) sessionStatus(c *fiber.Ctx) error {
	return c.JSON(s.svc.Status())
}

func (s *Server) listChunks(c *fiber.Ctx) error {
	chunks, err := s.svc.NewChunksSince(c.UserContext(), c.Query("after"))
	if err != nil {
		slog.Error("failed to list chunks", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "failed to list chunks")
	}
	return c.JSON(chunksResponse{Chunks: chunks})
}

func (s *Server) chunkAudio(c *fiber.Ctx) error {
	chunkID := c.Params("id")
	path, err := s.svc.AudioPath(c.UserContext(), chunkID)
	if errors.Is(err, session.ErrChunkNotFound) {
		return errorJSON(c, fiber.StatusNotFound, err.Error())
	}
	if err != nil {
		slog.Error("failed to look up chunk audio", "error", err, "chunk_id", chunkID)
		return errorJSON(c, fiber.StatusInternalServerError, "failed to look up chunk audio")
	}
	c.Type("wav")
	return c.SendFile(path)
}

func (s *Server) transcript(c *fiber.Ctx) error {
	text, err := s.svc.CombinedTranscript()
	if errors.Is(err, session.ErrNoActiveSession) {
		return errorJSON(c, fiber.StatusNotFound, err.Error())
	}
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.SendString(text)
}

func (s *Server) transcriptPath(c *fiber.Ctx) error {
	path, err := s.svc.TranscriptPath()
	if errors.Is(err, session.ErrNoActiveSession) {
		return errorJSON(c, fiber.StatusNotFound, err.Error())
	}
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(pathResponse{Path: path})
}

func (s *Server) setThreshold(c *fiber.Ctx) error {
	var req thresholdRequest
	if err := c.BodyParser(&req); err != nil || req.Value == nil {
		return errorJSON(c, fiber.StatusBadRequest, "`value` field is required")
	}
	source := audio.Source(c.Params("source"))
	err := s.svc.SetThreshold(source, *req.Value)
	switch {
	case errors.Is(err, capture.ErrUnknownSource), errors.Is(err, capture.ErrInvalidThreshold):
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	case err != nil:
		slog.Error("failed to set threshold", "error", err, "source", source)
		return errorJSON(c, fiber.StatusInternalServerError, "failed to set threshold")
	}
	slog.Info("noise threshold updated", "source", source, "value", *req.Value)
	return c.JSON(s.svc.Status())
}
