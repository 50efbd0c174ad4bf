package ingestion

import (
	"context"
	"log/slog"
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/skypro1111/live-caption-service/internal/protocol"
)

// DefaultPath is where browser producers connect
const DefaultPath = "/browser-audio"

// Config contains ingestion server settings
type Config struct {
	ListenAddress string
	Path          string
	SampleRate    int
}

// Server accepts producer websockets and feeds decoded frames to a Hub
type Server struct {
	config Config
	hub    *Hub
	app    *fiber.App
	logger *slog.Logger
}

// NewServer creates the ingestion server
func NewServer(config Config, hub *Hub, logger *slog.Logger) *Server {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: config,
		hub:    hub,
		app:    fiber.New(fiber.Config{DisableStartupMessage: true}),
		logger: logger.With(slog.String("component", "ingestion")),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":      "ok",
			"attached":    s.hub.Attached(),
			"connections": s.hub.Connections(),
		})
	})

	s.app.Use(s.config.Path, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("conn_id", uuid.NewString())
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get(s.config.Path, websocket.New(s.handleConn))
}

func (s *Server) handleConn(ws *websocket.Conn) {
	defer ws.Close()

	connID, _ := ws.Locals("conn_id").(string)
	logger := s.logger.With(slog.String("conn_id", connID))

	s.hub.connectionDelta(1)
	defer s.hub.connectionDelta(-1)

	logger.Info("Audio producer connected", slog.String("remote", ws.RemoteAddr().String()))
	if !s.hub.Attached() {
		logger.Warn("No pipeline is running in network mode, audio will be dropped until one starts")
	}

	for {
		messageType, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Audio producer read error", slog.String("error", err.Error()))
			}
			break
		}

		if messageType != websocket.BinaryMessage {
			logger.Warn("Ignoring non-binary message", slog.Int("type", messageType))
			continue
		}

		chunk, err := protocol.DecodeFrame(msg, s.config.SampleRate)
		if err != nil {
			logger.Warn("Dropping malformed frame",
				slog.Int("bytes", len(msg)),
				slog.String("error", err.Error()))
			continue
		}

		s.hub.Deliver(chunk)
	}

	logger.Info("Audio producer disconnected")
}

// Start listens on the configured address and serves until Shutdown
func (s *Server) Start() error {
	s.logger.Info("Starting ingestion server",
		slog.String("address", s.config.ListenAddress),
		slog.String("path", s.config.Path))
	return s.app.Listen(s.config.ListenAddress)
}

// Serve serves on an existing listener
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down ingestion server")
	return s.app.ShutdownWithContext(ctx)
}
