package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
)

type Server struct {
	cfg       Config
	logger    *zap.Logger
	startedAt time.Time

	connectionManager *ConnectionManager
	gameManager       *GameManager
	sessionManager    *SessionManager
	rateLimiter       *RateLimiter
	health            *ConnectionHealth

	done chan struct{}
}

// New wires a Server from explicit dependencies. Tests construct these
// directly; production goes through NewServer.
func New(cfg Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:               cfg,
		logger:            logger,
		startedAt:         time.Now(),
		connectionManager: NewConnectionManager(),
		gameManager:       NewGameManager(),
		sessionManager:    NewSessionManager(cfg.SessionTTL),
		rateLimiter:       NewRateLimiter(cfg.RateLimit, time.Second),
		health:            NewConnectionHealth(),
		done:              make(chan struct{}),
	}
}

func NewServer() (*Server, *http.Server) {
	cfg := LoadConfig()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("logger init: %s", err))
	}

	s := New(cfg, logger)
	go s.sweepTask()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s, httpServer
}

// sweepTask runs the periodic maintenance pass until Shutdown.
func (s *Server) sweepTask() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

// Shutdown notifies every connected client and stops background work. The
// HTTP listener is shut down separately by the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.done)

	msg := ServerMessage{
		Type: "serverShutdown",
		Payload: ErrorMessage{
			Message: "Server is shutting down",
			Code:    "SERVER_SHUTDOWN",
		},
	}
	for _, conn := range s.connectionManager.All() {
		if err := s.sendMessage(conn, ctx, msg); err != nil {
			s.logger.Debug("shutdown notice failed", zap.Error(err))
		}
		conn.Close(websocket.StatusGoingAway, "Server shutting down")
	}

	s.logger.Info("server shut down",
		zap.Int("rooms", s.gameManager.RoomCount()),
		zap.Int("sessions", s.sessionManager.Count()))
	return s.logger.Sync()
}
