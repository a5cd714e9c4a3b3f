package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ridelink/ridechat/internal/chat"
	"github.com/ridelink/ridechat/internal/outbox"
	"github.com/ridelink/ridechat/internal/session"
	"go.uber.org/zap"
)

const maxEventWait = 25 * time.Second

// Server is the local HTTP API on the session's Unix domain socket.
type Server struct {
	app        *fiber.App
	listener   net.Listener
	socketPath string
	core       *Core
	events     *EventLog
	logger     *zap.Logger
}

// NewServer binds the session socket and registers the API routes.
func NewServer(p Params, core *Core, events *EventLog, logger *zap.Logger) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	s := &Server{
		listener:   listener,
		socketPath: socketPath,
		core:       core,
		events:     events,
		logger:     logger,
	}
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		AppName:               "ridechatd",
	})
	s.routes(p.SessionName)
	return s, nil
}

func (s *Server) routes(sessionName string) {
	s.app.Get("/v1/status", func(c *fiber.Ctx) error {
		connected := false
		if _, pc, _, _, _, err := s.core.runtime(); err == nil {
			connected = pc.Connected()
		}
		return c.JSON(fiber.Map{
			"session":        sessionName,
			"state":          s.core.machine.Current(),
			"user_id":        s.core.UserID(),
			"push_connected": connected,
		})
	})

	s.app.Post("/v1/auth", func(c *fiber.Ctx) error {
		var req struct {
			UserID int64  `json:"user_id"`
			Token  string `json:"token"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := s.core.Authenticate(req.UserID, req.Token); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.JSON(fiber.Map{"user_id": req.UserID})
	})

	s.app.Get("/v1/contacts", func(c *fiber.Ctx) error {
		_, _, dir, _, _, err := s.core.runtime()
		if err != nil {
			return authError(err)
		}
		return c.JSON(fiber.Map{"contacts": dir.List()})
	})

	s.app.Post("/v1/contacts", func(c *fiber.Ctx) error {
		gw, _, dir, _, _, err := s.core.runtime()
		if err != nil {
			return authError(err)
		}
		var req struct {
			UserID int64 `json:"user_id"`
		}
		if err := c.BodyParser(&req); err != nil || req.UserID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "user_id is required")
		}
		if err := gw.AddContact(c.Context(), req.UserID); err != nil {
			s.logger.Warn("add contact upstream failed", zap.Int64("user_id", req.UserID), zap.Error(err))
		}
		contact, err := dir.Lookup(c.Context(), req.UserID)
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return c.JSON(contact)
	})

	s.app.Get("/v1/conversations/:peer/messages", func(c *fiber.Ctx) error {
		gw, _, _, _, _, err := s.core.runtime()
		if err != nil {
			return authError(err)
		}
		peer, err := peerParam(c)
		if err != nil {
			return err
		}
		key := chat.ConversationKey(s.core.UserID(), peer)
		msgs, ok := s.core.cache.Get(key)
		if !ok {
			msgs, err = gw.Messages(c.Context(), peer)
			if err != nil {
				return fiber.NewError(fiber.StatusBadGateway, err.Error())
			}
			s.core.cache.Put(key, msgs)
		}
		return c.JSON(fiber.Map{"messages": msgs})
	})

	s.app.Post("/v1/conversations/:peer/open", func(c *fiber.Ctx) error {
		_, _, _, engine, _, err := s.core.runtime()
		if err != nil {
			return authError(err)
		}
		peer, err := peerParam(c)
		if err != nil {
			return err
		}
		msgs, err := engine.OpenConversation(c.Context(), peer)
		if err != nil {
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}
		return c.JSON(fiber.Map{"messages": msgs})
	})

	s.app.Post("/v1/conversations/:peer/close", func(c *fiber.Ctx) error {
		_, _, _, engine, _, err := s.core.runtime()
		if err != nil {
			return authError(err)
		}
		engine.CloseConversation()
		return c.SendStatus(fiber.StatusNoContent)
	})

	s.app.Post("/v1/messages", func(c *fiber.Ctx) error {
		_, _, _, _, sender, err := s.core.runtime()
		if err != nil {
			return authError(err)
		}
		var req struct {
			ToID    int64  `json:"to_id"`
			PeerID  int64  `json:"peer_id"`
			Body    string `json:"body"`
			Content string `json:"content"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		peer := req.ToID
		if peer == 0 {
			peer = req.PeerID
		}
		body := req.Body
		if body == "" {
			body = req.Content
		}
		msg, err := sender.Queue(peer, body)
		switch {
		case errors.Is(err, outbox.ErrEmptyBody), errors.Is(err, outbox.ErrNoRecipient):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case errors.Is(err, outbox.ErrSendInFlight):
			return fiber.NewError(fiber.StatusConflict, err.Error())
		case err != nil:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusAccepted).JSON(msg)
	})

	s.app.Post("/v1/messages/read", func(c *fiber.Ctx) error {
		gw, _, dir, _, _, err := s.core.runtime()
		if err != nil {
			return authError(err)
		}
		var req struct {
			FromID int64 `json:"from_id"`
		}
		if err := c.BodyParser(&req); err != nil || req.FromID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "from_id is required")
		}
		dir.ResetUnread(req.FromID)
		if err := gw.MarkRead(c.Context(), req.FromID); err != nil {
			s.logger.Warn("mark read upstream failed", zap.Int64("from_id", req.FromID), zap.Error(err))
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	s.app.Get("/v1/events", func(c *fiber.Ctx) error {
		cursor, _ := strconv.ParseUint(c.Query("cursor", "0"), 10, 64)
		wait, err := time.ParseDuration(c.Query("wait", "0s"))
		if err != nil || wait < 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid wait")
		}
		if wait > maxEventWait {
			wait = maxEventWait
		}

		var entries []Entry
		var next uint64
		if wait > 0 {
			entries, next = s.events.Wait(c.Context(), cursor, wait)
		} else {
			entries, next = s.events.Since(cursor)
		}
		if entries == nil {
			entries = []Entry{}
		}
		return c.JSON(fiber.Map{"cursor": next, "events": entries})
	})

	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

// Start serves requests on the session socket. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("local API listening", zap.String("socket", s.socketPath))
	return s.app.Listener(s.listener)
}

// Stop shuts the server down and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("local API stopping")
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		s.logger.Warn("shutdown", zap.Error(err))
	}
	_ = os.Remove(s.socketPath)
}

func peerParam(c *fiber.Ctx) (int64, error) {
	peer, err := strconv.ParseInt(c.Params("peer"), 10, 64)
	if err != nil || peer <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid peer id")
	}
	return peer, nil
}

func authError(err error) error {
	return fiber.NewError(fiber.StatusConflict, err.Error())
}
