package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"keepto/internal/app"
	"keepto/internal/middleware"
	"keepto/internal/models"
	"keepto/internal/observability"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum command size allowed from the peer.
	maxMessageSize = 16384

	sendBuffer = 256
)

// Frame is one server-to-client message on the view stream. View changes
// use the event type with Data; command replies echo the command ID with
// type "result" or "error".
type Frame struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

const (
	FrameResult = "result"
	FrameError  = "error"
	FrameDrop   = "frames_dropped"
)

func (s *Server) upgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// streamConn is the middleman between one websocket and its app client.
type streamConn struct {
	conn   *websocket.Conn
	uid    string
	logger *slog.Logger
	send   chan []byte
	done   chan struct{}

	dropMu  sync.Mutex
	dropped bool
}

func newStreamConn(conn *websocket.Conn, uid string, logger *slog.Logger) *streamConn {
	return &streamConn{
		conn:   conn,
		uid:    uid,
		logger: logger,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

// trySend queues f without blocking. A full buffer drops the frame and
// queues one drop notice so the client knows to resync.
func (sc *streamConn) trySend(f Frame) {
	msg, err := json.Marshal(f)
	if err != nil {
		sc.logger.Error("encode frame failed", slog.String("type", f.Type), slog.String("error", err.Error()))
		return
	}
	select {
	case <-sc.done:
		return
	default:
	}
	select {
	case sc.send <- msg:
		sc.dropMu.Lock()
		sc.dropped = false
		sc.dropMu.Unlock()
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues("full").Inc()
		sc.dropMu.Lock()
		notify := !sc.dropped
		sc.dropped = true
		sc.dropMu.Unlock()
		sc.logger.Warn("view stream buffer full, dropped frame", slog.String("type", f.Type))
		if notify {
			select {
			case sc.send <- []byte(`{"type":"` + FrameDrop + `"}`):
			default:
			}
		}
	}
}

func (sc *streamConn) emit(ev app.Event) {
	sc.trySend(Frame{Type: ev.Type, Data: ev.Data})
}

// writePump drains send to the socket and keeps it alive with pings.
func (sc *streamConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sc.conn.Close()
	}()

	for {
		select {
		case msg := <-sc.send:
			_ = sc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sc.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = sc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sc.done:
			_ = sc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = sc.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump runs commands from the socket until it closes.
func (sc *streamConn) readPump(ctx context.Context, handle func(context.Context, app.Command)) {
	sc.conn.SetReadLimit(maxMessageSize)
	_ = sc.conn.SetReadDeadline(time.Now().Add(pongWait))
	sc.conn.SetPongHandler(func(string) error {
		return sc.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := sc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				sc.logger.Warn("view stream read failed", slog.String("error", err.Error()))
			}
			return
		}
		var cmd app.Command
		if err := json.Unmarshal(msg, &cmd); err != nil {
			sc.trySend(Frame{Type: FrameError, Error: "Invalid command", Code: models.CodeValidation})
			continue
		}
		handle(ctx, cmd)
	}
}

// StreamHandler serves GET /api/ws: a live app client whose view changes
// are pushed as frames and which accepts commands as JSON messages.
func (s *Server) StreamHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		observability.WebSocketConnections.Inc()
		defer observability.WebSocketConnections.Dec()

		uid, _ := conn.Locals(middleware.UserIDLocal).(string)
		logger := s.logger.With(slog.String("user_id", uid))
		sc := newStreamConn(conn, uid, logger)

		ctx, cancel := context.WithCancel(observability.WithUserID(s.shutdownCtx, uid))
		defer cancel()

		client := s.services.NewClient(ctx, sc.emit)
		if err := client.Resume(ctx, uid); err != nil {
			client.Close()
			logger.Warn("view stream rejected", slog.String("error", err.Error()))
			_ = conn.WriteMessage(websocket.TextMessage, mustFrame(Frame{Type: FrameError, Error: "unauthorized", Code: models.CodeUnauthorized}))
			_ = conn.Close()
			return
		}
		logger.Info("view stream opened")

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			sc.writePump()
		}()

		// The read pump blocks on the socket; shutdown closes the socket
		// through the write pump.
		go func() {
			select {
			case <-ctx.Done():
				close(sc.done)
			case <-sc.done:
			}
		}()

		sc.readPump(ctx, func(ctx context.Context, cmd app.Command) {
			s.runCommand(ctx, sc, client, cmd)
		})

		client.Close()
		cancel()
		wg.Wait()
		logger.Info("view stream closed")
	})
}

func (s *Server) runCommand(ctx context.Context, sc *streamConn, client *app.Client, cmd app.Command) {
	if cmd.Type == app.CmdPost {
		allowed, err := middleware.CheckRateLimit(ctx, s.redis, "create_post", "user:"+sc.uid, s.config.PostRateLimit, s.config.PostRateWindow())
		if err == nil && !allowed {
			sc.trySend(Frame{Type: FrameError, ID: cmd.ID, Error: "Too many requests, please try again later.", Code: "RATE_LIMITED"})
			return
		}
	}

	res, err := client.Dispatch(ctx, cmd)
	if err != nil {
		var appErr *models.AppError
		f := Frame{Type: FrameError, ID: cmd.ID, Error: err.Error(), Code: models.CodeInternal}
		if errors.As(err, &appErr) {
			f.Error, f.Code = appErr.Message, appErr.Code
		}
		if f.Code == models.CodeInternal {
			sc.logger.Error("command failed", slog.String("command", cmd.Type), slog.String("error", err.Error()))
			f.Error = "Internal server error"
		}
		sc.trySend(f)
		return
	}
	sc.trySend(Frame{Type: FrameResult, ID: cmd.ID, Data: res})
}

func mustFrame(f Frame) []byte {
	b, _ := json.Marshal(f)
	return b
}
