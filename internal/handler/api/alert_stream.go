package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"InsiderWatch/internal/domain/models"
	domrepo "InsiderWatch/internal/domain/repository"
	xlogger "InsiderWatch/pkg/logger"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
	streamSendBuffer = 256
	streamReplaySize = 512
)

// AlertStream pushes alert transitions to websocket subscribers. It is an AlertSink,
// so the dispatcher feeds it like any other sink. Subscribers that fall behind are
// disconnected instead of slowing the dispatcher down.
type AlertStream struct {
	logger   *xlogger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	replay  []models.AlertTransition // last streamReplaySize transitions, oldest first
	closed  bool
}

type streamClient struct {
	conn   *websocket.Conn
	send   chan []byte
	filter string // entity key prefix, empty for all
}

func NewAlertStream(logger *xlogger.Logger) *AlertStream {
	return &AlertStream{
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *AlertStream) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/alerts/stream", s.Serve)
}

// Serve upgrades the connection. Query parameters: entity filters by entity key
// prefix, replay=true first sends the buffered recent transitions.
func (s *AlertStream) Serve(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("alert stream upgrade failed", xlogger.Error(err))
		return nil
	}
	cl := &streamClient{
		conn:   conn,
		send:   make(chan []byte, streamSendBuffer),
		filter: c.QueryParam("entity"),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	if c.QueryParam("replay") == "true" {
		for _, t := range s.replay {
			if b, ok := cl.encode(t); ok {
				select {
				case cl.send <- b:
				default:
				}
			}
		}
	}
	s.clients[cl] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug("alert stream subscriber connected", xlogger.String("remote", c.RealIP()), xlogger.String("filter", cl.filter))
	go s.writeLoop(cl)
	s.readLoop(cl)
	return nil
}

// PublishTransitions fans ts out to every subscriber. It never blocks on a client.
func (s *AlertStream) PublishTransitions(_ context.Context, ts []models.AlertTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.replay = append(s.replay, ts...)
	if over := len(s.replay) - streamReplaySize; over > 0 {
		s.replay = append([]models.AlertTransition(nil), s.replay[over:]...)
	}
	for cl := range s.clients {
		for _, t := range ts {
			b, ok := cl.encode(t)
			if !ok {
				continue
			}
			select {
			case cl.send <- b:
			default:
				s.logger.Warn("alert stream subscriber too slow, disconnecting")
				s.removeLocked(cl)
			}
			if _, still := s.clients[cl]; !still {
				break
			}
		}
	}
	return nil
}

// Subscribers reports the number of connected clients.
func (s *AlertStream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every subscriber.
func (s *AlertStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for cl := range s.clients {
		s.removeLocked(cl)
	}
	return nil
}

func (s *AlertStream) remove(cl *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(cl)
}

func (s *AlertStream) removeLocked(cl *streamClient) {
	if _, ok := s.clients[cl]; !ok {
		return
	}
	delete(s.clients, cl)
	close(cl.send)
}

func (cl *streamClient) encode(t models.AlertTransition) ([]byte, bool) {
	if cl.filter != "" && !strings.HasPrefix(string(t.EntityKey), cl.filter) {
		return nil, false
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, false
	}
	return b, true
}

// readLoop only services control frames; subscribers have nothing to say.
func (s *AlertStream) readLoop(cl *streamClient) {
	defer func() {
		s.remove(cl)
		_ = cl.conn.Close()
	}()
	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *AlertStream) writeLoop(cl *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case b, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ domrepo.AlertSink = (*AlertStream)(nil)
