// Package wswire implements internal/wire's Publisher and
// CommandReceiver over websocket connections, reimplementing
// zerohub.py's ZeroMQ PUB/SUB (state topic) and REQ/REP (command
// channel) semantics on top of a single transport per client instead
// of one dedicated socket per role (no ZeroMQ binding exists anywhere
// in the retrieval corpus; github.com/coder/websocket does).
//
// Every connected client receives every published state/rip_state/disc
// frame, and may also send command frames on the same connection. A
// REQ/REP socket pair enforces strict request/response ordering for
// free; multiplexing both directions over one connection instead needs
// an explicit correlation id, so every request frame carries one and
// the matching reply frame echoes it back.
package wswire

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/codplayer/codplayer/internal/logging"
	"github.com/codplayer/codplayer/internal/model"
	"github.com/codplayer/codplayer/internal/wire"
)

// writeTimeout bounds a single frame write, grounded on the other
// pack's websocket handler giving every write its own short deadline
// rather than letting one wedged client stall the broadcaster.
const writeTimeout = 5 * time.Second

// sendQueueSize is how many unsent push frames a slow client is
// allowed to fall behind by before frames start being dropped for it.
const sendQueueSize = 32

type pushFrame struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

type requestFrame struct {
	ID   string   `json:"id"`
	Cmd  string   `json:"cmd"`
	Args []string `json:"args"`
}

type replyFrame struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Server is a websocket-backed wire.Publisher and wire.CommandReceiver.
// It is also an http.Handler: mount it on whatever path the daemon's
// config names and it upgrades every request to a websocket
// connection, fanning out Publish* calls to all connected clients and
// feeding every client's command frames to the handler passed to
// Serve.
type Server struct {
	log *logging.Logger

	mu      sync.Mutex
	conns   map[*clientConn]struct{}
	handler wire.CommandHandler
}

type clientConn struct {
	ws   *websocket.Conn
	send chan []byte
}

// New creates a Server. Register it with an http.ServeMux before
// starting the daemon's HTTP listener.
func New(log *logging.Logger) *Server {
	return &Server{log: log, conns: make(map[*clientConn]struct{})}
}

// PublishState implements wire.Publisher.
func (s *Server) PublishState(v model.State) { s.broadcast("state", v) }

// PublishRipState implements wire.Publisher.
func (s *Server) PublishRipState(v model.RipState) { s.broadcast("rip_state", v) }

// PublishDisc implements wire.Publisher.
func (s *Server) PublishDisc(d *model.Disc) { s.broadcast("disc", d) }

func (s *Server) broadcast(topic string, payload any) {
	data, err := json.Marshal(pushFrame{Topic: topic, Payload: payload})
	if err != nil {
		s.log.Printf("wswire: marshal %s frame: %v", topic, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		select {
		case c.send <- data:
		default:
			s.log.Printf("wswire: dropping %s frame for a slow client", topic)
		}
	}
}

// Serve implements wire.CommandReceiver: it installs handle as the
// command handler for every current and future connection, then
// blocks until ctx is done.
func (s *Server) Serve(ctx context.Context, handle wire.CommandHandler) error {
	s.mu.Lock()
	s.handler = handle
	s.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

// ServeHTTP upgrades the request to a websocket connection and
// services it until the client disconnects or the request's context is
// done.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Printf("wswire: accept failed: %v", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	c := &clientConn{ws: ws, send: make(chan []byte, sendQueueSize)}
	s.addConn(c)
	defer s.removeConn(c)

	ctx := r.Context()
	go c.writeLoop(ctx, s.log)
	s.readLoop(ctx, c)
}

func (s *Server) addConn(c *clientConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) removeConn(c *clientConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) readLoop(ctx context.Context, c *clientConn) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}

		var req requestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			s.log.Printf("wswire: malformed request frame: %v", err)
			continue
		}

		s.mu.Lock()
		handle := s.handler
		s.mu.Unlock()
		if handle == nil {
			continue
		}

		go s.handleRequest(ctx, c, req, handle)
	}
}

func (s *Server) handleRequest(ctx context.Context, c *clientConn, req requestFrame, handle wire.CommandHandler) {
	reply := handle(req.Cmd, req.Args)
	data, err := json.Marshal(replyFrame{ID: req.ID, Type: reply.Type, Payload: reply.Value})
	if err != nil {
		s.log.Printf("wswire: marshal reply to %s: %v", req.Cmd, err)
		return
	}
	select {
	case c.send <- data:
	case <-ctx.Done():
	}
}

func (c *clientConn) writeLoop(ctx context.Context, log *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Printf("wswire: write failed: %v", err)
				return
			}
		}
	}
}

// NewRequestID generates the correlation id a client attaches to a
// command frame.
func NewRequestID() string { return uuid.NewString() }
