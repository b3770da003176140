package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Wire protocol: one JSON message per websocket frame. Controllers send
// requests with an op; the agent answers with the same op, or pushes a
// "preempted" notice which the controller acknowledges with "ack".
const (
	opWhatsUp         = "whats_up"
	opRegisterBlaster = "register_blaster"
	opPreempted       = "preempted"
	opAck             = "ack"
)

type message struct {
	Op      string `json:"op"`
	Reason  string `json:"reason,omitempty"`
	Session string `json:"session,omitempty"`
	Title   string `json:"title,omitempty"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
	OK      bool   `json:"ok,omitempty"`
}

// Server serves the controller websocket endpoint on top of a Gateway.
type Server struct {
	logger   *slog.Logger
	gw       *Gateway
	upgrader websocket.Upgrader
}

// NewServer creates the websocket front end for a gateway.
func NewServer(logger *slog.Logger, gw *Gateway) *Server {
	return &Server{
		logger: logger,
		gw:     gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Controllers connect from anywhere on the LAN.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler: /ws for controllers, /health for
// probes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	wsc := newWSConn(conn)
	s.gw.OnConnect(wsc)
	go s.readLoop(wsc)
}

func (s *Server) readLoop(c *wsConn) {
	defer func() {
		s.gw.OnDisconnect(c)
		c.Close()
	}()
	for {
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("controller read failed", "remote", c.RemoteAddr(), "error", err)
			}
			return
		}
		s.handleMessage(c, msg)
	}
}

func (s *Server) handleMessage(c *wsConn, msg message) {
	switch msg.Op {
	case opWhatsUp:
		reply := message{Op: opWhatsUp, OK: true}
		if a := s.gw.Assistant(); a != nil {
			reply.Session = a.ID()
			reply.Title = a.Title()
			reply.Status = string(a.Status())
		} else {
			reply.Status = "idle"
		}
		s.reply(c, reply)
	case opRegisterBlaster:
		s.gw.RegisterBlaster(c, c.sendPreempted)
		s.reply(c, message{Op: opRegisterBlaster, OK: true})
	case opAck:
		c.ackPreempt()
	default:
		s.reply(c, message{Op: msg.Op, Error: fmt.Sprintf("unknown op %q", msg.Op)})
	}
}

func (s *Server) reply(c *wsConn, msg message) {
	if err := c.writeJSON(msg); err != nil {
		s.logger.Debug("controller write failed", "remote", c.RemoteAddr(), "error", err)
	}
}

// wsConn wraps a websocket connection with a write lock (gorilla allows
// one concurrent writer) and the preemption acknowledgement channel.
type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	ack       chan struct{}
	ackOnce   sync.Once
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn, ack: make(chan struct{})}
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *wsConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

// sendPreempted delivers the preemption notice and waits for the
// controller's ack. The gateway bounds the wait.
func (c *wsConn) sendPreempted(reason string) error {
	if err := c.writeJSON(message{Op: opPreempted, Reason: reason}); err != nil {
		return err
	}
	<-c.ack
	return nil
}

func (c *wsConn) ackPreempt() {
	c.ackOnce.Do(func() { close(c.ack) })
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		// Unblock any blaster still waiting for an ack.
		c.ackPreempt()
		err = c.conn.Close()
	})
	return err
}
