package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a WebSocket to collab.Connection. Send only enqueues;
// writeLoop owns every data write to the socket.
type wsConn struct {
	id    string
	actor string

	ws     *websocket.Conn
	config *Config
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(id, actor string, ws *websocket.Conn, config *Config, logger *slog.Logger) *wsConn {
	return &wsConn{
		id:     id,
		actor:  actor,
		ws:     ws,
		config: config,
		logger: logger.With("connection_id", id),
		send:   make(chan []byte, config.SendQueueSize),
		done:   make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *wsConn) ID() string {
	return c.id
}

// ActorID returns the authenticated subject, or "" for anonymous.
func (c *wsConn) ActorID() string {
	return c.actor
}

// Send enqueues msg without blocking. A full queue closes the connection;
// the close itself never waits on the socket.
func (c *wsConn) Send(msg []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		c.logger.Warn("send queue full, closing slow connection",
			"queue_size", cap(c.send))
		c.closeWith(websocket.ClosePolicyViolation, "send queue full")
		return ErrSendQueueFull
	}
}

// writeLoop drains the send queue and pings on every heartbeat until the
// connection closes.
func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.close()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.config.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed", "error", err)
				c.close()
				return
			}

		case <-c.done:
			return
		}
	}
}

// readLoop delivers binary messages to fn until the socket fails or closes.
func (c *wsConn) readLoop(fn func([]byte)) {
	c.ws.SetReadLimit(c.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	})

	for {
		mt, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.logger.Warn("read error", "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.config.PongTimeout))

		if mt != websocket.BinaryMessage {
			c.logger.Debug("ignoring non-binary message", "type", mt)
			continue
		}
		fn(msg)
	}
}

// closeWith marks the connection closed and returns at once. The close
// frame and the socket close happen on their own goroutine: the writer may
// hold the write lock for up to WriteTimeout.
func (c *wsConn) closeWith(code int, text string) {
	c.closeOnce.Do(func() {
		close(c.done)
		go func() {
			deadline := time.Now().Add(c.config.WriteTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
			c.ws.Close()
		}()
	})
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}
