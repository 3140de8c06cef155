package gateway

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/victornm/quizroom/internal/errors"
)

var errConnClosed = stderrors.New("connection closed")

// conn is one client connection. Outbound messages are queued on send and
// written by writePump; inbound messages are read and dispatched by readPump.
// Only readPump touches token.
type conn struct {
	id      string
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter

	closeOnce sync.Once

	token string
}

func (c *conn) ID() string { return c.id }

// Send queues msg for writing. It fails once the connection is closed or when
// the queue stays full until ctx is done.
func (c *conn) Send(ctx context.Context, msg []byte) error {
	select {
	case <-c.done:
		return errors.Transport(c.id, errConnClosed)
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return errors.Transport(c.id, errConnClosed)
	case <-ctx.Done():
		return errors.Transport(c.id, ctx.Err())
	}
}

// Close stops the write pump, which closes the socket and in turn ends the
// read pump. It is safe to call more than once.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (g *Gateway) readPump(c *conn) {
	defer func() {
		g.disconnect(c)
		_ = c.Close()
	}()

	c.ws.SetReadLimit(g.readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(g.pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(g.pongWait))
	})

	for {
		typ, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && !c.closed() {
				slog.Warn("gateway: read failed", "conn", c.id, "error", errors.Transport(c.id, err))
			}
			return
		}

		if typ != websocket.TextMessage {
			continue
		}

		if !c.limiter.Allow() {
			g.metrics.MessageDropped()
			slog.Debug("gateway: rate limited, message dropped", "conn", c.id)
			continue
		}

		g.handle(c, msg)
	}
}

func (g *Gateway) writePump(c *conn) {
	ticker := time.NewTicker(g.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(g.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Warn("gateway: write failed", "conn", c.id, "error", errors.Transport(c.id, err))
				_ = c.Close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(g.writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}

		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
