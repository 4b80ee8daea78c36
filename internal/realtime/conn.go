package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jensholdgaard/auctionhub/internal/auction"
	"github.com/jensholdgaard/auctionhub/internal/event"
)

// conn is one websocket connection. Only writePump writes to ws.
type conn struct {
	hub *Hub
	ws  *websocket.Conn
	out chan []byte

	mu       sync.RWMutex
	userID   string
	verified bool
	auction  string

	once sync.Once
	done chan struct{}
}

func newConn(h *Hub, ws *websocket.Conn) *conn {
	return &conn{
		hub:  h,
		ws:   ws,
		out:  make(chan []byte, h.cfg.SendBuffer),
		done: make(chan struct{}),
	}
}

func (c *conn) bind(userID string, verified bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.verified = verified
}

func (c *conn) identity() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID, c.verified
}

func (c *conn) user() string {
	id, _ := c.identity()
	return id
}

func (c *conn) setRoom(auctionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auction = auctionID
}

func (c *conn) room() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auction
}

// enqueue queues msg without blocking. A connection whose buffer is full
// is too slow to keep up and is dropped.
func (c *conn) enqueue(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.out <- msg:
	default:
		c.hub.logger.Warn("dropping slow connection", slog.String("user_id", c.user()))
		c.close()
	}
}

func (c *conn) send(env event.Envelope) {
	msg, err := json.Marshal(env)
	if err != nil {
		c.hub.logger.Error("encoding event", slog.String("event", string(env.Event)), slog.Any("error", err))
		return
	}
	c.enqueue(msg)
}

func (c *conn) sendError(be *auction.BidError) {
	c.send(event.New(event.Error, event.ErrorData{Code: string(be.Code), Message: be.Message}))
}

func (c *conn) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *conn) readPump(ctx context.Context, s Session) {
	pongWait := c.hub.cfg.PongWait
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.DebugContext(ctx, "websocket read failed", slog.Any("error", err))
			}
			return
		}

		var in event.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.sendError(&auction.BidError{Code: auction.CodeInternal, Message: "Malformed message"})
			continue
		}
		c.hub.dispatch(ctx, c, s, in)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	writeWait := c.hub.cfg.WriteWait
	for {
		select {
		case msg := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			err := c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				c.hub.logger.Debug("websocket close failed", slog.Any("error", err))
			}
			return
		}
	}
}
