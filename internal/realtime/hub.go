// Package realtime serves the bidding channel: websocket connections that
// identify, join auction rooms, place bids and receive lifecycle events.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctionhub/internal/auth"
	"github.com/jensholdgaard/auctionhub/internal/config"
	"github.com/jensholdgaard/auctionhub/internal/event"
	"github.com/jensholdgaard/auctionhub/internal/metrics"
	"github.com/jensholdgaard/auctionhub/internal/store"
)

const maxMessageSize = 4096

// Session is the bidding core a connection talks to.
type Session interface {
	Join(ctx context.Context, auctionID, userID string) (*event.AuctionStateData, error)
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*store.Bid, error)
	Leave(ctx context.Context, auctionID, userID string)
}

// Verifier proves an identify token.
type Verifier interface {
	Verify(token string) (auth.Identity, error)
}

// Hub tracks live connections and routes events to rooms and users.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}

	cfg      config.RealtimeConfig
	verifier Verifier
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewHub returns a Hub. verifier may be nil, in which case identify tokens
// are ignored.
func NewHub(cfg config.RealtimeConfig, verifier Verifier, m *metrics.Metrics, logger *slog.Logger, tp trace.TracerProvider) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}

	h := &Hub{
		conns:    make(map[*conn]struct{}),
		cfg:      cfg,
		verifier: verifier,
		metrics:  m,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/auctionhub/internal/realtime"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(h.cfg.AllowedOrigins, origin)
}

// BroadcastRoom sends env to every connection joined to auctionID.
func (h *Hub) BroadcastRoom(auctionID string, env event.Envelope) {
	h.deliver(env, func(c *conn) bool { return c.room() == auctionID })
}

// SendToUser sends env to every connection identified as userID.
func (h *Hub) SendToUser(userID string, env event.Envelope) {
	if userID == "" {
		return
	}
	h.deliver(env, func(c *conn) bool { return c.user() == userID })
}

func (h *Hub) deliver(env event.Envelope, match func(*conn) bool) {
	msg, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("encoding event",
			slog.String("event", string(env.Event)),
			slog.Any("error", err),
		)
		return
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		if match(c) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(msg)
	}
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.ConnOpened()
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if ok {
		h.metrics.ConnClosed()
	}
}

// Handler returns the websocket endpoint backed by s.
func (h *Hub) Handler(s Session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.WarnContext(r.Context(), "websocket upgrade failed", slog.Any("error", err))
			return
		}

		c := newConn(h, ws)
		h.register(c)
		go c.writePump()

		ctx := context.WithoutCancel(r.Context())
		c.readPump(ctx, s)

		h.unregister(c)
		c.close()
		if room, user := c.room(), c.user(); room != "" && user != "" {
			s.Leave(ctx, room, user)
		}
	})
}

func (h *Hub) dispatch(ctx context.Context, c *conn, s Session, in event.Inbound) {
	ctx, span := h.tracer.Start(ctx, "Hub.dispatch",
		trace.WithAttributes(attribute.String("event", string(in.Event))),
	)
	defer span.End()

	switch in.Event {
	case event.Identify:
		h.identify(ctx, c, in.Data)
	case event.JoinAuction:
		h.join(ctx, c, s, in.Data)
	case event.PlaceBid:
		if be := h.placeBid(ctx, c, s, in.Data); be != nil {
			span.SetStatus(codes.Error, string(be.Code))
		}
	default:
		h.logger.DebugContext(ctx, "ignoring unknown event", slog.String("event", string(in.Event)))
	}
}
