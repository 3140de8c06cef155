// Package gateway is the WebSocket endpoint of the quiz server. It upgrades
// HTTP requests, runs one read and one write goroutine per connection and
// turns client commands into lobby and session calls.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/victornm/quizroom/internal/domain"
	"github.com/victornm/quizroom/internal/errors"
	"github.com/victornm/quizroom/internal/event"
	"github.com/victornm/quizroom/internal/lobby"
	"github.com/victornm/quizroom/internal/protocol"
	"github.com/victornm/quizroom/internal/registry"
	"github.com/victornm/quizroom/internal/telemetry"
	"github.com/victornm/quizroom/internal/token"
)

const (
	defaultReadLimit    = 4 << 10
	defaultSendBuffer   = 256
	defaultRateLimit    = 10
	defaultRateBurst    = 20
	defaultPingInterval = 54 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultWriteWait    = 10 * time.Second
)

// Sessions starts the quiz of a room that just filled.
type Sessions interface {
	Start(ctx context.Context, roomID string, players []string) error
}

type Config struct {
	Registry *registry.Registry
	Lobby    *lobby.Lobby
	Sessions Sessions
	Tokens   *token.Minter
	EventBus *event.Bus
	Metrics  *telemetry.Metrics

	// ReadLimit is the largest inbound message accepted, in bytes.
	ReadLimit int64
	// RateLimit and RateBurst bound inbound messages per connection.
	RateLimit    float64
	RateBurst    int
	SendBuffer   int
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
}

type Gateway struct {
	registry *registry.Registry
	lobby    *lobby.Lobby
	sessions Sessions
	tokens   *token.Minter
	eb       *event.Bus
	metrics  *telemetry.Metrics

	readLimit    int64
	rateLimit    rate.Limit
	rateBurst    int
	sendBuffer   int
	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration

	upgrader websocket.Upgrader
	wg       sync.WaitGroup
}

func New(c Config) *Gateway {
	g := &Gateway{
		registry:     c.Registry,
		lobby:        c.Lobby,
		sessions:     c.Sessions,
		tokens:       c.Tokens,
		eb:           c.EventBus,
		metrics:      c.Metrics,
		readLimit:    c.ReadLimit,
		rateLimit:    rate.Limit(c.RateLimit),
		rateBurst:    c.RateBurst,
		sendBuffer:   c.SendBuffer,
		pingInterval: c.PingInterval,
		pongWait:     c.PongWait,
		writeWait:    c.WriteWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	if g.readLimit <= 0 {
		g.readLimit = defaultReadLimit
	}
	if g.rateLimit <= 0 {
		g.rateLimit = defaultRateLimit
	}
	if g.rateBurst <= 0 {
		g.rateBurst = defaultRateBurst
	}
	if g.sendBuffer <= 0 {
		g.sendBuffer = defaultSendBuffer
	}
	if g.pingInterval <= 0 {
		g.pingInterval = defaultPingInterval
	}
	if g.pongWait <= 0 {
		g.pongWait = defaultPongWait
	}
	if g.writeWait <= 0 {
		g.writeWait = defaultWriteWait
	}

	return g
}

// ServeHTTP upgrades the request to a WebSocket connection. Plain HTTP
// requests are answered with 400.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied.
		slog.WarnContext(r.Context(), "gateway: upgrade failed", "error", err)
		return
	}

	c := &conn{
		id:      uuid.NewString(),
		ws:      ws,
		send:    make(chan []byte, g.sendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(g.rateLimit, g.rateBurst),
	}

	h := g.registry.Register(c)
	g.metrics.ConnectionOpened()
	slog.Debug("gateway: connection opened", "conn", c.id, "remote", r.RemoteAddr)

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		g.writePump(c)
	}()
	go func() {
		defer g.wg.Done()
		defer func() {
			g.registry.Unregister(h)
			g.metrics.ConnectionClosed()
		}()
		g.readPump(c)
	}()
}

// Close closes every open connection and waits for their goroutines to exit.
func (g *Gateway) Close() {
	n := g.registry.CloseAll()
	g.wg.Wait()
	slog.Info("gateway: connections closed", "count", n)
}

func (g *Gateway) handle(c *conn, msg []byte) {
	ctx := context.Background()

	cmd, err := protocol.Decode(msg)
	if err != nil {
		g.metrics.DecodeError()
		slog.WarnContext(ctx, "gateway: malformed message dropped", "conn", c.id, "error", err)
		return
	}

	switch cmd := cmd.(type) {
	case protocol.Join:
		g.join(ctx, c, cmd)
	case protocol.Answer:
		g.answer(ctx, c, cmd)
	}
}

func (g *Gateway) join(ctx context.Context, c *conn, cmd protocol.Join) {
	if c.token != "" {
		slog.WarnContext(ctx, "gateway: connection already joined, join ignored", "conn", c.id)
		return
	}

	tok := g.tokens.Mint(cmd.Name, uuid.NewString())

	a, err := g.lobby.Join(ctx, lobby.Player{Name: cmd.Name, Token: tok, Conn: c}, func(a lobby.Assignment) ([]byte, error) {
		return protocol.EncodeRoomAssigned(a.RoomID, tok)
	})
	if a.RoomID == "" {
		slog.WarnContext(ctx, "gateway: assign failed", "conn", c.id, "error", err)
		return
	}
	c.token = tok

	if err != nil {
		g.metrics.SendFailed(1)
		slog.WarnContext(ctx, "gateway: send room_assigned failed", "conn", c.id, "error", err)
	}

	if !a.Filled {
		return
	}

	if err := g.sessions.Start(ctx, a.RoomID, a.Players); err != nil {
		slog.ErrorContext(ctx, "gateway: start session failed", "room", a.RoomID, "error", err)
	}
}

func (g *Gateway) answer(ctx context.Context, c *conn, cmd protocol.Answer) {
	res, br, err := g.lobby.Answer(ctx, cmd.Token, cmd.Text, protocol.EncodeScoreUpdate)
	if err != nil {
		g.metrics.Answer(telemetry.AnswerIgnored)
		if errors.Is(err, errors.CodeNotFound) {
			slog.DebugContext(ctx, "gateway: answer with unknown token ignored", "conn", c.id)
			return
		}
		slog.ErrorContext(ctx, "gateway: answer failed", "conn", c.id, "error", err)
		return
	}

	if !res.Accepted {
		g.metrics.Answer(telemetry.AnswerIgnored)
		slog.DebugContext(ctx, "gateway: answer ignored", "room", res.RoomID, "player", res.Player)
		return
	}

	if res.Correct {
		g.metrics.Answer(telemetry.AnswerCorrect)
	} else {
		g.metrics.Answer(telemetry.AnswerWrong)
	}
	g.metrics.SendFailed(br.Failed)

	g.eb.Publish(ctx, domain.EventScoreUpdated{RoomID: res.RoomID, Scores: res.Scores})
}

func (g *Gateway) disconnect(c *conn) {
	if c.token == "" {
		return
	}

	d, ok := g.lobby.Leave(c.token)
	if !ok {
		return
	}

	slog.Info("gateway: player left", "room", d.RoomID, "player", d.Player)
	g.eb.Publish(context.Background(), domain.EventPlayerLeft{RoomID: d.RoomID, Player: d.Player})
}
