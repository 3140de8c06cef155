// Package api exposes the admin HTTP endpoints and forwards quiz notifications
// to Redis pub/sub.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/quizroom/internal/domain"
	"github.com/victornm/quizroom/internal/errors"
	"github.com/victornm/quizroom/internal/event"
	"github.com/victornm/quizroom/internal/leaderboard"
	"github.com/victornm/quizroom/internal/lobby"
	"github.com/victornm/quizroom/internal/registry"
	"github.com/victornm/quizroom/internal/session"
)

type Config struct {
	Router   gin.IRouter
	EventBus *event.Bus
	Lobby    *lobby.Lobby
	Sessions *session.Service
	Registry *registry.Registry
	// Leaderboard and Redis are optional; without them the leaderboard
	// endpoint reports unavailable and no notifications are published.
	Leaderboard  *leaderboard.Service
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	lobby    *lobby.Lobby
	sessions *session.Service
	registry *registry.Registry
	ls       *leaderboard.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		lobby:    c.Lobby,
		sessions: c.Sessions,
		registry: c.Registry,
		ls:       c.Leaderboard,
		redis:    c.Redis,
		prefix:   c.PubsubPrefix,
	}

	// HTTP APIs
	c.Router.GET("/healthz", a.Health)
	c.Router.GET("/rooms", a.ListRooms)
	c.Router.GET("/rooms/:id", a.GetRoom)
	c.Router.GET("/rooms/:id/leaderboard", a.GetLeaderboard)

	// Register event handlers
	if a.redis != nil {
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		})
		c.EventBus.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
			return a.PublishSessionFinished(ctx, e.(domain.EventSessionFinished))
		})
	}

	return a
}

type (
	Room struct {
		RoomID    string         `json:"room_id"`
		Status    string         `json:"status"`
		Capacity  int            `json:"capacity"`
		Players   []string       `json:"players"`
		Scores    map[string]int `json:"scores"`
		Question  *int           `json:"question,omitempty"`
		Deadline  *time.Time     `json:"deadline,omitempty"`
		CreatedAt time.Time      `json:"created_at"`
	}

	Health struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Rooms       int    `json:"rooms"`
		Sessions    int    `json:"sessions"`
	}
)

func toRoom(r domain.Room) Room {
	out := Room{
		RoomID:    r.RoomID,
		Status:    string(r.Status),
		Capacity:  r.Capacity,
		Players:   r.Players,
		Scores:    r.Scores,
		CreatedAt: r.CreatedAt,
	}

	if r.Question >= 0 {
		q, d := r.Question, r.Deadline
		out.Question = &q
		out.Deadline = &d
	}

	return out
}

func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, Health{
		Status:      "ok",
		Connections: a.registry.Len(),
		Rooms:       len(a.lobby.Rooms()),
		Sessions:    a.sessions.Running(),
	})
}

func (a *API) ListRooms(c *gin.Context) {
	rooms := a.lobby.Rooms()

	resp := make([]Room, 0, len(rooms))
	for _, r := range rooms {
		resp = append(resp, toRoom(r))
	}

	c.JSON(http.StatusOK, gin.H{"rooms": resp})
}

func (a *API) GetRoom(c *gin.Context) {
	id := c.Param("id")

	r, ok := a.lobby.Room(id)
	if !ok {
		writeError(c, errors.New(errors.CodeNotFound, errors.WithMessagef("room not found: %s", id)))
		return
	}

	c.JSON(http.StatusOK, toRoom(r))
}

func (a *API) GetLeaderboard(c *gin.Context) {
	if a.ls == nil {
		writeError(c, errors.New(errors.CodeUnavailable, errors.WithMessagef("leaderboard is not configured")))
		return
	}

	l, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		RoomID: c.Param("id"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toLeaderboard(*l))
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
