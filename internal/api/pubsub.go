package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/quizroom/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Leaderboard struct {
		RoomID  string             `json:"room_id"`
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		Player string `json:"player"`
		Score  string `json:"score"`
	}

	SessionFinished struct {
		RoomID string         `json:"room_id"`
		Scores map[string]int `json:"scores"`
	}
)

func toLeaderboard(l domain.Leaderboard) Leaderboard {
	out := Leaderboard{
		RoomID:  l.RoomID,
		Entries: make([]LeaderboardEntry, 0, len(l.Entries)),
	}

	for _, entry := range l.Entries {
		out.Entries = append(out.Entries, LeaderboardEntry{
			Player: entry.Player,
			Score:  strconv.FormatFloat(entry.Score, 'f', -1, 64),
		})
	}

	return out
}

// PublishLeaderboardUpdated notifies observers of the room and of all rooms.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	return a.fanOut(ctx, e.Leaderboard.RoomID, e.Name(), toLeaderboard(e.Leaderboard))
}

// PublishSessionFinished notifies observers of the room and of all rooms.
func (a *API) PublishSessionFinished(ctx context.Context, e domain.EventSessionFinished) error {
	return a.fanOut(ctx, e.RoomID, e.Name(), SessionFinished{
		RoomID: e.RoomID,
		Scores: e.Scores,
	})
}

func (a *API) fanOut(ctx context.Context, roomID, event string, data any) error {
	b, err := json.Marshal(Notification{
		Event: event,
		Data:  data,
	})
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, ch := range []string{a.roomChannel(roomID), a.allRoomsChannel()} {
		eg.Go(func() error {
			return a.redis.Publish(ctx, ch, b).Err()
		})
	}

	return eg.Wait()
}

func (a *API) roomChannel(roomID string) string {
	return fmt.Sprintf("%s:room:%s", a.prefix, roomID)
}

func (a *API) allRoomsChannel() string {
	return fmt.Sprintf("%s:rooms", a.prefix)
}
