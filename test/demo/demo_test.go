//go:build integration_test

package demo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/quizroom/internal/api"
	"github.com/victornm/quizroom/internal/domain"
	"github.com/victornm/quizroom/internal/question"
)

// The demo expects a server started with the default config plus
// REDIS_LEADERBOARD_ADDRS and REDIS_PUBSUB_ADDRS pointing at localhost:6379.
const (
	wsURL    = "ws://localhost:8080/ws/"
	capacity = 5
)

type message struct {
	Type        string         `json:"type"`
	RoomID      string         `json:"roomId"`
	PlayerIDEnc string         `json:"playerIdEnc"`
	Text        string         `json:"text"`
	Options     []string       `json:"options"`
	QuestionID  string         `json:"questionId"`
	Scores      map[string]int `json:"scores"`
}

func TestQuiz(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	wg := new(sync.WaitGroup)
	subscribeRooms(t, makeRedis(t), wg)

	answers := make(map[string]string)
	for _, q := range question.DefaultQuiz() {
		answers[q.Text] = q.CorrectAnswer
	}
	total := len(answers)

	// Odd players answer correctly, even players guess wrong.
	var eg errgroup.Group
	for i := range capacity {
		name := fmt.Sprintf("player-%d", i+1)
		correct := i%2 == 0
		eg.Go(func() error {
			return play(ctx, t, name, total, func(text string) string {
				if correct {
					return answers[text]
				}
				return "no idea"
			})
		})
	}

	require.NoError(t, eg.Wait())
	wg.Wait()
}

func play(ctx context.Context, t *testing.T, name string, questions int, answer func(text string) string) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("%s: dial: %w", name, err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(map[string]string{"type": "join", "name": name}); err != nil {
		return fmt.Errorf("%s: join: %w", name, err)
	}

	var token string
	asked := 0
	for {
		// Once every question is answered, a quiet connection means the quiz is over.
		wait := 30 * time.Second
		if asked == questions {
			wait = 3 * time.Second
		}
		_ = ws.SetReadDeadline(time.Now().Add(wait))

		var m message
		if err := ws.ReadJSON(&m); err != nil {
			var ne net.Error
			if asked == questions && errors.As(err, &ne) && ne.Timeout() {
				return nil
			}
			return fmt.Errorf("%s: read: %w", name, err)
		}

		switch m.Type {
		case "room_assigned":
			token = m.PlayerIDEnc
			t.Logf("%s joined room %s", name, m.RoomID)
		case "question":
			asked++
			a := answer(m.Text)
			t.Logf("%s answers %q to %q", name, a, m.Text)
			if err := ws.WriteJSON(map[string]string{"type": "answer", "playerIdEnc": token, "answer": a}); err != nil {
				return fmt.Errorf("%s: answer: %w", name, err)
			}
		case "score_update":
			t.Logf("%s sees scores %v", name, m.Scores)
		}
	}
}

func subscribeRooms(t *testing.T, rc redis.UniversalClient, wg *sync.WaitGroup) {
	wg.Add(1)
	sub := subscribeRedis(t, rc, "quizroom:room:*")
	go func() {
		defer wg.Done()

		for msg := range sub {
			var n struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				t.Logf("unmarshal notification: %v", err)
				continue
			}

			switch n.Event {
			case domain.EventNameLeaderboardUpdated:
				var l api.Leaderboard
				if err := json.Unmarshal(n.Data, &l); err != nil {
					t.Logf("unmarshal leaderboard: %v", err)
					continue
				}

				t.Logf("room %s leaderboard:\n%s", l.RoomID, formatLeaderboard(l))
			case domain.EventNameSessionFinished:
				t.Logf("session finished: %s", n.Data)
				return
			}
		}
	}()
}

func subscribeRedis(t *testing.T, rc redis.UniversalClient, pattern string) <-chan *redis.Message {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	t.Cleanup(cancel)

	sub := rc.PSubscribe(ctx, pattern)
	t.Cleanup(func() { sub.Close() })

	c := make(chan *redis.Message)
	go func() {
		defer close(c)

		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				t.Log(err)
				return
			}

			select {
			case c <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return c
}

func makeRedis(t *testing.T) redis.UniversalClient {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{"localhost:6379"},
	})
	t.Cleanup(func() { r.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.Ping(ctx).Err(); err != nil {
		t.Fatal(err)
	}

	return r
}

func formatLeaderboard(l api.Leaderboard) string {
	var s string
	for _, e := range l.Entries {
		s += fmt.Sprintf("%s: %s\n", e.Player, e.Score)
	}
	return s
}
