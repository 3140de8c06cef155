package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizroom/internal/domain"
	"github.com/victornm/quizroom/internal/errors"
	"github.com/victornm/quizroom/internal/event"
	"github.com/victornm/quizroom/internal/leaderboard"
)

func TestService_UpdateLeaderboard(t *testing.T) {
	s, rs := makeService(t)
	ctx := context.Background()

	err := s.UpdateLeaderboard(ctx, domain.EventScoreUpdated{
		RoomID: "r1",
		Scores: domain.Scores{"A": 2, "B": 1},
	})
	require.NoError(t, err)

	// A stale update must not lower a score.
	err = s.UpdateLeaderboard(ctx, domain.EventScoreUpdated{
		RoomID: "r1",
		Scores: domain.Scores{"A": 1, "B": 1, "C": 3},
	})
	require.NoError(t, err)

	resp, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{RoomID: "r1"})
	require.NoError(t, err)

	want := &domain.Leaderboard{
		RoomID: "r1",
		Entries: []domain.LeaderboardEntry{
			{Player: "C", Score: 3},
			{Player: "A", Score: 2},
			{Player: "B", Score: 1},
		},
	}
	require.Equal(t, want, resp)

	assert.Equal(t, time.Hour, rs.TTL("test:r1:leaderboard"))

	_, err = s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{RoomID: "missing"})
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestService_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			scoreEvents  []domain.EventScoreUpdated
			finishEvents []domain.EventSessionFinished
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"publishes the leaderboard after a score update": {
			arrange: func() inputs {
				return inputs{
					scoreEvents: []domain.EventScoreUpdated{
						{RoomID: "r1", Scores: domain.Scores{"A": 1}},
					},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1)
				require.Equal(t, domain.Leaderboard{
					RoomID:  "r1",
					Entries: []domain.LeaderboardEntry{{Player: "A", Score: 1}},
				}, out.publishedEvents[0].Leaderboard)
			},
		},

		"publishes once per room": {
			arrange: func() inputs {
				return inputs{
					scoreEvents: []domain.EventScoreUpdated{
						{RoomID: "r1", Scores: domain.Scores{"A": 1}},
						{RoomID: "r2", Scores: domain.Scores{"B": 1}},
					},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2)
			},
		},

		"throttles updates to the same room within the publish interval": {
			arrange: func() inputs {
				return inputs{
					scoreEvents: []domain.EventScoreUpdated{
						{RoomID: "r1", Scores: domain.Scores{"A": 1, "B": 0}},
						{RoomID: "r1", Scores: domain.Scores{"A": 1, "B": 1}},
					},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1)
			},
		},

		"always publishes the final scores": {
			arrange: func() inputs {
				return inputs{
					scoreEvents: []domain.EventScoreUpdated{
						{RoomID: "r1", Scores: domain.Scores{"A": 1, "B": 0}},
						{RoomID: "r1", Scores: domain.Scores{"A": 1, "B": 1}},
					},
					finishEvents: []domain.EventSessionFinished{
						{RoomID: "r1", Scores: domain.Scores{"A": 1, "B": 2}},
					},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2)
				assert.Equal(t, []domain.LeaderboardEntry{
					{Player: "B", Score: 2},
					{Player: "A", Score: 1},
				}, out.publishedEvents[1].Leaderboard.Entries)
			},
		},

		"a room that finished without players publishes nothing": {
			arrange: func() inputs {
				return inputs{
					finishEvents: []domain.EventSessionFinished{{RoomID: "r1"}},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.Empty(t, out.publishedEvents)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(_ context.Context, e event.Event) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			s, _ := makeService(t, withEventBus(eb))

			for _, e := range in.scoreEvents {
				require.NoError(t, s.UpdateLeaderboard(context.Background(), e))
			}
			// Let the first event land before the final one.
			eb.Wait()
			for _, e := range in.finishEvents {
				require.NoError(t, s.FinishLeaderboard(context.Background(), e))
			}

			eb.Stop()

			tt.assert(t, out)
		})
	}
}

func TestService_SubscribesToScoreEvents(t *testing.T) {
	eb := event.NewBus()
	s, _ := makeService(t, withEventBus(eb))

	eb.Publish(context.Background(), domain.EventScoreUpdated{RoomID: "r1", Scores: domain.Scores{"A": 1}})
	eb.Publish(context.Background(), domain.EventSessionFinished{RoomID: "r2", Scores: domain.Scores{"B": 4}})
	eb.Stop()

	l, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{RoomID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, []domain.LeaderboardEntry{{Player: "A", Score: 1}}, l.Entries)

	l, err = s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{RoomID: "r2"})
	require.NoError(t, err)
	assert.Equal(t, []domain.LeaderboardEntry{{Player: "B", Score: 4}}, l.Entries)
}

func TestService_DepartedPlayersLeaveTheLeaderboard(t *testing.T) {
	eb := event.NewBus()
	s, _ := makeService(t, withEventBus(eb))
	ctx := context.Background()

	require.NoError(t, s.UpdateLeaderboard(ctx, domain.EventScoreUpdated{
		RoomID: "r1",
		Scores: domain.Scores{"A": 2, "B": 1, "C": 1},
	}))

	eb.Publish(ctx, domain.EventPlayerLeft{RoomID: "r1", Player: "C"})
	eb.Wait()

	l, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{RoomID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, []domain.LeaderboardEntry{{Player: "A", Score: 2}, {Player: "B", Score: 1}}, l.Entries)

	// A stale update may put a departed player back; the final scores win.
	require.NoError(t, s.UpdateLeaderboard(ctx, domain.EventScoreUpdated{
		RoomID: "r1",
		Scores: domain.Scores{"A": 2, "B": 1, "C": 1},
	}))
	require.NoError(t, s.FinishLeaderboard(ctx, domain.EventSessionFinished{
		RoomID: "r1",
		Scores: domain.Scores{"A": 3, "B": 1},
	}))
	eb.Stop()

	l, err = s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{RoomID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, []domain.LeaderboardEntry{{Player: "A", Score: 3}, {Player: "B", Score: 1}}, l.Entries)
}

func makeService(t *testing.T, opts ...options) (*leaderboard.Service, *miniredis.Miniredis) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Redis:    rc,
		Prefix:   "test",
		// Long enough that throttling never expires mid-test.
		PublishInterval: time.Minute,
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c), rs
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}
