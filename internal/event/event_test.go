package event_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/victornm/quizroom/internal/domain"
	"github.com/victornm/quizroom/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	var (
		started  = domain.EventSessionStarted{RoomID: "r1", Players: []string{"A", "B"}}
		scored   = domain.EventScoreUpdated{RoomID: "r1", Scores: domain.Scores{"A": 1, "B": 0}}
		finished = domain.EventSessionFinished{RoomID: "r1", Scores: domain.Scores{"A": 1, "B": 0}}
	)

	type (
		inputs struct {
			published   []event.Event
			subscribers map[string][]string // subscriber -> event names
		}

		outputs struct {
			received map[string][]event.Event
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a subscriber only receives the events it subscribed to": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{started, scored},
					subscribers: map[string][]string{
						"leaderboard": {domain.EventNameScoreUpdated},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{scored}, out.received["leaderboard"])
			},
		},

		"repeated events are all delivered": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{scored, scored, scored},
					subscribers: map[string][]string{
						"leaderboard": {domain.EventNameScoreUpdated},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.Len(t, out.received["leaderboard"], 3)
			},
		},

		"one event fans out to every subscriber": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{finished},
					subscribers: map[string][]string{
						"leaderboard": {domain.EventNameSessionFinished},
						"pubsub":      {domain.EventNameSessionFinished},
						"metrics":     {domain.EventNameSessionFinished},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				for _, s := range []string{"leaderboard", "pubsub", "metrics"} {
					assert.ElementsMatch(t, []event.Event{finished}, out.received[s], s)
				}
			},
		},

		"mixed events reach the matching subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{started, scored, scored, finished},
					subscribers: map[string][]string{
						"leaderboard": {domain.EventNameScoreUpdated, domain.EventNameSessionFinished},
						"audit":       {domain.EventNameSessionStarted, domain.EventNameSessionFinished},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{scored, scored, finished}, out.received["leaderboard"])
				assert.ElementsMatch(t, []event.Event{started, finished}, out.received["audit"])
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]event.Event)}

			b := event.NewBus(event.WithPoolSize(2))
			for s, names := range in.subscribers {
				for _, n := range names {
					b.Subscribe(n, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s] = append(out.received[s], e)
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, out)
		})
	}
}

func TestBus_Stop(t *testing.T) {
	var calls atomic.Int32

	b := event.NewBus()
	b.Subscribe(domain.EventNamePlayerLeft, func(ctx context.Context, e event.Event) error {
		calls.Add(1)
		return nil
	})

	b.Publish(context.Background(), domain.EventPlayerLeft{RoomID: "r1", Player: "A"})
	b.Stop()
	assert.Equal(t, int32(1), calls.Load())

	b.Publish(context.Background(), domain.EventPlayerLeft{RoomID: "r1", Player: "B"})
	b.Wait()
	assert.Equal(t, int32(1), calls.Load(), "events published after stop should be dropped")
}

func TestBus_HandlerFailuresAreContained(t *testing.T) {
	var calls atomic.Int32

	b := event.NewBus(event.WithTimeout(time.Second))
	b.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		panic("handler bug")
	})
	b.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return errors.New("redis unavailable")
	})
	b.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		calls.Add(1)
		return nil
	})

	b.Publish(context.Background(), domain.EventScoreUpdated{RoomID: "r1"})
	b.Publish(context.Background(), domain.EventScoreUpdated{RoomID: "r1"})
	b.Stop()

	assert.Equal(t, int32(2), calls.Load())
}
