// Package leaderboard mirrors room scores into Redis sorted sets so they can be
// read by the admin API and by observers outside the game loop.
package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/quizroom/internal/domain"
	"github.com/victornm/quizroom/internal/errors"
	"github.com/victornm/quizroom/internal/event"
)

const (
	defaultPublishInterval = 200 * time.Millisecond
	defaultTTL             = time.Hour
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
	// TTL is how long a room's leaderboard is kept after its last update.
	TTL time.Duration
	// PublishInterval throttles leaderboard.updated events per room.
	PublishInterval time.Duration
	NowFunc         func() time.Time
}

type Service struct {
	eb              *event.Bus
	redis           redis.UniversalClient
	prefix          string
	ttl             time.Duration
	publishInterval time.Duration
	now             func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		eb:              c.EventBus,
		redis:           c.Redis,
		prefix:          c.Prefix,
		ttl:             c.TTL,
		publishInterval: c.PublishInterval,
		now:             c.NowFunc,
	}

	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}
	if s.publishInterval <= 0 {
		s.publishInterval = defaultPublishInterval
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventScoreUpdated))
	})
	s.eb.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
		return s.FinishLeaderboard(ctx, e.(domain.EventSessionFinished))
	})
	s.eb.Subscribe(domain.EventNamePlayerLeft, func(ctx context.Context, e event.Event) error {
		return s.RemovePlayer(ctx, e.(domain.EventPlayerLeft))
	})

	return s
}

type GetLeaderboardRequest struct {
	RoomID string
}

// GetLeaderboard returns the players of a room sorted by score, highest first.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.leaderboardKey(req.RoomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard not found: room=%s", req.RoomID))
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			Player: z.Member.(string),
			Score:  z.Score,
		})
	}

	return &domain.Leaderboard{
		RoomID:  req.RoomID,
		Entries: entries,
	}, nil
}

// UpdateLeaderboard stores the room's scores and schedules a leaderboard.updated event.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventScoreUpdated) error {
	if err := s.store(ctx, e.RoomID, e.Scores, false); err != nil {
		return err
	}

	return s.schedulePublishLeaderboard(ctx, e.RoomID)
}

// FinishLeaderboard replaces the room's leaderboard with its final scores and
// publishes them without throttling, so the last leaderboard.updated always
// carries them. Players that left before the end are not part of it.
func (s *Service) FinishLeaderboard(ctx context.Context, e domain.EventSessionFinished) error {
	if len(e.Scores) == 0 {
		return nil
	}

	if err := s.store(ctx, e.RoomID, e.Scores, true); err != nil {
		return err
	}

	return s.publishLeaderboard(ctx, e.RoomID)
}

// RemovePlayer drops a player that left its room from the leaderboard.
func (s *Service) RemovePlayer(ctx context.Context, e domain.EventPlayerLeft) error {
	if err := s.redis.ZRem(ctx, s.leaderboardKey(e.RoomID), e.Player).Err(); err != nil {
		return fmt.Errorf("remove player: room=%s: %w", e.RoomID, err)
	}

	return nil
}

// store writes scores with ZADD GT, so a score delivered out of order never
// lowers a player's entry. With replace the previous entries are dropped first.
func (s *Service) store(ctx context.Context, roomID string, scores domain.Scores, replace bool) error {
	if len(scores) == 0 {
		return nil
	}

	key := s.leaderboardKey(roomID)
	members := make([]redis.Z, 0, len(scores))
	for player, score := range scores {
		members = append(members, redis.Z{Score: float64(score), Member: player})
	}

	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if replace {
			p.Del(ctx, key)
		}
		p.ZAddArgs(ctx, key, redis.ZAddArgs{GT: true, Members: members})
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update leaderboard: room=%s: %w", roomID, err)
	}

	return nil
}

// schedulePublishLeaderboard publishes at most one leaderboard.updated event
// per room and publish interval. Answers tend to arrive in bursts right after
// a question is shown.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, roomID string) error {
	ok, err := s.redis.SetNX(ctx, s.publishTimeKey(roomID), s.now().UnixMilli(), s.publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx, roomID)
}

func (s *Service) publishLeaderboard(ctx context.Context, roomID string) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{RoomID: roomID})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: room=%s: %w", roomID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

func (s *Service) leaderboardKey(roomID string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, roomID)
}

func (s *Service) publishTimeKey(roomID string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, roomID)
}
