// Package session runs quiz sessions: one goroutine per full room that walks
// the quiz questions on a timer and closes the room when they run out.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/quizroom/internal/domain"
	"github.com/victornm/quizroom/internal/errors"
	"github.com/victornm/quizroom/internal/event"
	"github.com/victornm/quizroom/internal/lobby"
	"github.com/victornm/quizroom/internal/protocol"
	"github.com/victornm/quizroom/internal/question"
	"github.com/victornm/quizroom/internal/telemetry"
)

const defaultQuestionDuration = 15 * time.Second

// Lobby is the part of the room manager a session drives.
type Lobby interface {
	AskQuestion(ctx context.Context, roomID string, a lobby.Ask) (lobby.BroadcastResult, error)
	FinishSession(roomID string) (domain.Scores, error)
}

type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type Config struct {
	Lobby    Lobby
	Source   question.Source
	QuizID   string
	EventBus *event.Bus
	Metrics  *telemetry.Metrics
	// QuestionDuration is how long each question stays open.
	QuestionDuration time.Duration
	NowFunc          func() time.Time
	NewTimerFunc     func(d time.Duration) Timer
}

type Service struct {
	lobby    Lobby
	source   question.Source
	quizID   string
	eb       *event.Bus
	metrics  *telemetry.Metrics
	duration time.Duration
	now      func() time.Time
	newTimer func(d time.Duration) Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	runs    map[string]*run
	stopped bool
}

func NewService(c Config) *Service {
	s := &Service{
		lobby:    c.Lobby,
		source:   c.Source,
		quizID:   c.QuizID,
		eb:       c.EventBus,
		metrics:  c.Metrics,
		duration: c.QuestionDuration,
		now:      c.NowFunc,
		newTimer: c.NewTimerFunc,
		runs:     make(map[string]*run),
	}

	if s.quizID == "" {
		s.quizID = question.DefaultQuizID
	}
	if s.duration <= 0 {
		s.duration = defaultQuestionDuration
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newTimer == nil {
		s.newTimer = newTimer
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	return s
}

// State is the stage of a session.
type State string

const (
	StateIdle     State = "idle"
	StateActive   State = "active"
	StateFinished State = "finished"
)

type run struct {
	roomID  string
	players []string

	mu    sync.Mutex
	state State
	index int
}

func (r *run) set(state State, index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	r.index = index
}

// Start runs the quiz for a room that just filled. players lists the room
// members at the time it filled. A room runs at most one session.
func (s *Service) Start(ctx context.Context, roomID string, players []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.New(errors.CodeUnavailable, errors.WithMessagef("session service stopped"))
	}
	if _, ok := s.runs[roomID]; ok {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("session already running: room=%s", roomID))
	}

	r := &run{roomID: roomID, players: players, state: StateIdle, index: -1}
	s.runs[roomID] = r

	s.wg.Add(1)
	go s.run(s.ctx, r)

	slog.InfoContext(ctx, "session: started", "room", roomID, "players", len(players))
	return nil
}

// Status reports the state and current question index of a room's session.
func (s *Service) Status(roomID string) (State, int, bool) {
	s.mu.Lock()
	r, ok := s.runs[roomID]
	s.mu.Unlock()
	if !ok {
		return "", 0, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.index, true
}

// Running returns the number of sessions that have not finished yet.
func (s *Service) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// Stop cancels every running session and waits for them to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context, r *run) {
	defer s.wg.Done()
	defer s.finish(r)

	s.metrics.SessionStarted()
	s.eb.Publish(ctx, domain.EventSessionStarted{RoomID: r.roomID, Players: r.players})

	qs, err := s.source.Questions(ctx, s.quizID)
	if err != nil {
		slog.ErrorContext(ctx, "session: load questions failed", "room", r.roomID, "quiz", s.quizID, "error", err)
		return
	}
	if len(qs) == 0 {
		slog.WarnContext(ctx, "session: quiz has no questions", "room", r.roomID, "quiz", s.quizID)
		return
	}

	for i, q := range qs {
		if q.QuestionID == "" {
			q.QuestionID = uuid.NewString()
		}

		if !s.ask(ctx, r, i, q) {
			return
		}
	}
}

// ask publishes question i to the room and waits for its window to close. It
// returns false when the session must end early.
func (s *Service) ask(ctx context.Context, r *run, i int, q domain.Question) bool {
	msg, err := protocol.EncodeQuestion(q)
	if err != nil {
		slog.ErrorContext(ctx, "session: encode question failed", "room", r.roomID, "error", err)
		return false
	}

	// The timer that closes the answer window starts with it.
	deadline := s.now().Add(s.duration)
	t := s.newTimer(s.duration)

	res, err := s.lobby.AskQuestion(ctx, r.roomID, lobby.Ask{
		Index:    i,
		Question: q,
		Deadline: deadline,
		Message:  msg,
	})
	if err != nil {
		t.Stop()
		slog.WarnContext(ctx, "session: ask question failed", "room", r.roomID, "index", i, "error", err)
		return false
	}
	if res.Delivered+res.Failed == 0 {
		t.Stop()
		slog.InfoContext(ctx, "session: room is empty", "room", r.roomID)
		return false
	}
	r.set(StateActive, i)

	s.metrics.SendFailed(res.Failed)
	s.eb.Publish(ctx, domain.EventQuestionPublished{RoomID: r.roomID, Index: i, Question: q})

	slog.DebugContext(ctx, "session: question published", "room", r.roomID, "index", i, "delivered", res.Delivered, "failed", res.Failed)

	select {
	case <-t.C():
		return true
	case <-ctx.Done():
		t.Stop()
		return false
	}
}

func (s *Service) finish(r *run) {
	ctx := context.WithoutCancel(s.ctx)

	r.set(StateFinished, r.index)

	scores, err := s.lobby.FinishSession(r.roomID)
	if err != nil {
		slog.WarnContext(ctx, "session: finish failed", "room", r.roomID, "error", err)
	} else {
		s.eb.Publish(ctx, domain.EventSessionFinished{RoomID: r.roomID, Scores: scores})
	}

	s.metrics.SessionFinished()

	s.mu.Lock()
	delete(s.runs, r.roomID)
	s.mu.Unlock()

	slog.InfoContext(ctx, "session: finished", "room", r.roomID, "scores", scores)
}

type timer struct {
	t *time.Timer
}

func newTimer(d time.Duration) Timer {
	return timer{t: time.NewTimer(d)}
}

func (t timer) C() <-chan time.Time { return t.t.C }

func (t timer) Stop() bool { return t.t.Stop() }
