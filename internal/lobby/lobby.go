// Package lobby is the room manager: it assigns players to fixed-size rooms,
// owns room membership and scores, resolves player tokens and broadcasts
// messages to the members of a room.
//
// All room state is guarded by a single mutex. Messages to one room are
// serialized by that room's send mutex, which is always acquired before the
// lobby mutex and never the other way around. Only the send mutex is held
// while a message is handed to a connection.
package lobby

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/quizroom/internal/domain"
	"github.com/victornm/quizroom/internal/errors"
)

const defaultSendTimeout = 2 * time.Second

// Conn is a non-owning reference to a player's connection.
type Conn interface {
	ID() string
	Send(ctx context.Context, msg []byte) error
}

type Player struct {
	Name  string
	Token string
	Conn  Conn
}

type Config struct {
	// Capacity is the number of players that fills a room.
	Capacity int
	// SendTimeout bounds a single send during a broadcast.
	SendTimeout time.Duration
	NowFunc     func() time.Time
	NewIDFunc   func() string
}

type Lobby struct {
	capacity    int
	sendTimeout time.Duration
	now         func() time.Time
	newID       func() string

	mu      sync.Mutex
	rooms   []*room          // creation order
	byID    map[string]*room // roomID -> room
	byToken map[string]*room // player token -> room
}

func New(c Config) *Lobby {
	l := &Lobby{
		capacity:    c.Capacity,
		sendTimeout: c.SendTimeout,
		now:         c.NowFunc,
		newID:       c.NewIDFunc,
		byID:        make(map[string]*room),
		byToken:     make(map[string]*room),
	}

	if l.capacity <= 0 {
		l.capacity = domain.DefaultRoomCapacity
	}
	if l.sendTimeout <= 0 {
		l.sendTimeout = defaultSendTimeout
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.newID == nil {
		l.newID = func() string {
			id, err := uuid.NewV7()
			if err != nil {
				return uuid.NewString()
			}
			return id.String()
		}
	}

	return l
}

// Assignment is the outcome of placing a player in a room.
type Assignment struct {
	RoomID string
	// Name is the player's display name in the room, suffixed when another
	// member already uses the requested name.
	Name string
	// Filled is true for exactly one assignment per room: the one that brought
	// the room to capacity. The room is active from that moment on.
	Filled bool
	// Players lists the room members in join order.
	Players []string
}

// Assign places p in the first room, by creation order, that is still waiting
// for players, creating a new room when none is. It never fails for a valid
// player.
func (l *Lobby) Assign(p Player) (Assignment, error) {
	return l.Join(context.Background(), p, nil)
}

// Join assigns p like Assign and, when welcome is not nil, sends the message
// it returns to p's connection before any room broadcast can reach p. The
// assignment stands even when the welcome message could not be sent; in that
// case both the assignment and the error are returned.
func (l *Lobby) Join(ctx context.Context, p Player, welcome func(Assignment) ([]byte, error)) (Assignment, error) {
	if strings.TrimSpace(p.Name) == "" {
		return Assignment{}, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("player name is required"))
	}
	if p.Token == "" || p.Conn == nil {
		return Assignment{}, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("player token and connection are required"))
	}

	for {
		r, err := l.pick(p.Token)
		if err != nil {
			return Assignment{}, err
		}

		// Membership and the welcome message happen under the room's send lock,
		// so no question or score update slips in between them.
		r.sendMu.Lock()
		a, ok, err := l.place(r, p)
		if err != nil || !ok {
			r.sendMu.Unlock()
			if err != nil {
				return Assignment{}, err
			}
			// Filled or evicted since it was picked.
			continue
		}

		err = l.welcome(ctx, p.Conn, a, welcome)
		r.sendMu.Unlock()
		return a, err
	}
}

// pick returns the first eligible room, creating one when there is none.
func (l *Lobby) pick(token string) (*room, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byToken[token]; ok {
		return nil, errors.New(errors.CodeAlreadyExists, errors.WithMessagef("player token already assigned"))
	}

	for _, candidate := range l.rooms {
		if candidate.eligible() {
			return candidate, nil
		}
	}

	r := newRoom(l.newID(), l.capacity, l.now())
	l.rooms = append(l.rooms, r)
	l.byID[r.id] = r
	slog.Info("lobby: room created", "room", r.id, "capacity", r.capacity)

	return r, nil
}

// place adds p to r. It reports false when r stopped taking players after it
// was picked. The caller holds r.sendMu.
func (l *Lobby) place(r *room, p Player) (Assignment, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byToken[p.Token]; ok {
		return Assignment{}, false, errors.New(errors.CodeAlreadyExists, errors.WithMessagef("player token already assigned"))
	}
	if _, ok := l.byID[r.id]; !ok || !r.eligible() {
		return Assignment{}, false, nil
	}

	if len(r.members) >= r.capacity {
		panic("lobby: room " + r.id + " selected at capacity")
	}

	m := &member{
		name:  r.uniqueName(strings.TrimSpace(p.Name)),
		token: p.Token,
		conn:  p.Conn,
	}
	r.members = append(r.members, m)
	l.byToken[p.Token] = r

	a := Assignment{
		RoomID:  r.id,
		Name:    m.name,
		Players: r.names(),
	}

	if len(r.members) == r.capacity {
		r.status = domain.RoomActive
		a.Filled = true
	}

	slog.Info("lobby: player joined", "room", r.id, "player", m.name, "members", len(r.members), "filled", a.Filled)
	return a, true, nil
}

// welcome sends the message built by fn to c. The caller holds the room's sendMu.
func (l *Lobby) welcome(ctx context.Context, c Conn, a Assignment, fn func(Assignment) ([]byte, error)) error {
	if fn == nil {
		return nil
	}

	msg, err := fn(a)
	if err != nil {
		return fmt.Errorf("encode welcome: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, l.sendTimeout)
	defer cancel()

	return c.Send(sctx, msg)
}

// Departure describes a player removed from its room.
type Departure struct {
	RoomID string
	Player string
}

// Leave removes the player holding token from its room. It reports false when
// the token is not tracked, e.g. because the room already finished.
func (l *Lobby) Leave(token string) (Departure, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.byToken[token]
	if !ok {
		return Departure{}, false
	}
	delete(l.byToken, token)

	m, ok := r.remove(token)
	if !ok {
		return Departure{}, false
	}

	if r.status == domain.RoomWaiting && len(r.members) == 0 {
		l.evict(r)
	}

	return Departure{RoomID: r.id, Player: m.name}, true
}

// BeginQuestion opens the answer window for question index of an active room
// and returns the number of members that will receive it.
func (l *Lobby) BeginQuestion(roomID string, index int, q domain.Question, deadline time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.byID[roomID]
	if !ok || r.status != domain.RoomActive {
		return 0, errors.New(errors.CodeNotFound, errors.WithMessagef("no active room %s", roomID))
	}

	r.question = &q
	r.index = index
	r.deadline = deadline
	r.answered = make(map[string]struct{}, len(r.members))

	return len(r.members), nil
}

// AnswerResult is the outcome of SubmitAnswer.
type AnswerResult struct {
	RoomID string
	Player string
	// Accepted is false when the answer was ignored: no open question window,
	// deadline passed, or the player already answered this question.
	Accepted bool
	Correct  bool
	// Scores holds every current member's score after the answer was applied.
	Scores domain.Scores
}

// SubmitAnswer scores an answer against the room's current question.
//
// Only the first answer of a player per question counts. The answer is
// compared with whatever question the room currently shows, not with the
// question the player saw, so an answer that arrives after the room advanced
// is scored against the new question.
func (l *Lobby) SubmitAnswer(token, answer string) (AnswerResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.byToken[token]
	if !ok {
		return AnswerResult{}, errors.UnknownToken()
	}

	var m *member
	for _, candidate := range r.members {
		if candidate.token == token {
			m = candidate
			break
		}
	}
	if m == nil {
		return AnswerResult{}, errors.UnknownToken()
	}

	res := AnswerResult{RoomID: r.id, Player: m.name}

	if r.status != domain.RoomActive || r.question == nil || l.now().After(r.deadline) {
		return res, nil
	}
	if _, dup := r.answered[token]; dup {
		return res, nil
	}

	r.answered[token] = struct{}{}
	res.Accepted = true
	if r.question.Matches(answer) {
		m.score++
		res.Correct = true
	}
	res.Scores = r.scores()

	return res, nil
}

// FinishSession ends the room's session and forgets the room and its player
// tokens. Later answers from its players resolve to unknown tokens.
func (l *Lobby) FinishSession(roomID string) (domain.Scores, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.byID[roomID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("room not found: %s", roomID))
	}

	r.status = domain.RoomFinished
	r.question = nil
	r.answered = nil
	scores := r.scores()

	for _, m := range r.members {
		delete(l.byToken, m.token)
	}
	l.evict(r)

	return scores, nil
}

func (l *Lobby) evict(r *room) {
	delete(l.byID, r.id)
	for i, candidate := range l.rooms {
		if candidate == r {
			l.rooms = append(l.rooms[:i], l.rooms[i+1:]...)
			break
		}
	}
}

// BroadcastResult counts the outcome of a broadcast.
type BroadcastResult struct {
	Delivered int
	Failed    int
}

// Broadcast sends msg to every current member of the room in join order. Each
// send is bounded by the configured send timeout; a failing connection is
// skipped. Broadcasts to the same room never interleave, so all members
// observe a room's messages in the same order.
func (l *Lobby) Broadcast(ctx context.Context, roomID string, msg []byte) BroadcastResult {
	r, ok := l.lookup(roomID)
	if !ok {
		return BroadcastResult{}
	}

	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	return l.send(ctx, r, msg)
}

// Ask describes a question to open in a room.
type Ask struct {
	Index    int
	Question domain.Question
	Deadline time.Time
	// Message is the encoded question sent to the members.
	Message []byte
}

// AskQuestion opens the answer window for a question and broadcasts it. No
// score update computed against the new question reaches a member before the
// question itself. A zero result means the room has no members left.
func (l *Lobby) AskQuestion(ctx context.Context, roomID string, a Ask) (BroadcastResult, error) {
	r, ok := l.lookup(roomID)
	if !ok {
		return BroadcastResult{}, errors.New(errors.CodeNotFound, errors.WithMessagef("no active room %s", roomID))
	}

	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	if _, err := l.BeginQuestion(roomID, a.Index, a.Question, a.Deadline); err != nil {
		return BroadcastResult{}, err
	}

	return l.send(ctx, r, a.Message), nil
}

// Answer scores an answer like SubmitAnswer and, when it was accepted,
// broadcasts the encoded scores to the room. Score updates reach members in
// the order the answers were scored, so the scores a member sees never
// decrease.
func (l *Lobby) Answer(ctx context.Context, token, answer string, encode func(domain.Scores) ([]byte, error)) (AnswerResult, BroadcastResult, error) {
	l.mu.Lock()
	r, ok := l.byToken[token]
	l.mu.Unlock()
	if !ok {
		return AnswerResult{}, BroadcastResult{}, errors.UnknownToken()
	}

	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	res, err := l.SubmitAnswer(token, answer)
	if err != nil || !res.Accepted {
		return res, BroadcastResult{}, err
	}

	msg, err := encode(res.Scores)
	if err != nil {
		return res, BroadcastResult{}, fmt.Errorf("encode scores: %w", err)
	}

	return res, l.send(ctx, r, msg), nil
}

// send delivers msg to the room's members. The caller holds r.sendMu.
func (l *Lobby) send(ctx context.Context, r *room, msg []byte) BroadcastResult {
	l.mu.Lock()
	if _, ok := l.byID[r.id]; !ok {
		l.mu.Unlock()
		return BroadcastResult{}
	}
	conns := r.conns()
	l.mu.Unlock()

	var res BroadcastResult
	for _, c := range conns {
		sctx, cancel := context.WithTimeout(ctx, l.sendTimeout)
		err := c.Send(sctx, msg)
		cancel()

		if err != nil {
			res.Failed++
			slog.WarnContext(ctx, "lobby: broadcast send failed", "room", r.id, "conn", c.ID(), "error", err)
			continue
		}
		res.Delivered++
	}

	return res
}

func (l *Lobby) lookup(roomID string) (*room, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.byID[roomID]
	return r, ok
}

// Rooms returns a snapshot of all tracked rooms in creation order.
func (l *Lobby) Rooms() []domain.Room {
	l.mu.Lock()
	defer l.mu.Unlock()

	rooms := make([]domain.Room, 0, len(l.rooms))
	for _, r := range l.rooms {
		rooms = append(rooms, r.snapshot())
	}
	return rooms
}

// Scores returns the current scores of the room's members.
func (l *Lobby) Scores(roomID string) (domain.Scores, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.byID[roomID]
	if !ok {
		return nil, false
	}
	return r.scores(), true
}

// Room returns a snapshot of one room.
func (l *Lobby) Room(roomID string) (domain.Room, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.byID[roomID]
	if !ok {
		return domain.Room{}, false
	}
	return r.snapshot(), true
}
