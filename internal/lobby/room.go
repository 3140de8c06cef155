package lobby

import (
	"fmt"
	"sync"
	"time"

	"github.com/victornm/quizroom/internal/domain"
)

type member struct {
	name  string
	token string
	conn  Conn
	score int
}

// room is only read or written with Lobby.mu held, except sendMu which
// serializes broadcasts to the room.
type room struct {
	id        string
	status    domain.RoomStatus
	capacity  int
	members   []*member
	createdAt time.Time

	// Current question window.
	question *domain.Question
	index    int
	deadline time.Time
	answered map[string]struct{}

	sendMu sync.Mutex
}

func newRoom(id string, capacity int, now time.Time) *room {
	return &room{
		id:        id,
		status:    domain.RoomWaiting,
		capacity:  capacity,
		createdAt: now,
		index:     -1,
	}
}

func (r *room) eligible() bool {
	return r.status == domain.RoomWaiting && len(r.members) < r.capacity
}

// uniqueName disambiguates display names inside a room, since scores are keyed by name.
func (r *room) uniqueName(name string) string {
	taken := func(n string) bool {
		for _, m := range r.members {
			if m.name == n {
				return true
			}
		}
		return false
	}

	if !taken(name) {
		return name
	}

	for i := 2; ; i++ {
		if n := fmt.Sprintf("%s (%d)", name, i); !taken(n) {
			return n
		}
	}
}

func (r *room) remove(token string) (*member, bool) {
	for i, m := range r.members {
		if m.token == token {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return m, true
		}
	}
	return nil, false
}

func (r *room) scores() domain.Scores {
	s := make(domain.Scores, len(r.members))
	for _, m := range r.members {
		s[m.name] = m.score
	}
	return s
}

func (r *room) names() []string {
	names := make([]string, 0, len(r.members))
	for _, m := range r.members {
		names = append(names, m.name)
	}
	return names
}

func (r *room) conns() []Conn {
	conns := make([]Conn, 0, len(r.members))
	for _, m := range r.members {
		conns = append(conns, m.conn)
	}
	return conns
}

func (r *room) snapshot() domain.Room {
	return domain.Room{
		RoomID:    r.id,
		Status:    r.status,
		Capacity:  r.capacity,
		Players:   r.names(),
		Scores:    r.scores(),
		Question:  r.index,
		Deadline:  r.deadline,
		CreatedAt: r.createdAt,
	}
}
