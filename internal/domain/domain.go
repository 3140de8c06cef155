package domain

import (
	"strings"
	"time"
)

// DefaultRoomCapacity is the number of players a room holds before its quiz starts.
const DefaultRoomCapacity = 5

// RoomStatus is the lifecycle stage of a room.
type RoomStatus string

const (
	RoomWaiting  RoomStatus = "waiting"
	RoomActive   RoomStatus = "active"
	RoomFinished RoomStatus = "finished"
)

// Question is an immutable quiz question as provided by a question source.
type Question struct {
	QuestionID    string
	Text          string
	CorrectAnswer string
	Options       []string
}

// Matches compares an answer with the correct answer, ignoring case and surrounding spaces.
func (q Question) Matches(answer string) bool {
	return strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(q.CorrectAnswer))
}

// Scores maps a player's display name to the player's score in a room.
type Scores map[string]int

// Room is a read-only snapshot of a room.
type Room struct {
	RoomID    string
	Status    RoomStatus
	Capacity  int
	Players   []string
	Scores    Scores
	Question  int
	Deadline  time.Time
	CreatedAt time.Time
}

// Leaderboard represents a list of players and their scores within a room.
// The list is sorted by score in descending order.
type Leaderboard struct {
	RoomID  string
	Entries []LeaderboardEntry
}

type LeaderboardEntry struct {
	Player string
	Score  float64
}
