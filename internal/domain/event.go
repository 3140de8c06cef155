package domain

const (
	EventNameSessionStarted     = "session.started"
	EventNameQuestionPublished  = "question.published"
	EventNameScoreUpdated       = "score.updated"
	EventNameLeaderboardUpdated = "leaderboard.updated"
	EventNameSessionFinished    = "session.finished"
	EventNamePlayerLeft         = "player.left"
)

type EventSessionStarted struct {
	RoomID  string
	Players []string
}

func (EventSessionStarted) Name() string { return EventNameSessionStarted }

type EventQuestionPublished struct {
	RoomID   string
	Index    int
	Question Question
}

func (EventQuestionPublished) Name() string { return EventNameQuestionPublished }

type EventScoreUpdated struct {
	RoomID string
	Scores Scores
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }

type EventSessionFinished struct {
	RoomID string
	Scores Scores
}

func (EventSessionFinished) Name() string { return EventNameSessionFinished }

type EventPlayerLeft struct {
	RoomID string
	Player string
}

func (EventPlayerLeft) Name() string { return EventNamePlayerLeft }
