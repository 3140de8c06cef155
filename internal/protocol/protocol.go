// Package protocol is the JSON wire format spoken with quiz clients.
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/victornm/quizroom/internal/domain"
	"github.com/victornm/quizroom/internal/errors"
)

// Message types.
const (
	TypeJoin         = "join"
	TypeAnswer       = "answer"
	TypeRoomAssigned = "room_assigned"
	TypeQuestion     = "question"
	TypeScoreUpdate  = "score_update"
)

// Command is a decoded inbound message: Join or Answer.
type Command interface {
	command()
}

type Join struct {
	Name string
}

type Answer struct {
	Token string
	Text  string
}

func (Join) command()   {}
func (Answer) command() {}

type inbound struct {
	Type        string  `json:"type"`
	Name        *string `json:"name"`
	PlayerIDEnc *string `json:"playerIdEnc"`
	Answer      *string `json:"answer"`
}

// Decode parses an inbound message. Every failure is an InvalidArgument error.
func Decode(b []byte) (Command, error) {
	var in inbound
	if err := json.Unmarshal(b, &in); err != nil {
		return nil, errors.Decode("invalid json: %v", err)
	}

	switch in.Type {
	case TypeJoin:
		if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
			return nil, errors.Decode("join: name is required")
		}
		return Join{Name: strings.TrimSpace(*in.Name)}, nil

	case TypeAnswer:
		if in.PlayerIDEnc == nil || *in.PlayerIDEnc == "" {
			return nil, errors.Decode("answer: playerIdEnc is required")
		}
		if in.Answer == nil {
			return nil, errors.Decode("answer: answer is required")
		}
		return Answer{Token: *in.PlayerIDEnc, Text: *in.Answer}, nil

	case "":
		return nil, errors.Decode("missing message type")

	default:
		return nil, errors.Decode("unknown message type %q", in.Type)
	}
}

type roomAssigned struct {
	Type        string `json:"type"`
	RoomID      string `json:"roomId"`
	PlayerIDEnc string `json:"playerIdEnc"`
}

type question struct {
	Type       string   `json:"type"`
	Text       string   `json:"text"`
	Options    []string `json:"options"`
	QuestionID string   `json:"questionId"`
}

type scoreUpdate struct {
	Type   string         `json:"type"`
	Scores map[string]int `json:"scores"`
}

func EncodeRoomAssigned(roomID, token string) ([]byte, error) {
	return json.Marshal(roomAssigned{
		Type:        TypeRoomAssigned,
		RoomID:      roomID,
		PlayerIDEnc: token,
	})
}

func EncodeQuestion(q domain.Question) ([]byte, error) {
	options := q.Options
	if options == nil {
		options = []string{}
	}

	return json.Marshal(question{
		Type:       TypeQuestion,
		Text:       q.Text,
		Options:    options,
		QuestionID: q.QuestionID,
	})
}

func EncodeScoreUpdate(scores domain.Scores) ([]byte, error) {
	s := map[string]int(scores)
	if s == nil {
		s = map[string]int{}
	}

	return json.Marshal(scoreUpdate{
		Type:   TypeScoreUpdate,
		Scores: s,
	})
}
