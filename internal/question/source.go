// Package question provides the question banks a quiz session draws from.
package question

import (
	"context"
	"slices"

	"github.com/victornm/quizroom/internal/domain"
	"github.com/victornm/quizroom/internal/errors"
)

// DefaultQuizID names the built-in quiz.
const DefaultQuizID = "default"

// Source looks up the ordered questions of a quiz. Implementations must be
// safe for concurrent use.
type Source interface {
	Questions(ctx context.Context, quizID string) ([]domain.Question, error)
}

// DefaultQuiz is served when no other question bank is configured.
func DefaultQuiz() []domain.Question {
	return []domain.Question{
		{QuestionID: "capital-of-france", Text: "Capital of France?", CorrectAnswer: "paris", Options: []string{"Paris", "Madrid", "Rome", "Berlin"}},
		{QuestionID: "two-plus-two", Text: "2 + 2?", CorrectAnswer: "4", Options: []string{"3", "4", "5", "22"}},
		{QuestionID: "sky-color", Text: "Color of the sky?", CorrectAnswer: "blue", Options: []string{"Blue", "Green", "Red", "Yellow"}},
	}
}

// Static serves quizzes held in memory.
type Static struct {
	quizzes map[string][]domain.Question
}

func NewStatic(quizzes map[string][]domain.Question) *Static {
	s := &Static{quizzes: make(map[string][]domain.Question, len(quizzes))}
	for id, qs := range quizzes {
		s.quizzes[id] = slices.Clone(qs)
	}
	return s
}

// NewDefault returns a Static source holding only DefaultQuiz under DefaultQuizID.
func NewDefault() *Static {
	return NewStatic(map[string][]domain.Question{DefaultQuizID: DefaultQuiz()})
}

func (s *Static) Questions(_ context.Context, quizID string) ([]domain.Question, error) {
	qs, ok := s.quizzes[quizID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("quiz not found: %s", quizID))
	}
	return slices.Clone(qs), nil
}
