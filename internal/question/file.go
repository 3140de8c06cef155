package question

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/victornm/quizroom/internal/domain"
)

type fileBank struct {
	Quizzes []struct {
		ID        string `yaml:"id"`
		Questions []struct {
			ID      string   `yaml:"id"`
			Text    string   `yaml:"text"`
			Answer  string   `yaml:"answer"`
			Options []string `yaml:"options"`
		} `yaml:"questions"`
	} `yaml:"quizzes"`
}

// LoadFile reads a YAML question bank:
//
//	quizzes:
//	  - id: default
//	    questions:
//	      - id: capital-of-france
//	        text: Capital of France?
//	        answer: paris
//	        options: [Paris, Rome]
func LoadFile(path string) (*Static, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}
	return ParseYAML(b)
}

func ParseYAML(b []byte) (*Static, error) {
	var bank fileBank
	if err := yaml.Unmarshal(b, &bank); err != nil {
		return nil, fmt.Errorf("parse question bank: %w", err)
	}

	quizzes := make(map[string][]domain.Question, len(bank.Quizzes))
	for i, quiz := range bank.Quizzes {
		if quiz.ID == "" {
			return nil, fmt.Errorf("parse question bank: quiz %d has no id", i)
		}
		if _, dup := quizzes[quiz.ID]; dup {
			return nil, fmt.Errorf("parse question bank: duplicate quiz %q", quiz.ID)
		}

		qs := make([]domain.Question, 0, len(quiz.Questions))
		for j, q := range quiz.Questions {
			if strings.TrimSpace(q.Text) == "" || strings.TrimSpace(q.Answer) == "" {
				return nil, fmt.Errorf("parse question bank: quiz %q question %d needs text and answer", quiz.ID, j)
			}
			qs = append(qs, domain.Question{
				QuestionID:    q.ID,
				Text:          q.Text,
				CorrectAnswer: q.Answer,
				Options:       q.Options,
			})
		}
		quizzes[quiz.ID] = qs
	}

	return NewStatic(quizzes), nil
}
