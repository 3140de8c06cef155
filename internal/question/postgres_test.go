//go:build integration_test

package question_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/victornm/quizroom/internal/errors"
	"github.com/victornm/quizroom/internal/question"
)

func TestPostgres_Questions(t *testing.T) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("quiz"),
		tcpostgres.WithUsername("quiz"),
		tcpostgres.WithPassword("quiz"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, question.Migrate(dsn))
	require.NoError(t, question.Migrate(dsn), "migrating twice should be a no-op")

	pool, err := question.NewPool(ctx, question.PostgresConfig{DSN: dsn, MaxConns: 2})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	src := question.NewPostgres(pool)

	qs, err := src.Questions(ctx, question.DefaultQuizID)
	require.NoError(t, err)
	assert.Equal(t, question.DefaultQuiz(), qs, "the seeded quiz should match the built-in one")

	_, err = src.Questions(ctx, "missing")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}
