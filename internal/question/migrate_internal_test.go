package question

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/quiz?sslmode=disable", migrateURL("postgres://u:p@db:5432/quiz?sslmode=disable"))
	assert.Equal(t, "pgx5://u:p@db/quiz", migrateURL("postgresql://u:p@db/quiz"))
	assert.Equal(t, "pgx5://db/quiz", migrateURL("pgx5://db/quiz"))
}
