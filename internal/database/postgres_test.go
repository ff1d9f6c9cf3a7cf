package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePostgresURL(t *testing.T) {
	tests := map[string]string{
		"postgresql+asyncpg://u:p@db:5432/exams":  "postgresql://u:p@db:5432/exams",
		"postgres+psycopg2://u@localhost/x":       "postgres://u@localhost/x",
		"postgres://u:p@db:5432/exams?sslmode=no": "postgres://u:p@db:5432/exams?sslmode=no",
		"not a url":                               "not a url",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizePostgresURL(in), in)
	}
}
