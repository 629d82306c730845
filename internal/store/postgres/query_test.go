package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
)

func TestWithListOpts(t *testing.T) {
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	query, args := withListOpts("SELECT * FROM t WHERE a = $1", "created_at", []any{"x"},
		domain.ListOpts{Since: &since, Limit: 10, Offset: 20})

	assert.Equal(t,
		"SELECT * FROM t WHERE a = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4",
		query)
	assert.Equal(t, []any{"x", since, 10, 20}, args)
}

func TestWithListOptsEmpty(t *testing.T) {
	query, args := withListOpts("SELECT * FROM t WHERE 1=1", "observed_at", nil, domain.ListOpts{})
	assert.Equal(t, "SELECT * FROM t WHERE 1=1 ORDER BY observed_at DESC", query)
	assert.Empty(t, args)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/app?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "app"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}
