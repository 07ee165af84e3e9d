package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"teamchat/internal/domain"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{"matching_constraint", &pq.Error{Code: "23505", Constraint: "users_email_key"}, "users_email_key", true},
		{"any_constraint", &pq.Error{Code: "23505", Constraint: "chats_bound_roster_id_key"}, "", true},
		{"different_constraint", &pq.Error{Code: "23505", Constraint: "sessions_token_key"}, "users_email_key", false},
		{"foreign_key_violation", &pq.Error{Code: "23503"}, "", false},
		{"not_pq_error", errors.New("boom"), "", false},
		{"nil", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err, tt.constraint))
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"bad_conn", driver.ErrBadConn, true},
		{"conn_done", sql.ErrConnDone, true},
		{"connection_exception_class", &pq.Error{Code: "08006"}, true},
		{"admin_shutdown", &pq.Error{Code: "57P01"}, true},
		{"serialization_failure", &pq.Error{Code: "40001"}, true},
		{"deadlock", &pq.Error{Code: "40P01"}, true},
		{"net_error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"unique_violation", &pq.Error{Code: "23505"}, false},
		{"syntax_error", &pq.Error{Code: "42601"}, false},
		{"no_rows", sql.ErrNoRows, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("get chat", nil))
	assert.ErrorIs(t, classify("get chat", sql.ErrNoRows), domain.ErrNotFound)

	err := classify("put chat", driver.ErrBadConn)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Contains(t, err.Error(), "put chat")

	err = classify("put chat", &pq.Error{Code: "42601"})
	assert.NotErrorIs(t, err, domain.ErrUnavailable)
	assert.Contains(t, err.Error(), "put chat")
}
