package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamchat/internal/domain"
)

func TestSessionRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expires := time.Now().Add(24 * time.Hour)
	mock.ExpectQuery(`INSERT INTO sessions`).
		WithArgs("u1", "tok", expires).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("s1", time.Now()))

	session := &domain.Session{UserID: "u1", Token: "tok", ExpiresAt: expires}
	require.NoError(t, NewSessionRepository(db).Create(context.Background(), session))
	assert.Equal(t, "s1", session.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_GetByToken(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		expires := time.Now().Add(time.Hour)
		mock.ExpectQuery(`FROM sessions\s+WHERE token = \$1 AND expires_at > \$2`).
			WithArgs("tok", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token", "expires_at", "created_at"}).
				AddRow("s1", "u1", "tok", expires, time.Now()))

		session, err := NewSessionRepository(db).GetByToken(context.Background(), "tok")
		require.NoError(t, err)
		assert.Equal(t, "u1", session.UserID)
	})

	t.Run("missing_or_expired", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`FROM sessions`).WillReturnError(sql.ErrNoRows)

		_, err = NewSessionRepository(db).GetByToken(context.Background(), "tok")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})
}

func TestSessionRepository_Delete(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{"deleted", 1, nil},
		{"unknown_token", 0, domain.ErrSessionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectExec(`DELETE FROM sessions WHERE token = \$1`).
				WithArgs("tok").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err = NewSessionRepository(db).Delete(context.Background(), "tok")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSessionRepository_DeleteExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM sessions WHERE expires_at <= \$1`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := NewSessionRepository(db).DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
