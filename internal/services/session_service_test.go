package services

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/uwingabirejoselyne/credit-jambo-client-app/internal/models"
)

const (
	selectSessionByPairQuery = "SELECT id, account_id, device_hash, token, expires_at, is_active, last_activity_at, created_at FROM sessions WHERE account_id = \\$1 AND device_hash = \\$2 ORDER BY created_at DESC, id DESC LIMIT 1"
	selectSessionByIDQuery   = "SELECT id, account_id, device_hash, token, expires_at, is_active, last_activity_at, created_at FROM sessions WHERE id = \\$1"
	deletePairQuery          = "DELETE FROM sessions WHERE account_id = \\$1 AND device_hash = \\$2$"
	deleteStaleQuery         = "DELETE FROM sessions WHERE account_id = \\$1 AND \\(expires_at <= \\$2 OR is_active = FALSE\\)"
	deleteOthersQuery        = "DELETE FROM sessions WHERE account_id = \\$1 AND device_hash = \\$2 AND id <> \\$3"
	insertSessionQuery       = "INSERT INTO sessions"
)

func sessionRow(id, accountID, deviceHash string, expiresAt time.Time, isActive bool, createdAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "account_id", "device_hash", "token", "expires_at", "is_active", "last_activity_at", "created_at"}).
		AddRow(id, accountID, deviceHash, "token-"+id, expiresAt, isActive, createdAt, createdAt)
}

func TestSessionService_TTLFor(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	viper.Set("session.customer_ttl_hours", 72)
	viper.Set("session.admin_ttl_hours", 8)

	service := NewSessionService(db)
	assert.Equal(t, 72*time.Hour, service.TTLFor(models.RoleCustomer))
	assert.Equal(t, 8*time.Hour, service.TTLFor(models.RoleAdmin))
}

func TestSessionService_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSessionService(db)
	accountID := "11111111-1111-1111-1111-111111111111"
	deviceHash := "abc123hash"

	t.Run("fresh login replaces the pair and keeps the new session", func(t *testing.T) {
		future := time.Now().Add(72 * time.Hour)
		created := time.Now()

		mock.ExpectBegin()
		mock.ExpectExec(deletePairQuery).
			WithArgs(accountID, deviceHash).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(deleteStaleQuery).
			WithArgs(accountID, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(insertSessionQuery).
			WithArgs(sqlmock.AnyArg(), accountID, deviceHash, sqlmock.AnyArg(),
				sqlmock.AnyArg(), true, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
		mock.ExpectQuery(selectSessionByPairQuery).
			WithArgs(accountID, deviceHash).
			WillReturnRows(sessionRow("sess-new", accountID, deviceHash, future, true, created))
		mock.ExpectExec(deleteOthersQuery).
			WithArgs(accountID, deviceHash, "sess-new").
			WillReturnResult(sqlmock.NewResult(0, 0))

		session, err := service.Create(accountID, deviceHash, models.RoleCustomer)
		assert.NoError(t, err)
		assert.Equal(t, "sess-new", session.ID)
		assert.Equal(t, deviceHash, session.DeviceHash)
		assert.True(t, session.IsActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent login converges to the newest session", func(t *testing.T) {
		future := time.Now().Add(72 * time.Hour)

		mock.ExpectBegin()
		mock.ExpectExec(deletePairQuery).
			WithArgs(accountID, deviceHash).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(deleteStaleQuery).
			WithArgs(accountID, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(insertSessionQuery).
			WithArgs(sqlmock.AnyArg(), accountID, deviceHash, sqlmock.AnyArg(),
				sqlmock.AnyArg(), true, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
		// A racing login inserted after our commit; the re-query surfaces
		// its row as the newest and ours is deleted.
		mock.ExpectQuery(selectSessionByPairQuery).
			WithArgs(accountID, deviceHash).
			WillReturnRows(sessionRow("sess-racer", accountID, deviceHash, future, true, time.Now().Add(time.Second)))
		mock.ExpectExec(deleteOthersQuery).
			WithArgs(accountID, deviceHash, "sess-racer").
			WillReturnResult(sqlmock.NewResult(0, 1))

		session, err := service.Create(accountID, deviceHash, models.RoleCustomer)
		assert.NoError(t, err)
		assert.Equal(t, "sess-racer", session.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSessionService_Validate(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSessionService(db)
	accountID := "11111111-1111-1111-1111-111111111111"

	t.Run("valid session bumps activity", func(t *testing.T) {
		mock.ExpectQuery(selectSessionByIDQuery).
			WithArgs("sess-1").
			WillReturnRows(sessionRow("sess-1", accountID, "hash", time.Now().Add(time.Hour), true, time.Now()))
		mock.ExpectExec("UPDATE sessions SET last_activity_at = \\$1 WHERE id = \\$2").
			WithArgs(sqlmock.AnyArg(), "sess-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		session, err := service.Validate("sess-1")
		assert.NoError(t, err)
		assert.Equal(t, accountID, session.AccountID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired session is marked inactive", func(t *testing.T) {
		mock.ExpectQuery(selectSessionByIDQuery).
			WithArgs("sess-1").
			WillReturnRows(sessionRow("sess-1", accountID, "hash", time.Now().Add(-time.Minute), true, time.Now().Add(-80*time.Hour)))
		mock.ExpectExec("UPDATE sessions SET is_active = FALSE WHERE id = \\$1").
			WithArgs("sess-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := service.Validate("sess-1")
		assert.ErrorIs(t, err, models.ErrSessionExpired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("inactive session is invalid", func(t *testing.T) {
		mock.ExpectQuery(selectSessionByIDQuery).
			WithArgs("sess-1").
			WillReturnRows(sessionRow("sess-1", accountID, "hash", time.Now().Add(time.Hour), false, time.Now()))

		_, err := service.Validate("sess-1")
		assert.ErrorIs(t, err, models.ErrInvalidSession)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown session is invalid", func(t *testing.T) {
		mock.ExpectQuery(selectSessionByIDQuery).
			WithArgs("sess-missing").
			WillReturnError(sql.ErrNoRows)

		_, err := service.Validate("sess-missing")
		assert.ErrorIs(t, err, models.ErrInvalidSession)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSessionService_Refresh(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSessionService(db)
	accountID := "11111111-1111-1111-1111-111111111111"
	oldExpiry := time.Now().Add(time.Hour)

	mock.ExpectQuery(selectSessionByIDQuery).
		WithArgs("sess-1").
		WillReturnRows(sessionRow("sess-1", accountID, "hash", oldExpiry, true, time.Now()))
	mock.ExpectExec("UPDATE sessions SET last_activity_at = \\$1 WHERE id = \\$2").
		WithArgs(sqlmock.AnyArg(), "sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sessions SET expires_at = \\$1 WHERE id = \\$2").
		WithArgs(sqlmock.AnyArg(), "sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	session, err := service.Refresh("sess-1", models.RoleCustomer)
	assert.NoError(t, err)
	assert.True(t, session.ExpiresAt.After(oldExpiry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionService_Deactivate(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSessionService(db)
	accountID := "11111111-1111-1111-1111-111111111111"

	t.Run("logout keeps the row as an audit record", func(t *testing.T) {
		mock.ExpectQuery(selectSessionByIDQuery).
			WithArgs("sess-1").
			WillReturnRows(sessionRow("sess-1", accountID, "hash", time.Now().Add(time.Hour), true, time.Now()))
		mock.ExpectExec("UPDATE sessions SET is_active = FALSE, last_activity_at = \\$1 WHERE id = \\$2").
			WithArgs(sqlmock.AnyArg(), "sess-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(deleteOthersQuery).
			WithArgs(accountID, "hash", "sess-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.NoError(t, service.Deactivate("sess-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown session", func(t *testing.T) {
		mock.ExpectQuery(selectSessionByIDQuery).
			WithArgs("sess-missing").
			WillReturnError(sql.ErrNoRows)

		err := service.Deactivate("sess-missing")
		assert.ErrorIs(t, err, models.ErrInvalidSession)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSessionService_Sweeps(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSessionService(db)

	mock.ExpectExec("DELETE FROM sessions WHERE expires_at <= \\$1").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 7))
	// The deep sweep only removes expired or deactivated sessions; a
	// live session is never deleted on idleness alone.
	mock.ExpectExec("DELETE FROM sessions WHERE last_activity_at <= \\$1 AND \\(is_active = FALSE OR expires_at <= \\$2\\)").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	assert.NoError(t, service.SweepExpired())
	assert.NoError(t, service.SweepInactive())
	assert.NoError(t, mock.ExpectationsWereMet())
}
