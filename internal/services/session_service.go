package services

import (
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/hex"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/uwingabirejoselyne/credit-jambo-client-app/internal/models"
)

// SessionService owns the session records bound to (account, device hash)
// pairs. There is deliberately no uniqueness constraint on that pair in
// the store: legitimate re-logins must never fail on a duplicate key.
// Instead Create runs a reconciliation protocol that converges each pair
// to a single session, tolerating a brief duplicate window under truly
// concurrent logins and self-healing on the next login or sweep.
type SessionService struct {
	db *sql.DB
}

func NewSessionService(db *sql.DB) *SessionService {
	viper.SetDefault("session.customer_ttl_hours", 72)
	viper.SetDefault("session.admin_ttl_hours", 8)
	viper.SetDefault("session.sweep_interval", time.Hour)
	viper.SetDefault("session.deep_sweep_interval", 24*time.Hour)
	viper.SetDefault("session.inactive_retention_days", 30)
	return &SessionService{db: db}
}

// TTLFor returns the validity window for a principal type. Administrative
// sessions get the shorter window; both are configured independently.
func (s *SessionService) TTLFor(role string) time.Duration {
	if role == models.RoleAdmin {
		return time.Duration(viper.GetInt("session.admin_ttl_hours")) * time.Hour
	}
	return time.Duration(viper.GetInt("session.customer_ttl_hours")) * time.Hour
}

// Create materializes the single authoritative session for the pair:
//
//  1. delete any session for the exact (account, device hash) pair
//  2. delete the account's expired or inactive sessions, any device
//  3. insert the fresh session with a new token and role-based expiry
//  4. re-query the pair and keep only the newest created row, deleting
//     the rest (heals a concurrent login that interleaved with 1-3)
//
// Steps 1-3 run in one store transaction; step 4 runs after commit so
// that whichever concurrent caller reconciles last observes both rows.
func (s *SessionService) Create(accountID, deviceHash, role string) (*models.Session, error) {
	now := time.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, storeErr(err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM sessions WHERE account_id = $1 AND device_hash = $2`, accountID, deviceHash); err != nil {
		return nil, storeErr(err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE account_id = $1 AND (expires_at <= $2 OR is_active = FALSE)`, accountID, now); err != nil {
		return nil, storeErr(err)
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, storeErr(err)
	}
	session := &models.Session{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		DeviceHash:     deviceHash,
		Token:          token,
		ExpiresAt:      now.Add(s.TTLFor(role)),
		IsActive:       true,
		LastActivityAt: now,
		CreatedAt:      now,
	}

	_, err = tx.Exec(`
		INSERT INTO sessions (id, account_id, device_hash, token, expires_at, is_active, last_activity_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		session.ID, session.AccountID, session.DeviceHash, session.Token,
		session.ExpiresAt, session.IsActive, session.LastActivityAt, session.CreatedAt)
	if err != nil {
		return nil, storeErr(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr(err)
	}

	return s.reconcile(accountID, deviceHash)
}

// reconcile keeps the most recently created session for the pair and
// deletes the rest, returning the kept session as authoritative.
func (s *SessionService) reconcile(accountID, deviceHash string) (*models.Session, error) {
	var kept models.Session
	err := s.db.QueryRow(`
		SELECT id, account_id, device_hash, token, expires_at, is_active, last_activity_at, created_at
		FROM sessions
		WHERE account_id = $1 AND device_hash = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, accountID, deviceHash).Scan(
		&kept.ID, &kept.AccountID, &kept.DeviceHash, &kept.Token,
		&kept.ExpiresAt, &kept.IsActive, &kept.LastActivityAt, &kept.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrInvalidSession
	}
	if err != nil {
		return nil, storeErr(err)
	}

	_, err = s.db.Exec(`DELETE FROM sessions WHERE account_id = $1 AND device_hash = $2 AND id <> $3`,
		accountID, deviceHash, kept.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	return &kept, nil
}

// Validate resolves a session id on an authenticated request. Detecting
// expiry marks the session inactive as a side effect; a valid session has
// its activity timestamp refreshed.
func (s *SessionService) Validate(sessionID string) (*models.Session, error) {
	session, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive {
		return nil, models.ErrInvalidSession
	}

	now := time.Now()
	if session.Expired(now) {
		if _, err := s.db.Exec(`UPDATE sessions SET is_active = FALSE WHERE id = $1`, sessionID); err != nil {
			log.Printf("[SESSION] Failed to deactivate expired session %s: %v", sessionID, err)
		}
		return nil, models.ErrSessionExpired
	}

	if _, err := s.db.Exec(`UPDATE sessions SET last_activity_at = $1 WHERE id = $2`, now, sessionID); err != nil {
		return nil, storeErr(err)
	}
	session.LastActivityAt = now
	return session, nil
}

// Refresh extends a currently valid session by the role-appropriate
// window.
func (s *SessionService) Refresh(sessionID, role string) (*models.Session, error) {
	session, err := s.Validate(sessionID)
	if err != nil {
		return nil, err
	}

	session.ExpiresAt = time.Now().Add(s.TTLFor(role))
	if _, err := s.db.Exec(`UPDATE sessions SET expires_at = $1 WHERE id = $2`, session.ExpiresAt, sessionID); err != nil {
		return nil, storeErr(err)
	}
	return session, nil
}

// Deactivate soft-deletes the session on logout, preserving it as an
// audit record, and removes any other sessions for the same pair so a
// later login starts clean.
func (s *SessionService) Deactivate(sessionID string) error {
	session, err := s.get(sessionID)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(`UPDATE sessions SET is_active = FALSE, last_activity_at = $1 WHERE id = $2`, time.Now(), sessionID); err != nil {
		return storeErr(err)
	}
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE account_id = $1 AND device_hash = $2 AND id <> $3`,
		session.AccountID, session.DeviceHash, sessionID); err != nil {
		return storeErr(err)
	}
	return nil
}

// SweepExpired deletes sessions whose validity window has passed.
func (s *SessionService) SweepExpired() error {
	result, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at <= $1`, time.Now())
	if err != nil {
		return storeErr(err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		log.Printf("[SESSION] Swept %d expired sessions", n)
	}
	return nil
}

// SweepInactive deletes expired or deactivated sessions idle beyond the
// retention window. Live sessions are never swept on idleness alone, so
// a TTL configured longer than retention cannot cut sessions short.
func (s *SessionService) SweepInactive() error {
	now := time.Now()
	retention := time.Duration(viper.GetInt("session.inactive_retention_days")) * 24 * time.Hour
	result, err := s.db.Exec(`DELETE FROM sessions WHERE last_activity_at <= $1 AND (is_active = FALSE OR expires_at <= $2)`,
		now.Add(-retention), now)
	if err != nil {
		return storeErr(err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		log.Printf("[SESSION] Swept %d inactive sessions", n)
	}
	return nil
}

// StartSweeper runs the housekeeping loops until ctx is cancelled. The
// sweeps are best-effort; request handling never depends on them.
func (s *SessionService) StartSweeper(ctx context.Context) {
	go func() {
		expired := time.NewTicker(viper.GetDuration("session.sweep_interval"))
		inactive := time.NewTicker(viper.GetDuration("session.deep_sweep_interval"))
		defer expired.Stop()
		defer inactive.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-expired.C:
				if err := s.SweepExpired(); err != nil {
					log.Printf("[SESSION] Expired sweep failed: %v", err)
				}
			case <-inactive.C:
				if err := s.SweepInactive(); err != nil {
					log.Printf("[SESSION] Inactive sweep failed: %v", err)
				}
			}
		}
	}()
}

func (s *SessionService) get(sessionID string) (*models.Session, error) {
	var session models.Session
	err := s.db.QueryRow(`
		SELECT id, account_id, device_hash, token, expires_at, is_active, last_activity_at, created_at
		FROM sessions
		WHERE id = $1`, sessionID).Scan(
		&session.ID, &session.AccountID, &session.DeviceHash, &session.Token,
		&session.ExpiresAt, &session.IsActive, &session.LastActivityAt, &session.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrInvalidSession
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &session, nil
}

func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := cryptorand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
