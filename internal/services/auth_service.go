package services

import (
	"context"
	cryptorand "crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/spf13/viper"
	"github.com/uwingabirejoselyne/credit-jambo-client-app/internal/middleware"
	"github.com/uwingabirejoselyne/credit-jambo-client-app/internal/models"
	"golang.org/x/crypto/argon2"
)

// AuthService coordinates credential verification, device trust and
// session issuance. It never reveals whether a login failure was caused
// by an unknown email or a wrong password.
type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	sessions  *SessionService
	validator *ValidationHelper
}

// RegisterRequest represents the registration request payload
// @Description Registration request structure
type RegisterRequest struct {
	FirstName        string `json:"firstName" validate:"required,min=2" example:"John"`
	LastName         string `json:"lastName" validate:"required,min=2" example:"Doe"`
	Email            string `json:"email" validate:"required,email" example:"user@example.com"`
	Phone            string `json:"phone" validate:"required,min=10,max=15" example:"+250781234567"`
	Password         string `json:"password" validate:"required,min=8" example:"password123"`
	DeviceIdentifier string `json:"deviceIdentifier" validate:"required,min=8"`
}

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	Email            string `json:"email" validate:"required,email" example:"user@example.com"`
	Password         string `json:"password" validate:"required" example:"password123"`
	DeviceIdentifier string `json:"deviceIdentifier" validate:"required,min=8"`
}

// AuthResponse represents the authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Token   string             `json:"token"`
	Account models.AccountView `json:"account"`
}

func NewAuthService(db *sql.DB, redisClient *redis.Client, sessions *SessionService) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		sessions:  sessions,
		validator: NewValidationHelper(),
	}
}

// Register creates an account with one unverified device
// @Summary Register a new customer
// @Description Create a savings account bound to an unverified device; no session is issued until the device is verified
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration request"
// @Success 201 {object} models.AccountView
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /auth/register [post]
func (s *AuthService) Register(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Registration attempt from IP: %s", r.RemoteAddr)

	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		log.Printf("[AUTH] Registration validation failed: %v", err)
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	hashedPassword, err := hashPassword(req.Password)
	if err != nil {
		log.Printf("[AUTH] Password hashing failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	now := time.Now()
	account := models.Account{
		ID:        uuid.NewString(),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     strings.ToLower(req.Email),
		Phone:     req.Phone,
		Balance:   0,
		Devices: models.DeviceList{{
			DeviceHash: models.HashDeviceIdentifier(req.DeviceIdentifier),
			AddedAt:    now,
		}},
		Role:      models.RoleCustomer,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.Exec(`
		INSERT INTO accounts (id, first_name, last_name, email, phone, password, balance, devices, role, is_active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12)`,
		account.ID, account.FirstName, account.LastName, account.Email, account.Phone,
		hashedPassword, account.Balance, account.Devices, account.Role, account.IsActive,
		account.CreatedAt, account.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			log.Printf("[AUTH] Duplicate registration for %s", req.Email)
			WriteServiceError(w, models.ErrDuplicateAccount)
			return
		}
		log.Printf("[AUTH] Account creation failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	// No session here: the device is unverified, so registration never
	// auto-logs-in.
	log.Printf("[AUTH] Account created - ID: %s, Email: %s", account.ID, account.Email)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"account": account.View(),
		"message": "Registration successful. Your device is pending verification.",
	})
}

// Login authenticates a customer from a verified device
// @Summary Login
// @Description Verify credentials and device trust, then issue a bearer credential for the reconciled session
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		log.Printf("[AUTH] Login validation failed: %v", err)
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var account models.Account
	err := s.db.QueryRow(`
		SELECT id, first_name, last_name, email, phone, password, balance, devices, role, is_active, version, created_at
		FROM accounts
		WHERE email = $1`, strings.ToLower(req.Email)).Scan(
		&account.ID, &account.FirstName, &account.LastName, &account.Email, &account.Phone,
		&account.Password, &account.Balance, &account.Devices, &account.Role,
		&account.IsActive, &account.Version, &account.CreatedAt)
	if err != nil {
		// Unknown email and wrong password are indistinguishable to the
		// caller.
		log.Printf("[AUTH] Login failed - account lookup for %s", req.Email)
		WriteServiceError(w, models.ErrInvalidCredentials)
		return
	}

	if !verifyPassword(req.Password, account.Password) {
		log.Printf("[AUTH] Login failed - password mismatch for account %s", account.ID)
		WriteServiceError(w, models.ErrInvalidCredentials)
		return
	}

	if !account.IsActive {
		log.Printf("[AUTH] Login rejected - inactive account %s", account.ID)
		WriteServiceError(w, models.ErrAccountInactive)
		return
	}

	deviceHash := models.HashDeviceIdentifier(req.DeviceIdentifier)
	device := account.Devices.Find(deviceHash)
	if device == nil {
		log.Printf("[AUTH] Login rejected - unknown device for account %s", account.ID)
		WriteServiceError(w, models.ErrDeviceNotRegistered)
		return
	}
	if !device.IsVerified {
		log.Printf("[AUTH] Login rejected - unverified device for account %s", account.ID)
		WriteServiceError(w, models.ErrDeviceNotVerified)
		return
	}

	now := time.Now()
	device.LastLoginAt = &now
	if err := s.stampDeviceLogin(account.ID, deviceHash, now); err != nil {
		log.Printf("[AUTH] Failed to stamp device login for account %s: %v", account.ID, err)
	}

	session, err := s.sessions.Create(account.ID, deviceHash, account.Role)
	if err != nil {
		log.Printf("[AUTH] Session creation failed for account %s: %v", account.ID, err)
		WriteServiceError(w, err)
		return
	}

	token, err := generateJWT(session, account.Role)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for account %s: %v", account.ID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Login successful for account %s, session %s", account.ID, session.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token, Account: account.View()})
}

// Logout deactivates the current session
// @Summary Logout
// @Description Soft-deactivate the session, blacklist the bearer credential and drop other sessions for the pair
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionID(r.Context())
	if sessionID != "" {
		if err := s.sessions.Deactivate(sessionID); err != nil {
			log.Printf("[AUTH] Failed to deactivate session %s: %v", sessionID, err)
		}
	}

	if token := middleware.Bearer(r.Context()); token != "" && s.redis != nil {
		ctx := context.Background()
		key := fmt.Sprintf("blacklist:%s", token)
		// Blacklist token until its expiration
		expiry := s.sessions.TTLFor(middleware.Role(r.Context()))
		if err := s.redis.Set(ctx, key, "1", expiry).Err(); err != nil {
			log.Printf("[AUTH] Failed to blacklist token: %v", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Logout successful"})
}

// Refresh extends the current session
// @Summary Refresh session
// @Description Extend the session's validity window and re-issue a bearer credential for the same session
// @Tags auth
// @Produce json
// @Success 200 {object} AuthResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/refresh [post]
func (s *AuthService) Refresh(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionID(r.Context())
	role := middleware.Role(r.Context())

	session, err := s.sessions.Refresh(sessionID, role)
	if err != nil {
		log.Printf("[AUTH] Session refresh failed for %s: %v", sessionID, err)
		WriteServiceError(w, err)
		return
	}

	token, err := generateJWT(session, role)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for session %s: %v", sessionID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// GetAccount returns the authenticated account
// @Summary Get account details
// @Description Sanitized view of the authenticated account; never includes the password hash or raw device identifiers
// @Tags auth
// @Produce json
// @Success 200 {object} models.AccountView
// @Failure 404 {object} ErrorResponse
// @Router /auth/account [get]
func (s *AuthService) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountID(r.Context())

	var account models.Account
	err := s.db.QueryRow(`
		SELECT id, first_name, last_name, email, phone, balance, devices, role, is_active, created_at
		FROM accounts
		WHERE id = $1`, accountID).Scan(
		&account.ID, &account.FirstName, &account.LastName, &account.Email, &account.Phone,
		&account.Balance, &account.Devices, &account.Role, &account.IsActive, &account.CreatedAt)
	if err == sql.ErrNoRows {
		WriteServiceError(w, models.ErrAccountNotFound)
		return
	}
	if err != nil {
		log.Printf("[AUTH] Failed to fetch account %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch account", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account.View())
}

// stampDeviceLogin records the login time on the device. The devices
// column holds the whole aggregate, so the write re-reads it under the
// row lock and carries the version predicate; a concurrent device
// verification is never overwritten with a stale copy.
func (s *AuthService) stampDeviceLogin(accountID, deviceHash string, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var devices models.DeviceList
	var version int
	err = tx.QueryRow(`
		SELECT devices, version
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).Scan(&devices, &version)
	if err != nil {
		return err
	}

	device := devices.Find(deviceHash)
	if device == nil {
		return models.ErrDeviceNotRegistered
	}
	device.LastLoginAt = &at

	result, err := tx.Exec(`UPDATE accounts SET devices = $1, version = version + 1, updated_at = $2 WHERE id = $3 AND version = $4`,
		devices, at, accountID, version)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", accountID)
	}
	return tx.Commit()
}

// decodeJSON applies the shared request-body discipline: bounded size,
// unknown fields rejected, exactly one JSON object.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func generateJWT(session *models.Session, role string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"session_id": session.ID,
		"account_id": session.AccountID,
		"role":       role,
		"exp":        session.ExpiresAt.Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return subtle.ConstantTimeCompare(hash, computedHash) == 1
}
