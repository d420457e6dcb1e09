package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/uwingabirejoselyne/credit-jambo-client-app/internal/models"
)

// SessionValidator resolves a session id to a live session, refreshing
// its activity timestamp. Satisfied by services.SessionService.
type SessionValidator interface {
	Validate(sessionID string) (*models.Session, error)
}

// Auth authenticates requests: bearer extraction, blacklist check, JWT
// verification, then session validation against the registry. Both
// collaborators are injected; there is no package-level state.
type Auth struct {
	redis    *redis.Client
	sessions SessionValidator
}

func NewAuth(redisClient *redis.Client, sessions SessionValidator) *Auth {
	return &Auth{redis: redisClient, sessions: sessions}
}

type contextKey string

const (
	accountIDKey contextKey = "accountID"
	sessionIDKey contextKey = "sessionID"
	roleKey      contextKey = "role"
	tokenKey     contextKey = "token"
)

// WithIdentity stamps the authenticated principal onto the context.
func WithIdentity(ctx context.Context, accountID, sessionID, role, token string) context.Context {
	ctx = context.WithValue(ctx, accountIDKey, accountID)
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	ctx = context.WithValue(ctx, roleKey, role)
	return context.WithValue(ctx, tokenKey, token)
}

func AccountID(ctx context.Context) string { return strValue(ctx, accountIDKey) }
func SessionID(ctx context.Context) string { return strValue(ctx, sessionIDKey) }
func Role(ctx context.Context) string      { return strValue(ctx, roleKey) }
func Bearer(ctx context.Context) string    { return strValue(ctx, tokenKey) }

func strValue(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// Authenticate validates the bearer credential and the session it
// references before letting the request through.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}
		token := parts[1]

		if a.redis != nil {
			exists, err := a.redis.Exists(r.Context(), "blacklist:"+token).Result()
			if err == nil && exists > 0 {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
		}

		sessionID, accountID, role, err := parseToken(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		session, err := a.sessions.Validate(sessionID)
		if err != nil {
			status := http.StatusUnauthorized
			msg := "Invalid session"
			if errors.Is(err, models.ErrSessionExpired) {
				msg = "Session expired"
			}
			http.Error(w, msg, status)
			return
		}
		if session.AccountID != accountID {
			http.Error(w, "Invalid session", http.StatusUnauthorized)
			return
		}

		ctx := WithIdentity(r.Context(), accountID, sessionID, role, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin gates administrator routes on the authenticated role.
func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if Role(r.Context()) != models.RoleAdmin {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders sets baseline response headers on every request.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func parseToken(tokenString string) (sessionID, accountID, role string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(viper.GetString("jwt.secret_key")), nil
	})
	if err != nil || !token.Valid {
		return "", "", "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", "", fmt.Errorf("invalid claims")
	}

	sessionID, _ = claims["session_id"].(string)
	accountID, _ = claims["account_id"].(string)
	role, _ = claims["role"].(string)
	if sessionID == "" || accountID == "" {
		return "", "", "", fmt.Errorf("missing claims")
	}
	return sessionID, accountID, role, nil
}
