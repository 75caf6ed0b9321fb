package voiceloop

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// SessionManager caches the bearer credential attached to authenticated
// calls. The token's expiry is read from its JWT claims locally so the
// client knows when a re-login is due without a round-trip.
type SessionManager struct {
	mu        sync.Mutex
	token     string
	user      *User
	expiresAt time.Time
}

func NewSessionManager() *SessionManager {
	return &SessionManager{}
}

// SetSession stores the credential from a successful login or a token
// supplied through the environment.
func (sm *SessionManager) SetSession(token string, user *User) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.token = token
	sm.user = user
	sm.expiresAt = tokenExpiry(token)
}

func (sm *SessionManager) Clear() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.token = ""
	sm.user = nil
	sm.expiresAt = time.Time{}
}

// Token returns the current bearer credential, or an AUTH_FAILED error when
// there is none or it has expired.
func (sm *SessionManager) Token() (string, *VoiceError) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.token == "" {
		return "", NewAuthError("no session token; log in first")
	}
	if !sm.expiresAt.IsZero() && time.Now().After(sm.expiresAt) {
		return "", NewAuthError("session token expired; log in again")
	}
	return sm.token, nil
}

func (sm *SessionManager) User() *User {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.user
}

func (sm *SessionManager) HasSession() bool {
	_, err := sm.Token()
	return err == nil
}

// ExpiresAt reports the locally determined token expiry. Zero when the
// token carries no exp claim.
func (sm *SessionManager) ExpiresAt() time.Time {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.expiresAt
}

// tokenExpiry decodes the exp claim without verifying the signature; the
// server remains the authority, this only schedules re-login.
func tokenExpiry(token string) time.Time {
	parser := jwt.NewParser()
	var claims jwt.RegisteredClaims
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
