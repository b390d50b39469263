package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wagate/gateway-server-go/internal/config"
)

// SessionClaims is the payload of a capability token. It carries enough to
// recover the owning user and account without a database round trip; callers
// must still re-verify both against the persisted session record.
type SessionClaims struct {
	UserID    string `json:"userId"`
	AccountID string `json:"accountId"`
	jwt.RegisteredClaims
}

// AccessClaims is the payload of a user login token for the API layer.
type AccessClaims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Manager struct {
	sessionSecret []byte
	accessSecret  []byte
}

func NewManager(sessionSecret, accessSecret string) *Manager {
	return &Manager{
		sessionSecret: []byte(sessionSecret),
		accessSecret:  []byte(accessSecret),
	}
}

// NewSessionToken mints the capability token for one session record. It is
// generated exactly once, at record creation, and never rotated.
func (m *Manager) NewSessionToken(userID, accountID string) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		UserID:    userID,
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(config.SessionTokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.sessionSecret)
}

func (m *Manager) VerifySessionToken(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return m.sessionSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("verify session token: %w", err)
	}
	if claims.UserID == "" || claims.AccountID == "" {
		return nil, fmt.Errorf("verify session token: missing claims")
	}
	return claims, nil
}

func (m *Manager) NewAccessToken(userID, username string) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(config.AccessTokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
}

func (m *Manager) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return m.accessSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("verify access token: %w", err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("verify access token: missing claims")
	}
	return claims, nil
}
