package security

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

// AccessTokenVerifier turns a bearer token into the caller's claims.
type AccessTokenVerifier interface {
	VerifyAccessToken(token string) (TokenClaims, error)
}

// TokenClaims is what the auth service signs into access tokens. Either
// UserID or Email is always present.
type TokenClaims struct {
	UserID  string
	Email   string
	Name    string
	Role    string
	Exp     time.Time
	Issuer  string
	Subject string
}

// Identity is the account key memberships hang off: the email when the
// token carries one, else the opaque uid.
func (c TokenClaims) Identity() string {
	if e := strings.TrimSpace(c.Email); e != "" {
		return e
	}
	return strings.TrimSpace(c.UserID)
}
