// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrTokenExpired is returned for a well-formed, correctly signed token whose exp has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed covers bad signatures, bad structure and tokens of the wrong type.
	ErrTokenMalformed = errors.New("token malformed")
)

// TokenType distinguishes short-lived access tokens from refresh tokens.
type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

// Claims is the payload carried by every token. Subject holds the user id.
type Claims struct {
	Type TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// Pair is the result of a login or a refresh.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Issuer mints and verifies signed session tokens. It holds no per-token state, so the
// old refresh token remains usable after a rotation until it expires.
type Issuer struct {
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}

	accessTTL  time.Duration
	refreshTTL time.Duration

	now func() time.Time
}

// NewHMACIssuer signs with HS256 using a shared secret, so tokens survive restarts
// and are valid across instances.
func NewHMACIssuer(secret []byte, accessTTL, refreshTTL time.Duration) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty jwt secret")
	}
	return &Issuer{
		method:     jwt.SigningMethodHS256,
		signKey:    secret,
		verifyKey:  secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// NewEphemeralIssuer generates a fresh ed25519 key pair at runtime. Tokens it issues
// stop verifying once the process exits.
func NewEphemeralIssuer(accessTTL, refreshTTL time.Duration) (*Issuer, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Issuer{
		method:     jwt.SigningMethodEdDSA,
		signKey:    priv,
		verifyKey:  pub,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// WithClock replaces the time source, for tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

func (i *Issuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

// Issue creates a signed token of the given type for userID that expires after ttl.
func (i *Issuer) Issue(userID uuid.UUID, typ TokenType, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(i.method, claims)
	signed, err := token.SignedString(i.signKey)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

// IssuePair mints an access token and a refresh token for userID.
func (i *Issuer) IssuePair(userID uuid.UUID) (Pair, error) {
	access, err := i.Issue(userID, AccessToken, i.accessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := i.Issue(userID, RefreshToken, i.refreshTTL)
	if err != nil {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// Verify checks the signature, expiry and type of tokenString and returns the user id it
// carries. It never touches the store; whether the user exists is the caller's concern.
func (i *Issuer) Verify(tokenString string, want TokenType) (uuid.UUID, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return i.verifyKey, nil
	},
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, ErrTokenExpired
		}
		return uuid.Nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	if claims.Type != want {
		return uuid.Nil, fmt.Errorf("%w: expected %s token, got %q", ErrTokenMalformed, want, claims.Type)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid sub: %v", ErrTokenMalformed, err)
	}
	return userID, nil
}

// Refresh validates refreshToken and rotates it into a new access/refresh pair.
func (i *Issuer) Refresh(refreshToken string) (uuid.UUID, Pair, error) {
	userID, err := i.Verify(refreshToken, RefreshToken)
	if err != nil {
		return uuid.Nil, Pair{}, err
	}
	pair, err := i.IssuePair(userID)
	if err != nil {
		return uuid.Nil, Pair{}, err
	}
	return userID, pair, nil
}
