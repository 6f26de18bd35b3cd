package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/oklog/ulid/v2"
)

const (
	guestTokenIssuer  = "storefront/cart"
	guestTokenSubject = "guest"
	// GuestTokenHeader carries the anonymous cart token.
	GuestTokenHeader = "X-Cart-Token"
)

var (
	ErrGuestTokenInvalid  = errors.New("auth: guest cart token invalid")
	ErrGuestTokenDisabled = errors.New("auth: guest cart tokens not configured")
)

// GuestTokens issues and verifies HS256 tokens naming an anonymous cart.
type GuestTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type guestClaims struct {
	GuestID string `json:"gid"`
	jwt.RegisteredClaims
}

// GuestToken is a freshly minted token and the cart identity it names.
type GuestToken struct {
	Token     string
	GuestID   string
	ExpiresAt time.Time
}

// NewGuestTokens returns nil when secret is empty; callers treat a nil issuer as disabled.
func NewGuestTokens(secret string, ttl time.Duration, now func() time.Time) *GuestTokens {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	return &GuestTokens{secret: []byte(secret), ttl: ttl, now: now}
}

// Issue mints a token for a new guest cart.
func (g *GuestTokens) Issue() (GuestToken, error) {
	if g == nil {
		return GuestToken{}, ErrGuestTokenDisabled
	}
	now := g.now().UTC()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return GuestToken{}, fmt.Errorf("auth: generate guest id: %w", err)
	}
	expires := now.Add(g.ttl)
	claims := guestClaims{
		GuestID: id.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    guestTokenIssuer,
			Subject:   guestTokenSubject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return GuestToken{}, fmt.Errorf("auth: sign guest token: %w", err)
	}
	return GuestToken{Token: signed, GuestID: claims.GuestID, ExpiresAt: expires}, nil
}

// Parse verifies the token and returns the guest id it names.
func (g *GuestTokens) Parse(token string) (string, error) {
	if g == nil {
		return "", ErrGuestTokenDisabled
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := &guestClaims{}
	_, err := parser.ParseWithClaims(strings.TrimSpace(token), claims, func(*jwt.Token) (any, error) {
		return g.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGuestTokenInvalid, err)
	}
	// Expiry is checked against the injected clock rather than jwt.TimeFunc.
	if claims.ExpiresAt == nil || !g.now().Before(claims.ExpiresAt.Time) {
		return "", fmt.Errorf("%w: expired", ErrGuestTokenInvalid)
	}
	if claims.Issuer != guestTokenIssuer || claims.GuestID == "" {
		return "", ErrGuestTokenInvalid
	}
	return claims.GuestID, nil
}
