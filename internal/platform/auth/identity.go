package auth

import (
	"context"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Identity is the signed-in shopper extracted from a Firebase ID token.
type Identity struct {
	UID            string
	Email          string
	EmailVerified  bool
	Name           string
	Picture        string
	SignInProvider string
	ExpiresAt      int64

	token *firebaseauth.Token
}

// Token exposes the decoded Firebase ID token.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

func identityFromToken(token *firebaseauth.Token) *Identity {
	identity := &Identity{
		UID:           token.UID,
		Email:         claimString(token.Claims, "email"),
		EmailVerified: claimBool(token.Claims, "email_verified"),
		Name:          claimString(token.Claims, "name"),
		Picture:       claimString(token.Claims, "picture"),
		ExpiresAt:     token.Expires,
		token:         token,
	}
	identity.SignInProvider = token.Firebase.SignInProvider
	return identity
}

type identityKey struct{}

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

func claimString(claims map[string]any, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

func claimBool(claims map[string]any, key string) bool {
	v, _ := claims[key].(bool)
	return v
}
