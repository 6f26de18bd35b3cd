package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/deshtopup/storefront/internal/platform/auth"
)

const defaultMaxBodySize = 16 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

// MeHandlers exposes the session presence check used by the storefront header.
type MeHandlers struct {
	authn *auth.Authenticator
}

// NewMeHandlers constructs handlers that resolve the Firebase identity when one is presented.
func NewMeHandlers(authn *auth.Authenticator) *MeHandlers {
	return &MeHandlers{authn: authn}
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Get("/session", h.getSession)
}

// getSession never fails for anonymous callers; an invalid token reads as signed out.
func (h *MeHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		writeJSONResponse(w, http.StatusOK, sessionResponse{Authenticated: false})
		return
	}
	writeJSONResponse(w, http.StatusOK, sessionResponse{
		Authenticated: true,
		User: &sessionUserPayload{
			UID:            identity.UID,
			Email:          identity.Email,
			EmailVerified:  identity.EmailVerified,
			DisplayName:    identity.Name,
			SignInProvider: identity.SignInProvider,
		},
	})
}

type sessionResponse struct {
	Authenticated bool                `json:"authenticated"`
	User          *sessionUserPayload `json:"user,omitempty"`
}

type sessionUserPayload struct {
	UID            string `json:"uid"`
	Email          string `json:"email,omitempty"`
	EmailVerified  bool   `json:"email_verified"`
	DisplayName    string `json:"display_name,omitempty"`
	SignInProvider string `json:"sign_in_provider,omitempty"`
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
