// Package idempotency replays cart mutations that a client retries with the same
// Idempotency-Key. Keys belong to a cart owner, so two shoppers sending the same key never
// see each other's carts.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a finished cart mutation can be replayed.
const DefaultTTL = 24 * time.Hour

var (
	// ErrFingerprintMismatch is returned when a key is reused for a different request.
	ErrFingerprintMismatch = errors.New("idempotency: key already used for a different request")
	// ErrInvalidKey is returned for a key without an owner or client part.
	ErrInvalidKey = errors.New("idempotency: owner and client key are required")
)

// Key identifies one retried mutation.
type Key struct {
	// Owner is the cart owner key ("user:<uid>" or "guest:<id>").
	Owner string
	// Client is the Idempotency-Key header value.
	Client string
}

func (k Key) valid() bool {
	return strings.TrimSpace(k.Owner) != "" && strings.TrimSpace(k.Client) != ""
}

// docID hashes owner and client key together so arbitrary header values are safe document ids.
func (k Key) docID() string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(k.Owner) + "\x00" + strings.TrimSpace(k.Client)))
	return hex.EncodeToString(sum[:])
}

// Outcome tells the middleware what to do with a request after Reserve.
type Outcome int

const (
	// OutcomeFresh means the caller holds the reservation and must run the handler.
	OutcomeFresh Outcome = iota
	// OutcomeReplay means a finished response exists and must be written back.
	OutcomeReplay
	// OutcomeInFlight means an identical request is still running.
	OutcomeInFlight
)

// Entry is the stored state for one key.
type Entry struct {
	Owner       string
	ClientKey   string
	Fingerprint string
	Done        bool
	Response    Response
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Response is the cart response kept for replay.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Store persists reservations and finished responses.
type Store interface {
	// Reserve claims key for fingerprint unless a live entry already exists.
	Reserve(ctx context.Context, key Key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error)
	// Complete stores the finished response for a reservation held by fingerprint.
	Complete(ctx context.Context, key Key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	// Release drops an unfinished reservation held by fingerprint so the client can retry.
	// Finished entries and reservations held by another fingerprint are left alone.
	Release(ctx context.Context, key Key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// replayedHeaders are the cart response headers written back on replay. Hop-by-hop and
// per-connection headers never make it into the store.
var replayedHeaders = []string{
	"Content-Type",
	"Cache-Control",
	"Pragma",
	"Etag",
	"Last-Modified",
}

func replayableHeader(src http.Header) http.Header {
	out := http.Header{}
	for _, name := range replayedHeaders {
		if values := src.Values(name); len(values) > 0 {
			out[name] = append([]string(nil), values...)
		}
	}
	return out
}

func (r Response) clone() Response {
	out := Response{Status: r.Status, Header: replayableHeader(r.Header)}
	if len(r.Body) > 0 {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}
