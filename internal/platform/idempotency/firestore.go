package idempotency

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/deshtopup/storefront/internal/platform/firestore"
)

const defaultCollection = "cart_idempotency"

// FirestoreOption customises the FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection holding cart idempotency entries.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// FirestoreStore keeps entries next to the carts they protect. Every state change runs in a
// transaction so two instances racing on one key agree on who holds it.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{provider: provider, collection: defaultCollection}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

func (s *FirestoreStore) ref(ctx context.Context, key Key) (*firestore.DocumentRef, error) {
	if !key.valid() {
		return nil, ErrInvalidKey
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection).Doc(key.docID()), nil
}

// load reads the entry inside tx. A missing document yields ok == false.
func load(tx *firestore.Transaction, ref *firestore.DocumentRef) (entryDocument, bool, error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return entryDocument{}, false, nil
	}
	if err != nil {
		return entryDocument{}, false, err
	}
	var doc entryDocument
	if err := snap.DataTo(&doc); err != nil {
		return entryDocument{}, false, err
	}
	return doc, true, nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key Key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error) {
	ref, err := s.ref(ctx, key)
	if err != nil {
		return OutcomeFresh, Entry{}, err
	}
	now = now.UTC()

	var (
		outcome Outcome
		entry   Entry
	)
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, ok, err := load(tx, ref)
		if err != nil {
			return err
		}
		if ok {
			existing := doc.toEntry()
			if !existing.expired(now) {
				if existing.Fingerprint != fingerprint {
					return ErrFingerprintMismatch
				}
				outcome, entry = OutcomeInFlight, existing
				if existing.Done {
					outcome = OutcomeReplay
				}
				return nil
			}
		}
		outcome, entry = OutcomeFresh, newPendingEntry(key, fingerprint, now, ttl)
		return tx.Set(ref, newEntryDocument(entry))
	})
	if err != nil {
		return OutcomeFresh, Entry{}, storeError("idempotency.reserve", err)
	}
	return outcome, entry, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key Key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ref, err := s.ref(ctx, key)
	if err != nil {
		return err
	}
	now = now.UTC()

	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, ok, err := load(tx, ref)
		if err != nil {
			return err
		}
		entry := newPendingEntry(key, fingerprint, now, ttl)
		if ok {
			if doc.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			entry = doc.toEntry()
		}
		entry.Done = true
		entry.Response = resp.clone()
		entry.ExpiresAt = now.Add(ttlOrDefault(ttl))
		return tx.Set(ref, newEntryDocument(entry))
	})
	return storeError("idempotency.complete", err)
}

func (s *FirestoreStore) Release(ctx context.Context, key Key, fingerprint string) error {
	ref, err := s.ref(ctx, key)
	if err != nil {
		return err
	}
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, ok, err := load(tx, ref)
		if err != nil || !ok || doc.Done {
			return err
		}
		if doc.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		return tx.Delete(ref)
	})
	return storeError("idempotency.release", err)
}

// CleanupExpired deletes up to limit expired entries. A zero limit uses a batch of 100.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	docs, err := client.Collection(s.collection).Where("expires_at", "<=", now.UTC()).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.cleanup", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	bw := client.BulkWriter(ctx)
	defer bw.End()
	for _, doc := range docs {
		if _, err := bw.Delete(doc.Ref); err != nil {
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
	}
	return len(docs), nil
}

// storeError keeps ErrFingerprintMismatch comparable after the transaction wrapper.
func storeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrFingerprintMismatch):
		return ErrFingerprintMismatch
	default:
		return pfirestore.WrapError(op, err)
	}
}

type entryDocument struct {
	Owner          string              `firestore:"owner"`
	ClientKey      string              `firestore:"client_key"`
	Fingerprint    string              `firestore:"fingerprint"`
	Done           bool                `firestore:"done"`
	ResponseStatus int                 `firestore:"response_status,omitempty"`
	ResponseHeader map[string][]string `firestore:"response_header,omitempty"`
	ResponseBody   []byte              `firestore:"response_body,omitempty"`
	CreatedAt      time.Time           `firestore:"created_at"`
	ExpiresAt      time.Time           `firestore:"expires_at"`
}

func newEntryDocument(e Entry) entryDocument {
	return entryDocument{
		Owner:          e.Owner,
		ClientKey:      e.ClientKey,
		Fingerprint:    e.Fingerprint,
		Done:           e.Done,
		ResponseStatus: e.Response.Status,
		ResponseHeader: e.Response.Header,
		ResponseBody:   e.Response.Body,
		CreatedAt:      e.CreatedAt,
		ExpiresAt:      e.ExpiresAt,
	}
}

func (d entryDocument) toEntry() Entry {
	return Entry{
		Owner:       d.Owner,
		ClientKey:   d.ClientKey,
		Fingerprint: d.Fingerprint,
		Done:        d.Done,
		Response: Response{
			Status: d.ResponseStatus,
			Header: http.Header(d.ResponseHeader),
			Body:   d.ResponseBody,
		},
		CreatedAt: d.CreatedAt,
		ExpiresAt: d.ExpiresAt,
	}
}
