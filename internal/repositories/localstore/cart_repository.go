// Package localstore keeps carts as JSON files on local disk. It backs development servers
// and single-instance deployments where Firestore is not configured.
package localstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/deshtopup/storefront/internal/domain"
	"github.com/deshtopup/storefront/internal/repositories"
)

const fileExt = ".json"

// CartRepository stores one file per owner. File content is exactly the serialized item
// array, so a file can be inspected or seeded by hand.
type CartRepository struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

type Option func(*CartRepository)

func WithClock(now func() time.Time) Option {
	return func(r *CartRepository) {
		if now != nil {
			r.now = now
		}
	}
}

func NewCartRepository(dir string, opts ...Option) (*CartRepository, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("localstore: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("localstore: create directory: %w", err)
	}
	repo := &CartRepository{dir: dir, now: time.Now, locks: make(map[string]*keyLock)}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *CartRepository) Load(ctx context.Context, ownerKey string) (domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}
	path, err := r.path(ownerKey)
	if err != nil {
		return domain.Cart{}, err
	}
	unlock := r.lock(path)
	defer unlock()
	return r.read(ownerKey, path)
}

func (r *CartRepository) Update(ctx context.Context, ownerKey string, mutate repositories.CartMutation) (domain.Cart, error) {
	path, err := r.path(ownerKey)
	if err != nil {
		return domain.Cart{}, err
	}
	unlock := r.lock(path)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}
	cart, err := r.read(ownerKey, path)
	if err != nil {
		return domain.Cart{}, err
	}
	if err := mutate(&cart); err != nil {
		return domain.Cart{}, err
	}
	data, err := repositories.EncodeCartItems(cart.Items)
	if err != nil {
		return domain.Cart{}, err
	}
	if err := writeFileAtomic(path, data); err != nil {
		return domain.Cart{}, &storeError{op: "write", err: err}
	}
	cart.UpdatedAt = r.now().UTC()
	return cart, nil
}

func (r *CartRepository) Delete(ctx context.Context, ownerKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := r.path(ownerKey)
	if err != nil {
		return err
	}
	unlock := r.lock(path)
	defer unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &storeError{op: "delete", err: err}
	}
	return nil
}

func (r *CartRepository) read(ownerKey, path string) (domain.Cart, error) {
	cart := domain.Cart{OwnerKey: ownerKey, Items: []domain.CartItem{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cart, nil
	}
	if err != nil {
		return domain.Cart{}, &storeError{op: "read", err: err}
	}
	items, err := repositories.DecodeCartItems(data)
	if err != nil {
		return domain.Cart{}, &storeError{op: "decode", err: err}
	}
	cart.Items = items
	if info, err := os.Stat(path); err == nil {
		cart.UpdatedAt = info.ModTime().UTC()
	}
	return cart, nil
}

// path hashes the owner key so arbitrary uids and guest ids map to safe file names.
func (r *CartRepository) path(ownerKey string) (string, error) {
	ownerKey = strings.TrimSpace(ownerKey)
	if ownerKey == "" {
		return "", &storeError{op: "path", err: errors.New("owner key is required")}
	}
	sum := sha256.Sum256([]byte(ownerKey))
	return filepath.Join(r.dir, hex.EncodeToString(sum[:16])+fileExt), nil
}

func (r *CartRepository) lock(key string) func() {
	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &keyLock{}
		r.locks[key] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cart-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// storeError implements repositories.RepositoryError. Local disk failures are reported as
// unavailable so the HTTP layer answers 503.
type storeError struct {
	op  string
	err error
}

func (e *storeError) Error() string       { return fmt.Sprintf("localstore %s: %v", e.op, e.err) }
func (e *storeError) Unwrap() error       { return e.err }
func (e *storeError) IsNotFound() bool    { return false }
func (e *storeError) IsConflict() bool    { return false }
func (e *storeError) IsUnavailable() bool { return e.op != "decode" && e.op != "path" }

var _ repositories.CartRepository = (*CartRepository)(nil)
