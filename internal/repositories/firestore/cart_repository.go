package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/deshtopup/storefront/internal/domain"
	pfirestore "github.com/deshtopup/storefront/internal/platform/firestore"
	"github.com/deshtopup/storefront/internal/repositories"
)

const defaultCartCollection = "carts"

// CartRepository stores each owner's cart as one document keyed by the owner key. The items
// field holds the same JSON array the browser keeps in local storage.
type CartRepository struct {
	carts    *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
	now      func() time.Time
}

type CartRepositoryOption func(*CartRepository)

func WithCartClock(now func() time.Time) CartRepositoryOption {
	return func(r *CartRepository) {
		if now != nil {
			r.now = now
		}
	}
}

func NewCartRepository(provider *pfirestore.Provider, collection string, opts ...CartRepositoryOption) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	if strings.TrimSpace(collection) == "" {
		collection = defaultCartCollection
	}
	repo := &CartRepository{
		carts:    pfirestore.NewBaseRepository[cartDocument](provider, collection, nil, nil),
		provider: provider,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *CartRepository) Load(ctx context.Context, ownerKey string) (domain.Cart, error) {
	doc, err := r.carts.Get(ctx, ownerKey)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return emptyCart(ownerKey), nil
		}
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(ownerKey, doc.UpdateTime)
}

// Update reads, mutates and writes the cart inside a transaction so concurrent requests for
// the same owner never lose a line.
func (r *CartRepository) Update(ctx context.Context, ownerKey string, mutate repositories.CartMutation) (domain.Cart, error) {
	ref, err := r.carts.DocumentRef(ctx, ownerKey)
	if err != nil {
		return domain.Cart{}, err
	}

	var (
		saved     domain.Cart
		mutateErr error
	)
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		cart := emptyCart(ownerKey)
		snap, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			doc, err := r.carts.Decode(ctx, snap)
			if err != nil {
				return err
			}
			if cart, err = doc.Data.toDomain(ownerKey, doc.UpdateTime); err != nil {
				return err
			}
		case codes.NotFound:
		default:
			return err
		}

		if err := mutate(&cart); err != nil {
			mutateErr = err
			return err
		}
		cart.UpdatedAt = r.now().UTC()

		doc, err := newCartDocument(cart)
		if err != nil {
			return err
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = cart
		return nil
	})
	if mutateErr != nil {
		return domain.Cart{}, mutateErr
	}
	if err != nil {
		return domain.Cart{}, err
	}
	return saved, nil
}

func (r *CartRepository) Delete(ctx context.Context, ownerKey string) error {
	return r.carts.Delete(ctx, ownerKey)
}

func emptyCart(ownerKey string) domain.Cart {
	return domain.Cart{OwnerKey: ownerKey, Items: []domain.CartItem{}}
}

type cartDocument struct {
	Items     string    `firestore:"items"`
	ItemCount int       `firestore:"itemCount"`
	Subtotal  float64   `firestore:"subtotal"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func newCartDocument(cart domain.Cart) (cartDocument, error) {
	items, err := repositories.EncodeCartItems(cart.Items)
	if err != nil {
		return cartDocument{}, err
	}
	return cartDocument{
		Items:     string(items),
		ItemCount: cart.ItemCount(),
		Subtotal:  cart.Subtotal().InexactFloat64(),
		UpdatedAt: cart.UpdatedAt,
	}, nil
}

func (d cartDocument) toDomain(ownerKey string, updateTime time.Time) (domain.Cart, error) {
	items, err := repositories.DecodeCartItems([]byte(d.Items))
	if err != nil {
		return domain.Cart{}, err
	}
	updated := d.UpdatedAt
	if updated.IsZero() {
		updated = updateTime
	}
	return domain.Cart{OwnerKey: ownerKey, Items: items, UpdatedAt: updated}, nil
}

var _ repositories.CartRepository = (*CartRepository)(nil)
