package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"

	"github.com/deshtopup/storefront/internal/domain"
	"github.com/deshtopup/storefront/internal/platform/observability"
	"github.com/deshtopup/storefront/internal/platform/textutil"
	"github.com/deshtopup/storefront/internal/repositories"
)

const maxLineQuantity = 99

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart backend failed.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the referenced cart line does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// ValidationError lists the offending fields of a rejected command. It matches
// ErrCartInvalidInput with errors.Is.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, rule := range e.Fields {
		parts = append(parts, field+" "+rule)
	}
	return "cart service: invalid input: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrCartInvalidInput }

// CartServiceDeps wires the repository and optional collaborators for cart operations.
type CartServiceDeps struct {
	Repository  repositories.CartRepository
	Events      CartEventPublisher
	Metrics     *observability.Metrics
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	IDGenerator func() string
}

type cartService struct {
	repo     repositories.CartRepository
	events   CartEventPublisher
	metrics  *observability.Metrics
	validate *validator.Validate
	newID    func() string
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var _ CartService = (*cartService)(nil)

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &cartService{
		repo:     deps.Repository,
		events:   deps.Events,
		metrics:  deps.Metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		newID:    idGen,
		now:      func() time.Time { return deps.Clock().UTC() },
		logger:   logger,
	}, nil
}

func (s *cartService) Get(ctx context.Context, ownerKey string) (CartView, error) {
	ownerKey = strings.TrimSpace(ownerKey)
	if ownerKey == "" {
		return CartView{}, ErrCartInvalidInput
	}
	cart, err := s.repo.Load(ctx, ownerKey)
	if err != nil {
		return CartView{}, s.translateRepoError(ctx, "get", err)
	}
	return newCartView(cart), nil
}

// AddItem merges into the line with the same product name and label, incrementing its
// quantity, or appends a new line.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error) {
	cmd = normaliseAddCommand(cmd)
	if err := s.validateStruct(cmd); err != nil {
		return CartView{}, err
	}
	if cmd.Price.IsNegative() {
		return CartView{}, &ValidationError{Fields: map[string]string{"price": "gte"}}
	}

	incoming := domain.CartItem{
		ProductName:  cmd.ProductName,
		ProductImage: cmd.ProductImage,
		Label:        cmd.Label,
		Price:        cmd.Price.Round(2),
		Quantity:     cmd.Quantity,
		ProductType:  cmd.ProductType,
		GameInfo:     cmd.GameInfo,
	}

	var line domain.CartItem
	cart, err := s.repo.Update(ctx, cmd.OwnerKey, func(cart *domain.Cart) error {
		line = s.mergeLine(cart, incoming)
		return nil
	})
	s.metrics.RecordCartMutation(ctx, "add_item", err)
	if err != nil {
		return CartView{}, s.translateRepoError(ctx, "add_item", err)
	}

	view := newCartView(cart)
	s.publish(ctx, CartEventItemAdded, view, line)
	return view, nil
}

// UpdateQuantity sets the line quantity; zero or a negative quantity removes the line.
func (s *cartService) UpdateQuantity(ctx context.Context, cmd UpdateCartItemCommand) (CartView, error) {
	cmd.OwnerKey = strings.TrimSpace(cmd.OwnerKey)
	cmd.ItemID = strings.TrimSpace(cmd.ItemID)
	if err := s.validateStruct(cmd); err != nil {
		return CartView{}, err
	}

	var line domain.CartItem
	cart, err := s.repo.Update(ctx, cmd.OwnerKey, func(cart *domain.Cart) error {
		idx := indexOfItem(cart.Items, cmd.ItemID)
		if idx < 0 {
			return fmt.Errorf("%w: item %s", ErrCartNotFound, cmd.ItemID)
		}
		if cmd.Quantity <= 0 {
			line = cart.Items[idx]
			line.Quantity = 0
			cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
			return nil
		}
		cart.Items[idx].Quantity = cmd.Quantity
		line = cart.Items[idx]
		return nil
	})
	s.metrics.RecordCartMutation(ctx, "update_quantity", err)
	if err != nil {
		return CartView{}, s.translateRepoError(ctx, "update_quantity", err)
	}

	view := newCartView(cart)
	eventType := CartEventItemUpdated
	if cmd.Quantity <= 0 {
		eventType = CartEventItemRemoved
	}
	s.publish(ctx, eventType, view, line)
	return view, nil
}

func (s *cartService) RemoveItem(ctx context.Context, ownerKey, itemID string) (CartView, error) {
	ownerKey = strings.TrimSpace(ownerKey)
	itemID = strings.TrimSpace(itemID)
	if ownerKey == "" || itemID == "" {
		return CartView{}, ErrCartInvalidInput
	}

	var line domain.CartItem
	cart, err := s.repo.Update(ctx, ownerKey, func(cart *domain.Cart) error {
		idx := indexOfItem(cart.Items, itemID)
		if idx < 0 {
			return fmt.Errorf("%w: item %s", ErrCartNotFound, itemID)
		}
		line = cart.Items[idx]
		line.Quantity = 0
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
		return nil
	})
	s.metrics.RecordCartMutation(ctx, "remove_item", err)
	if err != nil {
		return CartView{}, s.translateRepoError(ctx, "remove_item", err)
	}

	view := newCartView(cart)
	s.publish(ctx, CartEventItemRemoved, view, line)
	return view, nil
}

func (s *cartService) Clear(ctx context.Context, ownerKey string) error {
	ownerKey = strings.TrimSpace(ownerKey)
	if ownerKey == "" {
		return ErrCartInvalidInput
	}
	err := s.repo.Delete(ctx, ownerKey)
	s.metrics.RecordCartMutation(ctx, "clear", err)
	if err != nil {
		return s.translateRepoError(ctx, "clear", err)
	}
	s.publish(ctx, CartEventCleared, CartView{Cart: domain.Cart{OwnerKey: ownerKey}}, domain.CartItem{})
	return nil
}

func (s *cartService) MergeGuest(ctx context.Context, guestKey, userKey string) (CartView, error) {
	guestKey = strings.TrimSpace(guestKey)
	userKey = strings.TrimSpace(userKey)
	if guestKey == "" || userKey == "" || guestKey == userKey {
		return CartView{}, ErrCartInvalidInput
	}

	guest, err := s.repo.Load(ctx, guestKey)
	if err != nil {
		return CartView{}, s.translateRepoError(ctx, "merge", err)
	}
	if len(guest.Items) == 0 {
		return s.Get(ctx, userKey)
	}

	cart, err := s.repo.Update(ctx, userKey, func(cart *domain.Cart) error {
		for _, item := range guest.Items {
			s.mergeLine(cart, item)
		}
		return nil
	})
	s.metrics.RecordCartMutation(ctx, "merge", err)
	if err != nil {
		return CartView{}, s.translateRepoError(ctx, "merge", err)
	}

	// Only the lines that were merged leave the guest cart. Anything added or changed under
	// the guest key since the load above stays there for the next merge.
	remaining, err := s.repo.Update(ctx, guestKey, func(g *domain.Cart) error {
		g.Items = withoutMergedLines(g.Items, guest.Items)
		return nil
	})
	switch {
	case err != nil:
		s.logger(ctx, "cart.merge.cleanup_failed", map[string]any{
			"guest": observability.SanitizeOwnerKey(guestKey),
			"error": err,
		})
	case len(remaining.Items) == 0:
		if err := s.repo.Delete(ctx, guestKey); err != nil {
			s.logger(ctx, "cart.merge.cleanup_failed", map[string]any{
				"guest": observability.SanitizeOwnerKey(guestKey),
				"error": err,
			})
		}
	default:
		s.logger(ctx, "cart.merge.guest_changed", map[string]any{
			"guest":     observability.SanitizeOwnerKey(guestKey),
			"remaining": len(remaining.Items),
		})
	}

	view := newCartView(cart)
	s.publish(ctx, CartEventMerged, view, domain.CartItem{Quantity: guest.ItemCount()})
	return view, nil
}

// withoutMergedLines drops current lines identical in ID and quantity to a merged snapshot line.
func withoutMergedLines(current, merged []domain.CartItem) []domain.CartItem {
	snapshot := make(map[string]int, len(merged))
	for _, item := range merged {
		snapshot[item.ID] = item.Quantity
	}
	kept := make([]domain.CartItem, 0, len(current))
	for _, item := range current {
		if qty, ok := snapshot[item.ID]; ok && qty == item.Quantity {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

// mergeLine applies the add rule and returns the resulting line.
func (s *cartService) mergeLine(cart *domain.Cart, incoming domain.CartItem) domain.CartItem {
	key := incoming.MergeKey()
	for i := range cart.Items {
		if cart.Items[i].MergeKey() != key {
			continue
		}
		existing := &cart.Items[i]
		existing.Quantity += incoming.Quantity
		if existing.Quantity > maxLineQuantity {
			existing.Quantity = maxLineQuantity
		}
		existing.Price = incoming.Price
		if incoming.ProductImage != "" {
			existing.ProductImage = incoming.ProductImage
		}
		if incoming.ProductType != "" {
			existing.ProductType = incoming.ProductType
		}
		if len(incoming.GameInfo) > 0 {
			existing.GameInfo = incoming.GameInfo
		}
		return *existing
	}

	if incoming.ID == "" {
		incoming.ID = s.newID()
	}
	if incoming.Quantity > maxLineQuantity {
		incoming.Quantity = maxLineQuantity
	}
	cart.Items = append(cart.Items, incoming)
	return incoming
}

func (s *cartService) publish(ctx context.Context, eventType string, view CartView, line domain.CartItem) {
	if s.events == nil {
		return
	}
	event := CartEvent{
		Type:        eventType,
		OwnerKey:    view.Cart.OwnerKey,
		ItemID:      line.ID,
		ProductName: line.ProductName,
		Label:       line.Label,
		Quantity:    line.Quantity,
		ItemCount:   view.ItemCount,
		Subtotal:    view.Subtotal.InexactFloat64(),
		OccurredAt:  s.now(),
	}
	if err := s.events.PublishCartEvent(ctx, event); err != nil {
		s.logger(ctx, "cart.event.publish_failed", map[string]any{"type": eventType, "error": err})
	}
}

func (s *cartService) validateStruct(cmd any) error {
	err := s.validate.Struct(cmd)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[lowerFirst(fe.Field())] = fe.Tag()
	}
	return &ValidationError{Fields: fields}
}

func (s *cartService) translateRepoError(ctx context.Context, operation string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrCartNotFound), errors.Is(err, ErrCartInvalidInput), errors.Is(err, ErrCartConflict):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	s.logger(ctx, "cart."+operation+".failed", map[string]any{"error": err})
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return ErrCartConflict
		case repoErr.IsNotFound():
			return ErrCartNotFound
		}
	}
	return ErrCartUnavailable
}

func newCartView(cart domain.Cart) CartView {
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return CartView{Cart: cart, Subtotal: cart.Subtotal(), ItemCount: cart.ItemCount()}
}

func normaliseAddCommand(cmd AddCartItemCommand) AddCartItemCommand {
	cmd.OwnerKey = strings.TrimSpace(cmd.OwnerKey)
	cmd.ProductName = strings.TrimSpace(cmd.ProductName)
	cmd.ProductImage = strings.TrimSpace(cmd.ProductImage)
	cmd.Label = strings.TrimSpace(cmd.Label)
	cmd.ProductType = strings.TrimSpace(cmd.ProductType)
	cmd.GameInfo = textutil.NormalizeStringMap(cmd.GameInfo)
	return cmd
}

func indexOfItem(items []domain.CartItem, id string) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
