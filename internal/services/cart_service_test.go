package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/deshtopup/storefront/internal/domain"
	"github.com/deshtopup/storefront/internal/repositories"
)

// memoryCartRepository mirrors the persistence contract: Update works on a copy and only
// stores it when the mutation succeeds.
type memoryCartRepository struct {
	mu        sync.Mutex
	carts     map[string][]domain.CartItem
	updateErr error
	deleteErr error
	deleted   []string
	// onUpdate runs with the lock held, before the cart is read.
	onUpdate func(ownerKey string, carts map[string][]domain.CartItem)
}

func newMemoryCartRepository() *memoryCartRepository {
	return &memoryCartRepository{carts: map[string][]domain.CartItem{}}
}

func (r *memoryCartRepository) Load(_ context.Context, ownerKey string) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.Cart{OwnerKey: ownerKey, Items: append([]domain.CartItem{}, r.carts[ownerKey]...)}, nil
}

func (r *memoryCartRepository) Update(_ context.Context, ownerKey string, mutate repositories.CartMutation) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return domain.Cart{}, r.updateErr
	}
	if r.onUpdate != nil {
		r.onUpdate(ownerKey, r.carts)
	}
	cart := domain.Cart{OwnerKey: ownerKey, Items: append([]domain.CartItem{}, r.carts[ownerKey]...)}
	if err := mutate(&cart); err != nil {
		return domain.Cart{}, err
	}
	r.carts[ownerKey] = cart.Items
	return cart, nil
}

func (r *memoryCartRepository) Delete(_ context.Context, ownerKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.carts, ownerKey)
	r.deleted = append(r.deleted, ownerKey)
	return nil
}

type stubCartEvents struct {
	events []CartEvent
	err    error
}

func (s *stubCartEvents) PublishCartEvent(_ context.Context, event CartEvent) error {
	s.events = append(s.events, event)
	return s.err
}

func newTestCartService(t *testing.T, repo repositories.CartRepository, events CartEventPublisher) CartService {
	t.Helper()
	seq := 0
	svc, err := NewCartService(CartServiceDeps{
		Repository: repo,
		Events:     events,
		Clock:      func() time.Time { return time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC) },
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("item-%d", seq)
		},
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func diamonds(owner string, qty int) AddCartItemCommand {
	return AddCartItemCommand{
		OwnerKey:    owner,
		ProductName: "Free Fire",
		Label:       "100 Diamonds",
		Price:       decimal.NewFromInt(85),
		Quantity:    qty,
		ProductType: "topup",
		GameInfo:    map[string]string{"playerId": "123456789"},
	}
}

func TestCartServiceAddItemMergesByNameAndLabel(t *testing.T) {
	repo := newMemoryCartRepository()
	svc := newTestCartService(t, repo, nil)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, diamonds("guest:g1", 1)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	again := diamonds("guest:g1", 2)
	again.ProductName = " free fire "
	again.Label = "100 DIAMONDS"
	view, err := svc.AddItem(ctx, again)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}

	if len(view.Cart.Items) != 1 {
		t.Fatalf("expected merged line, got %+v", view.Cart.Items)
	}
	if view.Cart.Items[0].Quantity != 3 || view.Cart.Items[0].ID != "item-1" {
		t.Fatalf("unexpected line %+v", view.Cart.Items[0])
	}
	if view.ItemCount != 3 || !view.Subtotal.Equal(decimal.NewFromInt(255)) {
		t.Fatalf("unexpected totals count=%d subtotal=%s", view.ItemCount, view.Subtotal)
	}

	other := diamonds("guest:g1", 1)
	other.Label = "310 Diamonds"
	other.Price = decimal.NewFromInt(250)
	view, err = svc.AddItem(ctx, other)
	if err != nil {
		t.Fatalf("third add: %v", err)
	}
	if len(view.Cart.Items) != 2 || view.Cart.Items[1].ID != "item-2" {
		t.Fatalf("expected second line for new label, got %+v", view.Cart.Items)
	}
}

func TestCartServiceAddItemRefreshesLineDetails(t *testing.T) {
	svc := newTestCartService(t, newMemoryCartRepository(), nil)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, diamonds("user:u1", 1)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	again := diamonds("user:u1", 1)
	again.Price = decimal.NewFromInt(80)
	again.GameInfo = map[string]string{"playerId": "987654321"}
	view, err := svc.AddItem(ctx, again)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	line := view.Cart.Items[0]
	if !line.Price.Equal(decimal.NewFromInt(80)) || line.GameInfo["playerId"] != "987654321" {
		t.Fatalf("expected latest price and game info, got %+v", line)
	}
	if line.ProductType != "topup" || line.Quantity != 2 {
		t.Fatalf("unexpected line %+v", line)
	}
}

func TestCartServiceAddItemCapsQuantity(t *testing.T) {
	svc := newTestCartService(t, newMemoryCartRepository(), nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.AddItem(ctx, diamonds("user:u1", 40)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	view, _ := svc.Get(ctx, "user:u1")
	if view.Cart.Items[0].Quantity != maxLineQuantity {
		t.Fatalf("expected quantity capped at %d, got %d", maxLineQuantity, view.Cart.Items[0].Quantity)
	}
}

func TestCartServiceAddItemValidation(t *testing.T) {
	svc := newTestCartService(t, newMemoryCartRepository(), nil)

	cases := []struct {
		name  string
		cmd   AddCartItemCommand
		field string
	}{
		{name: "missing owner", cmd: diamonds(" ", 1), field: "ownerKey"},
		{name: "missing product", cmd: func() AddCartItemCommand { c := diamonds("user:u1", 1); c.ProductName = " "; return c }(), field: "productName"},
		{name: "zero quantity", cmd: diamonds("user:u1", 0), field: "quantity"},
		{name: "negative price", cmd: func() AddCartItemCommand {
			c := diamonds("user:u1", 1)
			c.Price = decimal.NewFromInt(-1)
			return c
		}(), field: "price"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.AddItem(context.Background(), tc.cmd)
			if !errors.Is(err, ErrCartInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if _, ok := vErr.Fields[tc.field]; !ok {
				t.Fatalf("expected field %q in %v", tc.field, vErr.Fields)
			}
		})
	}
}

func TestCartServiceUpdateQuantityZeroRemovesLine(t *testing.T) {
	repo := newMemoryCartRepository()
	events := &stubCartEvents{}
	svc := newTestCartService(t, repo, events)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, diamonds("user:u1", 2)); err != nil {
		t.Fatalf("add: %v", err)
	}

	view, err := svc.UpdateQuantity(ctx, UpdateCartItemCommand{OwnerKey: "user:u1", ItemID: "item-1", Quantity: 5})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if view.Cart.Items[0].Quantity != 5 {
		t.Fatalf("expected quantity 5, got %d", view.Cart.Items[0].Quantity)
	}

	view, err = svc.UpdateQuantity(ctx, UpdateCartItemCommand{OwnerKey: "user:u1", ItemID: "item-1", Quantity: 0})
	if err != nil {
		t.Fatalf("update to zero: %v", err)
	}
	if len(view.Cart.Items) != 0 || view.ItemCount != 0 || !view.Subtotal.IsZero() {
		t.Fatalf("expected empty cart, got %+v", view)
	}

	want := []string{CartEventItemAdded, CartEventItemUpdated, CartEventItemRemoved}
	if len(events.events) != len(want) {
		t.Fatalf("expected %d events, got %+v", len(want), events.events)
	}
	for i, typ := range want {
		if events.events[i].Type != typ {
			t.Fatalf("event %d: expected %s, got %s", i, typ, events.events[i].Type)
		}
	}
	if events.events[1].Quantity != 5 || events.events[1].ItemCount != 5 || events.events[1].Subtotal != 425 {
		t.Fatalf("unexpected update event %+v", events.events[1])
	}
}

func TestCartServiceUpdateQuantityNegativeRemovesLine(t *testing.T) {
	repo := newMemoryCartRepository()
	events := &stubCartEvents{}
	svc := newTestCartService(t, repo, events)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, diamonds("user:u1", 3)); err != nil {
		t.Fatalf("add: %v", err)
	}

	view, err := svc.UpdateQuantity(ctx, UpdateCartItemCommand{OwnerKey: "user:u1", ItemID: "item-1", Quantity: -1})
	if err != nil {
		t.Fatalf("update to negative: %v", err)
	}
	if len(view.Cart.Items) != 0 || view.ItemCount != 0 {
		t.Fatalf("expected empty cart, got %+v", view)
	}
	if got := repo.carts["user:u1"]; len(got) != 0 {
		t.Fatalf("expected stored cart to be empty, got %+v", got)
	}
	if len(events.events) != 2 || events.events[1].Type != CartEventItemRemoved {
		t.Fatalf("expected item removed event, got %+v", events.events)
	}
	if events.events[1].Quantity != 0 {
		t.Fatalf("expected removed event quantity 0, got %d", events.events[1].Quantity)
	}
}

func TestCartServiceUnknownItem(t *testing.T) {
	svc := newTestCartService(t, newMemoryCartRepository(), nil)
	ctx := context.Background()

	if _, err := svc.UpdateQuantity(ctx, UpdateCartItemCommand{OwnerKey: "user:u1", ItemID: "nope", Quantity: 1}); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.RemoveItem(ctx, "user:u1", "nope"); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.UpdateQuantity(ctx, UpdateCartItemCommand{OwnerKey: "user:u1", ItemID: "x", Quantity: 100}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCartServiceRemoveAndClear(t *testing.T) {
	repo := newMemoryCartRepository()
	events := &stubCartEvents{}
	svc := newTestCartService(t, repo, events)
	ctx := context.Background()

	_, _ = svc.AddItem(ctx, diamonds("user:u1", 1))
	second := diamonds("user:u1", 1)
	second.ProductName = "PUBG"
	_, _ = svc.AddItem(ctx, second)

	view, err := svc.RemoveItem(ctx, "user:u1", "item-1")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(view.Cart.Items) != 1 || view.Cart.Items[0].ProductName != "PUBG" {
		t.Fatalf("unexpected cart after remove %+v", view.Cart.Items)
	}

	if err := svc.Clear(ctx, "user:u1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	view, _ = svc.Get(ctx, "user:u1")
	if len(view.Cart.Items) != 0 {
		t.Fatalf("expected empty cart after clear")
	}
	if last := events.events[len(events.events)-1]; last.Type != CartEventCleared || last.OwnerKey != "user:u1" {
		t.Fatalf("unexpected last event %+v", last)
	}
}

func TestCartServiceMergeGuest(t *testing.T) {
	repo := newMemoryCartRepository()
	svc := newTestCartService(t, repo, nil)
	ctx := context.Background()

	_, _ = svc.AddItem(ctx, diamonds("user:u1", 1))
	_, _ = svc.AddItem(ctx, diamonds("guest:g1", 2))
	netflix := diamonds("guest:g1", 1)
	netflix.ProductName = "Netflix"
	netflix.Label = "1 Month"
	netflix.Price = decimal.NewFromInt(450)
	_, _ = svc.AddItem(ctx, netflix)

	view, err := svc.MergeGuest(ctx, "guest:g1", "user:u1")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(view.Cart.Items) != 2 {
		t.Fatalf("expected 2 lines after merge, got %+v", view.Cart.Items)
	}
	if view.Cart.Items[0].Quantity != 3 {
		t.Fatalf("expected merged quantity 3, got %d", view.Cart.Items[0].Quantity)
	}
	if view.Cart.Items[1].ID != "item-3" {
		t.Fatalf("guest line should keep its id, got %s", view.Cart.Items[1].ID)
	}
	if _, ok := repo.carts["guest:g1"]; ok {
		t.Fatalf("expected guest cart deleted")
	}

	if _, err := svc.MergeGuest(ctx, "user:u1", "user:u1"); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input for self merge, got %v", err)
	}
}

func TestCartServiceMergeGuestKeepsLinesAddedDuringMerge(t *testing.T) {
	repo := newMemoryCartRepository()
	svc := newTestCartService(t, repo, nil)
	ctx := context.Background()

	_, _ = svc.AddItem(ctx, diamonds("guest:g1", 2))
	late := domain.CartItem{ID: "late-1", ProductName: "Netflix", Label: "1 Month", Price: decimal.NewFromInt(450), Quantity: 1}
	repo.onUpdate = func(ownerKey string, carts map[string][]domain.CartItem) {
		if ownerKey != "user:u1" {
			return
		}
		// Another tab adds to the guest cart and bumps the merged line while the user cart is written.
		guest := carts["guest:g1"]
		guest[0].Quantity++
		carts["guest:g1"] = append(guest, late)
	}

	view, err := svc.MergeGuest(ctx, "guest:g1", "user:u1")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if view.ItemCount != 2 {
		t.Fatalf("expected the loaded guest lines to merge, got %+v", view.Cart.Items)
	}

	left := repo.carts["guest:g1"]
	if len(left) != 2 {
		t.Fatalf("expected changed and late lines to stay in the guest cart, got %+v", left)
	}
	if left[0].Quantity != 3 || left[1].ID != "late-1" {
		t.Fatalf("unexpected guest cart %+v", left)
	}
	for _, key := range repo.deleted {
		if key == "guest:g1" {
			t.Fatalf("guest cart with new lines must not be deleted")
		}
	}
}

func TestCartServiceMergeEmptyGuestIsNoop(t *testing.T) {
	repo := newMemoryCartRepository()
	svc := newTestCartService(t, repo, nil)
	ctx := context.Background()
	_, _ = svc.AddItem(ctx, diamonds("user:u1", 1))

	view, err := svc.MergeGuest(ctx, "guest:none", "user:u1")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if view.ItemCount != 1 || len(repo.deleted) != 0 {
		t.Fatalf("unexpected merge result %+v deleted=%v", view, repo.deleted)
	}
}

func TestCartServiceTranslatesRepositoryErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "conflict", err: &repositoryErrorStub{conflict: true}, want: ErrCartConflict},
		{name: "unavailable", err: &repositoryErrorStub{unavailable: true}, want: ErrCartUnavailable},
		{name: "unknown", err: errors.New("disk"), want: ErrCartUnavailable},
		{name: "cancelled", err: context.Canceled, want: context.Canceled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMemoryCartRepository()
			repo.updateErr = tc.err
			svc := newTestCartService(t, repo, nil)
			if _, err := svc.AddItem(context.Background(), diamonds("user:u1", 1)); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCartServicePublishFailureDoesNotFailMutation(t *testing.T) {
	events := &stubCartEvents{err: errors.New("pubsub down")}
	svc := newTestCartService(t, newMemoryCartRepository(), events)
	if _, err := svc.AddItem(context.Background(), diamonds("user:u1", 1)); err != nil {
		t.Fatalf("expected add to succeed, got %v", err)
	}
	if len(events.events) != 1 {
		t.Fatalf("expected publish attempt")
	}
}

func TestNewCartServiceRequiresDependencies(t *testing.T) {
	if _, err := NewCartService(CartServiceDeps{Clock: time.Now}); err == nil {
		t.Fatalf("expected error without repository")
	}
	if _, err := NewCartService(CartServiceDeps{Repository: newMemoryCartRepository()}); err == nil {
		t.Fatalf("expected error without clock")
	}
}
