package requestctx

import (
	"context"
	"testing"
)

func TestCartOwnerKey(t *testing.T) {
	cases := []struct {
		name  string
		owner CartOwner
		want  string
		guest bool
	}{
		{name: "user", owner: CartOwner{UID: "u1"}, want: "user:u1"},
		{name: "user wins over guest", owner: CartOwner{UID: "u1", GuestID: "g1"}, want: "user:u1"},
		{name: "guest", owner: CartOwner{GuestID: "g1"}, want: "guest:g1", guest: true},
		{name: "empty", owner: CartOwner{}, want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.owner.Key(); got != tc.want {
				t.Fatalf("expected key %q, got %q", tc.want, got)
			}
			if got := tc.owner.IsGuest(); got != tc.guest {
				t.Fatalf("expected guest %v, got %v", tc.guest, got)
			}
		})
	}
}

func TestCartOwnerFromContext(t *testing.T) {
	if _, ok := CartOwnerFrom(context.Background()); ok {
		t.Fatal("expected no owner on empty context")
	}
	ctx := WithCartOwner(context.Background(), CartOwner{})
	if _, ok := CartOwnerFrom(ctx); ok {
		t.Fatal("expected empty owner to be ignored")
	}
	ctx = WithCartOwner(context.Background(), CartOwner{GuestID: "g-1"})
	owner, ok := CartOwnerFrom(ctx)
	if !ok || owner.GuestID != "g-1" {
		t.Fatalf("unexpected owner %+v", owner)
	}
}

func TestLoggerDefaultsToNoop(t *testing.T) {
	if Logger(context.Background()) != NoopLogger() {
		t.Fatal("expected noop logger")
	}
	if TraceID(context.Background()) != "" {
		t.Fatal("expected empty trace id")
	}
}
