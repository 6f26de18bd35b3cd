//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/deshtopup/storefront/internal/platform/config"
	pfirestore "github.com/deshtopup/storefront/internal/platform/firestore"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

type productDoc struct {
	Title    string `firestore:"title"`
	Category string `firestore:"category"`
	Stock    int    `firestore:"stock"`
}

func TestProviderAndRepositoryAgainstEmulator(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	defer stopContainer(containerID)
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "test-project", EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	repo := pfirestore.NewBaseRepository[productDoc](provider, "products", nil, nil)

	if _, err := repo.Set(ctx, "free-fire-diamonds", productDoc{Title: "Free Fire Diamonds", Category: "games", Stock: 1}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, err := repo.Set(ctx, "netflix", productDoc{Title: "Netflix", Category: "subscriptions"}); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	doc, err := repo.First(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("title", "==", "Free Fire Diamonds")
	})
	if err != nil {
		t.Fatalf("first failed: %v", err)
	}
	if doc.ID != "free-fire-diamonds" || doc.Data.Category != "games" || doc.UpdateTime.IsZero() {
		t.Fatalf("unexpected document %#v", doc)
	}

	_, err = repo.First(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("title", "==", "Missing")
	})
	type notFound interface{ IsNotFound() bool }
	var nf notFound
	if !errors.As(err, &nf) || !nf.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}

	docs, err := repo.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("category", "==", "subscriptions")
	})
	if err != nil || len(docs) != 1 {
		t.Fatalf("expected one subscription, got %d (%v)", len(docs), err)
	}

	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := repo.DocumentRef(ctx, "free-fire-diamonds")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := repo.Decode(ctx, snap)
		if err != nil {
			return err
		}
		current.Data.Stock++
		return tx.Set(ref, current.Data)
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	doc, err = repo.Get(ctx, "free-fire-diamonds")
	if err != nil || doc.Data.Stock != 2 {
		t.Fatalf("expected stock 2 after transaction, got %#v (%v)", doc.Data, err)
	}

	if err := repo.Delete(ctx, "netflix"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := provider.Ping(ctx, "products"); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, out)
	}
	id := strings.TrimSpace(string(out))
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("emulator did not become ready at %s", endpoint)
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}
