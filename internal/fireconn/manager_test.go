package fireconn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/aatn/firegate/internal/config"
)

func testManager(deps clientDeps) *Manager {
	m := New(config.Firebase{ProjectID: "proj-1"})
	m.deps = deps
	return m
}

func workingDeps(connects *int32, collections int) clientDeps {
	return clientDeps{
		connect: func(ctx context.Context, cfg config.Firebase) (*firestore.Client, error) {
			atomic.AddInt32(connects, 1)
			return &firestore.Client{}, nil
		},
		listCollections: func(ctx context.Context, client *firestore.Client) (int, error) {
			return collections, nil
		},
		closeClient: func(client *firestore.Client) error {
			return nil
		},
	}
}

func TestInitialize_Idempotent(t *testing.T) {
	var connects int32
	m := testManager(workingDeps(&connects, 0))

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize returned error: %v", err)
	}

	if n := atomic.LoadInt32(&connects); n != 1 {
		t.Fatalf("expected 1 connect across two Initialize calls, got %d", n)
	}
}

func TestHandle_ReturnsCachedHandle(t *testing.T) {
	var connects int32
	m := testManager(workingDeps(&connects, 0))

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	h1, err := m.Handle(context.Background())
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	h2, err := m.Handle(context.Background())
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	if h1 != h2 {
		t.Fatal("expected Handle to return the identical cached client")
	}
	if n := atomic.LoadInt32(&connects); n != 1 {
		t.Fatalf("expected no reconnect on cached access, got %d connects", n)
	}
	if m.Reinits() != 0 {
		t.Fatalf("expected 0 reinits, got %d", m.Reinits())
	}
}

func TestHandle_SingleReinitAfterClose(t *testing.T) {
	var connects int32
	m := testManager(workingDeps(&connects, 0))

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	if _, err := m.Handle(context.Background()); err != nil {
		t.Fatalf("Handle after Close returned error: %v", err)
	}

	if n := atomic.LoadInt32(&connects); n != 2 {
		t.Fatalf("expected exactly one reconnect after Close, got %d total connects", n)
	}
	if m.Reinits() != 1 {
		t.Fatalf("expected 1 reinit, got %d", m.Reinits())
	}
}

func TestHandle_ReinitFailurePropagates(t *testing.T) {
	connectErr := fmt.Errorf("%w: resolving application default credentials: no creds", ErrConnection)
	m := testManager(clientDeps{
		connect: func(ctx context.Context, cfg config.Firebase) (*firestore.Client, error) {
			return nil, connectErr
		},
	})

	_, err := m.Handle(context.Background())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if m.Reinits() != 1 {
		t.Fatalf("expected 1 reinit attempt, got %d", m.Reinits())
	}
}

func TestHandle_NilHandleAfterReinit(t *testing.T) {
	var connects int32
	m := testManager(clientDeps{
		connect: func(ctx context.Context, cfg config.Firebase) (*firestore.Client, error) {
			atomic.AddInt32(&connects, 1)
			return nil, nil
		},
	})

	_, err := m.Handle(context.Background())
	if !errors.Is(err, ErrHandleUnavailable) {
		t.Fatalf("expected ErrHandleUnavailable, got %v", err)
	}
	if n := atomic.LoadInt32(&connects); n != 1 {
		t.Fatalf("expected exactly one reinit attempt, got %d", n)
	}
}

func TestHealthCheck_Healthy(t *testing.T) {
	var connects int32
	m := testManager(workingDeps(&connects, 3))

	res := m.HealthCheck(context.Background())

	if !res.Healthy() {
		t.Fatalf("expected healthy result, got %+v", res)
	}
	if res.Collections != 3 {
		t.Errorf("expected 3 collections, got %d", res.Collections)
	}
	if res.ProjectID != "proj-1" {
		t.Errorf("expected project ID proj-1, got %q", res.ProjectID)
	}
	if res.CheckedAt.IsZero() {
		t.Error("expected CheckedAt to be set")
	}
}

func TestHealthCheck_ConnectFailure(t *testing.T) {
	m := testManager(clientDeps{
		connect: func(ctx context.Context, cfg config.Firebase) (*firestore.Client, error) {
			return nil, fmt.Errorf("%w: no creds", ErrConnection)
		},
	})

	res := m.HealthCheck(context.Background())

	if res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy status, got %q", res.Status)
	}
	if res.Error == "" {
		t.Error("expected error message in result")
	}
}

func TestHealthCheck_ListFailure(t *testing.T) {
	var connects int32
	deps := workingDeps(&connects, 0)
	deps.listCollections = func(ctx context.Context, client *firestore.Client) (int, error) {
		return 0, errors.New("rpc error: unavailable")
	}
	m := testManager(deps)

	res := m.HealthCheck(context.Background())

	if res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy status, got %q", res.Status)
	}
	if res.Error != "rpc error: unavailable" {
		t.Errorf("unexpected error message: %q", res.Error)
	}
}

func TestClose_ClearsHandleEvenOnError(t *testing.T) {
	var connects int32
	deps := workingDeps(&connects, 0)
	deps.closeClient = func(client *firestore.Client) error {
		return errors.New("close failed")
	}
	m := testManager(deps)

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	if err := m.Close(); err == nil {
		t.Fatal("expected Close to return the close error")
	}

	// Handle must reconnect rather than hand out the half-closed client.
	if _, err := m.Handle(context.Background()); err != nil {
		t.Fatalf("Handle after failed Close returned error: %v", err)
	}
	if n := atomic.LoadInt32(&connects); n != 2 {
		t.Fatalf("expected reconnect after failed Close, got %d connects", n)
	}
}

func TestClose_NoopWhenHandleAbsent(t *testing.T) {
	var closes int32
	m := testManager(clientDeps{
		closeClient: func(client *firestore.Client) error {
			atomic.AddInt32(&closes, 1)
			return nil
		},
	})

	if err := m.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if atomic.LoadInt32(&closes) != 0 {
		t.Fatal("expected no close call when handle is absent")
	}
}

func TestHandle_ConcurrentAccessConnectsOnce(t *testing.T) {
	var connects int32
	m := testManager(clientDeps{
		connect: func(ctx context.Context, cfg config.Firebase) (*firestore.Client, error) {
			atomic.AddInt32(&connects, 1)
			time.Sleep(10 * time.Millisecond)
			return &firestore.Client{}, nil
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Handle(context.Background()); err != nil {
				t.Errorf("Handle returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&connects); n != 1 {
		t.Fatalf("expected a single connect under concurrent access, got %d", n)
	}
}
