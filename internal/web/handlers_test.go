package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aatn/firegate/internal/fireconn"
	"github.com/aatn/firegate/internal/history"
	"github.com/aatn/firegate/internal/monitor"
)

type fakeChecker struct {
	res fireconn.Result
}

func (f fakeChecker) HealthCheck(ctx context.Context) fireconn.Result {
	res := f.res
	res.CheckedAt = time.Now().UTC()
	return res
}

func healthyChecker() fakeChecker {
	return fakeChecker{res: fireconn.Result{Status: fireconn.StatusHealthy, ProjectID: "proj-1", Collections: 3}}
}

func unhealthyChecker() fakeChecker {
	return fakeChecker{res: fireconn.Result{Status: fireconn.StatusUnhealthy, Error: "rpc error: unavailable"}}
}

func doRequest(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "127.0.0.1:34567"
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz_Healthy(t *testing.T) {
	s := NewServer(healthyChecker(), nil, nil, 0, "", nil)

	rec := doRequest(t, s, "GET", "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var res fireconn.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.Status != fireconn.StatusHealthy {
		t.Errorf("expected healthy status, got %q", res.Status)
	}
	if res.Collections != 3 {
		t.Errorf("expected 3 collections, got %d", res.Collections)
	}
}

func TestHealthz_Unhealthy(t *testing.T) {
	s := NewServer(unhealthyChecker(), nil, nil, 0, "", nil)

	rec := doRequest(t, s, "GET", "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestLast_NotFoundBeforeFirstProbe(t *testing.T) {
	mon := monitor.New(healthyChecker(), nil, nil, monitor.Config{Interval: time.Minute})
	s := NewServer(healthyChecker(), mon, nil, 0, "", nil)

	rec := doRequest(t, s, "GET", "/api/health/last")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestLast_UnavailableWithoutMonitor(t *testing.T) {
	s := NewServer(healthyChecker(), nil, nil, 0, "", nil)

	rec := doRequest(t, s, "GET", "/api/health/last")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHistory(t *testing.T) {
	store, err := history.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	for i := 0; i < 3; i++ {
		err := store.RecordCheck(fireconn.Result{
			Status:      fireconn.StatusHealthy,
			ProjectID:   "proj-1",
			Collections: i,
			CheckedAt:   time.Date(2026, 8, 23, 12, i, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("RecordCheck returned error: %v", err)
		}
	}

	s := NewServer(healthyChecker(), nil, store, 0, "", nil)

	rec := doRequest(t, s, "GET", "/api/health/history?limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var checks []history.Check
	if err := json.Unmarshal(rec.Body.Bytes(), &checks); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(checks))
	}
	if checks[0].Collections != 2 {
		t.Errorf("expected newest check first, got collections=%d", checks[0].Collections)
	}
}

func TestHistory_InvalidLimit(t *testing.T) {
	store, err := history.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	s := NewServer(healthyChecker(), nil, store, 0, "", nil)

	rec := doRequest(t, s, "GET", "/api/health/history?limit=bogus")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAllowSubnet(t *testing.T) {
	_, allowedNet, err := net.ParseCIDR("10.0.0.0/8")
	if err != nil {
		t.Fatalf("failed to parse CIDR: %v", err)
	}
	s := NewServer(healthyChecker(), nil, nil, 0, "", allowedNet)

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for out-of-subnet client, got %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/healthz", nil)
	req.RemoteAddr = "10.1.2.3:1234"
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for in-subnet client, got %d", rec.Code)
	}
}

func TestHealthStream(t *testing.T) {
	mon := monitor.New(healthyChecker(), nil, nil, monitor.Config{Interval: time.Minute})
	if err := mon.Start(); err != nil {
		t.Fatalf("failed to start monitor: %v", err)
	}
	defer mon.Stop()

	// Wait for the immediate probe so the stream has a cached result.
	deadline := time.Now().Add(2 * time.Second)
	for mon.Last() == nil {
		if time.Now().After(deadline) {
			t.Fatal("monitor did not complete its first probe")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s := NewServer(healthyChecker(), mon, nil, 0, "", nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/health"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial health stream: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var res fireconn.Result
	if err := conn.ReadJSON(&res); err != nil {
		t.Fatalf("failed to read stream message: %v", err)
	}
	if res.Status != fireconn.StatusHealthy {
		t.Errorf("expected healthy result on stream, got %q", res.Status)
	}
}
