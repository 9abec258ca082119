package routes

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/filehub/filehub/internal/cache"
	"github.com/filehub/filehub/internal/logging"
	"github.com/filehub/filehub/internal/metrics"
	"github.com/filehub/filehub/internal/server"
	"github.com/filehub/filehub/internal/storage"
)

func newDiagnosticsApp(t *testing.T, c *cache.Cache) *fiber.App {
	t.Helper()

	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	srv, err := server.New(server.Options{Logger: logging.Discard(), Cache: c, Store: store})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	app, err := server.NewDiagnosticsApp(server.DiagnosticsOptions{Logger: logging.Discard(), ListenPort: 9080})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	RegisterDiagnosticsRoutes(app, srv)
	return app
}

func TestCacheRouteReportsSlots(t *testing.T) {
	c := cache.New(2)
	c.Put(cache.Entry{Name: "A", Content: []byte("a"), Digest: "0cc175b9c0f1b6a831c399e269772661"})
	c.Put(cache.Entry{Name: "B", Content: []byte("bb")})
	c.Put(cache.Entry{Name: "C", Content: []byte("ccc")})
	c.Lookup("B")

	app := newDiagnosticsApp(t, c)
	resp, err := app.Test(httptest.NewRequest("GET", "/-/cache", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload cachePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Capacity != 2 || !payload.Enabled {
		t.Fatalf("unexpected capacity: %+v", payload)
	}
	if payload.NextSlot != 1 {
		t.Fatalf("expected next slot 1, got %d", payload.NextSlot)
	}
	if len(payload.Entries) != 2 || payload.Entries[0].Name != "C" || payload.Entries[1].Name != "B" {
		t.Fatalf("unexpected entries: %+v", payload.Entries)
	}
	if payload.Stats.Evictions != 1 || payload.Stats.Hits != 1 {
		t.Fatalf("unexpected stats: %+v", payload.Stats)
	}
}

func TestCacheRouteWhenDisabled(t *testing.T) {
	app := newDiagnosticsApp(t, cache.New(0))
	resp, err := app.Test(httptest.NewRequest("GET", "/-/cache", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"enabled":false`) || !strings.Contains(string(body), `"entries":[]`) {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestHealthAndVersionRoutes(t *testing.T) {
	app := newDiagnosticsApp(t, cache.New(1))

	resp, err := app.Test(httptest.NewRequest("GET", "/-/healthz", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(body), `"goroutine"`) {
		t.Fatalf("unexpected healthz response %d: %s", resp.StatusCode, body)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/-/version", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"version"`) {
		t.Fatalf("unexpected version body: %s", body)
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics.Register()
	metrics.RecordRequest("GET", metrics.OutcomeOK, 0.001)

	app := newDiagnosticsApp(t, cache.New(1))
	resp, err := app.Test(httptest.NewRequest("GET", "/-/metrics", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "filehub_requests_total") {
		t.Fatalf("metrics output missing filehub_requests_total")
	}
}
