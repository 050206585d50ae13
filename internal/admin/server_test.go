package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/cloudnbd/pkg/byteadapter"
	"github.com/marmos91/cloudnbd/pkg/export"
	"github.com/marmos91/cloudnbd/pkg/provider/memory"
)

type fakeOccupancy struct {
	resident, capacity int
	ok                 bool
}

func (f fakeOccupancy) Occupancy(string) (int, int, bool) {
	return f.resident, f.capacity, f.ok
}

func newTestTable() *export.Table {
	p := memory.New(4096, 4096)
	handle := export.NewHandle("disk0", byteadapter.New(p))
	return export.NewTable(handle)
}

func TestHealthz_ReturnsOK(t *testing.T) {
	router := NewRouter(newTestTable(), nil, fakeOccupancy{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestStatus_ReportsOccupancyPerExport(t *testing.T) {
	router := NewRouter(newTestTable(), nil, fakeOccupancy{resident: 3, capacity: 10, ok: true})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var status Status
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode status response: %v", err)
	}

	if len(status.Exports) != 1 {
		t.Fatalf("Expected 1 export, got %d", len(status.Exports))
	}
	if status.Exports[0].Name != "disk0" {
		t.Errorf("Expected export name 'disk0', got %q", status.Exports[0].Name)
	}
	if status.Exports[0].ResidentBlocks != 3 {
		t.Errorf("Expected 3 resident blocks, got %d", status.Exports[0].ResidentBlocks)
	}
	if status.Exports[0].CapacityBlocks != 10 {
		t.Errorf("Expected capacity 10 blocks, got %d", status.Exports[0].CapacityBlocks)
	}
}

func TestMetrics_OmittedWhenRegistryIsNil(t *testing.T) {
	router := NewRouter(newTestTable(), nil, fakeOccupancy{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code == http.StatusOK {
		t.Error("Expected /metrics to be unavailable when no registry is configured")
	}
}

func TestMetrics_ServedWhenRegistryProvided(t *testing.T) {
	reg := prometheus.NewRegistry()
	router := NewRouter(newTestTable(), reg, fakeOccupancy{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
}
