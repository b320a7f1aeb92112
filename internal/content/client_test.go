package content

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/vaulted-markets/orchestrator/internal/domain/metadata"
)

func TestClient_PinJSONRetriesRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"IpfsHash": "bafy123"})
	}))
	defer server.Close()

	c, err := NewClient(Config{PinURL: server.URL, GatewayURL: server.URL + "/gw", Timeout: 0})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	uri, err := c.PinJSON(context.Background(), map[string]string{"name": "x"}, "asset-1")
	if err != nil {
		t.Fatalf("pin: %v", err)
	}
	if uri != server.URL+"/gw/bafy123" {
		t.Fatalf("uri: %s", uri)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestClient_FetchRecord(t *testing.T) {
	doc := metadata.Record{
		Title:        "Daytona 6263",
		MarketStatus: "listed",
	}.ToDocument()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(doc)
	}))
	defer server.Close()

	c, err := NewClient(Config{PinURL: server.URL, GatewayURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	rec, err := c.FetchRecord(context.Background(), "bafyabc", "asset-7")
	if err != nil {
		t.Fatalf("fetch record: %v", err)
	}
	if rec.Title != "Daytona 6263" || rec.MarketStatus != "listed" {
		t.Fatalf("record: %+v", rec)
	}
	if rec.AssetID != "asset-7" {
		t.Fatalf("asset id: %s", rec.AssetID)
	}
}
