package venue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/xsa-dev/perp-trading-engine/internal/config"
	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

func testAuth(t *testing.T) *Auth {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &Auth{privateKey: key, address: crypto.PubkeyToAddress(key.PublicKey), creds: Credentials{ApiKey: "key", Secret: "c2VjcmV0"}}
}

func TestClientSubmitOrderSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders" {
			t.Errorf("path = %s, want /orders", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"order_id": "ord-1", "status": "filled", "filled_quantity": 1.0, "average_price": 100.0,
		})
	}))
	defer srv.Close()

	client := NewClient(config.ApiConfig{BaseURL: srv.URL}, testAuth(t), false, nil)
	result, err := client.SubmitOrder(context.Background(), types.OrderRequest{Symbol: "BTC-PERP", Side: types.Buy, Type: types.OrderTypeMarket, Quantity: 1})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if result.OrderID != "ord-1" || result.Status != types.StatusFilled {
		t.Errorf("result = %+v", result)
	}
}

func TestClientSubmitOrderDryRun(t *testing.T) {
	t.Parallel()

	client := NewClient(config.ApiConfig{BaseURL: "http://unused"}, testAuth(t), true, nil)
	result, err := client.SubmitOrder(context.Background(), types.OrderRequest{Symbol: "BTC-PERP", Side: types.Buy, Type: types.OrderTypeMarket, Quantity: 1})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if result.Status != types.StatusFilled || result.FilledQuantity != 1 {
		t.Errorf("dry-run result = %+v", result)
	}
}

func TestClientSubmitOrderRateLimitedStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(config.ApiConfig{BaseURL: srv.URL}, testAuth(t), false, nil)
	client.http.SetRetryCount(0)
	_, err := client.SubmitOrder(context.Background(), types.OrderRequest{Symbol: "BTC-PERP", Side: types.Buy, Type: types.OrderTypeMarket, Quantity: 1})
	if err == nil {
		t.Fatal("expected error")
	}
	if kind, ok := types.KindOf(err); !ok || kind != types.KindRateLimited {
		t.Errorf("expected KindRateLimited, got %v (ok=%v)", kind, ok)
	}
}

func TestClientCancelAllOrders(t *testing.T) {
	t.Parallel()

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.Method != http.MethodDelete || r.URL.Path != "/cancel-all" {
			t.Errorf("method/path = %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(config.ApiConfig{BaseURL: srv.URL}, testAuth(t), false, nil)
	if err := client.CancelAllOrders(context.Background(), "BTC-PERP"); err != nil {
		t.Fatalf("CancelAllOrders: %v", err)
	}
	if !called {
		t.Error("server was not called")
	}
}
