package venue

import (
	"strings"
	"testing"

	"github.com/xsa-dev/perp-trading-engine/internal/config"
)

const testPrivateKeyHex = "c98a6df26565519042134895041d7016ff075a8a6834ecd076004d895ca9b41"

func TestNewAuthParsesPrivateKey(t *testing.T) {
	t.Parallel()

	auth, err := NewAuth(config.ApiConfig{WalletPrivateKey: "0x" + testPrivateKeyHex})
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	if auth.Address().Hex() == "" {
		t.Error("expected non-empty derived address")
	}
}

func TestL1HeadersIncludesAddressAndSignature(t *testing.T) {
	t.Parallel()

	auth, err := NewAuth(config.ApiConfig{WalletPrivateKey: testPrivateKeyHex})
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}

	headers, err := auth.L1Headers(1700000000)
	if err != nil {
		t.Fatalf("L1Headers: %v", err)
	}
	if headers["VENUE-ADDRESS"] != auth.Address().Hex() {
		t.Errorf("VENUE-ADDRESS = %s, want %s", headers["VENUE-ADDRESS"], auth.Address().Hex())
	}
	if !strings.HasPrefix(headers["VENUE-SIGNATURE"], "0x") {
		t.Errorf("expected 0x-prefixed signature, got %s", headers["VENUE-SIGNATURE"])
	}
	if headers["VENUE-TIMESTAMP"] != "1700000000" {
		t.Errorf("VENUE-TIMESTAMP = %s, want 1700000000", headers["VENUE-TIMESTAMP"])
	}
}

func TestL2HeadersRequiresCredentials(t *testing.T) {
	t.Parallel()

	auth, err := NewAuth(config.ApiConfig{WalletPrivateKey: testPrivateKeyHex})
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}

	if _, err := auth.L2Headers("POST", "/orders", ""); err == nil {
		t.Fatal("expected error without L2 credentials")
	}

	auth.SetCredentials(Credentials{ApiKey: "key", Secret: "c2VjcmV0"})
	headers, err := auth.L2Headers("POST", "/orders", "")
	if err != nil {
		t.Fatalf("L2Headers: %v", err)
	}
	if headers["VENUE-API-KEY"] != "key" {
		t.Errorf("VENUE-API-KEY = %s, want key", headers["VENUE-API-KEY"])
	}
	if headers["VENUE-SIGNATURE"] == "" {
		t.Error("expected non-empty signature")
	}
}
