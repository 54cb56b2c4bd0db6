package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	escrowAddr = common.HexToAddress("0xEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEE")
	buyerAddr  = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

func TestOwnerOf(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/assets/7/owner" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Fatalf("unexpected auth header %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"owner": escrowAddr.Hex()})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, escrowAddr, "sekrit")
	owner, err := client.OwnerOf(context.Background(), 7)
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != escrowAddr {
		t.Fatalf("unexpected owner %s", owner.Hex())
	}
	held, err := client.IsControlledByEscrow(context.Background(), 7)
	if err != nil {
		t.Fatalf("is controlled: %v", err)
	}
	if !held {
		t.Fatalf("expected escrow control")
	}
}

func TestIsControlledByEscrowFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"owner": buyerAddr.Hex()})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, escrowAddr, "")
	held, err := client.IsControlledByEscrow(context.Background(), 7)
	if err != nil {
		t.Fatalf("is controlled: %v", err)
	}
	if held {
		t.Fatalf("expected no escrow control")
	}
}

func TestTransfer(t *testing.T) {
	var captured struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/assets/7/transfer" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, escrowAddr, "")
	if err := client.Transfer(context.Background(), 7, buyerAddr); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if captured.From != escrowAddr.Hex() || captured.To != buyerAddr.Hex() {
		t.Fatalf("unexpected payload %+v", captured)
	}
}

func TestTransferSurfacesRegistryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "asset locked"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, escrowAddr, "")
	err := client.Transfer(context.Background(), 7, buyerAddr)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "asset locked") {
		t.Fatalf("expected registry error message, got %v", err)
	}
}

func TestOwnerOfRejectsMalformedAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"owner": "not-an-address"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, escrowAddr, "")
	if _, err := client.OwnerOf(context.Background(), 7); err == nil {
		t.Fatalf("expected error for malformed owner")
	}
}
