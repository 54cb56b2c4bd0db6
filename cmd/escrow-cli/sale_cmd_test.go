package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runSaleCommand([]string{"frobnicate"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Unknown command") {
		t.Fatalf("expected usage output, got %q", stderr.String())
	}
}

func TestListPostsPayload(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/listings" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"assetId":1}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := runSaleCommand([]string{
		"list",
		"-node", srv.URL,
		"-caller", "0x1111111111111111111111111111111111111111",
		"-asset", "1",
		"-buyer", "0x4444444444444444444444444444444444444444",
		"-price", "10",
		"-earnest", "5",
	}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected success, got %d (stderr: %s)", code, stderr.String())
	}
	if captured["purchasePrice"] != "10" || captured["escrowAmount"] != "5" {
		t.Fatalf("unexpected payload %v", captured)
	}
	if captured["assetId"].(float64) != 1 {
		t.Fatalf("unexpected asset id %v", captured["assetId"])
	}
}

func TestErrorResponseGoesToStderr(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"escrow: unauthorized caller"}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := runSaleCommand([]string{
		"approve",
		"-node", srv.URL,
		"-caller", "0x9999999999999999999999999999999999999999",
		"-asset", "1",
	}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected failure exit code, got %d", code)
	}
	if !strings.Contains(stderr.String(), "unauthorized") {
		t.Fatalf("expected error on stderr, got %q", stderr.String())
	}
	if stdout.Len() != 0 {
		t.Fatalf("stdout must stay empty on error, got %q", stdout.String())
	}
}

func TestBalanceSelectsPath(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"balance":"10"}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	if code := runSaleCommand([]string{"balance", "-node", srv.URL}, &stdout, &stderr); code != 0 {
		t.Fatalf("total balance: exit %d", code)
	}
	if path != "/v1/balance" {
		t.Fatalf("expected total balance path, got %s", path)
	}

	if code := runSaleCommand([]string{"balance", "-node", srv.URL, "-asset", "7"}, &stdout, &stderr); code != 0 {
		t.Fatalf("listing balance: exit %d", code)
	}
	if path != "/v1/listings/7/balance" {
		t.Fatalf("expected listing balance path, got %s", path)
	}

	// Asset id 0 is a real listing, not the total-balance sentinel.
	if code := runSaleCommand([]string{"balance", "-node", srv.URL, "-asset", "0"}, &stdout, &stderr); code != 0 {
		t.Fatalf("zero asset balance: exit %d", code)
	}
	if path != "/v1/listings/0/balance" {
		t.Fatalf("expected zero asset balance path, got %s", path)
	}
}
