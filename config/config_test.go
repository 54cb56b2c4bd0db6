package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const validConfig = `
ListenAddress = ":9000"
DataDir = "/tmp/deedvault"
RegistryURL = "http://registry.local:7545"
EscrowAddress = "0xEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEE"
SellerAddress = "0x1111111111111111111111111111111111111111"
InspectorAddress = "0x2222222222222222222222222222222222222222"
LenderAddress = "0x3333333333333333333333333333333333333333"
OpenDeposit = true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "escrowd.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddress)
	}
	if !cfg.OpenDeposit {
		t.Fatalf("expected open deposit enabled")
	}
	if cfg.RateLimitPerMin != 600 {
		t.Fatalf("expected default rate limit, got %d", cfg.RateLimitPerMin)
	}
	if cfg.DatabasePath() != filepath.Join("/tmp/deedvault", "escrow.db") {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath())
	}

	roles, err := cfg.Roles()
	if err != nil {
		t.Fatalf("roles: %v", err)
	}
	if roles.Seller != common.HexToAddress("0x1111111111111111111111111111111111111111") {
		t.Fatalf("unexpected seller %s", roles.Seller.Hex())
	}
	if cfg.Escrow() != common.HexToAddress("0xEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEE") {
		t.Fatalf("unexpected escrow address %s", cfg.Escrow().Hex())
	}
}

func TestLoadRejectsBadAddress(t *testing.T) {
	body := strings.Replace(validConfig, "0x1111111111111111111111111111111111111111", "not-an-address", 1)
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatalf("expected error for malformed seller address")
	}
}

func TestLoadRejectsMissingRegistry(t *testing.T) {
	body := strings.Replace(validConfig, `RegistryURL = "http://registry.local:7545"`, "", 1)
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatalf("expected error for missing registry URL")
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escrowd.toml")
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected prompt error for freshly written default")
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("default config file not written: %v", statErr)
	}
}
