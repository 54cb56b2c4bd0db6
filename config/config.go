package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"deedvault/native/escrow"
)

// Config holds the daemon settings. Role addresses are fixed for the whole
// escrow instance; only the buyer varies per listing.
type Config struct {
	ListenAddress     string `toml:"ListenAddress"`
	DataDir           string `toml:"DataDir"`
	Env               string `toml:"Env"`
	RegistryURL       string `toml:"RegistryURL"`
	RegistryAuthToken string `toml:"RegistryAuthToken"`
	EscrowAddress     string `toml:"EscrowAddress"`
	SellerAddress     string `toml:"SellerAddress"`
	InspectorAddress  string `toml:"InspectorAddress"`
	LenderAddress     string `toml:"LenderAddress"`
	OpenDeposit       bool   `toml:"OpenDeposit"`
	RateLimitPerMin   int    `toml:"RateLimitPerMin"`
	LogFile           string `toml:"LogFile"`
	LogMaxSizeMB      int    `toml:"LogMaxSizeMB"`
	LogMaxBackups     int    `toml:"LogMaxBackups"`
	LogMaxAgeDays     int    `toml:"LogMaxAgeDays"`
}

// Load reads the configuration at path, writing a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if c.RateLimitPerMin <= 0 {
		c.RateLimitPerMin = 600
	}
	if c.LogMaxSizeMB <= 0 {
		c.LogMaxSizeMB = 100
	}
}

// Validate checks the address fields without touching the filesystem.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RegistryURL) == "" {
		return fmt.Errorf("config: RegistryURL is required")
	}
	for name, value := range map[string]string{
		"EscrowAddress":    c.EscrowAddress,
		"SellerAddress":    c.SellerAddress,
		"InspectorAddress": c.InspectorAddress,
		"LenderAddress":    c.LenderAddress,
	} {
		if !common.IsHexAddress(strings.TrimSpace(value)) {
			return fmt.Errorf("config: %s must be a hex address, got %q", name, value)
		}
	}
	return nil
}

// Roles parses the configured role addresses into the engine's role set.
func (c *Config) Roles() (escrow.Roles, error) {
	if err := c.Validate(); err != nil {
		return escrow.Roles{}, err
	}
	return escrow.Roles{
		Seller:    common.HexToAddress(strings.TrimSpace(c.SellerAddress)),
		Inspector: common.HexToAddress(strings.TrimSpace(c.InspectorAddress)),
		Lender:    common.HexToAddress(strings.TrimSpace(c.LenderAddress)),
	}, nil
}

// Escrow returns the identity the registry recognizes as the custodian.
func (c *Config) Escrow() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.EscrowAddress))
}

// DatabasePath locates the BoltDB file inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "escrow.db")
}

// createDefault writes a commented starter configuration and returns an
// error prompting the operator to fill in the addresses.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.RegistryURL = "http://localhost:7545"

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("config: wrote default file to %s; set the registry and role addresses before starting", path)
}
