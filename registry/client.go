// Package registry provides the client for the external asset registry, the
// service that tracks which identity controls a given asset token. The escrow
// engine only consults and instructs the registry; it never implements asset
// enumeration or metadata.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const maxResponseBody = 1 << 20 // 1 MiB

// HTTPClient talks to the registry's JSON-over-HTTP API. The escrow account
// address identifies this escrow instance to the registry; custody checks
// compare it against the reported owner.
type HTTPClient struct {
	baseURL   string
	escrow    common.Address
	authToken string
	http      *http.Client
}

// NewHTTPClient builds a client for the registry at baseURL acting on behalf
// of the given escrow account. authToken may be empty.
func NewHTTPClient(baseURL string, escrow common.Address, authToken string) *HTTPClient {
	return &HTTPClient{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		escrow:    escrow,
		authToken: strings.TrimSpace(authToken),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// EscrowAddress returns the identity this client acts as.
func (c *HTTPClient) EscrowAddress() common.Address { return c.escrow }

// OwnerOf queries the current controller of the asset.
func (c *HTTPClient) OwnerOf(ctx context.Context, assetID uint64) (common.Address, error) {
	var resp struct {
		Owner string `json:"owner"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/assets/%d/owner", assetID), nil, &resp); err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(resp.Owner) {
		return common.Address{}, fmt.Errorf("registry: malformed owner address %q", resp.Owner)
	}
	return common.HexToAddress(resp.Owner), nil
}

// IsControlledByEscrow reports whether the registry currently lists this
// escrow account as the controller of the asset.
func (c *HTTPClient) IsControlledByEscrow(ctx context.Context, assetID uint64) (bool, error) {
	owner, err := c.OwnerOf(ctx, assetID)
	if err != nil {
		return false, err
	}
	return owner == c.escrow, nil
}

// Transfer instructs the registry to move the asset from escrow custody to
// the given identity.
func (c *HTTPClient) Transfer(ctx context.Context, assetID uint64, to common.Address) error {
	payload := map[string]string{
		"from": c.escrow.Hex(),
		"to":   to.Hex(),
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/assets/%d/transfer", assetID), payload, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("registry: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("registry: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("registry: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &errBody) == nil && errBody.Error != "" {
			return fmt.Errorf("registry: %s (status %d)", errBody.Error, resp.StatusCode)
		}
		return fmt.Errorf("registry: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("registry: decode response: %w", err)
	}
	return nil
}
