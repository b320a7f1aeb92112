// Package content provides the content-store client used to pin and retrieve
// asset metadata documents by content hash.
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vaulted-markets/orchestrator/internal/domain/metadata"
	"github.com/vaulted-markets/orchestrator/internal/retry"
)

// Store pins and fetches JSON documents by content reference.
type Store interface {
	PinJSON(ctx context.Context, document interface{}, label string) (string, error)
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Client is the HTTP content-store client.
type Client struct {
	pinURL     string
	gatewayURL string
	httpClient *http.Client
	apiKey     string
}

// Config holds content-store endpoints and credentials.
type Config struct {
	PinURL     string
	GatewayURL string
	APIKey     string
	Timeout    time.Duration
}

// NewClient creates a content-store client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.PinURL == "" || cfg.GatewayURL == "" {
		return nil, fmt.Errorf("content store endpoints required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		pinURL:     cfg.PinURL,
		gatewayURL: strings.TrimRight(cfg.GatewayURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     cfg.APIKey,
	}, nil
}

// PinJSON pins a JSON document under a label and returns its retrievable URI.
func (c *Client) PinJSON(ctx context.Context, document interface{}, label string) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"pinataContent": document,
		"pinataMetadata": map[string]string{
			"name": label,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal pin payload: %w", err)
	}

	return retry.DoValue(ctx, 3, time.Second, func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, "POST", c.pinURL, bytes.NewReader(payload))
		if err != nil {
			return "", fmt.Errorf("create pin request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("pin %s: %w", label, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return "", fmt.Errorf("pin %s: %w", label, retry.ErrRateLimited)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return "", fmt.Errorf("pin %s: status %d: %s", label, resp.StatusCode, body)
		}

		var result struct {
			Hash string `json:"IpfsHash"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return "", fmt.Errorf("decode pin response: %w", err)
		}
		if result.Hash == "" {
			return "", fmt.Errorf("pin %s: empty content hash", label)
		}
		return c.gatewayURL + "/" + result.Hash, nil
	})
}

// Fetch retrieves a pinned document by URI or bare content hash.
func (c *Client) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		uri = c.gatewayURL + "/" + strings.TrimPrefix(uri, "/")
	}

	return retry.DoValue(ctx, 3, time.Second, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, "GET", uri, nil)
		if err != nil {
			return nil, fmt.Errorf("create fetch request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", uri, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("fetch %s: %w", uri, retry.ErrRateLimited)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch %s: status %d", uri, resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	})
}

// FetchRecord fetches and parses a metadata document for an asset.
func (c *Client) FetchRecord(ctx context.Context, uri, assetID string) (metadata.Record, error) {
	raw, err := c.Fetch(ctx, uri)
	if err != nil {
		return metadata.Record{}, err
	}
	rec, err := metadata.ParseDocument(raw, assetID)
	if err != nil {
		return metadata.Record{}, err
	}
	rec.ContentURI = uri
	return rec, nil
}
