// Package trade is the client for the external liquidity service: quote
// retrieval with debouncing, and guarded trade execution through the ledger.
package trade

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vaulted-markets/orchestrator/internal/app/metrics"
	"github.com/vaulted-markets/orchestrator/internal/domain/pool"
	"github.com/vaulted-markets/orchestrator/internal/ledger"
	"github.com/vaulted-markets/orchestrator/internal/retry"
	"github.com/vaulted-markets/orchestrator/internal/storage"
	"github.com/vaulted-markets/orchestrator/pkg/logger"
)

var (
	// ErrInvalidAmount indicates a zero or negative trade amount; rejected
	// locally, no request is made.
	ErrInvalidAmount = errors.New("trade amount must be positive")

	// ErrStaleQuote indicates the quote aged past the freshness window and
	// must be re-fetched before execution.
	ErrStaleQuote = errors.New("quote is stale: re-quote before executing")

	// ErrSlippageExceeded indicates the quoted price impact is above the
	// configured threshold and the caller has not re-confirmed.
	ErrSlippageExceeded = errors.New("price impact exceeds threshold")
)

const (
	// DefaultFreshness bounds how old a quote may be at execution time.
	DefaultFreshness = 30 * time.Second

	// DefaultMaxPriceImpact is the percentage above which execution requires
	// explicit re-confirmation.
	DefaultMaxPriceImpact = 5.0

	// DefaultSlippageBps is applied when a request leaves the bound unset.
	DefaultSlippageBps = 50
)

// QuoteRequest asks the liquidity service for a price on one pool pair.
type QuoteRequest struct {
	PoolID      string `json:"pool_id"`
	InputMint   string `json:"input_mint"`
	OutputMint  string `json:"output_mint"`
	Amount      int64  `json:"amount"`
	SlippageBps int    `json:"slippage_bps,omitempty"`
}

// Quote is a priced trade offer. It is only executable while fresh.
type Quote struct {
	PoolID       string    `json:"pool_id"`
	InputMint    string    `json:"input_mint"`
	OutputMint   string    `json:"output_mint"`
	InputAmount  uint64    `json:"input_amount"`
	OutputAmount uint64    `json:"output_amount"`
	PriceImpact  float64   `json:"price_impact"` // percent
	SlippageBps  int       `json:"slippage_bps"`
	UserAccount  string    `json:"user_account,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Config carries the liquidity service endpoint and execution guardrails.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	Freshness      time.Duration
	MaxPriceImpact float64
}

// Client talks to the liquidity service and executes trades via the ledger.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	ledger         *ledger.Client
	pools          storage.PoolStore
	cache          QuoteCache
	freshness      time.Duration
	maxPriceImpact float64
	log            *logger.Logger
}

// NewClient creates a trade client. cache may be nil to disable quote caching.
func NewClient(cfg Config, lc *ledger.Client, pools storage.PoolStore, cache QuoteCache, log *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = DefaultFreshness
	}
	if cfg.MaxPriceImpact <= 0 {
		cfg.MaxPriceImpact = DefaultMaxPriceImpact
	}
	if log == nil {
		log = logger.NewDefault("trade")
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		ledger:         lc,
		pools:          pools,
		cache:          cache,
		freshness:      cfg.Freshness,
		maxPriceImpact: cfg.MaxPriceImpact,
		log:            log,
	}
}

// Freshness returns the execution freshness window.
func (c *Client) Freshness() time.Duration { return c.freshness }

// Quote fetches a priced offer. Invalid amounts and locked pools are rejected
// locally before any remote call.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if req.Amount <= 0 {
		return Quote{}, ErrInvalidAmount
	}
	if req.SlippageBps <= 0 {
		req.SlippageBps = DefaultSlippageBps
	}

	p, err := c.pools.GetPool(ctx, req.PoolID)
	if err != nil {
		return Quote{}, fmt.Errorf("load pool %s: %w", req.PoolID, err)
	}
	if !p.TradingAllowed() {
		return Quote{}, pool.ErrTradingLocked
	}

	if c.cache != nil {
		if q, ok := c.cache.Get(ctx, req); ok {
			return q, nil
		}
	}

	start := time.Now()
	q, err := c.fetchQuote(ctx, req)
	if err != nil {
		metrics.RecordQuote("error", time.Since(start))
		return Quote{}, err
	}
	metrics.RecordQuote("ok", time.Since(start))
	if c.cache != nil {
		c.cache.Put(ctx, req, q)
	}
	return q, nil
}

func (c *Client) fetchQuote(ctx context.Context, req QuoteRequest) (Quote, error) {
	query := url.Values{
		"poolId":      {req.PoolID},
		"inputMint":   {req.InputMint},
		"outputMint":  {req.OutputMint},
		"amount":      {strconv.FormatInt(req.Amount, 10)},
		"slippageBps": {strconv.Itoa(req.SlippageBps)},
	}

	return retry.DoValue(ctx, retry.DefaultMaxAttempts, retry.DefaultBaseDelay, func(ctx context.Context) (Quote, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+query.Encode(), nil)
		if err != nil {
			return Quote{}, err
		}
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return Quote{}, fmt.Errorf("quote request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return Quote{}, retry.ErrRateLimited
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return Quote{}, fmt.Errorf("quote request: status %d: %s", resp.StatusCode, body)
		}

		var out struct {
			OutputAmount uint64  `json:"outputAmount"`
			PriceImpact  float64 `json:"priceImpact"`
			SlippageBps  int     `json:"slippageBps"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return Quote{}, fmt.Errorf("decode quote: %w", err)
		}

		return Quote{
			PoolID:       req.PoolID,
			InputMint:    req.InputMint,
			OutputMint:   req.OutputMint,
			InputAmount:  uint64(req.Amount),
			OutputAmount: out.OutputAmount,
			PriceImpact:  out.PriceImpact,
			SlippageBps:  out.SlippageBps,
			FetchedAt:    time.Now(),
		}, nil
	})
}

// ExecuteOptions adjusts execution guardrails per call.
type ExecuteOptions struct {
	// AcceptPriceImpact is the caller's explicit re-confirmation of a quote
	// whose price impact is above the configured threshold.
	AcceptPriceImpact bool
}

// Execute requests an unsigned transaction for the quoted trade, signs it with
// exactly one signer, submits it and blocks on confirmation. Stale quotes and
// unconfirmed high-impact quotes are rejected before any remote call.
func (c *Client) Execute(ctx context.Context, q Quote, signer ledger.Signer, opts ExecuteOptions) (string, error) {
	if signer == nil {
		return "", fmt.Errorf("execute trade: %w", ledger.ErrNotConnected)
	}
	if time.Since(q.FetchedAt) > c.freshness {
		return "", ErrStaleQuote
	}
	if q.PriceImpact > c.maxPriceImpact && !opts.AcceptPriceImpact {
		return "", fmt.Errorf("%w: %.2f%% > %.2f%%", ErrSlippageExceeded, q.PriceImpact, c.maxPriceImpact)
	}

	payload := map[string]interface{}{
		"poolId":      q.PoolID,
		"inputMint":   q.InputMint,
		"outputMint":  q.OutputMint,
		"amount":      q.InputAmount,
		"userAccount": signer.PublicKey().String(),
		"slippageBps": q.SlippageBps,
	}
	raw, err := c.postExecute(ctx, payload)
	if err != nil {
		return "", err
	}

	tx, err := ledger.DeserializeTransaction(raw)
	if err != nil {
		return "", err
	}
	tx.Signatures = nil // the end user is the sole signer

	sig, err := c.ledger.SendAndConfirm(ctx, tx, signer)
	if err != nil {
		return "", err
	}
	c.log.WithField("pool_id", q.PoolID).WithField("signature", sig).Info("trade confirmed")
	return sig, nil
}

func (c *Client) postExecute(ctx context.Context, payload map[string]interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return retry.DoValue(ctx, retry.DefaultMaxAttempts, retry.DefaultBaseDelay, func(ctx context.Context) ([]byte, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute-trade", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, retry.ErrRateLimited
		}
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, fmt.Errorf("execute request: status %d: %s", resp.StatusCode, msg)
		}

		var out struct {
			SerializedTransaction json.RawMessage `json:"serializedTransaction"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode execute response: %w", err)
		}
		return out.SerializedTransaction, nil
	})
}
