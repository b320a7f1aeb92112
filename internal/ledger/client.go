package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/vaulted-markets/orchestrator/internal/retry"
)

// Client talks JSON-RPC to the ledger service.
type Client struct {
	rpcURL      string
	httpClient  *http.Client
	scanLimiter *rate.Limiter
	maxRetries  int
	baseDelay   time.Duration
}

// Config holds client configuration.
type Config struct {
	RPCURL  string
	Timeout time.Duration
	// ScanRPS throttles account-scanning reads, the most rate-limit-prone calls.
	ScanRPS    float64
	MaxRetries int
	BaseDelay  time.Duration
}

// NewClient creates a ledger client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	scanRPS := cfg.ScanRPS
	if scanRPS == 0 {
		scanRPS = 4
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = retry.DefaultMaxAttempts
	}
	baseDelay := cfg.BaseDelay
	if baseDelay == 0 {
		baseDelay = retry.DefaultBaseDelay
	}

	return &Client{
		rpcURL: cfg.RPCURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		scanLimiter: rate.NewLimiter(rate.Limit(scanRPS), 1),
		maxRetries:  maxRetries,
		baseDelay:   baseDelay,
	}, nil
}

// Call makes an RPC call to the ledger service.
func (c *Client) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s: %w", method, retry.ErrRateLimited)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		if rpcResp.Error.Code == rpcCodeRateLimited {
			return nil, fmt.Errorf("%s: %w", method, retry.ErrRateLimited)
		}
		if rpcResp.Error.Code == rpcCodeAccountNotFound {
			return nil, fmt.Errorf("%s: %w", method, ErrAccountNotFound)
		}
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// RPC error codes surfaced by the ledger service.
const (
	rpcCodeAccountNotFound = -32001
	rpcCodeRateLimited     = -32005
)

// GetAccountInfo returns a snapshot of the account at addr.
// Returns ErrAccountNotFound if the address has no account data yet.
func (c *Client) GetAccountInfo(ctx context.Context, addr Address) (*AccountInfo, error) {
	result, err := c.Call(ctx, "getAccountInfo", []interface{}{addr.String()})
	if err != nil {
		return nil, err
	}

	var info AccountInfo
	if err := json.Unmarshal(result, &info); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", addr, err)
	}
	return &info, nil
}

// AccountExists reports whether addr has account data.
func (c *Client) AccountExists(ctx context.Context, addr Address) (bool, error) {
	_, err := c.GetAccountInfo(ctx, addr)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// GetTokenBalance returns the balance of the token account at addr. A missing
// account reads as a zero balance, distinct from a wrong-seed derivation which
// the caller detects by checking the owning mint.
func (c *Client) GetTokenBalance(ctx context.Context, addr Address) (TokenBalance, error) {
	result, err := c.Call(ctx, "getTokenAccountBalance", []interface{}{addr.String()})
	if err != nil {
		if IsNotFound(err) {
			return TokenBalance{}, nil
		}
		return TokenBalance{}, err
	}

	var bal TokenBalance
	if err := json.Unmarshal(result, &bal); err != nil {
		return TokenBalance{}, fmt.Errorf("decode balance %s: %w", addr, err)
	}
	return bal, nil
}

// GetEscrowAccount reads and decodes the escrow state account at addr.
func (c *Client) GetEscrowAccount(ctx context.Context, addr Address) (*EscrowAccount, error) {
	info, err := c.GetAccountInfo(ctx, addr)
	if err != nil {
		return nil, err
	}

	var esc EscrowAccount
	if err := json.Unmarshal(info.Data, &esc); err != nil {
		return nil, fmt.Errorf("decode escrow %s: %w", addr, err)
	}
	return &esc, nil
}

// ScanProgramAccounts lists all accounts owned by program, optionally filtered
// by a data prefix. Bulk scans are throttled and retried on rate limits.
func (c *Client) ScanProgramAccounts(ctx context.Context, program Address, prefix string) ([]AccountInfo, error) {
	if err := c.scanLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	return retry.DoValue(ctx, c.maxRetries, c.baseDelay, func(ctx context.Context) ([]AccountInfo, error) {
		params := []interface{}{program.String()}
		if prefix != "" {
			params = append(params, map[string]string{"prefix": prefix})
		}
		result, err := c.Call(ctx, "getProgramAccounts", params)
		if err != nil {
			return nil, err
		}

		var accounts []AccountInfo
		if err := json.Unmarshal(result, &accounts); err != nil {
			return nil, fmt.Errorf("decode program accounts: %w", err)
		}
		return accounts, nil
	})
}

// SendTransaction submits a signed transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, tx *Transaction) (string, error) {
	if len(tx.Signatures) == 0 {
		return "", fmt.Errorf("send transaction: %w", ErrNotConnected)
	}

	raw, err := tx.Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize transaction: %w", err)
	}

	result, err := c.Call(ctx, "sendTransaction", []interface{}{json.RawMessage(raw)})
	if err != nil {
		return "", err
	}

	var response struct {
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(result, &response); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	return response.Signature, nil
}

// GetSignatureStatus returns the confirmation state of a submitted transaction.
func (c *Client) GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	result, err := c.Call(ctx, "getSignatureStatus", []interface{}{signature})
	if err != nil {
		return nil, err
	}

	var status SignatureStatus
	if err := json.Unmarshal(result, &status); err != nil {
		return nil, fmt.Errorf("decode signature status: %w", err)
	}
	return &status, nil
}

// DefaultConfirmTimeout bounds confirmation polling.
const DefaultConfirmTimeout = 90 * time.Second

// DefaultPollInterval is the confirmation polling cadence.
const DefaultPollInterval = 2 * time.Second

// WaitForConfirmation polls until the transaction confirms or the deadline
// passes. On deadline it polls once more before reporting
// ErrConfirmationTimeout: the outcome is ambiguous and the transaction may
// still land, so the caller must surface "unconfirmed", never "failed".
func (c *Client) WaitForConfirmation(ctx context.Context, signature string, pollInterval, timeout time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	// One final poll on the parent context before giving up: the outcome is
	// ambiguous and the transaction may still land.
	finalPoll := func() error {
		status, err := c.GetSignatureStatus(ctx, signature)
		if err == nil && status.Confirmed {
			if status.Err != "" {
				return fmt.Errorf("%w: %s", ErrTransactionFailed, status.Err)
			}
			return nil
		}
		return fmt.Errorf("%s: %w", signature, ErrConfirmationTimeout)
	}

	for {
		select {
		case <-wctx.Done():
			return finalPoll()
		case <-ticker.C:
			status, err := c.GetSignatureStatus(wctx, signature)
			if err != nil {
				if IsNotFound(err) || retry.IsRateLimited(err) {
					continue
				}
				// A poll cut off by the deadline is a timeout, not a
				// failed transaction.
				if wctx.Err() != nil {
					return finalPoll()
				}
				return err
			}
			if !status.Confirmed {
				continue
			}
			if status.Err != "" {
				return fmt.Errorf("%w: %s", ErrTransactionFailed, status.Err)
			}
			return nil
		}
	}
}

// SendAndConfirm signs, submits and blocks on confirmation of the transaction
// using exactly one signer.
func (c *Client) SendAndConfirm(ctx context.Context, tx *Transaction, signer Signer) (string, error) {
	if signer == nil {
		return "", ErrNotConnected
	}
	if err := signer.SignTransaction(ctx, tx); err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	signature, err := c.SendTransaction(ctx, tx)
	if err != nil {
		return "", err
	}

	if err := c.WaitForConfirmation(ctx, signature, 0, 0); err != nil {
		return signature, err
	}
	return signature, nil
}
