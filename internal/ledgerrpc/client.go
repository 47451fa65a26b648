// Package ledgerrpc is a JSON-RPC 2.0 client for an external asset custody service.
// It lets the swap executor settle collectibles held outside the balance ledger.
package ledgerrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/ledger"
	"solana-nft-custody/internal/observability"
	"solana-nft-custody/internal/solana"
)

// Default configuration values.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 1 * time.Second
	DefaultMaxDelay   = 10 * time.Second
)

// Error codes returned by the custody service.
const (
	CodeAssetNotFound = -32001
	CodeNotHolder     = -32002
)

// Client implements ledger.AssetCustodian over HTTP JSON-RPC 2.0.
type Client struct {
	endpoint   string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
	requestID  atomic.Uint64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a custody service client.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:   endpoint,
		client:     &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		maxDelay:   DefaultMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// domainError maps service codes onto domain error kinds.
func domainError(e *RPCError) error {
	switch e.Code {
	case CodeAssetNotFound:
		return fmt.Errorf("%w: %w", domain.ErrInvalidAsset, e)
	case CodeNotHolder:
		return fmt.Errorf("%w: %w", domain.ErrUnauthorized, e)
	default:
		return e
	}
}

// errRateLimited marks a response the server rejected before processing.
var errRateLimited = errors.New("rate limited (429)")

// transientError marks a failure worth another attempt: transport errors,
// non-200 statuses and malformed responses. RPC errors are final.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func transient(format string, args ...interface{}) error {
	return &transientError{err: fmt.Errorf(format, args...)}
}

// call performs a JSON-RPC call with retries and exponential backoff.
// A mutating call is retried only when the server refused it with 429, since
// a transport failure leaves it unknown whether the mutation happened.
func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}, idempotent bool) error {
	start := time.Now()
	defer func() { observability.RecordRPCLatency(method, time.Since(start).Seconds()) }()

	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	err = retry.Do(
		func() error {
			return c.send(ctx, body, result)
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries+1)),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(c.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var t *transientError
			if !errors.As(err, &t) {
				return false
			}
			return idempotent || errors.Is(err, errRateLimited)
		}),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// send performs one HTTP round trip.
func (c *Client) send(ctx context.Context, body []byte, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return transient("http request: %w", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return transient("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return transient("%w", errRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return transient("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return transient("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return domainError(rpcResp.Error)
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

type getAssetOwnerResult struct {
	Owner string `json:"owner"`
}

// AssetOwner returns the identity holding assetID.
func (c *Client) AssetOwner(ctx context.Context, assetID solana.PublicKey) (solana.PublicKey, error) {
	var result getAssetOwnerResult
	if err := c.call(ctx, "getAssetOwner", []interface{}{assetID.String()}, &result, true); err != nil {
		return solana.PublicKey{}, err
	}

	owner, err := solana.ParsePublicKey(result.Owner)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("parse owner: %w", err)
	}
	return owner, nil
}

type transferAssetParams struct {
	Asset string `json:"asset"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// TransferAsset moves custody of assetID from -> to.
func (c *Client) TransferAsset(ctx context.Context, assetID, from, to solana.PublicKey) error {
	params := []interface{}{transferAssetParams{
		Asset: assetID.String(),
		From:  from.String(),
		To:    to.String(),
	}}
	return c.call(ctx, "transferAsset", params, nil, false)
}

var _ ledger.AssetCustodian = (*Client)(nil)
