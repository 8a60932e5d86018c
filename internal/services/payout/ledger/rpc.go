package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RPCClient talks JSON-RPC 2.0 over HTTP to a chain node.
type RPCClient struct {
	url    string
	client *http.Client
	nextID atomic.Uint64
}

// NewRPCClient creates a client for the node at url. A nil client gets a
// traced default transport.
func NewRPCClient(url string, client *http.Client) (*RPCClient, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("rpc url is required")
	}
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &RPCClient{url: url, client: client}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *RPCClient) call(ctx context.Context, method string, result any, params ...any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", method, resp.Status)
	}
	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// NativeBalance implements Client.
func (c *RPCClient) NativeBalance(ctx context.Context, owner string) (uint64, error) {
	var result struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", &result, owner); err != nil {
		return 0, err
	}
	return result.Value, nil
}

// FindAccount implements Client.
func (c *RPCClient) FindAccount(ctx context.Context, owner, asset string) (Account, bool, error) {
	var result struct {
		Value *Account `json:"value"`
	}
	if err := c.call(ctx, "getTokenAccount", &result, owner, asset); err != nil {
		return Account{}, false, err
	}
	if result.Value == nil {
		return Account{}, false, nil
	}
	return *result.Value, true, nil
}

// LatestBlockhash implements Client.
func (c *RPCClient) LatestBlockhash(ctx context.Context) (string, error) {
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getLatestBlockhash", &result); err != nil {
		return "", err
	}
	if result.Value.Blockhash == "" {
		return "", errors.New("getLatestBlockhash returned an empty blockhash")
	}
	return result.Value.Blockhash, nil
}

// Send implements Client.
func (c *RPCClient) Send(ctx context.Context, tx SignedTransaction) (string, error) {
	encoded, err := tx.Encode()
	if err != nil {
		return "", err
	}
	var signature string
	if err := c.call(ctx, "sendTransaction", &signature, encoded, map[string]string{"encoding": "base64"}); err != nil {
		return "", err
	}
	if signature != tx.ID() {
		return "", fmt.Errorf("sendTransaction returned unexpected signature")
	}
	return signature, nil
}

// SignatureStatus implements Client.
func (c *RPCClient) SignatureStatus(ctx context.Context, signature string) (Status, error) {
	var result struct {
		Value *struct {
			Status Status `json:"status"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getSignatureStatus", &result, signature); err != nil {
		return StatusUnknown, err
	}
	if result.Value == nil {
		return StatusUnknown, nil
	}
	switch result.Value.Status {
	case StatusPending, StatusConfirmed, StatusFailed:
		return result.Value.Status, nil
	default:
		return StatusUnknown, nil
	}
}

var _ Client = (*RPCClient)(nil)
