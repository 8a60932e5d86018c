package intent

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/louisbranch/payoutcore/internal/platform/id"
	"github.com/louisbranch/payoutcore/internal/platform/timeouts"
)

// PaymentDetails is the expected payment sent to /verify.
type PaymentDetails struct {
	Network   string `json:"network"`
	PayTo     string `json:"payTo"`
	Asset     string `json:"asset"`
	MinAmount string `json:"minAmount"`
}

// PaymentRequirements describes the payment the facilitator should settle.
type PaymentRequirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	PayTo             string `json:"payTo"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Asset             string `json:"asset"`
	Resource          string `json:"resource"`
	Description       string `json:"description"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
}

// VerifyResponse is the facilitator's /verify answer.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
}

// SettleResponse is the facilitator's /settle answer.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
}

// Facilitator verifies and settles payment payloads remotely.
type Facilitator interface {
	Verify(ctx context.Context, payload string, details PaymentDetails) (VerifyResponse, error)
	Settle(ctx context.Context, payload string, requirements PaymentRequirements) (SettleResponse, error)
}

// FacilitatorConfig configures the HTTP facilitator client.
type FacilitatorConfig struct {
	BaseURL string
	// KeyID and KeySecret enable EdDSA bearer tokens. KeySecret is a base64
	// ed25519 private key or seed.
	KeyID     string
	KeySecret string
	Timeout   time.Duration
	Client    *http.Client
	Now       func() time.Time
}

// FacilitatorClient calls a facilitator over JSON/HTTP.
type FacilitatorClient struct {
	baseURL  *url.URL
	client   *http.Client
	timeout  time.Duration
	keyID    string
	key      ed25519.PrivateKey
	tokenTTL time.Duration
	now      func() time.Time
}

// NewFacilitatorClient validates cfg and builds a client.
func NewFacilitatorClient(cfg FacilitatorConfig) (*FacilitatorClient, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("facilitator url is required")
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid facilitator url")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = timeouts.FacilitatorRequest
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	fc := &FacilitatorClient{
		baseURL:  base,
		client:   client,
		timeout:  timeout,
		tokenTTL: 2 * time.Minute,
		now:      now,
	}
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keyID != "" || keySecret != "" {
		if keyID == "" || keySecret == "" {
			return nil, errors.New("facilitator key id and secret must be set together")
		}
		key, err := decodeSigningKey(keySecret)
		if err != nil {
			return nil, err
		}
		fc.keyID = keyID
		fc.key = key
	}
	return fc, nil
}

func decodeSigningKey(value string) (ed25519.PrivateKey, error) {
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err != nil {
		decoded, err = base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, errors.New("decode facilitator key secret")
		}
	}
	switch len(decoded) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(decoded), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(decoded), nil
	default:
		return nil, fmt.Errorf("facilitator key secret must be %d or %d bytes", ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}

// bearerToken mints a short-lived EdDSA JWT scoped to one request path.
func (c *FacilitatorClient) bearerToken(path string) (string, error) {
	jti, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	now := c.now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.keyID,
		Subject:   c.keyID,
		Audience:  jwt.ClaimStrings{c.baseURL.Host + path},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.tokenTTL)),
		ID:        jti,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = c.keyID
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign facilitator token: %w", err)
	}
	return signed, nil
}

func (c *FacilitatorClient) post(ctx context.Context, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	endpoint := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != nil {
		token, err := c.bearerToken(path)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Verify implements Facilitator.
func (c *FacilitatorClient) Verify(ctx context.Context, payload string, details PaymentDetails) (VerifyResponse, error) {
	var resp VerifyResponse
	err := c.post(ctx, "/verify", map[string]any{
		"paymentPayload": payload,
		"paymentDetails": details,
	}, &resp)
	return resp, err
}

// Settle implements Facilitator.
func (c *FacilitatorClient) Settle(ctx context.Context, payload string, requirements PaymentRequirements) (SettleResponse, error) {
	var resp SettleResponse
	err := c.post(ctx, "/settle", map[string]any{
		"paymentPayload":      payload,
		"paymentRequirements": requirements,
	}, &resp)
	return resp, err
}

var _ Facilitator = (*FacilitatorClient)(nil)
