package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SignatureHeader carries the hex HMAC-SHA512 of a webhook body.
const SignatureHeader = "x-paystack-signature"

const maxResponseBytes = 1 << 20

var (
	ErrTimeout   = errors.New("gateway request timed out")
	ErrTransport = errors.New("gateway unreachable")
	ErrMalformed = errors.New("malformed gateway response")
	ErrRejected  = errors.New("gateway rejected transaction")
)

// Error describes a failed gateway call. Err is one of the package sentinels.
type Error struct {
	Op      string
	Status  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Status != "":
		return fmt.Sprintf("paystack %s: transaction status is %q", e.Op, e.Status)
	case e.Message != "":
		return fmt.Sprintf("paystack %s: %v: %s", e.Op, e.Err, e.Message)
	}
	return fmt.Sprintf("paystack %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Config struct {
	BaseURL    string
	SecretKey  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
	timeout    time.Duration
}

func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		timeout:    timeout,
	}
}

// Transaction is the subset of the gateway transaction object the service reads.
type Transaction struct {
	ID              json.Number `json:"id"`
	Status          string      `json:"status"`
	Reference       string      `json:"reference"`
	Amount          *int64      `json:"amount"`
	Currency        string      `json:"currency"`
	GatewayResponse string      `json:"gateway_response"`
	Channel         string      `json:"channel"`
	PaidAt          *time.Time  `json:"paid_at"`
}

// VerifyResult is a successfully verified transaction plus the raw payload for audit.
type VerifyResult struct {
	Transaction Transaction
	Raw         json.RawMessage
}

type InitializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Reference   string            `json:"reference"`
	Currency    string            `json:"currency,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// VerifyTransaction confirms that reference was paid. Anything other than a well-formed
// response with data.status "success" is returned as an *Error.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*VerifyResult, error) {
	const op = "verify"

	env, err := c.do(ctx, op, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}

	var txn Transaction
	if err := json.Unmarshal(env.Data, &txn); err != nil {
		return nil, &Error{Op: op, Message: err.Error(), Err: ErrMalformed}
	}
	if txn.Reference == "" || txn.Amount == nil || txn.Status == "" {
		return nil, &Error{Op: op, Message: "missing reference, amount or status", Err: ErrMalformed}
	}
	if txn.Status != "success" {
		return nil, &Error{Op: op, Status: txn.Status, Err: ErrRejected}
	}

	return &VerifyResult{Transaction: txn, Raw: env.Data}, nil
}

// InitializeTransaction starts a hosted checkout for req.Reference.
func (c *Client) InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	const op = "initialize"

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal initialize request: %w", err)
	}

	env, err := c.do(ctx, op, http.MethodPost, "/transaction/initialize", body)
	if err != nil {
		return nil, err
	}

	var result InitializeResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return nil, &Error{Op: op, Message: err.Error(), Err: ErrMalformed}
	}
	if result.AuthorizationURL == "" || result.Reference == "" {
		return nil, &Error{Op: op, Message: "missing authorization_url or reference", Err: ErrMalformed}
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte) (*envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Op: op, Err: ErrTimeout}
		}
		return nil, &Error{Op: op, Message: err.Error(), Err: ErrTransport}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Op: op, Err: ErrTimeout}
		}
		return nil, &Error{Op: op, Message: err.Error(), Err: ErrTransport}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &Error{Op: op, Message: fmt.Sprintf("http %d: non-JSON body", resp.StatusCode), Err: ErrMalformed}
	}
	if !env.Status {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("http %d", resp.StatusCode)
		}
		return nil, &Error{Op: op, Message: msg, Err: ErrRejected}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, &Error{Op: op, Message: "missing data", Err: ErrMalformed}
	}
	return &env, nil
}

// ComputeSignature returns the hex HMAC-SHA512 of body keyed with the secret key.
func (c *Client) ComputeSignature(body []byte) string {
	return Sign(c.secretKey, body)
}

// VerifySignature checks a webhook signature in constant time.
func (c *Client) VerifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	expected := c.ComputeSignature(body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
