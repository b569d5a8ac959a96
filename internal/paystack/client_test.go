package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, SecretKey: "sk_test_123", Timeout: time.Second})
}

func TestVerifyTransaction(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/transaction/verify/ref_ok", r.URL.Path)
			assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
			_, _ = io.WriteString(w, `{"status":true,"message":"Verification successful",
				"data":{"id":4099260516,"status":"success","reference":"ref_ok","amount":15500,"currency":"GHS"}}`)
		})

		res, err := c.VerifyTransaction(context.Background(), "ref_ok")
		require.NoError(t, err)
		assert.Equal(t, "success", res.Transaction.Status)
		assert.Equal(t, int64(15500), *res.Transaction.Amount)
		assert.Equal(t, "4099260516", res.Transaction.ID.String())
		assert.NotEmpty(t, res.Raw)
	})

	t.Run("non success status is named", func(t *testing.T) {
		c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"status":true,"data":{"status":"abandoned","reference":"ref_x","amount":15500}}`)
		})

		_, err := c.VerifyTransaction(context.Background(), "ref_x")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRejected)
		assert.Contains(t, err.Error(), "abandoned")
	})

	t.Run("top level status false", func(t *testing.T) {
		c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"status":false,"message":"Transaction reference not found"}`)
		})

		_, err := c.VerifyTransaction(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrRejected)
		assert.Contains(t, err.Error(), "Transaction reference not found")
	})

	t.Run("missing fields are malformed", func(t *testing.T) {
		c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"status":true,"data":{"status":"success","reference":"ref_x"}}`)
		})

		_, err := c.VerifyTransaction(context.Background(), "ref_x")
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("non JSON body", func(t *testing.T) {
		c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, "<html>bad gateway</html>")
		})

		_, err := c.VerifyTransaction(context.Background(), "ref_x")
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		t.Cleanup(srv.Close)
		c := NewClient(Config{BaseURL: srv.URL, SecretKey: "sk", Timeout: 50 * time.Millisecond})

		_, err := c.VerifyTransaction(context.Background(), "slow")
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("unreachable", func(t *testing.T) {
		c := NewClient(Config{BaseURL: "http://127.0.0.1:1", SecretKey: "sk", Timeout: time.Second})

		_, err := c.VerifyTransaction(context.Background(), "ref")
		var gwErr *Error
		require.True(t, errors.As(err, &gwErr))
		assert.True(t, errors.Is(err, ErrTransport) || errors.Is(err, ErrTimeout))
	})
}

func TestInitializeTransaction(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)

		var req InitializeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "buyer@campus.test", req.Email)
		assert.Equal(t, int64(20500), req.Amount)
		assert.Equal(t, "order-1", req.Metadata["order_id"])

		_, _ = io.WriteString(w, `{"status":true,"data":{"authorization_url":"https://checkout.paystack.com/abc",
			"access_code":"abc","reference":"`+req.Reference+`"}}`)
	})

	res, err := c.InitializeTransaction(context.Background(), InitializeRequest{
		Email:     "buyer@campus.test",
		Amount:    20500,
		Reference: "TXN-1",
		Currency:  "GHS",
		Metadata:  map[string]string{"order_id": "order-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paystack.com/abc", res.AuthorizationURL)
	assert.Equal(t, "abc", res.AccessCode)
	assert.Equal(t, "TXN-1", res.Reference)
}

func TestSignature(t *testing.T) {
	c := NewClient(Config{SecretKey: "sk_test_123"})
	body := []byte(`{"event":"charge.success","data":{"reference":"ref_1"}}`)

	sig := c.ComputeSignature(body)
	assert.Len(t, sig, 128)
	assert.True(t, c.VerifySignature(body, sig))
	assert.False(t, c.VerifySignature(body, Sign("other-secret", body)))
	assert.False(t, c.VerifySignature(append(body, ' '), sig))
	assert.False(t, c.VerifySignature(body, ""))
}

func TestParseWebhookEvent(t *testing.T) {
	event, err := ParseWebhookEvent([]byte(`{"event":"refund.processed","data":{"id":"77","transaction_reference":"ref_9","status":"processed"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventRefundProcessed, event.Event)
	assert.Equal(t, "ref_9", event.ProviderReference())

	_, err = ParseWebhookEvent([]byte(`{"data":{}}`))
	assert.Error(t, err)

	_, err = ParseWebhookEvent([]byte(`not json`))
	assert.Error(t, err)
}
