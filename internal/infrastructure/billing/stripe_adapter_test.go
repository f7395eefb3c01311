package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/form"
	"go.uber.org/zap"
)

// mockBackend implements stripe.Backend for testing
type mockBackend struct {
	handler func(method, path string, params stripe.ParamsContainer) ([]byte, error)
}

func (m *mockBackend) Call(method, path, key string, params stripe.ParamsContainer, v stripe.LastResponseSetter) error {
	data, err := m.handler(method, path, params)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (m *mockBackend) CallStreaming(method, path, key string, params stripe.ParamsContainer, v stripe.StreamingLastResponseSetter) error {
	return nil
}

func (m *mockBackend) CallRaw(method, path, key string, body *form.Values, params *stripe.Params, v stripe.LastResponseSetter) error {
	return nil
}

func (m *mockBackend) CallMultipart(method, path, key, boundary string, body *bytes.Buffer, params *stripe.Params, v stripe.LastResponseSetter) error {
	return nil
}

func (m *mockBackend) SetMaxNetworkRetries(maxNetworkRetries int64) {}

// testConfig returns a valid test configuration
func testConfig() *StripeConfig {
	return &StripeConfig{
		SecretKey:  "sk_test_123456789",
		IsTestMode: true,
	}
}

// setupMockBackend sets up a mock Stripe backend for testing
func setupMockBackend(handler func(method, path string, params stripe.ParamsContainer) ([]byte, error)) func() {
	mock := &mockBackend{handler: handler}
	stripe.SetBackend(stripe.APIBackend, mock)
	return func() {
		// Reset to default backend after test
		stripe.SetBackend(stripe.APIBackend, nil)
	}
}

func TestNewStripeAdapter(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		adapter, err := NewStripeAdapter(testConfig(), zap.NewNop())

		require.NoError(t, err)
		assert.NotNil(t, adapter)
	})

	t.Run("missing secret key", func(t *testing.T) {
		_, err := NewStripeAdapter(&StripeConfig{IsTestMode: true}, zap.NewNop())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "secret key is required")
	})

	t.Run("test mode with live key", func(t *testing.T) {
		cfg := &StripeConfig{SecretKey: "sk_live_123456789", IsTestMode: true}

		_, err := NewStripeAdapter(cfg, zap.NewNop())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a test key")
	})

	t.Run("live mode with test key", func(t *testing.T) {
		cfg := &StripeConfig{SecretKey: "sk_test_123456789", IsTestMode: false}

		_, err := NewStripeAdapter(cfg, zap.NewNop())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a live key")
	})
}

func TestStripeAdapter_ReportOverage(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("reports usage record with set action", func(t *testing.T) {
		var capturedParams *stripe.UsageRecordParams
		cleanup := setupMockBackend(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
			capturedParams = params.(*stripe.UsageRecordParams)
			return json.Marshal(map[string]any{
				"id":                "mbur_1",
				"subscription_item": "si_email",
				"quantity":          5,
				"timestamp":         time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC).Unix(),
			})
		})
		defer cleanup()

		adapter, err := NewStripeAdapter(testConfig(), zap.NewNop())
		require.NoError(t, err)

		out, err := adapter.ReportOverage(ctx, OverageReportInput{
			TenantID:           tenantID,
			SubscriptionItemID: "si_email",
			Quantity:           5,
			Timestamp:          time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
			IdempotencyKey:     "overage:key:1",
		})

		require.NoError(t, err)
		assert.Equal(t, "mbur_1", out.ProviderRecordID)
		assert.Equal(t, "si_email", out.SubscriptionItemID)
		assert.Equal(t, int64(5), out.Quantity)

		require.NotNil(t, capturedParams)
		assert.Equal(t, ActionSet, *capturedParams.Action)
		assert.Equal(t, int64(5), *capturedParams.Quantity)
		require.NotNil(t, capturedParams.IdempotencyKey)
		assert.Equal(t, "overage:key:1", *capturedParams.IdempotencyKey)
	})

	t.Run("missing subscription item is permanent", func(t *testing.T) {
		adapter, err := NewStripeAdapter(testConfig(), zap.NewNop())
		require.NoError(t, err)

		_, err = adapter.ReportOverage(ctx, OverageReportInput{
			TenantID: tenantID,
			Quantity: 5,
		})

		require.Error(t, err)
		assert.False(t, IsTransient(err))
	})

	t.Run("negative quantity is permanent", func(t *testing.T) {
		adapter, err := NewStripeAdapter(testConfig(), zap.NewNop())
		require.NoError(t, err)

		_, err = adapter.ReportOverage(ctx, OverageReportInput{
			TenantID:           tenantID,
			SubscriptionItemID: "si_email",
			Quantity:           -1,
		})

		require.Error(t, err)
		assert.False(t, IsTransient(err))
	})

	t.Run("rate limit is transient", func(t *testing.T) {
		cleanup := setupMockBackend(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
			return nil, &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests, Msg: "rate limited"}
		})
		defer cleanup()

		adapter, err := NewStripeAdapter(testConfig(), zap.NewNop())
		require.NoError(t, err)

		_, err = adapter.ReportOverage(ctx, OverageReportInput{
			TenantID:           tenantID,
			SubscriptionItemID: "si_email",
			Quantity:           5,
		})

		require.Error(t, err)
		assert.True(t, IsTransient(err))
	})

	t.Run("server error is transient", func(t *testing.T) {
		cleanup := setupMockBackend(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
			return nil, &stripe.Error{HTTPStatusCode: http.StatusInternalServerError, Msg: "server error"}
		})
		defer cleanup()

		adapter, err := NewStripeAdapter(testConfig(), zap.NewNop())
		require.NoError(t, err)

		_, err = adapter.ReportOverage(ctx, OverageReportInput{
			TenantID:           tenantID,
			SubscriptionItemID: "si_email",
			Quantity:           5,
		})

		require.Error(t, err)
		assert.True(t, IsTransient(err))
	})

	t.Run("invalid request is permanent", func(t *testing.T) {
		cleanup := setupMockBackend(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
			return nil, &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Msg: "no such subscription item"}
		})
		defer cleanup()

		adapter, err := NewStripeAdapter(testConfig(), zap.NewNop())
		require.NoError(t, err)

		_, err = adapter.ReportOverage(ctx, OverageReportInput{
			TenantID:           tenantID,
			SubscriptionItemID: "si_missing",
			Quantity:           5,
		})

		require.Error(t, err)
		assert.False(t, IsTransient(err))
	})

	t.Run("deadline exceeded is transient", func(t *testing.T) {
		cleanup := setupMockBackend(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
			return nil, context.DeadlineExceeded
		})
		defer cleanup()

		adapter, err := NewStripeAdapter(testConfig(), zap.NewNop())
		require.NoError(t, err)

		_, err = adapter.ReportOverage(ctx, OverageReportInput{
			TenantID:           tenantID,
			SubscriptionItemID: "si_email",
			Quantity:           5,
		})

		require.Error(t, err)
		assert.True(t, IsTransient(err))
	})
}
