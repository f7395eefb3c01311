package billing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/usagerecord"
	"go.uber.org/zap"
)

// StripeConfig holds configuration for the Stripe billing provider
type StripeConfig struct {
	// SecretKey is the Stripe secret API key (sk_test_xxx or sk_live_xxx)
	SecretKey string `json:"secret_key" mapstructure:"secret_key"`

	// IsTestMode indicates if using Stripe test mode
	IsTestMode bool `json:"is_test_mode" mapstructure:"is_test_mode"`
}

// Validate validates the Stripe configuration
func (c *StripeConfig) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("stripe: secret key is required")
	}

	// Validate key format
	if c.IsTestMode {
		if len(c.SecretKey) > 7 && c.SecretKey[:7] != "sk_test" {
			return fmt.Errorf("stripe: test mode enabled but secret key is not a test key")
		}
	} else {
		if len(c.SecretKey) > 7 && c.SecretKey[:7] != "sk_live" {
			return fmt.Errorf("stripe: live mode enabled but secret key is not a live key")
		}
	}

	return nil
}

// InitStripeClient initializes the Stripe client with the configured API key
func (c *StripeConfig) InitStripeClient() {
	stripe.Key = c.SecretKey
}

// StripeAdapter reports overage quantities against Stripe metered
// subscription items
type StripeAdapter struct {
	config *StripeConfig
	logger *zap.Logger
}

var _ Provider = (*StripeAdapter)(nil)

// NewStripeAdapter creates a new Stripe adapter
func NewStripeAdapter(config *StripeConfig, logger *zap.Logger) (*StripeAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	config.InitStripeClient()

	return &StripeAdapter{
		config: config,
		logger: logger,
	}, nil
}

// ReportOverage submits an absolute overage total for a subscription item
func (a *StripeAdapter) ReportOverage(ctx context.Context, input OverageReportInput) (*OverageReportOutput, error) {
	a.logger.Debug("Reporting overage to Stripe",
		zap.String("tenant_id", input.TenantID.String()),
		zap.String("subscription_item_id", input.SubscriptionItemID),
		zap.Int64("quantity", input.Quantity))

	if input.SubscriptionItemID == "" {
		return nil, &ProviderError{
			Operation: "report_overage",
			Err:       fmt.Errorf("stripe: subscription item ID is required"),
		}
	}
	if input.Quantity < 0 {
		return nil, &ProviderError{
			Operation: "report_overage",
			Err:       fmt.Errorf("stripe: quantity cannot be negative"),
		}
	}

	params := &stripe.UsageRecordParams{
		SubscriptionItem: stripe.String(input.SubscriptionItemID),
		Quantity:         stripe.Int64(input.Quantity),
		Action:           stripe.String(ActionSet),
	}
	params.Context = ctx

	if !input.Timestamp.IsZero() {
		params.Timestamp = stripe.Int64(input.Timestamp.Unix())
	}

	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}

	record, err := usagerecord.New(params)
	if err != nil {
		transient := isTransientStripeError(err)
		a.logger.Error("Failed to report overage to Stripe",
			zap.String("tenant_id", input.TenantID.String()),
			zap.String("subscription_item_id", input.SubscriptionItemID),
			zap.Bool("transient", transient),
			zap.Error(err))
		return nil, &ProviderError{
			Operation: "report_overage",
			Transient: transient,
			Err:       err,
		}
	}

	a.logger.Info("Reported overage to Stripe",
		zap.String("tenant_id", input.TenantID.String()),
		zap.String("usage_record_id", record.ID),
		zap.String("subscription_item_id", record.SubscriptionItem),
		zap.Int64("quantity", record.Quantity))

	return &OverageReportOutput{
		ProviderRecordID:   record.ID,
		SubscriptionItemID: record.SubscriptionItem,
		Quantity:           record.Quantity,
		Timestamp:          time.Unix(record.Timestamp, 0),
	}, nil
}

// isTransientStripeError classifies a Stripe call failure. Rate limits,
// server-side errors and timeouts are retryable; invalid requests and
// auth failures are not.
func isTransientStripeError(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == 429 || stripeErr.HTTPStatusCode >= 500 {
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}
