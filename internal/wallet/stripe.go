package wallet

import (
	"fmt"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/paymentintent"
)

// StripeClient wraps the payment intent operations the top-up flow uses.
// An empty API key disables the client; top-ups then credit directly.
type StripeClient struct {
	apiKey string
}

// NewStripeClient creates a new Stripe client
func NewStripeClient(apiKey string) *StripeClient {
	if apiKey != "" {
		stripe.Key = apiKey
	}
	return &StripeClient{apiKey: apiKey}
}

// Enabled reports whether a provider key is configured.
func (s *StripeClient) Enabled() bool {
	return s != nil && s.apiKey != ""
}

// CreatePaymentIntent creates a payment intent for a wallet top-up.
// Amount is in the smallest currency unit.
func (s *StripeClient) CreatePaymentIntent(amount int64, currency, description string, metadata map[string]string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(amount),
		Currency:    stripe.String(currency),
		Description: stripe.String(description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}

	for key, value := range metadata {
		params.AddMetadata(key, value)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return pi, nil
}

// GetPaymentIntent retrieves a payment intent
func (s *StripeClient) GetPaymentIntent(paymentIntentID string) (*stripe.PaymentIntent, error) {
	pi, err := paymentintent.Get(paymentIntentID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	return pi, nil
}
