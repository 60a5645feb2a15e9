package payments

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/example/ride-escrow/internal/models"
)

const (
	metaAddress    = "address"
	metaMicroUnits = "micro_units"
)

var ErrNotCaptured = errors.New("payment intent not captured")

// TopUp is a captured card payment that entitles an address to native funds.
type TopUp struct {
	IntentID string
	Address  models.Address
	Amount   uint64
}

// StripeClient is a thin wrapper around stripe-go for PaymentIntent
// hold/capture/cancel flows backing fiat top-ups.
type StripeClient struct{}

// NewStripeClient initializes the stripe client with the STRIPE_API_KEY env var.
func NewStripeClient() *StripeClient {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &StripeClient{}
}

// Hold creates a PaymentIntent with capture_method=manual for a top-up of
// microUnits to addr. It returns the PaymentIntent ID on success.
func (s *StripeClient) Hold(ctx context.Context, amount int64, currency string, addr models.Address, microUnits uint64) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	params.Context = ctx
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	params.AddMetadata(metaAddress, addr.String())
	params.AddMetadata(metaMicroUnits, strconv.FormatUint(microUnits, 10))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// CaptureTopUp finalizes a previously-held PaymentIntent and returns the
// top-up recorded in its metadata.
func (s *StripeClient) CaptureTopUp(ctx context.Context, paymentIntentID string) (TopUp, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	pi, err := paymentintent.Capture(paymentIntentID, params)
	if err != nil {
		return TopUp{}, err
	}
	return topUpFromIntent(pi)
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(paymentIntentID, params)
	return err
}

func topUpFromIntent(pi *stripe.PaymentIntent) (TopUp, error) {
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return TopUp{}, fmt.Errorf("%w: %s is %s", ErrNotCaptured, pi.ID, pi.Status)
	}
	addr, err := models.ParseAddress(pi.Metadata[metaAddress])
	if err != nil {
		return TopUp{}, fmt.Errorf("payment intent %s: %w", pi.ID, err)
	}
	amount, err := strconv.ParseUint(pi.Metadata[metaMicroUnits], 10, 64)
	if err != nil || amount == 0 {
		return TopUp{}, fmt.Errorf("payment intent %s: bad %s metadata %q", pi.ID, metaMicroUnits, pi.Metadata[metaMicroUnits])
	}
	return TopUp{IntentID: pi.ID, Address: addr, Amount: amount}, nil
}
