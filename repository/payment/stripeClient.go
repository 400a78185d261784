package payment

import (
	"errors"

	stripe "github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/paymentintent"
	"github.com/stripe/stripe-go/refund"

	"github.com/MiladFarazian/park-and-sync-sub004/util/httpx"
)

// ErrNoPaymentMethod distinguishes "caller never attached a method" from
// a processor decline.
var ErrNoPaymentMethod = errors.New("no stored payment method")

type stripeRepo struct{}

func NewStripe(apiKey string) Repo {
	stripe.Key = apiKey
	stripe.SetHTTPClient(httpx.Client())
	return &stripeRepo{}
}

func (s *stripeRepo) Charge(req ChargeReq) (*ChargeResp, error) {
	if req.MethodRef == "" {
		return nil, ErrNoPaymentMethod
	}
	currency := req.Currency
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(currency),
		PaymentMethod: stripe.String(req.MethodRef),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Description:   stripe.String(req.Description),
	}
	if req.CustomerRef != "" {
		params.Customer = stripe.String(req.CustomerRef)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, err
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, errors.New("payment not captured: " + string(pi.Status))
	}
	return &ChargeResp{Ref: pi.ID}, nil
}

func (s *stripeRepo) Refund(paymentRef string, amountCents int64) error {
	_, err := refund.New(&stripe.RefundParams{
		PaymentIntent: stripe.String(paymentRef),
		Amount:        stripe.Int64(amountCents),
	})
	return err
}
