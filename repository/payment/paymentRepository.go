// repository/payment/repo.go
package payment

type ChargeReq struct {
	AmountCents    int64
	Currency       string
	CustomerRef    string
	MethodRef      string
	Description    string
	IdempotencyKey string
}

type ChargeResp struct {
	Ref string
}

type Repo interface {
	// Charge captures AmountCents off-session against a stored payment
	// method. The idempotency key makes retries and racing sweeps safe.
	Charge(req ChargeReq) (*ChargeResp, error)
	Refund(paymentRef string, amountCents int64) error
}
