package domain

import (
	"errors"
	"strings"
)

var (
	ErrMissingTransactionID = errors.New("notification has no transaction id")
	ErrUnknownOutcome       = errors.New("notification outcome is not recognised")
)

// Outcome is the gateway's reported result, normalised to lower case.
// SSLCommerz sends VALID / FAILED / CANCELLED in the IPN body.
type Outcome string

const (
	OutcomeValid     Outcome = "valid"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// PaymentNotification is the untrusted IPN payload. It is a transient input,
// never persisted as its own entity. TranID must equal an order id.
type PaymentNotification struct {
	TranID     string
	Outcome    Outcome
	ValID      string
	Amount     string
	BankTranID string
	Reason     string
}

// ParseNotification builds a notification from the flat key set the gateway
// posts (or appends as query params). Fails closed: a missing transaction id
// or an outcome outside the known set is an error, not a silent default.
func ParseNotification(fields map[string]string) (*PaymentNotification, error) {
	tranID := strings.TrimSpace(fields["tran_id"])
	if tranID == "" {
		return nil, ErrMissingTransactionID
	}

	outcome := Outcome(strings.ToLower(strings.TrimSpace(fields["status"])))
	switch outcome {
	case OutcomeValid, OutcomeFailed, OutcomeCancelled:
	default:
		return nil, ErrUnknownOutcome
	}

	return &PaymentNotification{
		TranID:     tranID,
		Outcome:    outcome,
		ValID:      strings.TrimSpace(fields["val_id"]),
		Amount:     strings.TrimSpace(fields["amount"]),
		BankTranID: strings.TrimSpace(fields["bank_tran_id"]),
		Reason:     strings.TrimSpace(fields["error"]),
	}, nil
}
