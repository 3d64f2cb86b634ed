// Package payment talks to the card payment processor. Amounts are in the
// currency's minor unit (satang for THB).
package payment

import "errors"

// ErrNotConfigured is returned when no processor keys are set.
var ErrNotConfigured = errors.New("payment: processor not configured")

// ChargeStatus mirrors the processor's charge lifecycle.
type ChargeStatus string

const (
	StatusPending    ChargeStatus = "pending"
	StatusSuccessful ChargeStatus = "successful"
	StatusFailed     ChargeStatus = "failed"
)

// EventChargeComplete is the webhook key sent once a charge settles.
const EventChargeComplete = "charge.complete"

// ChargeRequest describes a charge to create. Exactly one of Card (a card
// token) or Source (a source id) is expected.
type ChargeRequest struct {
	Amount      int64
	Currency    string
	Description string
	Card        string
	Source      string
	ReturnURI   string
	Metadata    map[string]any
}

// Charge is the processor's view of a charge.
type Charge struct {
	ID             string
	Status         ChargeStatus
	Amount         int64
	Currency       string
	AuthorizeURI   string
	SourceType     string
	FailureCode    string
	FailureMessage string
	Metadata       map[string]any
}

// Event is a verified webhook event. Charge is set for charge.* keys.
type Event struct {
	ID     string
	Key    string
	Charge *Charge
}
