package domain

import "time"

// Outcome messages recorded when an account is skipped.
const (
	MsgAutomationDisabled = "automation not enabled on this account"
	MsgPairNotAllowed     = "automation not enabled on this token pair"
	MsgNoVault            = "no vault found for this account"
)

// AccountOutcome is the per-account record of how a signal was (or was not)
// acted upon. Exactly one exists per (signal, account) pair.
type AccountOutcome struct {
	ID                string    `json:"id"`
	SignalID          string    `json:"signalId"`
	AccountID         string    `json:"accountId"`
	AccountAddress    string    `json:"accountAddress"`
	Direction         Direction `json:"signal"`
	Symbol            string    `json:"symbol"`
	RequestedQuantity float64   `json:"requestedQuantity"`
	Quantity          float64   `json:"quantity"`
	Confidence        float64   `json:"confidenceScore"`
	EventID           int64     `json:"eventId"`
	Rationale         string    `json:"motivation"`
	WasReviewed       bool      `json:"wasRead"`
	WasExecuted       bool      `json:"wasTriggered"`
	TxHash            string    `json:"txHash,omitempty"`
	Message           string    `json:"automationMessage,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// OutcomeFor builds the initial outcome row for an account, echoing the
// signal fields.
func OutcomeFor(sig Signal, acct Account, quantity float64) AccountOutcome {
	return AccountOutcome{
		SignalID:          sig.ID,
		AccountID:         acct.ID,
		AccountAddress:    acct.Address,
		Direction:         sig.Direction,
		Symbol:            sig.Symbol,
		RequestedQuantity: sig.Quantity,
		Quantity:          quantity,
		Confidence:        sig.Confidence,
		EventID:           sig.EventID,
		Rationale:         sig.Rationale,
	}
}

// OutcomeEvent is published on the signal bus whenever an outcome settles.
type OutcomeEvent struct {
	Type    string         `json:"type"`
	Outcome AccountOutcome `json:"outcome"`
}
