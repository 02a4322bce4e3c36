package domain

import (
	"encoding/json"
	"fmt"
)

// Status is the lifecycle position of a PaymentRecord.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusSubmitted Status = "submitted"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// rank orders the forward path. Failed sits outside it.
var rank = map[Status]int{
	StatusPending:   1,
	StatusApproved:  2,
	StatusSubmitted: 3,
	StatusCompleted: 4,
}

func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok || s == StatusFailed
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next keeps the status forward-only.
// Any non-terminal status may jump to failed; otherwise next must rank strictly higher.
func (s Status) CanTransitionTo(next Status) bool {
	if s.Terminal() || !next.Valid() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return rank[next] > rank[s]
}

// PaymentRecord is the persisted state of one A2U payment. Identifier is the idempotency key.
type PaymentRecord struct {
	Identifier         string          `json:"identifier"`
	UserReference      string          `json:"user_reference,omitempty"`
	RawAddress         string          `json:"raw_address"`
	DestinationAddress string          `json:"destination_address"`
	SourceAddress      string          `json:"source_address,omitempty"`
	Amount             string          `json:"amount"`
	Memo               string          `json:"memo,omitempty"`
	Metadata           map[string]any  `json:"metadata,omitempty"`
	Status             Status          `json:"status"`
	ExternalPaymentID  string          `json:"external_payment_id,omitempty"`
	TransactionHash    string          `json:"transaction_hash,omitempty"`
	CreatedAt          int64           `json:"created_at"`
	UpdatedAt          int64           `json:"updated_at"`
	RawResponse        json.RawMessage `json:"raw_response,omitempty"`
}

// RecordUpdate carries the mutable fields of a transition. Empty fields are left untouched.
type RecordUpdate struct {
	Status            Status
	SourceAddress     string
	ExternalPaymentID string
	TransactionHash   string
	RawResponse       json.RawMessage
	UpdatedAt         int64
}

// Apply validates the transition and copies the update onto r.
func (r *PaymentRecord) Apply(u RecordUpdate) error {
	if u.Status != r.Status && !r.Status.CanTransitionTo(u.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, u.Status)
	}
	if u.TransactionHash != "" {
		if r.TransactionHash != "" && r.TransactionHash != u.TransactionHash {
			return fmt.Errorf("%w: transaction hash already set", ErrInvalidTransition)
		}
		if r.TransactionHash == "" && u.Status != StatusSubmitted {
			return fmt.Errorf("%w: transaction hash outside submission", ErrInvalidTransition)
		}
		r.TransactionHash = u.TransactionHash
	}
	r.Status = u.Status
	if u.SourceAddress != "" {
		r.SourceAddress = u.SourceAddress
	}
	if u.ExternalPaymentID != "" {
		r.ExternalPaymentID = u.ExternalPaymentID
	}
	if u.RawResponse != nil {
		r.RawResponse = u.RawResponse
	}
	if u.UpdatedAt != 0 {
		r.UpdatedAt = u.UpdatedAt
	}
	return nil
}

// PaymentRequest is the validated-at-the-edge input to the workflow.
type PaymentRequest struct {
	Identifier    string
	UserReference string
	ToAddress     string
	Amount        string
	Memo          string
	Metadata      map[string]any
}

// CreatePaymentArgs is what the processor needs to open an A2U payment.
type CreatePaymentArgs struct {
	Identifier    string
	UserReference string
	Amount        string
	Memo          string
	Metadata      map[string]any
}

// ProcessorResult is the typed success value of a processor call.
type ProcessorResult struct {
	PaymentID string
	Status    string
	Raw       json.RawMessage
}

// SourceAccount is a loaded ledger account, ready to sign from.
type SourceAccount struct {
	Address       string
	Sequence      int64
	NativeBalance string
}

// LedgerPayment describes a native-asset transfer.
type LedgerPayment struct {
	Destination string
	Amount      string
	Memo        string
}
