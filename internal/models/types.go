package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// SendRequest is the payload from the frontend.
type SendRequest struct {
	ToAddress  string          `json:"to_address"`
	Amount     json.RawMessage `json:"amount"`
	Identifier string          `json:"identifier"`
	UID        string          `json:"uid"`
	Memo       string          `json:"memo"`
	Metadata   map[string]any  `json:"metadata"`
}

var errAmountType = errors.New("amount must be a number or numeric string")

// AmountString returns the amount as written by the caller, accepting both
// JSON numbers and quoted strings. An absent amount yields "".
func (r SendRequest) AmountString() (string, error) {
	raw := bytes.TrimSpace(r.Amount)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", errAmountType
		}
		return strings.TrimSpace(s), nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", errAmountType
		}
		return n.String(), nil
	default:
		return "", errAmountType
	}
}

// SendResponse is the canonical success body. Transaction carries the ledger hash.
type SendResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Identifier  string `json:"identifier"`
	Status      string `json:"status,omitempty"`
	Message     string `json:"message,omitempty"`
}

// ErrorResponse is returned on every failure. Duplicate rejections echo the prior state.
type ErrorResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Identifier  string `json:"identifier,omitempty"`
	Status      string `json:"status,omitempty"`
	Transaction string `json:"transaction,omitempty"`
}
