package processor

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/punchamoorthee/a2urelay/internal/domain"
)

// MockClient is the explicit PROCESSOR_MODE=mock processor. It accepts every call and
// remembers which payments it completed.
type MockClient struct {
	mu        sync.Mutex
	completed map[string]string
}

func NewMockClient() *MockClient { return &MockClient{completed: map[string]string{}} }

func (*MockClient) Create(ctx context.Context, args domain.CreatePaymentArgs) (domain.ProcessorResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ProcessorResult{}, &Error{Op: "create", Err: err}
	}
	id := "mock-" + uuid.NewString()
	raw, _ := json.Marshal(map[string]any{"identifier": id, "amount": args.Amount, "user_uid": args.UserReference, "mock": true})
	return domain.ProcessorResult{PaymentID: id, Status: "created", Raw: raw}, nil
}

func (*MockClient) Approve(ctx context.Context, paymentID string) (domain.ProcessorResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ProcessorResult{}, &Error{Op: "approve", Err: err}
	}
	raw, _ := json.Marshal(map[string]any{"identifier": paymentID, "mock": true})
	return domain.ProcessorResult{PaymentID: paymentID, Status: "approved", Raw: raw}, nil
}

func (m *MockClient) Complete(ctx context.Context, paymentID, txHash string) (domain.ProcessorResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ProcessorResult{}, &Error{Op: "complete", Err: err}
	}
	m.mu.Lock()
	m.completed[paymentID] = txHash
	m.mu.Unlock()
	raw, _ := json.Marshal(map[string]any{"identifier": paymentID, "txid": txHash, "mock": true})
	return domain.ProcessorResult{PaymentID: paymentID, Status: "completed", Raw: raw}, nil
}

func (m *MockClient) Get(ctx context.Context, paymentID string) (domain.ProcessorResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ProcessorResult{}, &Error{Op: "get", Err: err}
	}
	m.mu.Lock()
	txHash, done := m.completed[paymentID]
	m.mu.Unlock()
	status := "approved"
	if done {
		status = "completed"
	}
	raw, _ := json.Marshal(map[string]any{"identifier": paymentID, "txid": txHash, "mock": true})
	return domain.ProcessorResult{PaymentID: paymentID, Status: status, Raw: raw}, nil
}
