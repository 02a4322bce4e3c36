package service

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/punchamoorthee/a2urelay/internal/domain"
)

const (
	sourceAddr = "GCV2XK5LVOV2XK5LVOV2XK5LVOV2XK5LVOV2XK5LVOV2XK5LVOV2WIHP"
	baseAddr   = "GAAQEAYEAUDAOCAJBIFQYDIOB4IBCEQTCQKRMFYYDENBWHA5DYPSABOV"
	muxedAddr  = "MAAQEAYEAUDAOCAJBIFQYDIOB4IBCEQTCQKRMFYYDENBWHA5DYPSAAAAAAAAAAAE2LAOE"
)

// MockLedger implements Ledger with overridable behaviour and call counters.
type MockLedger struct {
	AccountExistsFunc func(ctx context.Context, address string) (bool, error)
	LoadAccountFunc   func(ctx context.Context, address string) (*domain.SourceAccount, error)
	SubmitPaymentFunc func(ctx context.Context, src *domain.SourceAccount, p domain.LedgerPayment) (string, error)

	mu       sync.Mutex
	submits  []domain.LedgerPayment
	lookups  int
	accounts int
}

func (m *MockLedger) SourceAddress() string { return sourceAddr }

func (m *MockLedger) BaseFee() int64 { return 100 }

func (m *MockLedger) AccountExists(ctx context.Context, address string) (bool, error) {
	m.mu.Lock()
	m.lookups++
	m.mu.Unlock()
	if m.AccountExistsFunc != nil {
		return m.AccountExistsFunc(ctx, address)
	}
	return true, nil
}

func (m *MockLedger) LoadAccount(ctx context.Context, address string) (*domain.SourceAccount, error) {
	m.mu.Lock()
	m.accounts++
	m.mu.Unlock()
	if m.LoadAccountFunc != nil {
		return m.LoadAccountFunc(ctx, address)
	}
	return &domain.SourceAccount{Address: address, Sequence: 1, NativeBalance: "100.0000000"}, nil
}

func (m *MockLedger) SubmitPayment(ctx context.Context, src *domain.SourceAccount, p domain.LedgerPayment) (string, error) {
	m.mu.Lock()
	m.submits = append(m.submits, p)
	m.mu.Unlock()
	if m.SubmitPaymentFunc != nil {
		return m.SubmitPaymentFunc(ctx, src, p)
	}
	return "txhash-1", nil
}

func (m *MockLedger) Submits() []domain.LedgerPayment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.LedgerPayment(nil), m.submits...)
}

func (m *MockLedger) Lookups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups
}

// MockProcessor implements Processor.
type MockProcessor struct {
	CreateFunc   func(ctx context.Context, args domain.CreatePaymentArgs) (domain.ProcessorResult, error)
	ApproveFunc  func(ctx context.Context, paymentID string) (domain.ProcessorResult, error)
	CompleteFunc func(ctx context.Context, paymentID, txHash string) (domain.ProcessorResult, error)
	GetFunc      func(ctx context.Context, paymentID string) (domain.ProcessorResult, error)

	mu        sync.Mutex
	creates   []domain.CreatePaymentArgs
	approves  []string
	completes []string
	gets      []string
}

func (m *MockProcessor) Create(ctx context.Context, args domain.CreatePaymentArgs) (domain.ProcessorResult, error) {
	m.mu.Lock()
	m.creates = append(m.creates, args)
	m.mu.Unlock()
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, args)
	}
	return domain.ProcessorResult{PaymentID: "pi-1", Status: "created", Raw: json.RawMessage(`{"identifier":"pi-1"}`)}, nil
}

func (m *MockProcessor) Approve(ctx context.Context, paymentID string) (domain.ProcessorResult, error) {
	m.mu.Lock()
	m.approves = append(m.approves, paymentID)
	m.mu.Unlock()
	if m.ApproveFunc != nil {
		return m.ApproveFunc(ctx, paymentID)
	}
	return domain.ProcessorResult{PaymentID: paymentID, Status: "approved", Raw: json.RawMessage(`{"approved":true}`)}, nil
}

func (m *MockProcessor) Complete(ctx context.Context, paymentID, txHash string) (domain.ProcessorResult, error) {
	m.mu.Lock()
	m.completes = append(m.completes, paymentID+"/"+txHash)
	m.mu.Unlock()
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, paymentID, txHash)
	}
	return domain.ProcessorResult{PaymentID: paymentID, Status: "completed", Raw: json.RawMessage(`{"completed":true}`)}, nil
}

func (m *MockProcessor) Get(ctx context.Context, paymentID string) (domain.ProcessorResult, error) {
	m.mu.Lock()
	m.gets = append(m.gets, paymentID)
	m.mu.Unlock()
	if m.GetFunc != nil {
		return m.GetFunc(ctx, paymentID)
	}
	return domain.ProcessorResult{PaymentID: paymentID, Status: "verified", Raw: json.RawMessage(`{"developer_completed":false}`)}, nil
}

func (m *MockProcessor) counts() (creates, approves, completes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.creates), len(m.approves), len(m.completes)
}
