package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/punchamoorthee/a2urelay/internal/domain"
)

// MockClient is the explicit LEDGER_MODE=mock ledger. Every account exists, the source
// balance is fixed, and submissions return a deterministic fake hash without touching a network.
type MockClient struct {
	source  string
	balance string
	baseFee int64

	mu       sync.Mutex
	sequence int64
}

func NewMockClient(source, balance string, baseFee int64) *MockClient {
	return &MockClient{source: source, balance: balance, baseFee: baseFee}
}

func (m *MockClient) SourceAddress() string { return m.source }

func (m *MockClient) BaseFee() int64 { return m.baseFee }

func (m *MockClient) AccountExists(ctx context.Context, address string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (m *MockClient) LoadAccount(ctx context.Context, address string) (*domain.SourceAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	seq := m.sequence
	m.mu.Unlock()
	return &domain.SourceAccount{Address: address, Sequence: seq, NativeBalance: m.balance}, nil
}

func (m *MockClient) SubmitPayment(ctx context.Context, src *domain.SourceAccount, p domain.LedgerPayment) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &SubmitError{Err: err}
	}
	m.mu.Lock()
	m.sequence++
	seq := m.sequence
	m.mu.Unlock()

	sum := sha256.Sum256([]byte(fmt.Sprintf("mock|%s|%d|%s|%s|%s", src.Address, seq, p.Destination, p.Amount, TruncateMemo(p.Memo))))
	return hex.EncodeToString(sum[:]), nil
}
