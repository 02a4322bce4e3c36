package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stellar/go/txnbuild"

	"github.com/punchamoorthee/a2urelay/internal/domain"
)

const testSeed = "SADQOBYHA4DQOBYHA4DQOBYHA4DQOBYHA4DQOBYHA4DQOBYHA4DQP54X"

func newHorizonServer(t *testing.T, submitStatus int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/accounts/"+otherBase):
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"type":"https://stellar.org/horizon-errors/not_found","title":"Resource Missing","status":404}`)
		case strings.HasPrefix(r.URL.Path, "/accounts/"):
			id := strings.TrimPrefix(r.URL.Path, "/accounts/")
			fmt.Fprintf(w, `{"id":%q,"account_id":%q,"sequence":"4200","balances":[{"balance":"12.5000000","asset_type":"native"}]}`, id, id)
		case r.URL.Path == "/transactions" && r.Method == http.MethodPost:
			if submitStatus != http.StatusOK {
				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(submitStatus)
				fmt.Fprintf(w, `{"type":"https://stellar.org/horizon-errors/transaction_failed","title":"Transaction Failed","status":%d,"extras":{"result_codes":{"transaction":"tx_failed","operations":["op_underfunded"]}}}`, submitStatus)
				return
			}
			fmt.Fprint(w, `{"hash":"c0ffee","successful":true,"ledger":7}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// sequencedHorizon only accepts a transaction whose sequence is exactly one past the
// account's current sequence, like a real ledger.
type sequencedHorizon struct {
	mu       sync.Mutex
	current  int64
	accepted []int64
}

func newSequencedHorizon(t *testing.T, start int64) (*sequencedHorizon, *httptest.Server) {
	t.Helper()
	h := &sequencedHorizon{current: start}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(r.URL.Path, "/data/"):
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"type":"https://stellar.org/horizon-errors/not_found","title":"Resource Missing","status":404}`)
		case strings.HasPrefix(r.URL.Path, "/accounts/"):
			id := strings.TrimPrefix(r.URL.Path, "/accounts/")
			h.mu.Lock()
			seq := h.current
			h.mu.Unlock()
			fmt.Fprintf(w, `{"id":%q,"account_id":%q,"sequence":"%d","balances":[{"balance":"1000.0000000","asset_type":"native"}]}`, id, id, seq)
		case r.URL.Path == "/transactions" && r.Method == http.MethodPost:
			gtx, err := txnbuild.TransactionFromXDR(r.PostFormValue("tx"))
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			tx, _ := gtx.Transaction()
			h.mu.Lock()
			defer h.mu.Unlock()
			if tx.SequenceNumber() != h.current+1 {
				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"type":"https://stellar.org/horizon-errors/transaction_failed","title":"Transaction Failed","status":400,"extras":{"result_codes":{"transaction":"tx_bad_seq"}}}`)
				return
			}
			h.current++
			h.accepted = append(h.accepted, h.current)
			fmt.Fprintf(w, `{"hash":"tx-%d","successful":true,"ledger":7}`, h.current)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return h, srv
}

func newTestHorizonClient(t *testing.T, url string) *HorizonClient {
	t.Helper()
	c, err := NewHorizonClient(url, "Test SDF Network ; September 2015", testSeed, 100, 5*time.Second)
	if err != nil {
		t.Fatalf("NewHorizonClient: %v", err)
	}
	return c
}

func TestNewHorizonClientRejectsBadSeed(t *testing.T) {
	if _, err := NewHorizonClient("http://localhost", "x", "not-a-seed", 100, time.Second); err == nil {
		t.Fatal("expected error for malformed seed")
	}
}

func TestHorizonAccountExists(t *testing.T) {
	c := newTestHorizonClient(t, newHorizonServer(t, http.StatusOK).URL)
	ctx := context.Background()

	ok, err := c.AccountExists(ctx, baseAddr)
	if err != nil || !ok {
		t.Fatalf("existing account: %v, %v", ok, err)
	}
	ok, err = c.AccountExists(ctx, otherBase)
	if err != nil || ok {
		t.Fatalf("missing account: %v, %v", ok, err)
	}
}

func TestHorizonLoadAccount(t *testing.T) {
	c := newTestHorizonClient(t, newHorizonServer(t, http.StatusOK).URL)

	acc, err := c.LoadAccount(context.Background(), baseAddr)
	if err != nil {
		t.Fatal(err)
	}
	if acc.Sequence != 4200 || acc.NativeBalance != "12.5000000" || acc.Address != baseAddr {
		t.Fatalf("account = %+v", acc)
	}
}

func TestHorizonSubmitPayment(t *testing.T) {
	c := newTestHorizonClient(t, newHorizonServer(t, http.StatusOK).URL)
	src := &domain.SourceAccount{Address: c.SourceAddress(), Sequence: 4200}

	hash, err := c.SubmitPayment(context.Background(), src, domain.LedgerPayment{
		Destination: baseAddr,
		Amount:      "0.5",
		Memo:        "a memo that is far longer than twenty eight bytes",
	})
	if err != nil {
		t.Fatal(err)
	}
	if hash != "c0ffee" {
		t.Fatalf("hash = %s", hash)
	}
}

func TestHorizonSubmitPaymentFailure(t *testing.T) {
	c := newTestHorizonClient(t, newHorizonServer(t, http.StatusBadRequest).URL)
	src := &domain.SourceAccount{Address: c.SourceAddress(), Sequence: 1}

	_, err := c.SubmitPayment(context.Background(), src, domain.LedgerPayment{Destination: baseAddr, Amount: "1", Memo: "m"})
	if !errors.Is(err, domain.ErrLedgerSubmission) {
		t.Fatalf("err = %v, want ledger submission error", err)
	}
	var subErr *SubmitError
	if !errors.As(err, &subErr) {
		t.Fatalf("err %T is not *SubmitError", err)
	}
	if subErr.Hash == "" {
		t.Error("precomputed hash missing from submit error")
	}
	if !strings.Contains(subErr.ResultCodes, "tx_failed") {
		t.Errorf("result codes = %q", subErr.ResultCodes)
	}
}

func TestMockClient(t *testing.T) {
	m := NewMockClient(baseAddr, "1000", 100)
	ctx := context.Background()

	ok, err := m.AccountExists(ctx, otherBase)
	if err != nil || !ok {
		t.Fatalf("AccountExists = %v, %v", ok, err)
	}
	src, err := m.LoadAccount(ctx, m.SourceAddress())
	if err != nil || src.NativeBalance != "1000" {
		t.Fatalf("LoadAccount = %+v, %v", src, err)
	}
	p := domain.LedgerPayment{Destination: otherBase, Amount: "1"}
	h1, err := m.SubmitPayment(ctx, src, p)
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := m.SubmitPayment(ctx, src, p)
	if h1 == h2 || len(h1) != 64 {
		t.Fatalf("hashes %s %s", h1, h2)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := m.SubmitPayment(cancelled, src, p); !errors.Is(err, domain.ErrLedgerSubmission) {
		t.Fatalf("cancelled submit err = %v", err)
	}
}

func TestHorizonSubmitPaymentConcurrentSameSnapshot(t *testing.T) {
	h, srv := newSequencedHorizon(t, 4200)
	c := newTestHorizonClient(t, srv.URL)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		// Every payment starts from the same account snapshot.
		src, err := c.LoadAccount(ctx, c.SourceAddress())
		if err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func(i int, src *domain.SourceAccount) {
			defer wg.Done()
			_, errs[i] = c.SubmitPayment(ctx, src, domain.LedgerPayment{Destination: baseAddr, Amount: "1", Memo: fmt.Sprintf("p%d", i)})
		}(i, src)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("payment %d: %v", i, err)
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != 4200+n || len(h.accepted) != n {
		t.Fatalf("ledger sequence = %d, accepted %v", h.current, h.accepted)
	}
}

func TestHorizonSubmitPaymentRecoversFromStaleSequence(t *testing.T) {
	h, srv := newSequencedHorizon(t, 4210)
	c := newTestHorizonClient(t, srv.URL)

	// Another signer advanced the account after this snapshot was taken.
	src := &domain.SourceAccount{Address: c.SourceAddress(), Sequence: 4200}
	hash, err := c.SubmitPayment(context.Background(), src, domain.LedgerPayment{Destination: baseAddr, Amount: "1", Memo: "m"})
	if err != nil {
		t.Fatal(err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if hash != "tx-4211" || h.current != 4211 {
		t.Fatalf("hash = %s, sequence = %d", hash, h.current)
	}
}
