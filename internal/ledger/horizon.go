package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"

	"github.com/punchamoorthee/a2urelay/internal/domain"
)

const txTimeoutSeconds = 300

// SubmitError is returned when a signed transaction could not be accepted by the ledger.
// Hash is the precomputed transaction hash, kept so an operator can reconcile ambiguous
// outcomes such as timeouts.
type SubmitError struct {
	Hash        string
	ResultCodes string
	Err         error
}

func (e *SubmitError) Error() string {
	if e.ResultCodes != "" {
		return fmt.Sprintf("ledger submission failed (%s): %v", e.ResultCodes, e.Err)
	}
	return fmt.Sprintf("ledger submission failed: %v", e.Err)
}

func (e *SubmitError) Unwrap() []error { return []error{domain.ErrLedgerSubmission, e.Err} }

// HorizonClient talks to a Horizon server and signs with the application key.
// It is safe for concurrent use: submissions from the signing account are serialized
// so no two transactions are built on the same sequence number.
type HorizonClient struct {
	horizon    *horizonclient.Client
	signer     *keypair.Full
	passphrase string
	baseFee    int64

	// submit is a one-slot semaphore guarding lastSeq.
	submit  chan struct{}
	lastSeq int64
}

// NewHorizonClient parses the application secret seed and prepares a Horizon client
// whose HTTP calls are bounded by timeout.
func NewHorizonClient(horizonURL, passphrase, secretSeed string, baseFee int64, timeout time.Duration) (*HorizonClient, error) {
	kp, err := keypair.ParseFull(secretSeed)
	if err != nil {
		return nil, fmt.Errorf("invalid application secret key: %w", err)
	}
	if baseFee < txnbuild.MinBaseFee {
		baseFee = txnbuild.MinBaseFee
	}
	return &HorizonClient{
		horizon: &horizonclient.Client{
			HorizonURL: horizonURL,
			HTTP:       &http.Client{Timeout: timeout},
		},
		signer:     kp,
		passphrase: passphrase,
		baseFee:    baseFee,
		submit:     make(chan struct{}, 1),
	}, nil
}

func (c *HorizonClient) SourceAddress() string { return c.signer.Address() }

func (c *HorizonClient) BaseFee() int64 { return c.baseFee }

// AccountExists treats a Horizon 404 as "not activated"; every other failure is returned.
func (c *HorizonClient) AccountExists(ctx context.Context, address string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := c.horizon.AccountDetail(horizonclient.AccountRequest{AccountID: address})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("account lookup %s: %w", address, err)
}

// LoadAccount fetches the sequence number and native balance of address.
func (c *HorizonClient) LoadAccount(ctx context.Context, address string) (*domain.SourceAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acc, err := c.horizon.AccountDetail(horizonclient.AccountRequest{AccountID: address})
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", address, err)
	}
	seq, err := acc.GetSequenceNumber()
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", address, err)
	}
	src := &domain.SourceAccount{Address: address, Sequence: seq}
	for _, b := range acc.Balances {
		if b.Type == "native" {
			src.NativeBalance = b.Balance
			break
		}
	}
	return src, nil
}

// SubmitPayment builds a single native payment from src, signs it and submits it.
// src.Sequence is a lower bound: the client continues from the last sequence it had
// accepted, and on tx_bad_seq reloads the account and signs once more, which is safe
// because a transaction rejected for its sequence was never applied.
func (c *HorizonClient) SubmitPayment(ctx context.Context, src *domain.SourceAccount, p domain.LedgerPayment) (string, error) {
	select {
	case c.submit <- struct{}{}:
	case <-ctx.Done():
		return "", &SubmitError{Err: ctx.Err()}
	}
	defer func() { <-c.submit }()

	seq := max(src.Sequence, c.lastSeq)
	hash, err := c.signAndSubmit(src.Address, seq, p)
	if err != nil && isBadSequence(err) {
		acc, lErr := c.LoadAccount(ctx, src.Address)
		if lErr != nil {
			return "", err
		}
		log.Printf("[WARN] sequence %d for %s rejected, retrying from %d", seq+1, src.Address, acc.Sequence)
		seq = acc.Sequence
		hash, err = c.signAndSubmit(src.Address, seq, p)
	}
	if err != nil {
		return "", err
	}
	c.lastSeq = seq + 1
	return hash, nil
}

func (c *HorizonClient) signAndSubmit(source string, seq int64, p domain.LedgerPayment) (string, error) {
	account := txnbuild.SimpleAccount{AccountID: source, Sequence: seq}
	params := txnbuild.TransactionParams{
		SourceAccount:        &account,
		IncrementSequenceNum: true,
		BaseFee:              c.baseFee,
		Operations: []txnbuild.Operation{&txnbuild.Payment{
			Destination: p.Destination,
			Amount:      p.Amount,
			Asset:       txnbuild.NativeAsset{},
		}},
		Preconditions: txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(txTimeoutSeconds)},
	}
	if memo := TruncateMemo(p.Memo); memo != "" {
		params.Memo = txnbuild.MemoText(memo)
	}

	tx, err := txnbuild.NewTransaction(params)
	if err != nil {
		return "", &SubmitError{Err: fmt.Errorf("build transaction: %w", err)}
	}
	tx, err = tx.Sign(c.passphrase, c.signer)
	if err != nil {
		return "", &SubmitError{Err: fmt.Errorf("sign transaction: %w", err)}
	}
	hash, err := tx.HashHex(c.passphrase)
	if err != nil {
		return "", &SubmitError{Err: fmt.Errorf("hash transaction: %w", err)}
	}

	resp, err := c.horizon.SubmitTransaction(tx)
	if err != nil {
		return "", &SubmitError{Hash: hash, ResultCodes: resultCodes(err), Err: err}
	}
	if resp.Hash != "" {
		hash = resp.Hash
	}
	return hash, nil
}

func isBadSequence(err error) bool {
	var subErr *SubmitError
	return errors.As(err, &subErr) && strings.HasPrefix(subErr.ResultCodes, "tx_bad_seq")
}

func isNotFound(err error) bool {
	if horizonclient.IsNotFoundError(err) {
		return true
	}
	if hErr := horizonclient.GetError(err); hErr != nil {
		return hErr.Problem.Status == http.StatusNotFound
	}
	return false
}

func resultCodes(err error) string {
	hErr := horizonclient.GetError(err)
	if hErr == nil {
		return ""
	}
	codes, cErr := hErr.ResultCodes()
	if cErr != nil || codes == nil {
		return ""
	}
	if len(codes.OperationCodes) > 0 {
		return fmt.Sprintf("%s %v", codes.TransactionCode, codes.OperationCodes)
	}
	return codes.TransactionCode
}
