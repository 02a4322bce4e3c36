package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/a2urelay/internal/domain"
	"github.com/punchamoorthee/a2urelay/internal/ledger"
	"github.com/punchamoorthee/a2urelay/internal/processor"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "a2u_payment_transitions_total",
		Help: "Payment records entering each status",
	}, []string{"status"})

	duplicateRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "a2u_duplicate_requests_total",
		Help: "Requests rejected because their identifier was already recorded",
	})

	balanceCheckSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "a2u_balance_check_skipped_total",
		Help: "Advisory balance checks skipped because the balance could not be read",
	})

	externalCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "a2u_external_call_duration_seconds",
		Help:    "Latency of calls to the ledger and payment processor",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"collaborator", "op"})
)

// PaymentStore persists PaymentRecords. InsertIfAbsent must be atomic and Update must
// only apply when the stored status still equals expected.
type PaymentStore interface {
	FindByIdentifier(ctx context.Context, identifier string) (*domain.PaymentRecord, error)
	InsertIfAbsent(ctx context.Context, rec *domain.PaymentRecord) (bool, error)
	Update(ctx context.Context, identifier string, expected domain.Status, u domain.RecordUpdate) error
}

type Processor interface {
	Create(ctx context.Context, args domain.CreatePaymentArgs) (domain.ProcessorResult, error)
	Approve(ctx context.Context, paymentID string) (domain.ProcessorResult, error)
	Complete(ctx context.Context, paymentID, txHash string) (domain.ProcessorResult, error)
	Get(ctx context.Context, paymentID string) (domain.ProcessorResult, error)
}

// processorCompleted is the ProcessorResult status once the processor recorded completion.
const processorCompleted = "completed"

type Ledger interface {
	SourceAddress() string
	BaseFee() int64
	AccountExists(ctx context.Context, address string) (bool, error)
	LoadAccount(ctx context.Context, address string) (*domain.SourceAccount, error)
	SubmitPayment(ctx context.Context, src *domain.SourceAccount, p domain.LedgerPayment) (string, error)
}

type Options struct {
	// Approve calls the processor's approve endpoint between create and ledger submission.
	Approve bool
	// CallTimeout bounds each call to the ledger or processor. Zero means no extra bound.
	CallTimeout time.Duration
	Now         func() time.Time
}

const persistTimeout = 5 * time.Second

// PaymentService drives each PaymentRecord from intake to completion exactly once per identifier.
type PaymentService struct {
	store     PaymentStore
	processor Processor
	ledger    Ledger
	approve   bool
	timeout   time.Duration
	now       func() time.Time
}

func NewPaymentService(store PaymentStore, p Processor, l Ledger, opts Options) *PaymentService {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &PaymentService{
		store:     store,
		processor: p,
		ledger:    l,
		approve:   opts.Approve,
		timeout:   opts.CallTimeout,
		now:       now,
	}
}

// GenerateIdentifier builds "a2u-<shortUserId>-<unix>". Without a user reference a random
// id stands in so unrelated anonymous requests never collide.
func GenerateIdentifier(userReference string, now time.Time) string {
	short := strings.TrimSpace(userReference)
	if short == "" {
		short = uuid.NewString()
	}
	if r := []rune(short); len(r) > 8 {
		short = string(r[:8])
	}
	return fmt.Sprintf("a2u-%s-%d", short, now.Unix())
}

// Submit runs the whole workflow. When the identifier is already on record the stored
// record is returned together with domain.ErrDuplicateRequest and nothing else happens.
// When the ledger accepted the payment but the processor did not acknowledge completion,
// the record stays submitted and the error wraps domain.ErrCompletionPending.
func (s *PaymentService) Submit(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentRecord, error) {
	now := s.now()
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		identifier = GenerateIdentifier(req.UserReference, now)
	}

	// A known identifier wins over anything else in the request.
	existing, err := s.store.FindByIdentifier(ctx, identifier)
	switch {
	case err == nil:
		return s.duplicate(existing)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	if strings.TrimSpace(req.ToAddress) == "" || strings.TrimSpace(req.Amount) == "" {
		return nil, fmt.Errorf("%w: missing to_address or amount", domain.ErrValidation)
	}
	amount, err := ledger.FormatAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	destination, err := ledger.ResolveAddress(req.ToAddress)
	if err != nil {
		return nil, err
	}

	rec := &domain.PaymentRecord{
		Identifier:         identifier,
		UserReference:      req.UserReference,
		RawAddress:         req.ToAddress,
		DestinationAddress: destination,
		SourceAddress:      s.ledger.SourceAddress(),
		Amount:             amount,
		Memo:               ledger.TruncateMemo(req.Memo),
		Metadata:           req.Metadata,
		Status:             domain.StatusPending,
		CreatedAt:          now.Unix(),
		UpdatedAt:          now.Unix(),
	}

	created, err := s.store.InsertIfAbsent(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !created {
		existing, err := s.store.FindByIdentifier(ctx, identifier)
		if err != nil {
			return nil, err
		}
		return s.duplicate(existing)
	}
	transitionsTotal.WithLabelValues(string(domain.StatusPending)).Inc()
	log.Printf("[INFO] payment %s pending: %s -> %s amount %s", identifier, rec.SourceAddress, destination, amount)

	return s.run(ctx, rec)
}

func (s *PaymentService) duplicate(existing *domain.PaymentRecord) (*domain.PaymentRecord, error) {
	duplicateRequestsTotal.Inc()
	log.Printf("[INFO] duplicate request for %s (status %s)", existing.Identifier, existing.Status)
	return existing, domain.ErrDuplicateRequest
}

// RetryCompletion repeats only the processor completion of a submitted payment.
// It first asks the processor whether an earlier completion already landed, so a
// completion whose response was lost still reaches completed. It never touches the ledger.
func (s *PaymentService) RetryCompletion(ctx context.Context, identifier string) (*domain.PaymentRecord, error) {
	rec, err := s.store.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case domain.StatusCompleted:
		return rec, nil
	case domain.StatusSubmitted:
		if done, ok := s.completedAtProcessor(ctx, rec); ok {
			if err := s.transition(ctx, rec, domain.RecordUpdate{Status: domain.StatusCompleted, RawResponse: done.Raw}); err != nil {
				return rec, err
			}
			log.Printf("[INFO] payment %s already completed at the processor", rec.Identifier)
			return rec, nil
		}
		return s.completeExternal(ctx, rec)
	default:
		return rec, fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidTransition, identifier, rec.Status)
	}
}

// Get is the read-only status lookup.
func (s *PaymentService) Get(ctx context.Context, identifier string) (*domain.PaymentRecord, error) {
	return s.store.FindByIdentifier(ctx, identifier)
}

// completedAtProcessor reports whether the processor already holds the completion.
// A failed lookup is logged and treated as not completed.
func (s *PaymentService) completedAtProcessor(ctx context.Context, rec *domain.PaymentRecord) (domain.ProcessorResult, bool) {
	res, err := callProcessor(s, ctx, "get", func(ctx context.Context) (domain.ProcessorResult, error) {
		return s.processor.Get(ctx, rec.ExternalPaymentID)
	})
	if err != nil {
		log.Printf("[WARN] payment %s: processor lookup failed, retrying completion: %v", rec.Identifier, err)
		return res, false
	}
	return res, res.Status == processorCompleted
}

func (s *PaymentService) run(ctx context.Context, rec *domain.PaymentRecord) (*domain.PaymentRecord, error) {
	exists, err := callLedger(s, ctx, "account_exists", func(ctx context.Context) (bool, error) {
		return s.ledger.AccountExists(ctx, rec.DestinationAddress)
	})
	if err != nil {
		return s.fail(ctx, rec, "check_destination", err)
	}
	if !exists {
		return s.fail(ctx, rec, "check_destination", domain.ErrDestinationNotActivated)
	}

	src, err := callLedger(s, ctx, "load_account", func(ctx context.Context) (*domain.SourceAccount, error) {
		return s.ledger.LoadAccount(ctx, s.ledger.SourceAddress())
	})
	if err != nil {
		return s.fail(ctx, rec, "load_source", err)
	}
	if err := s.checkSourceBalance(rec, src); err != nil {
		return s.fail(ctx, rec, "check_balance", err)
	}

	if err := s.createExternal(ctx, rec); err != nil {
		return s.fail(ctx, rec, "create_external", err)
	}

	if _, err := s.submitLedgerTx(ctx, rec, src); err != nil {
		if rec.TransactionHash != "" {
			return rec, err
		}
		return s.fail(ctx, rec, "submit_ledger", err)
	}

	return s.completeExternal(ctx, rec)
}

// checkSourceBalance is advisory: an unreadable balance is logged and skipped, and the
// ledger's own rejection remains the authority.
func (s *PaymentService) checkSourceBalance(rec *domain.PaymentRecord, src *domain.SourceAccount) error {
	fee := ledger.FeeAmount(s.ledger.BaseFee(), 1)
	covered, ok := ledger.CoversPayment(src.NativeBalance, rec.Amount, fee)
	if !ok {
		balanceCheckSkippedTotal.Inc()
		log.Printf("[WARN] payment %s: source balance %q unreadable, skipping advisory balance check", rec.Identifier, src.NativeBalance)
		return nil
	}
	if !covered {
		return fmt.Errorf("%w: balance %s < %s + fee %s", domain.ErrInsufficientBalance, src.NativeBalance, rec.Amount, fee.String())
	}
	return nil
}

func (s *PaymentService) createExternal(ctx context.Context, rec *domain.PaymentRecord) error {
	res, err := callProcessor(s, ctx, "create", func(ctx context.Context) (domain.ProcessorResult, error) {
		return s.processor.Create(ctx, domain.CreatePaymentArgs{
			Identifier:    rec.Identifier,
			UserReference: rec.UserReference,
			Amount:        rec.Amount,
			Memo:          rec.Memo,
			Metadata:      rec.Metadata,
		})
	})
	if err != nil {
		return err
	}
	rec.ExternalPaymentID = res.PaymentID

	if s.approve {
		approved, err := callProcessor(s, ctx, "approve", func(ctx context.Context) (domain.ProcessorResult, error) {
			return s.processor.Approve(ctx, res.PaymentID)
		})
		if err != nil {
			return err
		}
		res.Raw = approved.Raw
	}

	return s.transition(ctx, rec, domain.RecordUpdate{
		Status:            domain.StatusApproved,
		ExternalPaymentID: res.PaymentID,
		RawResponse:       res.Raw,
	})
}

// submitLedgerTx returns the stored hash instead of submitting again once one is on record.
func (s *PaymentService) submitLedgerTx(ctx context.Context, rec *domain.PaymentRecord, src *domain.SourceAccount) (string, error) {
	if rec.TransactionHash != "" {
		return rec.TransactionHash, nil
	}
	hash, err := callLedger(s, ctx, "submit_payment", func(ctx context.Context) (string, error) {
		return s.ledger.SubmitPayment(ctx, src, domain.LedgerPayment{
			Destination: rec.DestinationAddress,
			Amount:      rec.Amount,
			Memo:        rec.Memo,
		})
	})
	if err != nil {
		return "", err
	}
	log.Printf("[INFO] payment %s submitted to ledger: %s", rec.Identifier, hash)

	if err := s.transition(ctx, rec, domain.RecordUpdate{Status: domain.StatusSubmitted, TransactionHash: hash}); err != nil {
		// Funds have moved: keep the hash visible to the caller and never mark this record failed.
		rec.TransactionHash = hash
		log.Printf("[ERROR] payment %s: ledger accepted %s but the record could not be updated: %v", rec.Identifier, hash, err)
		return hash, fmt.Errorf("%w: recording transaction %s: %w", domain.ErrCompletionPending, hash, err)
	}
	return hash, nil
}

// completeExternal never demotes a submitted record: on failure the status stays
// submitted so the completion alone can be retried.
func (s *PaymentService) completeExternal(ctx context.Context, rec *domain.PaymentRecord) (*domain.PaymentRecord, error) {
	res, err := callProcessor(s, ctx, "complete", func(ctx context.Context) (domain.ProcessorResult, error) {
		return s.processor.Complete(ctx, rec.ExternalPaymentID, rec.TransactionHash)
	})
	if err != nil {
		log.Printf("[WARN] payment %s: completion failed, record left submitted: %v", rec.Identifier, err)
		if rec.Status == domain.StatusSubmitted {
			if uErr := s.transition(ctx, rec, domain.RecordUpdate{
				Status:      domain.StatusSubmitted,
				RawResponse: failureDetail("complete_external", err),
			}); uErr != nil {
				log.Printf("[ERROR] payment %s: recording completion failure: %v", rec.Identifier, uErr)
			}
		}
		return rec, fmt.Errorf("%w: %w", domain.ErrCompletionPending, err)
	}

	if err := s.transition(ctx, rec, domain.RecordUpdate{Status: domain.StatusCompleted, RawResponse: res.Raw}); err != nil {
		return rec, err
	}
	log.Printf("[INFO] payment %s completed", rec.Identifier)
	return rec, nil
}

// fail moves a non-terminal record to failed, persisting the cause, and returns the cause.
func (s *PaymentService) fail(ctx context.Context, rec *domain.PaymentRecord, step string, cause error) (*domain.PaymentRecord, error) {
	log.Printf("[ERROR] payment %s failed at %s: %v", rec.Identifier, step, cause)
	if rec.Status.Terminal() {
		return rec, cause
	}
	if err := s.transition(ctx, rec, domain.RecordUpdate{
		Status:            domain.StatusFailed,
		ExternalPaymentID: rec.ExternalPaymentID,
		RawResponse:       failureDetail(step, cause),
	}); err != nil {
		log.Printf("[ERROR] payment %s: recording failure: %v", rec.Identifier, err)
	}
	return rec, cause
}

// transition persists u with compare-and-set on the current status, then mirrors it in rec.
// Writes use a context detached from the request so a caller timeout still gets recorded.
func (s *PaymentService) transition(ctx context.Context, rec *domain.PaymentRecord, u domain.RecordUpdate) error {
	u.UpdatedAt = s.now().Unix()
	next := *rec
	if err := next.Apply(u); err != nil {
		return err
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.store.Update(pctx, rec.Identifier, rec.Status, u); err != nil {
		return err
	}

	if next.Status != rec.Status {
		transitionsTotal.WithLabelValues(string(next.Status)).Inc()
	}
	*rec = next
	return nil
}

func failureDetail(step string, cause error) json.RawMessage {
	detail := map[string]any{
		"step":  step,
		"error": cause.Error(),
	}
	if IsTimeout(cause) {
		detail["timeout"] = true
	}
	var subErr *ledger.SubmitError
	if errors.As(cause, &subErr) && subErr.Hash != "" {
		detail["transaction_hash"] = subErr.Hash
		if subErr.ResultCodes != "" {
			detail["result_codes"] = subErr.ResultCodes
		}
	}
	var pErr *processor.Error
	if errors.As(cause, &pErr) {
		if pErr.StatusCode != 0 {
			detail["status_code"] = pErr.StatusCode
		}
		if len(pErr.Body) > 0 {
			detail["response"] = pErr.Body
		}
	}
	raw, _ := json.Marshal(detail)
	return raw
}

// IsTimeout reports whether err came from a deadline on an external call.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (s *PaymentService) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func callLedger[T any](s *PaymentService, ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	return call(s, ctx, "ledger", op, fn)
}

func callProcessor[T any](s *PaymentService, ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	return call(s, ctx, "processor", op, fn)
}

func call[T any](s *PaymentService, ctx context.Context, collaborator, op string, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := s.bound(ctx)
	defer cancel()
	timer := prometheus.NewTimer(externalCallDuration.WithLabelValues(collaborator, op))
	defer timer.ObserveDuration()
	return fn(cctx)
}
