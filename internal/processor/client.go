package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/punchamoorthee/a2urelay/internal/domain"
)

// DefaultBaseURL is the Pi Platform API root for both testnet and mainnet apps.
const DefaultBaseURL = "https://api.minepi.com/v2"

// Error is a failed processor call. It unwraps to domain.ErrProcessor and the transport cause.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Body       json.RawMessage
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("processor %s: %v", e.Op, e.Err)
	case e.Message != "":
		return fmt.Sprintf("processor %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("processor %s: status %d", e.Op, e.StatusCode)
	}
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{domain.ErrProcessor, e.Err}
	}
	return []error{domain.ErrProcessor}
}

type createPaymentRequest struct {
	Payment paymentBody `json:"payment"`
}

type paymentBody struct {
	Amount   json.Number    `json:"amount"`
	Memo     string         `json:"memo"`
	Metadata map[string]any `json:"metadata"`
	UID      string         `json:"uid"`
}

type completeRequest struct {
	TxID string `json:"txid"`
}

// paymentDTO is the subset of the processor's payment object the relay reads.
type paymentDTO struct {
	Identifier string `json:"identifier"`
	UserUID    string `json:"user_uid"`
	Status     struct {
		DeveloperApproved   bool `json:"developer_approved"`
		TransactionVerified bool `json:"transaction_verified"`
		DeveloperCompleted  bool `json:"developer_completed"`
		Cancelled           bool `json:"cancelled"`
		UserCancelled       bool `json:"user_cancelled"`
	} `json:"status"`
}

func (p paymentDTO) state() string {
	switch {
	case p.Status.Cancelled || p.Status.UserCancelled:
		return "cancelled"
	case p.Status.DeveloperCompleted:
		return "completed"
	case p.Status.TransactionVerified:
		return "verified"
	case p.Status.DeveloperApproved:
		return "approved"
	default:
		return "created"
	}
}

type apiError struct {
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

func (e apiError) message() string {
	if e.ErrorMessage != "" {
		return e.ErrorMessage
	}
	return e.Error
}

// Client calls the payment processor's REST API. The API key is fixed at construction.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Authorization", "Key "+apiKey).
		SetHeader("Content-Type", "application/json")
	return &Client{http: rc}
}

// Create opens an app-to-user payment for the given user.
func (c *Client) Create(ctx context.Context, args domain.CreatePaymentArgs) (domain.ProcessorResult, error) {
	body := createPaymentRequest{Payment: paymentBody{
		Amount:   json.Number(args.Amount),
		Memo:     args.Memo,
		Metadata: args.Metadata,
		UID:      args.UserReference,
	}}
	if body.Payment.Metadata == nil {
		body.Payment.Metadata = map[string]any{}
	}
	res, err := c.do(ctx, "create", http.MethodPost, "/payments", body)
	if err != nil {
		log.Printf("[ERROR] processor create for %s failed: %v", args.Identifier, err)
		return res, err
	}
	if res.PaymentID == "" {
		return res, &Error{Op: "create", StatusCode: 200, Message: "response carried no payment identifier", Body: res.Raw}
	}
	return res, nil
}

// Approve acknowledges the payment on the server side.
func (c *Client) Approve(ctx context.Context, paymentID string) (domain.ProcessorResult, error) {
	return c.do(ctx, "approve", http.MethodPost, "/payments/"+url.PathEscape(paymentID)+"/approve", nil)
}

// Complete reports the ledger transaction that settled the payment.
func (c *Client) Complete(ctx context.Context, paymentID, txHash string) (domain.ProcessorResult, error) {
	return c.do(ctx, "complete", http.MethodPost, "/payments/"+url.PathEscape(paymentID)+"/complete", completeRequest{TxID: txHash})
}

// Get fetches the processor's current view of a payment. Status is "completed" once the
// processor has recorded the developer completion.
func (c *Client) Get(ctx context.Context, paymentID string) (domain.ProcessorResult, error) {
	return c.do(ctx, "get", http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body any) (domain.ProcessorResult, error) {
	var dto paymentDTO
	var apiErr apiError

	req := c.http.R().
		SetContext(ctx).
		SetResult(&dto).
		SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return domain.ProcessorResult{}, &Error{Op: op, Err: err}
	}
	raw := json.RawMessage(resp.Body())
	if !json.Valid(raw) {
		raw = nil
	}
	if resp.IsError() {
		return domain.ProcessorResult{Raw: raw}, &Error{
			Op:         op,
			StatusCode: resp.StatusCode(),
			Message:    apiErr.message(),
			Body:       raw,
		}
	}
	return domain.ProcessorResult{PaymentID: dto.Identifier, Status: dto.state(), Raw: raw}, nil
}
