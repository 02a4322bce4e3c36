package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/punchamoorthee/a2urelay/internal/domain"
	"github.com/punchamoorthee/a2urelay/internal/models"
)

const maxBodyBytes = 64 << 10

// PaymentService is the workflow the handlers drive.
type PaymentService interface {
	Submit(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentRecord, error)
	Get(ctx context.Context, identifier string) (*domain.PaymentRecord, error)
	RetryCompletion(ctx context.Context, identifier string) (*domain.PaymentRecord, error)
}

type Handler struct {
	service PaymentService
}

func NewHandler(svc PaymentService) *Handler {
	return &Handler{service: svc}
}

// Routes registers the A2U endpoints on r, which is usually the /api subrouter.
func (h *Handler) Routes(r *mux.Router) {
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/a2u-send", h.SendHandler).Methods(http.MethodPost)
	v1.HandleFunc("/a2u/{identifier}", h.GetPaymentHandler).Methods(http.MethodGet)
	v1.HandleFunc("/a2u/{identifier}/complete", h.CompletePaymentHandler).Methods(http.MethodPost)

	// Unversioned path kept for existing frontends.
	r.HandleFunc("/a2u-send", h.SendHandler).Methods(http.MethodPost)
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) SendHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/a2u-send"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
	defer timer.ObserveDuration()

	var req models.SendRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	// Metadata is stored verbatim, so numbers must not pass through float64.
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		reply(w, r, endpoint, http.StatusBadRequest, models.ErrorResponse{Message: "Malformed JSON body"})
		return
	}
	amount, err := req.AmountString()
	if err != nil {
		reply(w, r, endpoint, http.StatusBadRequest, models.ErrorResponse{Message: err.Error()})
		return
	}

	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		identifier = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	rec, err := h.service.Submit(r.Context(), domain.PaymentRequest{
		Identifier:    identifier,
		UserReference: req.UID,
		ToAddress:     req.ToAddress,
		Amount:        amount,
		Memo:          req.Memo,
		Metadata:      req.Metadata,
	})
	switch {
	case err == nil:
		reply(w, r, endpoint, http.StatusOK, models.SendResponse{
			Success:     true,
			Transaction: rec.TransactionHash,
			Identifier:  rec.Identifier,
			Status:      string(rec.Status),
		})
	case errors.Is(err, domain.ErrCompletionPending) && rec != nil:
		log.Printf("[WARN] payment %s accepted by ledger, completion pending: %v", rec.Identifier, err)
		msg := "Payment submitted; completion with the processor is pending"
		if rec.Status != domain.StatusSubmitted {
			msg = "Payment accepted by the ledger; recording it is pending"
		}
		reply(w, r, endpoint, http.StatusAccepted, models.SendResponse{
			Success:     true,
			Transaction: rec.TransactionHash,
			Identifier:  rec.Identifier,
			Status:      string(rec.Status),
			Message:     msg,
		})
	default:
		h.fail(w, r, endpoint, rec, err)
	}
}

func (h *Handler) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/a2u/{identifier}"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
	defer timer.ObserveDuration()

	rec, err := h.service.Get(r.Context(), mux.Vars(r)["identifier"])
	if err != nil {
		h.fail(w, r, endpoint, nil, err)
		return
	}
	reply(w, r, endpoint, http.StatusOK, rec)
}

// CompletePaymentHandler retries only the processor completion of a submitted payment.
func (h *Handler) CompletePaymentHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/a2u/{identifier}/complete"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
	defer timer.ObserveDuration()

	rec, err := h.service.RetryCompletion(r.Context(), mux.Vars(r)["identifier"])
	if err != nil {
		h.fail(w, r, endpoint, rec, err)
		return
	}
	reply(w, r, endpoint, http.StatusOK, models.SendResponse{
		Success:     true,
		Transaction: rec.TransactionHash,
		Identifier:  rec.Identifier,
		Status:      string(rec.Status),
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, endpoint string, rec *domain.PaymentRecord, err error) {
	code := statusFor(err)
	body := models.ErrorResponse{Message: publicMessage(err)}
	if rec != nil {
		body.Identifier = rec.Identifier
		body.Status = string(rec.Status)
		if code == http.StatusConflict || code == http.StatusGatewayTimeout {
			body.Transaction = rec.TransactionHash
		}
	}
	if code >= http.StatusInternalServerError {
		log.Printf("[ERROR] %s %s: %v", r.Method, endpoint, err)
	} else {
		log.Printf("[INFO] %s %s rejected (%d): %v", r.Method, endpoint, code, err)
	}
	reply(w, r, endpoint, code, body)
}
