package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/a2urelay/internal/domain"
	"github.com/punchamoorthee/a2urelay/internal/service"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "a2u_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "a2u_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "endpoint"})
)

// statusFor maps workflow errors onto HTTP codes. Timeouts win over the collaborator kind.
func statusFor(err error) int {
	switch {
	case service.IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrDuplicateRequest), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrDestinationNotActivated),
		errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrProcessor), errors.Is(err, domain.ErrLedgerSubmission):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage keeps collaborator detail out of responses; it goes to the log instead.
func publicMessage(err error) string {
	switch {
	case service.IsTimeout(err):
		return "Upstream call timed out"
	case errors.Is(err, domain.ErrDuplicateRequest):
		return "Payment with this identifier already exists"
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidAddress):
		return err.Error()
	case errors.Is(err, domain.ErrDestinationNotActivated):
		return "Destination account is not activated"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "Insufficient app wallet balance"
	case errors.Is(err, domain.ErrNotFound):
		return "Payment not found"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "Payment is not awaiting completion"
	case errors.Is(err, domain.ErrProcessor):
		return "Payment processor error"
	case errors.Is(err, domain.ErrLedgerSubmission):
		return "Ledger submission failed"
	default:
		return "Internal Server Error"
	}
}

func reply(w http.ResponseWriter, r *http.Request, endpoint string, code int, payload interface{}) {
	httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, payload)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
