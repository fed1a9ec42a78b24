/**
 * @description
 * This file contains the HTTP handlers for the payment-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the reconciliation logic.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 * - pkg/darajaclient: Callback body shape for the M-Pesa gateway.
 * - pkg/proofstore: Proof-of-payment uploads on the manual path.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sautihub/payment-service/internal/app"
	"github.com/sautihub/payment-service/internal/domain"
	"github.com/sautihub/payment-service/internal/store"
	"github.com/sautihub/payment-service/pkg/darajaclient"
	"github.com/sautihub/payment-service/pkg/proofstore"
)

// PaymentHandlers holds the application service that handlers will use.
type PaymentHandlers struct {
	service *app.Service
	proofs  *proofstore.Client
}

// NewPaymentHandlers creates a new instance of PaymentHandlers. proofs may be
// nil when no blob store is configured; manual claims then carry no proof URL.
func NewPaymentHandlers(service *app.Service, proofs *proofstore.Client) *PaymentHandlers {
	return &PaymentHandlers{service: service, proofs: proofs}
}

// attemptResponse is the wire shape for a gateway payment attempt.
type attemptResponse struct {
	CorrelationID     string  `json:"correlation_id"`
	OrderID           string  `json:"order_id"`
	Status            string  `json:"status"`
	Amount            int64   `json:"amount"`
	Currency          string  `json:"currency"`
	PhoneNumber       string  `json:"phone_number"`
	ResultCode        *int    `json:"result_code,omitempty"`
	ResultDescription *string `json:"result_description,omitempty"`
}

func buildAttemptResponse(attempt *domain.PaymentAttempt) attemptResponse {
	return attemptResponse{
		CorrelationID:     attempt.CorrelationID,
		OrderID:           attempt.OrderID.String(),
		Status:            attempt.Status,
		Amount:            attempt.Amount,
		Currency:          attempt.Currency,
		PhoneNumber:       attempt.PhoneNumber,
		ResultCode:        attempt.ResultCode,
		ResultDescription: attempt.ResultDescription,
	}
}

// authenticatedUserID resolves the caller's UUID from the verified token
// subject, writing the error response itself on failure.
func (h *PaymentHandlers) authenticatedUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userIDStr, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		log.Printf("level=warn component=api outcome=reject reason=invalid_user_id user_id=%s", userIDStr)
		h.writeError(w, http.StatusUnauthorized, "Invalid user ID in token")
		return uuid.Nil, false
	}
	return userID, true
}

func (h *PaymentHandlers) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

// CreateIntentHandler handles requests to create a new purchase intent.
func (h *PaymentHandlers) CreateIntentHandler(w http.ResponseWriter, r *http.Request) {
	payerID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	var payload domain.CreateIntentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.CreateIntent(r.Context(), payerID, payload)
	if err != nil {
		h.writeServiceError(w, "create_intent", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// GetOrderHandler returns an order with its booking, when one exists.
func (h *PaymentHandlers) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}
	orderID, ok := h.pathUUID(w, r, "orderID")
	if !ok {
		return
	}

	result, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, "get_order", err)
		return
	}
	// Payers see only their own orders; reviewers see everything.
	if result.Order.PayerID != userID && !IsReviewer(r.Context()) {
		h.writeError(w, http.StatusNotFound, "Order not found")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// GetBookingHandler returns a single booking. Visible to its client, its
// producer, and reviewers.
func (h *PaymentHandlers) GetBookingHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}
	bookingID, ok := h.pathUUID(w, r, "bookingID")
	if !ok {
		return
	}

	booking, err := h.service.GetBooking(r.Context(), bookingID)
	if err != nil {
		h.writeServiceError(w, "get_booking", err)
		return
	}
	isProducer := booking.ProducerID != nil && *booking.ProducerID == userID
	if booking.ClientID != userID && !isProducer && !IsReviewer(r.Context()) {
		h.writeError(w, http.StatusNotFound, "Booking not found")
		return
	}
	h.writeJSON(w, http.StatusOK, booking)
}

// ListOrdersHandler returns the caller's orders, newest first.
func (h *PaymentHandlers) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	orders, err := h.service.ListOrders(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeServiceError(w, "list_orders", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

// BeginGatewayPaymentHandler initiates an STK push charge for an order.
func (h *PaymentHandlers) BeginGatewayPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}
	orderID, ok := h.pathUUID(w, r, "orderID")
	if !ok {
		return
	}

	var payload domain.StkPushPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Only the payer can charge their own order.
	order, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, "begin_gateway_payment", err)
		return
	}
	if order.Order.PayerID != userID {
		h.writeError(w, http.StatusNotFound, "Order not found")
		return
	}

	attempt, err := h.service.BeginGatewayPayment(r.Context(), orderID, payload)
	if err != nil {
		h.writeServiceError(w, "begin_gateway_payment", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, buildAttemptResponse(attempt))
}

// PollAttemptHandler returns the current state of a gateway payment attempt.
func (h *PaymentHandlers) PollAttemptHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticatedUserID(w, r); !ok {
		return
	}
	correlationID := strings.TrimSpace(chi.URLParam(r, "correlationID"))
	if correlationID == "" {
		h.writeError(w, http.StatusBadRequest, "Invalid correlation ID")
		return
	}

	attempt, err := h.service.PollGatewayOutcome(r.Context(), correlationID)
	if err != nil {
		h.writeServiceError(w, "poll_attempt", err)
		return
	}
	h.writeJSON(w, http.StatusOK, buildAttemptResponse(attempt))
}

// TimeoutOrderHandler fails an order whose gateway confirmation never arrived.
func (h *PaymentHandlers) TimeoutOrderHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}
	orderID, ok := h.pathUUID(w, r, "orderID")
	if !ok {
		return
	}

	current, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, "timeout_order", err)
		return
	}
	if current.Order.PayerID != userID && !IsReviewer(r.Context()) {
		h.writeError(w, http.StatusNotFound, "Order not found")
		return
	}

	order, err := h.service.TimeoutGatewayPayment(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, "timeout_order", err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// SubmitManualPaymentHandler records a Paybill or bank-transfer claim. The
// request may be JSON, or multipart form data carrying a proof file that is
// uploaded to the blob store before the claim is recorded.
func (h *PaymentHandlers) SubmitManualPaymentHandler(w http.ResponseWriter, r *http.Request) {
	claimantID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	var payload domain.SubmitManualPaymentPayload
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid multipart body")
			return
		}
		amount, err := strconv.ParseInt(r.FormValue("amount"), 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid amount")
			return
		}
		payload.Amount = amount
		payload.Currency = r.FormValue("currency")
		payload.ReferenceCode = r.FormValue("reference_code")
		if orderIDStr := strings.TrimSpace(r.FormValue("order_id")); orderIDStr != "" {
			orderID, err := uuid.Parse(orderIDStr)
			if err != nil {
				h.writeError(w, http.StatusBadRequest, "Invalid order_id")
				return
			}
			payload.OrderID = &orderID
		}

		if file, header, err := r.FormFile("proof"); err == nil {
			defer file.Close()
			if h.proofs == nil || !h.proofs.Configured() {
				h.writeError(w, http.StatusServiceUnavailable, "Proof uploads are not available")
				return
			}
			url, err := h.proofs.Upload(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
			if err != nil {
				log.Printf("level=error component=api endpoint=submit_manual_payment msg=\"proof upload failed\" err=%v", err)
				h.writeError(w, http.StatusBadGateway, "Failed to store proof of payment")
				return
			}
			payload.ProofURL = &url
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	record, err := h.service.SubmitManualPayment(r.Context(), claimantID, payload)
	if err != nil {
		h.writeServiceError(w, "submit_manual_payment", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, record)
}

// ListManualQueueHandler returns the admin verification queue.
func (h *PaymentHandlers) ListManualQueueHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticatedUserID(w, r); !ok {
		return
	}
	if !IsReviewer(r.Context()) {
		h.writeError(w, http.StatusForbidden, "Reviewer role required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	opts := domain.ManualQueueListOptions{
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
		Limit:  limit,
		Offset: offset,
	}

	records, err := h.service.ListManualQueue(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, "list_manual_queue", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

// GetManualPaymentHandler returns a single manual payment record.
func (h *PaymentHandlers) GetManualPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}
	recordID, ok := h.pathUUID(w, r, "recordID")
	if !ok {
		return
	}

	record, err := h.service.GetManualPayment(r.Context(), recordID)
	if err != nil {
		h.writeServiceError(w, "get_manual_payment", err)
		return
	}
	if record.ClaimantID != userID && !IsReviewer(r.Context()) {
		h.writeError(w, http.StatusNotFound, "Manual payment record not found")
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

// ReviewManualPaymentHandler applies a reviewer's verdict to a pending claim.
func (h *PaymentHandlers) ReviewManualPaymentHandler(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}
	recordID, ok := h.pathUUID(w, r, "recordID")
	if !ok {
		return
	}

	var payload domain.ReviewManualPaymentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	capability := app.ReviewerCapability{
		ReviewerID: reviewerID,
		CanVerify:  IsReviewer(r.Context()),
	}
	record, err := h.service.ReviewManualPayment(r.Context(), capability, recordID, payload)
	if err != nil {
		h.writeServiceError(w, "review_manual_payment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

// MpesaCallbackHandler receives the asynchronous STK push result from the
// gateway. The response shape is what Daraja expects in acknowledgement; any
// reconciliation failure is logged and retried via polling, never surfaced to
// the gateway.
func (h *PaymentHandlers) MpesaCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var body darajaclient.STKCallbackBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid callback body")
		return
	}

	callback := body.Body.StkCallback
	if strings.TrimSpace(callback.CheckoutRequestID) == "" {
		h.writeError(w, http.StatusBadRequest, "Missing CheckoutRequestID")
		return
	}

	result := domain.GatewayCallbackResult{
		CorrelationID:     callback.CheckoutRequestID,
		ResultCode:        callback.ResultCode,
		ResultDescription: callback.ResultDesc,
		ReceiptNumber:     body.ReceiptNumber(),
	}
	if err := h.service.RecordGatewayCallback(r.Context(), result); err != nil {
		if errors.Is(err, store.ErrAttemptNotFound) {
			log.Printf("level=warn component=api endpoint=mpesa_callback correlation_id=%s msg=\"callback for unknown attempt\"", result.CorrelationID)
			h.writeError(w, http.StatusNotFound, "Unknown CheckoutRequestID")
			return
		}
		log.Printf("level=error component=api endpoint=mpesa_callback correlation_id=%s msg=\"failed to record callback\" err=%v", result.CorrelationID, err)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"ResultCode": 0, "ResultDesc": "Accepted"})
}

// writeServiceError maps service and store errors onto HTTP statuses.
func (h *PaymentHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	var validationErr *app.ValidationError
	switch {
	case errors.As(err, &validationErr):
		h.writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrUnsupportedCurrency),
		errors.Is(err, app.ErrInvalidPhoneNumber):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrConcurrentAttemptExists),
		errors.Is(err, app.ErrOrderNotPayable),
		errors.Is(err, app.ErrManualPaymentNotAllowed),
		errors.Is(err, store.ErrAlreadyReviewed):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrReviewerNotAuthorized):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, app.ErrGatewayRejected):
		h.writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, app.ErrGatewayUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, store.ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, store.ErrBookingNotFound):
		h.writeError(w, http.StatusNotFound, "Booking not found")
	case errors.Is(err, store.ErrAttemptNotFound):
		h.writeError(w, http.StatusNotFound, "Payment attempt not found")
	case errors.Is(err, store.ErrManualPaymentNotFound):
		h.writeError(w, http.StatusNotFound, "Manual payment record not found")
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"unhandled service error\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "An internal error occurred")
	}
}

// writeJSON is a helper to write a JSON response.
func (h *PaymentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("level=error component=api msg=\"failed to encode json response\" err=%v", err)
	}
}

// writeError is a helper to write a JSON error response.
func (h *PaymentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
