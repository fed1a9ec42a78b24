/**
 * @description
 * This file sets up the HTTP router for the payment-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PaymentRoutes creates and returns a new router for the payment service.
func PaymentRoutes(h *PaymentHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Gateway callbacks are machine-to-machine, guarded by the shared key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))
		r.Post("/callbacks/mpesa", h.MpesaCallbackHandler)
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		// Purchase intents and orders
		r.Post("/intents", h.CreateIntentHandler)
		r.Get("/orders", h.ListOrdersHandler)
		r.Get("/orders/{orderID}", h.GetOrderHandler)
		r.Post("/orders/{orderID}/stk", h.BeginGatewayPaymentHandler)
		r.Post("/orders/{orderID}/timeout", h.TimeoutOrderHandler)
		r.Get("/attempts/{correlationID}", h.PollAttemptHandler)
		r.Get("/bookings/{bookingID}", h.GetBookingHandler)

		// Manual payment path and admin verification queue
		r.Post("/manual", h.SubmitManualPaymentHandler)
		r.Get("/manual", h.ListManualQueueHandler)
		r.Get("/manual/{recordID}", h.GetManualPaymentHandler)
		r.Post("/manual/{recordID}/review", h.ReviewManualPaymentHandler)
	})

	return r
}
