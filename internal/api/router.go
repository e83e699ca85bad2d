/**
 * @description
 * This file sets up the HTTP router for the affiliation-service. It defines
 * the API endpoints, associates them with their corresponding handlers, and
 * applies any necessary middleware.
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

// AffiliationRoutes creates and returns a new router for the affiliation service.
func AffiliationRoutes(h *AffiliationHandlers, internalAPIKey string) http.Handler {
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

	// Peer-facing endpoints, called by other operators in the federation.
	r.Post("/citizens/transfer/receive", h.ReceiveTransferHandler)
	r.Post("/citizens/transfer/confirm", h.TransferConfirmationHandler)

	// Group routes that require the internal API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(internalAPIKey))

		r.Post("/citizens/register", h.RegisterCitizenHandler)
		r.Get("/citizens/{citizenID}/validate", h.ValidateCitizenHandler)
		r.Post("/citizens/{citizenID}/transfer", h.SendTransferHandler)

		r.Get("/affiliations/{citizenID}/status", h.AffiliationStatusHandler)
		r.Delete("/affiliations/{citizenID}", h.DeleteAffiliationHandler)

		r.Get("/operators", h.ListOperatorsHandler)
	})

	return r
}
