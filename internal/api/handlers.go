/**
 * @description
 * This file contains the HTTP handlers for the affiliation-service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/govcarpeta/affiliation-service/internal/app"
	"github.com/govcarpeta/affiliation-service/internal/domain"
	"github.com/govcarpeta/affiliation-service/internal/store"
)

// AffiliationHandlers holds the application service that handlers will use.
type AffiliationHandlers struct {
	service                   *app.Service
	rateLimiter               *app.RedisRateLimiter
	receiveRateLimitPerMinute int
	confirmRateLimitPerMinute int
}

// NewAffiliationHandlers creates a new instance of AffiliationHandlers.
func NewAffiliationHandlers(service *app.Service, limiter *app.RedisRateLimiter, receiveLimit, confirmLimit int) *AffiliationHandlers {
	return &AffiliationHandlers{
		service:                   service,
		rateLimiter:               limiter,
		receiveRateLimitPerMinute: receiveLimit,
		confirmRateLimitPerMinute: confirmLimit,
	}
}

type registerResponse struct {
	CitizenID          string `json:"citizen_id"`
	Status             string `json:"status"`
	VerificationStatus string `json:"verification_status"`
	Message            string `json:"message"`
}

type messageResponse struct {
	CitizenID string `json:"citizen_id,omitempty"`
	Message   string `json:"message"`
}

// RegisterCitizenHandler handles POST /citizens/register. The citizen is
// created locally and verification is delegated to the asynchronous MINTIC
// flow, so a 201 means "accepted, pending verification".
func (h *AffiliationHandlers) RegisterCitizenHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterCitizenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=register_citizen outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" {
		h.writeError(w, http.StatusBadRequest, "name and email are required")
		return
	}

	citizen, err := h.service.RegisterCitizen(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidCitizenID),
			errors.Is(err, app.ErrAlreadyRegistered),
			errors.Is(err, app.ErrVerificationPending),
			errors.Is(err, app.ErrRegisteredElsewhere),
			errors.Is(err, store.ErrCitizenExists):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("level=error component=api endpoint=register_citizen citizen_id=%s err=%v", req.CitizenID, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to register citizen")
		}
		return
	}

	log.Printf("level=info component=api endpoint=register_citizen outcome=accepted citizen_id=%s", citizen.CitizenID)
	h.writeJSON(w, http.StatusCreated, registerResponse{
		CitizenID:          citizen.CitizenID,
		Status:             domain.StatusPending,
		VerificationStatus: citizen.VerificationStatus,
		Message:            "Citizen registered locally. Waiting for MINTIC verification.",
	})
}

// ReceiveTransferHandler handles POST /citizens/transfer/receive, the
// peer-facing endpoint a source operator calls to hand a citizen off to us.
func (h *AffiliationHandlers) ReceiveTransferHandler(w http.ResponseWriter, r *http.Request) {
	if !h.allowPeerRequest(w, r, "transfer_receive", h.receiveRateLimitPerMinute) {
		return
	}

	var payload domain.TransferPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Printf("level=warn component=api endpoint=receive_transfer outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if payload.ID.String() == "" || strings.TrimSpace(payload.CitizenName) == "" ||
		strings.TrimSpace(payload.CitizenEmail) == "" || strings.TrimSpace(payload.ConfirmAPI) == "" {
		h.writeError(w, http.StatusBadRequest, "id, citizenName, citizenEmail and confirmAPI are required")
		return
	}

	citizen, err := h.service.ReceiveTransfer(r.Context(), payload)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidCitizenID), errors.Is(err, store.ErrCitizenExists):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("level=error component=api endpoint=receive_transfer citizen_id=%s err=%v", payload.ID, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to process transfer")
		}
		return
	}

	log.Printf("level=info component=api endpoint=receive_transfer outcome=accepted citizen_id=%s", citizen.CitizenID)
	h.writeJSON(w, http.StatusCreated, messageResponse{
		CitizenID: citizen.CitizenID,
		Message:   "Transfer request received, processing documents",
	})
}

// SendTransferHandler handles POST /citizens/{citizenID}/transfer, starting an
// outgoing transfer to the operator named in the request body.
func (h *AffiliationHandlers) SendTransferHandler(w http.ResponseWriter, r *http.Request) {
	citizenID := chi.URLParam(r, "citizenID")

	var target domain.TargetOperator
	if err := json.NewDecoder(r.Body).Decode(&target); err != nil {
		log.Printf("level=warn component=api endpoint=send_transfer outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(target.OperatorID) == "" || strings.TrimSpace(target.APIURL) == "" {
		h.writeError(w, http.StatusBadRequest, "operator_id and api_url are required")
		return
	}

	if err := h.service.SendTransfer(r.Context(), citizenID, target); err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidState):
			h.writeError(w, http.StatusBadRequest, "citizen cannot be transferred in its current status")
		case errors.Is(err, app.ErrInvalidCitizenID), errors.Is(err, store.ErrCitizenNotFound):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("level=error component=api endpoint=send_transfer citizen_id=%s err=%v", citizenID, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to initiate transfer")
		}
		return
	}

	log.Printf("level=info component=api endpoint=send_transfer outcome=accepted citizen_id=%s target_operator=%s", citizenID, target.OperatorName)
	h.writeJSON(w, http.StatusOK, messageResponse{
		CitizenID: citizenID,
		Message:   "Transfer initiated. Waiting for MINTIC unregister confirmation.",
	})
}

// TransferConfirmationHandler handles POST /citizens/transfer/confirm, the
// callback a destination operator POSTs after receiving one of our citizens.
func (h *AffiliationHandlers) TransferConfirmationHandler(w http.ResponseWriter, r *http.Request) {
	if !h.allowPeerRequest(w, r, "transfer_confirm", h.confirmRateLimitPerMinute) {
		return
	}

	var confirmation domain.TransferConfirmation
	if err := json.NewDecoder(r.Body).Decode(&confirmation); err != nil {
		log.Printf("level=warn component=api endpoint=transfer_confirmation outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	citizenID := strings.TrimSpace(confirmation.ID.String())
	if citizenID == "" {
		h.writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.service.HandleTransferConfirmation(r.Context(), citizenID, confirmation.ReqStatus); err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidCitizenID), errors.Is(err, store.ErrCitizenNotFound), errors.Is(err, store.ErrInvalidState):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("level=error component=api endpoint=transfer_confirmation citizen_id=%s err=%v", citizenID, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to process confirmation")
		}
		return
	}

	message := "Transfer confirmed, citizen deleted locally"
	if confirmation.ReqStatus != 1 {
		message = "Transfer failure acknowledged, citizen rolled back to AFFILIATED"
	}
	log.Printf("level=info component=api endpoint=transfer_confirmation outcome=accepted citizen_id=%s req_status=%d", citizenID, confirmation.ReqStatus)
	h.writeJSON(w, http.StatusOK, messageResponse{CitizenID: citizenID, Message: message})
}

// AffiliationStatusHandler handles GET /affiliations/{citizenID}/status.
func (h *AffiliationHandlers) AffiliationStatusHandler(w http.ResponseWriter, r *http.Request) {
	citizenID := chi.URLParam(r, "citizenID")

	status, err := h.service.GetAffiliationStatus(r.Context(), citizenID)
	if err != nil {
		if errors.Is(err, store.ErrCitizenNotFound) || errors.Is(err, store.ErrAffiliationNotFound) {
			h.writeError(w, http.StatusNotFound, "No affiliation found for citizen "+citizenID)
			return
		}
		log.Printf("level=error component=api endpoint=affiliation_status citizen_id=%s err=%v", citizenID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to load affiliation status")
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

// DeleteAffiliationHandler handles DELETE /affiliations/{citizenID}. Deletion
// is asynchronous: the citizen is marked pending deletion and removed once the
// external unregistration is confirmed.
func (h *AffiliationHandlers) DeleteAffiliationHandler(w http.ResponseWriter, r *http.Request) {
	citizenID := chi.URLParam(r, "citizenID")

	if err := h.service.DeleteAffiliation(r.Context(), citizenID); err != nil {
		switch {
		case errors.Is(err, store.ErrCitizenNotFound):
			h.writeError(w, http.StatusNotFound, "Citizen "+citizenID+" not found")
		case errors.Is(err, app.ErrInvalidCitizenID), errors.Is(err, app.ErrDeletionPending):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("level=error component=api endpoint=delete_affiliation citizen_id=%s err=%v", citizenID, err)
			h.writeError(w, http.StatusInternalServerError, "Failed to delete affiliation")
		}
		return
	}

	log.Printf("level=info component=api endpoint=delete_affiliation outcome=accepted citizen_id=%s", citizenID)
	h.writeJSON(w, http.StatusOK, messageResponse{
		CitizenID: citizenID,
		Message:   "Citizen marked for deletion. Waiting for MINTIC confirmation.",
	})
}

// ValidateCitizenHandler handles GET /citizens/{citizenID}/validate, a
// synchronous existence probe against the external authority.
func (h *AffiliationHandlers) ValidateCitizenHandler(w http.ResponseWriter, r *http.Request) {
	citizenID := chi.URLParam(r, "citizenID")

	exists, message, err := h.service.ValidateCitizen(r.Context(), citizenID)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCitizenID) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("level=error component=api endpoint=validate_citizen citizen_id=%s err=%v", citizenID, err)
		h.writeError(w, http.StatusBadGateway, "Failed to reach external authority")
		return
	}

	if !exists {
		h.writeJSON(w, http.StatusNotFound, messageResponse{CitizenID: citizenID, Message: message})
		return
	}
	h.writeJSON(w, http.StatusOK, messageResponse{CitizenID: citizenID, Message: message})
}

// ListOperatorsHandler handles GET /operators, a pass-through to the external
// authority's operator directory.
func (h *AffiliationHandlers) ListOperatorsHandler(w http.ResponseWriter, r *http.Request) {
	operators, err := h.service.GetOperators(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=list_operators err=%v", err)
		h.writeError(w, http.StatusBadGateway, "Failed to retrieve operators")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"operators": operators,
		"count":     len(operators),
	})
}

// allowPeerRequest applies the distributed rate limit to the peer-facing
// endpoints, keyed by remote address. Limiting is best-effort: a Redis error
// lets the request through.
func (h *AffiliationHandlers) allowPeerRequest(w http.ResponseWriter, r *http.Request, scope string, limit int) bool {
	if h.rateLimiter == nil || limit <= 0 {
		return true
	}

	subject := remoteAddr(r)
	count, retryAfter, err := h.rateLimiter.ConsumeRateLimit(r.Context(), scope, subject, limit, time.Minute)
	if err != nil {
		log.Printf("level=warn component=api scope=%s msg=\"rate limiter unavailable; allowing request\" err=%v", scope, err)
		return true
	}
	if count > limit {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many requests")
		return false
	}
	return true
}

func remoteAddr(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx > 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeJSON is a helper for writing JSON responses.
func (h *AffiliationHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *AffiliationHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
