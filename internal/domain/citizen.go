/**
 * @description
 * This file defines the core domain models for the affiliation-service.
 * These structs represent the main entities used throughout the service's
 * business logic, database interactions, and API layers.
 *
 * @notes
 * - `CitizenID` is the federation-wide natural key (the citizen's document
 *   number, kept as a string). The uuid `ID` is the local surrogate key.
 * - Verification state is tracked separately from local registration:
 *   `IsRegistered` means the local write committed, `IsVerified` means the
 *   external authority (MINTIC) confirmed the registration.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Verification status values reported back by the external authority flow.
const (
	VerificationPending  = "pending"
	VerificationVerified = "verified"
	VerificationFailed   = "failed"
)

// RegisterCitizenRequest is the payload accepted by the registration endpoint.
type RegisterCitizenRequest struct {
	CitizenID string `json:"citizen_id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Email     string `json:"email"`
}

// Citizen represents a citizen held by this operator. Maps to the `citizens` table.
type Citizen struct {
	ID                  uuid.UUID `json:"id"`
	CitizenID           string    `json:"citizen_id"`
	Name                string    `json:"name"`
	Address             string    `json:"address"`
	Email               string    `json:"email"`
	OperatorID          string    `json:"operator_id"`
	OperatorName        string    `json:"operator_name"`
	IsRegistered        bool      `json:"is_registered"`
	IsVerified          bool      `json:"is_verified"`
	VerificationStatus  string    `json:"verification_status"`
	VerificationMessage *string   `json:"verification_message,omitempty"`
	PendingDeletion     bool      `json:"pending_deletion"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}
