package domain

import (
	"time"

	"github.com/google/uuid"
)

// Affiliation status values. A citizen has exactly one affiliation and it is
// always in exactly one of these states.
const (
	StatusPending         = "PENDING"          // registered locally, waiting for MINTIC verification
	StatusAffiliated      = "AFFILIATED"       // verified and affiliated with this operator
	StatusTransferring    = "TRANSFERRING"     // outgoing or incoming transfer in progress
	StatusTransferred     = "TRANSFERRED"      // outgoing transfer confirmed by the destination
	StatusPendingDeletion = "PENDING_DELETION" // direct deletion waiting for MINTIC unregister
	StatusFailed          = "FAILED"           // MINTIC verification failed
)

// Affiliation records which operator currently holds a citizen and the state
// of any in-flight transfer. One row per citizen (1:1, owned by the citizen).
// Destination fields are populated only during an outgoing transfer; source
// and confirmation fields only during an incoming transfer.
type Affiliation struct {
	ID                              uuid.UUID  `json:"id"`
	CitizenID                       string     `json:"citizen_id"`
	OperatorID                      string     `json:"operator_id"`
	OperatorName                    string     `json:"operator_name"`
	Status                          string     `json:"status"`
	AffiliatedAt                    time.Time  `json:"affiliated_at"`
	StatusChangedAt                 time.Time  `json:"status_changed_at"`
	TransferDestinationOperatorID   *string    `json:"transfer_destination_operator_id,omitempty"`
	TransferDestinationOperatorName *string    `json:"transfer_destination_operator_name,omitempty"`
	TransferDestinationAPIURL       *string    `json:"transfer_destination_api_url,omitempty"`
	TransferSourceOperatorID        *string    `json:"transfer_source_operator_id,omitempty"`
	TransferSourceOperatorName      *string    `json:"transfer_source_operator_name,omitempty"`
	TransferConfirmationURL         *string    `json:"transfer_confirmation_url,omitempty"`
	TransferStartedAt               *time.Time `json:"transfer_started_at,omitempty"`
	TransferCompletedAt             *time.Time `json:"transfer_completed_at,omitempty"`
	DocumentsReady                  bool       `json:"documents_ready"`
	Notes                           *string    `json:"notes,omitempty"`
}

// TargetOperator identifies the destination operator for an outgoing transfer.
type TargetOperator struct {
	OperatorID   string `json:"operator_id"`
	OperatorName string `json:"operator_name"`
	APIURL       string `json:"api_url"`
}

// Operator is a federation member as returned by the external authority's
// operator directory.
type Operator struct {
	ID             string   `json:"_id"`
	OperatorName   string   `json:"operatorName"`
	Participants   []string `json:"participants,omitempty"`
	TransferAPIURL string   `json:"transferAPIURL,omitempty"`
}

// AffiliationStatus is the read-only projection returned by the status endpoint.
type AffiliationStatus struct {
	CitizenID                       string  `json:"citizen_id"`
	CitizenName                     string  `json:"citizen_name"`
	CitizenEmail                    string  `json:"citizen_email"`
	OperatorID                      string  `json:"operator_id"`
	OperatorName                    string  `json:"operator_name"`
	Status                          string  `json:"status"`
	VerificationStatus              string  `json:"verification_status"`
	AffiliatedAt                    string  `json:"affiliated_at"`
	TransferDestinationOperatorID   *string `json:"transfer_destination_operator_id"`
	TransferDestinationOperatorName *string `json:"transfer_destination_operator_name"`
}
