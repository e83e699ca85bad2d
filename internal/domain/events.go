/**
 * @description
 * Event payloads exchanged with the other microservices over RabbitMQ, and the
 * HTTP payloads exchanged with peer operators. The wire format is fixed by the
 * federation contract: citizen ids travel as JSON numbers (`id` / `idCitizen`)
 * even though the service keys everything on the string citizen_id.
 *
 * @notes
 * - Inbound ids are declared as json.Number so that both numeric and quoted
 *   ids decode; peers have been observed sending either.
 */

package domain

import "encoding/json"

// Event routing keys. The queue consuming an inbound event carries the same
// name by default (configurable per queue).
const (
	EventRegisterCitizenRequested   = "register.citizen.requested"
	EventRegisterCitizenCompleted   = "register.citizen.completed"
	EventUnregisterCitizenRequested = "unregister.citizen.requested"
	EventUnregisterCitizenCompleted = "unregister.citizen.completed"
	EventDocumentsDownloadRequested = "documents.download.requested"
	EventDocumentsReady             = "documents.ready"
	EventAffiliationCreated         = "affiliation.created"
	EventUserTransferred            = "user.transferred"
)

// RegisterCitizenRequested asks the operator-connectivity service to register
// the citizen with the external authority.
type RegisterCitizenRequested struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Address      string `json:"address"`
	Email        string `json:"email"`
	OperatorID   string `json:"operatorId"`
	OperatorName string `json:"operatorName"`
}

// RegisterCitizenCompleted reports the outcome of an external registration.
// StatusCode 201 means the authority accepted the registration.
type RegisterCitizenCompleted struct {
	ID         json.Number `json:"id"`
	StatusCode int         `json:"statusCode"`
}

// UnregisterCitizenRequested asks the operator-connectivity service to remove
// the citizen from the external authority.
type UnregisterCitizenRequested struct {
	ID           int64  `json:"id"`
	OperatorID   string `json:"operatorId"`
	OperatorName string `json:"operatorName"`
}

// UnregisterCitizenCompleted reports the outcome of an external unregistration.
type UnregisterCitizenCompleted struct {
	ID      json.Number            `json:"id"`
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Error   map[string]interface{} `json:"error,omitempty"`
}

// DocumentsDownloadRequested asks the document service to download the
// citizen's files from the source operator.
type DocumentsDownloadRequested struct {
	IDCitizen    int64                  `json:"idCitizen"`
	URLDocuments map[string]interface{} `json:"urlDocuments"`
}

// DocumentsReady signals that the document service finished downloading and
// storing the citizen's files.
type DocumentsReady struct {
	IDCitizen json.Number `json:"idCitizen"`
}

// CitizenEvent is the minimal notification payload carrying only a citizen id.
// Used for affiliation.created and user.transferred.
type CitizenEvent struct {
	IDCitizen int64 `json:"idCitizen"`
}

// TransferPayload is the body POSTed to a peer operator's transfer API when
// handing a citizen off, and the body accepted on the receive endpoint.
type TransferPayload struct {
	ID           json.Number            `json:"id"`
	CitizenName  string                 `json:"citizenName"`
	CitizenEmail string                 `json:"citizenEmail"`
	URLDocuments map[string]interface{} `json:"urlDocuments,omitempty"`
	ConfirmAPI   string                 `json:"confirmAPI"`
}

// TransferConfirmation is the callback body exchanged between operators after
// a handoff. ReqStatus 1 means the receiving side completed the transfer,
// 0 means it failed and the sender should roll back.
type TransferConfirmation struct {
	ID        json.Number `json:"id"`
	ReqStatus int         `json:"req_status"`
}
