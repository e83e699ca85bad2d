/**
 * @description
 * This file contains the transfer state machine for the affiliation-service.
 * An incoming transfer creates a TRANSFERRING citizen whose completion is
 * gated on two independent events (documents downloaded, MINTIC verification),
 * and an outgoing transfer walks AFFILIATED -> TRANSFERRING -> TRANSFERRED
 * through the external unregister confirmation and the peer operator's
 * confirmation callback.
 *
 * All status transitions go through the repository's compare-and-set methods,
 * so the two completion events may arrive in either order and concurrently
 * without completing a transfer twice.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/govcarpeta/affiliation-service/internal/domain"
	"github.com/govcarpeta/affiliation-service/internal/store"
	"github.com/govcarpeta/affiliation-service/pkg/rabbitmq"
)

// ErrMissingDestination is returned when an outgoing transfer has no stored
// destination API URL to continue with.
var ErrMissingDestination = errors.New("transfer destination operator api url not set")

// ReceiveTransfer handles an incoming transfer request from a peer operator.
// The citizen is created in TRANSFERRING status and a document download is
// requested; completion waits for both documents.ready and the MINTIC
// registration confirmation.
func (s *Service) ReceiveTransfer(ctx context.Context, payload domain.TransferPayload) (*domain.Citizen, error) {
	numericID, err := numericCitizenID(payload.ID.String())
	if err != nil {
		return nil, err
	}
	citizenID := strconv.FormatInt(numericID, 10)

	verificationMessage := "Waiting for documents and MINTIC verification"
	citizen := &domain.Citizen{
		ID:                  uuid.New(),
		CitizenID:           citizenID,
		Name:                payload.CitizenName,
		Address:             "",
		Email:               payload.CitizenEmail,
		OperatorID:          s.operatorID,
		OperatorName:        s.operatorName,
		IsRegistered:        false,
		IsVerified:          false,
		VerificationStatus:  domain.VerificationPending,
		VerificationMessage: &verificationMessage,
	}

	now := time.Now().UTC()
	confirmURL := payload.ConfirmAPI
	affiliation := &domain.Affiliation{
		ID:                      uuid.New(),
		CitizenID:               citizenID,
		OperatorID:              s.operatorID,
		OperatorName:            s.operatorName,
		Status:                  domain.StatusTransferring,
		AffiliatedAt:            now,
		TransferConfirmationURL: &confirmURL,
		TransferStartedAt:       &now,
		DocumentsReady:          false,
	}

	if err := s.repo.CreateCitizenWithAffiliation(ctx, citizen, affiliation); err != nil {
		return nil, err
	}

	urlDocuments := payload.URLDocuments
	if urlDocuments == nil {
		urlDocuments = map[string]interface{}{}
	}
	event := domain.DocumentsDownloadRequested{
		IDCitizen:    numericID,
		URLDocuments: urlDocuments,
	}
	if err := rabbitmq.PublishDocumentsDownloadRequested(ctx, s.eventProducer, event); err != nil {
		// Without the download request the transfer can never complete, so
		// undo the local creation and let the peer retry.
		log.Printf("level=error component=service op=receive_transfer citizen_id=%s msg=\"failed to publish document download request; rolling back\" err=%v", citizenID, err)
		if rbErr := s.repo.DeleteCitizen(ctx, citizenID); rbErr != nil {
			log.Printf("level=error component=service op=receive_transfer citizen_id=%s msg=\"rollback delete failed\" err=%v", citizenID, rbErr)
		}
		return nil, fmt.Errorf("failed to request document download: %w", err)
	}

	log.Printf("level=info component=service op=receive_transfer citizen_id=%s msg=\"transfer initiated, waiting for documents\"", citizenID)
	return citizen, nil
}

// CompleteTransferAfterDocuments marks the citizen's documents as ready and
// requests the MINTIC registration. It then checks whether the transfer can
// complete, in case the verification already landed.
func (s *Service) CompleteTransferAfterDocuments(ctx context.Context, citizenID string) error {
	numericID, err := numericCitizenID(citizenID)
	if err != nil {
		return err
	}

	citizen, err := s.repo.FindCitizenByCitizenID(ctx, citizenID)
	if err != nil {
		return err
	}

	if err := s.repo.SetDocumentsReady(ctx, citizenID); err != nil {
		return fmt.Errorf("failed to mark documents ready: %w", err)
	}
	log.Printf("level=info component=service op=documents_ready citizen_id=%s", citizenID)

	event := domain.RegisterCitizenRequested{
		ID:           numericID,
		Name:         citizen.Name,
		Address:      citizen.Address,
		Email:        citizen.Email,
		OperatorID:   s.operatorID,
		OperatorName: s.operatorName,
	}
	if err := rabbitmq.PublishRegisterCitizenRequested(ctx, s.eventProducer, event); err != nil {
		log.Printf("level=warn component=service op=documents_ready citizen_id=%s msg=\"failed to publish register event\" err=%v", citizenID, err)
	}

	return s.CheckAndCompleteTransfer(ctx, citizenID)
}

// CheckAndCompleteTransfer finalizes an incoming transfer once BOTH gating
// conditions hold: documents are ready and MINTIC verified the citizen. Called
// from the documents.ready path and the register.citizen.completed path, so
// either event order completes the transfer exactly once.
func (s *Service) CheckAndCompleteTransfer(ctx context.Context, citizenID string) error {
	numericID, err := numericCitizenID(citizenID)
	if err != nil {
		return err
	}

	citizen, err := s.repo.FindCitizenByCitizenID(ctx, citizenID)
	if err != nil {
		return err
	}
	affiliation, err := s.repo.FindAffiliationByCitizenID(ctx, citizenID)
	if err != nil {
		return err
	}

	if affiliation.Status != domain.StatusTransferring {
		log.Printf("level=info component=service op=complete_transfer citizen_id=%s status=%s msg=\"not transferring, skipping completion check\"", citizenID, affiliation.Status)
		return nil
	}
	if !affiliation.DocumentsReady || !citizen.IsVerified {
		log.Printf("level=info component=service op=complete_transfer citizen_id=%s documents_ready=%t verified=%t msg=\"still waiting\"", citizenID, affiliation.DocumentsReady, citizen.IsVerified)
		return nil
	}

	if err := s.repo.CompleteIncomingTransfer(ctx, citizenID, time.Now().UTC()); err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			// Another worker completed it between the read and the update.
			return nil
		}
		return fmt.Errorf("failed to complete incoming transfer: %w", err)
	}

	if affiliation.TransferConfirmationURL != nil && *affiliation.TransferConfirmationURL != "" {
		confirmation := domain.TransferConfirmation{
			ID:        json.Number(strconv.FormatInt(numericID, 10)),
			ReqStatus: 1,
		}
		if err := s.peers.SendConfirmation(ctx, *affiliation.TransferConfirmationURL, confirmation); err != nil {
			// The transfer is complete on our side either way.
			log.Printf("level=warn component=service op=complete_transfer citizen_id=%s msg=\"failed to send confirmation to source operator\" err=%v", citizenID, err)
		}
	}

	if err := rabbitmq.PublishAffiliationCreated(ctx, s.eventProducer, numericID); err != nil {
		log.Printf("level=warn component=service op=complete_transfer citizen_id=%s msg=\"failed to publish affiliation.created\" err=%v", citizenID, err)
	}

	log.Printf("level=info component=service op=complete_transfer citizen_id=%s msg=\"transfer completed\"", citizenID)
	return nil
}

// SendTransfer starts an outgoing transfer of a citizen to another operator.
// The affiliation moves to TRANSFERRING and an unregister request is
// published; the unregister.citizen.completed consumer continues the flow.
func (s *Service) SendTransfer(ctx context.Context, citizenID string, target domain.TargetOperator) error {
	numericID, err := numericCitizenID(citizenID)
	if err != nil {
		return err
	}

	citizen, err := s.repo.FindCitizenByCitizenID(ctx, citizenID)
	if err != nil {
		return err
	}

	if err := s.repo.BeginOutgoingTransfer(ctx, citizenID, target, time.Now().UTC()); err != nil {
		return err
	}
	log.Printf("level=info component=service op=send_transfer citizen_id=%s target_operator=%s msg=\"marked transferring\"", citizenID, target.OperatorName)

	event := domain.UnregisterCitizenRequested{
		ID:           numericID,
		OperatorID:   citizen.OperatorID,
		OperatorName: citizen.OperatorName,
	}
	if err := rabbitmq.PublishUnregisterCitizenRequested(ctx, s.eventProducer, event); err != nil {
		log.Printf("level=error component=service op=send_transfer citizen_id=%s msg=\"failed to publish unregister event; rolling back\" err=%v", citizenID, err)
		if rbErr := s.repo.RollbackOutgoingTransfer(ctx, citizenID); rbErr != nil {
			log.Printf("level=error component=service op=send_transfer citizen_id=%s msg=\"rollback failed\" err=%v", citizenID, rbErr)
		}
		return fmt.Errorf("failed to publish unregister event: %w", err)
	}

	return nil
}

// ContinueTransferAfterUnregister resumes an outgoing transfer once MINTIC
// confirmed the unregistration: the citizen's documents are collected and the
// handoff is POSTed to the destination operator. On a peer failure the
// affiliation stays TRANSFERRING so the delivery can be retried.
func (s *Service) ContinueTransferAfterUnregister(ctx context.Context, citizenID string) error {
	numericID, err := numericCitizenID(citizenID)
	if err != nil {
		return err
	}

	citizen, err := s.repo.FindCitizenByCitizenID(ctx, citizenID)
	if err != nil {
		return err
	}
	affiliation, err := s.repo.FindAffiliationByCitizenID(ctx, citizenID)
	if err != nil {
		return err
	}
	if affiliation.Status != domain.StatusTransferring {
		log.Printf("level=info component=service op=continue_transfer citizen_id=%s status=%s msg=\"not transferring, skipping\"", citizenID, affiliation.Status)
		return nil
	}
	if affiliation.TransferDestinationAPIURL == nil || *affiliation.TransferDestinationAPIURL == "" {
		return ErrMissingDestination
	}

	urlDocuments := s.documents.GetCitizenDocuments(ctx, citizenID)

	payload := domain.TransferPayload{
		ID:           json.Number(strconv.FormatInt(numericID, 10)),
		CitizenName:  citizen.Name,
		CitizenEmail: citizen.Email,
		URLDocuments: urlDocuments,
		ConfirmAPI:   s.confirmationURL,
	}

	if err := s.peers.SendTransfer(ctx, *affiliation.TransferDestinationAPIURL, payload); err != nil {
		return fmt.Errorf("failed to send transfer to destination operator: %w", err)
	}

	log.Printf("level=info component=service op=continue_transfer citizen_id=%s msg=\"transfer sent, waiting for confirmation\"", citizenID)
	return nil
}

// HandleTransferConfirmation processes the destination operator's callback for
// an outgoing transfer. A success confirmation finalizes the handoff and
// deletes the local data; a failure rolls the affiliation back to AFFILIATED.
func (s *Service) HandleTransferConfirmation(ctx context.Context, citizenID string, reqStatus int) error {
	numericID, err := numericCitizenID(citizenID)
	if err != nil {
		return err
	}

	if _, err := s.repo.FindCitizenByCitizenID(ctx, citizenID); err != nil {
		return err
	}

	if reqStatus != 1 {
		affiliation, err := s.repo.FindAffiliationByCitizenID(ctx, citizenID)
		if err != nil {
			return err
		}
		// Only an in-flight outgoing transfer can be rolled back; a stray
		// failure callback must not force another status to AFFILIATED.
		if affiliation.Status != domain.StatusTransferring {
			return store.ErrInvalidState
		}
		log.Printf("level=warn component=service op=transfer_confirmation citizen_id=%s msg=\"destination reported failure, rolling back\"", citizenID)
		if err := s.repo.RollbackOutgoingTransfer(ctx, citizenID); err != nil {
			return fmt.Errorf("failed to roll back transfer: %w", err)
		}
		return nil
	}

	if err := s.repo.MarkTransferred(ctx, citizenID, time.Now().UTC()); err != nil {
		return err
	}

	// Published before deletion so downstream services can still resolve the id.
	if err := rabbitmq.PublishUserTransferred(ctx, s.eventProducer, numericID); err != nil {
		log.Printf("level=warn component=service op=transfer_confirmation citizen_id=%s msg=\"failed to publish user.transferred\" err=%v", citizenID, err)
	}

	if err := s.repo.DeleteCitizen(ctx, citizenID); err != nil {
		return fmt.Errorf("failed to delete transferred citizen: %w", err)
	}

	log.Printf("level=info component=service op=transfer_confirmation citizen_id=%s msg=\"citizen transferred and deleted locally\"", citizenID)
	return nil
}

// failIncomingTransfer aborts an incoming transfer whose MINTIC registration
// failed: the affiliation is marked FAILED and the source operator is told to
// roll back via its confirmation callback.
func (s *Service) failIncomingTransfer(ctx context.Context, citizenID string, affiliation *domain.Affiliation) error {
	numericID, err := numericCitizenID(citizenID)
	if err != nil {
		return err
	}

	if err := s.repo.TransitionAffiliationStatus(ctx, citizenID, domain.StatusTransferring, domain.StatusFailed); err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			return nil
		}
		return err
	}

	if affiliation.TransferConfirmationURL != nil && *affiliation.TransferConfirmationURL != "" {
		confirmation := domain.TransferConfirmation{
			ID:        json.Number(strconv.FormatInt(numericID, 10)),
			ReqStatus: 0,
		}
		if err := s.peers.SendConfirmation(ctx, *affiliation.TransferConfirmationURL, confirmation); err != nil {
			log.Printf("level=warn component=service op=fail_transfer citizen_id=%s msg=\"failed to send failure confirmation to source operator\" err=%v", citizenID, err)
		}
	}
	return nil
}
