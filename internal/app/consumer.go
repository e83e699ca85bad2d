package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/govcarpeta/affiliation-service/internal/domain"
	"github.com/govcarpeta/affiliation-service/internal/store"
	"github.com/govcarpeta/affiliation-service/pkg/rabbitmq"
)

// EventConsumer handles the inbound events the affiliation flow waits on.
// Handlers ack no-ops (unknown citizens, stale states) and requeue only
// failures that a later delivery can succeed at.
type EventConsumer struct {
	svc *Service
}

func NewEventConsumer(svc *Service) *EventConsumer {
	return &EventConsumer{svc: svc}
}

// HandleRegisterCompleted processes register.citizen.completed events from
// operator-connectivity. StatusCode 201 marks the citizen verified; any other
// code marks the verification failed.
func (c *EventConsumer) HandleRegisterCompleted(body []byte) rabbitmq.Decision {
	var event domain.RegisterCitizenCompleted
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("register-consumer: failed to unmarshal payload: %v", err)
		return rabbitmq.NackDrop
	}

	citizenID := strings.TrimSpace(event.ID.String())
	if citizenID == "" {
		log.Printf("register-consumer: missing citizen id in event %+v", event)
		return rabbitmq.Ack
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processRegisterCompleted(ctx, citizenID, event.StatusCode); err != nil {
		if errors.Is(err, store.ErrCitizenNotFound) || errors.Is(err, store.ErrAffiliationNotFound) {
			log.Printf("register-consumer: citizen %s not found; acknowledging", citizenID)
			return rabbitmq.Ack
		}
		log.Printf("register-consumer: processing error for citizen %s: %v", citizenID, err)
		return rabbitmq.NackRequeue
	}

	return rabbitmq.Ack
}

func (c *EventConsumer) processRegisterCompleted(ctx context.Context, citizenID string, statusCode int) error {
	if _, err := c.svc.repo.FindCitizenByCitizenID(ctx, citizenID); err != nil {
		return err
	}

	if statusCode == 201 {
		if err := c.svc.repo.UpdateCitizenVerification(ctx, citizenID, true, domain.VerificationVerified, "Citizen successfully registered in MINTIC"); err != nil {
			return fmt.Errorf("update verification: %w", err)
		}

		affiliation, err := c.svc.repo.FindAffiliationByCitizenID(ctx, citizenID)
		if err != nil {
			return err
		}
		if affiliation.Status == domain.StatusTransferring {
			// Incoming transfer: verification is one of the two completion gates.
			return c.svc.CheckAndCompleteTransfer(ctx, citizenID)
		}
		if err := c.svc.repo.TransitionAffiliationStatus(ctx, citizenID, domain.StatusPending, domain.StatusAffiliated); err != nil {
			if errors.Is(err, store.ErrInvalidState) {
				log.Printf("register-consumer: citizen %s not pending, leaving status %s", citizenID, affiliation.Status)
				return nil
			}
			return fmt.Errorf("transition to affiliated: %w", err)
		}
		return nil
	}

	message := fmt.Sprintf("Registration failed with status code: %d", statusCode)
	if err := c.svc.repo.UpdateCitizenVerification(ctx, citizenID, false, domain.VerificationFailed, message); err != nil {
		return fmt.Errorf("update verification: %w", err)
	}

	affiliation, err := c.svc.repo.FindAffiliationByCitizenID(ctx, citizenID)
	if err != nil {
		return err
	}
	if affiliation.Status == domain.StatusTransferring {
		// Incoming transfer whose registration failed: tell the source
		// operator to keep the citizen.
		return c.svc.failIncomingTransfer(ctx, citizenID, affiliation)
	}
	return c.svc.repo.SetAffiliationStatus(ctx, citizenID, domain.StatusFailed)
}

// HandleUnregisterCompleted processes unregister.citizen.completed events. A
// success either continues an outgoing transfer or finishes a direct deletion;
// a failure rolls the citizen back to AFFILIATED.
func (c *EventConsumer) HandleUnregisterCompleted(body []byte) rabbitmq.Decision {
	var event domain.UnregisterCitizenCompleted
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("unregister-consumer: failed to unmarshal payload: %v", err)
		return rabbitmq.NackDrop
	}

	citizenID := strings.TrimSpace(event.ID.String())
	if citizenID == "" {
		log.Printf("unregister-consumer: missing citizen id in event %+v", event)
		return rabbitmq.Ack
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processUnregisterCompleted(ctx, citizenID, event); err != nil {
		if errors.Is(err, store.ErrCitizenNotFound) || errors.Is(err, store.ErrAffiliationNotFound) {
			log.Printf("unregister-consumer: citizen %s not found (may already be deleted); acknowledging", citizenID)
			return rabbitmq.Ack
		}
		if errors.Is(err, ErrMissingDestination) {
			// A TRANSFERRING affiliation without a destination is an incoming
			// transfer; this event is stale or misrouted and a redelivery can
			// never succeed.
			log.Printf("unregister-consumer: no outgoing transfer destination for citizen %s; acknowledging", citizenID)
			return rabbitmq.Ack
		}
		log.Printf("unregister-consumer: processing error for citizen %s: %v", citizenID, err)
		return rabbitmq.NackRequeue
	}

	return rabbitmq.Ack
}

func (c *EventConsumer) processUnregisterCompleted(ctx context.Context, citizenID string, event domain.UnregisterCitizenCompleted) error {
	if _, err := c.svc.repo.FindCitizenByCitizenID(ctx, citizenID); err != nil {
		return err
	}
	affiliation, err := c.svc.repo.FindAffiliationByCitizenID(ctx, citizenID)
	if err != nil {
		return err
	}

	if !event.Success {
		message := unregisterFailureMessage(event)
		log.Printf("unregister-consumer: unregister failed for citizen %s: %s", citizenID, message)
		failure := "Unregister failed: " + message
		if err := c.svc.repo.SetCitizenPendingDeletion(ctx, citizenID, false, &failure); err != nil {
			return fmt.Errorf("clear pending deletion: %w", err)
		}
		if affiliation.Status == domain.StatusTransferring {
			// Outgoing transfer: the rollback also clears the destination
			// fields so the affiliation carries no stale transfer state.
			return c.svc.repo.RollbackOutgoingTransfer(ctx, citizenID)
		}
		return c.svc.repo.SetAffiliationStatus(ctx, citizenID, domain.StatusAffiliated)
	}

	if affiliation.Status == domain.StatusTransferring {
		// Outgoing transfer: hand the citizen off to the destination operator.
		return c.svc.ContinueTransferAfterUnregister(ctx, citizenID)
	}

	// Direct deletion confirmed by the authority.
	numericID, err := numericCitizenID(citizenID)
	if err != nil {
		return err
	}
	if err := rabbitmq.PublishUserTransferred(ctx, c.svc.eventProducer, numericID); err != nil {
		log.Printf("unregister-consumer: failed to publish user.transferred for citizen %s: %v", citizenID, err)
	}
	if err := c.svc.repo.DeleteCitizen(ctx, citizenID); err != nil {
		return fmt.Errorf("delete citizen: %w", err)
	}
	log.Printf("unregister-consumer: citizen %s deleted after external confirmation", citizenID)
	return nil
}

// HandleDocumentsReady processes documents.ready events from the document
// service, which unlock one of the two incoming-transfer completion gates.
func (c *EventConsumer) HandleDocumentsReady(body []byte) rabbitmq.Decision {
	var event domain.DocumentsReady
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("documents-consumer: failed to unmarshal payload: %v", err)
		return rabbitmq.NackDrop
	}

	citizenID := strings.TrimSpace(event.IDCitizen.String())
	if citizenID == "" {
		log.Printf("documents-consumer: missing citizen id in event %+v", event)
		return rabbitmq.Ack
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.svc.CompleteTransferAfterDocuments(ctx, citizenID); err != nil {
		if errors.Is(err, store.ErrCitizenNotFound) || errors.Is(err, store.ErrAffiliationNotFound) || errors.Is(err, ErrInvalidCitizenID) {
			log.Printf("documents-consumer: no transfer waiting for citizen %s; acknowledging", citizenID)
			return rabbitmq.Ack
		}
		log.Printf("documents-consumer: processing error for citizen %s: %v", citizenID, err)
		return rabbitmq.NackRequeue
	}

	return rabbitmq.Ack
}

func unregisterFailureMessage(event domain.UnregisterCitizenCompleted) string {
	if event.Error != nil {
		if msg, ok := event.Error["message"].(string); ok && strings.TrimSpace(msg) != "" {
			return msg
		}
	}
	if strings.TrimSpace(event.Message) != "" {
		return event.Message
	}
	return "no message provided"
}
