/**
 * @description
 * This file contains the core business logic for the affiliation-service. The
 * `Service` struct orchestrates citizen registration and affiliation lifecycle
 * operations, coordinating between the database repository, the GovCarpeta
 * authority client, and the message broker.
 *
 * Key features:
 * - Implements citizen registration with optimistic local creation followed by
 *   asynchronous MINTIC verification.
 * - Implements direct affiliation deletion as a two-phase flow gated on the
 *   external unregister confirmation.
 * - Publishes events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/govcarpeta, pkg/documents, pkg/operatorclient, pkg/rabbitmq: For
 *   external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/govcarpeta/affiliation-service/internal/domain"
	"github.com/govcarpeta/affiliation-service/internal/store"
	"github.com/govcarpeta/affiliation-service/pkg/documents"
	"github.com/govcarpeta/affiliation-service/pkg/govcarpeta"
	"github.com/govcarpeta/affiliation-service/pkg/operatorclient"
	"github.com/govcarpeta/affiliation-service/pkg/rabbitmq"
)

var (
	ErrInvalidCitizenID    = errors.New("citizen id must be a positive number")
	ErrAlreadyRegistered   = errors.New("citizen already registered and verified")
	ErrVerificationPending = errors.New("citizen already registered, waiting for verification")
	ErrRegisteredElsewhere = errors.New("citizen is already registered with another operator")
	ErrDeletionPending     = errors.New("citizen is already pending deletion")
)

// Registry abstracts the GovCarpeta authority client for testability.
type Registry interface {
	ValidateCitizen(ctx context.Context, citizenID string) (bool, string, error)
	GetOperators(ctx context.Context) ([]domain.Operator, error)
}

// DocumentFetcher abstracts the document service client.
type DocumentFetcher interface {
	GetCitizenDocuments(ctx context.Context, citizenID string) map[string]interface{}
}

// PeerClient abstracts the peer operator transfer client.
type PeerClient interface {
	SendTransfer(ctx context.Context, transferURL string, payload domain.TransferPayload) error
	SendConfirmation(ctx context.Context, confirmURL string, confirmation domain.TransferConfirmation) error
}

// Service provides the core business logic for citizen affiliations.
type Service struct {
	repo            store.Repository
	registry        Registry
	documents       DocumentFetcher
	peers           PeerClient
	eventProducer   rabbitmq.Publisher
	operatorID      string
	operatorName    string
	confirmationURL string
}

// NewService creates a new affiliation service instance.
func NewService(repo store.Repository, registry Registry, docs DocumentFetcher, peers PeerClient, producer rabbitmq.Publisher, operatorID, operatorName, confirmationURL string) *Service {
	return &Service{
		repo:            repo,
		registry:        registry,
		documents:       docs,
		peers:           peers,
		eventProducer:   producer,
		operatorID:      operatorID,
		operatorName:    operatorName,
		confirmationURL: confirmationURL,
	}
}

var _ Registry = (*govcarpeta.Client)(nil)
var _ DocumentFetcher = (*documents.Client)(nil)
var _ PeerClient = (*operatorclient.Client)(nil)

// numericCitizenID parses the federation-wide citizen id. Events carry it as a
// JSON number, so it must be a positive integer.
func numericCitizenID(citizenID string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(citizenID), 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrInvalidCitizenID
	}
	return n, nil
}

// RegisterCitizen registers a new citizen with this operator. The citizen is
// created locally with a pending verification status, then a registration
// request is published for the operator-connectivity service to confirm with
// MINTIC. Verification lands asynchronously via register.citizen.completed.
func (s *Service) RegisterCitizen(ctx context.Context, req domain.RegisterCitizenRequest) (*domain.Citizen, error) {
	numericID, err := numericCitizenID(req.CitizenID)
	if err != nil {
		return nil, err
	}
	citizenID := strconv.FormatInt(numericID, 10)

	existing, err := s.repo.FindCitizenByCitizenID(ctx, citizenID)
	if err != nil && !errors.Is(err, store.ErrCitizenNotFound) {
		return nil, fmt.Errorf("failed to look up citizen: %w", err)
	}
	if existing != nil {
		switch {
		case existing.IsVerified:
			return nil, ErrAlreadyRegistered
		case existing.VerificationStatus == domain.VerificationPending:
			return nil, ErrVerificationPending
		default:
			// A failed verification may be retried from scratch.
			log.Printf("level=info component=service op=register_citizen citizen_id=%s msg=\"retrying after failed verification\"", citizenID)
			if err := s.repo.DeleteCitizen(ctx, citizenID); err != nil {
				return nil, fmt.Errorf("failed to clear failed registration: %w", err)
			}
		}
	}

	exists, message, err := s.registry.ValidateCitizen(ctx, citizenID)
	if err != nil {
		// The authority being unreachable does not block registration; the
		// asynchronous MINTIC confirmation is the source of truth.
		log.Printf("level=warn component=service op=register_citizen citizen_id=%s msg=\"validation against authority failed\" err=%v", citizenID, err)
	} else if exists {
		log.Printf("level=info component=service op=register_citizen citizen_id=%s msg=\"citizen already known to authority\" detail=%q", citizenID, message)
		return nil, ErrRegisteredElsewhere
	}

	verificationMessage := "Waiting for MINTIC verification"
	citizen := &domain.Citizen{
		ID:                  uuid.New(),
		CitizenID:           citizenID,
		Name:                req.Name,
		Address:             req.Address,
		Email:               req.Email,
		OperatorID:          s.operatorID,
		OperatorName:        s.operatorName,
		IsRegistered:        true,
		IsVerified:          false,
		VerificationStatus:  domain.VerificationPending,
		VerificationMessage: &verificationMessage,
	}
	affiliation := &domain.Affiliation{
		ID:           uuid.New(),
		CitizenID:    citizenID,
		OperatorID:   s.operatorID,
		OperatorName: s.operatorName,
		Status:       domain.StatusPending,
		AffiliatedAt: time.Now().UTC(),
	}

	if err := s.repo.CreateCitizenWithAffiliation(ctx, citizen, affiliation); err != nil {
		return nil, err
	}

	event := domain.RegisterCitizenRequested{
		ID:           numericID,
		Name:         req.Name,
		Address:      req.Address,
		Email:        req.Email,
		OperatorID:   s.operatorID,
		OperatorName: s.operatorName,
	}
	if err := rabbitmq.PublishRegisterCitizenRequested(ctx, s.eventProducer, event); err != nil {
		// The citizen stays registered locally; verification will not arrive
		// until the event is re-published.
		log.Printf("level=warn component=service op=register_citizen citizen_id=%s msg=\"failed to publish register event; citizen created locally\" err=%v", citizenID, err)
	}

	return citizen, nil
}

// GetAffiliationStatus returns the current affiliation projection for a citizen.
func (s *Service) GetAffiliationStatus(ctx context.Context, citizenID string) (*domain.AffiliationStatus, error) {
	citizen, err := s.repo.FindCitizenByCitizenID(ctx, citizenID)
	if err != nil {
		return nil, err
	}
	affiliation, err := s.repo.FindAffiliationByCitizenID(ctx, citizenID)
	if err != nil {
		return nil, err
	}

	return &domain.AffiliationStatus{
		CitizenID:                       citizen.CitizenID,
		CitizenName:                     citizen.Name,
		CitizenEmail:                    citizen.Email,
		OperatorID:                      affiliation.OperatorID,
		OperatorName:                    affiliation.OperatorName,
		Status:                          affiliation.Status,
		VerificationStatus:              citizen.VerificationStatus,
		AffiliatedAt:                    affiliation.AffiliatedAt.Format(time.RFC3339),
		TransferDestinationOperatorID:   affiliation.TransferDestinationOperatorID,
		TransferDestinationOperatorName: affiliation.TransferDestinationOperatorName,
	}, nil
}

// DeleteAffiliation starts the two-phase deletion of a citizen's affiliation.
// The citizen is marked pending deletion and an unregister request is
// published; the actual row deletion happens when unregister.citizen.completed
// confirms the external removal.
func (s *Service) DeleteAffiliation(ctx context.Context, citizenID string) error {
	numericID, err := numericCitizenID(citizenID)
	if err != nil {
		return err
	}

	citizen, err := s.repo.FindCitizenByCitizenID(ctx, citizenID)
	if err != nil {
		return err
	}
	if citizen.PendingDeletion {
		return ErrDeletionPending
	}

	pendingMessage := "Waiting for MINTIC unregister confirmation"
	if err := s.repo.SetCitizenPendingDeletion(ctx, citizenID, true, &pendingMessage); err != nil {
		return fmt.Errorf("failed to mark citizen for deletion: %w", err)
	}
	if err := s.repo.SetAffiliationStatus(ctx, citizenID, domain.StatusPendingDeletion); err != nil {
		return fmt.Errorf("failed to update affiliation status: %w", err)
	}

	event := domain.UnregisterCitizenRequested{
		ID:           numericID,
		OperatorID:   citizen.OperatorID,
		OperatorName: citizen.OperatorName,
	}
	if err := rabbitmq.PublishUnregisterCitizenRequested(ctx, s.eventProducer, event); err != nil {
		log.Printf("level=warn component=service op=delete_affiliation citizen_id=%s msg=\"failed to publish unregister event; rolling back\" err=%v", citizenID, err)
		if rbErr := s.repo.SetCitizenPendingDeletion(ctx, citizenID, false, nil); rbErr != nil {
			log.Printf("level=error component=service op=delete_affiliation citizen_id=%s msg=\"rollback of pending deletion failed\" err=%v", citizenID, rbErr)
		}
		if rbErr := s.repo.SetAffiliationStatus(ctx, citizenID, domain.StatusAffiliated); rbErr != nil {
			log.Printf("level=error component=service op=delete_affiliation citizen_id=%s msg=\"rollback of affiliation status failed\" err=%v", citizenID, rbErr)
		}
		return fmt.Errorf("failed to publish unregister event: %w", err)
	}

	return nil
}

// ValidateCitizen checks the external authority for the citizen's existence.
func (s *Service) ValidateCitizen(ctx context.Context, citizenID string) (bool, string, error) {
	if _, err := numericCitizenID(citizenID); err != nil {
		return false, "", err
	}
	return s.registry.ValidateCitizen(ctx, citizenID)
}

// GetOperators returns the federation operator directory.
func (s *Service) GetOperators(ctx context.Context) ([]domain.Operator, error) {
	return s.registry.GetOperators(ctx)
}
