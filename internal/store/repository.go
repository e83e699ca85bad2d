/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the affiliation-service. By
 * defining an interface, we decouple the coordinators' business logic from the
 * PostgreSQL implementation and keep them testable with hand-written stubs.
 *
 * @notes
 * - State transitions are compare-and-set: methods that move an affiliation
 *   between statuses carry the expected current status in the UPDATE's WHERE
 *   clause and return ErrInvalidState when another worker won the race.
 *   Callers must treat ErrInvalidState as a no-op outcome, not a retryable
 *   failure.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/govcarpeta/affiliation-service/internal/domain"
)

var (
	ErrCitizenNotFound     = errors.New("citizen not found")
	ErrAffiliationNotFound = errors.New("affiliation not found")
	ErrCitizenExists       = errors.New("citizen already exists")
	ErrInvalidState        = errors.New("affiliation is not in the expected state")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Citizen methods
	CreateCitizenWithAffiliation(ctx context.Context, citizen *domain.Citizen, affiliation *domain.Affiliation) error
	FindCitizenByCitizenID(ctx context.Context, citizenID string) (*domain.Citizen, error)
	UpdateCitizenVerification(ctx context.Context, citizenID string, verified bool, status string, message string) error
	SetCitizenRegistered(ctx context.Context, citizenID string, registered bool) error
	SetCitizenPendingDeletion(ctx context.Context, citizenID string, pending bool, message *string) error
	DeleteCitizen(ctx context.Context, citizenID string) error

	// Affiliation methods
	FindAffiliationByCitizenID(ctx context.Context, citizenID string) (*domain.Affiliation, error)
	SetAffiliationStatus(ctx context.Context, citizenID string, status string) error
	TransitionAffiliationStatus(ctx context.Context, citizenID string, fromStatus, toStatus string) error
	SetDocumentsReady(ctx context.Context, citizenID string) error

	// Transfer state transitions (compare-and-set)
	BeginOutgoingTransfer(ctx context.Context, citizenID string, target domain.TargetOperator, startedAt time.Time) error
	RollbackOutgoingTransfer(ctx context.Context, citizenID string) error
	MarkTransferred(ctx context.Context, citizenID string, completedAt time.Time) error
	CompleteIncomingTransfer(ctx context.Context, citizenID string, completedAt time.Time) error
}
