/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed to maintain the citizen registry:
 * the `citizens` table and its 1:1 `affiliations` table.
 *
 * @notes
 * - `citizens.citizen_id` carries a uniqueness constraint; concurrent creates
 *   of the same citizen are resolved by the database, not application logic.
 * - Status transitions are single-row compare-and-set updates: the expected
 *   current status sits in the WHERE clause and a zero row count surfaces as
 *   ErrInvalidState. This is what makes interleaved events for the same
 *   citizen safe across consumer workers.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/govcarpeta/affiliation-service/internal/domain"
)

const uniqueViolationCode = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateCitizenWithAffiliation inserts the citizen and its affiliation in one
// transaction. A duplicate citizen_id on either table maps to ErrCitizenExists.
func (r *PostgresRepository) CreateCitizenWithAffiliation(ctx context.Context, citizen *domain.Citizen, affiliation *domain.Affiliation) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO citizens (id, citizen_id, name, address, email, operator_id, operator_name,
		                      is_registered, is_verified, verification_status, verification_message,
		                      pending_deletion, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, false, now(), now())`,
		citizen.ID, citizen.CitizenID, citizen.Name, citizen.Address, citizen.Email,
		citizen.OperatorID, citizen.OperatorName, citizen.IsRegistered, citizen.IsVerified,
		citizen.VerificationStatus, citizen.VerificationMessage,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCitizenExists
		}
		return fmt.Errorf("insert citizen: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO affiliations (id, citizen_id, operator_id, operator_name, status,
		                          affiliated_at, status_changed_at,
		                          transfer_source_operator_id, transfer_source_operator_name,
		                          transfer_confirmation_url, transfer_started_at,
		                          documents_ready, notes)
		VALUES ($1, $2, $3, $4, $5, now(), now(), $6, $7, $8, $9, $10, $11)`,
		affiliation.ID, affiliation.CitizenID, affiliation.OperatorID, affiliation.OperatorName,
		affiliation.Status, affiliation.TransferSourceOperatorID, affiliation.TransferSourceOperatorName,
		affiliation.TransferConfirmationURL, affiliation.TransferStartedAt,
		affiliation.DocumentsReady, affiliation.Notes,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCitizenExists
		}
		return fmt.Errorf("insert affiliation: %w", err)
	}

	return tx.Commit(ctx)
}

// FindCitizenByCitizenID retrieves a citizen by its federation-wide id.
func (r *PostgresRepository) FindCitizenByCitizenID(ctx context.Context, citizenID string) (*domain.Citizen, error) {
	var c domain.Citizen
	err := r.db.QueryRow(ctx, `
		SELECT id, citizen_id, name, address, email, operator_id, operator_name,
		       is_registered, is_verified, verification_status, verification_message,
		       pending_deletion, created_at, updated_at
		FROM citizens WHERE citizen_id = $1`, citizenID,
	).Scan(&c.ID, &c.CitizenID, &c.Name, &c.Address, &c.Email, &c.OperatorID, &c.OperatorName,
		&c.IsRegistered, &c.IsVerified, &c.VerificationStatus, &c.VerificationMessage,
		&c.PendingDeletion, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCitizenNotFound
		}
		return nil, err
	}
	return &c, nil
}

// UpdateCitizenVerification records the outcome reported by the external authority.
func (r *PostgresRepository) UpdateCitizenVerification(ctx context.Context, citizenID string, verified bool, status string, message string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE citizens
		SET is_verified = $2, verification_status = $3, verification_message = $4, updated_at = now()
		WHERE citizen_id = $1`, citizenID, verified, status, message)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCitizenNotFound
	}
	return nil
}

// SetCitizenRegistered flips the local registration flag.
func (r *PostgresRepository) SetCitizenRegistered(ctx context.Context, citizenID string, registered bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE citizens SET is_registered = $2, updated_at = now() WHERE citizen_id = $1`,
		citizenID, registered)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCitizenNotFound
	}
	return nil
}

// SetCitizenPendingDeletion marks or unmarks a citizen as awaiting unregister
// confirmation. A nil message clears the verification message.
func (r *PostgresRepository) SetCitizenPendingDeletion(ctx context.Context, citizenID string, pending bool, message *string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE citizens SET pending_deletion = $2, verification_message = $3, updated_at = now() WHERE citizen_id = $1`,
		citizenID, pending, message)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCitizenNotFound
	}
	return nil
}

// DeleteCitizen removes the citizen and, via the foreign key cascade, its
// affiliation. The affiliation is still deleted explicitly first so the
// ordering holds even without the cascade.
func (r *PostgresRepository) DeleteCitizen(ctx context.Context, citizenID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM affiliations WHERE citizen_id = $1`, citizenID); err != nil {
		return fmt.Errorf("delete affiliation: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM citizens WHERE citizen_id = $1`, citizenID)
	if err != nil {
		return fmt.Errorf("delete citizen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCitizenNotFound
	}
	return tx.Commit(ctx)
}

// FindAffiliationByCitizenID retrieves the citizen's affiliation record.
func (r *PostgresRepository) FindAffiliationByCitizenID(ctx context.Context, citizenID string) (*domain.Affiliation, error) {
	var a domain.Affiliation
	err := r.db.QueryRow(ctx, `
		SELECT id, citizen_id, operator_id, operator_name, status, affiliated_at, status_changed_at,
		       transfer_destination_operator_id, transfer_destination_operator_name, transfer_destination_api_url,
		       transfer_source_operator_id, transfer_source_operator_name, transfer_confirmation_url,
		       transfer_started_at, transfer_completed_at, documents_ready, notes
		FROM affiliations WHERE citizen_id = $1`, citizenID,
	).Scan(&a.ID, &a.CitizenID, &a.OperatorID, &a.OperatorName, &a.Status, &a.AffiliatedAt, &a.StatusChangedAt,
		&a.TransferDestinationOperatorID, &a.TransferDestinationOperatorName, &a.TransferDestinationAPIURL,
		&a.TransferSourceOperatorID, &a.TransferSourceOperatorName, &a.TransferConfirmationURL,
		&a.TransferStartedAt, &a.TransferCompletedAt, &a.DocumentsReady, &a.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAffiliationNotFound
		}
		return nil, err
	}
	return &a, nil
}

// SetAffiliationStatus updates the status unconditionally. Used for terminal
// failure marking where the previous status does not matter.
func (r *PostgresRepository) SetAffiliationStatus(ctx context.Context, citizenID string, status string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE affiliations SET status = $2, status_changed_at = now() WHERE citizen_id = $1`,
		citizenID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAffiliationNotFound
	}
	return nil
}

// TransitionAffiliationStatus moves the affiliation from one status to another
// only if it is still in the expected status.
func (r *PostgresRepository) TransitionAffiliationStatus(ctx context.Context, citizenID string, fromStatus, toStatus string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE affiliations SET status = $3, status_changed_at = now()
		WHERE citizen_id = $1 AND status = $2`, citizenID, fromStatus, toStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// SetDocumentsReady records that the document service finished ingesting the
// citizen's files.
func (r *PostgresRepository) SetDocumentsReady(ctx context.Context, citizenID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE affiliations SET documents_ready = true, status_changed_at = now() WHERE citizen_id = $1`,
		citizenID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAffiliationNotFound
	}
	return nil
}

// BeginOutgoingTransfer marks an AFFILIATED citizen as TRANSFERRING and
// records the destination operator. Fails with ErrInvalidState if the citizen
// is not currently AFFILIATED.
func (r *PostgresRepository) BeginOutgoingTransfer(ctx context.Context, citizenID string, target domain.TargetOperator, startedAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE affiliations
		SET status = $2, status_changed_at = now(),
		    transfer_destination_operator_id = $3,
		    transfer_destination_operator_name = $4,
		    transfer_destination_api_url = $5,
		    transfer_started_at = $6
		WHERE citizen_id = $1 AND status = $7`,
		citizenID, domain.StatusTransferring,
		target.OperatorID, target.OperatorName, target.APIURL, startedAt,
		domain.StatusAffiliated)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// RollbackOutgoingTransfer restores a TRANSFERRING affiliation to AFFILIATED,
// clears the destination fields and drops any pending deletion mark, all in
// one transaction so a failed unregister never leaves partial transfer state.
func (r *PostgresRepository) RollbackOutgoingTransfer(ctx context.Context, citizenID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE affiliations
		SET status = $2, status_changed_at = now(),
		    transfer_destination_operator_id = NULL,
		    transfer_destination_operator_name = NULL,
		    transfer_destination_api_url = NULL,
		    transfer_started_at = NULL
		WHERE citizen_id = $1`, citizenID, domain.StatusAffiliated)
	if err != nil {
		return fmt.Errorf("rollback affiliation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAffiliationNotFound
	}

	if _, err := tx.Exec(ctx,
		`UPDATE citizens SET pending_deletion = false, updated_at = now() WHERE citizen_id = $1`,
		citizenID); err != nil {
		return fmt.Errorf("clear pending deletion: %w", err)
	}

	return tx.Commit(ctx)
}

// MarkTransferred records a confirmed outgoing transfer. Guarded on
// TRANSFERRING so a duplicate confirmation is a no-op.
func (r *PostgresRepository) MarkTransferred(ctx context.Context, citizenID string, completedAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE affiliations
		SET status = $2, status_changed_at = now(), transfer_completed_at = $3
		WHERE citizen_id = $1 AND status = $4`,
		citizenID, domain.StatusTransferred, completedAt, domain.StatusTransferring)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// CompleteIncomingTransfer finalizes an incoming transfer: the affiliation
// becomes AFFILIATED and the citizen is marked registered. The status guard
// makes the completion gate idempotent even when two workers race through it.
func (r *PostgresRepository) CompleteIncomingTransfer(ctx context.Context, citizenID string, completedAt time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE affiliations
		SET status = $2, status_changed_at = now(), transfer_completed_at = $3
		WHERE citizen_id = $1 AND status = $4`,
		citizenID, domain.StatusAffiliated, completedAt, domain.StatusTransferring)
	if err != nil {
		return fmt.Errorf("complete affiliation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}

	if _, err := tx.Exec(ctx,
		`UPDATE citizens SET is_registered = true, updated_at = now() WHERE citizen_id = $1`,
		citizenID); err != nil {
		return fmt.Errorf("mark citizen registered: %w", err)
	}

	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
