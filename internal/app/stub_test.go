package app

import (
	"context"
	"time"

	"github.com/govcarpeta/affiliation-service/internal/domain"
	"github.com/govcarpeta/affiliation-service/internal/store"
)

// affiliationRepoStub backs the app tests with a single in-memory citizen and
// affiliation, mutating them the way the real repository would so handlers
// that re-read state observe their own writes.
type affiliationRepoStub struct {
	store.Repository

	citizen     *domain.Citizen
	affiliation *domain.Affiliation

	createCalled          bool
	createErr             error
	deleteCalled          bool
	deleteErr             error
	docsReadyCalled       bool
	beginCalled           bool
	beginErr              error
	rollbackCalled        bool
	markTransferredCalled bool
	markTransferredErr    error
	completeCalled        bool
	completeErr           error
	verificationCalled    bool
	verificationVerified  bool
	verificationStatus    string
	transitionCalled      bool
	transitionFrom        string
	transitionTo          string
	transitionErr         error
	setStatusCalled       bool
	setStatusValue        string
	pendingCalled         bool
	pendingValue          bool
}

func (s *affiliationRepoStub) CreateCitizenWithAffiliation(ctx context.Context, citizen *domain.Citizen, affiliation *domain.Affiliation) error {
	s.createCalled = true
	if s.createErr != nil {
		return s.createErr
	}
	if s.citizen != nil {
		return store.ErrCitizenExists
	}
	s.citizen = citizen
	s.affiliation = affiliation
	return nil
}

func (s *affiliationRepoStub) FindCitizenByCitizenID(ctx context.Context, citizenID string) (*domain.Citizen, error) {
	if s.citizen == nil || s.citizen.CitizenID != citizenID {
		return nil, store.ErrCitizenNotFound
	}
	return s.citizen, nil
}

func (s *affiliationRepoStub) FindAffiliationByCitizenID(ctx context.Context, citizenID string) (*domain.Affiliation, error) {
	if s.affiliation == nil || s.affiliation.CitizenID != citizenID {
		return nil, store.ErrAffiliationNotFound
	}
	return s.affiliation, nil
}

func (s *affiliationRepoStub) UpdateCitizenVerification(ctx context.Context, citizenID string, verified bool, status string, message string) error {
	s.verificationCalled = true
	s.verificationVerified = verified
	s.verificationStatus = status
	if s.citizen != nil {
		s.citizen.IsVerified = verified
		s.citizen.VerificationStatus = status
		s.citizen.VerificationMessage = &message
	}
	return nil
}

func (s *affiliationRepoStub) SetCitizenPendingDeletion(ctx context.Context, citizenID string, pending bool, message *string) error {
	s.pendingCalled = true
	s.pendingValue = pending
	if s.citizen != nil {
		s.citizen.PendingDeletion = pending
		s.citizen.VerificationMessage = message
	}
	return nil
}

func (s *affiliationRepoStub) DeleteCitizen(ctx context.Context, citizenID string) error {
	s.deleteCalled = true
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.citizen = nil
	s.affiliation = nil
	return nil
}

func (s *affiliationRepoStub) SetAffiliationStatus(ctx context.Context, citizenID string, status string) error {
	s.setStatusCalled = true
	s.setStatusValue = status
	if s.affiliation != nil {
		s.affiliation.Status = status
	}
	return nil
}

func (s *affiliationRepoStub) TransitionAffiliationStatus(ctx context.Context, citizenID string, fromStatus, toStatus string) error {
	s.transitionCalled = true
	s.transitionFrom = fromStatus
	s.transitionTo = toStatus
	if s.transitionErr != nil {
		return s.transitionErr
	}
	if s.affiliation == nil || s.affiliation.Status != fromStatus {
		return store.ErrInvalidState
	}
	s.affiliation.Status = toStatus
	return nil
}

func (s *affiliationRepoStub) SetDocumentsReady(ctx context.Context, citizenID string) error {
	s.docsReadyCalled = true
	if s.affiliation != nil {
		s.affiliation.DocumentsReady = true
	}
	return nil
}

func (s *affiliationRepoStub) BeginOutgoingTransfer(ctx context.Context, citizenID string, target domain.TargetOperator, startedAt time.Time) error {
	s.beginCalled = true
	if s.beginErr != nil {
		return s.beginErr
	}
	if s.affiliation == nil || s.affiliation.Status != domain.StatusAffiliated {
		return store.ErrInvalidState
	}
	s.affiliation.Status = domain.StatusTransferring
	s.affiliation.TransferDestinationOperatorID = &target.OperatorID
	s.affiliation.TransferDestinationOperatorName = &target.OperatorName
	s.affiliation.TransferDestinationAPIURL = &target.APIURL
	s.affiliation.TransferStartedAt = &startedAt
	return nil
}

func (s *affiliationRepoStub) RollbackOutgoingTransfer(ctx context.Context, citizenID string) error {
	s.rollbackCalled = true
	if s.affiliation != nil {
		s.affiliation.Status = domain.StatusAffiliated
		s.affiliation.TransferDestinationOperatorID = nil
		s.affiliation.TransferDestinationOperatorName = nil
		s.affiliation.TransferDestinationAPIURL = nil
		s.affiliation.TransferStartedAt = nil
	}
	return nil
}

func (s *affiliationRepoStub) MarkTransferred(ctx context.Context, citizenID string, completedAt time.Time) error {
	s.markTransferredCalled = true
	if s.markTransferredErr != nil {
		return s.markTransferredErr
	}
	if s.affiliation == nil || s.affiliation.Status != domain.StatusTransferring {
		return store.ErrInvalidState
	}
	s.affiliation.Status = domain.StatusTransferred
	s.affiliation.TransferCompletedAt = &completedAt
	return nil
}

func (s *affiliationRepoStub) CompleteIncomingTransfer(ctx context.Context, citizenID string, completedAt time.Time) error {
	s.completeCalled = true
	if s.completeErr != nil {
		return s.completeErr
	}
	if s.affiliation == nil || s.affiliation.Status != domain.StatusTransferring {
		return store.ErrInvalidState
	}
	s.affiliation.Status = domain.StatusAffiliated
	s.affiliation.TransferCompletedAt = &completedAt
	if s.citizen != nil {
		s.citizen.IsRegistered = true
	}
	return nil
}

// publisherStub records published events and can fail selected routing keys.
type publisherStub struct {
	published []publishedEvent
	failKeys  map[string]error
}

type publishedEvent struct {
	routingKey string
	body       interface{}
}

func (p *publisherStub) Publish(ctx context.Context, routingKey string, body interface{}) error {
	if err, ok := p.failKeys[routingKey]; ok {
		return err
	}
	p.published = append(p.published, publishedEvent{routingKey: routingKey, body: body})
	return nil
}

func (p *publisherStub) Close() {}

func (p *publisherStub) countByKey(routingKey string) int {
	n := 0
	for _, e := range p.published {
		if e.routingKey == routingKey {
			n++
		}
	}
	return n
}

// peersStub records peer operator calls.
type peersStub struct {
	transfers       []domain.TransferPayload
	transferURLs    []string
	transferErr     error
	confirmations   []domain.TransferConfirmation
	confirmURLs     []string
	confirmationErr error
}

func (p *peersStub) SendTransfer(ctx context.Context, transferURL string, payload domain.TransferPayload) error {
	if p.transferErr != nil {
		return p.transferErr
	}
	p.transfers = append(p.transfers, payload)
	p.transferURLs = append(p.transferURLs, transferURL)
	return nil
}

func (p *peersStub) SendConfirmation(ctx context.Context, confirmURL string, confirmation domain.TransferConfirmation) error {
	if p.confirmationErr != nil {
		return p.confirmationErr
	}
	p.confirmations = append(p.confirmations, confirmation)
	p.confirmURLs = append(p.confirmURLs, confirmURL)
	return nil
}

// registryStub answers authority validation queries.
type registryStub struct {
	exists    bool
	message   string
	err       error
	operators []domain.Operator
}

func (r *registryStub) ValidateCitizen(ctx context.Context, citizenID string) (bool, string, error) {
	return r.exists, r.message, r.err
}

func (r *registryStub) GetOperators(ctx context.Context) ([]domain.Operator, error) {
	return r.operators, r.err
}

// docsStub returns a fixed document map.
type docsStub struct {
	docs map[string]interface{}
}

func (d *docsStub) GetCitizenDocuments(ctx context.Context, citizenID string) map[string]interface{} {
	if d.docs == nil {
		return map[string]interface{}{}
	}
	return d.docs
}

func newTestService(repo store.Repository, producer *publisherStub, peers *peersStub, registry *registryStub, docs *docsStub) *Service {
	if producer == nil {
		producer = &publisherStub{}
	}
	if peers == nil {
		peers = &peersStub{}
	}
	if registry == nil {
		registry = &registryStub{}
	}
	if docs == nil {
		docs = &docsStub{}
	}
	return NewService(repo, registry, docs, peers, producer, "op-100", "Carpeta Andina", "https://operator.example/citizens/transfer/confirm")
}

func transferringStub(citizenID string, verified, documentsReady bool) *affiliationRepoStub {
	confirmURL := "https://source-operator.example/confirm"
	started := time.Now().UTC()
	return &affiliationRepoStub{
		citizen: &domain.Citizen{
			CitizenID:          citizenID,
			Name:               "Ana Diaz",
			Email:              "ana@example.com",
			OperatorID:         "op-100",
			OperatorName:       "Carpeta Andina",
			IsVerified:         verified,
			VerificationStatus: domain.VerificationPending,
		},
		affiliation: &domain.Affiliation{
			CitizenID:               citizenID,
			OperatorID:              "op-100",
			OperatorName:            "Carpeta Andina",
			Status:                  domain.StatusTransferring,
			TransferConfirmationURL: &confirmURL,
			TransferStartedAt:       &started,
			DocumentsReady:          documentsReady,
		},
	}
}
