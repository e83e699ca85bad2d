package app

import (
	"context"
	"testing"

	"github.com/govcarpeta/affiliation-service/internal/domain"
	"github.com/govcarpeta/affiliation-service/internal/store"
)

func TestCheckAndCompleteTransfer_WaitsForDocuments(t *testing.T) {
	repo := transferringStub("123456", true, false)
	peers := &peersStub{}
	svc := newTestService(repo, nil, peers, nil, nil)

	if err := svc.CheckAndCompleteTransfer(context.Background(), "123456"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.completeCalled {
		t.Fatal("expected completion to wait for documents")
	}
	if len(peers.confirmations) != 0 {
		t.Fatal("did not expect a confirmation before both gates are open")
	}
	if repo.affiliation.Status != domain.StatusTransferring {
		t.Fatalf("expected status to stay TRANSFERRING, got %s", repo.affiliation.Status)
	}
}

func TestCheckAndCompleteTransfer_WaitsForVerification(t *testing.T) {
	repo := transferringStub("123456", false, true)
	peers := &peersStub{}
	svc := newTestService(repo, nil, peers, nil, nil)

	if err := svc.CheckAndCompleteTransfer(context.Background(), "123456"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.completeCalled || len(peers.confirmations) != 0 {
		t.Fatal("expected completion to wait for verification")
	}
}

func TestCheckAndCompleteTransfer_CompletesWhenBothGatesOpen(t *testing.T) {
	repo := transferringStub("123456", true, true)
	peers := &peersStub{}
	producer := &publisherStub{}
	svc := newTestService(repo, producer, peers, nil, nil)

	if err := svc.CheckAndCompleteTransfer(context.Background(), "123456"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.affiliation.Status != domain.StatusAffiliated {
		t.Fatalf("expected AFFILIATED, got %s", repo.affiliation.Status)
	}
	if !repo.citizen.IsRegistered {
		t.Fatal("expected citizen to be marked registered")
	}
	if len(peers.confirmations) != 1 {
		t.Fatalf("expected exactly one confirmation, got %d", len(peers.confirmations))
	}
	if peers.confirmations[0].ReqStatus != 1 {
		t.Fatalf("expected req_status 1, got %d", peers.confirmations[0].ReqStatus)
	}
	if peers.confirmations[0].ID.String() != "123456" {
		t.Fatalf("expected confirmation id 123456, got %s", peers.confirmations[0].ID)
	}
	if producer.countByKey(domain.EventAffiliationCreated) != 1 {
		t.Fatal("expected affiliation.created to be published once")
	}
}

func TestCheckAndCompleteTransfer_IdempotentAfterCompletion(t *testing.T) {
	repo := transferringStub("123456", true, true)
	peers := &peersStub{}
	producer := &publisherStub{}
	svc := newTestService(repo, producer, peers, nil, nil)

	if err := svc.CheckAndCompleteTransfer(context.Background(), "123456"); err != nil {
		t.Fatalf("first completion failed: %v", err)
	}
	if err := svc.CheckAndCompleteTransfer(context.Background(), "123456"); err != nil {
		t.Fatalf("second completion failed: %v", err)
	}
	if len(peers.confirmations) != 1 {
		t.Fatalf("expected one confirmation across replays, got %d", len(peers.confirmations))
	}
	if producer.countByKey(domain.EventAffiliationCreated) != 1 {
		t.Fatal("expected one affiliation.created across replays")
	}
}

func TestCheckAndCompleteTransfer_LostRaceIsNoOp(t *testing.T) {
	repo := transferringStub("123456", true, true)
	repo.completeErr = store.ErrInvalidState
	peers := &peersStub{}
	svc := newTestService(repo, nil, peers, nil, nil)

	if err := svc.CheckAndCompleteTransfer(context.Background(), "123456"); err != nil {
		t.Fatalf("expected lost race to be a no-op, got %v", err)
	}
	if len(peers.confirmations) != 0 {
		t.Fatal("expected no confirmation when another worker completed first")
	}
}

func TestCheckAndCompleteTransfer_SkipsNonTransferring(t *testing.T) {
	repo := transferringStub("123456", true, true)
	repo.affiliation.Status = domain.StatusAffiliated
	peers := &peersStub{}
	svc := newTestService(repo, nil, peers, nil, nil)

	if err := svc.CheckAndCompleteTransfer(context.Background(), "123456"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.completeCalled || len(peers.confirmations) != 0 {
		t.Fatal("expected no completion work outside TRANSFERRING")
	}
}

func TestCompleteTransferAfterDocuments_RequestsRegistrationAndChecksGate(t *testing.T) {
	repo := transferringStub("123456", false, false)
	producer := &publisherStub{}
	svc := newTestService(repo, producer, nil, nil, nil)

	if err := svc.CompleteTransferAfterDocuments(context.Background(), "123456"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !repo.docsReadyCalled || !repo.affiliation.DocumentsReady {
		t.Fatal("expected documents to be marked ready")
	}
	if producer.countByKey(domain.EventRegisterCitizenRequested) != 1 {
		t.Fatal("expected a register request to be published")
	}
	if repo.affiliation.Status != domain.StatusTransferring {
		t.Fatalf("expected transfer to still wait for verification, got %s", repo.affiliation.Status)
	}
}

func TestCompleteTransferAfterDocuments_CompletesWhenVerificationLandedFirst(t *testing.T) {
	// register.citizen.completed can arrive before documents.ready.
	repo := transferringStub("123456", true, false)
	peers := &peersStub{}
	svc := newTestService(repo, nil, peers, nil, nil)

	if err := svc.CompleteTransferAfterDocuments(context.Background(), "123456"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.affiliation.Status != domain.StatusAffiliated {
		t.Fatalf("expected AFFILIATED after late documents, got %s", repo.affiliation.Status)
	}
	if len(peers.confirmations) != 1 {
		t.Fatalf("expected one confirmation, got %d", len(peers.confirmations))
	}
}

func TestReceiveTransfer_RollsBackWhenDownloadRequestFails(t *testing.T) {
	repo := &affiliationRepoStub{}
	producer := &publisherStub{failKeys: map[string]error{
		domain.EventDocumentsDownloadRequested: context.DeadlineExceeded,
	}}
	svc := newTestService(repo, producer, nil, nil, nil)

	payload := domain.TransferPayload{
		ID:           "123456",
		CitizenName:  "Ana Diaz",
		CitizenEmail: "ana@example.com",
		ConfirmAPI:   "https://source-operator.example/confirm",
	}
	if _, err := svc.ReceiveTransfer(context.Background(), payload); err == nil {
		t.Fatal("expected an error when the download request cannot be published")
	}
	if !repo.deleteCalled {
		t.Fatal("expected the created citizen to be rolled back")
	}
}

func TestReceiveTransfer_RejectsDuplicateCitizen(t *testing.T) {
	repo := transferringStub("123456", false, false)
	svc := newTestService(repo, nil, nil, nil, nil)

	payload := domain.TransferPayload{
		ID:           "123456",
		CitizenName:  "Ana Diaz",
		CitizenEmail: "ana@example.com",
		ConfirmAPI:   "https://source-operator.example/confirm",
	}
	if _, err := svc.ReceiveTransfer(context.Background(), payload); err != store.ErrCitizenExists {
		t.Fatalf("expected ErrCitizenExists, got %v", err)
	}
}

func TestReceiveTransfer_CreatesTransferringAffiliation(t *testing.T) {
	repo := &affiliationRepoStub{}
	producer := &publisherStub{}
	svc := newTestService(repo, producer, nil, nil, nil)

	payload := domain.TransferPayload{
		ID:           "123456",
		CitizenName:  "Ana Diaz",
		CitizenEmail: "ana@example.com",
		URLDocuments: map[string]interface{}{"URL1": []interface{}{"https://docs.example/1"}},
		ConfirmAPI:   "https://source-operator.example/confirm",
	}
	citizen, err := svc.ReceiveTransfer(context.Background(), payload)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if citizen.IsRegistered || citizen.IsVerified {
		t.Fatal("expected incoming citizen to start unregistered and unverified")
	}
	if repo.affiliation.Status != domain.StatusTransferring {
		t.Fatalf("expected TRANSFERRING, got %s", repo.affiliation.Status)
	}
	if repo.affiliation.TransferConfirmationURL == nil || *repo.affiliation.TransferConfirmationURL != payload.ConfirmAPI {
		t.Fatal("expected the confirmation callback to be stored")
	}
	if producer.countByKey(domain.EventDocumentsDownloadRequested) != 1 {
		t.Fatal("expected a document download request to be published")
	}
}
