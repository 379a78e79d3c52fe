package signature

import (
	"context"
	"errors"
	"testing"
	"time"

	"signflow/contract"
	"signflow/provider"
)

func TestCreate_Success(t *testing.T) {
	env := newTestEnv()
	env.seedContract("c1", "owner-1", contract.StatusDraft)

	view, err := env.svc.Create(context.Background(), CreateParams{
		ContractID:  "c1",
		InitiatorID: "owner-1",
		Signers: []SignerInput{
			{Name: "Alice", Email: "alice@example.com"},
			{Name: "Bob", Email: "bob@example.com"},
		},
		Message: "please sign",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if view.Mode != ModeSequential {
		t.Errorf("expected default sequential mode, got %s", view.Mode)
	}
	if len(view.Signatories) != 2 {
		t.Fatalf("expected 2 signatories, got %d", len(view.Signatories))
	}
	if view.Signatories[0].Status != SignerPending {
		t.Errorf("expected first signer pending, got %s", view.Signatories[0].Status)
	}
	if view.Signatories[1].Status != SignerWaiting {
		t.Errorf("expected second signer waiting, got %s", view.Signatories[1].Status)
	}
	if env.repo.contracts["c1"].Status != contract.StatusPendingSignature {
		t.Errorf("expected contract pending_signature, got %s", env.repo.contracts["c1"].Status)
	}
	if tx := env.pool.lastTx(); tx == nil || !tx.committed {
		t.Errorf("expected creation transaction to commit")
	}
	if !containsString(env.sender.invited, "alice@example.com") {
		t.Errorf("expected first signer invitation, got %v", env.sender.invited)
	}
	if containsString(env.sender.invited, "bob@example.com") {
		t.Errorf("second signer must not be invited at creation")
	}
}

func TestCreate_ParallelModeStillGatesFirstSigner(t *testing.T) {
	env := newTestEnv()
	env.seedContract("c1", "owner-1", contract.StatusDraft)

	view, err := env.svc.Create(context.Background(), CreateParams{
		ContractID:  "c1",
		InitiatorID: "owner-1",
		Mode:        ModeParallel,
		Signers: []SignerInput{
			{Name: "Alice", Email: "alice@example.com"},
			{Name: "Bob", Email: "bob@example.com"},
		},
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if view.Signatories[1].Status != SignerWaiting {
		t.Errorf("later signers start waiting even in parallel mode, got %s", view.Signatories[1].Status)
	}
}

func TestCreate_Validation(t *testing.T) {
	env := newTestEnv()
	env.seedContract("c1", "owner-1", contract.StatusDraft)

	cases := []struct {
		name    string
		signers []SignerInput
		want    error
	}{
		{"empty list", nil, ErrValidation},
		{"too many", make([]SignerInput, maxSignatories+1), ErrValidation},
		{"empty name", []SignerInput{{Name: " ", Email: "a@example.com"}}, ErrValidation},
		{"bad email", []SignerInput{{Name: "Alice", Email: "not-an-email"}}, ErrValidation},
		{"duplicate email", []SignerInput{
			{Name: "Alice", Email: "a@example.com"},
			{Name: "Bob", Email: "A@Example.com"},
		}, ErrConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Create(context.Background(), CreateParams{
				ContractID:  "c1",
				InitiatorID: "owner-1",
				Signers:     tc.signers,
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if env.gateway.uploads != 0 {
		t.Errorf("validation failures must not reach the provider")
	}
}

func TestCreate_NotOwner(t *testing.T) {
	env := newTestEnv()
	env.seedContract("c1", "owner-1", contract.StatusDraft)

	_, err := env.svc.Create(context.Background(), CreateParams{
		ContractID:  "c1",
		InitiatorID: "intruder",
		Signers:     []SignerInput{{Name: "Alice", Email: "a@example.com"}},
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCreate_ContractAlreadySigned(t *testing.T) {
	env := newTestEnv()
	env.seedContract("c1", "owner-1", contract.StatusSigned)

	_, err := env.svc.Create(context.Background(), CreateParams{
		ContractID:  "c1",
		InitiatorID: "owner-1",
		Signers:     []SignerInput{{Name: "Alice", Email: "a@example.com"}},
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCreate_LiveRequestExists(t *testing.T) {
	env := newTestEnv()
	env.seedContract("c1", "owner-1", contract.StatusPendingSignature)
	env.seedRequest("r1", "c1", "owner-1", "")

	_, err := env.svc.Create(context.Background(), CreateParams{
		ContractID:  "c1",
		InitiatorID: "owner-1",
		Signers:     []SignerInput{{Name: "Carol", Email: "carol@example.com"}},
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if env.gateway.uploads != 0 {
		t.Errorf("live-request conflict must not reach the provider")
	}
}

func TestCreate_ProviderTransientFailure(t *testing.T) {
	env := newTestEnv()
	env.seedContract("c1", "owner-1", contract.StatusDraft)
	env.gateway.uploadErr = provider.ErrTransient

	_, err := env.svc.Create(context.Background(), CreateParams{
		ContractID:  "c1",
		InitiatorID: "owner-1",
		Signers:     []SignerInput{{Name: "Alice", Email: "a@example.com"}},
	})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if len(env.repo.requests) != 0 {
		t.Errorf("nothing may persist when the provider fails")
	}
	if env.repo.contracts["c1"].Status != contract.StatusDraft {
		t.Errorf("contract must stay draft, got %s", env.repo.contracts["c1"].Status)
	}
}

func TestCreate_ConcurrentInsertLosesCleanly(t *testing.T) {
	env := newTestEnv()
	env.seedContract("c1", "owner-1", contract.StatusDraft)
	env.repo.insertRequestErr = ErrConflict

	_, err := env.svc.Create(context.Background(), CreateParams{
		ContractID:  "c1",
		InitiatorID: "owner-1",
		Signers:     []SignerInput{{Name: "Alice", Email: "a@example.com"}},
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if tx := env.pool.lastTx(); tx == nil || tx.committed {
		t.Errorf("losing transaction must roll back, not commit")
	}
}

func TestCancel_RevertsContractAndNotifiesUnsigned(t *testing.T) {
	env := newTestEnv()
	env.seedContract("c1", "owner-1", contract.StatusPendingSignature)
	first, _ := env.seedRequest("r1", "c1", "owner-1", "")
	env.repo.signatories[first.ID].Status = SignerSigned

	if err := env.svc.Cancel(context.Background(), "r1", "owner-1"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if env.repo.requests["r1"].Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", env.repo.requests["r1"].Status)
	}
	if env.repo.contracts["c1"].Status != contract.StatusDraft {
		t.Errorf("expected contract back to draft, got %s", env.repo.contracts["c1"].Status)
	}
	if containsString(env.sender.cancelled, "alice@example.com") {
		t.Errorf("signed parties get no cancellation notice")
	}
	if !containsString(env.sender.cancelled, "bob@example.com") {
		t.Errorf("unsigned parties must be notified, got %v", env.sender.cancelled)
	}
}

func TestCancel_OnlyInitiator(t *testing.T) {
	env := newTestEnv()
	env.seedContract("c1", "owner-1", contract.StatusPendingSignature)
	env.seedRequest("r1", "c1", "owner-1", "user-bob")

	err := env.svc.Cancel(context.Background(), "r1", "user-bob")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if env.repo.requests["r1"].Status != StatusPending {
		t.Errorf("request must be untouched, got %s", env.repo.requests["r1"].Status)
	}
}

func TestCancel_TerminalRequestConflicts(t *testing.T) {
	env := newTestEnv()
	env.seedContract("c1", "owner-1", contract.StatusSigned)
	env.seedRequest("r1", "c1", "owner-1", "")
	env.repo.requests["r1"].Status = StatusCompleted

	err := env.svc.Cancel(context.Background(), "r1", "owner-1")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if env.repo.requests["r1"].Status != StatusCompleted {
		t.Errorf("completed request must stay completed")
	}
}

func TestGet_RedactsOtherSigningURLs(t *testing.T) {
	env := newTestEnv()
	env.seedContract("c1", "owner-1", contract.StatusPendingSignature)
	env.seedRequest("r1", "c1", "owner-1", "user-bob")

	asInitiator, err := env.svc.Get(context.Background(), "r1", "owner-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	for _, sv := range asInitiator.Signatories {
		if sv.SigningURL == "" {
			t.Errorf("initiator sees every signing URL")
		}
	}

	asSigner, err := env.svc.Get(context.Background(), "r1", "user-bob")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if asSigner.Signatories[0].SigningURL != "" {
		t.Errorf("signatory must not see another party's signing URL")
	}
	if asSigner.Signatories[1].SigningURL == "" {
		t.Errorf("signatory sees their own signing URL")
	}

	if _, err := env.svc.Get(context.Background(), "r1", "stranger"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for stranger, got %v", err)
	}
}

func TestResendInvitation(t *testing.T) {
	env := newTestEnv()
	env.seedContract("c1", "owner-1", contract.StatusPendingSignature)
	env.seedRequest("r1", "c1", "owner-1", "")

	if err := env.svc.ResendInvitation(context.Background(), "r1", "owner-1"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !containsString(env.sender.invited, "alice@example.com") {
		t.Errorf("pending signer must be re-invited, got %v", env.sender.invited)
	}

	if err := env.svc.ResendInvitation(context.Background(), "r1", "user-x"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	env.repo.requests["r1"].Status = StatusCancelled
	if err := env.svc.ResendInvitation(context.Background(), "r1", "owner-1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on terminal request, got %v", err)
	}
}

func TestDownloadArtifact(t *testing.T) {
	env := newTestEnv()
	env.seedContract("c1", "owner-1", contract.StatusSigned)
	env.seedRequest("r1", "c1", "owner-1", "user-bob")
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	location := "c1/signed.pdf"
	env.repo.requests["r1"].Status = StatusCompleted
	env.repo.requests["r1"].CompletedAt = &now
	env.repo.requests["r1"].ArtifactLocation = &location
	env.store.saved = map[string][]byte{location: []byte("%PDF-1.4 signed")}

	data, err := env.svc.DownloadArtifact(context.Background(), "r1", "owner-1")
	if err != nil {
		t.Fatalf("expected nil error for initiator, got %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected artifact bytes")
	}

	if _, err := env.svc.DownloadArtifact(context.Background(), "r1", "user-bob"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden before grant, got %v", err)
	}
	env.access.allowed["user-bob/c1"] = true
	if _, err := env.svc.DownloadArtifact(context.Background(), "r1", "user-bob"); err != nil {
		t.Fatalf("expected nil error after grant, got %v", err)
	}
}

func TestDownloadArtifact_NotCompleted(t *testing.T) {
	env := newTestEnv()
	env.seedContract("c1", "owner-1", contract.StatusPendingSignature)
	env.seedRequest("r1", "c1", "owner-1", "")

	_, err := env.svc.DownloadArtifact(context.Background(), "r1", "owner-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for live request, got %v", err)
	}
}
