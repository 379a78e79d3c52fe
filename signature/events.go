package signature

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"signflow/notify"
	"signflow/provider"
)

// Event handlers. Each one is a guarded, idempotent transition: the
// processed-event ledger short-circuits exact redeliveries, and every write
// is additionally conditioned on the entity's current state so correctness
// holds even when the ledger misses (different event ids, racing deliveries,
// out-of-order arrival).

const artifactDownloadTimeout = 30 * time.Second

// HandleSignatureCompleted records one signer's completed signature and
// advances the request to in_progress on the first signature.
func (s *Service) HandleSignatureCompleted(ctx context.Context, ev SignatureCompletedEvent) error {
	if ev.RequestID == "" || ev.ProviderSignerID == "" {
		return fmt.Errorf("signature: signature.completed missing references: %w", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("signature: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertProcessedEvent(ctx, tx, ev.EventID, "signature.completed"); err != nil {
		if errors.Is(err, ErrEventAlreadyProcessed) {
			return nil
		}
		return err
	}

	sig, err := s.repo.GetSignatoryForUpdate(ctx, tx, ev.RequestID, ev.ProviderSignerID)
	if err != nil {
		return err
	}
	if sig.Status == SignerSigned {
		// Duplicate delivery under a fresh event id; record the ledger
		// entry, change nothing else.
		return tx.Commit(ctx)
	}

	completedAt := ev.CompletedAt
	if completedAt.IsZero() {
		completedAt = s.now()
	}
	ok, err := s.repo.MarkSignatorySigned(ctx, tx, sig.ID, completedAt)
	if err != nil {
		return err
	}
	if !ok {
		// Declined signers stay declined.
		return tx.Commit(ctx)
	}
	if err := s.repo.AdvanceRequestInProgress(ctx, tx, ev.RequestID); err != nil {
		return err
	}
	signed, total, err := s.repo.CountSigned(ctx, tx, ev.RequestID)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("signature: commit signature.completed: %w", err)
	}

	s.notifier.SignerConfirmed(ctx, notify.Party{Email: sig.Email, Name: sig.DisplayName})
	if req, err := s.repo.GetRequest(ctx, ev.RequestID); err == nil {
		if initiator, err := s.repo.GetParty(ctx, req.InitiatorID); err == nil {
			s.notifier.ProgressUpdate(ctx, initiator, s.contractTitle(ctx, req.ContractID), signed, total)
		}
	}
	return nil
}

// HandleNextSignerReady opens a signer's turn. The provider decides when a
// signer becomes actionable; the engine only refuses transitions that would
// break sequential ordering.
func (s *Service) HandleNextSignerReady(ctx context.Context, ev NextSignerReadyEvent) error {
	if ev.RequestID == "" || ev.ProviderSignerID == "" {
		return fmt.Errorf("signature: next_signer_ready missing references: %w", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("signature: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertProcessedEvent(ctx, tx, ev.EventID, "signature.next_signer_ready"); err != nil {
		if errors.Is(err, ErrEventAlreadyProcessed) {
			return nil
		}
		return err
	}

	sig, err := s.repo.GetSignatoryForUpdate(ctx, tx, ev.RequestID, ev.ProviderSignerID)
	if err != nil {
		return err
	}
	if sig.Status != SignerWaiting {
		// pending and signed mean the turn already opened; declined stays.
		return tx.Commit(ctx)
	}

	req, err := s.repo.GetRequest(ctx, ev.RequestID)
	if err != nil {
		return err
	}
	if req.Status.Terminal() {
		return tx.Commit(ctx)
	}

	ok, err := s.repo.MarkSignatoryPending(ctx, tx, sig, req.Mode)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("signature: commit next_signer_ready: %w", err)
	}
	if !ok {
		s.log.WithFields(map[string]any{
			"request_id":     ev.RequestID,
			"signer_id":      ev.ProviderSignerID,
			"sequence_index": sig.SequenceIndex,
		}).Warn("next_signer_ready refused: earlier signer not yet signed")
		return nil
	}

	message := ""
	if req.Message != nil {
		message = *req.Message
	}
	s.notifier.SignerInvited(ctx, notify.Party{Email: sig.Email, Name: sig.DisplayName}, sig.SigningURL, message)
	return nil
}

// HandleDocumentCompleted finalises a request: it downloads and stores the
// signed artifact, then flips request, signatories, contract, and shared
// access in one transaction. Completion is never marked unless the artifact
// is durably stored; a failure leaves the request non-terminal so the
// provider's redelivery retries the whole path.
func (s *Service) HandleDocumentCompleted(ctx context.Context, ev DocumentCompletedEvent) error {
	if ev.ProviderDocumentID == "" {
		return fmt.Errorf("signature: document.completed missing document id: %w", ErrValidation)
	}

	req, err := s.repo.GetRequestByProviderDocumentID(ctx, ev.ProviderDocumentID)
	if err != nil {
		return err
	}
	switch req.Status {
	case StatusCompleted:
		return nil
	case StatusCancelled, StatusExpired:
		s.log.WithFields(map[string]any{
			"request_id": req.ID,
			"status":     req.Status,
		}).Warn("document.completed for terminal request ignored")
		return nil
	}

	c, err := s.repo.GetContract(ctx, req.ContractID)
	if err != nil {
		return err
	}

	dlCtx, cancel := context.WithTimeout(ctx, artifactDownloadTimeout)
	defer cancel()
	data, err := s.gateway.DownloadSignedDocument(dlCtx, req.ProviderDocumentID)
	if err != nil {
		if errors.Is(err, provider.ErrTransient) {
			return fmt.Errorf("signature: download artifact: %v: %w", err, ErrProviderUnavailable)
		}
		return fmt.Errorf("signature: download artifact: %w", err)
	}

	location, err := s.store.Save(data, req.ContractID, c.Title)
	if err != nil {
		return fmt.Errorf("signature: store artifact: %v: %w", err, ErrStorageFailure)
	}

	sigs, err := s.repo.ListSignatories(ctx, req.ID)
	if err != nil {
		return err
	}

	completedAt := ev.CompletedAt
	if completedAt.IsZero() {
		completedAt = s.now()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("signature: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertProcessedEvent(ctx, tx, ev.EventID, "document.completed"); err != nil {
		if errors.Is(err, ErrEventAlreadyProcessed) {
			return nil
		}
		return err
	}

	ok, err := s.repo.CompleteRequest(ctx, tx, req.ID, completedAt, location)
	if err != nil {
		return err
	}
	if !ok {
		// A concurrent delivery won the completion race.
		return nil
	}
	if err := s.repo.ForceAllSigned(ctx, tx, req.ID, completedAt); err != nil {
		return err
	}
	if err := s.repo.MarkContractSigned(ctx, tx, req.ContractID, location); err != nil {
		return err
	}
	for _, sig := range sigs {
		if sig.UserID == nil || *sig.UserID == req.InitiatorID {
			continue
		}
		if err := s.repo.GrantSharedAccess(ctx, tx, *sig.UserID, req.ContractID); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("signature: commit document.completed: %w", err)
	}

	s.notifyCompleted(ctx, req, c.Title, sigs)
	return nil
}

func (s *Service) notifyCompleted(ctx context.Context, req Request, title string, sigs []Signatory) {
	seen := make(map[string]struct{}, len(sigs)+1)
	if initiator, err := s.repo.GetParty(ctx, req.InitiatorID); err == nil {
		seen[strings.ToLower(initiator.Email)] = struct{}{}
		s.notifier.Completed(ctx, initiator, title)
	} else {
		s.log.WithError(err).WithField("request_id", req.ID).Error("load initiator for completion notice")
	}
	for _, sig := range sigs {
		key := strings.ToLower(sig.Email)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		s.notifier.Completed(ctx, notify.Party{Email: sig.Email, Name: sig.DisplayName}, title)
	}
}

// HandleSignerDeclined marks the signatory declined and escalates to the
// initiator. Decline is terminal for that signatory only; the request is
// left for the initiator to cancel or pursue.
func (s *Service) HandleSignerDeclined(ctx context.Context, ev SignerDeclinedEvent) error {
	if ev.RequestID == "" || ev.ProviderSignerID == "" {
		return fmt.Errorf("signature: signature.declined missing references: %w", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("signature: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertProcessedEvent(ctx, tx, ev.EventID, "signature.declined"); err != nil {
		if errors.Is(err, ErrEventAlreadyProcessed) {
			return nil
		}
		return err
	}

	sig, err := s.repo.GetSignatoryForUpdate(ctx, tx, ev.RequestID, ev.ProviderSignerID)
	if err != nil {
		return err
	}
	if sig.Status == SignerDeclined || sig.Status == SignerSigned {
		return tx.Commit(ctx)
	}

	if _, err := s.repo.MarkSignatoryDeclined(ctx, tx, sig.ID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("signature: commit signature.declined: %w", err)
	}

	if req, err := s.repo.GetRequest(ctx, ev.RequestID); err == nil {
		if initiator, err := s.repo.GetParty(ctx, req.InitiatorID); err == nil {
			s.notifier.DeclineEscalation(ctx, initiator,
				notify.Party{Email: sig.Email, Name: sig.DisplayName},
				s.contractTitle(ctx, req.ContractID))
		}
	}
	return nil
}
