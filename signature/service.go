package signature

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"signflow/contract"
	"signflow/notify"
	"signflow/obs"
	"signflow/provider"
)

const maxSignatories = 10

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the orchestrator, the
// event handlers, and the sweeper.
type Repository interface {
	GetContract(ctx context.Context, contractID string) (contract.Record, error)
	HasActiveRequest(ctx context.Context, contractID string) (bool, error)
	GetRequest(ctx context.Context, requestID string) (Request, error)
	GetRequestByProviderDocumentID(ctx context.Context, documentID string) (Request, error)
	ListSignatories(ctx context.Context, requestID string) ([]Signatory, error)
	ListRequestsByInitiator(ctx context.Context, userID string) ([]Request, error)
	ListRequestsBySignatory(ctx context.Context, userID string) ([]Request, error)
	GetParty(ctx context.Context, userID string) (notify.Party, error)

	InsertProcessedEvent(ctx context.Context, tx pgx.Tx, eventID, eventType string) error
	InsertRequest(ctx context.Context, tx pgx.Tx, req Request) error
	InsertSignatories(ctx context.Context, tx pgx.Tx, sigs []Signatory) error
	MarkContractPendingSignature(ctx context.Context, tx pgx.Tx, contractID string) (bool, error)
	MarkContractSigned(ctx context.Context, tx pgx.Tx, contractID, artifactLocation string) error
	RevertContractToDraft(ctx context.Context, tx pgx.Tx, contractID string) error
	GetRequestForUpdate(ctx context.Context, tx pgx.Tx, requestID string) (Request, error)
	GetSignatoryForUpdate(ctx context.Context, tx pgx.Tx, requestID, providerSignerID string) (Signatory, error)
	MarkSignatorySigned(ctx context.Context, tx pgx.Tx, signatoryID string, at time.Time) (bool, error)
	MarkSignatoryPending(ctx context.Context, tx pgx.Tx, sig Signatory, mode Mode) (bool, error)
	MarkSignatoryDeclined(ctx context.Context, tx pgx.Tx, signatoryID string) (bool, error)
	AdvanceRequestInProgress(ctx context.Context, tx pgx.Tx, requestID string) error
	CancelRequest(ctx context.Context, tx pgx.Tx, requestID string) (bool, error)
	CompleteRequest(ctx context.Context, tx pgx.Tx, requestID string, at time.Time, artifactLocation string) (bool, error)
	ForceAllSigned(ctx context.Context, tx pgx.Tx, requestID string, at time.Time) error
	CountSigned(ctx context.Context, tx pgx.Tx, requestID string) (signed, total int, err error)
	GrantSharedAccess(ctx context.Context, tx pgx.Tx, userID, contractID string) error
	SweepExpired(ctx context.Context, tx pgx.Tx, now time.Time) ([]ExpiredRequest, error)
}

// DocumentRenderer converts a contract into printable bytes for upload.
type DocumentRenderer interface {
	Render(ctx context.Context, c contract.Record) (data []byte, filename string, err error)
}

// ArtifactStore persists the final signed document.
type ArtifactStore interface {
	Save(data []byte, contractID, title string) (location string, err error)
	Read(location string) ([]byte, error)
}

// AccessChecker answers whether a user holds shared access on a contract.
type AccessChecker interface {
	HasAccess(ctx context.Context, userID, contractID string) (bool, error)
}

// Service is the signature orchestrator: the only component allowed to
// originate a request, and the owner of cancellation and read access.
type Service struct {
	pool     TxBeginner
	repo     Repository
	renderer DocumentRenderer
	gateway  provider.Gateway
	notifier notify.Sender
	store    ArtifactStore
	access   AccessChecker
	log      *logrus.Logger
	metrics  *obs.Metrics

	idGenerator func() string
	now         func() time.Time
}

func NewService(
	pool TxBeginner,
	repo Repository,
	renderer DocumentRenderer,
	gateway provider.Gateway,
	notifier notify.Sender,
	store ArtifactStore,
	access AccessChecker,
	log *logrus.Logger,
	metrics *obs.Metrics,
) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		renderer:    renderer,
		gateway:     gateway,
		notifier:    notifier,
		store:       store,
		access:      access,
		log:         log,
		metrics:     metrics,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// Create renders the contract, registers it with the provider, and persists
// the request with its full signatory set atomically. If the provider fails
// after rendering, nothing is persisted and the caller may retry the whole
// creation.
func (s *Service) Create(ctx context.Context, params CreateParams) (RequestView, error) {
	if err := validateSigners(params.Signers); err != nil {
		return RequestView{}, err
	}
	mode := params.Mode
	if mode == "" {
		mode = ModeSequential
	}
	if mode != ModeSequential && mode != ModeParallel {
		return RequestView{}, fmt.Errorf("signature: unknown signing mode %q: %w", mode, ErrValidation)
	}

	c, err := s.repo.GetContract(ctx, params.ContractID)
	if err != nil {
		return RequestView{}, err
	}
	if c.OwnerID != params.InitiatorID {
		return RequestView{}, fmt.Errorf("signature: caller does not own contract: %w", ErrForbidden)
	}
	if c.Status == contract.StatusSigned {
		return RequestView{}, fmt.Errorf("signature: contract already signed: %w", ErrConflict)
	}
	active, err := s.repo.HasActiveRequest(ctx, params.ContractID)
	if err != nil {
		return RequestView{}, err
	}
	if active {
		return RequestView{}, fmt.Errorf("signature: contract already has a live request: %w", ErrConflict)
	}

	data, filename, err := s.renderer.Render(ctx, c)
	if err != nil {
		return RequestView{}, fmt.Errorf("signature: render contract: %w", err)
	}

	documentID, err := s.gateway.UploadDocument(ctx, data, filename)
	if err != nil {
		return RequestView{}, providerErr("upload document", err)
	}

	inputs := make([]provider.SignerInput, len(params.Signers))
	for i, in := range params.Signers {
		inputs[i] = provider.SignerInput{
			Name:          strings.TrimSpace(in.Name),
			Email:         strings.TrimSpace(in.Email),
			SequenceIndex: i + 1,
		}
	}
	records, err := s.gateway.CreateSignerBatch(ctx, documentID, inputs, params.ExpiresAt)
	if err != nil {
		return RequestView{}, providerErr("create signer batch", err)
	}
	byIndex := make(map[int]provider.SignerRecord, len(records))
	for _, rec := range records {
		byIndex[rec.SequenceIndex] = rec
	}

	req := Request{
		ID:                 s.idGenerator(),
		ContractID:         params.ContractID,
		InitiatorID:        params.InitiatorID,
		ProviderDocumentID: documentID,
		Status:             StatusPending,
		Mode:               mode,
		ExpiresAt:          params.ExpiresAt,
		CreatedAt:          s.now(),
	}
	if msg := strings.TrimSpace(params.Message); msg != "" {
		req.Message = &msg
	}

	sigs := make([]Signatory, len(inputs))
	for i, in := range inputs {
		rec, ok := byIndex[in.SequenceIndex]
		if !ok {
			return RequestView{}, fmt.Errorf("signature: provider returned no record for index %d: %w",
				in.SequenceIndex, ErrProviderUnavailable)
		}
		status := SignerWaiting
		if in.SequenceIndex == 1 {
			status = SignerPending
		}
		sigs[i] = Signatory{
			ID:               s.idGenerator(),
			RequestID:        req.ID,
			ProviderSignerID: rec.SignerID,
			SigningToken:     rec.SigningToken,
			SigningURL:       rec.SigningURL,
			Email:            in.Email,
			DisplayName:      in.Name,
			SequenceIndex:    in.SequenceIndex,
			Status:           status,
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return RequestView{}, fmt.Errorf("signature: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertRequest(ctx, tx, req); err != nil {
		if errors.Is(err, ErrConflict) {
			return RequestView{}, fmt.Errorf("signature: concurrent request creation: %w", ErrConflict)
		}
		return RequestView{}, err
	}
	if err := s.repo.InsertSignatories(ctx, tx, sigs); err != nil {
		return RequestView{}, err
	}
	ok, err := s.repo.MarkContractPendingSignature(ctx, tx, params.ContractID)
	if err != nil {
		return RequestView{}, err
	}
	if !ok {
		return RequestView{}, fmt.Errorf("signature: contract left draft state concurrently: %w", ErrConflict)
	}

	if err := tx.Commit(ctx); err != nil {
		return RequestView{}, fmt.Errorf("signature: commit create: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RequestsCreated.Inc()
	}

	// The first signer's invitation goes out immediately; later turns are
	// driven by provider events.
	first := sigs[0]
	s.notifier.SignerInvited(ctx, notify.Party{Email: first.Email, Name: first.DisplayName},
		first.SigningURL, strings.TrimSpace(params.Message))

	return buildView(req, sigs, params.InitiatorID), nil
}

// Cancel terminates a live request. Only the initiator may cancel, and only
// before completion; the owning contract returns to draft.
func (s *Service) Cancel(ctx context.Context, requestID, callerID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("signature: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetRequestForUpdate(ctx, tx, requestID)
	if err != nil {
		return err
	}
	if req.InitiatorID != callerID {
		return fmt.Errorf("signature: caller is not the initiator: %w", ErrForbidden)
	}

	ok, err := s.repo.CancelRequest(ctx, tx, requestID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("signature: request is %s: %w", req.Status, ErrConflict)
	}
	if err := s.repo.RevertContractToDraft(ctx, tx, req.ContractID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("signature: commit cancel: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RequestsCancelled.Inc()
	}

	s.notifyCancelled(ctx, req)
	return nil
}

func (s *Service) notifyCancelled(ctx context.Context, req Request) {
	title := s.contractTitle(ctx, req.ContractID)
	sigs, err := s.repo.ListSignatories(ctx, req.ID)
	if err != nil {
		s.log.WithError(err).WithField("request_id", req.ID).Error("load signatories for cancellation notice")
		return
	}
	for _, sig := range sigs {
		if sig.Status == SignerSigned {
			continue
		}
		s.notifier.Cancelled(ctx, notify.Party{Email: sig.Email, Name: sig.DisplayName}, title)
	}
}

// Get returns the role-scoped view: the initiator sees everything, a
// signatory sees only their own signing URL.
func (s *Service) Get(ctx context.Context, requestID, callerID string) (RequestView, error) {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return RequestView{}, err
	}
	sigs, err := s.repo.ListSignatories(ctx, requestID)
	if err != nil {
		return RequestView{}, err
	}

	if req.InitiatorID == callerID || isParticipant(sigs, callerID) {
		return buildView(req, sigs, callerID), nil
	}
	return RequestView{}, fmt.Errorf("signature: caller is neither initiator nor signatory: %w", ErrForbidden)
}

// ListByInitiator returns the caller's outgoing requests.
func (s *Service) ListByInitiator(ctx context.Context, callerID string) ([]Request, error) {
	return s.repo.ListRequestsByInitiator(ctx, callerID)
}

// ListBySignatory returns requests where the caller is a linked signer.
func (s *Service) ListBySignatory(ctx context.Context, callerID string) ([]Request, error) {
	return s.repo.ListRequestsBySignatory(ctx, callerID)
}

// ResendInvitation re-sends the invite to the currently actionable signer.
func (s *Service) ResendInvitation(ctx context.Context, requestID, callerID string) error {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.InitiatorID != callerID {
		return fmt.Errorf("signature: caller is not the initiator: %w", ErrForbidden)
	}
	if req.Status.Terminal() {
		return fmt.Errorf("signature: request is %s: %w", req.Status, ErrConflict)
	}

	sigs, err := s.repo.ListSignatories(ctx, requestID)
	if err != nil {
		return err
	}
	message := ""
	if req.Message != nil {
		message = *req.Message
	}
	sent := false
	for _, sig := range sigs {
		if sig.Status != SignerPending {
			continue
		}
		s.notifier.SignerInvited(ctx, notify.Party{Email: sig.Email, Name: sig.DisplayName}, sig.SigningURL, message)
		sent = true
	}
	if !sent {
		return fmt.Errorf("signature: no actionable signer: %w", ErrConflict)
	}
	return nil
}

// DownloadArtifact streams the final signed document to the initiator or to
// a signatory holding shared access.
func (s *Service) DownloadArtifact(ctx context.Context, requestID, callerID string) ([]byte, error) {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusCompleted || req.ArtifactLocation == nil {
		return nil, fmt.Errorf("signature: request has no signed artifact: %w", ErrNotFound)
	}

	if req.InitiatorID != callerID {
		allowed, err := s.access.HasAccess(ctx, callerID, req.ContractID)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("signature: caller has no access to the artifact: %w", ErrForbidden)
		}
	}

	data, err := s.store.Read(*req.ArtifactLocation)
	if err != nil {
		return nil, fmt.Errorf("signature: read artifact: %w", err)
	}
	return data, nil
}

func (s *Service) contractTitle(ctx context.Context, contractID string) string {
	c, err := s.repo.GetContract(ctx, contractID)
	if err != nil {
		s.log.WithError(err).WithField("contract_id", contractID).Warn("load contract title")
		return ""
	}
	return c.Title
}

func validateSigners(signers []SignerInput) error {
	if len(signers) == 0 || len(signers) > maxSignatories {
		return fmt.Errorf("signature: signatory count must be 1..%d, got %d: %w",
			maxSignatories, len(signers), ErrValidation)
	}
	seen := make(map[string]struct{}, len(signers))
	for i, in := range signers {
		if strings.TrimSpace(in.Name) == "" {
			return fmt.Errorf("signature: signer %d has empty name: %w", i+1, ErrValidation)
		}
		addr := strings.TrimSpace(in.Email)
		if _, err := mail.ParseAddress(addr); err != nil {
			return fmt.Errorf("signature: signer %d has invalid email %q: %w", i+1, in.Email, ErrValidation)
		}
		key := strings.ToLower(addr)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("signature: duplicate signer email %q: %w", addr, ErrConflict)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func providerErr(op string, err error) error {
	if errors.Is(err, provider.ErrTransient) {
		return fmt.Errorf("signature: %s: %v: %w", op, err, ErrProviderUnavailable)
	}
	return fmt.Errorf("signature: %s: %w", op, err)
}

func isParticipant(sigs []Signatory, callerID string) bool {
	for _, sig := range sigs {
		if sig.UserID != nil && *sig.UserID == callerID {
			return true
		}
	}
	return false
}

// buildView redacts other parties' provider handles unless the caller is
// the initiator.
func buildView(req Request, sigs []Signatory, callerID string) RequestView {
	view := RequestView{
		ID:               req.ID,
		ContractID:       req.ContractID,
		Status:           req.Status,
		Mode:             req.Mode,
		Message:          req.Message,
		ExpiresAt:        req.ExpiresAt,
		CompletedAt:      req.CompletedAt,
		ArtifactLocation: req.ArtifactLocation,
		CreatedAt:        req.CreatedAt,
		Signatories:      make([]SignatoryView, len(sigs)),
	}
	initiator := req.InitiatorID == callerID
	for i, sig := range sigs {
		sv := SignatoryView{
			Email:         sig.Email,
			DisplayName:   sig.DisplayName,
			SequenceIndex: sig.SequenceIndex,
			Status:        sig.Status,
			SignedAt:      sig.SignedAt,
		}
		if initiator || (sig.UserID != nil && *sig.UserID == callerID) {
			sv.SigningURL = sig.SigningURL
		}
		view.Signatories[i] = sv
	}
	return view
}
