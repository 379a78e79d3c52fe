package signature

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"signflow/contract"
	"signflow/notify"
	"signflow/provider"
)

// fakeRepo is an in-memory Repository honoring the same state guards as the
// SQL implementation, so handler tests exercise real transition semantics.
type fakeRepo struct {
	contracts   map[string]contract.Record
	requests    map[string]*Request
	signatories map[string]*Signatory
	processed   map[string]bool
	shared      map[string]bool
	parties     map[string]notify.Party

	insertRequestErr error
	grantedAccess    []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		contracts:   map[string]contract.Record{},
		requests:    map[string]*Request{},
		signatories: map[string]*Signatory{},
		processed:   map[string]bool{},
		shared:      map[string]bool{},
		parties:     map[string]notify.Party{},
	}
}

func (f *fakeRepo) GetContract(_ context.Context, contractID string) (contract.Record, error) {
	c, ok := f.contracts[contractID]
	if !ok {
		return contract.Record{}, contract.ErrNotFound
	}
	return c, nil
}

func (f *fakeRepo) HasActiveRequest(_ context.Context, contractID string) (bool, error) {
	for _, r := range f.requests {
		if r.ContractID == contractID && !r.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) GetRequest(_ context.Context, requestID string) (Request, error) {
	r, ok := f.requests[requestID]
	if !ok {
		return Request{}, ErrNotFound
	}
	return *r, nil
}

func (f *fakeRepo) GetRequestByProviderDocumentID(_ context.Context, documentID string) (Request, error) {
	for _, r := range f.requests {
		if r.ProviderDocumentID == documentID {
			return *r, nil
		}
	}
	return Request{}, ErrNotFound
}

func (f *fakeRepo) ListSignatories(_ context.Context, requestID string) ([]Signatory, error) {
	var out []Signatory
	for i := 1; ; i++ {
		found := false
		for _, s := range f.signatories {
			if s.RequestID == requestID && s.SequenceIndex == i {
				out = append(out, *s)
				found = true
				break
			}
		}
		if !found {
			return out, nil
		}
	}
}

func (f *fakeRepo) ListRequestsByInitiator(_ context.Context, userID string) ([]Request, error) {
	var out []Request
	for _, r := range f.requests {
		if r.InitiatorID == userID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListRequestsBySignatory(_ context.Context, userID string) ([]Request, error) {
	var out []Request
	for _, s := range f.signatories {
		if s.UserID != nil && *s.UserID == userID {
			if r, ok := f.requests[s.RequestID]; ok {
				out = append(out, *r)
			}
		}
	}
	return out, nil
}

func (f *fakeRepo) GetParty(_ context.Context, userID string) (notify.Party, error) {
	p, ok := f.parties[userID]
	if !ok {
		return notify.Party{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) InsertProcessedEvent(_ context.Context, _ pgx.Tx, eventID, _ string) error {
	if f.processed[eventID] {
		return ErrEventAlreadyProcessed
	}
	f.processed[eventID] = true
	return nil
}

func (f *fakeRepo) InsertRequest(_ context.Context, _ pgx.Tx, req Request) error {
	if f.insertRequestErr != nil {
		return f.insertRequestErr
	}
	r := req
	f.requests[req.ID] = &r
	return nil
}

func (f *fakeRepo) InsertSignatories(_ context.Context, _ pgx.Tx, sigs []Signatory) error {
	for _, s := range sigs {
		cp := s
		f.signatories[s.ID] = &cp
	}
	return nil
}

func (f *fakeRepo) MarkContractPendingSignature(_ context.Context, _ pgx.Tx, contractID string) (bool, error) {
	c, ok := f.contracts[contractID]
	if !ok || c.Status != contract.StatusDraft {
		return false, nil
	}
	c.Status = contract.StatusPendingSignature
	f.contracts[contractID] = c
	return true, nil
}

func (f *fakeRepo) MarkContractSigned(_ context.Context, _ pgx.Tx, contractID, location string) error {
	c, ok := f.contracts[contractID]
	if !ok {
		return contract.ErrNotFound
	}
	c.Status = contract.StatusSigned
	f.contracts[contractID] = c
	return nil
}

func (f *fakeRepo) RevertContractToDraft(_ context.Context, _ pgx.Tx, contractID string) error {
	c, ok := f.contracts[contractID]
	if ok && c.Status == contract.StatusPendingSignature {
		c.Status = contract.StatusDraft
		f.contracts[contractID] = c
	}
	return nil
}

func (f *fakeRepo) GetRequestForUpdate(_ context.Context, _ pgx.Tx, requestID string) (Request, error) {
	return f.GetRequest(context.Background(), requestID)
}

func (f *fakeRepo) GetSignatoryForUpdate(_ context.Context, _ pgx.Tx, requestID, providerSignerID string) (Signatory, error) {
	for _, s := range f.signatories {
		if s.RequestID == requestID && s.ProviderSignerID == providerSignerID {
			return *s, nil
		}
	}
	return Signatory{}, ErrNotFound
}

func (f *fakeRepo) MarkSignatorySigned(_ context.Context, _ pgx.Tx, signatoryID string, at time.Time) (bool, error) {
	s, ok := f.signatories[signatoryID]
	if !ok {
		return false, nil
	}
	if s.Status != SignerWaiting && s.Status != SignerPending {
		return false, nil
	}
	s.Status = SignerSigned
	t := at
	s.SignedAt = &t
	return true, nil
}

func (f *fakeRepo) MarkSignatoryPending(_ context.Context, _ pgx.Tx, sig Signatory, mode Mode) (bool, error) {
	s, ok := f.signatories[sig.ID]
	if !ok || s.Status != SignerWaiting {
		return false, nil
	}
	if mode == ModeSequential {
		for _, prior := range f.signatories {
			if prior.RequestID == sig.RequestID && prior.SequenceIndex < sig.SequenceIndex && prior.Status != SignerSigned {
				return false, nil
			}
		}
	}
	s.Status = SignerPending
	return true, nil
}

func (f *fakeRepo) MarkSignatoryDeclined(_ context.Context, _ pgx.Tx, signatoryID string) (bool, error) {
	s, ok := f.signatories[signatoryID]
	if !ok || s.Status == SignerSigned || s.Status == SignerDeclined {
		return false, nil
	}
	s.Status = SignerDeclined
	return true, nil
}

func (f *fakeRepo) AdvanceRequestInProgress(_ context.Context, _ pgx.Tx, requestID string) error {
	if r, ok := f.requests[requestID]; ok && r.Status == StatusPending {
		r.Status = StatusInProgress
	}
	return nil
}

func (f *fakeRepo) CancelRequest(_ context.Context, _ pgx.Tx, requestID string) (bool, error) {
	r, ok := f.requests[requestID]
	if !ok || r.Status.Terminal() {
		return false, nil
	}
	r.Status = StatusCancelled
	return true, nil
}

func (f *fakeRepo) CompleteRequest(_ context.Context, _ pgx.Tx, requestID string, at time.Time, location string) (bool, error) {
	r, ok := f.requests[requestID]
	if !ok || r.Status.Terminal() {
		return false, nil
	}
	r.Status = StatusCompleted
	t := at
	r.CompletedAt = &t
	loc := location
	r.ArtifactLocation = &loc
	return true, nil
}

func (f *fakeRepo) ForceAllSigned(_ context.Context, _ pgx.Tx, requestID string, at time.Time) error {
	for _, s := range f.signatories {
		if s.RequestID == requestID && s.Status != SignerSigned {
			s.Status = SignerSigned
			t := at
			s.SignedAt = &t
		}
	}
	return nil
}

func (f *fakeRepo) CountSigned(_ context.Context, _ pgx.Tx, requestID string) (int, int, error) {
	signed, total := 0, 0
	for _, s := range f.signatories {
		if s.RequestID != requestID {
			continue
		}
		total++
		if s.Status == SignerSigned {
			signed++
		}
	}
	return signed, total, nil
}

func (f *fakeRepo) GrantSharedAccess(_ context.Context, _ pgx.Tx, userID, contractID string) error {
	key := userID + "/" + contractID
	if !f.shared[key] {
		f.shared[key] = true
		f.grantedAccess = append(f.grantedAccess, key)
	}
	return nil
}

func (f *fakeRepo) SweepExpired(_ context.Context, _ pgx.Tx, now time.Time) ([]ExpiredRequest, error) {
	var out []ExpiredRequest
	for _, r := range f.requests {
		if r.Status.Terminal() || r.ExpiresAt == nil || !r.ExpiresAt.Before(now) {
			continue
		}
		r.Status = StatusExpired
		if c, ok := f.contracts[r.ContractID]; ok && c.Status == contract.StatusPendingSignature {
			c.Status = contract.StatusDraft
			f.contracts[r.ContractID] = c
		}
		out = append(out, ExpiredRequest{RequestID: r.ID, ContractID: r.ContractID})
	}
	return out, nil
}

type fakePool struct {
	txs []*fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return tx, nil
}

func (f *fakePool) lastTx() *fakeTx {
	if len(f.txs) == 0 {
		return nil
	}
	return f.txs[len(f.txs)-1]
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

type fakeGateway struct {
	uploadErr   error
	batchErr    error
	downloadErr error
	document    []byte
	uploads     int
}

func (f *fakeGateway) UploadDocument(_ context.Context, data []byte, filename string) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploads++
	return "prov-doc-1", nil
}

func (f *fakeGateway) CreateSignerBatch(_ context.Context, documentID string, signers []provider.SignerInput, _ *time.Time) ([]provider.SignerRecord, error) {
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	records := make([]provider.SignerRecord, len(signers))
	for i, in := range signers {
		records[i] = provider.SignerRecord{
			SignerID:      fmt.Sprintf("prov-signer-%d", in.SequenceIndex),
			SigningToken:  fmt.Sprintf("token-%d", in.SequenceIndex),
			SigningURL:    fmt.Sprintf("https://esign.example/sign/%d", in.SequenceIndex),
			SequenceIndex: in.SequenceIndex,
		}
	}
	return records, nil
}

func (f *fakeGateway) DownloadSignedDocument(_ context.Context, documentID string) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	if f.document != nil {
		return f.document, nil
	}
	return []byte("%PDF-1.4 signed"), nil
}

type fakeRenderer struct {
	err error
}

func (f fakeRenderer) Render(_ context.Context, c contract.Record) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte("%PDF-1.4 draft"), "contract.pdf", nil
}

type fakeStore struct {
	saveErr error
	saved   map[string][]byte
}

func (f *fakeStore) Save(data []byte, contractID, title string) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	if f.saved == nil {
		f.saved = map[string][]byte{}
	}
	location := contractID + "/signed.pdf"
	f.saved[location] = data
	return location, nil
}

func (f *fakeStore) Read(location string) ([]byte, error) {
	data, ok := f.saved[location]
	if !ok {
		return nil, errors.New("artifact: not found")
	}
	return data, nil
}

type fakeAccess struct {
	allowed map[string]bool
}

func (f *fakeAccess) HasAccess(_ context.Context, userID, contractID string) (bool, error) {
	return f.allowed[userID+"/"+contractID], nil
}

// recorderSender captures every outbound notification by kind.
type recorderSender struct {
	invited   []string
	confirmed []string
	progress  []string
	cancelled []string
	completed []string
	declines  []string
}

func (r *recorderSender) SignerInvited(_ context.Context, signer notify.Party, signingURL, message string) {
	r.invited = append(r.invited, signer.Email)
}

func (r *recorderSender) SignerConfirmed(_ context.Context, signer notify.Party) {
	r.confirmed = append(r.confirmed, signer.Email)
}

func (r *recorderSender) ProgressUpdate(_ context.Context, initiator notify.Party, _ string, signedCount, total int) {
	r.progress = append(r.progress, fmt.Sprintf("%s:%d/%d", initiator.Email, signedCount, total))
}

func (r *recorderSender) Cancelled(_ context.Context, signer notify.Party, _ string) {
	r.cancelled = append(r.cancelled, signer.Email)
}

func (r *recorderSender) Completed(_ context.Context, recipient notify.Party, _ string) {
	r.completed = append(r.completed, recipient.Email)
}

func (r *recorderSender) DeclineEscalation(_ context.Context, initiator notify.Party, signer notify.Party, _ string) {
	r.declines = append(r.declines, initiator.Email+"<-"+signer.Email)
}

type testEnv struct {
	pool    *fakePool
	repo    *fakeRepo
	gateway *fakeGateway
	store   *fakeStore
	access  *fakeAccess
	sender  *recorderSender
	svc     *Service
}

func newTestEnv() *testEnv {
	env := &testEnv{
		pool:    &fakePool{},
		repo:    newFakeRepo(),
		gateway: &fakeGateway{},
		store:   &fakeStore{},
		access:  &fakeAccess{allowed: map[string]bool{}},
		sender:  &recorderSender{},
	}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	env.svc = NewService(env.pool, env.repo, fakeRenderer{}, env.gateway,
		env.sender, env.store, env.access, log, nil)
	seq := 0
	env.svc.idGenerator = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	env.svc.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return env
}

func (e *testEnv) seedContract(id, ownerID string, status contract.Status) {
	e.repo.contracts[id] = contract.Record{ID: id, OwnerID: ownerID, Title: "Lease " + id, Status: status}
}

// seedRequest installs a two-signer sequential request in flight, with the
// second signer optionally linked to a platform account.
func (e *testEnv) seedRequest(requestID, contractID, initiatorID string, linkedSecond string) (Signatory, Signatory) {
	r := Request{
		ID:                 requestID,
		ContractID:         contractID,
		InitiatorID:        initiatorID,
		ProviderDocumentID: "prov-doc-1",
		Status:             StatusPending,
		Mode:               ModeSequential,
		CreatedAt:          time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	e.repo.requests[requestID] = &r
	first := Signatory{
		ID:               requestID + "-s1",
		RequestID:        requestID,
		ProviderSignerID: "prov-signer-1",
		SigningURL:       "https://esign.example/sign/1",
		Email:            "alice@example.com",
		DisplayName:      "Alice",
		SequenceIndex:    1,
		Status:           SignerPending,
	}
	second := Signatory{
		ID:               requestID + "-s2",
		RequestID:        requestID,
		ProviderSignerID: "prov-signer-2",
		SigningURL:       "https://esign.example/sign/2",
		Email:            "bob@example.com",
		DisplayName:      "Bob",
		SequenceIndex:    2,
		Status:           SignerWaiting,
	}
	if linkedSecond != "" {
		second.UserID = &linkedSecond
	}
	e.repo.signatories[first.ID] = &first
	e.repo.signatories[second.ID] = &second
	return first, second
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}
