package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"tollguard/internal/config"
	"tollguard/internal/domain"
	"tollguard/internal/policy"
	"tollguard/internal/usecase"

	"github.com/gin-gonic/gin"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// --- fakes -----------------------------------------------------------------

type stubPolicy struct{ p *domain.TrustPolicy }

func (s stubPolicy) Snapshot() *domain.TrustPolicy { return s.p }

func testPolicy() *domain.TrustPolicy {
	p := &domain.TrustPolicy{Version: "test"}
	policy.ApplyDefaults(p)
	return p
}

type fakeReaders struct {
	mu   sync.Mutex
	data map[string]*domain.Reader
}

func newFakeReaders() *fakeReaders {
	return &fakeReaders{data: make(map[string]*domain.Reader)}
}

func (f *fakeReaders) Get(_ context.Context, readerID string) (*domain.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.data[readerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeReaders) Create(_ context.Context, reader domain.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[reader.ID] = &reader
	return nil
}

func (f *fakeReaders) UpdateSecret(_ context.Context, readerID, secret string, keyVersion int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.data[readerID]
	if !ok {
		return domain.ErrNotFound
	}
	r.Secret = secret
	r.KeyVersion = keyVersion
	return nil
}

func (f *fakeReaders) UpdateStatus(_ context.Context, readerID string, status domain.ReaderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.data[readerID]
	if !ok {
		return domain.ErrNotFound
	}
	r.Status = status
	return nil
}

func (f *fakeReaders) ListActiveIDs(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, r := range f.data {
		if r.Status == domain.ReaderStatusActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type fakeTrust struct {
	mu         sync.Mutex
	records    map[string]*domain.TrustRecord
	violations map[string][]domain.Violation
	seq        int
}

func newFakeTrust() *fakeTrust {
	return &fakeTrust{
		records:    make(map[string]*domain.TrustRecord),
		violations: make(map[string][]domain.Violation),
	}
}

func (f *fakeTrust) Get(_ context.Context, readerID string) (*domain.TrustRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[readerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeTrust) Mutate(_ context.Context, readerID string, initialScore int, fn func(rec *domain.TrustRecord) (*domain.Violation, error)) (*domain.TrustRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[readerID]
	if !ok {
		rec = &domain.TrustRecord{
			ReaderID:        readerID,
			Score:           initialScore,
			Status:          domain.TrustStatusTrusted,
			QuarantineState: domain.QuarantineStateNormal,
		}
		f.records[readerID] = rec
	}
	v, err := fn(rec)
	if err != nil {
		return nil, err
	}
	if v != nil {
		f.seq++
		v.ID = fmt.Sprintf("v-%d", f.seq)
		f.violations[readerID] = append(f.violations[readerID], *v)
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeTrust) ListRecoverable(_ context.Context, maxScore int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, rec := range f.records {
		if rec.Score < maxScore && rec.QuarantineState == domain.QuarantineStateNormal && rec.LastViolationAt != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeTrust) ListViolations(_ context.Context, readerID string) ([]domain.Violation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Violation(nil), f.violations[readerID]...), nil
}

type fakeNonces struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newFakeNonces() *fakeNonces { return &fakeNonces{seen: make(map[string]time.Time)} }

func (f *fakeNonces) InsertOnce(_ context.Context, readerID, nonce string, seenAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := readerID + ":" + nonce
	if _, ok := f.seen[key]; ok {
		return domain.ErrNonceReplayed
	}
	f.seen[key] = seenAt
	return nil
}

func (f *fakeNonces) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for key, at := range f.seen {
		if at.Before(cutoff) {
			delete(f.seen, key)
			n++
		}
	}
	return n, nil
}

type fakeQuarantines struct {
	mu   sync.Mutex
	data map[string]*domain.QuarantineRecord
	seq  int
}

func newFakeQuarantines() *fakeQuarantines {
	return &fakeQuarantines{data: make(map[string]*domain.QuarantineRecord)}
}

func (f *fakeQuarantines) Create(_ context.Context, rec *domain.QuarantineRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	rec.ID = fmt.Sprintf("q-%d", f.seq)
	cp := *rec
	f.data[rec.ID] = &cp
	return nil
}

func (f *fakeQuarantines) GetByID(_ context.Context, id string) (*domain.QuarantineRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeQuarantines) OpenForReader(_ context.Context, readerID string) (*domain.QuarantineRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *domain.QuarantineRecord
	for _, rec := range f.data {
		if rec.ReaderID != readerID {
			continue
		}
		if rec.Status != domain.QuarantineActive && rec.Status != domain.QuarantineProbation {
			continue
		}
		if latest == nil || rec.EnteredAt.After(latest.EnteredAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeQuarantines) Update(_ context.Context, rec *domain.QuarantineRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.data[rec.ID]
	if !ok {
		return domain.ErrNotFound
	}
	stored.Status = rec.Status
	stored.ProbationStartedAt = rec.ProbationStartedAt
	stored.ReleasedAt = rec.ReleasedAt
	return nil
}

type fakeChallenges struct {
	mu   sync.Mutex
	data map[string]*domain.Challenge
	seq  int
}

func newFakeChallenges() *fakeChallenges {
	return &fakeChallenges{data: make(map[string]*domain.Challenge)}
}

func (f *fakeChallenges) CreateBatch(_ context.Context, challenges []domain.Challenge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range challenges {
		f.seq++
		challenges[i].ID = fmt.Sprintf("c-%d", f.seq)
		cp := challenges[i]
		f.data[cp.ID] = &cp
	}
	return nil
}

func (f *fakeChallenges) GetByID(_ context.Context, id string) (*domain.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *ch
	return &cp, nil
}

func (f *fakeChallenges) Update(_ context.Context, challenge *domain.Challenge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.data[challenge.ID]
	if !ok {
		return domain.ErrNotFound
	}
	stored.Result = challenge.Result
	stored.AttemptCount = challenge.AttemptCount
	stored.CompletedAt = challenge.CompletedAt
	return nil
}

func (f *fakeChallenges) CountPassed(_ context.Context, quarantineID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ch := range f.data {
		if ch.QuarantineID == quarantineID && ch.Result == domain.ChallengePass {
			n++
		}
	}
	return n, nil
}

func (f *fakeChallenges) ListByQuarantine(_ context.Context, quarantineID string) ([]domain.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Challenge
	for _, ch := range f.data {
		if ch.QuarantineID == quarantineID {
			out = append(out, *ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeVotes struct {
	mu   sync.Mutex
	data map[string]*domain.ConsensusVote
	seq  int
}

func newFakeVotes() *fakeVotes { return &fakeVotes{data: make(map[string]*domain.ConsensusVote)} }

func (f *fakeVotes) Create(_ context.Context, vote *domain.ConsensusVote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := vote.QuarantineID + ":" + vote.VoterReaderID
	if _, ok := f.data[key]; ok {
		return domain.ErrAlreadyVoted
	}
	f.seq++
	vote.ID = fmt.Sprintf("vote-%d", f.seq)
	cp := *vote
	f.data[key] = &cp
	return nil
}

func (f *fakeVotes) ListByQuarantine(_ context.Context, quarantineID string) ([]domain.ConsensusVote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ConsensusVote
	for _, v := range f.data {
		if v.QuarantineID == quarantineID {
			out = append(out, *v)
		}
	}
	return out, nil
}

type fakeSuspicions struct {
	mu   sync.Mutex
	data map[string]domain.TagSuspicion
	seq  int
}

func newFakeSuspicions() *fakeSuspicions {
	return &fakeSuspicions{data: make(map[string]domain.TagSuspicion)}
}

func (f *fakeSuspicions) Upsert(_ context.Context, s domain.TagSuspicion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := s.TagHash + ":" + s.SourceReaderID
	if s.ID == "" {
		f.seq++
		s.ID = fmt.Sprintf("s-%d", f.seq)
	}
	f.data[key] = s
	return nil
}

func (f *fakeSuspicions) MaxActiveMultiplier(_ context.Context, tagHash string, now time.Time) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	max := 1.0
	for _, s := range f.data {
		if s.TagHash == tagHash && s.ExpiresAt.After(now) && s.Multiplier > max {
			max = s.Multiplier
		}
	}
	return max, nil
}

func (f *fakeSuspicions) ListActiveByTag(_ context.Context, tagHash string, now time.Time) ([]domain.TagSuspicion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TagSuspicion
	for _, s := range f.data {
		if s.TagHash == tagHash && s.ExpiresAt.After(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceReaderID < out[j].SourceReaderID })
	return out, nil
}

func (f *fakeSuspicions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for key, s := range f.data {
		if !s.ExpiresAt.After(now) {
			delete(f.data, key)
			n++
		}
	}
	return n, nil
}

func (f *fakeSuspicions) DeleteBySource(_ context.Context, readerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, s := range f.data {
		if s.SourceReaderID == readerID {
			delete(f.data, key)
		}
	}
	return nil
}

type fakeDecisions struct {
	mu   sync.Mutex
	rows []domain.TollDecision
}

func (f *fakeDecisions) Record(_ context.Context, d domain.TollDecision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, d)
	return nil
}

func (f *fakeDecisions) DistinctTagsSince(_ context.Context, readerID string, since time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	var tags []string
	for _, d := range f.rows {
		if d.ReaderID == readerID && !d.CreatedAt.Before(since) && !seen[d.TagHash] {
			seen[d.TagHash] = true
			tags = append(tags, d.TagHash)
		}
	}
	return tags, nil
}

func (f *fakeDecisions) CountByReaderSince(_ context.Context, readerID string, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, d := range f.rows {
		if d.ReaderID == readerID && d.Decision == domain.DecisionAccepted && !d.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeDecisions) PeerAverageSince(context.Context, string, time.Time) (float64, error) {
	return 0, nil
}

// --- harness ---------------------------------------------------------------

type serverHarness struct {
	srv        *Server
	readers    *fakeReaders
	trust      *fakeTrust
	suspicions *fakeSuspicions
	now        time.Time
}

func newServerHarness(t *testing.T) *serverHarness {
	return newServerHarnessWithAdminKey(t, "test-admin")
}

func newServerHarnessWithAdminKey(t *testing.T, adminKey string) *serverHarness {
	t.Helper()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	source := stubPolicy{p: testPolicy()}

	readers := newFakeReaders()
	trust := newFakeTrust()
	nonces := newFakeNonces()
	quarantines := newFakeQuarantines()
	challenges := newFakeChallenges()
	votes := newFakeVotes()
	suspicions := newFakeSuspicions()
	decisions := &fakeDecisions{}

	ledger := &usecase.TrustLedger{Readers: readers, Trust: trust, Policy: source, Clock: clock}
	readerSvc := &usecase.ReaderService{Readers: readers, Clock: clock}
	quarantine := &usecase.QuarantineController{
		Trust:       trust,
		Quarantines: quarantines,
		Suspicions:  suspicions,
		Decisions:   decisions,
		Policy:      source,
		Clock:       clock,
	}
	probation := &usecase.ProbationEngine{
		Readers:     readers,
		Trust:       trust,
		Quarantines: quarantines,
		Challenges:  challenges,
		Ledger:      ledger,
		Policy:      source,
		Clock:       clock,
	}
	consensus := &usecase.ConsensusValidator{
		Readers:     readers,
		Trust:       trust,
		Quarantines: quarantines,
		Votes:       votes,
		Policy:      source,
		Clock:       clock,
	}
	restoration := &usecase.RestorationOrchestrator{
		Trust:       trust,
		Quarantines: quarantines,
		Suspicions:  suspicions,
		Probation:   probation,
		Consensus:   consensus,
		Policy:      source,
		Clock:       clock,
	}
	gate := &usecase.AdmissionGate{
		Readers:    readers,
		Nonces:     nonces,
		Decisions:  decisions,
		Ledger:     ledger,
		Quarantine: quarantine,
		Policy:     source,
		Clock:      clock,
	}

	srv := NewServerWithDeps(config.Config{HTTPAddr: ":0"}, ServerDeps{
		Gate:        gate,
		Ledger:      ledger,
		Readers:     readerSvc,
		Quarantine:  quarantine,
		Probation:   probation,
		Consensus:   consensus,
		Restoration: restoration,
		Quarantines: quarantines,
		Suspicions:  suspicions,
		AdminAPIKey: adminKey,
	})
	return &serverHarness{srv: srv, readers: readers, trust: trust, suspicions: suspicions, now: now}
}

func (h *serverHarness) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

func (h *serverHarness) seedReader(t *testing.T, id, secret string) {
	t.Helper()
	if err := h.readers.Create(context.Background(), domain.Reader{
		ID:         id,
		Secret:     secret,
		KeyVersion: 1,
		Status:     domain.ReaderStatusActive,
		CreatedAt:  h.now,
	}); err != nil {
		t.Fatalf("seed reader: %v", err)
	}
}

func (h *serverHarness) signedEvent(readerID, secret, nonce string) domain.TollEvent {
	ts := h.now.Unix()
	return domain.TollEvent{
		TagHash:    "tag-1",
		ReaderID:   readerID,
		Timestamp:  ts,
		Nonce:      nonce,
		Signature:  usecase.EventSignature(secret, "tag-1", readerID, ts, nonce),
		KeyVersion: 1,
	}
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

var adminHeader = map[string]string{"X-Admin-Key": "test-admin"}

// --- tests -----------------------------------------------------------------

func TestHealthz(t *testing.T) {
	h := newServerHarness(t)
	w := h.do(t, http.MethodGet, "/healthz", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeJSON[map[string]string](t, w)
	if body["status"] != "ok" || body["mode"] != "no-db" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestTollEvent_AcceptThenBlockAfterQuarantine(t *testing.T) {
	h := newServerHarness(t)
	h.seedReader(t, "reader-1", "secret-1")

	w := h.do(t, http.MethodPost, "/v1/toll", h.signedEvent("reader-1", "secret-1", "nonce-1"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	accepted := decodeJSON[tollResponse](t, w)
	if !accepted.Accepted || accepted.Reason != domain.ReasonOK || accepted.EventID == "" {
		t.Fatalf("unexpected accept response: %+v", accepted)
	}

	// A forged signature rejects, penalizes and quarantines the reader.
	bad := h.signedEvent("reader-1", "secret-1", "nonce-2")
	bad.Signature = "deadbeef"
	w = h.do(t, http.MethodPost, "/v1/toll", bad, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
	rejected := decodeJSON[tollResponse](t, w)
	if rejected.Accepted || rejected.Reason != domain.ReasonBadSignature {
		t.Fatalf("unexpected reject response: %+v", rejected)
	}

	w = h.do(t, http.MethodGet, "/v1/readers/reader-1/trust", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	trust := decodeJSON[trustResponse](t, w)
	if trust.Score != 70 {
		t.Fatalf("expected score 70 after weighted signature penalty, got %d", trust.Score)
	}
	if trust.QuarantineState != string(domain.QuarantineStateQuarantined) {
		t.Fatalf("expected quarantined state, got %q", trust.QuarantineState)
	}

	// Further events from the quarantined reader are blocked even when valid.
	w = h.do(t, http.MethodPost, "/v1/toll", h.signedEvent("reader-1", "secret-1", "nonce-3"), nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	blocked := decodeJSON[tollResponse](t, w)
	if blocked.Reason != domain.ReasonQuarantined {
		t.Fatalf("expected %s, got %s", domain.ReasonQuarantined, blocked.Reason)
	}
}

func TestTollEvent_BadRequests(t *testing.T) {
	h := newServerHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/toll", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", w.Code)
	}

	w = h.do(t, http.MethodPost, "/v1/toll", domain.TollEvent{TagHash: "tag-1"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for incomplete event, got %d", w.Code)
	}
	body := decodeJSON[errorResponse](t, w)
	if body.Code != "INVALID_EVENT" {
		t.Fatalf("expected INVALID_EVENT, got %s", body.Code)
	}
}

func TestAdminEndpoints_RequireKey(t *testing.T) {
	h := newServerHarness(t)
	reg := registerReaderRequest{ReaderID: "reader-1"}

	w := h.do(t, http.MethodPost, "/v1/readers", reg, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}
	w = h.do(t, http.MethodPost, "/v1/readers", reg, map[string]string{"X-Admin-Key": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", w.Code)
	}

	w = h.do(t, http.MethodPost, "/v1/readers", reg, adminHeader)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decodeJSON[readerResponse](t, w)
	if created.ReaderID != "reader-1" || created.Secret == "" || created.KeyVersion != 1 {
		t.Fatalf("unexpected register response: %+v", created)
	}
	if created.Status != string(domain.ReaderStatusActive) {
		t.Fatalf("expected ACTIVE, got %s", created.Status)
	}
}

func TestAdminEndpoints_OpenWithoutConfiguredKey(t *testing.T) {
	h := newServerHarnessWithAdminKey(t, "")

	w := h.do(t, http.MethodPost, "/v1/readers", registerReaderRequest{ReaderID: "reader-1"}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 with no admin key configured, got %d: %s", w.Code, w.Body.String())
	}
	created := decodeJSON[readerResponse](t, w)
	if created.ReaderID != "reader-1" || created.Secret == "" {
		t.Fatalf("unexpected register response: %+v", created)
	}
}

func TestNewServer_BrokenPolicyBundleFails(t *testing.T) {
	cfg := config.Config{
		HTTPAddr:         ":0",
		PolicyBundlePath: filepath.Join(t.TempDir(), "missing-bundle"),
	}
	if _, err := NewServer(cfg, nil, stubPolicy{p: testPolicy()}); err == nil {
		t.Fatal("expected error for unloadable policy bundle")
	}

	// No bundle path configured means no gate and no error.
	srv, err := NewServer(config.Config{HTTPAddr: ":0"}, nil, stubPolicy{p: testPolicy()})
	if err != nil {
		t.Fatalf("expected server without bundle to build: %v", err)
	}
	if srv == nil {
		t.Fatal("expected server")
	}
}

func TestRotateAndRevokeReader(t *testing.T) {
	h := newServerHarness(t)
	h.seedReader(t, "reader-1", "secret-1")

	w := h.do(t, http.MethodPost, "/v1/readers/reader-1/rotate", rotateKeyRequest{Secret: "secret-2"}, adminHeader)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	rotated := decodeJSON[readerResponse](t, w)
	if rotated.KeyVersion != 2 || rotated.Secret != "secret-2" {
		t.Fatalf("unexpected rotate response: %+v", rotated)
	}

	w = h.do(t, http.MethodPost, "/v1/readers/reader-1/revoke", nil, adminHeader)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	reader, err := h.readers.Get(context.Background(), "reader-1")
	if err != nil {
		t.Fatalf("get reader: %v", err)
	}
	if reader.Status != domain.ReaderStatusRevoked {
		t.Fatalf("expected REVOKED, got %s", reader.Status)
	}

	w = h.do(t, http.MethodPost, "/v1/readers/ghost/rotate", nil, adminHeader)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown reader, got %d", w.Code)
	}
}

func TestGetTrust_UnknownReader(t *testing.T) {
	h := newServerHarness(t)
	w := h.do(t, http.MethodGet, "/v1/readers/ghost/trust", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	body := decodeJSON[errorResponse](t, w)
	if body.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %s", body.Code)
	}
}

func TestRestore_WithoutProbationConflicts(t *testing.T) {
	h := newServerHarness(t)
	h.seedReader(t, "reader-1", "secret-1")

	w := h.do(t, http.MethodPost, "/v1/readers/reader-1/restore", nil, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeJSON[errorResponse](t, w)
	if body.Code != "NO_ACTIVE_PROBATION" {
		t.Fatalf("expected NO_ACTIVE_PROBATION, got %s", body.Code)
	}
}

func TestCastVote_RejectsBadInput(t *testing.T) {
	h := newServerHarness(t)

	w := h.do(t, http.MethodPost, "/v1/quarantines/q-1/votes", castVoteRequest{VoterReaderID: "peer-1", Vote: "MAYBE"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad vote, got %d", w.Code)
	}
	body := decodeJSON[errorResponse](t, w)
	if body.Code != "INVALID_VOTE" {
		t.Fatalf("expected INVALID_VOTE, got %s", body.Code)
	}

	w = h.do(t, http.MethodPost, "/v1/quarantines/q-1/votes", castVoteRequest{Vote: "APPROVE"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing voter, got %d", w.Code)
	}
}

func TestTagSuspicion(t *testing.T) {
	h := newServerHarness(t)
	ctx := context.Background()
	h.suspicions.Upsert(ctx, domain.TagSuspicion{
		TagHash:        "tag-9",
		SourceReaderID: "reader-1",
		Multiplier:     1.5,
		ExpiresAt:      time.Now().Add(10 * time.Minute),
	})
	h.suspicions.Upsert(ctx, domain.TagSuspicion{
		TagHash:        "tag-9",
		SourceReaderID: "reader-2",
		Multiplier:     2.0,
		ExpiresAt:      time.Now().Add(-time.Minute),
	})

	w := h.do(t, http.MethodGet, "/v1/tags/tag-9/suspicion", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeJSON[suspicionResponse](t, w)
	if body.Multiplier != 1.5 {
		t.Fatalf("expected multiplier 1.5 from the unexpired source, got %v", body.Multiplier)
	}
	if len(body.Sources) != 1 || body.Sources[0].SourceReaderID != "reader-1" {
		t.Fatalf("unexpected sources: %+v", body.Sources)
	}

	w = h.do(t, http.MethodGet, "/v1/tags/tag-unknown/suspicion", nil, nil)
	body = decodeJSON[suspicionResponse](t, w)
	if body.Multiplier != 1.0 || len(body.Sources) != 0 {
		t.Fatalf("expected neutral multiplier for unknown tag, got %+v", body)
	}
}

func TestProbationLifecycleOverHTTP(t *testing.T) {
	h := newServerHarness(t)
	h.seedReader(t, "reader-1", "secret-1")
	h.seedReader(t, "peer-1", "secret-p1")
	h.seedReader(t, "peer-2", "secret-p2")

	// Quarantine the reader through the gate with a forged signature.
	bad := h.signedEvent("reader-1", "secret-1", "nonce-1")
	bad.Signature = "deadbeef"
	if w := h.do(t, http.MethodPost, "/v1/toll", bad, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	w := h.do(t, http.MethodPost, "/v1/readers/reader-1/probation", nil, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	prob := decodeJSON[probationResponse](t, w)
	if prob.QuarantineID == "" || len(prob.Challenges) == 0 {
		t.Fatalf("unexpected probation response: %+v", prob)
	}

	// Answer every challenge correctly.
	for _, ch := range prob.Challenges {
		var resp domain.ChallengeResponse
		switch domain.ChallengeType(ch.Type) {
		case domain.ChallengeKnownTag:
			resp.TagHash = "tag-1"
		case domain.ChallengeTimingCheck:
			resp.Nonce = ch.Nonce
			resp.ResponseTimeMS = 100
		case domain.ChallengeSignatureVerify:
			resp.Signature = usecase.ChallengeSignature("secret-1", "reader-1", ch.Nonce)
		}
		w = h.do(t, http.MethodPost, "/v1/challenges/"+ch.ID+"/response", gradeRequest{ReaderID: "reader-1", Response: resp}, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("challenge %s: expected 200, got %d: %s", ch.ID, w.Code, w.Body.String())
		}
		graded := decodeJSON[challengeResponseBody](t, w)
		if graded.Result != string(domain.ChallengePass) {
			t.Fatalf("challenge %s (%s): expected PASS, got %q", ch.ID, ch.Type, graded.Result)
		}
	}

	// Restoring before consensus conflicts.
	w = h.do(t, http.MethodPost, "/v1/readers/reader-1/restore", nil, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 before votes, got %d: %s", w.Code, w.Body.String())
	}
	if body := decodeJSON[errorResponse](t, w); body.Code != "CONSENSUS_PENDING" {
		t.Fatalf("expected CONSENSUS_PENDING, got %s", body.Code)
	}

	for _, peer := range []string{"peer-1", "peer-2"} {
		w = h.do(t, http.MethodPost, "/v1/quarantines/"+prob.QuarantineID+"/votes",
			castVoteRequest{VoterReaderID: peer, Vote: string(domain.VoteApprove)}, nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("vote by %s: expected 201, got %d: %s", peer, w.Code, w.Body.String())
		}
	}

	w = h.do(t, http.MethodGet, "/v1/quarantines/"+prob.QuarantineID+"/consensus", nil, nil)
	cons := decodeJSON[consensusResponse](t, w)
	if !cons.Reached || !cons.Approved {
		t.Fatalf("expected approved consensus, got %+v", cons)
	}

	w = h.do(t, http.MethodPost, "/v1/readers/reader-1/restore", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	restored := decodeJSON[restoreResponse](t, w)
	if restored.QuarantineState != string(domain.QuarantineStateNormal) {
		t.Fatalf("expected NORMAL after restore, got %s", restored.QuarantineState)
	}
	if restored.Score <= 0 || restored.Score > 60 {
		t.Fatalf("restored score %d outside probation cap", restored.Score)
	}
}
