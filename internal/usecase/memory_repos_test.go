package usecase

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"tollguard/internal/domain"
	"tollguard/internal/policy"
)

func testPolicy() *domain.TrustPolicy {
	p := &domain.TrustPolicy{Version: "test"}
	policy.ApplyDefaults(p)
	return p
}

type stubPolicySource struct {
	p *domain.TrustPolicy
}

func (s *stubPolicySource) Snapshot() *domain.TrustPolicy { return s.p }

type memoryReaderRepo struct {
	mu      sync.Mutex
	readers map[string]domain.Reader
}

func newMemoryReaderRepo() *memoryReaderRepo {
	return &memoryReaderRepo{readers: make(map[string]domain.Reader)}
}

func (r *memoryReaderRepo) Get(_ context.Context, readerID string) (*domain.Reader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reader, ok := r.readers[readerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &reader, nil
}

func (r *memoryReaderRepo) Create(_ context.Context, reader domain.Reader) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers[reader.ID] = reader
	return nil
}

func (r *memoryReaderRepo) UpdateSecret(_ context.Context, readerID, secret string, keyVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reader, ok := r.readers[readerID]
	if !ok {
		return domain.ErrNotFound
	}
	reader.Secret = secret
	reader.KeyVersion = keyVersion
	r.readers[readerID] = reader
	return nil
}

func (r *memoryReaderRepo) UpdateStatus(_ context.Context, readerID string, status domain.ReaderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reader, ok := r.readers[readerID]
	if !ok {
		return domain.ErrNotFound
	}
	reader.Status = status
	r.readers[readerID] = reader
	return nil
}

func (r *memoryReaderRepo) ListActiveIDs(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.readers))
	for id, reader := range r.readers {
		if reader.Status == domain.ReaderStatusActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type memoryTrustRepo struct {
	mu         sync.Mutex
	records    map[string]domain.TrustRecord
	violations map[string][]domain.Violation
}

func newMemoryTrustRepo() *memoryTrustRepo {
	return &memoryTrustRepo{
		records:    make(map[string]domain.TrustRecord),
		violations: make(map[string][]domain.Violation),
	}
}

func (r *memoryTrustRepo) Get(_ context.Context, readerID string) (*domain.TrustRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[readerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (r *memoryTrustRepo) Mutate(_ context.Context, readerID string, initialScore int, fn func(rec *domain.TrustRecord) (*domain.Violation, error)) (*domain.TrustRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[readerID]
	if !ok {
		rec = domain.TrustRecord{
			ReaderID:        readerID,
			Score:           initialScore,
			Status:          domain.TrustStatusTrusted,
			QuarantineState: domain.QuarantineStateNormal,
		}
	}
	violation, err := fn(&rec)
	if err != nil {
		return nil, err
	}
	r.records[readerID] = rec
	if violation != nil {
		violation.ID = "v-" + strconv.Itoa(len(r.violations[readerID])+1)
		r.violations[readerID] = append(r.violations[readerID], *violation)
	}
	out := rec
	return &out, nil
}

func (r *memoryTrustRepo) ListRecoverable(_ context.Context, maxScore int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, rec := range r.records {
		if rec.Score < maxScore && rec.QuarantineState == domain.QuarantineStateNormal && rec.LastViolationAt != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *memoryTrustRepo) ListViolations(_ context.Context, readerID string) ([]domain.Violation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Violation, len(r.violations[readerID]))
	copy(out, r.violations[readerID])
	return out, nil
}

type memoryNonceRepo struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newMemoryNonceRepo() *memoryNonceRepo {
	return &memoryNonceRepo{seen: make(map[string]time.Time)}
}

func (r *memoryNonceRepo) InsertOnce(_ context.Context, readerID, nonce string, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := readerID + ":" + nonce
	if _, ok := r.seen[key]; ok {
		return domain.ErrNonceReplayed
	}
	r.seen[key] = seenAt
	return nil
}

func (r *memoryNonceRepo) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pruned int64
	for key, seenAt := range r.seen {
		if seenAt.Before(cutoff) {
			delete(r.seen, key)
			pruned++
		}
	}
	return pruned, nil
}

type memoryQuarantineRepo struct {
	mu      sync.Mutex
	nextID  int
	records map[string]domain.QuarantineRecord
}

func newMemoryQuarantineRepo() *memoryQuarantineRepo {
	return &memoryQuarantineRepo{records: make(map[string]domain.QuarantineRecord)}
}

func (r *memoryQuarantineRepo) Create(_ context.Context, rec *domain.QuarantineRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ID == "" {
		r.nextID++
		rec.ID = "q-" + strconv.Itoa(r.nextID)
	}
	r.records[rec.ID] = *rec
	return nil
}

func (r *memoryQuarantineRepo) GetByID(_ context.Context, id string) (*domain.QuarantineRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (r *memoryQuarantineRepo) OpenForReader(_ context.Context, readerID string) (*domain.QuarantineRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.QuarantineRecord
	for _, rec := range r.records {
		if rec.ReaderID != readerID {
			continue
		}
		if rec.Status != domain.QuarantineActive && rec.Status != domain.QuarantineProbation {
			continue
		}
		copyRec := rec
		if latest == nil || rec.EnteredAt.After(latest.EnteredAt) {
			latest = &copyRec
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

func (r *memoryQuarantineRepo) Update(_ context.Context, rec *domain.QuarantineRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ID]; !ok {
		return domain.ErrNotFound
	}
	r.records[rec.ID] = *rec
	return nil
}

type memoryChallengeRepo struct {
	mu         sync.Mutex
	nextID     int
	challenges map[string]domain.Challenge
}

func newMemoryChallengeRepo() *memoryChallengeRepo {
	return &memoryChallengeRepo{challenges: make(map[string]domain.Challenge)}
}

func (r *memoryChallengeRepo) CreateBatch(_ context.Context, challenges []domain.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range challenges {
		if challenges[i].ID == "" {
			r.nextID++
			challenges[i].ID = "c-" + strconv.Itoa(r.nextID)
		}
		r.challenges[challenges[i].ID] = challenges[i]
	}
	return nil
}

func (r *memoryChallengeRepo) GetByID(_ context.Context, id string) (*domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.challenges[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &ch, nil
}

func (r *memoryChallengeRepo) Update(_ context.Context, challenge *domain.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.challenges[challenge.ID]; !ok {
		return domain.ErrNotFound
	}
	r.challenges[challenge.ID] = *challenge
	return nil
}

func (r *memoryChallengeRepo) CountPassed(_ context.Context, quarantineID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, ch := range r.challenges {
		if ch.QuarantineID == quarantineID && ch.Result == domain.ChallengePass {
			count++
		}
	}
	return count, nil
}

func (r *memoryChallengeRepo) ListByQuarantine(_ context.Context, quarantineID string) ([]domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Challenge
	for _, ch := range r.challenges {
		if ch.QuarantineID == quarantineID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memoryVoteRepo struct {
	mu    sync.Mutex
	votes map[string]domain.ConsensusVote
}

func newMemoryVoteRepo() *memoryVoteRepo {
	return &memoryVoteRepo{votes: make(map[string]domain.ConsensusVote)}
}

func (r *memoryVoteRepo) Create(_ context.Context, vote *domain.ConsensusVote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := vote.QuarantineID + ":" + vote.VoterReaderID
	if _, ok := r.votes[key]; ok {
		return domain.ErrAlreadyVoted
	}
	if vote.ID == "" {
		vote.ID = key
	}
	r.votes[key] = *vote
	return nil
}

func (r *memoryVoteRepo) ListByQuarantine(_ context.Context, quarantineID string) ([]domain.ConsensusVote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ConsensusVote
	for _, vote := range r.votes {
		if vote.QuarantineID == quarantineID {
			out = append(out, vote)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VoterReaderID < out[j].VoterReaderID })
	return out, nil
}

type memorySuspicionRepo struct {
	mu         sync.Mutex
	suspicions map[string]domain.TagSuspicion
}

func newMemorySuspicionRepo() *memorySuspicionRepo {
	return &memorySuspicionRepo{suspicions: make(map[string]domain.TagSuspicion)}
}

func (r *memorySuspicionRepo) Upsert(_ context.Context, s domain.TagSuspicion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suspicions[s.TagHash+":"+s.SourceReaderID] = s
	return nil
}

func (r *memorySuspicionRepo) MaxActiveMultiplier(_ context.Context, tagHash string, now time.Time) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 1.0
	for _, s := range r.suspicions {
		if s.TagHash == tagHash && s.ExpiresAt.After(now) && s.Multiplier > max {
			max = s.Multiplier
		}
	}
	return max, nil
}

func (r *memorySuspicionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for key, s := range r.suspicions {
		if !s.ExpiresAt.After(now) {
			delete(r.suspicions, key)
			deleted++
		}
	}
	return deleted, nil
}

func (r *memorySuspicionRepo) DeleteBySource(_ context.Context, readerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, s := range r.suspicions {
		if s.SourceReaderID == readerID {
			delete(r.suspicions, key)
		}
	}
	return nil
}

type memoryDecisionRepo struct {
	mu        sync.Mutex
	decisions []domain.TollDecision
}

func newMemoryDecisionRepo() *memoryDecisionRepo {
	return &memoryDecisionRepo{}
}

func (r *memoryDecisionRepo) Record(_ context.Context, d domain.TollDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
	return nil
}

func (r *memoryDecisionRepo) DistinctTagsSince(_ context.Context, readerID string, since time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var tags []string
	for _, d := range r.decisions {
		if d.ReaderID != readerID || d.CreatedAt.Before(since) || seen[d.TagHash] {
			continue
		}
		seen[d.TagHash] = true
		tags = append(tags, d.TagHash)
	}
	sort.Strings(tags)
	return tags, nil
}

func (r *memoryDecisionRepo) CountByReaderSince(_ context.Context, readerID string, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, d := range r.decisions {
		if d.ReaderID == readerID && d.Decision == domain.DecisionAccepted && !d.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *memoryDecisionRepo) PeerAverageSince(_ context.Context, readerID string, since time.Time) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int64)
	for _, d := range r.decisions {
		if d.ReaderID == readerID || d.Decision != domain.DecisionAccepted || d.CreatedAt.Before(since) {
			continue
		}
		counts[d.ReaderID]++
	}
	if len(counts) == 0 {
		return 0, nil
	}
	var total int64
	for _, c := range counts {
		total += c
	}
	return float64(total) / float64(len(counts)), nil
}

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(_ context.Context, _ string, limit int, _ time.Duration) (domain.RateLimitDecision, error) {
	return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
}

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(_ context.Context, _ string, limit int, _ time.Duration) (domain.RateLimitDecision, error) {
	return domain.RateLimitDecision{Allowed: false, Limit: limit}, nil
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, int, time.Duration) (domain.RateLimitDecision, error) {
	return domain.RateLimitDecision{}, errors.New("limiter backend down")
}

type stubFraudScorer struct {
	score domain.FraudScore
	err   error
}

func (s *stubFraudScorer) Score(_ context.Context, _ domain.TollEvent) (domain.FraudScore, error) {
	return s.score, s.err
}

type stubGate struct {
	verdict GateVerdict
	err     error
}

func (s *stubGate) Evaluate(_ context.Context, _ GateInput) (GateVerdict, error) {
	return s.verdict, s.err
}
