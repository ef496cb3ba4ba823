package usecase

import (
	"context"
	"time"

	"tollguard/internal/domain"
)

type Clock func() time.Time

// PolicySource hands out the current trust policy snapshot. Implementations
// must return a value that is safe to read without locking.
type PolicySource interface {
	Snapshot() *domain.TrustPolicy
}

type ReaderRepository interface {
	Get(ctx context.Context, readerID string) (*domain.Reader, error)
	Create(ctx context.Context, reader domain.Reader) error
	// UpdateSecret installs a new secret and advances the key version.
	UpdateSecret(ctx context.Context, readerID, secret string, keyVersion int) error
	UpdateStatus(ctx context.Context, readerID string, status domain.ReaderStatus) error
	ListActiveIDs(ctx context.Context) ([]string, error)
}

type TrustRepository interface {
	Get(ctx context.Context, readerID string) (*domain.TrustRecord, error)
	// Mutate applies fn to the reader's trust record under a per-reader lock,
	// creating the record at initialScore when it does not exist yet. When fn
	// returns a violation it is appended in the same transaction. Concurrent
	// mutations of the same reader serialize; lost updates are not possible.
	Mutate(ctx context.Context, readerID string, initialScore int, fn func(rec *domain.TrustRecord) (*domain.Violation, error)) (*domain.TrustRecord, error)
	// ListRecoverable returns IDs of readers below maxScore that are not
	// quarantined and have a recorded last violation.
	ListRecoverable(ctx context.Context, maxScore int) ([]string, error)
	ListViolations(ctx context.Context, readerID string) ([]domain.Violation, error)
}

type NonceRepository interface {
	// InsertOnce records (readerID, nonce) atomically; a second insert of the
	// same pair fails with domain.ErrNonceReplayed even under concurrency.
	InsertOnce(ctx context.Context, readerID, nonce string, seenAt time.Time) error
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type QuarantineRepository interface {
	Create(ctx context.Context, rec *domain.QuarantineRecord) error
	GetByID(ctx context.Context, id string) (*domain.QuarantineRecord, error)
	// OpenForReader returns the reader's ACTIVE or PROBATION record, or
	// domain.ErrNotFound.
	OpenForReader(ctx context.Context, readerID string) (*domain.QuarantineRecord, error)
	Update(ctx context.Context, rec *domain.QuarantineRecord) error
}

type ChallengeRepository interface {
	CreateBatch(ctx context.Context, challenges []domain.Challenge) error
	GetByID(ctx context.Context, id string) (*domain.Challenge, error)
	Update(ctx context.Context, challenge *domain.Challenge) error
	CountPassed(ctx context.Context, quarantineID string) (int, error)
	ListByQuarantine(ctx context.Context, quarantineID string) ([]domain.Challenge, error)
}

type VoteRepository interface {
	// Create fails with domain.ErrAlreadyVoted when the voter has already
	// voted on this quarantine.
	Create(ctx context.Context, vote *domain.ConsensusVote) error
	ListByQuarantine(ctx context.Context, quarantineID string) ([]domain.ConsensusVote, error)
}

type SuspicionRepository interface {
	Upsert(ctx context.Context, s domain.TagSuspicion) error
	// MaxActiveMultiplier returns the highest multiplier among unexpired
	// suspicions for the tag, or 1.0 when there are none.
	MaxActiveMultiplier(ctx context.Context, tagHash string, now time.Time) (float64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteBySource(ctx context.Context, readerID string) error
}

type DecisionRepository interface {
	Record(ctx context.Context, d domain.TollDecision) error
	DistinctTagsSince(ctx context.Context, readerID string, since time.Time) ([]string, error)
	CountByReaderSince(ctx context.Context, readerID string, since time.Time) (int64, error)
	// PeerAverageSince is the mean accepted-event count per active reader
	// other than readerID over the window.
	PeerAverageSince(ctx context.Context, readerID string, since time.Time) (float64, error)
}

// FraudScorer is the external classifier ensemble. The gate only consumes
// its verdict; scoring itself lives outside this subsystem.
type FraudScorer interface {
	Score(ctx context.Context, event domain.TollEvent) (domain.FraudScore, error)
}

// GateInput and GateVerdict are the contract of the optional deny-rule hook
// evaluated after the built-in admission checks.
type GateInput struct {
	Event domain.TollEvent `json:"event"`
	Trust GateTrust        `json:"trust"`
}

type GateTrust struct {
	Score           int    `json:"score"`
	Status          string `json:"status"`
	QuarantineState string `json:"quarantine_state"`
}

type GateDeny struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type GateVerdict struct {
	Allow bool       `json:"allow"`
	Deny  []GateDeny `json:"deny,omitempty"`
}

type PolicyGate interface {
	Evaluate(ctx context.Context, input GateInput) (GateVerdict, error)
}
