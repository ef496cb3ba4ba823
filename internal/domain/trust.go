package domain

import "time"

type TrustStatus string

const (
	TrustStatusTrusted   TrustStatus = "TRUSTED"
	TrustStatusDegraded  TrustStatus = "DEGRADED"
	TrustStatusSuspended TrustStatus = "SUSPENDED"
)

type QuarantineState string

const (
	QuarantineStateNormal      QuarantineState = "NORMAL"
	QuarantineStateQuarantined QuarantineState = "QUARANTINED"
	QuarantineStateProbation   QuarantineState = "PROBATION"
)

// TrustRecord is the reputation state for one reader, 1:1 with Reader.
// Score is always clamped to [0,100].
type TrustRecord struct {
	ReaderID        string
	Score           int
	Status          TrustStatus
	QuarantineState QuarantineState
	LastViolationAt *time.Time
	UpdatedAt       time.Time
	CreatedAt       time.Time
}

type ViolationType string

const (
	ViolationSignatureMismatch ViolationType = "SIGNATURE_MISMATCH"
	ViolationRevokedReader     ViolationType = "REVOKED_READER"
	ViolationStaleKeyVersion   ViolationType = "STALE_KEY_VERSION"
	ViolationStaleTimestamp    ViolationType = "STALE_TIMESTAMP"
	ViolationReplayAttack      ViolationType = "REPLAY_ATTACK"
	ViolationRateLimited       ViolationType = "RATE_LIMITED"
	ViolationRateAnomaly       ViolationType = "RATE_ANOMALY"
	ViolationFraudSuspected    ViolationType = "FRAUD_SUSPECTED"
	ViolationProbationFailure  ViolationType = "PROBATION_FAILURE"
)

// Violation is an immutable audit entry appended on every penalty.
type Violation struct {
	ID         string
	ReaderID   string
	Type       ViolationType
	ScoreDelta int
	Details    string
	CreatedAt  time.Time
}
