package domain

import "time"

type QuarantineStatus string

const (
	QuarantineActive    QuarantineStatus = "ACTIVE"
	QuarantineProbation QuarantineStatus = "PROBATION"
	QuarantineReleased  QuarantineStatus = "RELEASED"
	QuarantineExpired   QuarantineStatus = "EXPIRED"
)

// QuarantineRecord is one quarantine episode. A reader has at most one
// ACTIVE or PROBATION record at a time.
type QuarantineRecord struct {
	ID                 string
	ReaderID           string
	Reason             string
	Severity           int
	Status             QuarantineStatus
	ScoreAtEntry       int
	EnteredAt          time.Time
	ProbationStartedAt *time.Time
	ReleasedAt         *time.Time
}

type ChallengeType string

const (
	ChallengeKnownTag        ChallengeType = "KNOWN_TAG"
	ChallengeTimingCheck     ChallengeType = "TIMING_CHECK"
	ChallengeSignatureVerify ChallengeType = "SIGNATURE_VERIFY"
)

type ChallengeResult string

const (
	ChallengePending ChallengeResult = ""
	ChallengePass    ChallengeResult = "PASS"
	ChallengeFail    ChallengeResult = "FAIL"
)

// Challenge is one probation test. It is terminal once the result is PASS
// or the attempt budget is exhausted.
type Challenge struct {
	ID           string
	ReaderID     string
	QuarantineID string
	Type         ChallengeType
	ExpectedTag  string
	Nonce        string
	MaxLatencyMS int
	Result       ChallengeResult
	AttemptCount int
	MaxAttempts  int
	CompletedAt  *time.Time
	CreatedAt    time.Time
}

// ChallengeResponse carries a reader's answer to one challenge. Which fields
// matter depends on the challenge type.
type ChallengeResponse struct {
	TagHash        string `json:"tag_hash,omitempty"`
	Nonce          string `json:"nonce,omitempty"`
	ResponseTimeMS int    `json:"response_time_ms,omitempty"`
	Signature      string `json:"signature,omitempty"`
}

type Vote string

const (
	VoteApprove Vote = "APPROVE"
	VoteReject  Vote = "REJECT"
)

// ConsensusVote is one peer opinion, unique per (quarantine, voter).
type ConsensusVote struct {
	ID            string
	QuarantineID  string
	VoterReaderID string
	Vote          Vote
	Reason        string
	CreatedAt     time.Time
}

// ConsensusResult is the tally for one quarantine.
type ConsensusResult struct {
	Reached       bool
	Approved      bool
	ApproveCount  int
	RejectCount   int
	TotalVotes    int
	RequiredVotes int
	ApprovalRatio float64
}

// TagSuspicion flags a tag for elevated fraud sensitivity because a reader
// that handled it recently was quarantined.
type TagSuspicion struct {
	ID             string
	TagHash        string
	SourceReaderID string
	Multiplier     float64
	ExpiresAt      time.Time
	CreatedAt      time.Time
}
