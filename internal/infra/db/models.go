package db

import "time"

type ReaderModel struct {
	ReaderID   string    `gorm:"primaryKey"`
	Secret     string    `gorm:"not null"`
	KeyVersion int       `gorm:"not null;default:1"`
	Status     string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (ReaderModel) TableName() string { return "readers" }

type TrustRecordModel struct {
	ReaderID        string `gorm:"primaryKey"`
	Score           int    `gorm:"not null"`
	Status          string `gorm:"not null"`
	QuarantineState string `gorm:"not null"`
	LastViolationAt *time.Time
	UpdatedAt       time.Time `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (TrustRecordModel) TableName() string { return "trust_records" }

type ViolationModel struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	ReaderID   string    `gorm:"index;not null"`
	Type       string    `gorm:"not null"`
	ScoreDelta int       `gorm:"not null"`
	Details    string    ``
	CreatedAt  time.Time `gorm:"index;not null"`
}

func (ViolationModel) TableName() string { return "violations" }

type NonceRecordModel struct {
	ID       int64     `gorm:"primaryKey"`
	ReaderID string    `gorm:"uniqueIndex:idx_nonce_reader_nonce,priority:1;not null"`
	Nonce    string    `gorm:"uniqueIndex:idx_nonce_reader_nonce,priority:2;not null"`
	SeenAt   time.Time `gorm:"index;not null"`
}

func (NonceRecordModel) TableName() string { return "nonce_records" }

type QuarantineRecordModel struct {
	ID                 string    `gorm:"type:uuid;primaryKey"`
	ReaderID           string    `gorm:"index;not null"`
	Reason             string    `gorm:"not null"`
	Severity           int       `gorm:"not null"`
	Status             string    `gorm:"index;not null"`
	ScoreAtEntry       int       `gorm:"not null"`
	EnteredAt          time.Time `gorm:"not null"`
	ProbationStartedAt *time.Time
	ReleasedAt         *time.Time
}

func (QuarantineRecordModel) TableName() string { return "quarantine_records" }

type ChallengeModel struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	ReaderID     string `gorm:"index;not null"`
	QuarantineID string `gorm:"index;not null"`
	Type         string `gorm:"not null"`
	ExpectedTag  string ``
	Nonce        string ``
	MaxLatencyMS int    ``
	Result       string ``
	AttemptCount int    `gorm:"not null"`
	MaxAttempts  int    `gorm:"not null"`
	CompletedAt  *time.Time
	CreatedAt    time.Time `gorm:"not null"`
}

func (ChallengeModel) TableName() string { return "challenges" }

type ConsensusVoteModel struct {
	ID            string    `gorm:"type:uuid;primaryKey"`
	QuarantineID  string    `gorm:"uniqueIndex:idx_vote_quarantine_voter,priority:1;not null"`
	VoterReaderID string    `gorm:"uniqueIndex:idx_vote_quarantine_voter,priority:2;not null"`
	Vote          string    `gorm:"not null"`
	Reason        string    ``
	CreatedAt     time.Time `gorm:"not null"`
}

func (ConsensusVoteModel) TableName() string { return "consensus_votes" }

type TagSuspicionModel struct {
	ID             string    `gorm:"type:uuid;primaryKey"`
	TagHash        string    `gorm:"uniqueIndex:idx_suspicion_tag_source,priority:1;not null"`
	SourceReaderID string    `gorm:"uniqueIndex:idx_suspicion_tag_source,priority:2;not null"`
	Multiplier     float64   `gorm:"not null"`
	ExpiresAt      time.Time `gorm:"index;not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (TagSuspicionModel) TableName() string { return "tag_suspicions" }

type TollDecisionModel struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	EventID   string    `gorm:"index;not null"`
	TagHash   string    `gorm:"index;not null"`
	ReaderID  string    `gorm:"index;not null"`
	Nonce     string    ``
	Decision  string    `gorm:"not null"`
	Reason    string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"index;not null"`
}

func (TollDecisionModel) TableName() string { return "toll_decisions" }
