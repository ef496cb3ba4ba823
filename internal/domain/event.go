package domain

import "time"

// TollEvent is an inbound event as reported by a field reader.
type TollEvent struct {
	TagHash    string `json:"tag_hash"`
	ReaderID   string `json:"reader_id"`
	Timestamp  int64  `json:"timestamp"`
	Nonce      string `json:"nonce"`
	Signature  string `json:"signature"`
	KeyVersion int    `json:"key_version"`
}

type Decision string

const (
	DecisionAccepted Decision = "ACCEPTED"
	DecisionRejected Decision = "REJECTED"
)

// Admission reason codes returned to callers. Rejections map 1:1 to the
// failed check; accepted events carry ReasonOK.
const (
	ReasonOK              = "OK"
	ReasonRateLimited     = "RATE_LIMITED"
	ReasonUnknownReader   = "UNKNOWN_READER"
	ReasonReaderRevoked   = "READER_REVOKED"
	ReasonBadSignature    = "SIGNATURE_MISMATCH"
	ReasonStaleKeyVersion = "STALE_KEY_VERSION"
	ReasonStaleTimestamp  = "STALE_TIMESTAMP"
	ReasonNonceReplayed   = "NONCE_REPLAYED"
	ReasonQuarantined     = "READER_QUARANTINED"
	ReasonFraudSuspected  = "FRAUD_SUSPECTED"
	ReasonPolicyDenied    = "POLICY_DENIED"
)

// AdmissionDecision is the outcome of the admission gate for one event.
type AdmissionDecision struct {
	Accepted bool
	Reason   string
	EventID  string
}

// TollDecision is the persisted trace of an admission outcome. Suspicion
// propagation and the cross-reader outlier check read these rows.
type TollDecision struct {
	ID        string
	EventID   string
	TagHash   string
	ReaderID  string
	Nonce     string
	Decision  Decision
	Reason    string
	CreatedAt time.Time
}

// FraudScore is the verdict of the external fraud scorer for one event.
type FraudScore struct {
	RiskA       float64
	RiskB       float64
	AnomalyFlag bool
}

// Combined returns the score the admission gate compares against the policy
// fraud threshold.
func (f FraudScore) Combined() float64 {
	if f.RiskA > f.RiskB {
		return f.RiskA
	}
	return f.RiskB
}
