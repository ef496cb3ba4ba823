package domain

// TrustPolicy is an immutable snapshot of every threshold, weight, and window
// the trust subsystem consults. Snapshots are loaded from a versioned policy
// document and injected per call; nothing in the engine hard-codes a number
// from this set.
type TrustPolicy struct {
	Version string `json:"version"`

	InitialScore       int `json:"initial_score"`
	TrustedThreshold   int `json:"trusted_threshold"`
	SuspendedThreshold int `json:"suspended_threshold"`

	// BasePenalties are positive point costs per violation type. Weights
	// scale them; a missing weight means 1.0.
	BasePenalties map[ViolationType]int     `json:"base_penalties"`
	Weights       map[ViolationType]float64 `json:"weights"`
	CleanReward   int                       `json:"clean_reward"`

	QuarantineThreshold int                   `json:"quarantine_threshold"`
	CriticalViolations  []ViolationType       `json:"critical_violations"`
	SeverityWeights     map[ViolationType]int `json:"severity_weights"`

	RotateKeyBelow int `json:"rotate_key_below"`

	RecoveryRatePerHour    float64 `json:"recovery_rate_per_hour"`
	MaxRecoveryCap         int     `json:"max_recovery_cap"`
	MinHoursBeforeRecovery float64 `json:"min_hours_before_recovery"`

	ChallengesRequired      int      `json:"challenges_required"`
	MaxAttemptsPerChallenge int      `json:"max_attempts_per_challenge"`
	TimingMaxResponseMS     int      `json:"timing_max_response_ms"`
	KnownGoodTags           []string `json:"known_good_tags"`
	ProbationTrustCap       int      `json:"probation_trust_cap"`
	RestorationBonus        int      `json:"restoration_bonus"`

	MinVoters         int     `json:"min_voters"`
	ApprovalThreshold float64 `json:"approval_threshold"`

	SuspicionMultiplier      float64 `json:"suspicion_multiplier"`
	SuspicionWindowMinutes   int     `json:"suspicion_window_minutes"`
	SuspicionLookbackMinutes int     `json:"suspicion_lookback_minutes"`

	MaxDriftSeconds   int `json:"max_drift_seconds"`
	NoncePruneSeconds int `json:"nonce_prune_seconds"`

	RateLimitEvents        int `json:"rate_limit_events"`
	RateLimitWindowSeconds int `json:"rate_limit_window_seconds"`

	OutlierWindowMinutes int     `json:"outlier_window_minutes"`
	OutlierRateMultiple  float64 `json:"outlier_rate_multiple"`
	OutlierConfidence    float64 `json:"outlier_confidence"`

	FraudThreshold    float64 `json:"fraud_threshold"`
	FraudAnomalyBoost float64 `json:"fraud_anomaly_boost"`
}

// StatusFor maps a score to a trust status by the policy thresholds.
func (p *TrustPolicy) StatusFor(score int) TrustStatus {
	switch {
	case score >= p.TrustedThreshold:
		return TrustStatusTrusted
	case score >= p.SuspendedThreshold:
		return TrustStatusDegraded
	default:
		return TrustStatusSuspended
	}
}

func (p *TrustPolicy) IsCritical(t ViolationType) bool {
	for _, c := range p.CriticalViolations {
		if c == t {
			return true
		}
	}
	return false
}

// SeverityFor returns the quarantine severity for a violation type,
// clamped to 1..3.
func (p *TrustPolicy) SeverityFor(t ViolationType) int {
	sev := p.SeverityWeights[t]
	if sev < 1 {
		sev = 1
	}
	if sev > 3 {
		sev = 3
	}
	return sev
}

func (p *TrustPolicy) PenaltyFor(t ViolationType) (base int, weight float64) {
	base = p.BasePenalties[t]
	weight = p.Weights[t]
	if weight == 0 {
		weight = 1.0
	}
	return base, weight
}

// ClampConfidence bounds a probabilistic signal so that even a low-confidence
// source moves the score at half strength and nothing exceeds full strength.
func ClampConfidence(c float64) float64 {
	if c < 0.5 {
		return 0.5
	}
	if c > 1.0 {
		return 1.0
	}
	return c
}

// ClampScore bounds a score to [0,100].
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
