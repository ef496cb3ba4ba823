// Package policy loads the versioned trust policy document and hands out
// immutable snapshots. A snapshot is consulted per decision; reloading swaps
// the snapshot atomically so in-flight decisions keep the policy they started
// with.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"tollguard/internal/domain"
)

type Source struct {
	path     string
	snapshot atomic.Pointer[domain.TrustPolicy]
}

// Load reads and validates the policy file. A missing or invalid file is an
// error: the caller must treat that as fatal at startup, security thresholds
// have no safe silent default.
func Load(path string) (*Source, error) {
	s := &Source{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the current policy. The returned value must be treated as
// read-only.
func (s *Source) Snapshot() *domain.TrustPolicy {
	return s.snapshot.Load()
}

// Reload re-reads the policy file. On any error the previous snapshot stays
// in effect.
func (s *Source) Reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	var p domain.TrustPolicy
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("parse policy file: %w", err)
	}
	ApplyDefaults(&p)
	if err := Validate(&p); err != nil {
		return fmt.Errorf("invalid policy %q: %w", p.Version, err)
	}
	s.snapshot.Store(&p)
	return nil
}

// ApplyDefaults fills unset knobs with the documented defaults so a policy
// file only has to state what it changes.
func ApplyDefaults(p *domain.TrustPolicy) {
	if p.InitialScore == 0 {
		p.InitialScore = 100
	}
	if p.TrustedThreshold == 0 {
		p.TrustedThreshold = 70
	}
	if p.SuspendedThreshold == 0 {
		p.SuspendedThreshold = 40
	}
	if p.BasePenalties == nil {
		p.BasePenalties = map[domain.ViolationType]int{
			domain.ViolationSignatureMismatch: 15,
			domain.ViolationRevokedReader:     15,
			domain.ViolationStaleKeyVersion:   15,
			domain.ViolationStaleTimestamp:    20,
			domain.ViolationReplayAttack:      25,
			domain.ViolationRateLimited:       2,
			domain.ViolationRateAnomaly:       5,
			domain.ViolationFraudSuspected:    10,
			domain.ViolationProbationFailure:  10,
		}
	}
	if p.CleanReward == 0 {
		p.CleanReward = 1
	}
	if p.QuarantineThreshold == 0 {
		p.QuarantineThreshold = 35
	}
	if p.CriticalViolations == nil {
		p.CriticalViolations = []domain.ViolationType{
			domain.ViolationReplayAttack,
			domain.ViolationSignatureMismatch,
			domain.ViolationStaleKeyVersion,
		}
	}
	if p.SeverityWeights == nil {
		p.SeverityWeights = map[domain.ViolationType]int{
			domain.ViolationReplayAttack:      3,
			domain.ViolationSignatureMismatch: 2,
			domain.ViolationStaleKeyVersion:   2,
		}
	}
	if p.RotateKeyBelow == 0 {
		p.RotateKeyBelow = 20
	}
	if p.RecoveryRatePerHour == 0 {
		p.RecoveryRatePerHour = 2.0
	}
	if p.MaxRecoveryCap == 0 {
		p.MaxRecoveryCap = 80
	}
	if p.MinHoursBeforeRecovery == 0 {
		p.MinHoursBeforeRecovery = 1.0
	}
	if p.ChallengesRequired == 0 {
		p.ChallengesRequired = 3
	}
	if p.MaxAttemptsPerChallenge == 0 {
		p.MaxAttemptsPerChallenge = 2
	}
	if p.TimingMaxResponseMS == 0 {
		p.TimingMaxResponseMS = 5000
	}
	if p.ProbationTrustCap == 0 {
		p.ProbationTrustCap = 60
	}
	if p.RestorationBonus == 0 {
		p.RestorationBonus = 20
	}
	if p.MinVoters == 0 {
		p.MinVoters = 2
	}
	if p.ApprovalThreshold == 0 {
		p.ApprovalThreshold = 0.6
	}
	if p.SuspicionMultiplier == 0 {
		p.SuspicionMultiplier = 1.5
	}
	if p.SuspicionWindowMinutes == 0 {
		p.SuspicionWindowMinutes = 30
	}
	if p.SuspicionLookbackMinutes == 0 {
		p.SuspicionLookbackMinutes = 60
	}
	if p.MaxDriftSeconds == 0 {
		p.MaxDriftSeconds = 30
	}
	if p.NoncePruneSeconds == 0 {
		p.NoncePruneSeconds = 60
	}
	if p.RateLimitEvents == 0 {
		p.RateLimitEvents = 30
	}
	if p.RateLimitWindowSeconds == 0 {
		p.RateLimitWindowSeconds = 10
	}
	if p.OutlierWindowMinutes == 0 {
		p.OutlierWindowMinutes = 10
	}
	if p.OutlierRateMultiple == 0 {
		p.OutlierRateMultiple = 3.0
	}
	if p.OutlierConfidence == 0 {
		p.OutlierConfidence = 0.5
	}
	if p.FraudThreshold == 0 {
		p.FraudThreshold = 0.7
	}
	if p.FraudAnomalyBoost == 0 {
		p.FraudAnomalyBoost = 0.1
	}
}

// Validate rejects policies that would make the engine misbehave.
func Validate(p *domain.TrustPolicy) error {
	if p.Version == "" {
		return fmt.Errorf("version is required")
	}
	if p.InitialScore < 0 || p.InitialScore > 100 {
		return fmt.Errorf("initial_score must be in [0,100]")
	}
	if p.SuspendedThreshold > p.TrustedThreshold {
		return fmt.Errorf("suspended_threshold above trusted_threshold")
	}
	if p.NoncePruneSeconds < p.MaxDriftSeconds {
		// Pruning inside the freshness window would resurrect live nonces.
		return fmt.Errorf("nonce_prune_seconds must be >= max_drift_seconds")
	}
	if p.MaxRecoveryCap >= 100 {
		return fmt.Errorf("max_recovery_cap must be below full trust")
	}
	if p.ProbationTrustCap >= p.TrustedThreshold {
		return fmt.Errorf("probation_trust_cap must be below trusted_threshold")
	}
	if p.ApprovalThreshold <= 0 || p.ApprovalThreshold > 1 {
		return fmt.Errorf("approval_threshold must be in (0,1]")
	}
	if p.MinVoters < 1 {
		return fmt.Errorf("min_voters must be at least 1")
	}
	if p.SuspicionMultiplier < 1 {
		return fmt.Errorf("suspicion_multiplier must be >= 1")
	}
	if p.ChallengesRequired < 1 || p.MaxAttemptsPerChallenge < 1 {
		return fmt.Errorf("probation challenge counts must be positive")
	}
	return nil
}
