package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrReaderRevoked       = errors.New("reader revoked")
	ErrSignatureInvalid    = errors.New("signature invalid")
	ErrStaleKeyVersion     = errors.New("stale key version")
	ErrStaleTimestamp      = errors.New("stale timestamp")
	ErrNonceReplayed       = errors.New("nonce replayed")
	ErrRateLimited         = errors.New("rate limited")
	ErrNotQuarantined      = errors.New("reader is not quarantined")
	ErrNoActiveProbation   = errors.New("no active probation")
	ErrProbationIncomplete = errors.New("probation incomplete")
	ErrConsensusPending    = errors.New("consensus pending")
	ErrConsensusRejected   = errors.New("consensus rejected")
	ErrSelfVote            = errors.New("cannot vote on own quarantine")
	ErrAlreadyVoted        = errors.New("already voted on this quarantine")
	ErrVoterNotEligible    = errors.New("voter not eligible")
	ErrChallengeTerminal   = errors.New("challenge already graded")
	ErrPolicyDenied        = errors.New("denied by policy")
)
