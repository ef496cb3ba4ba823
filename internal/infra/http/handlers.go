package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"tollguard/internal/domain"

	"github.com/gin-gonic/gin"
)

// SuspicionStore is what the tag suspicion endpoint needs from storage.
type SuspicionStore interface {
	MaxActiveMultiplier(ctx context.Context, tagHash string, now time.Time) (float64, error)
	ListActiveByTag(ctx context.Context, tagHash string, now time.Time) ([]domain.TagSuspicion, error)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type tollResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
	EventID  string `json:"event_id,omitempty"`
}

type trustResponse struct {
	ReaderID        string `json:"reader_id"`
	Score           int    `json:"score"`
	Status          string `json:"status"`
	QuarantineState string `json:"quarantine_state"`
	LastViolationAt string `json:"last_violation_at,omitempty"`
	UpdatedAt       string `json:"updated_at"`
}

type violationResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	ScoreDelta int    `json:"score_delta"`
	Details    string `json:"details,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type registerReaderRequest struct {
	ReaderID string `json:"reader_id"`
	Secret   string `json:"secret,omitempty"`
}

type readerResponse struct {
	ReaderID   string `json:"reader_id"`
	Secret     string `json:"secret,omitempty"`
	KeyVersion int    `json:"key_version"`
	Status     string `json:"status"`
}

type rotateKeyRequest struct {
	Secret string `json:"secret,omitempty"`
}

type challengeResponseBody struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Nonce        string `json:"nonce,omitempty"`
	MaxLatencyMS int    `json:"max_latency_ms,omitempty"`
	Result       string `json:"result,omitempty"`
	AttemptCount int    `json:"attempt_count"`
	MaxAttempts  int    `json:"max_attempts"`
}

type probationResponse struct {
	QuarantineID string                  `json:"quarantine_id"`
	Challenges   []challengeResponseBody `json:"challenges"`
}

type gradeRequest struct {
	ReaderID string                   `json:"reader_id"`
	Response domain.ChallengeResponse `json:"response"`
}

type castVoteRequest struct {
	VoterReaderID string `json:"voter_reader_id"`
	Vote          string `json:"vote"`
	Reason        string `json:"reason,omitempty"`
}

type consensusResponse struct {
	Reached       bool    `json:"reached"`
	Approved      bool    `json:"approved"`
	ApproveCount  int     `json:"approve_count"`
	RejectCount   int     `json:"reject_count"`
	TotalVotes    int     `json:"total_votes"`
	RequiredVotes int     `json:"required_votes"`
	ApprovalRatio float64 `json:"approval_ratio"`
}

type restoreResponse struct {
	ReaderID        string `json:"reader_id"`
	Score           int    `json:"score"`
	Status          string `json:"status"`
	QuarantineState string `json:"quarantine_state"`
}

type suspicionResponse struct {
	TagHash    string               `json:"tag_hash"`
	Multiplier float64              `json:"multiplier"`
	Sources    []suspicionSourceDTO `json:"sources,omitempty"`
}

type suspicionSourceDTO struct {
	SourceReaderID string  `json:"source_reader_id"`
	Multiplier     float64 `json:"multiplier"`
	ExpiresAt      string  `json:"expires_at"`
}

func (s *Server) handleTollEvent(c *gin.Context) {
	if s.gate == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var event domain.TollEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if event.ReaderID == "" || event.TagHash == "" || event.Nonce == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_EVENT", "reader_id, tag_hash and nonce are required")
		return
	}
	decision, err := s.gate.Admit(c.Request.Context(), event)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if !decision.Accepted {
		status = http.StatusForbidden
	}
	c.JSON(status, tollResponse{
		Accepted: decision.Accepted,
		Reason:   decision.Reason,
		EventID:  decision.EventID,
	})
}

func (s *Server) handleGetTrust(c *gin.Context) {
	if s.ledger == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	rec, err := s.ledger.GetTrust(c.Request.Context(), c.Param("reader_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trustToResponse(rec))
}

func (s *Server) handleListViolations(c *gin.Context) {
	if s.ledger == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	violations, err := s.ledger.ListViolations(c.Request.Context(), c.Param("reader_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]violationResponse, 0, len(violations))
	for _, v := range violations {
		out = append(out, violationResponse{
			ID:         v.ID,
			Type:       string(v.Type),
			ScoreDelta: v.ScoreDelta,
			Details:    v.Details,
			CreatedAt:  v.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"violations": out})
}

func (s *Server) handleRegisterReader(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if s.readers == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req registerReaderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.ReaderID == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_READER", "reader_id is required")
		return
	}
	reader, err := s.readers.Register(c.Request.Context(), req.ReaderID, req.Secret)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, readerResponse{
		ReaderID:   reader.ID,
		Secret:     reader.Secret,
		KeyVersion: reader.KeyVersion,
		Status:     string(reader.Status),
	})
}

func (s *Server) handleResetTrust(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if s.ledger == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	rec, err := s.ledger.ResetTrust(c.Request.Context(), c.Param("reader_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trustToResponse(rec))
}

func (s *Server) handleRotateKey(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if s.readers == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	// The body is optional; an empty body rotates to a generated secret.
	var req rotateKeyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
			return
		}
	}
	reader, err := s.readers.RotateKey(c.Request.Context(), c.Param("reader_id"), req.Secret)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, readerResponse{
		ReaderID:   reader.ID,
		Secret:     reader.Secret,
		KeyVersion: reader.KeyVersion,
		Status:     string(reader.Status),
	})
}

func (s *Server) handleRevokeReader(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if s.readers == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	if err := s.readers.Revoke(c.Request.Context(), c.Param("reader_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

func (s *Server) handleStartProbation(c *gin.Context) {
	if s.probation == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	challenges, err := s.probation.IssueChallenges(c.Request.Context(), c.Param("reader_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := probationResponse{}
	for _, ch := range challenges {
		if out.QuarantineID == "" {
			out.QuarantineID = ch.QuarantineID
		}
		out.Challenges = append(out.Challenges, challengeResponseBody{
			ID:           ch.ID,
			Type:         string(ch.Type),
			Nonce:        ch.Nonce,
			MaxLatencyMS: ch.MaxLatencyMS,
			Result:       string(ch.Result),
			AttemptCount: ch.AttemptCount,
			MaxAttempts:  ch.MaxAttempts,
		})
	}
	c.JSON(http.StatusCreated, out)
}

func (s *Server) handleChallengeResponse(c *gin.Context) {
	if s.probation == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req gradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.ReaderID == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_READER", "reader_id is required")
		return
	}
	ch, err := s.probation.GradeResponse(c.Request.Context(), req.ReaderID, c.Param("challenge_id"), req.Response)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, challengeResponseBody{
		ID:           ch.ID,
		Type:         string(ch.Type),
		Result:       string(ch.Result),
		AttemptCount: ch.AttemptCount,
		MaxAttempts:  ch.MaxAttempts,
	})
}

func (s *Server) handleCastVote(c *gin.Context) {
	if s.consensus == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req castVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	vote := domain.Vote(req.Vote)
	if vote != domain.VoteApprove && vote != domain.VoteReject {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_VOTE", "vote must be APPROVE or REJECT")
		return
	}
	if req.VoterReaderID == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_READER", "voter_reader_id is required")
		return
	}
	cast, err := s.consensus.CastVote(c.Request.Context(), c.Param("quarantine_id"), req.VoterReaderID, vote, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":              cast.ID,
		"quarantine_id":   cast.QuarantineID,
		"voter_reader_id": cast.VoterReaderID,
		"vote":            string(cast.Vote),
	})
}

func (s *Server) handleConsensus(c *gin.Context) {
	if s.consensus == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	result, err := s.consensus.Evaluate(c.Request.Context(), c.Param("quarantine_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, consensusResponse{
		Reached:       result.Reached,
		Approved:      result.Approved,
		ApproveCount:  result.ApproveCount,
		RejectCount:   result.RejectCount,
		TotalVotes:    result.TotalVotes,
		RequiredVotes: result.RequiredVotes,
		ApprovalRatio: result.ApprovalRatio,
	})
}

func (s *Server) handleEligibleVoters(c *gin.Context) {
	if s.consensus == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	voters, err := s.consensus.EligibleVoters(c.Request.Context(), c.Param("quarantine_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"voters": voters})
}

func (s *Server) handleRestore(c *gin.Context) {
	if s.restoration == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	result, err := s.restoration.AttemptRestore(c.Request.Context(), c.Param("reader_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, restoreResponse{
		ReaderID:        result.ReaderID,
		Score:           result.Score,
		Status:          string(result.Status),
		QuarantineState: string(result.QuarantineState),
	})
}

func (s *Server) handleTagSuspicion(c *gin.Context) {
	if s.suspicions == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	tagHash := c.Param("tag_hash")
	now := time.Now().UTC()
	multiplier, err := s.suspicions.MaxActiveMultiplier(c.Request.Context(), tagHash, now)
	if err != nil {
		writeError(c, err)
		return
	}
	active, err := s.suspicions.ListActiveByTag(c.Request.Context(), tagHash, now)
	if err != nil {
		writeError(c, err)
		return
	}
	out := suspicionResponse{TagHash: tagHash, Multiplier: multiplier}
	for _, src := range active {
		out.Sources = append(out.Sources, suspicionSourceDTO{
			SourceReaderID: src.SourceReaderID,
			Multiplier:     src.Multiplier,
			ExpiresAt:      src.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, out)
}

// requireAdmin gates operator routes on X-Admin-Key. With no key configured
// the routes are open, for single-operator deployments behind their own auth.
func (s *Server) requireAdmin(c *gin.Context) bool {
	if s.adminAPIKey == "" {
		return true
	}
	key := c.GetHeader("X-Admin-Key")
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.adminAPIKey)) != 1 {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key")
		return false
	}
	return true
}

func trustToResponse(rec *domain.TrustRecord) trustResponse {
	out := trustResponse{
		ReaderID:        rec.ReaderID,
		Score:           rec.Score,
		Status:          string(rec.Status),
		QuarantineState: string(rec.QuarantineState),
		UpdatedAt:       rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if rec.LastViolationAt != nil {
		out.LastViolationAt = rec.LastViolationAt.UTC().Format(time.RFC3339)
	}
	return out
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrReaderRevoked):
		status, code = http.StatusConflict, "READER_REVOKED"
	case errors.Is(err, domain.ErrNotQuarantined):
		status, code = http.StatusConflict, "NOT_QUARANTINED"
	case errors.Is(err, domain.ErrNoActiveProbation):
		status, code = http.StatusConflict, "NO_ACTIVE_PROBATION"
	case errors.Is(err, domain.ErrProbationIncomplete):
		status, code = http.StatusConflict, "PROBATION_INCOMPLETE"
	case errors.Is(err, domain.ErrConsensusPending):
		status, code = http.StatusConflict, "CONSENSUS_PENDING"
	case errors.Is(err, domain.ErrConsensusRejected):
		status, code = http.StatusConflict, "CONSENSUS_REJECTED"
	case errors.Is(err, domain.ErrSelfVote):
		status, code = http.StatusBadRequest, "SELF_VOTE"
	case errors.Is(err, domain.ErrAlreadyVoted):
		status, code = http.StatusConflict, "ALREADY_VOTED"
	case errors.Is(err, domain.ErrVoterNotEligible):
		status, code = http.StatusForbidden, "VOTER_NOT_ELIGIBLE"
	case errors.Is(err, domain.ErrChallengeTerminal):
		status, code = http.StatusConflict, "CHALLENGE_TERMINAL"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
