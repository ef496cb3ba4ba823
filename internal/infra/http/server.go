package http

import (
	"context"
	"fmt"
	"net/http"

	"tollguard/internal/config"
	"tollguard/internal/domain"
	"tollguard/internal/infra/db"
	"tollguard/internal/infra/policyopa"
	"tollguard/internal/infra/ratelimit"
	"tollguard/internal/usecase"

	"github.com/gin-gonic/gin"
)

type Server struct {
	cfg   config.Config
	store *db.Store
	r     *gin.Engine

	gate        *usecase.AdmissionGate
	ledger      *usecase.TrustLedger
	readers     *usecase.ReaderService
	quarantine  *usecase.QuarantineController
	probation   *usecase.ProbationEngine
	consensus   *usecase.ConsensusValidator
	restoration *usecase.RestorationOrchestrator

	quarantines usecase.QuarantineRepository
	suspicions  SuspicionStore

	adminAPIKey string
}

// ServerDeps lets tests and custom wirings inject every collaborator.
type ServerDeps struct {
	Gate        *usecase.AdmissionGate
	Ledger      *usecase.TrustLedger
	Readers     *usecase.ReaderService
	Quarantine  *usecase.QuarantineController
	Probation   *usecase.ProbationEngine
	Consensus   *usecase.ConsensusValidator
	Restoration *usecase.RestorationOrchestrator
	Quarantines usecase.QuarantineRepository
	Suspicions  SuspicionStore
	AdminAPIKey string
}

func NewServer(cfg config.Config, store *db.Store, policy usecase.PolicySource) (*Server, error) {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{cfg: cfg, store: store, r: r}
	if err := s.initDeps(policy); err != nil {
		return nil, err
	}
	s.routes()
	return s, nil
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:         cfg,
		r:           r,
		gate:        deps.Gate,
		ledger:      deps.Ledger,
		readers:     deps.Readers,
		quarantine:  deps.Quarantine,
		probation:   deps.Probation,
		consensus:   deps.Consensus,
		restoration: deps.Restoration,
		quarantines: deps.Quarantines,
		suspicions:  deps.Suspicions,
		adminAPIKey: deps.AdminAPIKey,
	}
	s.routes()
	return s
}

func (s *Server) initDeps(policy usecase.PolicySource) error {
	s.adminAPIKey = s.cfg.AdminAPIKey

	var (
		readerRepo     *db.ReaderRepository
		trustRepo      *db.TrustRepository
		nonceRepo      *db.NonceRepository
		quarantineRepo *db.QuarantineRepository
		challengeRepo  *db.ChallengeRepository
		voteRepo       *db.VoteRepository
		suspicionRepo  *db.SuspicionRepository
		decisionRepo   *db.DecisionRepository
	)
	if s.store != nil {
		readerRepo = db.NewReaderRepository(s.store.DB)
		trustRepo = db.NewTrustRepository(s.store.DB)
		nonceRepo = db.NewNonceRepository(s.store.DB)
		quarantineRepo = db.NewQuarantineRepository(s.store.DB)
		challengeRepo = db.NewChallengeRepository(s.store.DB)
		voteRepo = db.NewVoteRepository(s.store.DB)
		suspicionRepo = db.NewSuspicionRepository(s.store.DB)
		decisionRepo = db.NewDecisionRepository(s.store.DB)
	}

	s.ledger = &usecase.TrustLedger{
		Readers: readerRepo,
		Trust:   trustRepo,
		Policy:  policy,
	}
	s.readers = &usecase.ReaderService{Readers: readerRepo}
	s.quarantine = &usecase.QuarantineController{
		Trust:       trustRepo,
		Quarantines: quarantineRepo,
		Suspicions:  suspicionRepo,
		Decisions:   decisionRepo,
		Policy:      policy,
	}
	s.probation = &usecase.ProbationEngine{
		Readers:     readerRepo,
		Trust:       trustRepo,
		Quarantines: quarantineRepo,
		Challenges:  challengeRepo,
		Ledger:      s.ledger,
		Policy:      policy,
	}
	s.consensus = &usecase.ConsensusValidator{
		Readers:     readerRepo,
		Trust:       trustRepo,
		Quarantines: quarantineRepo,
		Votes:       voteRepo,
		Policy:      policy,
	}
	s.restoration = &usecase.RestorationOrchestrator{
		Trust:       trustRepo,
		Quarantines: quarantineRepo,
		Suspicions:  suspicionRepo,
		Probation:   s.probation,
		Consensus:   s.consensus,
		Policy:      policy,
	}

	limiter := s.buildRateLimiter()
	gate, err := s.buildPolicyGate()
	if err != nil {
		return err
	}
	s.gate = &usecase.AdmissionGate{
		Readers:     readerRepo,
		Nonces:      nonceRepo,
		Decisions:   decisionRepo,
		Ledger:      s.ledger,
		Quarantine:  s.quarantine,
		RateLimiter: limiter,
		Outliers: &usecase.OutlierCheck{
			Decisions:  decisionRepo,
			Ledger:     s.ledger,
			Quarantine: s.quarantine,
			Policy:     policy,
		},
		Gate:   gate,
		Policy: policy,
	}
	s.quarantines = quarantineRepo
	s.suspicions = suspicionRepo
	return nil
}

func (s *Server) buildRateLimiter() domain.RateLimiter {
	if s.cfg.RedisAddr != "" {
		if limiter, err := ratelimit.NewRedisLimiter(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, nil); err == nil {
			return limiter
		}
	}
	return ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
		MaxKeys: s.cfg.RateLimitMaxKeys,
	})
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		mode := "no-db"
		if s.store != nil && s.store.DB != nil {
			mode = "db"
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": mode})
	})

	v1 := s.r.Group("/v1")
	{
		v1.POST("/toll", s.handleTollEvent)

		v1.GET("/readers/:reader_id/trust", s.handleGetTrust)
		v1.GET("/readers/:reader_id/violations", s.handleListViolations)

		v1.POST("/readers", s.handleRegisterReader)
		v1.POST("/readers/:reader_id/reset", s.handleResetTrust)
		v1.POST("/readers/:reader_id/rotate", s.handleRotateKey)
		v1.POST("/readers/:reader_id/revoke", s.handleRevokeReader)

		v1.POST("/readers/:reader_id/probation", s.handleStartProbation)
		v1.POST("/challenges/:challenge_id/response", s.handleChallengeResponse)

		v1.POST("/quarantines/:quarantine_id/votes", s.handleCastVote)
		v1.GET("/quarantines/:quarantine_id/consensus", s.handleConsensus)
		v1.GET("/quarantines/:quarantine_id/voters", s.handleEligibleVoters)

		v1.POST("/readers/:reader_id/restore", s.handleRestore)

		v1.GET("/tags/:tag_hash/suspicion", s.handleTagSuspicion)
	}
}

// Run blocks serving HTTP until the listener fails.
func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.r
}

// buildPolicyGate loads the optional deny-rule bundle. A configured path that
// fails to load is an error: silently dropping the hook would remove a
// security control without any signal.
func (s *Server) buildPolicyGate() (usecase.PolicyGate, error) {
	if s.cfg.PolicyBundlePath == "" {
		return nil, nil
	}
	engine, err := policyopa.NewEngineFromBundlePath(context.Background(), s.cfg.PolicyBundlePath)
	if err != nil {
		return nil, fmt.Errorf("load policy bundle %q: %w", s.cfg.PolicyBundlePath, err)
	}
	return engine, nil
}
