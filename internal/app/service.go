/**
 * @description
 * This file contains the core of the event-service's winner allocation engine. The
 * `Service` struct coordinates the repository (stock ledger, entries, draw locks), the
 * shared fast-access store (admission limiter, traffic policy, reward stats) and the
 * message broker (queue bridge).
 *
 * Key features:
 * - Application intake with admission limiting and sync/async allocation modes.
 * - Atomic first-come allocation with reward computation.
 * - Lock-protected batch draws (FIFO and reservoir-sampled random draws).
 * - Mission-driven entries triggered after progress is committed.
 *
 * @dependencies
 * - go.uber.org/zap: Structured logging.
 * - internal/domain, internal/store, internal/metrics.
 */

package app

import (
	"errors"
	"time"

	"github.com/transfa/event-service/internal/metrics"
	"github.com/transfa/event-service/internal/store"
	"go.uber.org/zap"
)

const (
	defaultFirstComeLimit  = 10
	defaultRaffleLimit     = 1000
	defaultDrawPageSize    = 10000
	defaultCommitChunkSize = 1000
)

var (
	ErrEventNotOpen     = errors.New("event is not accepting applications")
	ErrEventTypeInvalid = errors.New("operation not supported for this event type")
	ErrInvalidDrawLimit = errors.New("draw limit must be positive")
)

// Settings are the tunables of the allocation engine.
type Settings struct {
	FirstComeDefaultLimit int
	RaffleDefaultLimit    int
	DrawPageSize          int
	CommitChunkSize       int
	// SyncFirstCome allocates first-come applications inline instead of
	// enqueueing them.
	SyncFirstCome bool
}

func (s Settings) withDefaults() Settings {
	if s.FirstComeDefaultLimit < 0 {
		s.FirstComeDefaultLimit = defaultFirstComeLimit
	}
	if s.RaffleDefaultLimit < 0 {
		s.RaffleDefaultLimit = defaultRaffleLimit
	}
	if s.DrawPageSize <= 0 {
		s.DrawPageSize = defaultDrawPageSize
	}
	if s.CommitChunkSize <= 0 {
		s.CommitChunkSize = defaultCommitChunkSize
	}
	return s
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		FirstComeDefaultLimit: defaultFirstComeLimit,
		RaffleDefaultLimit:    defaultRaffleLimit,
		DrawPageSize:          defaultDrawPageSize,
		CommitChunkSize:       defaultCommitChunkSize,
	}
}

// Service provides the event allocation use cases.
type Service struct {
	repo     store.Repository
	rewards  *RewardAllocator
	policies *RewardPolicyCache
	limiter  AdmissionLimiter
	traffic  TrafficPolicy
	bridge   *QueueBridge
	keys     Keyspace
	settings Settings
	missions *MissionStrategyRegistry
	rng      randomSource
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a new event service. The limiter, traffic policy and
// queue bridge are optional and attached with their setters.
func NewService(repo store.Repository, rewards *RewardAllocator, keys Keyspace, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		rewards:  rewards,
		policies: NewRewardPolicyCache(repo, 0),
		keys:     keys,
		settings: DefaultSettings(),
		missions: defaultMissionStrategies(),
		rng:      globalRandom{},
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) Configure(settings Settings) {
	s.settings = settings.withDefaults()
}

func (s *Service) SetAdmissionLimiter(limiter AdmissionLimiter) {
	s.limiter = limiter
}

func (s *Service) SetTrafficPolicy(policy TrafficPolicy) {
	s.traffic = policy
}

// SetQueueBridge enables queued allocation. Without a bridge first-come
// applications are allocated inline and raffle entries are written directly.
func (s *Service) SetQueueBridge(bridge *QueueBridge) {
	s.bridge = bridge
}

func (s *Service) SetRewardPolicyCache(cache *RewardPolicyCache) {
	s.policies = cache
}

func (s *Service) SetMissionStrategies(registry *MissionStrategyRegistry) {
	s.missions = registry
}

func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// EntryConsumer returns the queue consumer bound to this service.
func (s *Service) EntryConsumer() *EntryConsumer {
	return NewEntryConsumer(s, s.logger, s.metrics)
}
