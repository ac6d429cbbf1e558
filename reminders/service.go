package reminders

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/remindfi/remind-network/pkg/claims"
	"github.com/remindfi/remind-network/reminders/chain"
	"github.com/remindfi/remind-network/reminders/db"
	"github.com/remindfi/remind-network/reminders/matcher"
	"github.com/remindfi/remind-network/reminders/oracle"
	"github.com/rs/zerolog"
	"github.com/xssnick/tonutils-go/tlb"
)

var ErrValidation = errors.New("validation failed")
var ErrNotVerified = errors.New("verification is not completed")
var ErrExpired = errors.New("verification expired")

const DefaultTTL = 10 * time.Minute

// RecentPostsLimit is how many of the claimant's latest posts a poll inspects.
const RecentPostsLimit = 25

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type Oracle interface {
	RecentPosts(ctx context.Context, accountID string, limit int) ([]oracle.Post, error)
	ReputationScore(ctx context.Context, accountID string) (float64, error)
}

type TaskProvider interface {
	Get(ctx context.Context, id uint64) (*chain.Task, error)
}

type Ledger interface {
	SubmitClaim(ctx context.Context, taskID, scoreBps uint64, signature []byte) (common.Hash, error)
	SubmitReclaim(ctx context.Context, taskID uint64) (common.Hash, error)
	SubmitBurn(ctx context.Context, taskID uint64) (common.Hash, error)
}

type Config struct {
	TTL           time.Duration
	TokenDecimals int
}

type Service struct {
	db      db.Storage
	oracle  Oracle
	matcher *matcher.Matcher
	tasks   TaskProvider
	ledger  Ledger
	signer  *claims.Signer

	cfg Config
	log zerolog.Logger
	now func() time.Time
}

func NewService(store db.Storage, orc Oracle, m *matcher.Matcher, tasks TaskProvider, ledger Ledger, signer *claims.Signer, cfg Config, logger zerolog.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if m == nil {
		m = matcher.New(nil, "", matcher.DefaultWindow)
	}

	return &Service{
		db:      store,
		oracle:  orc,
		matcher: m,
		tasks:   tasks,
		ledger:  ledger,
		signer:  signer,
		cfg:     cfg,
		log:     logger.With().Str("source", "verifications").Logger(),
		now:     time.Now,
	}
}

// Tasks exposes the task provider, nil when the service runs without chain access.
func (s *Service) Tasks() TaskProvider {
	return s.tasks
}

// Signer returns the claim signer, nil when claims are not authorized by this node.
func (s *Service) Signer() *claims.Signer {
	return s.signer
}

// estimateReward prices a score against the task pool, formatted in token units.
// The tier comes from the same basis points the claim is signed with.
func (s *Service) estimateReward(ctx context.Context, taskID uint64, score float64) (string, claims.Tier, error) {
	bps, err := claims.ScoreBasisPoints(score)
	if err != nil {
		return "", claims.Tier{}, fmt.Errorf("failed to convert score: %w", err)
	}
	tier := claims.TierForBps(bps)
	if s.tasks == nil {
		return "0", tier, nil
	}

	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return "", tier, fmt.Errorf("failed to get task %d: %w", taskID, err)
	}

	return formatAmount(claims.RewardAmount(task.RewardPool, tier.BasisPoints), s.cfg.TokenDecimals), tier, nil
}

func formatAmount(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}

	coins, err := tlb.FromNano(amount, decimals)
	if err != nil {
		return amount.String()
	}
	return coins.String()
}
