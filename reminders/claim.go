package reminders

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/remindfi/remind-network/pkg/claims"
	"github.com/remindfi/remind-network/reminders/db"
	"github.com/remindfi/remind-network/reminders/metrics"
)

var ErrNoSigner = errors.New("claim signer is not configured")
var ErrNoLedger = errors.New("ledger is not configured")

type ClaimAuthorization struct {
	VerificationID  string          `json:"verification_id"`
	TaskID          uint64          `json:"task_id"`
	Helper          common.Address  `json:"helper"`
	Score           float64         `json:"score"`
	ScoreBps        uint64          `json:"score_bps"`
	Tier            claims.TierName `json:"tier"`
	TierBps         uint64          `json:"tier_bps"`
	EstimatedReward string          `json:"estimated_reward"`
	Signature       hexutil.Bytes   `json:"signature"`
	Signer          common.Address  `json:"signer"`
}

// AuthorizeClaim signs the claim for a verified record. Signing is pure, so
// repeated calls return the same signature.
func (s *Service) AuthorizeClaim(ctx context.Context, id string) (*ClaimAuthorization, error) {
	if s.signer == nil {
		return nil, ErrNoSigner
	}

	v, err := s.GetVerification(ctx, id)
	if err != nil {
		return nil, err
	}

	switch v.Status {
	case db.VerificationStatusVerified:
	case db.VerificationStatusExpired:
		return nil, ErrExpired
	default:
		return nil, ErrNotVerified
	}
	if v.Score == nil {
		return nil, fmt.Errorf("verified record %s has no score", v.ID)
	}

	bps, err := claims.ScoreBasisPoints(*v.Score)
	if err != nil {
		return nil, fmt.Errorf("failed to convert score: %w", err)
	}

	helper := common.HexToAddress(v.ClaimantAddress)
	sig, err := s.signer.Sign(helper, v.TaskID, bps)
	if err != nil {
		return nil, fmt.Errorf("failed to sign claim: %w", err)
	}

	tier := claims.TierForBps(bps)
	if metrics.Registered {
		metrics.ClaimsAuthorized.WithLabelValues(string(tier.Name)).Inc()
	}

	s.log.Info().Str("id", v.ID).Uint64("task", v.TaskID).Str("helper", helper.Hex()).
		Str("tier", string(tier.Name)).Msg("claim authorized")

	return &ClaimAuthorization{
		VerificationID:  v.ID,
		TaskID:          v.TaskID,
		Helper:          helper,
		Score:           *v.Score,
		ScoreBps:        bps,
		Tier:            tier.Name,
		TierBps:         tier.BasisPoints,
		EstimatedReward: v.EstimatedReward,
		Signature:       sig,
		Signer:          s.signer.Address(),
	}, nil
}

// SubmitClaim authorizes the claim and relays it to the ledger.
func (s *Service) SubmitClaim(ctx context.Context, id string) (*ClaimAuthorization, common.Hash, error) {
	if s.ledger == nil {
		return nil, common.Hash{}, ErrNoLedger
	}

	auth, err := s.AuthorizeClaim(ctx, id)
	if err != nil {
		return nil, common.Hash{}, err
	}

	hash, err := s.ledger.SubmitClaim(ctx, auth.TaskID, auth.ScoreBps, auth.Signature)
	if err != nil {
		return auth, common.Hash{}, fmt.Errorf("failed to submit claim: %w", err)
	}

	s.log.Info().Str("id", id).Str("tx", hash.Hex()).Msg("claim submitted")
	return auth, hash, nil
}

func (s *Service) Reclaim(ctx context.Context, taskID uint64) (common.Hash, error) {
	if taskID == 0 {
		return common.Hash{}, &ValidationError{Field: "task_id", Reason: "must be positive"}
	}
	if s.ledger == nil {
		return common.Hash{}, ErrNoLedger
	}

	hash, err := s.ledger.SubmitReclaim(ctx, taskID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to submit reclaim: %w", err)
	}
	s.log.Info().Uint64("task", taskID).Str("tx", hash.Hex()).Msg("reclaim submitted")
	return hash, nil
}

func (s *Service) Burn(ctx context.Context, taskID uint64) (common.Hash, error) {
	if taskID == 0 {
		return common.Hash{}, &ValidationError{Field: "task_id", Reason: "must be positive"}
	}
	if s.ledger == nil {
		return common.Hash{}, ErrNoLedger
	}

	hash, err := s.ledger.SubmitBurn(ctx, taskID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to submit burn: %w", err)
	}
	s.log.Info().Uint64("task", taskID).Str("tx", hash.Hex()).Msg("burn submitted")
	return hash, nil
}
