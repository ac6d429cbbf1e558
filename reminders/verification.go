package reminders

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/remindfi/remind-network/reminders/db"
	"github.com/remindfi/remind-network/reminders/metrics"
	"github.com/remindfi/remind-network/reminders/oracle"
)

var addressRegexp = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

type CreateRequest struct {
	TaskID            uint64
	ClaimantAccountID string
	ClaimantAddress   string
	TargetHandle      string
	// TTL overrides the service default when positive.
	TTL time.Duration
}

// PostEvent is a post delivered by the social graph push feed.
type PostEvent struct {
	ID   string
	Post oracle.Post
}

type evidence struct {
	score  float64
	reward string
	source string
	postID string
}

func (r CreateRequest) validate() error {
	if r.TaskID == 0 {
		return &ValidationError{Field: "task_id", Reason: "must be positive"}
	}
	if strings.TrimSpace(r.ClaimantAccountID) == "" {
		return &ValidationError{Field: "claimant_account_id", Reason: "is empty"}
	}
	if fid, err := strconv.ParseUint(strings.TrimSpace(r.ClaimantAccountID), 10, 64); err != nil || fid == 0 {
		return &ValidationError{Field: "claimant_account_id", Reason: "is not a numeric account id"}
	}
	if strings.TrimSpace(r.ClaimantAddress) == "" {
		return &ValidationError{Field: "claimant_address", Reason: "is empty"}
	}
	if !addressRegexp.MatchString(strings.TrimSpace(r.ClaimantAddress)) {
		return &ValidationError{Field: "claimant_address", Reason: "is not a hex address"}
	}
	if strings.TrimPrefix(strings.TrimSpace(r.TargetHandle), "@") == "" {
		return &ValidationError{Field: "target_handle", Reason: "is empty"}
	}
	if r.TTL < 0 {
		return &ValidationError{Field: "ttl", Reason: "is negative"}
	}
	return nil
}

func (s *Service) CreateVerification(ctx context.Context, req CreateRequest) (*db.Verification, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = s.cfg.TTL
	}

	now := s.now()
	v := &db.Verification{
		ID:                uuid.NewString(),
		TaskID:            req.TaskID,
		ClaimantAccountID: strings.TrimSpace(req.ClaimantAccountID),
		ClaimantAddress:   strings.ToLower(strings.TrimSpace(req.ClaimantAddress)),
		TargetHandle:      strings.ToLower(strings.TrimPrefix(strings.TrimSpace(req.TargetHandle), "@")),
		Status:            db.VerificationStatusPending,
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
	}

	if err := s.db.CreateVerification(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to create verification: %w", err)
	}

	if metrics.Registered {
		metrics.VerificationsCreated.Inc()
	}

	s.log.Info().Str("id", v.ID).Uint64("task", v.TaskID).
		Str("claimant", v.ClaimantAccountID).Str("target", v.TargetHandle).
		Time("expires_at", v.ExpiresAt).Msg("verification created")

	return v, nil
}

// GetVerification reads a record, flipping it to expired first if it lapsed while pending.
func (s *Service) GetVerification(ctx context.Context, id string) (*db.Verification, error) {
	v, err := s.db.GetVerification(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}

	now := s.now()
	if v.Status != db.VerificationStatusPending || !v.IsLapsed(now) {
		return v, nil
	}

	if _, err = s.expire(ctx, id, now, "read"); err != nil {
		return nil, err
	}

	if v, err = s.db.GetVerification(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}
	return v, nil
}

// Finalize moves a live pending record to verified. Losing to another writer
// or finding the record lapsed is reported as false without an error.
func (s *Service) Finalize(ctx context.Context, id string, score float64, reward string) (bool, error) {
	return s.finalize(ctx, id, evidence{score: score, reward: reward})
}

func (s *Service) finalize(ctx context.Context, id string, ev evidence) (bool, error) {
	now := s.now()
	score := ev.score

	ok, err := s.db.ConditionalUpdate(ctx, id, db.Condition{
		Status: db.VerificationStatusPending,
		Now:    now,
		Live:   true,
	}, db.Update{
		Status:          db.VerificationStatusVerified,
		VerifiedAt:      &now,
		Score:           &score,
		EstimatedReward: ev.reward,
		VerifiedBy:      ev.source,
		MatchedPostID:   ev.postID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to finalize verification: %w", err)
	}

	source := ev.source
	if source == "" {
		source = "direct"
	}

	if ok {
		s.finalizeOutcome(source, "won")
		if metrics.Registered {
			metrics.VerificationsResolved.WithLabelValues(string(db.VerificationStatusVerified), source).Inc()
		}
		s.log.Info().Str("id", id).Str("by", source).Float64("score", score).
			Str("reward", ev.reward).Str("post", ev.postID).Msg("verification finalized")
		return true, nil
	}

	expired, err := s.expire(ctx, id, now, source)
	if err != nil {
		return false, err
	}
	if expired {
		s.finalizeOutcome(source, "expired")
	} else {
		s.finalizeOutcome(source, "lost")
		s.log.Debug().Str("id", id).Str("by", source).Msg("verification already finalized")
	}
	return false, nil
}

// expire flips a lapsed pending record to expired, reporting whether this call did it.
func (s *Service) expire(ctx context.Context, id string, now time.Time, source string) (bool, error) {
	ok, err := s.db.ConditionalUpdate(ctx, id, db.Condition{
		Status: db.VerificationStatusPending,
		Now:    now,
		Lapsed: true,
	}, db.Update{Status: db.VerificationStatusExpired})
	if err != nil {
		return false, fmt.Errorf("failed to expire verification: %w", err)
	}

	if ok {
		if metrics.Registered {
			metrics.VerificationsResolved.WithLabelValues(string(db.VerificationStatusExpired), source).Inc()
		}
		s.log.Info().Str("id", id).Msg("verification expired")
	}
	return ok, nil
}

func (s *Service) finalizeOutcome(source, outcome string) {
	if metrics.Registered {
		metrics.FinalizeAttempts.WithLabelValues(source, outcome).Inc()
	}
}

// CheckVerification polls the claimant's recent posts and finalizes on the first match.
// Terminal records are returned as is.
func (s *Service) CheckVerification(ctx context.Context, id string) (*db.Verification, error) {
	v, err := s.GetVerification(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Status.Terminal() {
		return v, nil
	}

	posts, err := s.oracle.RecentPosts(ctx, v.ClaimantAccountID, RecentPostsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent posts: %w", err)
	}

	now := s.now()
	for _, p := range posts {
		if !s.matcher.Matches(p, v, now) {
			continue
		}

		if _, err = s.verify(ctx, v, p, db.VerifiedByPoll); err != nil {
			return nil, err
		}
		break
	}

	if v, err = s.db.GetVerification(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}
	return v, nil
}

// HandlePostEvent reconciles a pushed post against the author's pending verifications.
// The feed is never asked to redeliver. An event is recorded as processed only
// once every matching record was reconciled, so a redelivery after a failure is
// retried and the poll path covers the rest. Returns how many verifications this
// event finalized.
func (s *Service) HandlePostEvent(ctx context.Context, ev PostEvent) int {
	log := s.log.With().Str("event", ev.ID).Str("author", ev.Post.AuthorID).Logger()

	if ev.ID == "" || ev.Post.AuthorID == "" {
		webhookOutcome("ignored")
		log.Debug().Msg("event without id or author ignored")
		return 0
	}

	seen, err := s.db.EventProcessed(ctx, ev.ID)
	if err != nil {
		webhookOutcome("error")
		log.Error().Err(err).Msg("failed to check event")
		return 0
	}
	if seen {
		webhookOutcome("duplicate")
		log.Debug().Msg("duplicate event")
		return 0
	}

	list, err := s.db.ListPendingByClaimant(ctx, ev.Post.AuthorID)
	if err != nil {
		webhookOutcome("error")
		log.Error().Err(err).Msg("failed to list pending verifications")
		return 0
	}

	now := s.now()
	finalized, failed := 0, 0
	for _, v := range list {
		if v.IsLapsed(now) {
			if _, err = s.expire(ctx, v.ID, now, db.VerifiedByPush); err != nil {
				failed++
				log.Error().Err(err).Str("id", v.ID).Msg("failed to expire verification")
			}
			continue
		}

		if !s.matcher.Matches(ev.Post, v, now) {
			continue
		}

		ok, err := s.verify(ctx, v, ev.Post, db.VerifiedByPush)
		if err != nil {
			failed++
			log.Error().Err(err).Str("id", v.ID).Msg("failed to verify from event, left for polling")
			continue
		}
		if ok {
			finalized++
		}
	}

	if failed > 0 {
		webhookOutcome("error")
		return finalized
	}

	if _, err = s.db.MarkEventProcessed(ctx, ev.ID, s.now()); err != nil {
		log.Warn().Err(err).Msg("failed to mark event processed")
	}

	if finalized > 0 {
		webhookOutcome("matched")
	} else {
		webhookOutcome("unmatched")
	}
	return finalized
}

func (s *Service) verify(ctx context.Context, v *db.Verification, post oracle.Post, source string) (bool, error) {
	score, err := s.oracle.ReputationScore(ctx, v.ClaimantAccountID)
	if err != nil {
		if !errors.Is(err, oracle.ErrNotFound) {
			return false, fmt.Errorf("failed to get reputation score: %w", err)
		}
		score = oracle.DefaultScore
	}

	reward, _, err := s.estimateReward(ctx, v.TaskID, score)
	if err != nil {
		return false, err
	}

	return s.finalize(ctx, v.ID, evidence{
		score:  score,
		reward: reward,
		source: source,
		postID: post.ID,
	})
}

func webhookOutcome(outcome string) {
	if metrics.Registered {
		metrics.WebhookEvents.WithLabelValues(outcome).Inc()
	}
}
