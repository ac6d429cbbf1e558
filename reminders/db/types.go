package db

import (
	"time"
)

type VerificationStatus string

const (
	VerificationStatusPending  VerificationStatus = "pending"
	VerificationStatusVerified VerificationStatus = "verified"
	VerificationStatusExpired  VerificationStatus = "expired"
)

func (s VerificationStatus) Terminal() bool {
	return s == VerificationStatusVerified || s == VerificationStatusExpired
}

const (
	VerifiedByPush = "push"
	VerifiedByPoll = "poll"
)

type Verification struct {
	ID                string             `json:"id"`
	TaskID            uint64             `json:"task_id"`
	ClaimantAccountID string             `json:"claimant_account_id"`
	ClaimantAddress   string             `json:"claimant_address"`
	TargetHandle      string             `json:"target_handle"`
	Status            VerificationStatus `json:"status"`
	CreatedAt         time.Time          `json:"created_at"`
	ExpiresAt         time.Time          `json:"expires_at"`

	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	Score           *float64   `json:"score,omitempty"`
	EstimatedReward string     `json:"estimated_reward,omitempty"`
	VerifiedBy      string     `json:"verified_by,omitempty"`
	MatchedPostID   string     `json:"matched_post_id,omitempty"`
}

func (v *Verification) IsLapsed(now time.Time) bool {
	return now.After(v.ExpiresAt)
}
