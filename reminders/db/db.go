package db

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")
var ErrAlreadyExists = errors.New("already exists")

// ErrAlreadyFinalized is returned when a conditional update lost to another writer.
var ErrAlreadyFinalized = errors.New("already finalized")

// Condition guards ConditionalUpdate. A record is lapsed once Now is after ExpiresAt.
type Condition struct {
	Status VerificationStatus
	Now    time.Time
	Live   bool
	Lapsed bool
}

func (c Condition) Holds(v *Verification) bool {
	if v.Status != c.Status {
		return false
	}
	if c.Live && v.IsLapsed(c.Now) {
		return false
	}
	if c.Lapsed && !v.IsLapsed(c.Now) {
		return false
	}
	return true
}

type Update struct {
	Status          VerificationStatus
	VerifiedAt      *time.Time
	Score           *float64
	EstimatedReward string
	VerifiedBy      string
	MatchedPostID   string
}

func (u Update) Apply(v *Verification) {
	v.Status = u.Status
	if u.Status != VerificationStatusVerified {
		return
	}
	v.VerifiedAt = u.VerifiedAt
	v.Score = u.Score
	v.EstimatedReward = u.EstimatedReward
	v.VerifiedBy = u.VerifiedBy
	v.MatchedPostID = u.MatchedPostID
}

// Storage is a keyed verification store. ConditionalUpdate must check and write
// as one atomic step, it is the only guard between racing finalizers.
type Storage interface {
	CreateVerification(ctx context.Context, v *Verification) error
	GetVerification(ctx context.Context, id string) (*Verification, error)
	ListPendingByClaimant(ctx context.Context, accountID string) ([]*Verification, error)
	ConditionalUpdate(ctx context.Context, id string, cond Condition, upd Update) (bool, error)
	// EventProcessed reports whether an ingress event id was already reconciled.
	EventProcessed(ctx context.Context, eventID string) (bool, error)
	// MarkEventProcessed records an ingress event id, false means it was seen before.
	MarkEventProcessed(ctx context.Context, eventID string, at time.Time) (bool, error)
	Close()
}
