package chain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Task is a snapshot of a ledger task.
type Task struct {
	ID              uint64
	Creator         common.Address
	CommitAmount    *big.Int
	RewardPool      *big.Int
	Deadline        time.Time
	Resolved        bool
	Description     string
	FarcasterHandle string
}

// SameDisplay compares the fields views render, used to suppress no-op updates.
func (t *Task) SameDisplay(o *Task) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.ID == o.ID &&
		t.Creator == o.Creator &&
		bigEqual(t.CommitAmount, o.CommitAmount) &&
		bigEqual(t.RewardPool, o.RewardPool) &&
		t.Deadline.Equal(o.Deadline) &&
		t.Resolved == o.Resolved &&
		t.Description == o.Description &&
		t.FarcasterHandle == o.FarcasterHandle
}

func bigEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
}
