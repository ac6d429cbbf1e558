package claims

import (
	"fmt"
	"math"
	"math/big"
)

type TierName string

const (
	TierHigh   TierName = "HIGH"
	TierMedium TierName = "MEDIUM"
	TierLow    TierName = "LOW"
)

const (
	HighTierMinBps   = 9000
	MediumTierMinBps = 5000

	HighTierBasisPoints   = 1000
	MediumTierBasisPoints = 600
	// LowTierBasisPoints is 2% of the pool.
	LowTierBasisPoints = 200

	BasisPointsDenominator = 10000
)

// bpsEpsilon absorbs float representation error, 0.29*10000 is 2899.9999999999995.
const bpsEpsilon = 1e-9

type Tier struct {
	Name        TierName
	BasisPoints uint64
}

// TierForBps maps a score in basis points to its reward bracket. The contract
// sees the same integer, so on-chain and off-chain tiers cannot disagree.
func TierForBps(scoreBps uint64) Tier {
	switch {
	case scoreBps >= HighTierMinBps:
		return Tier{Name: TierHigh, BasisPoints: HighTierBasisPoints}
	case scoreBps >= MediumTierMinBps:
		return Tier{Name: TierMedium, BasisPoints: MediumTierBasisPoints}
	default:
		return Tier{Name: TierLow, BasisPoints: LowTierBasisPoints}
	}
}

// TierFor maps a normalized score, out of range values are clamped.
func TierFor(score float64) Tier {
	bps, err := ScoreBasisPoints(score)
	if err != nil {
		if score > 1 {
			bps = BasisPointsDenominator
		} else {
			bps = 0
		}
	}
	return TierForBps(bps)
}

// RewardAmount returns floor(pool * bps / 10000), pool is in the smallest token unit.
func RewardAmount(pool *big.Int, bps uint64) *big.Int {
	if pool == nil || pool.Sign() <= 0 {
		return big.NewInt(0)
	}
	res := new(big.Int).Mul(pool, new(big.Int).SetUint64(bps))
	return res.Quo(res, big.NewInt(BasisPointsDenominator))
}

// ScoreBasisPoints truncates a score in [0,1] to the 0..10000 integer the contract verifies,
// 0.89996 becomes 8999 and never rounds up into the next tier.
func ScoreBasisPoints(score float64) (uint64, error) {
	if math.IsNaN(score) || score < 0 || score > 1 {
		return 0, fmt.Errorf("%w: score %v is out of [0,1]", ErrInvalidInput, score)
	}
	bps := uint64(math.Floor(score*BasisPointsDenominator + bpsEpsilon))
	if bps > BasisPointsDenominator {
		bps = BasisPointsDenominator
	}
	return bps, nil
}
