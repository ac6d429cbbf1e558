package client

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/remindfi/remind-network/reminders/chain"
)

var ErrNoRelayer = errors.New("relayer key is not configured")

const LedgerABI = `[
  {"type":"function","name":"taskCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"tasks","stateMutability":"view","inputs":[{"name":"taskId","type":"uint256"}],"outputs":[
    {"name":"creator","type":"address"},
    {"name":"commitAmount","type":"uint256"},
    {"name":"rewardPool","type":"uint256"},
    {"name":"deadline","type":"uint256"},
    {"name":"resolved","type":"bool"},
    {"name":"description","type":"string"},
    {"name":"farcasterHandle","type":"string"}
  ]},
  {"type":"function","name":"claimReward","stateMutability":"nonpayable","inputs":[
    {"name":"taskId","type":"uint256"},
    {"name":"score","type":"uint256"},
    {"name":"signature","type":"bytes"}
  ],"outputs":[]},
  {"type":"function","name":"reclaim","stateMutability":"nonpayable","inputs":[{"name":"taskId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"burn","stateMutability":"nonpayable","inputs":[{"name":"taskId","type":"uint256"}],"outputs":[]}
]`

// Ledger reads and writes the reminder contract through a failover Reader.
type Ledger struct {
	reader   *chain.Reader
	contract common.Address
	abi      abi.ABI

	relayer *ecdsa.PrivateKey
	chainID *big.Int
	sendMu  sync.Mutex
}

// NewLedger builds a contract binding, relayer may be nil for read-only usage.
func NewLedger(reader *chain.Reader, contract common.Address, relayer *ecdsa.PrivateKey, chainID *big.Int) (*Ledger, error) {
	parsed, err := abi.JSON(strings.NewReader(LedgerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ledger abi: %w", err)
	}

	return &Ledger{
		reader:   reader,
		contract: contract,
		abi:      parsed,
		relayer:  relayer,
		chainID:  chainID,
	}, nil
}

func (l *Ledger) Contract() common.Address {
	return l.contract
}

func (l *Ledger) TaskCount(ctx context.Context) (uint64, error) {
	data, err := l.abi.Pack("taskCount")
	if err != nil {
		return 0, fmt.Errorf("failed to pack call: %w", err)
	}

	res, err := l.reader.Read(ctx, chain.Call{To: l.contract, Data: data})
	if err != nil {
		return 0, fmt.Errorf("failed to read task count: %w", err)
	}

	out, err := l.abi.Unpack("taskCount", res)
	if err != nil {
		return 0, fmt.Errorf("failed to unpack task count: %w", err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("unexpected task count output length %d", len(out))
	}

	n, ok := out[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("incorrect task count value")
	}
	return n.Uint64(), nil
}

func (l *Ledger) Task(ctx context.Context, id uint64) (*chain.Task, error) {
	call, err := l.taskCall(id)
	if err != nil {
		return nil, err
	}

	res, err := l.reader.Read(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("failed to read task %d: %w", id, err)
	}
	return l.decodeTask(id, res)
}

// Tasks reads tasks in batches, unreadable tasks are nil. It fails only when nothing could be read.
func (l *Ledger) Tasks(ctx context.Context, ids []uint64) ([]*chain.Task, error) {
	calls := make([]chain.Call, len(ids))
	for i, id := range ids {
		call, err := l.taskCall(id)
		if err != nil {
			return nil, err
		}
		calls[i] = call
	}

	raw := l.reader.BatchRead(ctx, calls)

	res := make([]*chain.Task, len(ids))
	got := 0
	for i, data := range raw {
		if data == nil {
			continue
		}

		t, err := l.decodeTask(ids[i], data)
		if err != nil {
			continue
		}
		res[i] = t
		got++
	}

	if got == 0 && len(ids) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read any of %d tasks: %w", len(ids), chain.ErrChainExhausted)
	}
	return res, nil
}

func (l *Ledger) taskCall(id uint64) (chain.Call, error) {
	data, err := l.abi.Pack("tasks", new(big.Int).SetUint64(id))
	if err != nil {
		return chain.Call{}, fmt.Errorf("failed to pack call: %w", err)
	}
	return chain.Call{To: l.contract, Data: data}, nil
}

func (l *Ledger) decodeTask(id uint64, data []byte) (*chain.Task, error) {
	out, err := l.abi.Unpack("tasks", data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack task: %w", err)
	}
	if len(out) != 7 {
		return nil, fmt.Errorf("unexpected task output length %d", len(out))
	}

	creator, ok1 := out[0].(common.Address)
	commit, ok2 := out[1].(*big.Int)
	pool, ok3 := out[2].(*big.Int)
	deadline, ok4 := out[3].(*big.Int)
	resolved, ok5 := out[4].(bool)
	desc, ok6 := out[5].(string)
	handle, ok7 := out[6].(string)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return nil, fmt.Errorf("unexpected task output types")
	}

	return &chain.Task{
		ID:              id,
		Creator:         creator,
		CommitAmount:    commit,
		RewardPool:      pool,
		Deadline:        time.Unix(deadline.Int64(), 0).UTC(),
		Resolved:        resolved,
		Description:     desc,
		FarcasterHandle: strings.TrimPrefix(handle, "@"),
	}, nil
}

func (l *Ledger) SubmitClaim(ctx context.Context, taskID, scoreBps uint64, signature []byte) (common.Hash, error) {
	data, err := l.abi.Pack("claimReward", new(big.Int).SetUint64(taskID), new(big.Int).SetUint64(scoreBps), signature)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack claim: %w", err)
	}
	return l.submit(ctx, "claim", data)
}

func (l *Ledger) SubmitReclaim(ctx context.Context, taskID uint64) (common.Hash, error) {
	data, err := l.abi.Pack("reclaim", new(big.Int).SetUint64(taskID))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack reclaim: %w", err)
	}
	return l.submit(ctx, "reclaim", data)
}

func (l *Ledger) SubmitBurn(ctx context.Context, taskID uint64) (common.Hash, error) {
	data, err := l.abi.Pack("burn", new(big.Int).SetUint64(taskID))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack burn: %w", err)
	}
	return l.submit(ctx, "burn", data)
}

// submit prepares and signs the transaction once, then hands the same signed
// bytes to every send attempt. A resend through another endpoint can only
// land the one transaction, never a second nonce.
func (l *Ledger) submit(ctx context.Context, op string, data []byte) (common.Hash, error) {
	if l.relayer == nil {
		return common.Hash{}, ErrNoRelayer
	}

	// nonce assignment and broadcast must not interleave between submits
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	from := crypto.PubkeyToAddress(l.relayer.PublicKey)
	to := l.contract

	var unsigned *types.LegacyTx
	err := l.reader.Do(ctx, op+"_prepare", func(ctx context.Context, b chain.Backend) error {
		nonce, err := b.PendingNonceAt(ctx, from)
		if err != nil {
			return fmt.Errorf("failed to get nonce: %w", err)
		}

		gasPrice, err := b.SuggestGasPrice(ctx)
		if err != nil {
			return fmt.Errorf("failed to get gas price: %w", err)
		}

		gas, err := b.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
		if err != nil {
			return fmt.Errorf("failed to estimate gas: %w", err)
		}

		unsigned = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gas + gas/5,
			To:       &to,
			Data:     data,
		}
		return nil
	})
	if err != nil {
		return common.Hash{}, err
	}

	tx, err := types.SignTx(types.NewTx(unsigned), types.LatestSignerForChainID(l.chainID), l.relayer)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign tx: %w", err)
	}

	attempted := false
	err = l.reader.Do(ctx, op, func(ctx context.Context, b chain.Backend) error {
		err := b.SendTransaction(ctx, tx)
		if err == nil {
			return nil
		}

		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "already known"):
			// an earlier attempt reached the pool
			return nil
		case strings.Contains(msg, "nonce too low"):
			if attempted {
				// an earlier attempt was already mined
				return nil
			}
			return fmt.Errorf("%w: nonce %d is taken: %w", chain.ErrFatal, tx.Nonce(), err)
		}
		attempted = true
		return fmt.Errorf("failed to send tx %s: %w", tx.Hash().Hex(), err)
	})
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}
