package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	calls atomic.Int32
	call  func(n int32, msg ethereum.CallMsg) ([]byte, error)
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	n := f.calls.Add(1)
	return f.call(n, msg)
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}

func (f *fakeBackend) SendTransaction(context.Context, *types.Transaction) error {
	return nil
}

func newTestReader(cfg Config, backends ...*fakeBackend) (*Reader, *[]time.Duration) {
	var eps []Endpoint
	for i, b := range backends {
		eps = append(eps, Endpoint{Name: fmt.Sprint("ep", i), Backend: b})
	}

	var mx sync.Mutex
	var slept []time.Duration
	r := NewReader(eps, cfg, zerolog.Nop())
	r.sleep = func(ctx context.Context, d time.Duration) error {
		mx.Lock()
		slept = append(slept, d)
		mx.Unlock()
		return ctx.Err()
	}
	return r, &slept
}

func TestReader_FailoverOnTransient(t *testing.T) {
	first := &fakeBackend{call: func(int32, ethereum.CallMsg) ([]byte, error) {
		return nil, rpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}
	}}
	second := &fakeBackend{call: func(int32, ethereum.CallMsg) ([]byte, error) {
		return []byte("ok"), nil
	}}

	r, slept := newTestReader(DefaultConfig(), first, second)

	res, err := r.Read(context.Background(), Call{Data: []byte{1}})
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), res)
	require.EqualValues(t, 1, first.calls.Load())
	require.EqualValues(t, 1, second.calls.Load())
	require.Empty(t, *slept)
}

func TestReader_RetryOtherWithBackoff(t *testing.T) {
	flaky := &fakeBackend{call: func(n int32, _ ethereum.CallMsg) ([]byte, error) {
		if n < 3 {
			return nil, errors.New("unexpected end of JSON input")
		}
		return []byte("ok"), nil
	}}
	unused := &fakeBackend{call: func(int32, ethereum.CallMsg) ([]byte, error) {
		return []byte("other"), nil
	}}

	cfg := DefaultConfig()
	cfg.Backoff = 10 * time.Millisecond
	r, slept := newTestReader(cfg, flaky, unused)

	res, err := r.Read(context.Background(), Call{})
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), res)
	require.EqualValues(t, 3, flaky.calls.Load())
	require.EqualValues(t, 0, unused.calls.Load())
	require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *slept)
}

func TestReader_Exhausted(t *testing.T) {
	cause := errors.New("bad gateway body")
	a := &fakeBackend{call: func(int32, ethereum.CallMsg) ([]byte, error) {
		return nil, fmt.Errorf("quota: %w", ErrTransient)
	}}
	b := &fakeBackend{call: func(int32, ethereum.CallMsg) ([]byte, error) {
		return nil, cause
	}}

	r, _ := newTestReader(DefaultConfig(), a, b)

	_, err := r.Read(context.Background(), Call{})
	require.ErrorIs(t, err, ErrChainExhausted)
	require.ErrorIs(t, err, cause)
	require.EqualValues(t, 1, a.calls.Load())
	require.EqualValues(t, 3, b.calls.Load())
}

type codeError struct {
	code int
	data any
}

func (e codeError) Error() string  { return fmt.Sprintf("rpc error %d", e.code) }
func (e codeError) ErrorCode() int { return e.code }
func (e codeError) ErrorData() any { return e.data }

func TestReader_FatalNotRetried(t *testing.T) {
	for _, cause := range []error{
		errors.New("execution reverted: task closed"),
		codeError{code: 3},
		codeError{code: -32000, data: "0x08c379a0"},
		errors.New("insufficient funds for gas * price + value"),
	} {
		a := &fakeBackend{call: func(int32, ethereum.CallMsg) ([]byte, error) {
			return nil, cause
		}}
		b := &fakeBackend{call: func(int32, ethereum.CallMsg) ([]byte, error) {
			return []byte("ok"), nil
		}}
		r, slept := newTestReader(DefaultConfig(), a, b)

		_, err := r.Read(context.Background(), Call{})
		require.ErrorIs(t, err, ErrFatal, cause.Error())
		require.ErrorIs(t, err, cause)
		require.NotErrorIs(t, err, ErrChainExhausted)
		require.EqualValues(t, 1, a.calls.Load(), cause.Error())
		require.EqualValues(t, 0, b.calls.Load(), cause.Error())
		require.Empty(t, *slept)
	}
}

func TestReader_NoEndpoints(t *testing.T) {
	r := NewReader(nil, DefaultConfig(), zerolog.Nop())
	_, err := r.Read(context.Background(), Call{})
	require.ErrorIs(t, err, ErrNoEndpoints)
}

func TestReader_Cancelled(t *testing.T) {
	b := &fakeBackend{call: func(int32, ethereum.CallMsg) ([]byte, error) {
		return []byte("ok"), nil
	}}
	r, _ := newTestReader(DefaultConfig(), b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Read(ctx, Call{})
	require.ErrorIs(t, err, context.Canceled)
	require.EqualValues(t, 0, b.calls.Load())
}

func TestReader_BatchReadPartial(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	b := &fakeBackend{call: func(_ int32, msg ethereum.CallMsg) ([]byte, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := maxInFlight.Load()
			if cur <= old || maxInFlight.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)

		if msg.Data[0]%4 == 0 {
			return nil, errors.New("execution reverted")
		}
		return []byte{msg.Data[0]}, nil
	}}

	cfg := DefaultConfig()
	cfg.Retries = 1
	r, slept := newTestReader(cfg, b)

	var calls []Call
	for i := 1; i <= 23; i++ {
		calls = append(calls, Call{Data: []byte{byte(i)}})
	}

	res := r.BatchRead(context.Background(), calls)
	require.Len(t, res, 23)
	for i, data := range res {
		n := byte(i + 1)
		if n%4 == 0 {
			require.Nil(t, data, "slot %d", i)
			continue
		}
		require.Equal(t, []byte{n}, data)
	}

	require.LessOrEqual(t, maxInFlight.Load(), int32(5))
	// 3 batches, a pause before the second and the third
	require.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, *slept)
}

func TestIsTransient(t *testing.T) {
	require.True(t, IsTransient(context.DeadlineExceeded))
	require.True(t, IsTransient(errors.New("read tcp: connection reset by peer")))
	require.True(t, IsTransient(errors.New("daily request quota exhausted")))
	require.True(t, IsTransient(rpc.HTTPError{StatusCode: 429}))
	require.False(t, IsTransient(rpc.HTTPError{StatusCode: 400}))
	require.False(t, IsTransient(errors.New("execution reverted")))
	require.False(t, IsTransient(nil))
}

func TestIsFatal(t *testing.T) {
	require.True(t, IsFatal(errors.New("execution reverted")))
	require.True(t, IsFatal(codeError{code: 3}))
	require.True(t, IsFatal(codeError{code: -32000, data: "0x"}))
	require.False(t, IsFatal(codeError{code: -32000}))
	require.False(t, IsFatal(codeError{code: -32005}))
	require.False(t, IsFatal(rpc.HTTPError{StatusCode: 429}))
	require.False(t, IsFatal(context.DeadlineExceeded))
	require.False(t, IsFatal(nil))
}
