package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/remindfi/remind-network/reminders/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Backend is the subset of an RPC endpoint used for ledger reads and writes, *ethclient.Client implements it.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

type Endpoint struct {
	Name    string
	Backend Backend
}

type Call struct {
	To   common.Address
	Data []byte
}

// Key identifies a call for caching.
func (c Call) Key() string {
	return c.To.Hex() + ":" + hex.EncodeToString(c.Data)
}

type Config struct {
	// Retries is the number of attempts per endpoint.
	Retries        int
	Backoff        time.Duration
	AttemptTimeout time.Duration
	BatchSize      int
	Parallel       int
	BatchDelay     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Retries:        3,
		Backoff:        200 * time.Millisecond,
		AttemptTimeout: 10 * time.Second,
		BatchSize:      10,
		Parallel:       5,
		BatchDelay:     100 * time.Millisecond,
	}
}

// Reader talks to an ordered list of endpoints, retrying and failing over between them.
type Reader struct {
	endpoints []Endpoint
	cfg       Config
	log       zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewReader(endpoints []Endpoint, cfg Config, logger zerolog.Logger) *Reader {
	def := DefaultConfig()
	if cfg.Retries <= 0 {
		cfg.Retries = def.Retries
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = def.Parallel
	}

	return &Reader{
		endpoints: endpoints,
		cfg:       cfg,
		log:       logger.With().Str("source", "chain-reader").Logger(),
		sleep:     sleepCtx,
	}
}

// Dial connects to every url, order defines priority.
func Dial(ctx context.Context, urls []string, cfg Config, logger zerolog.Logger) (*Reader, error) {
	var eps []Endpoint
	for i, u := range urls {
		cl, err := ethclient.DialContext(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("failed to dial endpoint %d: %w", i, err)
		}
		eps = append(eps, Endpoint{Name: fmt.Sprintf("rpc-%d", i), Backend: cl})
	}
	return NewReader(eps, cfg, logger), nil
}

// Do runs f against endpoints in priority order until it succeeds.
// Fatal errors are returned at once. Transient errors move to the next endpoint
// at once, other errors are retried with backoff first.
func (r *Reader) Do(ctx context.Context, op string, f func(ctx context.Context, b Backend) error) error {
	if len(r.endpoints) == 0 {
		return ErrNoEndpoints
	}

	var last error
	for _, ep := range r.endpoints {
	attempts:
		for attempt := 0; attempt < r.cfg.Retries; attempt++ {
			if err := ctx.Err(); err != nil {
				return err
			}

			err := r.attempt(ctx, ep, f)
			if err == nil {
				observe(ep.Name, op, "ok")
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			last = err

			if IsFatal(err) {
				observe(ep.Name, op, "fatal")
				return fmt.Errorf("%w: %s: %w", ErrFatal, op, err)
			}
			if IsTransient(err) {
				observe(ep.Name, op, "transient")
				r.log.Debug().Err(err).Str("endpoint", ep.Name).Str("op", op).Msg("endpoint saturated, switching")
				break attempts
			}
			observe(ep.Name, op, "error")

			if attempt+1 < r.cfg.Retries {
				wait := r.cfg.Backoff << attempt
				r.log.Debug().Err(err).Str("endpoint", ep.Name).Str("op", op).Dur("wait", wait).Msg("call failed, will retry")
				if err = r.sleep(ctx, wait); err != nil {
					return err
				}
			}
		}

		if metrics.Registered {
			metrics.ChainFailovers.WithLabelValues(ep.Name, op).Inc()
		}
	}

	return fmt.Errorf("%w: %s: %w", ErrChainExhausted, op, last)
}

func (r *Reader) attempt(ctx context.Context, ep Endpoint, f func(ctx context.Context, b Backend) error) error {
	if r.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		defer cancel()
	}
	return f(ctx, ep.Backend)
}

func (r *Reader) Read(ctx context.Context, call Call) ([]byte, error) {
	var res []byte
	err := r.Do(ctx, "call", func(ctx context.Context, b Backend) error {
		to := call.To
		data, err := b.CallContract(ctx, ethereum.CallMsg{To: &to, Data: call.Data}, nil)
		if err != nil {
			return err
		}
		res = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// BatchRead executes calls in fixed size batches with bounded parallelism and a pause between batches.
// Failed calls leave a nil slot, the rest of the batch is unaffected.
func (r *Reader) BatchRead(ctx context.Context, calls []Call) [][]byte {
	res := make([][]byte, len(calls))

	for start := 0; start < len(calls); start += r.cfg.BatchSize {
		if start > 0 && r.cfg.BatchDelay > 0 {
			if err := r.sleep(ctx, r.cfg.BatchDelay); err != nil {
				break
			}
		}

		end := start + r.cfg.BatchSize
		if end > len(calls) {
			end = len(calls)
		}

		var g errgroup.Group
		g.SetLimit(r.cfg.Parallel)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				data, err := r.Read(ctx, calls[i])
				if err != nil {
					r.log.Warn().Err(err).Int("index", i).Msg("batch call failed")
					return nil
				}
				res[i] = data
				return nil
			})
		}
		_ = g.Wait()
	}

	return res
}

func observe(endpoint, op, result string) {
	if metrics.Registered {
		metrics.ChainRequests.WithLabelValues(endpoint, op, result).Inc()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
