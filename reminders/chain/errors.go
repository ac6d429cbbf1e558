package chain

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/rpc"
)

var ErrNoEndpoints = errors.New("no chain endpoints configured")

// ErrChainExhausted is returned when every endpoint failed, the last cause is wrapped too.
var ErrChainExhausted = errors.New("all chain endpoints failed")

// ErrTransient marks capacity problems of a single endpoint: quota, rate limit, reset, timeout.
var ErrTransient = errors.New("transient chain error")

// ErrFatal marks a request the chain itself rejected. Every endpoint would
// answer the same, so it is returned at once without retry or failover.
var ErrFatal = errors.New("request rejected by chain")

var fatalMarkers = []string{
	"execution reverted",
	"revert",
	"insufficient funds",
	"intrinsic gas too low",
	"invalid opcode",
	"invalid sender",
}

var transientMarkers = []string{
	"rate limit",
	"ratelimit",
	"too many requests",
	"quota",
	"capacity exceeded",
	"limit exceeded",
	"connection reset",
	"timeout",
	"timed out",
}

// IsFatal reports whether err is a deterministic rejection: a revert, an
// invalid request or an unfundable transaction.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFatal) {
		return true
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case 3, -32602:
			return true
		}
	}

	// -32000 with revert data attached
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range fatalMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err means the endpoint is saturated and
// the next one should be tried without backing off.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case 429, 503:
			return true
		}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case -32005, -32090:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
