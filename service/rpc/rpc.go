package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/SplitFi/go-barter/env"
	"github.com/SplitFi/go-barter/service/logger"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	defaultRetries     = 3
)

var (
	// MaxNumOfFailingRequests is the number of requests after which the breaker may trip
	MaxNumOfFailingRequests = 10
	// FailingRatio is the failure ratio at which the breaker trips
	FailingRatio = 0.6
)

// ErrRPCUnavailable is returned while the circuit breaker is open
var ErrRPCUnavailable = errors.New("rpc endpoint unavailable")

func init() {
	env.RegisterValidation("RPC_URL", "required")
}

// NewEthClient returns an ethclient.Client connected to RPC_URL
func NewEthClient() *ethclient.Client {
	ctx, cancel := context.WithTimeout(context.Background(), defaultHTTPTimeout)
	defer cancel()

	client, err := ethclient.DialContext(ctx, env.GetString("RPC_URL"))
	if err != nil {
		panic(err)
	}
	return client
}

// ChainID returns the configured chain id, asking the node when CHAIN_ID is unset
func ChainID(ctx context.Context, ethClient *ethclient.Client) (*big.Int, error) {
	if id := env.GetInt64("CHAIN_ID"); id > 0 {
		return big.NewInt(id), nil
	}
	return ethClient.ChainID(ctx)
}

// ReadBackend is the subset of ethclient.Client used on the read path
type ReadBackend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Reader wraps the read path of a node. Reads are safe to repeat, so transient failures are
// retried, and a circuit breaker fails fast while the node is down.
type Reader struct {
	backend ReadBackend
	cb      *gobreaker.CircuitBreaker
}

// NewReader wraps backend with retries and a circuit breaker
func NewReader(backend ReadBackend) *Reader {
	return &Reader{backend: backend, cb: newCircuitBreaker("rpc")}
}

// TransactionReceipt fetches a receipt. ethereum.NotFound is returned unmodified and never retried.
func (r *Reader) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := r.Do(ctx, func(ctx context.Context) error {
		var err error
		receipt, err = r.backend.TransactionReceipt(ctx, txHash)
		return err
	})
	return receipt, err
}

// BlockNumber fetches the height of the chain
func (r *Reader) BlockNumber(ctx context.Context) (uint64, error) {
	var height uint64
	err := r.Do(ctx, func(ctx context.Context) error {
		var err error
		height, err = r.backend.BlockNumber(ctx)
		return err
	})
	return height, err
}

// Do runs a read through the breaker, retrying transient failures with a linear backoff
func (r *Reader) Do(ctx context.Context, read func(context.Context) error) error {
	var lastErr error
	for i := 0; i < defaultRetries; i++ {
		var readErr error
		_, err := r.cb.Execute(func() (interface{}, error) {
			readErr = read(ctx)
			if errors.Is(readErr, ethereum.NotFound) {
				// A missing receipt is an answer, not a node failure
				return nil, nil
			}
			return nil, readErr
		})
		if err == nil {
			return readErr
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %s", ErrRPCUnavailable, err)
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.For(ctx).WithError(err).WithFields(logrus.Fields{"attempt": i + 1}).Warn("rpc read failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 500 * time.Millisecond):
		}
	}
	return lastErr
}

func newCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: name,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return int(counts.Requests) > MaxNumOfFailingRequests && ratio >= FailingRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				logger.For(nil).Warnf("%s seems down, stop allowing requests", name)
			}
			if from == gobreaker.StateOpen && to == gobreaker.StateHalfOpen {
				logger.For(nil).Infof("checking %s status", name)
			}
			if from == gobreaker.StateHalfOpen && to == gobreaker.StateClosed {
				logger.For(nil).Infof("%s seems ok, restart allowing requests", name)
			}
		},
	})
}
