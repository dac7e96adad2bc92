package trade

import (
	"context"
	"errors"
	"fmt"

	"github.com/SplitFi/go-barter/service/persist"
)

// ErrRejected is a non-retryable refusal: wrong caller, wrong state, insufficient funds or
// approval, or invalid input. Err carries the underlying node or store error when there is one.
type ErrRejected struct {
	Reason string
	Err    error
}

func (e ErrRejected) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Reason, e.Err)
	}
	return e.Reason
}

func (e ErrRejected) Unwrap() error {
	return e.Err
}

// ErrNotActive is returned when a transition is attempted on a chain trade that already settled
type ErrNotActive struct {
	ChainTradeID persist.ChainTradeID
	State        persist.ChainTradeState
}

func (e ErrNotActive) Error() string {
	return fmt.Sprintf("chain trade %d is no longer active: %s", e.ChainTradeID, e.State)
}

// ErrAmbiguousOutcome is returned when a submitted transaction could not be confirmed and the
// chain does not yet show its effect. The transaction must not be resubmitted; read the trade
// again later.
type ErrAmbiguousOutcome struct {
	TradeID      persist.DBID
	ChainTradeID *persist.ChainTradeID
	TxHash       persist.TxHash
	Err          error
}

func (e ErrAmbiguousOutcome) Error() string {
	return fmt.Sprintf("outcome of transaction %q for trade %s unknown: %s", e.TxHash, e.TradeID, e.Err)
}

func (e ErrAmbiguousOutcome) Unwrap() error {
	return e.Err
}

// ErrInconsistent is returned when the chain settled a transition but the record could not be
// updated to match. Reconciliation repairs it.
type ErrInconsistent struct {
	TradeID      persist.DBID
	ChainTradeID *persist.ChainTradeID
	TxHash       persist.TxHash
	Err          error
}

func (e ErrInconsistent) Error() string {
	if e.TxHash == "" {
		return fmt.Sprintf("trade %s settled on chain but record update failed: %s", e.TradeID, e.Err)
	}
	return fmt.Sprintf("trade %s settled on chain by %s but record update failed: %s", e.TradeID, e.TxHash, e.Err)
}

func (e ErrInconsistent) Unwrap() error {
	return e.Err
}

// ErrUnverified is returned when a record was loaded but its chain state could not be read
type ErrUnverified struct {
	TradeID persist.DBID
	Err     error
}

func (e ErrUnverified) Error() string {
	return fmt.Sprintf("could not verify trade %s against chain: %s", e.TradeID, e.Err)
}

func (e ErrUnverified) Unwrap() error {
	return e.Err
}

// ErrNoTradeInTransaction is returned when a receipt holds no TradeCreated event from the escrow
type ErrNoTradeInTransaction struct {
	TxHash persist.TxHash
}

func (e ErrNoTradeInTransaction) Error() string {
	return fmt.Sprintf("transaction %s did not create a trade", e.TxHash)
}

// ItemError is the failure of one trade within a batch
type ItemError struct {
	TradeID      persist.DBID          `json:"trade_id"`
	ChainTradeID *persist.ChainTradeID `json:"chain_trade_id,omitempty"`
	Err          error                 `json:"-"`
	Message      string                `json:"message"`
}

func newItemError(rec persist.TradeRecord, err error) ItemError {
	return ItemError{TradeID: rec.ID, ChainTradeID: rec.ChainTradeID, Err: err, Message: err.Error()}
}

func (e ItemError) Error() string {
	return fmt.Sprintf("trade %s: %s", e.TradeID, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// BatchResult collects the outcome of a bulk operation
type BatchResult struct {
	Succeeded []persist.DBID `json:"succeeded"`
	Failed    []ItemError    `json:"failed"`
}

// Err returns a BatchError if any item failed
func (b BatchResult) Err() error {
	if len(b.Failed) == 0 {
		return nil
	}
	return BatchError{Succeeded: len(b.Succeeded), Failed: len(b.Failed), Items: b.Failed}
}

// BatchError reports a partially failed batch
type BatchError struct {
	Succeeded int
	Failed    int
	Items     []ItemError
}

func (e BatchError) Error() string {
	return fmt.Sprintf("batch partially failed: %d succeeded, %d failed", e.Succeeded, e.Failed)
}

// UserMessage renders err for an end user without leaking low level faults
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var rejected ErrRejected
	var batch BatchError
	var notFound persist.ErrTradeNotFound
	var notFoundByChain persist.ErrTradeNotFoundByChainID
	var ambiguous ErrAmbiguousOutcome
	var inconsistent ErrInconsistent
	var unverified ErrUnverified

	switch {
	case errors.As(err, &batch):
		return fmt.Sprintf("Part of the batch failed: %d succeeded, %d failed.", batch.Succeeded, batch.Failed)
	case errors.As(err, &rejected):
		return fmt.Sprintf("Your transaction was rejected: %s", rejected.Error())
	case errors.As(err, &notFound), errors.As(err, &notFoundByChain):
		return "This trade could not be found."
	case errors.As(err, &ambiguous), errors.As(err, &inconsistent), errors.As(err, &unverified):
		return "This trade's status could not be verified. Please retry."
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "This trade's status could not be verified. Please retry."
	default:
		return "Something went wrong. Please retry."
	}
}

func rejectf(format string, args ...interface{}) ErrRejected {
	return ErrRejected{Reason: fmt.Sprintf(format, args...)}
}
