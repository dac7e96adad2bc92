// Package approval makes sure the escrow contract may move every asset a proposer offers.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-barter/service/escrow"
	"github.com/SplitFi/go-barter/service/logger"
	"github.com/SplitFi/go-barter/service/metrics"
	"github.com/SplitFi/go-barter/service/persist"
	"github.com/SplitFi/go-barter/service/signer"
)

// Gateway is the part of the escrow gateway the tracker needs
type Gateway interface {
	IsApprovedForAll(ctx context.Context, collection, owner persist.Address) (bool, error)
	SetApprovalForAll(ctx context.Context, s signer.Signer, collection persist.Address) (persist.TxHash, error)
	WaitConfirmed(context.Context, persist.TxHash) (escrow.Receipt, error)
}

// Progress is called after every step of an approval run
type Progress func(message string, index, total int)

// ErrApprovalFailed is returned when one approval of a plan fails. Approvals confirmed before it
// are left in place.
type ErrApprovalFailed struct {
	Contract  persist.Address
	Completed int
	Total     int
	Err       error
}

func (e ErrApprovalFailed) Error() string {
	return fmt.Sprintf("approval of %s failed after %d of %d approvals: %s", e.Contract, e.Completed, e.Total, e.Err)
}

func (e ErrApprovalFailed) Unwrap() error {
	return e.Err
}

// ErrUnsupportedStandard is returned for assets of a standard without operator approval
type ErrUnsupportedStandard struct {
	Contract persist.Address
	Standard persist.TokenStandard
}

func (e ErrUnsupportedStandard) Error() string {
	return fmt.Sprintf("contract %s has unsupported token standard %q", e.Contract, e.Standard)
}

// ErrConfirmationUnknown is returned when an approval was submitted but its confirmation was not
// observed in time. The approval may still land and must not be resubmitted blindly.
type ErrConfirmationUnknown struct {
	Contract persist.Address
	TxHash   persist.TxHash
	Err      error
}

func (e ErrConfirmationUnknown) Error() string {
	return fmt.Sprintf("approval %s of %s not confirmed: %s", e.TxHash, e.Contract, e.Err)
}

func (e ErrConfirmationUnknown) Unwrap() error {
	return e.Err
}

const defaultConfirmationTimeout = 3 * time.Minute

// Tracker checks and drives collection level operator approvals
type Tracker struct {
	gateway             Gateway
	queue               *signer.Queue
	metrics             *metrics.Metrics
	confirmationTimeout time.Duration
}

// NewTracker returns a tracker submitting through queue. Each approval is waited on for at most
// confirmationTimeout.
func NewTracker(gateway Gateway, queue *signer.Queue, m *metrics.Metrics, confirmationTimeout time.Duration) *Tracker {
	if queue == nil {
		queue = signer.NewQueue(nil, 0)
	}
	if confirmationTimeout <= 0 {
		confirmationTimeout = defaultConfirmationTimeout
	}
	return &Tracker{gateway: gateway, queue: queue, metrics: m, confirmationTimeout: confirmationTimeout}
}

// CheckApproval reports whether the escrow contract is an approved operator of owner's tokens
// in contract. ERC-721 and ERC-1155 share the same approval flag.
func (t *Tracker) CheckApproval(ctx context.Context, contract, owner persist.Address, standard persist.TokenStandard) (bool, error) {
	switch standard {
	case persist.TokenStandardERC721, persist.TokenStandardERC1155, "":
	default:
		return false, ErrUnsupportedStandard{Contract: contract, Standard: standard}
	}
	return t.gateway.IsApprovedForAll(ctx, contract, owner)
}

// PlanApprovals returns the contracts that still need an approval, in the order they first
// appear in assets. Vaulted assets are skipped.
func (t *Tracker) PlanApprovals(ctx context.Context, assets []persist.TradeAsset, owner persist.Address) ([]persist.Address, error) {
	seen := make(map[persist.Address]bool)
	plan := make([]persist.Address, 0, len(assets))

	for _, asset := range assets {
		if asset.Vaulted {
			continue
		}
		contract := persist.NewAddress(asset.Contract.String())
		if seen[contract] {
			continue
		}
		seen[contract] = true

		approved, err := t.CheckApproval(ctx, contract, owner, asset.Standard)
		if err != nil {
			return nil, err
		}
		if !approved {
			plan = append(plan, contract)
		}
	}

	return plan, nil
}

// ApproveNext submits one approval and returns its hash. The caller must wait for confirmation
// before submitting the next one.
func (t *Tracker) ApproveNext(ctx context.Context, contract persist.Address, s signer.Signer) (persist.TxHash, error) {
	return t.gateway.SetApprovalForAll(ctx, s, contract)
}

// Run plans and executes every approval the signer needs for assets, one confirmed
// transaction at a time. It returns the contracts it approved.
func (t *Tracker) Run(ctx context.Context, s signer.Signer, assets []persist.TradeAsset, progress Progress) ([]persist.Address, error) {
	if progress == nil {
		progress = func(string, int, int) {}
	}

	plan, err := t.PlanApprovals(ctx, assets, s.Address())
	if err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		return nil, nil
	}

	approved := make([]persist.Address, 0, len(plan))
	err = t.queue.Do(ctx, s.Address(), func(ctx context.Context) error {
		for i, contract := range plan {
			if err := t.approveAndWait(ctx, contract, s); err != nil {
				if t.metrics != nil {
					t.metrics.ApprovalFailures.Inc()
				}
				return ErrApprovalFailed{Contract: contract, Completed: i, Total: len(plan), Err: err}
			}
			if t.metrics != nil {
				t.metrics.ApprovalsSubmitted.Inc()
			}
			approved = append(approved, contract)
			progress(fmt.Sprintf("Approved collection %s", contract), i+1, len(plan))
		}
		return nil
	})
	return approved, err
}

func (t *Tracker) approveAndWait(ctx context.Context, contract persist.Address, s signer.Signer) error {
	hash, err := t.ApproveNext(ctx, contract, s)
	if err != nil {
		return err
	}

	logger.For(ctx).WithFields(logrus.Fields{
		"contract": contract,
		"owner":    s.Address(),
		"txHash":   hash,
	}).Info("waiting for approval confirmation")

	wctx, cancel := context.WithTimeout(ctx, t.confirmationTimeout)
	defer cancel()
	_, err = t.gateway.WaitConfirmed(wctx, hash)
	if err != nil && !errors.As(err, &escrow.ErrReverted{}) {
		return ErrConfirmationUnknown{Contract: contract, TxHash: hash, Err: err}
	}
	return err
}
