// Package trade drives trades through their lifecycle and keeps the trade record consistent
// with the escrow contract.
package trade

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-barter/service/approval"
	"github.com/SplitFi/go-barter/service/escrow"
	"github.com/SplitFi/go-barter/service/logger"
	"github.com/SplitFi/go-barter/service/metrics"
	"github.com/SplitFi/go-barter/service/persist"
	sentryutil "github.com/SplitFi/go-barter/service/sentry"
	"github.com/SplitFi/go-barter/service/signer"
)

const (
	defaultConfirmationTimeout = 3 * time.Minute
	defaultMaxDuration         = 30 * 24 * time.Hour
)

// AdminChecker reports whether an address may perform administrative overrides
type AdminChecker interface {
	IsAdmin(context.Context, persist.Address) (bool, error)
}

// Config tunes the coordinator
type Config struct {
	ConfirmationTimeout time.Duration
	MaxDuration         time.Duration
	Now                 func() time.Time
}

// Coordinator owns the trade state machine
type Coordinator struct {
	repo      persist.TradeRepository
	gateway   escrow.Gateway
	approvals *approval.Tracker
	queue     *signer.Queue
	admins    AdminChecker
	metrics   *metrics.Metrics
	cfg       Config
}

// NewCoordinator returns a coordinator. A nil queue serializes writes within this process only.
func NewCoordinator(repo persist.TradeRepository, gateway escrow.Gateway, approvals *approval.Tracker, queue *signer.Queue, admins AdminChecker, m *metrics.Metrics, cfg Config) *Coordinator {
	if queue == nil {
		queue = signer.NewQueue(nil, 0)
	}
	if m == nil {
		m = metrics.NewMetrics("", prometheus.NewRegistry())
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = defaultConfirmationTimeout
	}
	if approvals == nil {
		approvals = approval.NewTracker(gateway, queue, m, cfg.ConfirmationTimeout)
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = defaultMaxDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		repo:      repo,
		gateway:   gateway,
		approvals: approvals,
		queue:     queue,
		admins:    admins,
		metrics:   m,
		cfg:       cfg,
	}
}

// ProposeInput describes a new trade
type ProposeInput struct {
	Counterparty    persist.Address      `json:"counterparty" binding:"required,eth_addr"`
	OfferedAssets   []persist.TradeAsset `json:"offered_assets"`
	RequestedAssets []persist.TradeAsset `json:"requested_assets"`
	OfferedValue    *big.Int             `json:"offered_value"`
	RequestedValue  *big.Int             `json:"requested_value"`
	Message         *string              `json:"message"`
	ExpiresAt       time.Time            `json:"expires_at" binding:"required"`
}

func (c *Coordinator) validateProposal(proposer persist.Address, in ProposeInput) error {
	if !in.Counterparty.IsValid() {
		return rejectf("invalid counterparty address %q", in.Counterparty)
	}
	if proposer.Equal(in.Counterparty) {
		return rejectf("cannot propose a trade to yourself")
	}
	if persist.IsZero(in.RequestedValue) && len(in.RequestedAssets) == 0 {
		return rejectf("a trade must request something")
	}
	if in.OfferedValue != nil && in.OfferedValue.Sign() < 0 || in.RequestedValue != nil && in.RequestedValue.Sign() < 0 {
		return rejectf("values cannot be negative")
	}
	for _, side := range [][]persist.TradeAsset{in.OfferedAssets, in.RequestedAssets} {
		for _, asset := range side {
			if !asset.Contract.IsValid() {
				return rejectf("invalid asset contract %q", asset.Contract)
			}
			if _, ok := new(big.Int).SetString(asset.TokenID, 10); !ok {
				return rejectf("invalid token id %q", asset.TokenID)
			}
		}
	}
	if in.Message != nil && len([]rune(*in.Message)) > persist.MaxTradeMessageLength {
		return rejectf("message is longer than %d characters", persist.MaxTradeMessageLength)
	}
	now := c.cfg.Now()
	if !in.ExpiresAt.After(now) {
		return rejectf("expiry must be in the future")
	}
	if in.ExpiresAt.Sub(now) > c.cfg.MaxDuration {
		return rejectf("expiry must be within %s", c.cfg.MaxDuration)
	}
	return nil
}

// Propose approves the offered collections, escrows the trade and writes its record. No record
// is written unless the escrow creation confirmed.
func (c *Coordinator) Propose(ctx context.Context, s signer.Signer, in ProposeInput, progress approval.Progress) (persist.TradeRecord, error) {
	proposer := s.Address()
	if err := c.validateProposal(proposer, in); err != nil {
		c.metrics.Proposals.WithLabelValues("chain", "rejected").Inc()
		return persist.TradeRecord{}, err
	}

	if _, err := c.approvals.Run(ctx, s, in.OfferedAssets, progress); err != nil {
		err = classifyApprovalError("", err)
		c.metrics.Proposals.WithLabelValues("chain", outcomeOf(err)).Inc()
		return persist.TradeRecord{}, err
	}

	fee, err := c.gateway.ProtocolFee(ctx)
	if err != nil {
		return persist.TradeRecord{}, err
	}

	var hash persist.TxHash
	var receipt escrow.Receipt
	err = c.queue.Do(ctx, proposer, func(ctx context.Context) error {
		var err error
		hash, err = c.gateway.CreateTrade(ctx, s, escrow.CreateTradeParams{
			Counterparty:   in.Counterparty,
			Offered:        in.OfferedAssets,
			Requested:      in.RequestedAssets,
			OfferedValue:   orZero(in.OfferedValue),
			RequestedValue: orZero(in.RequestedValue),
			ExpiresAt:      in.ExpiresAt,
			Fee:            fee,
		})
		if err != nil {
			return classifySubmitError("", nil, err)
		}
		receipt, err = c.waitConfirmed(ctx, hash)
		return err
	})
	if err != nil {
		receipt, err = c.classifyCreateError(ctx, hash, err)
		if err != nil {
			c.metrics.Proposals.WithLabelValues("chain", outcomeOf(err)).Inc()
			return persist.TradeRecord{}, err
		}
	}

	chainTradeID, _, ok := escrow.ParseTradeCreated(receipt.Logs, c.gateway.EscrowAddress())
	if !ok {
		c.metrics.Proposals.WithLabelValues("chain", "ambiguous").Inc()
		return persist.TradeRecord{}, ErrAmbiguousOutcome{TxHash: hash, Err: ErrNoTradeInTransaction{TxHash: hash}}
	}

	ctx = logger.NewContextWithFields(ctx, logrus.Fields{"chainTradeID": chainTradeID, "txHash": hash})
	logger.For(ctx).Info("escrow created")

	rec := persist.TradeRecord{
		ChainTradeID:       &chainTradeID,
		Proposer:           proposer,
		Counterparty:       in.Counterparty,
		OfferedAssets:      in.OfferedAssets,
		RequestedAssets:    in.RequestedAssets,
		OfferedValue:       orZero(in.OfferedValue),
		RequestedValue:     orZero(in.RequestedValue),
		Status:             persist.TradeStatusPending,
		Resolution:         persist.ResolutionNone,
		Message:            in.Message,
		ExpiresAt:          in.ExpiresAt,
		TransactionHash:    &hash,
		TransactionHistory: []persist.TxHash{hash},
	}

	id, err := c.repo.Create(ctx, rec)
	if err != nil {
		c.metrics.Proposals.WithLabelValues("chain", "inconsistent").Inc()
		err = ErrInconsistent{ChainTradeID: &chainTradeID, TxHash: hash, Err: err}
		logger.For(ctx).WithError(err).Error("escrow created without a record")
		sentryutil.ReportError(ctx, err)
		return persist.TradeRecord{}, err
	}

	c.metrics.Proposals.WithLabelValues("chain", "confirmed").Inc()
	return c.repo.GetByID(ctx, id)
}

// ProposeOffChain writes a trade record without escrowing anything
func (c *Coordinator) ProposeOffChain(ctx context.Context, proposer persist.Address, in ProposeInput) (persist.TradeRecord, error) {
	if err := c.validateProposal(proposer, in); err != nil {
		c.metrics.Proposals.WithLabelValues("offchain", "rejected").Inc()
		return persist.TradeRecord{}, err
	}

	id, err := c.repo.Create(ctx, persist.TradeRecord{
		Proposer:           proposer,
		Counterparty:       in.Counterparty,
		OfferedAssets:      in.OfferedAssets,
		RequestedAssets:    in.RequestedAssets,
		OfferedValue:       orZero(in.OfferedValue),
		RequestedValue:     orZero(in.RequestedValue),
		Status:             persist.TradeStatusPending,
		Resolution:         persist.ResolutionNone,
		Message:            in.Message,
		ExpiresAt:          in.ExpiresAt,
		TransactionHistory: []persist.TxHash{},
	})
	if err != nil {
		return persist.TradeRecord{}, err
	}
	c.metrics.Proposals.WithLabelValues("offchain", "confirmed").Inc()
	return c.repo.GetByID(ctx, id)
}

// Accept settles a trade as its counterparty. Requested collections are approved first and the
// requested value is attached as payment.
func (c *Coordinator) Accept(ctx context.Context, s signer.Signer, id persist.DBID, progress approval.Progress) (persist.TradeRecord, error) {
	rec, err := c.load(ctx, id)
	if err != nil {
		return persist.TradeRecord{}, err
	}
	if !rec.Counterparty.Equal(s.Address()) {
		return rec, rejectf("only the counterparty can accept this trade")
	}
	if !rec.IsOnChain() {
		return rec, rejectf("this trade was never escrowed and cannot be accepted")
	}
	if _, err := c.approvals.Run(ctx, s, rec.RequestedAssets, progress); err != nil {
		return rec, classifyApprovalError(rec.ID, err)
	}
	return c.execute(ctx, s, rec, acceptTransition(c.gateway, rec.RequestedValue))
}

// Decline refuses a trade as its counterparty
func (c *Coordinator) Decline(ctx context.Context, s signer.Signer, id persist.DBID) (persist.TradeRecord, error) {
	rec, err := c.load(ctx, id)
	if err != nil {
		return persist.TradeRecord{}, err
	}
	return c.decline(ctx, s, rec)
}

func (c *Coordinator) decline(ctx context.Context, s signer.Signer, rec persist.TradeRecord) (persist.TradeRecord, error) {
	if !rec.Counterparty.Equal(s.Address()) {
		return rec, rejectf("only the counterparty can decline this trade")
	}
	return c.execute(ctx, s, rec, declineTransition(c.gateway))
}

// Cancel withdraws a trade as its proposer. An admin may cancel any trade, which is recorded as
// an override.
func (c *Coordinator) Cancel(ctx context.Context, s signer.Signer, id persist.DBID) (persist.TradeRecord, error) {
	rec, err := c.load(ctx, id)
	if err != nil {
		return persist.TradeRecord{}, err
	}
	return c.cancel(ctx, s, rec)
}

func (c *Coordinator) cancel(ctx context.Context, s signer.Signer, rec persist.TradeRecord) (persist.TradeRecord, error) {
	if rec.Proposer.Equal(s.Address()) {
		return c.execute(ctx, s, rec, cancelTransition(c.gateway, persist.ResolutionChainConfirmed))
	}
	isAdmin, err := c.isAdmin(ctx, s.Address())
	if err != nil {
		return rec, err
	}
	if !isAdmin {
		return rec, rejectf("only the proposer can cancel this trade")
	}
	return c.execute(ctx, s, rec, cancelTransition(c.gateway, persist.ResolutionAdminOverride))
}

// AdminForceCancel cancels any active trade regardless of who proposed it
func (c *Coordinator) AdminForceCancel(ctx context.Context, s signer.Signer, id persist.DBID) (persist.TradeRecord, error) {
	isAdmin, err := c.isAdmin(ctx, s.Address())
	if err != nil {
		return persist.TradeRecord{}, err
	}
	if !isAdmin {
		return persist.TradeRecord{}, rejectf("only an admin can force cancel a trade")
	}
	rec, err := c.load(ctx, id)
	if err != nil {
		return persist.TradeRecord{}, err
	}
	return c.execute(ctx, s, rec, cancelTransition(c.gateway, persist.ResolutionAdminOverride))
}

// Expire releases the escrow of a trade past its deadline. Anyone may call it.
func (c *Coordinator) Expire(ctx context.Context, s signer.Signer, id persist.DBID) (persist.TradeRecord, error) {
	rec, err := c.load(ctx, id)
	if err != nil {
		return persist.TradeRecord{}, err
	}
	return c.expire(ctx, s, rec)
}

func (c *Coordinator) expire(ctx context.Context, s signer.Signer, rec persist.TradeRecord) (persist.TradeRecord, error) {
	if !rec.IsExpired(c.cfg.Now()) {
		return rec, rejectf("trade does not expire until %s", rec.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return c.execute(ctx, s, rec, expireTransition(c.gateway))
}

// BulkCancel cancels trades one at a time. A failure does not stop the batch.
func (c *Coordinator) BulkCancel(ctx context.Context, s signer.Signer, ids []persist.DBID) (BatchResult, error) {
	return c.bulk(ctx, ids, func(ctx context.Context, rec persist.TradeRecord) (persist.TradeRecord, error) {
		return c.cancel(ctx, s, rec)
	})
}

// BulkDecline declines trades one at a time. A failure does not stop the batch.
func (c *Coordinator) BulkDecline(ctx context.Context, s signer.Signer, ids []persist.DBID) (BatchResult, error) {
	return c.bulk(ctx, ids, func(ctx context.Context, rec persist.TradeRecord) (persist.TradeRecord, error) {
		return c.decline(ctx, s, rec)
	})
}

func (c *Coordinator) bulk(ctx context.Context, ids []persist.DBID, op func(context.Context, persist.TradeRecord) (persist.TradeRecord, error)) (BatchResult, error) {
	result := BatchResult{Succeeded: []persist.DBID{}, Failed: []ItemError{}}
	for _, id := range ids {
		rec, err := c.repo.GetByID(ctx, id)
		if err != nil {
			result.Failed = append(result.Failed, newItemError(persist.TradeRecord{ID: id}, err))
			continue
		}
		if _, err := op(ctx, rec); err != nil {
			logger.For(ctx).WithError(err).WithFields(logrus.Fields{"tradeID": id}).Warn("bulk item failed")
			result.Failed = append(result.Failed, newItemError(rec, err))
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result, result.Err()
}

func (c *Coordinator) load(ctx context.Context, id persist.DBID) (persist.TradeRecord, error) {
	rec, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return persist.TradeRecord{}, err
	}
	if rec.Status != persist.TradeStatusPending {
		return rec, rejectf("trade is already %s", rec.Status)
	}
	return rec, nil
}

func (c *Coordinator) isAdmin(ctx context.Context, address persist.Address) (bool, error) {
	if c.admins == nil {
		return false, nil
	}
	return c.admins.IsAdmin(ctx, address)
}

func (c *Coordinator) waitConfirmed(ctx context.Context, hash persist.TxHash) (escrow.Receipt, error) {
	start := time.Now()
	defer func() { c.metrics.ConfirmationWait.Observe(time.Since(start).Seconds()) }()

	wctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmationTimeout)
	defer cancel()
	return c.gateway.WaitConfirmed(wctx, hash)
}

// classifyCreateError turns a failed escrow creation into a rejection or an ambiguous outcome.
// A creation whose confirmation was missed but whose receipt shows success is returned as
// confirmed. Otherwise its hash is the recovery handle.
func (c *Coordinator) classifyCreateError(ctx context.Context, hash persist.TxHash, err error) (escrow.Receipt, error) {
	var rejected ErrRejected
	if errors.As(err, &rejected) {
		return escrow.Receipt{}, err
	}
	if errors.As(err, &escrow.ErrReverted{}) {
		return escrow.Receipt{}, ErrRejected{Reason: "escrow creation reverted", Err: err}
	}
	if hash == "" {
		return escrow.Receipt{}, ErrAmbiguousOutcome{Err: err}
	}
	if receipt, rerr := c.gateway.TransactionReceipt(ctx, hash); rerr == nil {
		if !receipt.Succeeded {
			return escrow.Receipt{}, ErrRejected{Reason: "escrow creation reverted", Err: escrow.ErrReverted{TxHash: hash}}
		}
		logger.For(ctx).WithError(err).WithFields(logrus.Fields{"txHash": hash}).Info("escrow creation confirmed by receipt after a missed confirmation")
		return receipt, nil
	}
	logger.For(ctx).WithError(err).WithFields(logrus.Fields{"txHash": hash}).Warn("escrow creation outcome unknown")
	return escrow.Receipt{}, ErrAmbiguousOutcome{TxHash: hash, Err: err}
}

// classifyApprovalError keeps an approval whose confirmation was missed ambiguous. Any other
// approval failure rejects the operation.
func classifyApprovalError(tradeID persist.DBID, err error) error {
	var unknown approval.ErrConfirmationUnknown
	if errors.As(err, &unknown) {
		return ErrAmbiguousOutcome{TradeID: tradeID, TxHash: unknown.TxHash, Err: err}
	}
	return ErrRejected{Reason: "approval failed", Err: err}
}

// classifySubmitError treats a failed submission as a rejection unless the caller went away
// before the node answered.
func classifySubmitError(tradeID persist.DBID, chainTradeID *persist.ChainTradeID, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrAmbiguousOutcome{TradeID: tradeID, ChainTradeID: chainTradeID, Err: err}
	}
	return ErrRejected{Reason: "transaction rejected", Err: err}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "confirmed"
	case errors.As(err, &ErrRejected{}), errors.As(err, &escrow.ErrReverted{}):
		return "rejected"
	case errors.As(err, &ErrInconsistent{}):
		return "inconsistent"
	default:
		return "ambiguous"
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
