package trade

import (
	"context"
	"errors"
	"math/big"

	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-barter/service/escrow"
	"github.com/SplitFi/go-barter/service/logger"
	"github.com/SplitFi/go-barter/service/persist"
	sentryutil "github.com/SplitFi/go-barter/service/sentry"
	"github.com/SplitFi/go-barter/service/signer"
)

type submitFunc func(context.Context, signer.Signer, persist.ChainTradeID) (persist.TxHash, error)

// transition is one edge out of the active state
type transition struct {
	name       string
	target     persist.ChainTradeState
	status     persist.TradeStatus
	resolution persist.Resolution
	// offChain is allowed on trades that were never escrowed
	offChain bool
	submit   submitFunc
}

func acceptTransition(g escrow.Gateway, payment *big.Int) transition {
	return transition{
		name:       "accept",
		target:     persist.ChainTradeAccepted,
		status:     persist.TradeStatusAccepted,
		resolution: persist.ResolutionChainConfirmed,
		submit: func(ctx context.Context, s signer.Signer, id persist.ChainTradeID) (persist.TxHash, error) {
			return g.AcceptTrade(ctx, s, id, payment)
		},
	}
}

func declineTransition(g escrow.Gateway) transition {
	return transition{
		name:       "decline",
		target:     persist.ChainTradeDeclined,
		status:     persist.TradeStatusDeclined,
		resolution: persist.ResolutionChainConfirmed,
		offChain:   true,
		submit:     g.DeclineTrade,
	}
}

func cancelTransition(g escrow.Gateway, resolution persist.Resolution) transition {
	name := "cancel"
	if resolution == persist.ResolutionAdminOverride {
		name = "admin_cancel"
	}
	return transition{
		name:       name,
		target:     persist.ChainTradeCancelled,
		status:     persist.TradeStatusCancelled,
		resolution: resolution,
		offChain:   true,
		submit:     g.CancelTrade,
	}
}

func expireTransition(g escrow.Gateway) transition {
	return transition{
		name:       "expire",
		target:     persist.ChainTradeExpired,
		status:     persist.TradeStatusCancelled,
		resolution: persist.ResolutionExpired,
		offChain:   true,
		submit:     g.ExpireTrade,
	}
}

// execute runs t against rec. The record is written only after the chain confirms.
func (c *Coordinator) execute(ctx context.Context, s signer.Signer, rec persist.TradeRecord, t transition) (persist.TradeRecord, error) {
	ctx = logger.NewContextWithFields(ctx, logrus.Fields{
		"tradeID":    rec.ID,
		"transition": t.name,
		"caller":     s.Address(),
	})

	if !rec.IsOnChain() {
		return c.executeOffChain(ctx, rec, t)
	}

	chainTradeID := *rec.ChainTradeID
	ctx = logger.NewContextWithFields(ctx, logrus.Fields{"chainTradeID": chainTradeID})

	chainTrade, err := c.gateway.ReadTrade(ctx, chainTradeID)
	if err != nil {
		return rec, ErrUnverified{TradeID: rec.ID, Err: err}
	}
	if chainTrade.State != persist.ChainTradeActive {
		repaired, _, rerr := c.reconcileWith(ctx, rec, chainTrade)
		if rerr != nil {
			c.metrics.Transitions.WithLabelValues(t.name, "inconsistent").Inc()
			err = ErrInconsistent{TradeID: rec.ID, ChainTradeID: rec.ChainTradeID, Err: rerr}
			logger.For(ctx).WithError(err).Warn("failed to repair record of settled trade")
			return rec, err
		}
		c.metrics.Transitions.WithLabelValues(t.name, "rejected").Inc()
		return repaired, ErrRejected{Reason: "trade is not active", Err: ErrNotActive{ChainTradeID: chainTradeID, State: chainTrade.State}}
	}
	if t.target == persist.ChainTradeExpired && c.cfg.Now().Before(chainTrade.ExpiresAt) {
		c.metrics.Transitions.WithLabelValues(t.name, "rejected").Inc()
		return rec, rejectf("trade does not expire on chain until %s", chainTrade.ExpiresAt.UTC())
	}

	var hash persist.TxHash
	err = c.queue.Do(ctx, s.Address(), func(ctx context.Context) error {
		var err error
		hash, err = t.submit(ctx, s, chainTradeID)
		if err != nil {
			return classifySubmitError(rec.ID, rec.ChainTradeID, err)
		}
		logger.For(ctx).WithFields(logrus.Fields{"txHash": hash}).Info("waiting for confirmation")
		_, err = c.waitConfirmed(ctx, hash)
		return err
	})

	switch {
	case err == nil:
		return c.settle(ctx, rec, t.status, t.resolution, hash, t.name)
	case errors.As(err, &ErrRejected{}):
		c.metrics.Transitions.WithLabelValues(t.name, "rejected").Inc()
		return rec, err
	case errors.As(err, &escrow.ErrReverted{}):
		c.metrics.Transitions.WithLabelValues(t.name, "rejected").Inc()
		return rec, ErrRejected{Reason: "transaction reverted", Err: err}
	case hash == "":
		c.metrics.Transitions.WithLabelValues(t.name, "ambiguous").Inc()
		return rec, err
	default:
		return c.resolveAmbiguous(ctx, rec, t, hash, err)
	}
}

// resolveAmbiguous decides the outcome of a submitted transaction whose confirmation was not
// observed. The chain is read, never written.
func (c *Coordinator) resolveAmbiguous(ctx context.Context, rec persist.TradeRecord, t transition, hash persist.TxHash, waitErr error) (persist.TradeRecord, error) {
	logger.For(ctx).WithError(waitErr).WithFields(logrus.Fields{"txHash": hash}).Warn("confirmation not observed, re-reading chain")

	receipt, err := c.gateway.TransactionReceipt(ctx, hash)
	if err == nil {
		if receipt.Succeeded {
			return c.settle(ctx, rec, t.status, t.resolution, hash, t.name)
		}
		c.metrics.Transitions.WithLabelValues(t.name, "rejected").Inc()
		return rec, ErrRejected{Reason: "transaction reverted", Err: escrow.ErrReverted{TxHash: hash}}
	}

	chainTrade, err := c.gateway.ReadTrade(ctx, *rec.ChainTradeID)
	if err == nil && chainTrade.State.IsTerminal() {
		repaired, _, rerr := c.reconcileWith(ctx, rec, chainTrade)
		if rerr != nil {
			c.metrics.Transitions.WithLabelValues(t.name, "inconsistent").Inc()
			return rec, ErrInconsistent{TradeID: rec.ID, ChainTradeID: rec.ChainTradeID, TxHash: hash, Err: rerr}
		}
		if chainTrade.State == t.target {
			c.metrics.Transitions.WithLabelValues(t.name, "confirmed").Inc()
			return repaired, nil
		}
		c.metrics.Transitions.WithLabelValues(t.name, "rejected").Inc()
		return repaired, ErrRejected{Reason: "trade settled differently", Err: ErrNotActive{ChainTradeID: chainTrade.ID, State: chainTrade.State}}
	}

	c.metrics.Transitions.WithLabelValues(t.name, "ambiguous").Inc()
	return rec, ErrAmbiguousOutcome{TradeID: rec.ID, ChainTradeID: rec.ChainTradeID, TxHash: hash, Err: waitErr}
}

func (c *Coordinator) executeOffChain(ctx context.Context, rec persist.TradeRecord, t transition) (persist.TradeRecord, error) {
	if !t.offChain {
		return rec, rejectf("this trade was never escrowed and cannot be %s", t.status)
	}
	status := t.status
	resolution := persist.ResolutionOffChain
	if err := c.repo.Update(ctx, rec.ID, persist.TradeUpdate{Status: &status, Resolution: &resolution}); err != nil {
		return rec, err
	}
	c.metrics.Transitions.WithLabelValues(t.name, "offchain").Inc()
	logger.For(ctx).Infof("off-chain trade %s", status)

	rec.Status = status
	rec.Resolution = resolution
	return rec, nil
}

// settle writes a confirmed transition. A failed write is reported, never retried.
func (c *Coordinator) settle(ctx context.Context, rec persist.TradeRecord, status persist.TradeStatus, resolution persist.Resolution, hash persist.TxHash, name string) (persist.TradeRecord, error) {
	update := persist.TradeUpdate{Status: &status, Resolution: &resolution, TransactionHash: &hash}
	if err := c.repo.Update(ctx, rec.ID, update); err != nil {
		c.metrics.Transitions.WithLabelValues(name, "inconsistent").Inc()
		err = ErrInconsistent{TradeID: rec.ID, ChainTradeID: rec.ChainTradeID, TxHash: hash, Err: err}
		logger.For(ctx).WithError(err).Error("chain transition confirmed but record update failed")
		sentryutil.ReportError(ctx, err)
		return rec, err
	}

	c.metrics.Transitions.WithLabelValues(name, "confirmed").Inc()
	logger.For(ctx).WithFields(logrus.Fields{"txHash": hash, "status": status}).Info("trade settled")

	rec.Status = status
	rec.Resolution = resolution
	rec.TransactionHash = &hash
	rec.TransactionHistory = append(rec.TransactionHistory, hash)
	return rec, nil
}
