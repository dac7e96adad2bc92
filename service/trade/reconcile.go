package trade

import (
	"context"
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-barter/service/logger"
	"github.com/SplitFi/go-barter/service/persist"
)

const reconcileWorkers = 8

// Reconcile repairs rec from its chain trade. Only a terminal chain state is ever copied, and
// only onto the record. It reports whether the record changed.
func (c *Coordinator) Reconcile(ctx context.Context, rec persist.TradeRecord) (persist.TradeRecord, bool, error) {
	if !rec.IsOnChain() {
		return rec, false, nil
	}
	chainTrade, err := c.gateway.ReadTrade(ctx, *rec.ChainTradeID)
	if err != nil {
		return rec, false, ErrUnverified{TradeID: rec.ID, Err: err}
	}
	return c.reconcileWith(ctx, rec, chainTrade)
}

// ReconcileByID loads a record and reconciles it. If the chain cannot be read the record is
// still returned along with an ErrUnverified.
func (c *Coordinator) ReconcileByID(ctx context.Context, id persist.DBID) (persist.TradeRecord, bool, error) {
	rec, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return persist.TradeRecord{}, false, err
	}
	return c.Reconcile(ctx, rec)
}

func (c *Coordinator) reconcileWith(ctx context.Context, rec persist.TradeRecord, chainTrade persist.ChainTrade) (persist.TradeRecord, bool, error) {
	if !chainTrade.State.IsTerminal() {
		if rec.Status != persist.TradeStatusPending {
			logger.For(ctx).WithFields(logrus.Fields{
				"tradeID":      rec.ID,
				"chainTradeID": chainTrade.ID,
				"status":       rec.Status,
			}).Warn("record is settled but chain trade is still active")
		}
		return rec, false, nil
	}
	if !chainTrade.State.Contradicts(rec.Status) {
		return rec, false, nil
	}

	status := chainTrade.State.RecordStatus()
	resolution := persist.ResolutionReconciled
	if chainTrade.State == persist.ChainTradeExpired {
		resolution = persist.ResolutionExpired
	}
	if err := c.repo.Update(ctx, rec.ID, persist.TradeUpdate{Status: &status, Resolution: &resolution}); err != nil {
		return rec, false, err
	}

	logger.For(ctx).WithFields(logrus.Fields{
		"tradeID":      rec.ID,
		"chainTradeID": chainTrade.ID,
		"from":         rec.Status,
		"to":           status,
		"chainState":   chainTrade.State,
	}).Info("repaired trade record from chain")
	c.metrics.ReconcileRepairs.WithLabelValues(status.String()).Inc()

	rec.Status = status
	rec.Resolution = resolution
	return rec, true, nil
}

// ReconcileAll reconciles records in parallel. Records are returned in input order; failures are
// collected per trade.
func (c *Coordinator) ReconcileAll(ctx context.Context, recs []persist.TradeRecord) ([]persist.TradeRecord, BatchResult) {
	out := make([]persist.TradeRecord, len(recs))
	result := BatchResult{Succeeded: []persist.DBID{}, Failed: []ItemError{}}
	var mu sync.Mutex

	wp := workerpool.New(reconcileWorkers)
	for i, rec := range recs {
		i, rec := i, rec
		wp.Submit(func() {
			reconciled, _, err := c.Reconcile(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			out[i] = reconciled
			if err != nil {
				result.Failed = append(result.Failed, newItemError(rec, err))
				return
			}
			result.Succeeded = append(result.Succeeded, rec.ID)
		})
	}
	wp.StopWait()

	return out, result
}

// ListForParticipant returns a participant's trades reconciled against the chain
func (c *Coordinator) ListForParticipant(ctx context.Context, address persist.Address, statuses []persist.TradeStatus, limit int64) ([]persist.TradeRecord, BatchResult, error) {
	recs, err := c.repo.GetByParticipant(ctx, address, statuses, limit)
	if err != nil {
		return nil, BatchResult{}, err
	}
	out, result := c.ReconcileAll(ctx, recs)
	return out, result, nil
}
