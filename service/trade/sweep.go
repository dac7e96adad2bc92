package trade

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-barter/service/logger"
	"github.com/SplitFi/go-barter/service/persist"
	"github.com/SplitFi/go-barter/service/signer"
)

const defaultSweepLimit = 100

// SweepResult summarizes one sweep
type SweepResult struct {
	// Cancelled counts trades moved to cancelled by this sweep
	Cancelled int `json:"cancelled"`
	// Reconciled counts trades the chain had already settled
	Reconciled int `json:"reconciled"`
	// Skipped counts candidates that were not pending or not yet expired
	Skipped int         `json:"skipped"`
	Errors  []ItemError `json:"errors"`
}

// Err returns a BatchError if any item failed
func (r SweepResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return BatchError{Succeeded: r.Cancelled + r.Reconciled, Failed: len(r.Errors), Items: r.Errors}
}

// Sweep expires every pending candidate past its deadline. Trades are processed one at a time and
// independently; a failure is recorded and the sweep moves on.
func (c *Coordinator) Sweep(ctx context.Context, s signer.Signer, candidates []persist.TradeRecord) SweepResult {
	result := SweepResult{Errors: []ItemError{}}
	now := c.cfg.Now()

	for _, rec := range candidates {
		if rec.Status != persist.TradeStatusPending || !rec.IsExpired(now) {
			result.Skipped++
			continue
		}

		_, err := c.expire(ctx, s, rec)

		// a settled chain trade counts as reconciled only once its record was repaired
		var notActive ErrNotActive
		switch {
		case err == nil:
			result.Cancelled++
			c.metrics.SweepResults.WithLabelValues("cancelled").Inc()
		case errors.As(err, &notActive) && !errors.As(err, &ErrInconsistent{}):
			result.Reconciled++
			c.metrics.SweepResults.WithLabelValues("reconciled").Inc()
		default:
			logger.For(ctx).WithError(err).WithFields(logrus.Fields{"tradeID": rec.ID}).Warn("failed to expire trade")
			result.Errors = append(result.Errors, newItemError(rec, err))
			c.metrics.SweepResults.WithLabelValues("error").Inc()
		}
	}

	logger.For(ctx).WithFields(logrus.Fields{
		"cancelled":  result.Cancelled,
		"reconciled": result.Reconciled,
		"skipped":    result.Skipped,
		"errors":     len(result.Errors),
	}).Info("sweep finished")
	return result
}

// SweepExpired sweeps up to limit pending trades whose deadline has passed
func (c *Coordinator) SweepExpired(ctx context.Context, s signer.Signer, limit int64) (SweepResult, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	candidates, err := c.repo.GetExpiredPending(ctx, c.cfg.Now(), limit)
	if err != nil {
		return SweepResult{}, err
	}
	return c.Sweep(ctx, s, candidates), nil
}
