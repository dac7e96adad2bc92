package trade

import (
	"context"
	"testing"
	"time"

	"github.com/SplitFi/go-barter/service/persist"
)

func TestSweep_Success(t *testing.T) {
	a := setupTest(t)
	ctx := context.Background()

	t.Run("it expires trade 12 on chain and cancels its record", func(t *testing.T) {
		f := newFixture(t)
		f.chain.nextID = 12
		rec := f.propose(t, time.Hour)
		a.Equal(persist.ChainTradeID(12), *rec.ChainTradeID)
		f.clock.Advance(2 * time.Hour)

		result, err := f.coord.SweepExpired(ctx, fakeSigner{admin}, 0)
		a.NoError(err)
		a.Equal(1, result.Cancelled)
		a.Empty(result.Errors)
		a.Equal(1, f.chain.callCount("expireTrade:12"))
		a.Equal(persist.ChainTradeExpired, f.chain.state(12))
		a.Equal(persist.TradeStatusCancelled, f.repo.get(rec.ID).Status)
		a.Equal(persist.ResolutionExpired, f.repo.get(rec.ID).Resolution)
	})

	t.Run("it isolates a failing trade from the rest", func(t *testing.T) {
		f := newFixture(t)
		const n = 5
		recs := make([]persist.TradeRecord, n)
		for i := range recs {
			recs[i] = f.propose(t, time.Hour)
		}
		f.chain.revertOn["expireTrade:"+recs[2].ChainTradeID.String()] = true
		f.clock.Advance(2 * time.Hour)

		result := f.coord.Sweep(ctx, fakeSigner{mallory}, recs)
		a.Equal(n-1, result.Cancelled)
		a.Len(result.Errors, 1)
		a.Equal(recs[2].ID, result.Errors[0].TradeID)
		a.Equal(n, f.chain.callCount("expireTrade"))
		for i, rec := range recs {
			if i == 2 {
				a.Equal(persist.TradeStatusPending, f.repo.get(rec.ID).Status)
				continue
			}
			a.Equal(persist.TradeStatusCancelled, f.repo.get(rec.ID).Status)
		}
		a.ErrorAs(result.Err(), &BatchError{})
	})

	t.Run("it cancels off-chain trades without a chain call", func(t *testing.T) {
		f := newFixture(t)
		rec, err := f.coord.ProposeOffChain(ctx, alice, ProposeInput{Counterparty: bob, RequestedValue: oneEther, ExpiresAt: f.clock.Now().Add(time.Hour)})
		a.NoError(err)
		f.clock.Advance(2 * time.Hour)

		result := f.coord.Sweep(ctx, fakeSigner{admin}, []persist.TradeRecord{rec})
		a.Equal(1, result.Cancelled)
		a.Empty(f.chain.calls)
		a.Equal(persist.TradeStatusCancelled, f.repo.get(rec.ID).Status)
	})

	t.Run("it skips trades that are not due", func(t *testing.T) {
		f := newFixture(t)
		fresh := f.propose(t, 24*time.Hour)
		settled := f.propose(t, time.Hour)
		_, err := f.coord.Decline(ctx, fakeSigner{bob}, settled.ID)
		a.NoError(err)
		settled = f.repo.get(settled.ID)
		f.clock.Advance(2 * time.Hour)

		result := f.coord.Sweep(ctx, fakeSigner{admin}, []persist.TradeRecord{fresh, settled})
		a.Equal(0, result.Cancelled)
		a.Equal(2, result.Skipped)
		a.Equal(0, f.chain.callCount("expireTrade"))
	})

	t.Run("it repairs trades the chain already settled", func(t *testing.T) {
		f := newFixture(t)
		rec := f.propose(t, time.Hour)
		f.chain.trades[*rec.ChainTradeID].State = persist.ChainTradeAccepted
		f.clock.Advance(2 * time.Hour)

		result := f.coord.Sweep(ctx, fakeSigner{admin}, []persist.TradeRecord{rec})
		a.Equal(0, result.Cancelled)
		a.Equal(1, result.Reconciled)
		a.Empty(result.Errors)
		a.Equal(persist.TradeStatusAccepted, f.repo.get(rec.ID).Status)
	})
}

func TestSweep_Failure(t *testing.T) {
	a := setupTest(t)
	ctx := context.Background()

	t.Run("it counts a settled trade as an error when its record cannot be repaired", func(t *testing.T) {
		f := newFixture(t)
		rec := f.propose(t, time.Hour)
		f.chain.trades[*rec.ChainTradeID].State = persist.ChainTradeAccepted
		f.clock.Advance(2 * time.Hour)
		f.repo.failUpdates = true

		result := f.coord.Sweep(ctx, fakeSigner{admin}, []persist.TradeRecord{rec})
		a.Equal(0, result.Cancelled)
		a.Equal(0, result.Reconciled)
		a.Len(result.Errors, 1)
		a.Equal(rec.ID, result.Errors[0].TradeID)
		a.ErrorAs(result.Errors[0], &ErrInconsistent{})
		a.Equal(persist.TradeStatusPending, f.repo.get(rec.ID).Status)
		a.Equal(0, f.chain.callCount("expireTrade"))

		var batch BatchError
		a.ErrorAs(result.Err(), &batch)
		a.Equal(0, batch.Succeeded)
		a.Equal(1, batch.Failed)
	})
}
