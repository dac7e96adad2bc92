package trade

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/SplitFi/go-barter/service/escrow"
	"github.com/SplitFi/go-barter/service/persist"
)

func TestReconcile_Success(t *testing.T) {
	a := setupTest(t)
	ctx := context.Background()

	terminal := []persist.ChainTradeState{
		persist.ChainTradeAccepted,
		persist.ChainTradeCancelled,
		persist.ChainTradeExpired,
		persist.ChainTradeDeclined,
	}
	prior := []persist.TradeStatus{
		persist.TradeStatusPending,
		persist.TradeStatusAccepted,
		persist.TradeStatusDeclined,
		persist.TradeStatusCancelled,
	}

	for _, state := range terminal {
		for _, status := range prior {
			t.Run(fmt.Sprintf("it projects %s over a %s record", state, status), func(t *testing.T) {
				f := newFixture(t)
				rec := f.propose(t, time.Hour)
				f.chain.trades[*rec.ChainTradeID].State = state
				rec = f.repo.put(withStatus(rec, status))

				reconciled, _, err := f.coord.Reconcile(ctx, rec)
				a.NoError(err)
				a.Equal(state.RecordStatus(), reconciled.Status)
				a.Equal(state.RecordStatus(), f.repo.get(rec.ID).Status)
				a.Equal(state, f.chain.state(*rec.ChainTradeID))
			})
		}
	}

	t.Run("it marks expired chain trades as expired cancellations", func(t *testing.T) {
		f := newFixture(t)
		rec := f.propose(t, time.Hour)
		f.chain.trades[*rec.ChainTradeID].State = persist.ChainTradeExpired

		reconciled, changed, err := f.coord.Reconcile(ctx, rec)
		a.NoError(err)
		a.True(changed)
		a.Equal(persist.TradeStatusCancelled, reconciled.Status)
		a.Equal(persist.ResolutionExpired, reconciled.Resolution)
	})

	t.Run("it leaves active trades alone", func(t *testing.T) {
		f := newFixture(t)
		rec := f.propose(t, time.Hour)
		reconciled, changed, err := f.coord.Reconcile(ctx, rec)
		a.NoError(err)
		a.False(changed)
		a.Equal(persist.TradeStatusPending, reconciled.Status)
	})

	t.Run("it never writes to the chain", func(t *testing.T) {
		f := newFixture(t)
		rec := f.propose(t, time.Hour)
		rec = f.repo.put(withStatus(rec, persist.TradeStatusCancelled))
		before := len(f.chain.calls)

		_, changed, err := f.coord.Reconcile(ctx, rec)
		a.NoError(err)
		a.False(changed)
		a.Len(f.chain.calls, before)
		a.Equal(persist.ChainTradeActive, f.chain.state(*rec.ChainTradeID))
	})

	t.Run("it reconciles many records in input order", func(t *testing.T) {
		f := newFixture(t)
		recs := make([]persist.TradeRecord, 10)
		for i := range recs {
			recs[i] = f.propose(t, time.Hour)
			if i%2 == 0 {
				f.chain.trades[*recs[i].ChainTradeID].State = persist.ChainTradeDeclined
			}
		}

		out, result := f.coord.ReconcileAll(ctx, recs)
		a.Len(result.Succeeded, 10)
		a.Empty(result.Failed)
		for i, rec := range out {
			a.Equal(recs[i].ID, rec.ID)
			if i%2 == 0 {
				a.Equal(persist.TradeStatusDeclined, rec.Status)
			} else {
				a.Equal(persist.TradeStatusPending, rec.Status)
			}
		}
	})
}

func TestReconcile_Failure(t *testing.T) {
	a := setupTest(t)

	t.Run("it reports an unverified record when the chain trade cannot be read", func(t *testing.T) {
		f := newFixture(t)
		missing := persist.ChainTradeID(404)
		rec := f.repo.put(persist.TradeRecord{ChainTradeID: &missing, Status: persist.TradeStatusPending})

		got, _, err := f.coord.ReconcileByID(context.Background(), rec.ID)
		a.ErrorAs(err, &ErrUnverified{})
		a.Equal(rec.ID, got.ID)
	})
}

func TestRecoverFromTransaction_Success(t *testing.T) {
	a := setupTest(t)
	ctx := context.Background()

	t.Run("it finds the trade and ignores the unrelated log", func(t *testing.T) {
		f := newFixture(t)
		f.chain.nextID = 5
		rec := f.propose(t, time.Hour)
		f.repo.trades = map[persist.DBID]persist.TradeRecord{}

		recovered, err := f.coord.RecoverFromTransaction(ctx, rec.TransactionHash.String(), alice)
		a.NoError(err)
		a.Equal(persist.ChainTradeID(5), recovered.ChainTrade.ID)
		a.True(recovered.CanCancel)
		a.Nil(recovered.RecordID)
		a.Empty(f.repo.trades)
	})

	t.Run("it only lets the creator cancel an active trade", func(t *testing.T) {
		f := newFixture(t)
		rec := f.propose(t, time.Hour)

		recovered, err := f.coord.RecoverFromTransaction(ctx, rec.TransactionHash.String(), bob)
		a.NoError(err)
		a.False(recovered.CanCancel)

		f.chain.trades[*rec.ChainTradeID].State = persist.ChainTradeDeclined
		recovered, err = f.coord.RecoverFromTransaction(ctx, rec.TransactionHash.String(), alice)
		a.NoError(err)
		a.False(recovered.CanCancel)
		a.NotNil(recovered.RecordID)
	})

	t.Run("it materializes a lost record once", func(t *testing.T) {
		f := newFixture(t)
		rec := f.propose(t, time.Hour)
		f.repo.trades = map[persist.DBID]persist.TradeRecord{}

		restored, err := f.coord.MaterializeRecovered(ctx, rec.TransactionHash.String(), bob, nil)
		a.NoError(err)
		a.Equal(*rec.ChainTradeID, *restored.ChainTradeID)
		a.Equal(alice, restored.Proposer)
		a.Equal(bob, restored.Counterparty)
		a.Equal(persist.TradeStatusPending, restored.Status)
		a.Len(restored.OfferedAssets, 1)

		again, err := f.coord.MaterializeRecovered(ctx, rec.TransactionHash.String(), alice, nil)
		a.NoError(err)
		a.Equal(restored.ID, again.ID)
		a.Len(f.repo.trades, 1)
	})
}

func TestRecoverFromTransaction_Failure(t *testing.T) {
	a := setupTest(t)
	ctx := context.Background()

	t.Run("it rejects a malformed hash before any lookup", func(t *testing.T) {
		f := newFixture(t)
		for _, hash := range []string{"", "0x1234", "1234567890123456789012345678901234567890123456789012345678901234", "0xzz34567890123456789012345678901234567890123456789012345678901234"} {
			_, err := f.coord.RecoverFromTransaction(ctx, hash, alice)
			a.ErrorAs(err, &ErrRejected{})
		}
	})

	t.Run("it never takes a trade id from another contract", func(t *testing.T) {
		f := newFixture(t)
		hash := persist.TxHash(fmt.Sprintf("0x%064x", 77))
		f.chain.receipts[hash] = escrow.Receipt{TxHash: hash, Succeeded: true, Logs: []*types.Log{
			tradeCreatedLog(unrelatedAddress, 1, alice, bob),
		}}
		f.chain.trades[1] = &persist.ChainTrade{ID: 1, Creator: alice, Counterparty: bob, State: persist.ChainTradeActive}

		_, err := f.coord.RecoverFromTransaction(ctx, hash.String(), alice)
		a.ErrorAs(err, &ErrNoTradeInTransaction{})
	})

	t.Run("it rejects an unknown transaction", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.coord.RecoverFromTransaction(ctx, fmt.Sprintf("0x%064x", 1234), alice)
		a.ErrorAs(err, &ErrRejected{})
	})

	t.Run("it refuses to materialize for a stranger", func(t *testing.T) {
		f := newFixture(t)
		rec := f.propose(t, time.Hour)
		f.repo.trades = map[persist.DBID]persist.TradeRecord{}

		_, err := f.coord.MaterializeRecovered(ctx, rec.TransactionHash.String(), mallory, nil)
		a.ErrorAs(err, &ErrRejected{})
		a.Empty(f.repo.trades)
	})
}

func withStatus(rec persist.TradeRecord, status persist.TradeStatus) persist.TradeRecord {
	rec.Status = status
	return rec
}
