package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/stretchr/testify/assert"

	"github.com/SplitFi/go-barter/service/escrow"
	"github.com/SplitFi/go-barter/service/metrics"
	"github.com/SplitFi/go-barter/service/persist"
	"github.com/SplitFi/go-barter/service/signer"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	owner       = persist.NewAddress("0x00000000000000000000000000000000000000aa")
	collectionA = persist.NewAddress("0x000000000000000000000000000000000000000a")
	collectionB = persist.NewAddress("0x000000000000000000000000000000000000000b")
	collectionC = persist.NewAddress("0x000000000000000000000000000000000000000c")
)

type fakeSigner struct{ address persist.Address }

func (f fakeSigner) Address() persist.Address { return f.address }

func (f fakeSigner) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	return &bind.TransactOpts{Context: ctx}, nil
}

type fakeGateway struct {
	mu        sync.Mutex
	approved  map[persist.Address]bool
	failOn    map[persist.Address]bool
	stallOn   map[persist.Address]bool
	submitted []persist.Address
	pending   map[persist.TxHash]persist.Address
	inFlight  int
	maxFlight int
}

func newFakeGateway(approved ...persist.Address) *fakeGateway {
	g := &fakeGateway{
		approved: map[persist.Address]bool{},
		failOn:   map[persist.Address]bool{},
		stallOn:  map[persist.Address]bool{},
		pending:  map[persist.TxHash]persist.Address{},
	}
	for _, a := range approved {
		g.approved[a] = true
	}
	return g
}

func (g *fakeGateway) IsApprovedForAll(ctx context.Context, collection, owner persist.Address) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.approved[collection], nil
}

func (g *fakeGateway) SetApprovalForAll(ctx context.Context, s signer.Signer, collection persist.Address) (persist.TxHash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight++
	if g.inFlight > g.maxFlight {
		g.maxFlight = g.inFlight
	}
	g.submitted = append(g.submitted, collection)
	hash := persist.TxHash(fmt.Sprintf("0x%064d", len(g.submitted)))
	g.pending[hash] = collection
	return hash, nil
}

func (g *fakeGateway) WaitConfirmed(ctx context.Context, hash persist.TxHash) (escrow.Receipt, error) {
	g.mu.Lock()
	g.inFlight--
	collection := g.pending[hash]
	stalled := g.stallOn[collection]
	g.mu.Unlock()

	if stalled {
		<-ctx.Done()
		return escrow.Receipt{}, escrow.ErrConfirmationTimeout{TxHash: hash, Err: ctx.Err()}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failOn[collection] {
		return escrow.Receipt{TxHash: hash}, escrow.ErrReverted{TxHash: hash}
	}
	g.approved[collection] = true
	return escrow.Receipt{TxHash: hash, Succeeded: true}, nil
}

func assetsOf(contracts ...persist.Address) []persist.TradeAsset {
	assets := make([]persist.TradeAsset, len(contracts))
	for i, c := range contracts {
		assets[i] = persist.TradeAsset{Contract: c, TokenID: fmt.Sprint(i + 1), Standard: persist.TokenStandardERC721}
	}
	return assets
}

func newTracker(g *fakeGateway) *Tracker {
	return NewTracker(g, nil, metrics.NewMetrics("test", prometheus.NewRegistry()), time.Second)
}

func TestPlanApprovals_Success(t *testing.T) {
	a := setupTest(t)
	ctx := context.Background()

	t.Run("it dedupes by contract in first-seen order", func(t *testing.T) {
		tracker := newTracker(newFakeGateway())
		plan, err := tracker.PlanApprovals(ctx, assetsOf(collectionB, collectionA, collectionB, collectionC, collectionA), owner)
		a.NoError(err)
		a.Equal([]persist.Address{collectionB, collectionA, collectionC}, plan)
	})

	t.Run("it drops approved contracts", func(t *testing.T) {
		tracker := newTracker(newFakeGateway(collectionA))
		plan, err := tracker.PlanApprovals(ctx, assetsOf(collectionA, collectionB), owner)
		a.NoError(err)
		a.Equal([]persist.Address{collectionB}, plan)
	})

	t.Run("it excludes vaulted assets", func(t *testing.T) {
		tracker := newTracker(newFakeGateway())
		assets := assetsOf(collectionA, collectionB)
		assets[0].Vaulted = true
		plan, err := tracker.PlanApprovals(ctx, assets, owner)
		a.NoError(err)
		a.Equal([]persist.Address{collectionB}, plan)
	})

	t.Run("it returns the same plan on repeated calls", func(t *testing.T) {
		tracker := newTracker(newFakeGateway(collectionC))
		assets := assetsOf(collectionC, collectionB, collectionA, collectionB)
		first, err := tracker.PlanApprovals(ctx, assets, owner)
		a.NoError(err)
		for i := 0; i < 5; i++ {
			again, err := tracker.PlanApprovals(ctx, assets, owner)
			a.NoError(err)
			a.Equal(first, again)
		}
	})

	t.Run("it treats mixed case addresses as one contract", func(t *testing.T) {
		tracker := newTracker(newFakeGateway())
		assets := []persist.TradeAsset{
			{Contract: persist.Address("0x00000000000000000000000000000000000000AB"), TokenID: "1"},
			{Contract: persist.Address("0x00000000000000000000000000000000000000ab"), TokenID: "2"},
		}
		plan, err := tracker.PlanApprovals(ctx, assets, owner)
		a.NoError(err)
		a.Len(plan, 1)
	})
}

func TestPlanApprovals_Failure(t *testing.T) {
	a := setupTest(t)

	t.Run("it rejects unknown standards", func(t *testing.T) {
		tracker := newTracker(newFakeGateway())
		assets := assetsOf(collectionA)
		assets[0].Standard = "ERC-20"
		_, err := tracker.PlanApprovals(context.Background(), assets, owner)
		a.ErrorAs(err, &ErrUnsupportedStandard{})
	})
}

func TestRun_Success(t *testing.T) {
	a := setupTest(t)
	ctx := context.Background()

	t.Run("it approves sequentially and reports progress", func(t *testing.T) {
		g := newFakeGateway()
		tracker := newTracker(g)

		var steps []int
		var totals []int
		approved, err := tracker.Run(ctx, fakeSigner{owner}, assetsOf(collectionA, collectionB, collectionA), func(message string, index, total int) {
			steps = append(steps, index)
			totals = append(totals, total)
		})

		a.NoError(err)
		a.Equal([]persist.Address{collectionA, collectionB}, approved)
		a.Equal([]persist.Address{collectionA, collectionB}, g.submitted)
		a.Equal(1, g.maxFlight)
		a.Equal([]int{1, 2}, steps)
		a.Equal([]int{2, 2}, totals)
	})

	t.Run("it does nothing when everything is approved", func(t *testing.T) {
		g := newFakeGateway(collectionA)
		approved, err := newTracker(g).Run(ctx, fakeSigner{owner}, assetsOf(collectionA), nil)
		a.NoError(err)
		a.Empty(approved)
		a.Empty(g.submitted)
	})
}

func TestRun_Failure(t *testing.T) {
	a := setupTest(t)

	t.Run("it aborts the plan on the first failure", func(t *testing.T) {
		g := newFakeGateway()
		g.failOn[collectionB] = true

		approved, err := newTracker(g).Run(context.Background(), fakeSigner{owner}, assetsOf(collectionA, collectionB, collectionC), nil)

		var failed ErrApprovalFailed
		a.ErrorAs(err, &failed)
		a.Equal(collectionB, failed.Contract)
		a.Equal(1, failed.Completed)
		a.Equal(3, failed.Total)
		a.Equal([]persist.Address{collectionA}, approved)
		a.Equal([]persist.Address{collectionA, collectionB}, g.submitted)
		a.True(g.approved[collectionA])
		a.True(errors.As(err, &escrow.ErrReverted{}))
	})

	t.Run("it gives up waiting on a stuck approval and reports its hash", func(t *testing.T) {
		g := newFakeGateway()
		g.stallOn[collectionB] = true
		tracker := NewTracker(g, nil, metrics.NewMetrics("test", prometheus.NewRegistry()), 50*time.Millisecond)

		done := make(chan error, 1)
		go func() {
			_, err := tracker.Run(context.Background(), fakeSigner{owner}, assetsOf(collectionA, collectionB, collectionC), nil)
			done <- err
		}()

		select {
		case err := <-done:
			var unknown ErrConfirmationUnknown
			a.ErrorAs(err, &unknown)
			a.Equal(collectionB, unknown.Contract)
			a.NotEmpty(unknown.TxHash)
			a.False(errors.As(err, &escrow.ErrReverted{}))
			a.Equal([]persist.Address{collectionA, collectionB}, g.submitted)
		case <-time.After(2 * time.Second):
			a.Fail("approval run did not time out")
		}
	})
}

func setupTest(t *testing.T) *assert.Assertions {
	return assert.New(t)
}
