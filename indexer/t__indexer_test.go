package indexer

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/SplitFi/go-barter/contracts"
	"github.com/SplitFi/go-barter/service/metrics"
	"github.com/SplitFi/go-barter/service/persist"
)

var (
	escrowAddress = persist.NewAddress("0x00000000000000000000000000000000000e5c70")
	creator       = persist.NewAddress("0x000000000000000000000000000000000000a11c")
	counterparty  = persist.NewAddress("0x0000000000000000000000000000000000000b0b")
)

type fakeBackend struct {
	logs    []types.Log
	head    uint64
	queries []ethereum.FilterQuery
}

func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.queries = append(f.queries, q)
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeBackend) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	panic("not used")
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, nil
}

type memoryRepo struct {
	persist.TradeRepository
	byChainID map[persist.ChainTradeID]persist.TradeRecord
}

func (m *memoryRepo) GetByChainTradeID(ctx context.Context, id persist.ChainTradeID) (persist.TradeRecord, error) {
	rec, ok := m.byChainID[id]
	if !ok {
		return persist.TradeRecord{}, persist.ErrTradeNotFoundByChainID{ChainTradeID: id}
	}
	return rec, nil
}

type fakeReconciler struct {
	repair map[persist.DBID]bool
	seen   []persist.DBID
}

func (f *fakeReconciler) Reconcile(ctx context.Context, rec persist.TradeRecord) (persist.TradeRecord, bool, error) {
	f.seen = append(f.seen, rec.ID)
	return rec, f.repair[rec.ID], nil
}

func createdLog(emitter persist.Address, id persist.ChainTradeID, block uint64) types.Log {
	return types.Log{
		Address: emitter.Address(),
		Topics: []common.Hash{
			contracts.TradeCreatedTopic(),
			common.BigToHash(new(big.Int).SetUint64(uint64(id))),
			common.BytesToHash(creator.Address().Bytes()),
			common.BytesToHash(counterparty.Address().Bytes()),
		},
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(int64(block))),
	}
}

func TestScan(t *testing.T) {
	a := setupTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stranger := persist.NewAddress("0x000000000000000000000000000000000000dead")
	backend := &fakeBackend{
		head: 5000,
		logs: []types.Log{
			createdLog(escrowAddress, 1, 10),
			createdLog(escrowAddress, 2, 2500),
			createdLog(stranger, 3, 2600),
			createdLog(escrowAddress, 4, 4999),
		},
	}
	repo := &memoryRepo{byChainID: map[persist.ChainTradeID]persist.TradeRecord{
		1: {ID: "one", Status: persist.TradeStatusPending},
		4: {ID: "four", Status: persist.TradeStatusPending},
	}}
	reconciler := &fakeReconciler{repair: map[persist.DBID]bool{"four": true}}
	m := metrics.NewMetrics("test", prometheus.NewRegistry())

	scanner := NewScanner(backend, escrowAddress, repo, reconciler, m)

	t.Run("it scans up to the head in bounded ranges", func(t *testing.T) {
		result, err := scanner.Scan(ctx, 0, 0)
		a.NoError(err)
		a.Equal(uint64(5000), result.ToBlock)
		a.Len(backend.queries, 3)
		for _, q := range backend.queries {
			a.LessOrEqual(q.ToBlock.Uint64()-q.FromBlock.Uint64()+1, uint64(blocksPerLogsCall))
		}

		a.Equal(3, result.Seen)
		a.Equal(1, result.Repaired)
		a.ElementsMatch([]persist.DBID{"one", "four"}, reconciler.seen)
	})

	t.Run("it reports escrowed trades without a record", func(t *testing.T) {
		result, err := scanner.Scan(ctx, 2000, 3000)
		a.NoError(err)
		a.Len(result.Orphans, 1)
		orphan := result.Orphans[0]
		a.Equal(persist.ChainTradeID(2), orphan.ChainTradeID)
		a.Equal(creator, orphan.Creator)
		a.Equal(counterparty, orphan.Counterparty)
		a.Equal(uint64(2500), orphan.BlockNumber)
	})

	t.Run("it rejects an inverted range", func(t *testing.T) {
		_, err := scanner.Scan(ctx, 10, 5)
		a.Error(err)
	})
}

func setupTest(t *testing.T) *assert.Assertions {
	return assert.New(t)
}
