// Package indexer scans the escrow contract's TradeCreated logs and checks each chain trade
// against the trade store. Trades without a record are reported as orphans, and records that
// disagree with a settled chain trade are reconciled.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-barter/contracts"
	"github.com/SplitFi/go-barter/service/logger"
	"github.com/SplitFi/go-barter/service/metrics"
	"github.com/SplitFi/go-barter/service/persist"
	"github.com/SplitFi/go-barter/service/rpc"
	"github.com/SplitFi/go-barter/util"
)

const blocksPerLogsCall = 2000

// Backend is the read path of a node needed to scan logs
type Backend interface {
	ethereum.LogFilterer
	rpc.ReadBackend
}

// Reconciler repairs a record from its chain trade
type Reconciler interface {
	Reconcile(ctx context.Context, rec persist.TradeRecord) (persist.TradeRecord, bool, error)
}

// Orphan is a chain trade with no trade record. TxHash is what a participant submits to recover it.
type Orphan struct {
	ChainTradeID persist.ChainTradeID `json:"chain_trade_id"`
	Creator      persist.Address      `json:"creator"`
	Counterparty persist.Address      `json:"counterparty"`
	TxHash       persist.TxHash       `json:"transaction_hash"`
	BlockNumber  uint64               `json:"block_number"`
}

// ScanResult summarizes a scan
type ScanResult struct {
	FromBlock uint64   `json:"from_block"`
	ToBlock   uint64   `json:"to_block"`
	Seen      int      `json:"seen"`
	Repaired  int      `json:"repaired"`
	Orphans   []Orphan `json:"orphans"`
	Failed    []string `json:"failed"`
}

// Scanner walks escrow logs in fixed block ranges
type Scanner struct {
	backend    Backend
	reader     *rpc.Reader
	escrow     common.Address
	repo       persist.TradeRepository
	reconciler Reconciler
	metrics    *metrics.Metrics
	chunk      uint64
}

// NewScanner returns a scanner over the logs emitted by escrowAddress
func NewScanner(backend Backend, escrowAddress persist.Address, repo persist.TradeRepository, reconciler Reconciler, m *metrics.Metrics) *Scanner {
	return &Scanner{
		backend:    backend,
		reader:     rpc.NewReader(backend),
		escrow:     escrowAddress.Address(),
		repo:       repo,
		reconciler: reconciler,
		metrics:    m,
		chunk:      blocksPerLogsCall,
	}
}

// Scan checks every trade created between from and to, inclusive. A to of zero scans up to the
// current head.
func (s *Scanner) Scan(ctx context.Context, from, to uint64) (ScanResult, error) {
	defer util.Track(ctx, "escrow scan", time.Now())

	if to == 0 {
		head, err := s.reader.BlockNumber(ctx)
		if err != nil {
			return ScanResult{}, err
		}
		to = head
	}
	if from > to {
		return ScanResult{}, fmt.Errorf("from block %d is after to block %d", from, to)
	}

	result := ScanResult{FromBlock: from, ToBlock: to, Orphans: []Orphan{}, Failed: []string{}}
	for start := from; start <= to; start += s.chunk {
		end := start + s.chunk - 1
		if end > to {
			end = to
		}

		logs, err := s.fetchLogs(ctx, start, end)
		if err != nil {
			return result, err
		}
		for _, l := range logs {
			s.processLog(ctx, l, &result)
		}
		if end == to {
			break
		}
	}

	logger.For(ctx).WithFields(logrus.Fields{
		"fromBlock": from,
		"toBlock":   to,
		"seen":      result.Seen,
		"repaired":  result.Repaired,
		"orphans":   len(result.Orphans),
		"failed":    len(result.Failed),
	}).Info("finished escrow scan")
	return result, nil
}

func (s *Scanner) fetchLogs(ctx context.Context, start, end uint64) ([]types.Log, error) {
	var logs []types.Log
	err := s.reader.Do(ctx, func(ctx context.Context) error {
		var err error
		logs, err = s.backend.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{s.escrow},
			Topics:    [][]common.Hash{{contracts.TradeCreatedTopic()}},
		})
		return err
	})
	if err != nil {
		logger.For(ctx).WithError(err).WithFields(logrus.Fields{
			"fromBlock": start,
			"toBlock":   end,
			"rpcCall":   "eth_getLogs",
		}).Error("failed to fetch logs")
		return nil, err
	}
	logger.For(ctx).Debugf("found %d logs from block %d to %d", len(logs), start, end)
	return logs, nil
}

func (s *Scanner) processLog(ctx context.Context, l types.Log, result *ScanResult) {
	// Nodes may return logs of other emitters when the address filter is ignored
	if l.Address != s.escrow || l.Removed {
		return
	}
	event, err := contracts.ParseTradeCreated(l)
	if err != nil {
		return
	}
	result.Seen++

	id := persist.ChainTradeID(event.TradeId.Uint64())
	rec, err := s.repo.GetByChainTradeID(ctx, id)
	if errors.As(err, &persist.ErrTradeNotFoundByChainID{}) {
		orphan := Orphan{
			ChainTradeID: id,
			Creator:      persist.AddressFrom(event.Creator),
			Counterparty: persist.AddressFrom(event.Counterparty),
			TxHash:       persist.TxHash(l.TxHash.Hex()),
			BlockNumber:  l.BlockNumber,
		}
		logger.For(ctx).WithFields(logrus.Fields{
			"chainTradeID": id,
			"txHash":       orphan.TxHash,
			"creator":      orphan.Creator,
		}).Warn("found escrowed trade without a record")
		if s.metrics != nil {
			s.metrics.OrphansFound.Inc()
		}
		result.Orphans = append(result.Orphans, orphan)
		return
	}
	if err != nil {
		result.Failed = append(result.Failed, fmt.Sprintf("chain trade %d: %s", id, err))
		return
	}

	if _, changed, err := s.reconciler.Reconcile(ctx, rec); err != nil {
		result.Failed = append(result.Failed, fmt.Sprintf("trade %s: %s", rec.ID, err))
	} else if changed {
		result.Repaired++
	}
}
