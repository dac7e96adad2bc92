package trade

import (
	"context"
	"errors"
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-barter/service/escrow"
	"github.com/SplitFi/go-barter/service/logger"
	"github.com/SplitFi/go-barter/service/persist"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// RecoveredTrade is a chain trade found from its creation transaction
type RecoveredTrade struct {
	TxHash     persist.TxHash     `json:"transaction_hash"`
	ChainTrade persist.ChainTrade `json:"chain_trade"`
	CanCancel  bool               `json:"can_cancel"`
	// RecordID is set when a record for the chain trade already exists
	RecordID *persist.DBID `json:"record_id,omitempty"`
}

// IsValidTxHash reports whether s is a 0x prefixed 32 byte hex string
func IsValidTxHash(s string) bool {
	return txHashPattern.MatchString(s)
}

// RecoverFromTransaction finds the chain trade created by txHash. Only TradeCreated events
// emitted by the escrow contract are considered. Nothing is written.
func (c *Coordinator) RecoverFromTransaction(ctx context.Context, txHash string, claimant persist.Address) (RecoveredTrade, error) {
	if !IsValidTxHash(txHash) {
		c.metrics.Recoveries.WithLabelValues("invalid").Inc()
		return RecoveredTrade{}, rejectf("invalid transaction hash %q", txHash)
	}
	hash := persist.TxHash(txHash)
	ctx = logger.NewContextWithFields(ctx, logrus.Fields{"txHash": hash, "claimant": claimant})

	receipt, err := c.gateway.TransactionReceipt(ctx, hash)
	if errors.Is(err, escrow.ErrReceiptNotFound) {
		c.metrics.Recoveries.WithLabelValues("not_found").Inc()
		return RecoveredTrade{}, ErrRejected{Reason: "transaction not found or not yet mined", Err: err}
	}
	if err != nil {
		return RecoveredTrade{}, err
	}
	if !receipt.Succeeded {
		c.metrics.Recoveries.WithLabelValues("reverted").Inc()
		return RecoveredTrade{}, ErrRejected{Reason: "transaction reverted", Err: escrow.ErrReverted{TxHash: hash}}
	}

	chainTradeID, _, ok := escrow.ParseTradeCreated(receipt.Logs, c.gateway.EscrowAddress())
	if !ok {
		c.metrics.Recoveries.WithLabelValues("no_trade").Inc()
		return RecoveredTrade{}, ErrRejected{Reason: "no trade found in transaction", Err: ErrNoTradeInTransaction{TxHash: hash}}
	}

	chainTrade, err := c.gateway.ReadTrade(ctx, chainTradeID)
	if err != nil {
		return RecoveredTrade{}, err
	}

	recovered := RecoveredTrade{
		TxHash:     hash,
		ChainTrade: chainTrade,
		CanCancel:  claimant.Equal(chainTrade.Creator) && chainTrade.State == persist.ChainTradeActive,
	}

	existing, err := c.repo.GetByChainTradeID(ctx, chainTradeID)
	switch {
	case err == nil:
		recovered.RecordID = &existing.ID
	case errors.As(err, &persist.ErrTradeNotFoundByChainID{}):
	default:
		return RecoveredTrade{}, err
	}

	c.metrics.Recoveries.WithLabelValues("found").Inc()
	logger.For(ctx).WithFields(logrus.Fields{
		"chainTradeID": chainTradeID,
		"state":        chainTrade.State,
		"hasRecord":    recovered.RecordID != nil,
	}).Info("recovered chain trade")
	return recovered, nil
}

// MaterializeRecovered writes the missing record of a recovered chain trade. Assets and values are
// taken from the chain, the only surviving description. An existing record is returned as is.
func (c *Coordinator) MaterializeRecovered(ctx context.Context, txHash string, claimant persist.Address, message *string) (persist.TradeRecord, error) {
	recovered, err := c.RecoverFromTransaction(ctx, txHash, claimant)
	if err != nil {
		return persist.TradeRecord{}, err
	}
	if recovered.RecordID != nil {
		return c.repo.GetByID(ctx, *recovered.RecordID)
	}

	chainTrade := recovered.ChainTrade
	if !claimant.Equal(chainTrade.Creator) && !claimant.Equal(chainTrade.Counterparty) {
		return persist.TradeRecord{}, rejectf("only a participant can restore this trade")
	}
	if message != nil && len([]rune(*message)) > persist.MaxTradeMessageLength {
		return persist.TradeRecord{}, rejectf("message is longer than %d characters", persist.MaxTradeMessageLength)
	}

	status := chainTrade.State.RecordStatus()
	resolution := persist.ResolutionNone
	if chainTrade.State.IsTerminal() {
		resolution = persist.ResolutionReconciled
		if chainTrade.State == persist.ChainTradeExpired {
			resolution = persist.ResolutionExpired
		}
	}

	hash := recovered.TxHash
	id, err := c.repo.Create(ctx, persist.TradeRecord{
		ChainTradeID:       &chainTrade.ID,
		Proposer:           chainTrade.Creator,
		Counterparty:       chainTrade.Counterparty,
		OfferedAssets:      chainTrade.Offered,
		RequestedAssets:    chainTrade.Requested,
		OfferedValue:       orZero(chainTrade.OfferedValue),
		RequestedValue:     orZero(chainTrade.RequestedValue),
		Status:             status,
		Resolution:         resolution,
		Message:            message,
		ExpiresAt:          chainTrade.ExpiresAt,
		TransactionHash:    &hash,
		TransactionHistory: []persist.TxHash{hash},
	})
	if err != nil {
		return persist.TradeRecord{}, err
	}

	logger.For(ctx).WithFields(logrus.Fields{"tradeID": id, "chainTradeID": chainTrade.ID}).Info("restored trade record")
	return c.repo.GetByID(ctx, id)
}
