package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SplitFi/go-barter/service/auth"
	"github.com/SplitFi/go-barter/service/persist"
	"github.com/SplitFi/go-barter/service/trade"
	"github.com/SplitFi/go-barter/util"
)

const defaultListLimit = 50

// tradeService is the part of the coordinator exposed to participants
type tradeService interface {
	ReconcileByID(ctx context.Context, id persist.DBID) (persist.TradeRecord, bool, error)
	ListForParticipant(ctx context.Context, address persist.Address, statuses []persist.TradeStatus, limit int64) ([]persist.TradeRecord, trade.BatchResult, error)
	RecoverFromTransaction(ctx context.Context, txHash string, claimant persist.Address) (trade.RecoveredTrade, error)
	MaterializeRecovered(ctx context.Context, txHash string, claimant persist.Address, message *string) (persist.TradeRecord, error)
}

type tradeIDInput struct {
	ID persist.DBID `uri:"id" binding:"required"`
}

type listTradesInput struct {
	Address  persist.Address       `form:"address" binding:"required,eth_addr"`
	Statuses []persist.TradeStatus `form:"status" binding:"omitempty,dive,trade_status"`
	Limit    int64                 `form:"limit" binding:"omitempty,min=1,max=200"`
}

type recoverInput struct {
	TransactionHash string `json:"transaction_hash" binding:"required,tx_hash"`
}

type materializeInput struct {
	TransactionHash string  `json:"transaction_hash" binding:"required,tx_hash"`
	Message         *string `json:"message"`
}

type tradeOutput struct {
	Trade    persist.TradeRecord `json:"trade"`
	ShareURL string              `json:"share_url"`
	// Verified is false when the chain could not be read and the record may be stale
	Verified bool   `json:"verified"`
	Message  string `json:"message,omitempty"`
}

type listTradesOutput struct {
	Trades  []tradeOutput `json:"trades"`
	Message string        `json:"message,omitempty"`
}

type reconcileOutput struct {
	tradeOutput
	Changed bool `json:"changed"`
}

func getTrade(trades tradeService, shareBase string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input tradeIDInput
		if err := c.ShouldBindUri(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		rec, _, err := trades.ReconcileByID(c, input.ID)
		var unverified trade.ErrUnverified
		if err != nil && !errors.As(err, &unverified) {
			errResponse(c, err)
			return
		}

		c.JSON(http.StatusOK, newTradeOutput(rec, shareBase, err))
	}
}

func listTrades(trades tradeService, shareBase string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input listTradesInput
		if err := c.ShouldBindQuery(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}
		if input.Limit == 0 {
			input.Limit = defaultListLimit
		}

		recs, result, err := trades.ListForParticipant(c, persist.NewAddress(input.Address.String()), input.Statuses, input.Limit)
		if err != nil {
			errResponse(c, err)
			return
		}

		failed := make(map[persist.DBID]error, len(result.Failed))
		for _, item := range result.Failed {
			failed[item.TradeID] = item.Err
		}

		out := listTradesOutput{Trades: make([]tradeOutput, len(recs)), Message: trade.UserMessage(result.Err())}
		for i, rec := range recs {
			out.Trades[i] = newTradeOutput(rec, shareBase, failed[rec.ID])
		}

		c.JSON(http.StatusOK, out)
	}
}

func reconcileTrade(trades tradeService, shareBase string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input tradeIDInput
		if err := c.ShouldBindUri(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		rec, changed, err := trades.ReconcileByID(c, input.ID)
		if err != nil {
			errResponse(c, err)
			return
		}

		c.JSON(http.StatusOK, reconcileOutput{tradeOutput: newTradeOutput(rec, shareBase, nil), Changed: changed})
	}
}

func recoverTrade(trades tradeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input recoverInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		recovered, err := trades.RecoverFromTransaction(c, input.TransactionHash, auth.GetAddressFromCtx(c))
		if err != nil {
			errResponse(c, err)
			return
		}

		c.JSON(http.StatusOK, recovered)
	}
}

func materializeTrade(trades tradeService, shareBase string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input materializeInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		rec, err := trades.MaterializeRecovered(c, input.TransactionHash, auth.GetAddressFromCtx(c), input.Message)
		if err != nil {
			errResponse(c, err)
			return
		}

		c.JSON(http.StatusOK, newTradeOutput(rec, shareBase, nil))
	}
}

func newTradeOutput(rec persist.TradeRecord, shareBase string, err error) tradeOutput {
	return tradeOutput{
		Trade:    rec,
		ShareURL: rec.ShareURL(shareBase),
		Verified: err == nil,
		Message:  trade.UserMessage(err),
	}
}

func errResponse(c *gin.Context, err error) {
	util.ErrResponseWithMessage(c, statusOf(err), err, trade.UserMessage(err))
}

func statusOf(err error) int {
	var rejected trade.ErrRejected
	var notFound persist.ErrTradeNotFound
	var notFoundByChain persist.ErrTradeNotFoundByChainID
	var unverified trade.ErrUnverified
	var ambiguous trade.ErrAmbiguousOutcome
	var inconsistent trade.ErrInconsistent

	switch {
	case errors.As(err, &notFound), errors.As(err, &notFoundByChain):
		return http.StatusNotFound
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity
	case errors.As(err, &unverified), errors.As(err, &ambiguous), errors.As(err, &inconsistent):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
