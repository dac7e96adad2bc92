package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-barter/service/auth"
	"github.com/SplitFi/go-barter/service/logger"
	"github.com/SplitFi/go-barter/service/persist"
	"github.com/SplitFi/go-barter/service/signer"
	"github.com/SplitFi/go-barter/service/trade"
	"github.com/SplitFi/go-barter/util"
)

const defaultListLimit = 50

type listTradesInput struct {
	Participant persist.Address       `form:"participant" binding:"omitempty,eth_addr"`
	Statuses    []persist.TradeStatus `form:"status" binding:"omitempty,dive,trade_status"`
	OnChainOnly bool                  `form:"on_chain_only"`
	Limit       int64                 `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset      int64                 `form:"offset" binding:"omitempty,min=0"`
}

type listTradesOutput struct {
	Trades []persist.TradeRecord `json:"trades"`
}

type tradeIDInput struct {
	ID persist.DBID `uri:"id" binding:"required"`
}

type tradeOutput struct {
	Trade persist.TradeRecord `json:"trade"`
}

type sweepInput struct {
	Limit int64 `json:"limit" binding:"omitempty,min=1,max=1000"`
}

type sweepOutput struct {
	trade.SweepResult
	Message string `json:"message,omitempty"`
}

func listTrades(tradeRepo persist.TradeRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input listTradesInput
		if err := c.ShouldBindQuery(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		filter := persist.TradeFilter{
			Statuses:    input.Statuses,
			OnChainOnly: input.OnChainOnly,
			Limit:       input.Limit,
			Offset:      input.Offset,
		}
		if filter.Limit == 0 {
			filter.Limit = defaultListLimit
		}
		if input.Participant != "" {
			filter.Participant = util.ToPointer(persist.NewAddress(input.Participant.String()))
		}

		trades, err := tradeRepo.List(c, filter)
		if err != nil {
			util.ErrResponse(c, http.StatusInternalServerError, err)
			return
		}

		c.JSON(http.StatusOK, listTradesOutput{Trades: trades})
	}
}

func forceCancel(coordinator Coordinator, operator signer.Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input tradeIDInput
		if err := c.ShouldBindUri(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		logger.For(c).WithFields(logrus.Fields{
			"tradeID": input.ID,
			"admin":   auth.GetAddressFromCtx(c),
		}).Info("admin force cancelling trade")

		rec, err := coordinator.AdminForceCancel(c, operator, input.ID)
		if err != nil {
			errResponse(c, err)
			return
		}

		c.JSON(http.StatusOK, tradeOutput{Trade: rec})
	}
}

func sweep(coordinator Coordinator, operator signer.Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input sweepInput
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&input); err != nil {
				util.ErrResponse(c, http.StatusBadRequest, err)
				return
			}
		}

		result, err := coordinator.SweepExpired(c, operator, input.Limit)
		if err != nil {
			util.ErrResponse(c, http.StatusInternalServerError, err)
			return
		}

		c.JSON(http.StatusOK, sweepOutput{SweepResult: result, Message: trade.UserMessage(result.Err())})
	}
}
