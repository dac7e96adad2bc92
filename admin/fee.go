package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-barter/service/auth"
	"github.com/SplitFi/go-barter/service/logger"
	"github.com/SplitFi/go-barter/service/persist"
	"github.com/SplitFi/go-barter/service/signer"
	"github.com/SplitFi/go-barter/util"
)

type feeOutput struct {
	Wei   string `json:"wei"`
	Ether string `json:"ether"`
}

type setFeeInput struct {
	// Ether is a decimal amount of the native coin, e.g. "0.01"
	Ether string `json:"ether" binding:"required"`
}

type setFeeOutput struct {
	feeOutput
	TransactionHash persist.TxHash `json:"transaction_hash"`
}

func getFee(fees FeeGateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		fee, err := fees.ProtocolFee(c)
		if err != nil {
			util.ErrResponse(c, http.StatusServiceUnavailable, err)
			return
		}
		c.JSON(http.StatusOK, feeOutput{Wei: fee.String(), Ether: persist.FormatEther(fee)})
	}
}

func setFee(fees FeeGateway, queue *signer.Queue, operator signer.Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input setFeeInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		fee, err := persist.ParseEther(input.Ether)
		if err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		var hash persist.TxHash
		err = queue.Do(c, operator.Address(), func(ctx context.Context) error {
			h, err := fees.SetProtocolFee(ctx, operator, fee)
			if err != nil {
				return err
			}
			hash = h
			_, err = fees.WaitConfirmed(ctx, h)
			return err
		})
		if err != nil {
			logger.For(c).WithError(err).WithFields(logrus.Fields{"txHash": hash}).Error("failed to set protocol fee")
			util.ErrResponse(c, http.StatusBadGateway, err)
			return
		}

		logger.For(c).WithFields(logrus.Fields{
			"fee":   fee.String(),
			"admin": auth.GetAddressFromCtx(c),
		}).Info("protocol fee updated")

		c.JSON(http.StatusOK, setFeeOutput{
			feeOutput:       feeOutput{Wei: fee.String(), Ether: persist.FormatEther(fee)},
			TransactionHash: hash,
		})
	}
}
