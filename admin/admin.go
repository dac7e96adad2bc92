package admin

import (
	"context"
	"errors"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SplitFi/go-barter/service/auth"
	"github.com/SplitFi/go-barter/service/escrow"
	"github.com/SplitFi/go-barter/service/persist"
	"github.com/SplitFi/go-barter/service/signer"
	"github.com/SplitFi/go-barter/service/trade"
	"github.com/SplitFi/go-barter/util"
)

// Coordinator is the part of the trade coordinator used by admins
type Coordinator interface {
	AdminForceCancel(ctx context.Context, s signer.Signer, id persist.DBID) (persist.TradeRecord, error)
	SweepExpired(ctx context.Context, s signer.Signer, limit int64) (trade.SweepResult, error)
}

// FeeGateway reads and sets the protocol fee of the escrow contract
type FeeGateway interface {
	ProtocolFee(ctx context.Context) (*big.Int, error)
	SetProtocolFee(ctx context.Context, s signer.Signer, fee *big.Int) (persist.TxHash, error)
	WaitConfirmed(ctx context.Context, hash persist.TxHash) (escrow.Receipt, error)
}

// Dependencies of the admin routes. Operator signs every chain write issued from here.
type Dependencies struct {
	Trades      persist.TradeRepository
	Coordinator Coordinator
	Fees        FeeGateway
	Admins      *auth.Admins
	Operator    signer.Signer
	Queue       *signer.Queue
}

// errResponse maps err onto a status code and renders it with a message fit for end users
func errResponse(c *gin.Context, err error) {
	util.ErrResponseWithMessage(c, statusOf(err), err, trade.UserMessage(err))
}

func statusOf(err error) int {
	var rejected trade.ErrRejected
	var notFound persist.ErrTradeNotFound
	var adminNotFound persist.ErrAdminNotFound
	var tooMany auth.ErrTooManyAdmins
	var ambiguous trade.ErrAmbiguousOutcome
	var inconsistent trade.ErrInconsistent
	var unverified trade.ErrUnverified

	switch {
	case errors.Is(err, auth.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrCannotRemoveOwner):
		return http.StatusBadRequest
	case errors.As(err, &tooMany):
		return http.StatusConflict
	case errors.As(err, &notFound), errors.As(err, &adminNotFound):
		return http.StatusNotFound
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity
	case errors.As(err, &ambiguous), errors.As(err, &inconsistent), errors.As(err, &unverified):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
