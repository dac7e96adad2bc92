package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SplitFi/go-barter/service/auth"
	"github.com/SplitFi/go-barter/service/persist"
	"github.com/SplitFi/go-barter/util"
)

type listAdminsOutput struct {
	Owner  persist.Address `json:"owner"`
	Admins []persist.Admin `json:"admins"`
	Max    int             `json:"max"`
}

type addAdminInput struct {
	Address persist.Address `json:"address" binding:"required,eth_addr"`
}

type removeAdminInput struct {
	Address persist.Address `uri:"address" binding:"required,eth_addr"`
}

func listAdmins(admins *auth.Admins) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := admins.List(c)
		if err != nil {
			util.ErrResponse(c, http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, listAdminsOutput{Owner: admins.Owner(), Admins: list, Max: auth.MaxAdmins})
	}
}

func addAdmin(admins *auth.Admins) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input addAdminInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		if err := admins.Add(c, auth.GetAddressFromCtx(c), input.Address); err != nil {
			errResponse(c, err)
			return
		}

		c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
	}
}

func removeAdmin(admins *auth.Admins) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input removeAdminInput
		if err := c.ShouldBindUri(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		if err := admins.Remove(c, auth.GetAddressFromCtx(c), input.Address); err != nil {
			errResponse(c, err)
			return
		}

		c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
	}
}
