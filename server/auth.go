package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SplitFi/go-barter/service/auth"
	"github.com/SplitFi/go-barter/service/persist"
	"github.com/SplitFi/go-barter/util"
)

type getAuthNonceInput struct {
	Address persist.Address `form:"address" binding:"required,eth_addr"`
}

type getAuthNonceOutput struct {
	Message string `json:"message"`
}

type loginInput struct {
	Address   persist.Address `json:"address" binding:"required,eth_addr"`
	Signature string          `json:"signature" binding:"required"`
}

type loginOutput struct {
	Token string      `json:"token"`
	Roles []auth.Role `json:"roles"`
}

func getAuthNonce(nonces auth.NonceStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input getAuthNonceInput
		if err := c.ShouldBindQuery(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		message, err := auth.GetAuthNonce(c, nonces, persist.NewAddress(input.Address.String()))
		if err != nil {
			util.ErrResponse(c, http.StatusInternalServerError, err)
			return
		}

		c.JSON(http.StatusOK, getAuthNonceOutput{Message: message})
	}
}

func login(nonces auth.NonceStore, admins *auth.Admins) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input loginInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		token, roles, err := auth.Login(c, nonces, admins, persist.NewAddress(input.Address.String()), input.Signature)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, auth.ErrNonceNotFound) || errors.Is(err, auth.ErrAddressSignatureMismatch) || errors.Is(err, auth.ErrSignatureInvalid) {
				status = http.StatusUnauthorized
			}
			util.ErrResponse(c, status, err)
			return
		}

		c.JSON(http.StatusOK, loginOutput{Token: token, Roles: roles})
	}
}
