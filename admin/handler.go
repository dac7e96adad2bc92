package admin

import (
	"github.com/gin-gonic/gin"
)

// HandlersInit registers the administrative routes on api. Callers must already have passed
// middleware.AdminRequired.
func HandlersInit(api *gin.RouterGroup, d Dependencies) *gin.RouterGroup {
	trades := api.Group("/trades")
	trades.GET("", listTrades(d.Trades))
	trades.POST("/:id/cancel", forceCancel(d.Coordinator, d.Operator))

	fee := api.Group("/fee")
	fee.GET("", getFee(d.Fees))
	fee.POST("", setFee(d.Fees, d.Queue, d.Operator))

	admins := api.Group("/admins")
	admins.GET("", listAdmins(d.Admins))
	admins.POST("", addAdmin(d.Admins))
	admins.DELETE("/:address", removeAdmin(d.Admins))

	api.POST("/sweep", sweep(d.Coordinator, d.Operator))

	return api
}
