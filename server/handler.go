package server

import (
	"github.com/gin-gonic/gin"

	"github.com/SplitFi/go-barter/admin"
	"github.com/SplitFi/go-barter/middleware"
	"github.com/SplitFi/go-barter/service/auth"
	"github.com/SplitFi/go-barter/service/metrics"
	"github.com/SplitFi/go-barter/util"
)

type handlerDeps struct {
	trades    tradeService
	nonces    auth.NonceStore
	admins    *auth.Admins
	shareBase string
	admin     admin.Dependencies
}

func handlersInit(router *gin.Engine, d handlerDeps) *gin.Engine {
	router.GET("/alive", util.HealthCheckHandler())
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	authGroup := router.Group("/auth")
	authGroup.GET("/nonce", getAuthNonce(d.nonces))
	authGroup.POST("/login", login(d.nonces, d.admins))

	trades := router.Group("/trades", middleware.AuthOptional())
	trades.GET("", listTrades(d.trades, d.shareBase))
	trades.GET("/:id", getTrade(d.trades, d.shareBase))
	trades.POST("/:id/reconcile", reconcileTrade(d.trades, d.shareBase))
	trades.POST("/recover", middleware.AuthRequired(), recoverTrade(d.trades))
	trades.POST("/recover/materialize", middleware.AuthRequired(), materializeTrade(d.trades, d.shareBase))

	adminGroup := router.Group("/admin", middleware.AuthRequired(), middleware.AdminRequired(d.admins))
	admin.HandlersInit(adminGroup, d.admin)

	return router
}
