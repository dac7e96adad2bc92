package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-barter/env"
	"github.com/SplitFi/go-barter/service/auth"
	"github.com/SplitFi/go-barter/service/logger"
	"github.com/SplitFi/go-barter/service/persist"
	sentryutil "github.com/SplitFi/go-barter/service/sentry"
	"github.com/SplitFi/go-barter/util"
)

var errNotAdmin = errors.New("admin access required")

// AdminChecker reports whether an address may use the admin routes
type AdminChecker interface {
	IsAdmin(context.Context, persist.Address) (bool, error)
}

// AuthOptional parses the bearer token of the request, if any, and stores the result
func AuthOptional() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			auth.SetAuthStateForCtx(c, auth.AuthTokenClaims{}, auth.ErrNotAuthenticated)
			c.Next()
			return
		}
		claims, err := auth.ParseAuthToken(c, token)
		auth.SetAuthStateForCtx(c, claims, err)
		if err == nil {
			setRequestLogger(c, logrus.Fields{"address": claims.Address})
		}
		c.Next()
	}
}

// AuthRequired rejects requests without a valid bearer token
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			util.ErrResponse(c, http.StatusUnauthorized, auth.ErrNotAuthenticated)
			c.Abort()
			return
		}
		claims, err := auth.ParseAuthToken(c, token)
		if err != nil {
			util.ErrResponse(c, http.StatusUnauthorized, err)
			c.Abort()
			return
		}
		auth.SetAuthStateForCtx(c, claims, nil)
		setRequestLogger(c, logrus.Fields{"address": claims.Address})
		c.Next()
	}
}

// AdminRequired rejects requests whose caller is not an admin. Membership is checked against the
// allow-list on every request so removals apply before the token expires.
func AdminRequired(admins AdminChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.GetAuthErrorFromCtx(c); err != nil {
			util.ErrResponse(c, http.StatusUnauthorized, err)
			c.Abort()
			return
		}
		ok, err := admins.IsAdmin(c, auth.GetAddressFromCtx(c))
		if err != nil {
			util.ErrResponse(c, http.StatusInternalServerError, err)
			c.Abort()
			return
		}
		if !ok {
			util.ErrResponse(c, http.StatusForbidden, errNotAdmin)
			c.Abort()
			return
		}
		c.Next()
	}
}

// GinContextToContext makes the request context carry the logger and sentry hub of the request
func GinContextToContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := sentryutil.NewSentryHubContext(c.Request.Context())
		ctx = logger.NewContextWithFields(ctx, logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Sentry reports panics of handlers
func Sentry(repanic bool) gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{Repanic: repanic, WaitForDelivery: false, Timeout: 2 * time.Second})
}

// HandleCORS sets the CORS headers for allowed origins
func HandleCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestOrigin := c.Request.Header.Get("Origin")

		if IsOriginAllowed(requestOrigin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", requestOrigin)
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, sentry-trace, baggage")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// IsOriginAllowed reports whether requestOrigin is listed in ALLOWED_ORIGINS
func IsOriginAllowed(requestOrigin string) bool {
	if requestOrigin == "" {
		return false
	}
	for _, origin := range strings.Split(env.GetString("ALLOWED_ORIGINS"), ",") {
		if strings.TrimSpace(origin) == requestOrigin {
			return true
		}
	}
	return false
}

// ErrLogger logs errors attached to the request by handlers
func ErrLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		for _, err := range c.Errors {
			logger.For(c.Request.Context()).WithError(err.Err).WithFields(logrus.Fields{
				"status": c.Writer.Status(),
			}).Error("request failed")
		}
	}
}

func setRequestLogger(c *gin.Context, fields logrus.Fields) {
	if hub := sentrygin.GetHubFromContext(c); hub != nil {
		auth.SetAuthContext(hub.Scope(), c)
	}
	c.Request = c.Request.WithContext(logger.NewContextWithFields(c.Request.Context(), fields))
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
