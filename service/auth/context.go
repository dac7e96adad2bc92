package auth

import (
	"errors"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"

	"github.com/SplitFi/go-barter/service/persist"
)

const (
	addressContextKey = "auth.address"
	rolesContextKey   = "auth.roles"
	authErrContextKey = "auth.auth_error"
)

// ErrNotAuthenticated is returned when a request carries no valid token
var ErrNotAuthenticated = errors.New("not authenticated")

// SetAuthStateForCtx stores the result of authenticating a request
func SetAuthStateForCtx(c *gin.Context, claims AuthTokenClaims, err error) {
	if err != nil {
		c.Set(authErrContextKey, err)
		return
	}
	c.Set(addressContextKey, persist.NewAddress(claims.Address.String()))
	c.Set(rolesContextKey, claims.Roles)
}

// GetAuthErrorFromCtx returns the error of authenticating the request, if any
func GetAuthErrorFromCtx(c *gin.Context) error {
	if err, ok := c.Value(authErrContextKey).(error); ok {
		return err
	}
	if _, ok := c.Value(addressContextKey).(persist.Address); !ok {
		return ErrNotAuthenticated
	}
	return nil
}

// GetAddressFromCtx returns the authenticated address of the request
func GetAddressFromCtx(c *gin.Context) persist.Address {
	addr, _ := c.Value(addressContextKey).(persist.Address)
	return addr
}

// GetRolesFromCtx returns the roles of the authenticated address
func GetRolesFromCtx(c *gin.Context) []Role {
	roles, _ := c.Value(rolesContextKey).([]Role)
	return roles
}

// SetAuthContext tags the sentry scope with the authenticated address
func SetAuthContext(scope *sentry.Scope, c *gin.Context) {
	if addr := GetAddressFromCtx(c); addr != "" {
		scope.SetUser(sentry.User{ID: addr.String()})
	}
}
