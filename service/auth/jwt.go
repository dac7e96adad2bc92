package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/SplitFi/go-barter/env"
	"github.com/SplitFi/go-barter/service/persist"
)

const defaultAuthTTL = 24 * time.Hour

type TokenType string

const (
	TokenTypeAuth TokenType = "auth"
)

type BarterClaims struct {
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

type AuthTokenClaims struct {
	Address persist.Address `json:"address"`
	Roles   []Role          `json:"roles"`
	BarterClaims
}

// HasRole reports whether the token was issued with role
func (c AuthTokenClaims) HasRole(role Role) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func GenerateAuthToken(ctx context.Context, address persist.Address, roles []Role) (string, error) {
	secret := env.GetString("AUTH_JWT_SECRET")
	validFor := time.Duration(env.GetInt64("AUTH_JWT_TTL")) * time.Second
	if validFor <= 0 {
		validFor = defaultAuthTTL
	}

	claims := AuthTokenClaims{
		Address:      address,
		Roles:        roles,
		BarterClaims: newBarterClaims(TokenTypeAuth, validFor),
	}

	return generateJWT(claims, secret)
}

func ParseAuthToken(ctx context.Context, token string) (AuthTokenClaims, error) {
	claims := AuthTokenClaims{}
	parsedToken, err := jwt.ParseWithClaims(token, &claims, keyFunc(env.GetString("AUTH_JWT_SECRET")))

	if err != nil || !parsedToken.Valid || claims.TokenType != TokenTypeAuth {
		return AuthTokenClaims{}, ErrInvalidJWT
	}

	return claims, nil
}

func newBarterClaims(tokenType TokenType, validFor time.Duration) BarterClaims {
	claims := BarterClaims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validFor)),
			Issuer:    "barter",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	return claims
}

func generateJWT(claims jwt.Claims, jwtSecret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	jwtToken, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return "", err
	}

	return jwtToken, nil
}

func keyFunc(secret string) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidJWT
		}
		return []byte(secret), nil
	}
}
