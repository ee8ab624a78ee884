// Package auth issues and validates the signed caller identity tokens
// that query clients present. The token carries a single subsystem
// identifier; role resolution against the registry happens per request.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/meshgate/opmond/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Client string `json:"client"`
	jwt.RegisteredClaims
}

type TokenGenerator struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenGenerator(secret string) *TokenGenerator {
	return &TokenGenerator{
		secret: []byte(secret),
		ttl:    15 * time.Minute,
	}
}

func (tg *TokenGenerator) GenerateCallerToken(caller models.ClientID) (string, error) {
	if err := caller.Validate(); err != nil {
		return "", err
	}

	claims := Claims{
		Client: caller.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tg.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "opmond",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tg.secret)
}

// ValidateCallerToken verifies the signature and expiry and returns the
// caller identity carried by the token.
func (tg *TokenGenerator) ValidateCallerToken(tokenString string) (models.ClientID, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return tg.secret, nil
	})
	if err != nil {
		return models.ClientID{}, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return models.ClientID{}, ErrInvalidToken
	}

	caller, err := models.ParseClientID(claims.Client)
	if err != nil {
		return models.ClientID{}, ErrInvalidToken
	}
	return caller, nil
}
