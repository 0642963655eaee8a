package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer   = "teamgate"
	tokenTTL = 24 * time.Hour
)

var ErrInvalidToken = errors.New("invalid token")

// Claims scopes a bearer token to one team.
type Claims struct {
	TeamID string `json:"team_id"`
	APIKey string `json:"api_key"`
	jwt.RegisteredClaims
}

func GenerateToken(teamID, apiKey, secret string) (string, error) {
	now := time.Now()
	claims := &Claims{
		TeamID: teamID,
		APIKey: apiKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   teamID,
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ValidateToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.TeamID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
