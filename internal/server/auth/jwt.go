// Package auth issues and verifies the HS256 access tokens of the server.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the registered claims plus the owner id the client stamps on
// its records.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// GenerateToken signs an access token for userID and returns it with its
// expiry.
func GenerateToken(userID string, secretKey []byte, validityDuration time.Duration) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(validityDuration)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		UserID: userID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expires.UTC(), nil
}

// GetUserIDFromToken verifies tokenString and returns its user id. An
// expired token yields common.ErrTokenExpired so clients can refresh.
func GetUserIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", common.ErrInvalidToken
	}

	if !token.Valid || claims.UserID == "" {
		return "", common.ErrInvalidToken
	}

	return claims.UserID, nil
}
