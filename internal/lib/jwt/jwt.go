package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// NewToken issues an HS256 token for subject, accepted by the API's bearer
// auth middleware.
func NewToken(subject string, duration time.Duration, secret string) (string, error) {
	token := jwt.New(jwt.SigningMethodHS256)

	claims := token.Claims.(jwt.MapClaims)
	claims["sub"] = subject
	claims["exp"] = time.Now().Add(duration).Unix()

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}
