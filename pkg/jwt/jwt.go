package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultSecret = "default-secret-key-change-this-in-production"
	defaultExpiry = 24 * time.Hour
	issuer        = "odometer-backend"
)

var ErrInvalidToken = errors.New("invalid token")

type JWTUtil struct {
	secretKey []byte
	expiry    time.Duration
}

type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// NewJWTUtil builds a signer from the configured secret and expiry string.
// Empty or unparsable values fall back to the development defaults.
func NewJWTUtil(secret, expiry string) *JWTUtil {
	if secret == "" {
		secret = defaultSecret
	}

	d, err := time.ParseDuration(expiry)
	if err != nil || d <= 0 {
		d = defaultExpiry
	}

	return &JWTUtil{
		secretKey: []byte(secret),
		expiry:    d,
	}
}

func (j *JWTUtil) GenerateToken(userID, email string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(j.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secretKey)
}

func (j *JWTUtil) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return j.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	// Trips and vehicles are keyed by user, so a token without one is useless.
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
