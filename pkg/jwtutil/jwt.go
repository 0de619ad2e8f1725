package jwtutil

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/writerrose28/ReDerma/pkg/config"
)

var (
	// ErrTokenExpired is returned when a token's expiry has passed
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for any other verification failure
	ErrTokenInvalid = errors.New("invalid token")
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims represents the JWT claims carried by both token kinds. TokenType
// distinguishes access from refresh tokens so one can never stand in for
// the other even if the signing keys are configured identically.
type Claims struct {
	Email     string `json:"email"`
	AccountID uint   `json:"account_id"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// JWTUtil issues and verifies the access/refresh token pair
type JWTUtil struct {
	config *config.JWTConfig
}

// New creates a new JWT utility with the given configuration
func New(cfg *config.JWTConfig) *JWTUtil {
	return &JWTUtil{config: cfg}
}

// TokenPair holds a freshly issued access and refresh token
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// IssuePair creates a new access/refresh token pair for the account
func (j *JWTUtil) IssuePair(accountID uint, email string) (*TokenPair, error) {
	access, err := j.sign(accountID, email, tokenTypeAccess, j.config.AccessKey, j.config.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := j.sign(accountID, email, tokenTypeRefresh, j.config.RefreshKey, j.config.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess validates an access token and returns its claims
func (j *JWTUtil) VerifyAccess(tokenString string) (*Claims, error) {
	return j.verify(tokenString, tokenTypeAccess, j.config.AccessKey)
}

// VerifyRefresh validates a refresh token and returns its claims
func (j *JWTUtil) VerifyRefresh(tokenString string) (*Claims, error) {
	return j.verify(tokenString, tokenTypeRefresh, j.config.RefreshKey)
}

// Renew validates a refresh token and rotates the full pair
func (j *JWTUtil) Renew(refreshToken string) (*TokenPair, error) {
	claims, err := j.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	return j.IssuePair(claims.AccountID, claims.Email)
}

func (j *JWTUtil) sign(accountID uint, email, tokenType, key string, ttl time.Duration) (string, error) {
	if j.config == nil {
		return "", errors.New("JWT configuration not provided")
	}

	claims := Claims{
		Email:     email,
		AccountID: accountID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(key))
}

func (j *JWTUtil) verify(tokenString, wantType, key string) (*Claims, error) {
	if j.config == nil {
		return nil, errors.New("JWT configuration not provided")
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			// Validate the signing method
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(key), nil
		},
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.TokenType != wantType {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
