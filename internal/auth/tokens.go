package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"terminsync/internal/config"
	"terminsync/internal/response"
)

var ErrInvalidToken = errors.New("invalid token")

// Issuer подписывает и проверяет access и refresh токены владельцев.
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewIssuer(cfg config.JWT) *Issuer {
	return &Issuer{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           time.Now,
	}
}

// Pair выдает новую пару токенов для владельца.
func (i *Issuer) Pair(ownerID uint) (response.TokenResponse, error) {
	access, err := i.sign(ownerID, i.accessTTL, i.accessSecret)
	if err != nil {
		return response.TokenResponse{}, err
	}
	refresh, err := i.sign(ownerID, i.refreshTTL, i.refreshSecret)
	if err != nil {
		return response.TokenResponse{}, err
	}
	return response.TokenResponse{AccessToken: access, RefreshToken: refresh}, nil
}

// ParseAccess возвращает id владельца из access токена.
func (i *Issuer) ParseAccess(token string) (uint, error) {
	return i.parse(token, i.accessSecret)
}

// ParseRefresh возвращает id владельца из refresh токена.
func (i *Issuer) ParseRefresh(token string) (uint, error) {
	return i.parse(token, i.refreshSecret)
}

func (i *Issuer) sign(ownerID uint, ttl time.Duration, secret []byte) (string, error) {
	now := i.now()
	claims := jwt.MapClaims{
		"user_id": ownerID,
		"exp":     now.Add(ttl).Unix(),
		"iat":     now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func (i *Issuer) parse(raw string, secret []byte) (uint, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}
	userID, ok := claims["user_id"].(float64)
	if !ok || userID <= 0 {
		return 0, ErrInvalidToken
	}
	return uint(userID), nil
}
