package utils

import (
	stderrors "errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/wfunc/latchctl/internal/errors"
)

// tokenIssuer 令牌签发方
const tokenIssuer = "latchctl"

// ControlClaims 控制接口令牌
type ControlClaims struct {
	Scope string `json:"scope"` // control / read
	jwt.RegisteredClaims
}

// TokenManager 签发和校验控制接口令牌
type TokenManager struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewTokenManager 创建令牌管理器
func NewTokenManager(secret string, expiry time.Duration) *TokenManager {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &TokenManager{
		secret: []byte(secret),
		expiry: expiry,
		now:    time.Now,
	}
}

// Issue 签发令牌，subject 一般为操作员名或客户端地址
func (m *TokenManager) Issue(subject, scope string) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.expiry)

	claims := &ControlClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, errors.ErrUnknown, "签发令牌失败")
	}
	return signed, expiresAt, nil
}

// Validate 校验令牌
func (m *TokenManager) Validate(tokenString string) (*ControlClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ControlClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, stderrors.New("unexpected signing method")
		}
		return m.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.New(errors.ErrTokenExpired)
		}
		return nil, errors.Wrap(err, errors.ErrTokenInvalid)
	}

	claims, ok := token.Claims.(*ControlClaims)
	if !ok || !token.Valid {
		return nil, errors.New(errors.ErrTokenInvalid)
	}
	return claims, nil
}

// Expiry 令牌有效期
func (m *TokenManager) Expiry() time.Duration {
	return m.expiry
}
