package services

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alphabatem/common/context"
)

// JWTService verifies bearer tokens minted by the external auth provider.
// This service never issues login tokens itself; identity arrives signed.
type JWTService struct {
	context.DefaultService

	jwtSecretKey string
}

// SessionClaims is the identity contract with the auth provider: a session
// id always, a user id only for authenticated traffic.
type SessionClaims struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

const JWT_SVC = "jwt_svc"

func (svc JWTService) Id() string {
	return JWT_SVC
}

func (svc *JWTService) Configure(ctx *context.Context) error {
	svc.jwtSecretKey = os.Getenv("JWT_OAUTH_SECRET")
	return svc.DefaultService.Configure(ctx)
}

func (svc *JWTService) Start() error {
	return nil
}

func (svc *JWTService) ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}

func (svc *JWTService) VerifySessionToken(jwtToken string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(jwtToken, &SessionClaims{}, svc.getJWTKey)
	if err != nil || !token.Valid {
		return nil, errors.New("unsupported JWT format")
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || claims == nil {
		return nil, errors.New("unsupported JWT format")
	}

	expTime, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("failed to get expiration time: %v", err)
	}
	if expTime != nil && expTime.Unix() < time.Now().Unix() {
		return nil, errors.New("token has expired")
	}

	if claims.SessionID == "" {
		return nil, errors.New("token carries no session id")
	}

	return claims, nil
}

func (svc *JWTService) getJWTKey(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	return []byte(svc.jwtSecretKey), nil
}
