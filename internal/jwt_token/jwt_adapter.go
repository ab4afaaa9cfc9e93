package jwttoken

import (
	"titledeed/internal/platform/middleware"
)

func ToMiddlewareClaims(claims *OperatorClaims) *middleware.JWTClaims {
	return &middleware.JWTClaims{
		Subject: claims.Subject,
		Roles:   claims.Roles,
		JTI:     claims.ID,
	}
}

// JWTServiceAdapter lets JWTService satisfy middleware.JWTValidator.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims), nil
}
