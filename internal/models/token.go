package models

import (
	"time"
)

const (
	ScopeAccessToken  = "access_token"
	ScopeRefreshToken = "refresh_token"

	TokenTypeBearer = "bearer"
)

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issues by TokenManager, AuthService
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}
