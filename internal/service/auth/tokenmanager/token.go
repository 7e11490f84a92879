package tokenmanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/mycontacts/internal/models"
)

const (
	defaultSigningMethod    = "HS256"
	defaultAccessTokenTTL   = 20 * time.Minute
	defaultRefreshTokenTTL  = 5 * 24 * time.Hour
	defaultConfirmEmailTTL  = 5 * 24 * time.Hour
	defaultPasswordResetTTL = 10 * time.Minute
)

// Token manager with sensible default
type Config struct {
	// Secret key to sign tokens
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Token lifetimes
	// If not set than default is used
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	ConfirmEmailTTL  time.Duration
	PasswordResetTTL time.Duration

	// Clock. time.Now if not set
	Now func() time.Time
}

// TokenManager issues access, refresh and purpose tokens and decodes them back
// It holds configuration only, no token is stored here
type TokenManager struct {
	codec *Codec
	now   func() time.Time

	accessTTL        time.Duration
	refreshTTL       time.Duration
	confirmEmailTTL  time.Duration
	passwordResetTTL time.Duration
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field <= 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)
	setDefaultDuration(&cfg.ConfirmEmailTTL, defaultConfirmEmailTTL)
	setDefaultDuration(&cfg.PasswordResetTTL, defaultPasswordResetTTL)

	codec, err := NewCodec(cfg.SecretKey, cfg.Alg, cfg.Now)
	if err != nil {
		return nil, fmt.Errorf("error while creating token codec. Err: %w", err)
	}

	return &TokenManager{
		codec:            codec,
		now:              cfg.Now,
		accessTTL:        cfg.AccessTTL,
		refreshTTL:       cfg.RefreshTTL,
		confirmEmailTTL:  cfg.ConfirmEmailTTL,
		passwordResetTTL: cfg.PasswordResetTTL,
	}, nil
}

// Access token with 'access_token' scope
func (m *TokenManager) IssueAccess(email string) (models.IssuedToken, error) {
	return m.issue(email, models.ScopeAccessToken, m.accessTTL)
}

// Refresh token with 'refresh_token' scope
func (m *TokenManager) IssueRefresh(email string) (models.IssuedToken, error) {
	return m.issue(email, models.ScopeRefreshToken, m.refreshTTL)
}

// Purpose token without scope. Non positive ttl means email confirmation ttl
func (m *TokenManager) IssuePurpose(email string, ttl time.Duration) (models.IssuedToken, error) {
	if ttl <= 0 {
		ttl = m.confirmEmailTTL
	}
	return m.issue(email, "", ttl)
}

func (m *TokenManager) IssuePair(email string) (models.TokenPair, error) {
	var pair models.TokenPair

	access, err := m.IssueAccess(email)
	if err != nil {
		return pair, err
	}

	refresh, err := m.IssueRefresh(email)
	if err != nil {
		return pair, err
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

func (m *TokenManager) Decode(token string) (Claims, error) {
	return m.codec.Decode(token)
}

func (m *TokenManager) ConfirmEmailTTL() time.Duration {
	return m.confirmEmailTTL
}

func (m *TokenManager) PasswordResetTTL() time.Duration {
	return m.passwordResetTTL
}

func (m *TokenManager) issue(email string, scope string, ttl time.Duration) (models.IssuedToken, error) {
	// JWT NumericDate keeps seconds only
	now := m.now().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	value, err := m.codec.Encode(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			// jti makes tokens issued in the same second different
			ID:        uuid.NewString(),
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Scope: scope,
	})
	if err != nil {
		return models.IssuedToken{}, err
	}

	return models.IssuedToken{Value: value, ExpiresAt: expiresAt}, nil
}
