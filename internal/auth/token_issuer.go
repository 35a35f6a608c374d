package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAccessTokenTTL  = 30 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
	errUnexpectedTokenType  = errors.New("unexpected token type")
)

// TokenIssuerConfig configures the backend JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret   []byte
	Issuer          string
	Audience        string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Clock           func() time.Time
}

// TokenPair bundles a freshly issued access/refresh token set.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// AccessClaims carries the validated identity extracted from an access token.
type AccessClaims struct {
	UserID          int64
	ProfileVerified bool
}

type backendClaims struct {
	TokenType       string `json:"typ"`
	ProfileVerified bool   `json:"profile_verified"`
	jwt.RegisteredClaims
}

// TokenIssuer issues backend JWT pairs after Google token verification.
type TokenIssuer struct {
	config TokenIssuerConfig
	clock  func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) *TokenIssuer {
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = defaultAccessTokenTTL
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = defaultRefreshTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cfg.Clock = clock
	return &TokenIssuer{config: cfg, clock: clock}
}

// IssueTokenPair produces signed access and refresh JWTs for the user. The
// access token snapshots the profile-verified flag at issuance; downstream
// gates on profile-dependent features read it from the token.
func (i *TokenIssuer) IssueTokenPair(_ context.Context, userID int64, profileVerified bool) (TokenPair, error) {
	if len(i.config.SigningSecret) == 0 {
		return TokenPair{}, errMissingSigningSecret
	}
	if userID <= 0 {
		return TokenPair{}, errMissingSubjectClaim
	}

	now := i.clock().UTC()

	accessToken, err := i.sign(userID, profileVerified, tokenTypeAccess, now, now.Add(i.config.AccessTokenTTL))
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := i.sign(userID, profileVerified, tokenTypeRefresh, now, now.Add(i.config.RefreshTokenTTL))
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(i.config.AccessTokenTTL.Seconds()),
	}, nil
}

func (i *TokenIssuer) sign(userID int64, profileVerified bool, tokenType string, now, expiresAt time.Time) (string, error) {
	claims := backendClaims{
		TokenType:       tokenType,
		ProfileVerified: profileVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    i.config.Issuer,
			Audience:  []string{i.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.config.SigningSecret)
}

// ValidateAccessToken ensures the access JWT is well formed and returns its claims.
func (i *TokenIssuer) ValidateAccessToken(tokenString string) (AccessClaims, error) {
	return i.validate(tokenString, tokenTypeAccess)
}

// ValidateRefreshToken ensures the refresh JWT is well formed and returns its claims.
func (i *TokenIssuer) ValidateRefreshToken(tokenString string) (AccessClaims, error) {
	return i.validate(tokenString, tokenTypeRefresh)
}

func (i *TokenIssuer) validate(tokenString, expectedType string) (AccessClaims, error) {
	if len(i.config.SigningSecret) == 0 {
		return AccessClaims{}, errMissingSigningSecret
	}

	claims := &backendClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return AccessClaims{}, err
	}
	if claims.TokenType != expectedType {
		return AccessClaims{}, errUnexpectedTokenType
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return AccessClaims{}, errMissingSubjectClaim
	}
	return AccessClaims{UserID: userID, ProfileVerified: claims.ProfileVerified}, nil
}
