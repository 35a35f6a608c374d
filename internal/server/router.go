package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/caucode/backend/internal/auth"
	"github.com/caucode/backend/internal/ranking"
	"github.com/caucode/backend/internal/sessions"
	"github.com/caucode/backend/internal/users"
	"github.com/caucode/backend/internal/verification"
)

const claimsContextKey = "caucode_access_claims"

var (
	errMissingGoogleVerifier      = errors.New("google verifier dependency required")
	errMissingTokenIssuer         = errors.New("token issuer dependency required")
	errMissingUsersService        = errors.New("users service dependency required")
	errMissingVerificationService = errors.New("verification service dependency required")
	errMissingRankingService      = errors.New("ranking service dependency required")
	errMissingSessionStore        = errors.New("session store dependency required")
	errInvalidAuthorization       = errors.New("authorization header missing or invalid")
)

// GoogleVerifier validates Google ID tokens presented at login.
type GoogleVerifier interface {
	Verify(ctx context.Context, token string) (auth.GoogleClaims, error)
}

// TokenIssuer mints and validates backend JWT pairs.
type TokenIssuer interface {
	IssueTokenPair(ctx context.Context, userID int64, profileVerified bool) (auth.TokenPair, error)
	ValidateAccessToken(token string) (auth.AccessClaims, error)
	ValidateRefreshToken(token string) (auth.AccessClaims, error)
}

// Dependencies carries everything the HTTP layer needs.
type Dependencies struct {
	GoogleVerifier      GoogleVerifier
	TokenIssuer         TokenIssuer
	UsersService        *users.Service
	VerificationService *verification.Service
	RankingService      *ranking.Service
	SessionStore        *sessions.Store
	AllowedOrigins      []string
	Logger              *zap.Logger
}

// NewHTTPHandler assembles the gin router over the injected services.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.GoogleVerifier == nil {
		return nil, errMissingGoogleVerifier
	}
	if deps.TokenIssuer == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.VerificationService == nil {
		return nil, errMissingVerificationService
	}
	if deps.RankingService == nil {
		return nil, errMissingRankingService
	}
	if deps.SessionStore == nil {
		return nil, errMissingSessionStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	registerValidations()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:     deps.GoogleVerifier,
		tokens:       deps.TokenIssuer,
		users:        deps.UsersService,
		verification: deps.VerificationService,
		ranking:      deps.RankingService,
		sessions:     deps.SessionStore,
		logger:       logger,
	}

	router.POST("/auth/google", handler.handleGoogleAuth)
	router.POST("/auth/refresh", handler.handleRefresh)
	router.GET("/ranking/global", handler.handleGlobalRanking)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/me", handler.handleMe)
	protected.POST("/auth/logout", handler.handleLogout)
	protected.POST("/auth/logout-all", handler.handleLogoutAll)
	protected.POST("/verification/request", handler.handleVerificationRequest)
	protected.POST("/verification/check", handler.handleVerificationCheck)
	protected.GET("/verification/status", handler.handleVerificationStatus)
	protected.GET("/ranking/me", handler.handleMyRanking)

	return router, nil
}

type httpHandler struct {
	verifier     GoogleVerifier
	tokens       TokenIssuer
	users        *users.Service
	verification *verification.Service
	ranking      *ranking.Service
	sessions     *sessions.Store
	logger       *zap.Logger
}

type googleAuthPayload struct {
	IDToken string `json:"id_token"`
}

type tokenResponsePayload struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	TokenType    string      `json:"token_type"`
	User         userPayload `json:"user"`
}

type userPayload struct {
	UserID          int64  `json:"user_id"`
	Email           string `json:"email"`
	DisplayName     string `json:"display_name"`
	AvatarURL       string `json:"avatar_url,omitempty"`
	ProfileVerified bool   `json:"profile_verified"`
	SolvedACHandle  string `json:"solvedac_handle,omitempty"`
	Tier            *int   `json:"tier,omitempty"`
	Rating          *int   `json:"rating,omitempty"`
	SolvedCount     *int   `json:"solved_count,omitempty"`
	Class           *int   `json:"class,omitempty"`
}

func userPayloadFrom(user users.User) userPayload {
	payload := userPayload{
		UserID:          user.ID,
		Email:           user.Email,
		DisplayName:     user.DisplayName,
		AvatarURL:       user.AvatarURL,
		ProfileVerified: user.ProfileVerified,
		Tier:            user.SolvedACTier,
		Rating:          user.SolvedACRating,
		SolvedCount:     user.SolvedACSolvedCount,
		Class:           user.SolvedACClass,
	}
	if user.SolvedACHandle != nil {
		payload.SolvedACHandle = *user.SolvedACHandle
	}
	return payload
}

func (h *httpHandler) handleGoogleAuth(c *gin.Context) {
	var request googleAuthPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("google token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	user, err := h.users.ResolveGoogleUser(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to resolve user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	h.issueSession(c, user)
}

type refreshPayload struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *httpHandler) handleRefresh(c *gin.Context) {
	var request refreshPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.RefreshToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.tokens.ValidateRefreshToken(request.RefreshToken)
	if err != nil {
		h.logger.Warn("refresh token validation failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if _, err := h.sessions.FindByRefreshToken(c.Request.Context(), request.RefreshToken); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "session_revoked"})
			return
		}
		h.logger.Error("session lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh_failed"})
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("failed to load user for refresh", zap.Error(err), zap.Int64("user_id", claims.UserID))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if _, err := h.sessions.RevokeByRefreshToken(c.Request.Context(), request.RefreshToken); err != nil {
		h.logger.Error("failed to rotate session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh_failed"})
		return
	}

	h.issueSession(c, user)
}

func (h *httpHandler) issueSession(c *gin.Context, user users.User) {
	pair, err := h.tokens.IssueTokenPair(c.Request.Context(), user.ID, user.ProfileVerified)
	if err != nil {
		h.logger.Error("failed to issue token pair", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	if _, err := h.sessions.Create(
		c.Request.Context(),
		user.ID,
		pair.AccessToken,
		pair.RefreshToken,
		c.Request.UserAgent(),
		c.ClientIP(),
	); err != nil {
		h.logger.Error("failed to record session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_create_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		TokenType:    "Bearer",
		User:         userPayloadFrom(user),
	})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	claims := h.mustClaims(c)
	if claims == nil {
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
			return
		}
		h.logger.Error("failed to load user", zap.Error(err), zap.Int64("user_id", claims.UserID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, userPayloadFrom(user))
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	token := bearerToken(c)
	revoked, err := h.sessions.RevokeByAccessToken(c.Request.Context(), token)
	if err != nil {
		h.logger.Error("failed to revoke session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": revoked})
}

func (h *httpHandler) handleLogoutAll(c *gin.Context) {
	claims := h.mustClaims(c)
	if claims == nil {
		return
	}

	revoked, err := h.sessions.RevokeAllForUser(c.Request.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("failed to revoke sessions", zap.Error(err), zap.Int64("user_id", claims.UserID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": revoked})
}

type verificationRequestPayload struct {
	Handle string `json:"solvedac_handle" binding:"required,solvedachandle"`
}

func (h *httpHandler) handleVerificationRequest(c *gin.Context) {
	claims := h.mustClaims(c)
	if claims == nil {
		return
	}

	var request verificationRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_handle"})
		return
	}

	issued, err := h.verification.RequestVerification(c.Request.Context(), claims.UserID, request.Handle)
	if err != nil {
		h.writeVerificationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":       issued.Code,
		"expires_at": issued.ExpiresAt.UTC().Format(time.RFC3339),
		"instructions": "Add the code to your solved.ac profile bio, then call " +
			"POST /verification/check before it expires.",
	})
}

type verificationCheckPayload struct {
	Code string `json:"code" binding:"required"`
}

func (h *httpHandler) handleVerificationCheck(c *gin.Context) {
	if h.mustClaims(c) == nil {
		return
	}

	var request verificationCheckPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.verification.CheckStatus(c.Request.Context(), strings.TrimSpace(request.Code))
	if err != nil {
		h.writeVerificationError(c, err)
		return
	}

	response := gin.H{"status": string(result.Status)}
	if result.ExpiresAt != nil {
		response["expires_at"] = result.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if result.VerifiedAt != nil {
		response["verified_at"] = result.VerifiedAt.UTC().Format(time.RFC3339)
	}
	if result.FailureReason != "" {
		response["failure_reason"] = result.FailureReason
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleVerificationStatus(c *gin.Context) {
	claims := h.mustClaims(c)
	if claims == nil {
		return
	}

	state, err := h.verification.UserStatus(c.Request.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("failed to load verification state", zap.Error(err), zap.Int64("user_id", claims.UserID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status_failed"})
		return
	}

	switch {
	case state.Verified:
		c.JSON(http.StatusOK, gin.H{"status": "verified", "solvedac_handle": state.Handle})
	case state.PendingCode != "":
		c.JSON(http.StatusOK, gin.H{
			"status":          "pending",
			"code":            state.PendingCode,
			"solvedac_handle": state.Handle,
			"expires_at":      state.PendingExpiresAt.UTC().Format(time.RFC3339),
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"status":             "not_verified",
			"remaining_attempts": state.RemainingAttempts,
		})
	}
}

func (h *httpHandler) writeVerificationError(c *gin.Context, err error) {
	var tooMany *verification.TooManyAttemptsError
	var limited *verification.RateLimitedError
	switch {
	case errors.Is(err, verification.ErrInvalidHandle):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_handle"})
	case errors.Is(err, verification.ErrAlreadyVerified):
		c.JSON(http.StatusBadRequest, gin.H{"error": "already_verified"})
	case errors.Is(err, verification.ErrUnknownHandle):
		c.JSON(http.StatusBadRequest, gin.H{"error": "handle_not_found"})
	case errors.Is(err, verification.ErrRequestNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "request_not_found"})
	case errors.As(err, &tooMany):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":               "too_many_attempts",
			"retry_after_seconds": int64(tooMany.RetryAfter.Seconds()) + 1,
		})
	case errors.As(err, &limited):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":               "rate_limited",
			"retry_after_seconds": int64(limited.RetryAfter.Seconds()) + 1,
		})
	case errors.Is(err, verification.ErrLookupUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "solvedac_unavailable"})
	default:
		h.logger.Error("verification operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification_failed"})
	}
}

func (h *httpHandler) handleGlobalRanking(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}

	entries, err := h.ranking.Global(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to build leaderboard", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ranking_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *httpHandler) handleMyRanking(c *gin.Context) {
	claims := h.mustClaims(c)
	if claims == nil {
		return
	}

	entry, err := h.ranking.Me(c.Request.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, ranking.ErrNotRanked) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_ranked"})
			return
		}
		h.logger.Error("failed to compute rank", zap.Error(err), zap.Int64("user_id", claims.UserID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ranking_failed"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateAccessToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("access token expired", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(claimsContextKey, claims)
	c.Next()
}

// mustClaims returns the validated claims stored by authorizeRequest, or
// writes a 401 and returns nil when the middleware did not run.
func (h *httpHandler) mustClaims(c *gin.Context) *auth.AccessClaims {
	value, ok := c.Get(claimsContextKey)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil
	}
	claims, ok := value.(auth.AccessClaims)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil
	}
	return &claims
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
