package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oceandive/divetrack/backend/internal/config"
	"github.com/oceandive/divetrack/backend/internal/middleware"
	"github.com/oceandive/divetrack/backend/internal/services"
)

const refreshCookieName = "refresh_token"

// genericAuthError is the single message returned for every refresh-token
// rejection so callers cannot distinguish expired from revoked from unknown.
const genericAuthError = "invalid or expired token"

type AuthHandler struct {
	authService  *services.AuthService
	tokenService *services.TokenService
	authCfg      *config.AuthConfig
}

func NewAuthHandler(authService *services.AuthService, tokenService *services.TokenService, authCfg *config.AuthConfig) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		tokenService: tokenService,
		authCfg:      authCfg,
	}
}

func requestContext(c *gin.Context) services.RequestContext {
	return services.RequestContext{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// setRefreshCookie stores the refresh token in an HTTP-only cookie; the
// access token only ever travels in the JSON body.
func (h *AuthHandler) setRefreshCookie(c *gin.Context, token string) {
	c.SetSameSite(h.sameSite())
	c.SetCookie(refreshCookieName, token,
		int(h.authCfg.RefreshTokenLifetime().Seconds()),
		"/", "", h.authCfg.CookieSecure, true)
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(h.sameSite())
	c.SetCookie(refreshCookieName, "", -1, "/", "", h.authCfg.CookieSecure, true)
}

func (h *AuthHandler) sameSite() http.SameSite {
	switch h.authCfg.CookieSameSite {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (h *AuthHandler) loginResponse(c *gin.Context, status int, result *services.LoginResult) {
	h.setRefreshCookie(c, result.Pair.RefreshToken)
	c.JSON(status, gin.H{
		"user":         result.User,
		"access_token": result.Pair.AccessToken,
		"token_type":   result.Pair.TokenType,
		"expires_in":   result.Pair.ExpiresIn,
	})
}

// Login handles local user login
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.authService.Login(&req, requestContext(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	h.loginResponse(c, http.StatusOK, result)
}

// Register handles self-service registration
// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req services.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.authService.Register(&req, requestContext(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.loginResponse(c, http.StatusCreated, result)
}

// GoogleLogin handles Google ID-token login
// POST /api/auth/google-login
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	var req services.GoogleLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.authService.GoogleLogin(&req, requestContext(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "google login failed"})
		return
	}

	h.loginResponse(c, http.StatusOK, result)
}

// Refresh rotates the refresh token from the cookie and returns a new pair
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	refreshToken, err := c.Cookie(refreshCookieName)
	if err != nil || refreshToken == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": genericAuthError})
		return
	}

	pair, err := h.tokenService.RotateRefreshToken(refreshToken, requestContext(c))
	if err != nil {
		// Uniform rejection regardless of the underlying cause
		c.JSON(http.StatusUnauthorized, gin.H{"error": genericAuthError})
		return
	}

	h.setRefreshCookie(c, pair.RefreshToken)
	c.JSON(http.StatusOK, gin.H{
		"access_token": pair.AccessToken,
		"token_type":   pair.TokenType,
		"expires_in":   pair.ExpiresIn,
	})
}

// Logout revokes the session behind the refresh cookie and clears it
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	if refreshToken, err := c.Cookie(refreshCookieName); err == nil && refreshToken != "" {
		// Best effort: logout succeeds even for an already-dead token
		h.tokenService.RevokeRefreshToken(refreshToken, requestContext(c))
	}

	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out successfully"})
}

// LogoutEverywhere revokes every session of the current user
// POST /api/auth/logout-all
func (h *AuthHandler) LogoutEverywhere(c *gin.Context) {
	userID := middleware.GetUserID(c)
	count, err := h.tokenService.RevokeAllUserTokens(userID, requestContext(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke sessions"})
		return
	}

	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out everywhere", "sessions_revoked": count})
}

// GetCurrentUser returns the current logged-in user
// GET /api/auth/me
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	userID := middleware.GetUserID(c)
	user, err := h.authService.GetUserByID(userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	c.JSON(http.StatusOK, user)
}

// ChangePassword updates the current user's password and revokes all
// their sessions
// POST /api/auth/change-password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req services.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.GetUserID(c)
	if err := h.authService.ChangePassword(userID, &req, requestContext(c)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "password changed, please log in again"})
}

// GetAuthConfig returns authentication configuration
// GET /api/auth/config
func (h *AuthHandler) GetAuthConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"google_login_enabled": h.authService.IsGoogleLoginEnabled(),
	})
}

// CreateAdminIfNotExists creates default admin user
func (h *AuthHandler) CreateAdminIfNotExists() error {
	return h.authService.CreateAdminIfNotExists()
}
