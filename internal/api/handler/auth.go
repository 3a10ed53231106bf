package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/medledger/medledger/internal/identity"
)

// AuthHandler exchanges API keys for short-lived writer tokens.
type AuthHandler struct {
	tokens     *identity.TokenIssuer
	apiKeyHash string
	logger     *zap.Logger
}

// NewAuthHandler creates a new AuthHandler. apiKeyHash is the bcrypt hash of
// the writer API key; empty means open mode and the exchange endpoint is
// disabled.
func NewAuthHandler(tokens *identity.TokenIssuer, apiKeyHash string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{tokens: tokens, apiKeyHash: apiKeyHash, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/token", h.Token)
}

// Token handles POST /auth/token — verifies the API key and issues a JWT.
func (h *AuthHandler) Token(c *gin.Context) {
	if h.apiKeyHash == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "service runs in open mode, no token needed"})
		return
	}

	var req struct {
		APIKey string `json:"api_key" binding:"required"`
		Writer string `json:"writer"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "api_key is required"})
		return
	}

	if err := identity.APIKeyCheck(h.apiKeyHash, req.APIKey); err != nil {
		h.logger.Warn("api key rejected", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}

	writer := req.Writer
	if writer == "" {
		writer = c.ClientIP()
	}

	token, err := h.tokens.Issue(writer)
	if err != nil {
		h.logger.Error("issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(h.tokens.TTL().Seconds()),
	})
}
