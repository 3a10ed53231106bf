package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxWriterClaims = "medledger/writer-claims"

// RequireToken returns a Gin middleware enforcing Bearer writer-token
// authentication. Verified claims are injected into the request context.
func RequireToken(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
			})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := tokens.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		c.Set(ctxWriterClaims, claims)
		c.Next()
	}
}

// ClaimsFromCtx retrieves the writer claims injected by RequireToken.
func ClaimsFromCtx(c *gin.Context) *WriterClaims {
	v, _ := c.Get(ctxWriterClaims)
	claims, _ := v.(*WriterClaims)
	return claims
}
