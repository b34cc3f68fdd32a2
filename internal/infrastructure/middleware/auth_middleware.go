package middleware

import (
	"callbox/internal/infrastructure/transport"
	apperrors "callbox/pkg/errors"

	"github.com/gin-gonic/gin"
)

// TokenVerifier validates bearer tokens minted with the shared secret.
type TokenVerifier interface {
	Verify(token string) (*transport.Claims, error)
}

// AuthMiddleware requires a valid bearer token and stores the session id
// under "session_id".
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := transport.BearerToken(c.Request)
		if err != nil {
			c.Error(apperrors.NewUnauthorizedError("authorization header required"))
			c.Abort()
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			c.Error(apperrors.WrapError(err, apperrors.ErrCodeUnauthorized, "invalid token", 401))
			c.Abort()
			return
		}

		c.Set("session_id", claims.SessionID)
		c.Next()
	}
}
