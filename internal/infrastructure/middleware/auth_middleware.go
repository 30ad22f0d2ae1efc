package middleware

import (
	"net/http"
	"strings"

	"rendezvous/internal/core/services"
	apperrors "rendezvous/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TokenSubprotocolPrefix marks a Sec-WebSocket-Protocol entry carrying the
// handshake token, for browser clients that cannot set headers.
const TokenSubprotocolPrefix = "token."

// TokenFromRequest returns the handshake token from, in order, the token
// query parameter, a Bearer Authorization header or a token.<value>
// subprotocol.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	for _, proto := range websocket.Subprotocols(r) {
		if strings.HasPrefix(proto, TokenSubprotocolPrefix) {
			return strings.TrimPrefix(proto, TokenSubprotocolPrefix)
		}
	}
	return ""
}

// AuthMiddleware rejects the request with 401 unless it presents a token
// the auth service accepts. Mounted on the WebSocket route it runs before
// the upgrade, so rejected clients never get a connection id.
func AuthMiddleware(authService services.AuthService, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authService.Authenticate(TokenFromRequest(c.Request)); err != nil {
			logger.Infow("handshake rejected",
				"remote_addr", c.ClientIP(),
				"path", c.Request.URL.Path,
				"error", err,
			)
			appErr := apperrors.NewUnauthorizedError(err.Error())
			c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
			})
			return
		}
		c.Next()
	}
}
