package http

import (
	"net/http"
	"strings"

	"rendezvous/internal/core/services"
	"rendezvous/internal/infrastructure/middleware"
	"rendezvous/pkg/errors"
	"rendezvous/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuthHandler issues handshake tokens to holders of the shared secret.
// In jwt mode this is how clients obtain a short-lived token instead of
// embedding the secret.
type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

func (h *AuthHandler) SetupRoutes(router gin.IRoutes) {
	router.POST("/api/v1/auth/token", h.IssueToken)
}

type IssueTokenRequest struct {
	Subject string `json:"subject"`
}

type IssueTokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	if err := h.authService.VerifySecret(middleware.TokenFromRequest(c.Request)); err != nil {
		c.Error(errors.NewUnauthorizedError(err.Error()))
		return
	}

	var req IssueTokenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errors.NewInvalidInputError("invalid request format"))
			return
		}
	}
	subject := strings.TrimSpace(req.Subject)
	if err := validation.ValidateSubject(subject); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if subject == "" {
		subject = uuid.NewString()
	}

	token, err := h.authService.GenerateToken(subject)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to issue token", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, IssueTokenResponse{
		Token:     token,
		ExpiresIn: int64(h.authService.TokenTTL().Seconds()),
	})
}
