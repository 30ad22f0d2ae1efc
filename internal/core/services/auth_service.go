package services

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingToken = errors.New("missing token")
)

const (
	AuthModeToken = "token"
	AuthModeJWT   = "jwt"
)

// AuthService is the handshake gate run once per connection.
type AuthService interface {
	Authenticate(token string) error
	// VerifySecret checks the raw shared secret regardless of mode; it
	// guards token issuance.
	VerifySecret(secret string) error
	GenerateToken(subject string) (string, error)
	TokenTTL() time.Duration
}

type Claims struct {
	Subject string `json:"sub_name,omitempty"`
	jwt.RegisteredClaims
}

type authService struct {
	mode     string
	secret   []byte
	tokenTTL time.Duration
}

// NewAuthService builds the gate. In token mode the presented value must equal
// the secret; in jwt mode it must be an HS256 token signed with it.
func NewAuthService(mode, secret string, tokenTTL time.Duration) (AuthService, error) {
	switch mode {
	case AuthModeToken, AuthModeJWT:
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", mode)
	}
	if secret == "" {
		return nil, fmt.Errorf("auth secret must not be empty")
	}
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &authService{
		mode:     mode,
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
	}, nil
}

func (s *authService) Authenticate(token string) error {
	if token == "" {
		return ErrMissingToken
	}
	if s.mode == AuthModeToken {
		if subtle.ConstantTimeCompare([]byte(token), s.secret) != 1 {
			return ErrInvalidToken
		}
		return nil
	}
	_, err := s.validateJWT(token)
	return err
}

func (s *authService) VerifySecret(secret string) error {
	if secret == "" {
		return ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(secret), s.secret) != 1 {
		return ErrInvalidToken
	}
	return nil
}

func (s *authService) TokenTTL() time.Duration {
	return s.tokenTTL
}

// GenerateToken issues a jwt for clients; in token mode it returns the secret itself.
func (s *authService) GenerateToken(subject string) (string, error) {
	if s.mode == AuthModeToken {
		return string(s.secret), nil
	}

	now := time.Now()
	claims := &Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *authService) validateJWT(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
