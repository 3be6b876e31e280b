package http

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/servevlc/platform/pkg/logging"
	"github.com/servevlc/platform/shared/common"
)

// Claims is the bearer token payload accepted by the sync endpoints
type Claims struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry role
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// RequireAdmin verifies an HMAC-signed bearer token and requires the
// configured admin role
func RequireAdmin(cfg common.JWTConfig, logger *logging.Logger) gin.HandlerFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	parser := jwt.NewParser(opts...)
	secret := []byte(cfg.Secret)

	return func(c *gin.Context) {
		raw, err := bearerToken(c)
		if err != nil {
			respondError(c, common.ErrUnauthorized(err.Error()))
			return
		}

		claims := &Claims{}
		_, err = parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil {
			logger.Debug("Rejected bearer token", zap.Error(err))
			respondError(c, common.ErrUnauthorized("invalid token"))
			return
		}

		if !claims.HasRole(cfg.AdminRole) {
			respondError(c, common.ErrForbidden("admin role required"))
			return
		}

		c.Set("subject", claims.Subject)
		c.Set("email", claims.Email)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("bearer token not found")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("bearer token not found")
	}
	return token, nil
}
