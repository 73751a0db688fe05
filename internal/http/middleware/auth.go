package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/ctxutil"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

const (
	RoleMappingAdmin = "mapping_admin"
	RoleReviewer     = "reviewer"

	HeaderTenantID = "X-Tenant-Id"
	HeaderActor    = "X-Actor"
)

// Claims is the operator token payload. Subject becomes approved_by.
type Claims struct {
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

type AuthConfig struct {
	SecretKey string
	// Disabled trusts X-Tenant-Id / X-Actor headers and grants every role.
	Disabled bool
}

type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
	off    bool
}

func NewAuthMiddleware(log *logger.Logger, cfg AuthConfig) (*AuthMiddleware, error) {
	if !cfg.Disabled && strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY required unless AUTH_DISABLED")
	}
	am := &AuthMiddleware{log: log.With("Middleware", "AuthMiddleware"), secret: []byte(cfg.SecretKey), off: cfg.Disabled}
	if cfg.Disabled {
		am.log.Warn("authentication disabled; trusting tenant headers")
	}
	return am, nil
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := am.resolve(c)
		if err != nil {
			am.log.Debug("auth rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": err.Error(), "code": "unauthorized"},
			})
			return
		}
		if actor.TenantID == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{"message": "token carries no tenant", "code": "forbidden"},
			})
			return
		}
		c.Request = c.Request.WithContext(ctxutil.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

// RequireRole passes when the actor holds any of roles.
func (am *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		a := ctxutil.GetActor(c.Request.Context())
		for _, r := range roles {
			if a.HasRole(r) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": gin.H{"message": "insufficient role", "code": "forbidden"},
		})
	}
}

func (am *AuthMiddleware) resolve(c *gin.Context) (*ctxutil.Actor, error) {
	if am.off {
		subject := strings.TrimSpace(c.GetHeader(HeaderActor))
		if subject == "" {
			subject = "dev"
		}
		return &ctxutil.Actor{
			Subject:  subject,
			TenantID: strings.TrimSpace(c.GetHeader(HeaderTenantID)),
			Roles:    []string{RoleMappingAdmin, RoleReviewer},
		}, nil
	}
	raw := extractToken(c)
	if raw == "" {
		return nil, errors.New("missing or invalid token")
	}
	claims, err := am.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &ctxutil.Actor{Subject: claims.Subject, TenantID: claims.TenantID, Roles: claims.Roles}, nil
}

func (am *AuthMiddleware) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return am.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("invalid token: missing subject")
	}
	return claims, nil
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
