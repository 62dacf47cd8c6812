package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/logger"
)

type WebhookAuthConfig struct {
	// Secret signs HS256 bearer tokens; an empty secret disables the check.
	Secret   string `env:"WEBHOOK_JWT_SECRET"`
	Issuer   string `env:"WEBHOOK_JWT_ISSUER"`
	Audience string `env:"WEBHOOK_JWT_AUDIENCE"`
}

// WebhookAuth verifies the bearer token event sources attach to webhook calls.
type WebhookAuth struct {
	log    *logger.Logger
	cfg    WebhookAuthConfig
	parser *jwt.Parser
}

func NewWebhookAuth(log *logger.Logger, cfg WebhookAuthConfig) *WebhookAuth {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &WebhookAuth{
		log:    log.With("Middleware", "WebhookAuth"),
		cfg:    cfg,
		parser: jwt.NewParser(opts...),
	}
}

func (a *WebhookAuth) Enabled() bool { return a != nil && a.cfg.Secret != "" }

func (a *WebhookAuth) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}
		tokenString := bearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}
		if err := a.verify(tokenString); err != nil {
			a.log.Warn("webhook token rejected", "path", c.Request.URL.Path, "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}
		c.Next()
	}
}

func (a *WebhookAuth) verify(tokenString string) error {
	_, err := a.parser.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.cfg.Secret), nil
	})
	return err
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
