package handler

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"auth_session/internal/auth"
	"auth_session/internal/models"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// AuthMiddleware requires a valid bearer access token and stores its claims
// in the request context.
func AuthMiddleware(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			newErrorResponse(c, fmt.Errorf("empty authorization header: %w", models.ErrUnauthenticated))

			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			newErrorResponse(c, fmt.Errorf("invalid authorization header: %w", models.ErrUnauthenticated))

			return
		}

		claims, err := parser.Parse(parts[1])
		if err != nil {
			newErrorResponse(c, fmt.Errorf("%v: %w", err, models.ErrUnauthenticated))

			return
		}

		c.Set(claimsKey, claims)

		c.Next()
	}
}

// RequireRole must run after AuthMiddleware.
func RequireRole(role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := claimsFrom(c)
		if !ok {
			newErrorResponse(c, models.ErrUnauthenticated)

			return
		}
		if !claims.HasRole(role) {
			newErrorResponse(c, models.ErrForbidden)

			return
		}

		c.Next()
	}
}

func claimsFrom(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		log.Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}
