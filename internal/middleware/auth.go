package middleware

import (
	"strings"

	"github.com/ads-marketplace/deposit-tracker/internal/auth"
	"github.com/ads-marketplace/deposit-tracker/internal/http/dto"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const CtxUserID = "user_id"

// AuthMiddleware requires a bearer JWT and stores its user id in Locals.
func AuthMiddleware(jwtSecret string, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return unauthorized(c, "missing authorization header")
		}

		scheme, tokenStr, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tokenStr) == "" {
			return unauthorized(c, "invalid authorization format")
		}

		claims, err := auth.ParseJWT(jwtSecret, strings.TrimSpace(tokenStr))
		if err != nil {
			log.Debug("jwt parse error", zap.String("path", c.Path()), zap.Error(err))
			return unauthorized(c, "invalid or expired token")
		}

		c.Locals(CtxUserID, claims.UserID)
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, msg string) error {
	reqID, _ := c.Locals(CtxRequestID).(string)
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: msg, RequestID: reqID})
}

// GetUserID returns the authenticated user, or uuid.Nil outside AuthMiddleware.
func GetUserID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(CtxUserID).(uuid.UUID)
	return id
}
