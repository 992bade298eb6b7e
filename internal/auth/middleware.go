package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Middleware JWT 인증 미들웨어. 익명 게스트 토큰도 통과시킨다.
func Middleware(jwtManager *JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Authorization 헤더에서 토큰 추출
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			// 쿠키에서 토큰 확인
			authHeader = c.Cookies("access_token")
			if authHeader == "" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "missing authorization token",
				})
			}
		} else {
			// Bearer 토큰 파싱
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "invalid authorization header format",
				})
			}
			authHeader = parts[1]
		}

		// 토큰 검증
		claims, err := jwtManager.ValidateAccessToken(authHeader)
		if err != nil {
			if err == ErrExpiredToken {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "token expired",
					"code":  "TOKEN_EXPIRED",
				})
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}

		// 사용자 정보를 컨텍스트에 저장
		c.Locals("userID", claims.UserID)
		c.Locals("displayName", claims.DisplayName)
		c.Locals("anonymous", claims.Anonymous)
		c.Locals("claims", claims)

		return c.Next()
	}
}

// RegisteredOnly 익명 게스트를 차단하는 미들웨어. Middleware 뒤에 거는 용도.
func RegisteredOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if anonymous, _ := c.Locals("anonymous").(bool); anonymous {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "registered account required",
			})
		}
		return c.Next()
	}
}
