package middleware

import (
	"net/http"
	"strings"

	"github.com/gracechapel-api/auth-service/internal/service"

	"github.com/labstack/echo/v4"
)

// claimsKey — ключ echo-контекста с проверенными claims запроса.
const claimsKey = "auth.claims"

// RequireAuth пропускает только запросы с валидным access-токеном в
// Authorization: Bearer. Проверенные claims кладутся в контекст echo и
// доступны обработчикам через ClaimsFrom.
func RequireAuth(svc *service.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}

			claims, err := svc.ValidateAccessToken(strings.TrimSpace(parts[1]))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}

			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

// ClaimsFrom достаёт claims, положенные RequireAuth.
func ClaimsFrom(c echo.Context) (*service.Claims, bool) {
	claims, ok := c.Get(claimsKey).(*service.Claims)
	return claims, ok
}
