// transport/http содержит HTTP-эндпоинты auth-ядра.
// Здесь выполняется только маппинг данных и ошибок доменного слоя (service) в HTTP.
// Вся валидация и бизнес-логика находятся в пакете service.
//
// Принципы:
//   - Контекст запроса прокидывается в сервис без потерь;
//   - Ошибки сервиса явно транслируются в коды HTTP:
//   - ErrInvalidRequest -> 400;
//   - ErrAuthenticationFailed -> 401 с единым сообщением на весь поток входа;
//   - ErrRefreshFailed -> 401 с единым сообщением на весь поток обмена;
//   - ErrUnlockFailed -> 400;
//   - ErrEmptyPassword/ErrWeakPassword -> 400 (этот путь не является
//     поверхностью подбора, сообщение специфично);
//   - иные ошибки -> 500 c единым безопасным сообщением.
//
// Безопасность:
//   - Причина неудачи входа/обмена наружу не уходит никогда — это контракт
//     против перечисления пользователей; подробности попадают в логи через
//     middleware и контекстный логгер.
package http

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gracechapel-api/auth-service/internal/middleware"
	"github.com/gracechapel-api/auth-service/internal/pkg/log"
	"github.com/gracechapel-api/auth-service/internal/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"log/slog"
)

type AuthServer struct {
	service *service.Service
	// cronSecret защищает служебный эндпоинт очистки; пустое значение
	// отключает эндпоинт.
	cronSecret string
}

// NewAuthServer создаёт HTTP-сервер авторизации поверх сервисного слоя.
func NewAuthServer(service *service.Service, cronSecret string) *AuthServer {
	return &AuthServer{
		service:    service,
		cronSecret: strings.TrimSpace(cronSecret),
	}
}

// Register навешивает маршруты на echo.
func (s *AuthServer) Register(e *echo.Echo) {
	auth := e.Group("/api/auth")
	auth.POST("/login", s.Login)
	auth.POST("/refresh", s.RefreshToken)
	auth.POST("/logout", s.Logout)
	auth.POST("/validate-password", s.ValidatePassword)

	protected := auth.Group("", middleware.RequireAuth(s.service))
	protected.POST("/unlock/:id", s.UnlockAccount)
	protected.GET("/sessions", s.Sessions)
	protected.POST("/sessions/revoke", s.RevokeAllSessions)

	e.POST("/api/maintenance/cleanup-tokens", s.CleanupTokens)
}

// ----- DTO -----

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshToken string    `json:"refresh_token"`
}

type sessionResponse struct {
	ID          string     `json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CreatedByIP string     `json:"created_by_ip,omitempty"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
}

// Login аутентифицирует пользователя и возвращает пару токенов.
func (s *AuthServer) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	pair, err := s.service.Login(c.Request().Context(), req.Username, req.Password, c.RealIP())
	if err != nil {
		return mapAuthError(c, err)
	}

	return c.JSON(http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		ExpiresAt:    pair.AccessExpiresAt,
		RefreshToken: pair.RefreshToken,
	})
}

// RefreshToken обменивает refresh-токен на новую пару.
func (s *AuthServer) RefreshToken(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	pair, err := s.service.RefreshTokens(c.Request().Context(), req.RefreshToken, c.RealIP())
	if err != nil {
		return mapAuthError(c, err)
	}

	return c.JSON(http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		ExpiresAt:    pair.AccessExpiresAt,
		RefreshToken: pair.RefreshToken,
	})
}

// Logout отзывает предъявленный refresh-токен.
func (s *AuthServer) Logout(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if err := s.service.RevokeToken(c.Request().Context(), req.RefreshToken, c.RealIP()); err != nil {
		return mapAuthError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "logout successful"})
}

// ValidatePassword проверяет пароль политикой сложности без хэширования.
func (s *AuthServer) ValidatePassword(c echo.Context) error {
	var req passwordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if err := s.service.ValidatePasswordComplexity(req.Password); err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyPassword):
			return c.JSON(http.StatusBadRequest, echo.Map{"valid": false, "error": "password is required"})
		case errors.Is(err, service.ErrWeakPassword):
			return c.JSON(http.StatusBadRequest, echo.Map{"valid": false, "error": "password does not meet complexity requirements"})
		}

		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}

	return c.JSON(http.StatusOK, echo.Map{"valid": true})
}

// UnlockAccount снимает блокировку учётки (админская операция).
func (s *AuthServer) UnlockAccount(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if err := s.service.UnlockAccount(c.Request().Context(), userID); err != nil {
		return mapAuthError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "account unlocked successfully"})
}

// Sessions возвращает действующие refresh-сессии текущего пользователя.
func (s *AuthServer) Sessions(c echo.Context) error {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	tokens, err := s.service.ActiveSessions(c.Request().Context(), claims.UserID)
	if err != nil {
		return mapAuthError(c, err)
	}

	sessions := make([]sessionResponse, 0, len(tokens))
	for _, t := range tokens {
		sessions = append(sessions, sessionResponse{
			ID:          t.ID.String(),
			CreatedAt:   t.CreatedAt,
			ExpiresAt:   t.ExpiresAt,
			CreatedByIP: t.CreatedByIP,
			UsedAt:      t.UsedAt,
		})
	}

	return c.JSON(http.StatusOK, echo.Map{"sessions": sessions})
}

// RevokeAllSessions отзывает все refresh-сессии текущего пользователя.
func (s *AuthServer) RevokeAllSessions(c echo.Context) error {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	n, err := s.service.RevokeAllSessions(c.Request().Context(), claims.UserID, c.RealIP())
	if err != nil {
		return mapAuthError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"revoked": n})
}

// CleanupTokens — идемпотентная очистка просроченных refresh-токенов.
// Вызывается внешним планировщиком с Bearer cron-секретом; таймер внутри
// сервиса намеренно отсутствует.
func (s *AuthServer) CleanupTokens(c echo.Context) error {
	if s.cronSecret == "" {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}

	header := strings.TrimSpace(c.Request().Header.Get(echo.HeaderAuthorization))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	// Сравнение секрета за постоянное время.
	presented := strings.TrimSpace(parts[1])
	if subtle.ConstantTimeCompare([]byte(presented), []byte(s.cronSecret)) != 1 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	n, err := s.service.CleanupExpiredTokens(c.Request().Context())
	if err != nil {
		log.From(c.Request().Context()).Error("token_cleanup_failed", slog.String("err", err.Error()))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cleanup failed"})
	}

	log.From(c.Request().Context()).Info("token_cleanup_completed", slog.Int64("deleted", n))
	return c.JSON(http.StatusOK, echo.Map{"deleted": n})
}

// mapAuthError транслирует ошибки сервисного слоя в HTTP-ответы с
// фиксированными обобщёнными сообщениями.
func mapAuthError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	case errors.Is(err, service.ErrAuthenticationFailed):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid username or password"})
	case errors.Is(err, service.ErrRefreshFailed):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired refresh token"})
	case errors.Is(err, service.ErrUnlockFailed):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unable to process unlock request"})
	}

	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
}
