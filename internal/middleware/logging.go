package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gracechapel-api/auth-service/internal/pkg/log"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Logging реализует логирование HTTP-запросов с контекстным логгером.
//
// Поведение и формат логов:
//   - Вытягивает X-Request-Id из заголовков, иначе генерирует UUID;
//   - Извлекает peer (IP клиента), метод и путь;
//   - Кладёт обогащённый *slog.Logger в context запроса (pkg/log), чтобы он
//     был доступен глубже по стеку — в сервисе и хранилище;
//   - После выполнения handler пишет одну строку уровня Info: msg="http",
//     status=<код ответа>, dur=<время выполнения>.
//
// Безопасность:
//   - Логи не содержат тел запросов и секретов (только метод/путь/peer/request_id).
func Logging(base *slog.Logger) echo.MiddlewareFunc {
	if base == nil {
		base = slog.Default()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// request_id: из заголовка, иначе генерируется новый.
			rid := c.Request().Header.Get(echo.HeaderXRequestID)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, rid)

			l := base.With(
				slog.String("request_id", rid),
				slog.String("method", c.Request().Method),
				slog.String("path", c.Path()),
				slog.String("peer", c.RealIP()),
			)
			ctx := log.Into(c.Request().Context(), l)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			// итоговая запись.
			l.Info("http",
				slog.Int("status", status),
				slog.Duration("dur", time.Since(start)),
			)

			return err
		}
	}
}
