// recover.go реализует перехват паник в HTTP-обработчиках.
package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gracechapel-api/auth-service/internal/pkg/log"

	"github.com/labstack/echo/v4"
)

// Recover возвращает middleware, который перехватывает паники в обработчиках,
// логирует их и отвечает клиенту нейтральной ошибкой 500.
//
// Поведение:
//   - Паника в любом месте стека запроса приводит к логзаписи уровня Error
//     с методом, путём и стеком;
//   - Клиенту уходит 500 "internal server error" без раскрытия внутренних
//     деталей;
//   - Если в контексте уже есть логгер (см. pkg/log), будет использован он;
//     иначе — переданный base (если не nil), либо slog.Default().
func Recover(base *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			l := log.From(c.Request().Context())
			if l == slog.Default() && base != nil {
				l = base
			}

			defer func() {
				if r := recover(); r != nil {
					l.Error("panic_recovered",
						slog.String("method", c.Request().Method),
						slog.String("path", c.Path()),
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
					)

					err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
				}
			}()

			return next(c)
		}
	}
}
