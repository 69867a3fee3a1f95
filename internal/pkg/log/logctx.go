// log — прокидывание *slog.Logger через context.Context.
//
// Middleware кладёт request-scoped логгер (с request_id и другими атрибутами)
// в контекст через Into; нижние слои достают его через From и пишут с теми же
// атрибутами, не зная о HTTP.
package log

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// Into возвращает контекст с привязанным логгером.
func Into(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From возвращает логгер из контекста; если его там нет (или лежит мусор) —
// slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}

	return slog.Default()
}
