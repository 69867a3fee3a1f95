package log

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Тесты подменяют slog.Default(), поэтому t.Parallel() здесь не используется.

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setSilentDefault подменяет глобальный логгер на время теста и возвращает его.
func setSilentDefault(t *testing.T) *slog.Logger {
	t.Helper()

	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })

	def := discardLogger()
	slog.SetDefault(def)

	return def
}

// TestFrom_FallsBackToDefault — пустой контекст, значение чужого типа под
// нашим ключом и nil-логгер одинаково дают slog.Default().
func TestFrom_FallsBackToDefault(t *testing.T) {
	def := setSilentDefault(t)

	require.Equal(t, def, From(context.Background()))

	ctxWrong := context.WithValue(context.Background(), ctxKey{}, 42)
	require.Equal(t, def, From(ctxWrong))

	var nilLogger *slog.Logger
	ctxNil := context.WithValue(context.Background(), ctxKey{}, nilLogger)
	require.Equal(t, def, From(ctxNil))
}

// TestIntoFrom_CarriesRequestAttributes — основной сценарий: middleware кладёт
// логгер с request-атрибутами, нижний слой пишет через From и атрибуты
// оказываются в записи.
func TestIntoFrom_CarriesRequestAttributes(t *testing.T) {
	setSilentDefault(t)

	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil)).With(slog.String("request_id", "req-7"))

	ctx := Into(context.Background(), l)
	require.Same(t, l, From(ctx))

	From(ctx).Info("claim_rejected", slog.String("reason", "token_used"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "req-7", rec["request_id"])
	require.Equal(t, "claim_rejected", rec["msg"])
	require.Equal(t, "token_used", rec["reason"])
}

// TestInto_ChildOverridesParent — дочерний контекст несёт свой логгер,
// родительский не меняется.
func TestInto_ChildOverridesParent(t *testing.T) {
	setSilentDefault(t)

	parentL := discardLogger()
	childL := discardLogger()

	parent := Into(context.Background(), parentL)
	child := Into(parent, childL)

	require.Same(t, childL, From(child))
	require.Same(t, parentL, From(parent))
}

// TestInto_DoesNotDisturbContext — Into не трогает прочие значения, дедлайн и
// отмену исходного контекста.
func TestInto_DoesNotDisturbContext(t *testing.T) {
	type otherKey struct{}

	base := context.WithValue(context.Background(), otherKey{}, "kept")
	withDL, cancel := context.WithTimeout(base, 30*time.Millisecond)
	defer cancel()

	ctx := Into(withDL, discardLogger())

	require.Equal(t, "kept", ctx.Value(otherKey{}))

	dl, ok := ctx.Deadline()
	require.True(t, ok)
	parentDL, _ := withDL.Deadline()
	require.WithinDuration(t, parentDL, dl, time.Millisecond)

	select {
	case <-ctx.Done():
		require.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("контекст с дедлайном обязан отмениться")
	}
}

// TestInto_PropagatesCancellation — отмена родителя видна через обёрнутый
// контекст.
func TestInto_PropagatesCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx := Into(parent, discardLogger())

	cancel()

	select {
	case <-ctx.Done():
		require.ErrorIs(t, ctx.Err(), context.Canceled)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("ожидали отмену обёрнутого контекста")
	}
}
