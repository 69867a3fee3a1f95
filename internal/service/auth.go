package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gracechapel-api/auth-service/internal/metrics"
	"github.com/gracechapel-api/auth-service/internal/models"
	"github.com/gracechapel-api/auth-service/internal/pkg/log"
	"github.com/gracechapel-api/auth-service/internal/pkg/redact"
	"github.com/gracechapel-api/auth-service/internal/storage"

	"github.com/google/uuid"
)

// Login выполняет вход по логину и паролю.
//
// Порядок шагов фиксирован: пустые поля -> ErrInvalidRequest; неизвестный
// логин, неактивная учётка, блокировка, неверный пароль и ошибки хранилища ->
// один и тот же ErrAuthenticationFailed. Неверный пароль дополнительно
// атомарно инкрементирует счётчик неудач; достижение порога блокирует
// учётку на cfg.LockoutDuration. Успех сбрасывает счётчик и блокировку и
// выпускает пару токенов; refresh-запись сохраняется с IP клиента.
func (s *Service) Login(ctx context.Context, username, password, clientIP string) (*models.TokenPair, error) {
	const op = "service.auth.Login"

	lg := log.From(ctx)

	if strings.TrimSpace(username) == "" || password == "" {
		metrics.Logins.WithLabelValues("invalid_request").Inc()
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidRequest)
	}

	user, err := s.storage.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("login_unknown_username",
				slog.String("op", op),
				slog.String("username", redact.Username(username)),
			)
		} else {
			lg.Error("login_user_lookup_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
		}

		metrics.Logins.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%s: %w", op, ErrAuthenticationFailed)
	}

	now := time.Now().UTC()

	if !user.IsActive {
		lg.Warn("login_inactive_user",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
		)

		metrics.Logins.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%s: %w", op, ErrAuthenticationFailed)
	}

	if user.IsLockedOut(now) {
		lg.Warn("login_locked_out",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
			slog.Time("lockout_end", *user.LockoutEnd),
		)

		metrics.Logins.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%s: %w", op, ErrAuthenticationFailed)
	}

	if !checkPassword(user.PasswordHash, password) {
		lg.Warn("login_wrong_password",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
		)

		s.recordFailedAttempt(ctx, user.ID)

		metrics.Logins.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%s: %w", op, ErrAuthenticationFailed)
	}

	// Успешный вход всегда обнуляет счётчик и снимает устаревшую блокировку.
	// Ошибки этих обновлений не валят вход, но попадают в логи.
	if err := s.storage.ResetFailedAttempts(ctx, user.ID); err != nil {
		lg.Error("reset_failed_attempts_failed",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
			slog.String("err", err.Error()),
		)
	}
	if err := s.storage.ClearLockout(ctx, user.ID); err != nil {
		lg.Error("clear_lockout_failed",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
			slog.String("err", err.Error()),
		)
	}

	pair, err := s.issueTokenPair(ctx, user, clientIP, now)
	if err != nil {
		lg.Error("login_issue_pair_failed",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
			slog.String("err", err.Error()),
		)

		metrics.Logins.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%s: %w", op, ErrAuthenticationFailed)
	}

	metrics.Logins.WithLabelValues("success").Inc()
	return pair, nil
}

// RefreshTokens обменивает одноразовый refresh-токен на новую пару.
//
// Предъявленный токен помечается использованным ДО выпуска новой пары,
// причём условным обновлением на стороне БД: при конкурентном погашении
// одного значения ровно один вызов получает claimed=true, остальные
// завершаются ErrRefreshFailed.
func (s *Service) RefreshTokens(ctx context.Context, refreshValue, clientIP string) (*models.TokenPair, error) {
	const op = "service.auth.RefreshTokens"

	lg := log.From(ctx)

	if strings.TrimSpace(refreshValue) == "" {
		metrics.Refreshes.WithLabelValues("invalid_request").Inc()
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidRequest)
	}

	hash := hashRefreshValue(refreshValue)
	now := time.Now().UTC()

	// Быстрый отказ по кэшу для заведомо мёртвых токенов. Положительный
	// ответ кэша ничего не разрешает: источник истины — БД.
	if s.rcache != nil {
		entry, ok, err := s.rcache.Get(ctx, hash)
		if err != nil {
			lg.Warn("refresh_cache_get_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
		} else if ok && (entry.Used || entry.Revoked || !now.Before(entry.ExpiresAt)) {
			lg.Warn("refresh_rejected_by_cache",
				slog.String("op", op),
				slog.String("user_id", entry.UserID.String()),
			)

			metrics.Refreshes.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("%s: %w", op, ErrRefreshFailed)
		}
	}

	token, err := s.storage.RefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("refresh_token_not_found", slog.String("op", op))
		} else {
			lg.Error("refresh_token_lookup_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
		}

		metrics.Refreshes.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%s: %w", op, ErrRefreshFailed)
	}

	// Причина невалидности различается только здесь, в логах.
	if !token.Valid(now) {
		switch {
		case token.Expired(now):
			lg.Warn("refresh_token_expired",
				slog.String("op", op),
				slog.String("token_id", token.ID.String()),
			)
		case token.IsUsed:
			lg.Warn("refresh_token_already_used",
				slog.String("op", op),
				slog.String("token_id", token.ID.String()),
			)
		case token.IsRevoked:
			lg.Warn("refresh_token_revoked",
				slog.String("op", op),
				slog.String("token_id", token.ID.String()),
			)
		}

		metrics.Refreshes.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%s: %w", op, ErrRefreshFailed)
	}

	user, err := s.storage.UserByID(ctx, token.UserID)
	if err != nil {
		lg.Error("refresh_user_lookup_failed",
			slog.String("op", op),
			slog.String("user_id", token.UserID.String()),
			slog.String("err", err.Error()),
		)

		metrics.Refreshes.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%s: %w", op, ErrRefreshFailed)
	}

	if !user.CanLogin(now) {
		lg.Warn("refresh_user_cannot_login",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
			slog.Bool("active", user.IsActive),
			slog.Bool("locked_out", user.IsLockedOut(now)),
		)

		metrics.Refreshes.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%s: %w", op, ErrRefreshFailed)
	}

	claimed, err := s.storage.MarkRefreshTokenUsed(ctx, token.ID, clientIP)
	if err != nil {
		lg.Error("refresh_mark_used_failed",
			slog.String("op", op),
			slog.String("token_id", token.ID.String()),
			slog.String("err", err.Error()),
		)

		metrics.Refreshes.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%s: %w", op, ErrRefreshFailed)
	}
	if !claimed {
		// Конкурент успел погасить токен между чтением и захватом.
		lg.Warn("refresh_lost_claim_race",
			slog.String("op", op),
			slog.String("token_id", token.ID.String()),
		)

		metrics.Refreshes.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%s: %w", op, ErrRefreshFailed)
	}

	if s.rcache != nil {
		if err := s.rcache.MarkUsed(ctx, hash); err != nil {
			lg.Warn("refresh_cache_mark_used_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
		}
	}

	pair, err := s.issueTokenPair(ctx, user, clientIP, now)
	if err != nil {
		lg.Error("refresh_issue_pair_failed",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
			slog.String("err", err.Error()),
		)

		metrics.Refreshes.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%s: %w", op, ErrRefreshFailed)
	}

	metrics.Refreshes.WithLabelValues("success").Inc()
	return pair, nil
}

// RevokeToken отзывает предъявленный refresh-токен (logout устройства).
func (s *Service) RevokeToken(ctx context.Context, refreshValue, clientIP string) error {
	const op = "service.auth.RevokeToken"

	lg := log.From(ctx)

	if strings.TrimSpace(refreshValue) == "" {
		return fmt.Errorf("%s: %w", op, ErrInvalidRequest)
	}

	hash := hashRefreshValue(refreshValue)

	token, err := s.storage.RefreshTokenByHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			lg.Error("revoke_lookup_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
		}

		return fmt.Errorf("%s: %w", op, ErrRefreshFailed)
	}

	if err := s.storage.RevokeRefreshToken(ctx, token.ID, clientIP); err != nil {
		lg.Error("revoke_failed",
			slog.String("op", op),
			slog.String("token_id", token.ID.String()),
			slog.String("err", err.Error()),
		)

		return fmt.Errorf("%s: %w", op, ErrRefreshFailed)
	}

	if s.rcache != nil {
		if err := s.rcache.MarkRevoked(ctx, hash); err != nil {
			lg.Warn("refresh_cache_mark_revoked_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
		}
	}

	return nil
}

// RevokeAllSessions отзывает все действующие refresh-токены пользователя.
func (s *Service) RevokeAllSessions(ctx context.Context, userID uuid.UUID, clientIP string) (int64, error) {
	const op = "service.auth.RevokeAllSessions"

	if userID == uuid.Nil {
		return 0, fmt.Errorf("%s: %w", op, ErrInvalidRequest)
	}

	n, err := s.storage.RevokeAllForUser(ctx, userID, clientIP)
	if err != nil {
		log.From(ctx).Error("revoke_all_failed",
			slog.String("op", op),
			slog.String("user_id", userID.String()),
			slog.String("err", err.Error()),
		)

		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// ActiveSessions возвращает действующие refresh-токены пользователя
// (мульти-девайс). Открытые значения восстановить нельзя — только метаданные.
func (s *Service) ActiveSessions(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error) {
	const op = "service.auth.ActiveSessions"

	if userID == uuid.Nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidRequest)
	}

	tokens, err := s.storage.ActiveTokensForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return tokens, nil
}

// UnlockAccount снимает блокировку и обнуляет счётчик неудач независимо от
// таймера. Идемпотентна: разблокировка незаблокированной учётки — успех.
func (s *Service) UnlockAccount(ctx context.Context, userID uuid.UUID) error {
	const op = "service.auth.UnlockAccount"

	lg := log.From(ctx)

	if userID == uuid.Nil {
		return fmt.Errorf("%s: %w", op, ErrInvalidRequest)
	}

	if err := s.storage.ResetFailedAttempts(ctx, userID); err != nil {
		lg.Error("unlock_reset_failed",
			slog.String("op", op),
			slog.String("user_id", userID.String()),
			slog.String("err", err.Error()),
		)

		return fmt.Errorf("%s: %w", op, ErrUnlockFailed)
	}

	if err := s.storage.ClearLockout(ctx, userID); err != nil {
		lg.Error("unlock_clear_failed",
			slog.String("op", op),
			slog.String("user_id", userID.String()),
			slog.String("err", err.Error()),
		)

		return fmt.Errorf("%s: %w", op, ErrUnlockFailed)
	}

	return nil
}

// CleanupExpiredTokens удаляет просроченные refresh-токены. Идемпотентна,
// вызывается служебным эндпоинтом по расписанию внешнего планировщика.
func (s *Service) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	const op = "service.auth.CleanupExpiredTokens"

	n, err := s.storage.DeleteExpiredTokens(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// recordFailedAttempt атомарно фиксирует неудачную попытку и при достижении
// порога блокирует учётку. Ошибки учёта не валят поток входа — наружу всё
// равно уйдёт общий ErrAuthenticationFailed.
func (s *Service) recordFailedAttempt(ctx context.Context, userID uuid.UUID) {
	const op = "service.auth.recordFailedAttempt"

	lg := log.From(ctx)

	updated, err := s.storage.IncrementFailedAttempts(ctx, userID)
	if err != nil {
		lg.Error("record_failed_attempt_failed",
			slog.String("op", op),
			slog.String("user_id", userID.String()),
			slog.String("err", err.Error()),
		)
		return
	}

	if updated.FailedLoginAttempts < s.cfg.LockoutThreshold {
		return
	}

	until := time.Now().UTC().Add(s.cfg.LockoutDuration)
	if err := s.storage.SetLockout(ctx, userID, until); err != nil {
		lg.Error("set_lockout_failed",
			slog.String("op", op),
			slog.String("user_id", userID.String()),
			slog.String("err", err.Error()),
		)
		return
	}

	lg.Warn("account_locked",
		slog.String("op", op),
		slog.String("user_id", userID.String()),
		slog.Int("failed_attempts", updated.FailedLoginAttempts),
		slog.Time("lockout_end", until),
	)
	metrics.Lockouts.Inc()
}

// issueTokenPair выпускает access-токен и новый refresh-токен для user.
func (s *Service) issueTokenPair(ctx context.Context, user *models.User, clientIP string, now time.Time) (*models.TokenPair, error) {
	const op = "service.auth.issueTokenPair"

	accessToken, err := s.generateAccessToken(ctx, user, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	plain, err := s.generateRefreshToken(ctx, user.ID, clientIP)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.TokenPair{
		AccessToken:     accessToken,
		RefreshToken:    plain,
		AccessExpiresAt: s.TokenExpiration(now),
	}, nil
}
