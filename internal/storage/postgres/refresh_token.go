package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gracechapel-api/auth-service/internal/models"
	"github.com/gracechapel-api/auth-service/internal/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const refreshTokenColumns = `
		id, token_hash, user_id, created_at, expires_at,
		is_used, is_revoked, used_at, revoked_at,
		created_by_ip, used_by_ip, revoked_by_ip
`

func scanRefreshToken(row pgx.Row) (*models.RefreshToken, error) {
	var token models.RefreshToken
	err := row.Scan(
		&token.ID,
		&token.TokenHash,
		&token.UserID,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.IsUsed,
		&token.IsRevoked,
		&token.UsedAt,
		&token.RevokedAt,
		&token.CreatedByIP,
		&token.UsedByIP,
		&token.RevokedByIP,
	)
	if err != nil {
		return nil, err
	}

	return &token, nil
}

// SaveRefreshToken сохраняет новый refresh-токен в БД.
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.postgres.SaveRefreshToken"

	query := `
		INSERT INTO refresh_tokens(
			id, token_hash, user_id, created_at, expires_at, created_by_ip
		)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.Exec(ctx, query,
		token.ID,
		token.TokenHash,
		token.UserID,
		token.CreatedAt,
		token.ExpiresAt,
		token.CreatedByIP,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RefreshTokenByHash находит refresh-токен по его хэшу.
func (s *Storage) RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	const op = "storage.postgres.RefreshTokenByHash"

	query := `
		SELECT ` + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE token_hash = $1
	`

	token, err := scanRefreshToken(s.db.QueryRow(ctx, query, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return token, nil
}

// MarkRefreshTokenUsed атомарно «забирает» токен: условное обновление гасит
// его, только если он ещё не использован и не отозван. При конкурентном
// погашении одного значения ровно один вызов получает true.
// Возвращает:
//
//	(true, nil)  — токен был активен и помечен использованным сейчас;
//	(false, nil) — токен существует, но уже использован или отозван;
//	(false, ErrNotFound) — токен не найден.
func (s *Storage) MarkRefreshTokenUsed(ctx context.Context, id uuid.UUID, byIP string) (bool, error) {
	const op = "storage.postgres.MarkRefreshTokenUsed"

	const upd = `
		UPDATE refresh_tokens
		SET is_used = TRUE,
		    used_at = now(),
		    used_by_ip = $2
		WHERE id = $1 AND is_used = FALSE AND is_revoked = FALSE
		RETURNING user_id
	`

	var userID uuid.UUID
	err := s.db.QueryRow(ctx, upd, id, byIP).Scan(&userID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	const sel = `
		SELECT is_used
		FROM refresh_tokens
		WHERE id = $1
	`

	var isUsed bool
	err = s.db.QueryRow(ctx, sel, id).Scan(&isUsed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return false, fmt.Errorf("%s: %w", op, err)
	}

	return false, nil
}

// RevokeRefreshToken помечает токен отозванным. Условное обновление
// затрагивает только живой токен: уже погашенная или отозванная запись не
// перезаписывается (revoked_at/revoked_by_ip фиксируются один раз), повторный
// отзыв — no-op с успехом.
func (s *Storage) RevokeRefreshToken(ctx context.Context, id uuid.UUID, byIP string) error {
	const op = "storage.postgres.RevokeRefreshToken"

	query := `
		UPDATE refresh_tokens
		SET is_revoked = TRUE,
		    revoked_at = now(),
		    revoked_by_ip = $2
		WHERE id = $1 AND is_revoked = FALSE AND is_used = FALSE
	`

	cmdTag, err := s.db.Exec(ctx, query, id, byIP)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if cmdTag.RowsAffected() > 0 {
		return nil
	}

	const sel = `
		SELECT 1
		FROM refresh_tokens
		WHERE id = $1
	`

	var one int
	err = s.db.QueryRow(ctx, sel, id).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RevokeAllForUser отзывает все неотозванные токены пользователя.
func (s *Storage) RevokeAllForUser(ctx context.Context, userID uuid.UUID, byIP string) (int64, error) {
	const op = "storage.postgres.RevokeAllForUser"

	query := `
		UPDATE refresh_tokens
		SET is_revoked = TRUE,
		    revoked_at = now(),
		    revoked_by_ip = $2
		WHERE user_id = $1 AND is_revoked = FALSE
	`

	cmdTag, err := s.db.Exec(ctx, query, userID, byIP)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return cmdTag.RowsAffected(), nil
}

// DeleteExpiredTokens удаляет все просроченные токены.
func (s *Storage) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredTokens"

	query := `
		DELETE FROM refresh_tokens
		WHERE expires_at <= $1
	`

	cmdTag, err := s.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return cmdTag.RowsAffected(), nil
}

// ActiveTokensForUser возвращает действующие токены пользователя.
func (s *Storage) ActiveTokensForUser(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error) {
	const op = "storage.postgres.ActiveTokensForUser"

	query := `
		SELECT ` + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE user_id = $1
		  AND is_used = FALSE
		  AND is_revoked = FALSE
		  AND expires_at > now()
		ORDER BY created_at
	`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var tokens []models.RefreshToken
	for rows.Next() {
		token, err := scanRefreshToken(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		tokens = append(tokens, *token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return tokens, nil
}
