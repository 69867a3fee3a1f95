package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gracechapel-api/auth-service/internal/models"
	"github.com/gracechapel-api/auth-service/internal/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `
		id, username, email, password_hash, is_active, roles,
		failed_login_attempts, lockout_end, last_failed_login_attempt,
		created_at, updated_at
`

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.IsActive,
		&user.Roles,
		&user.FailedLoginAttempts,
		&user.LockoutEnd,
		&user.LastFailedLoginAttempt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// UserByUsername находит пользователя по username.
func (s *Storage) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	const op = "storage.postgres.UserByUsername"

	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE username = $1
	`

	user, err := scanUser(s.db.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// UserByID находит пользователя по ID.
func (s *Storage) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.postgres.UserByID"

	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1
	`

	user, err := scanUser(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// IncrementFailedAttempts атомарно увеличивает счётчик неудачных попыток
// на стороне БД и возвращает обновлённого пользователя: конкурентные
// неудачные попытки не теряются.
func (s *Storage) IncrementFailedAttempts(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.postgres.IncrementFailedAttempts"

	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
		    last_failed_login_attempt = now(),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// ResetFailedAttempts обнуляет счётчик и время последней неудачной попытки.
func (s *Storage) ResetFailedAttempts(ctx context.Context, id uuid.UUID) error {
	const op = "storage.postgres.ResetFailedAttempts"

	query := `
		UPDATE users
		SET failed_login_attempts = 0,
		    last_failed_login_attempt = NULL,
		    updated_at = now()
		WHERE id = $1
	`

	cmdTag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// SetLockout устанавливает блокировку до момента until.
func (s *Storage) SetLockout(ctx context.Context, id uuid.UUID, until time.Time) error {
	const op = "storage.postgres.SetLockout"

	query := `
		UPDATE users
		SET lockout_end = $2,
		    updated_at = now()
		WHERE id = $1
	`

	cmdTag, err := s.db.Exec(ctx, query, id, until)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// ClearLockout снимает блокировку. Идемпотентна: незаблокированная учётка —
// тоже успех.
func (s *Storage) ClearLockout(ctx context.Context, id uuid.UUID) error {
	const op = "storage.postgres.ClearLockout"

	query := `
		UPDATE users
		SET lockout_end = NULL,
		    updated_at = now()
		WHERE id = $1
	`

	cmdTag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}
