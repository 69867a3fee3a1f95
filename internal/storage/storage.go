package storage

import (
	"context"
	"errors"
	"time"

	"github.com/gracechapel-api/auth-service/internal/models"

	"github.com/google/uuid"
)

var (
	// ErrNotFound — запись не найдена (пользователь/токен).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (username/refresh-token).
	ErrAlreadyExists = errors.New("already exists")
)

// UserStorage выполняет операции над пользователями.
//
// Создание учёток здесь отсутствует намеренно: провижининг — забота
// отдельного инструмента; auth-ядро пользователей только читает и
// изменяет поля блокировки.
type UserStorage interface {
	// UserByUsername находит пользователя по username.
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// IncrementFailedAttempts атомарно увеличивает счётчик неудачных попыток
	// на единицу и возвращает обновлённого пользователя. Инкремент обязан
	// выполняться на стороне БД: конкурентные неудачные попытки не должны
	// терять друг друга.
	IncrementFailedAttempts(ctx context.Context, id uuid.UUID) (*models.User, error)
	// ResetFailedAttempts обнуляет счётчик и время последней неудачной попытки.
	ResetFailedAttempts(ctx context.Context, id uuid.UUID) error
	// SetLockout устанавливает блокировку до момента until.
	SetLockout(ctx context.Context, id uuid.UUID, until time.Time) error
	// ClearLockout снимает блокировку. Идемпотентна.
	ClearLockout(ctx context.Context, id uuid.UUID) error
}

// RefreshTokenStorage выполняет операции над refresh-токенами.
type RefreshTokenStorage interface {
	// SaveRefreshToken сохраняет новый refresh-токен; при дубликате хэша
	// возвращает ErrAlreadyExists.
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// RefreshTokenByHash находит refresh-токен по его хэшу.
	RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	// MarkRefreshTokenUsed атомарно «забирает» токен: помечает использованным,
	// только если он ещё не использован и не отозван. Возвращает:
	//
	//	(true, nil)  — токен был активен и помечен сейчас;
	//	(false, nil) — токен уже использован или отозван (конкурент успел раньше);
	//	(false, ErrNotFound) — токен не найден.
	MarkRefreshTokenUsed(ctx context.Context, id uuid.UUID, byIP string) (bool, error)
	// RevokeRefreshToken помечает токен отозванным.
	RevokeRefreshToken(ctx context.Context, id uuid.UUID, byIP string) error
	// RevokeAllForUser отзывает все неотозванные токены пользователя,
	// возвращает число затронутых записей.
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, byIP string) (int64, error)
	// DeleteExpiredTokens удаляет все просроченные токены. Идемпотентна,
	// рассчитана на периодический вызов внешним планировщиком.
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
	// ActiveTokensForUser возвращает действующие токены пользователя
	// (мульти-девайс: их может быть несколько).
	ActiveTokensForUser(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error)
}

// Storage задает контракт работы с БД.
type Storage interface {
	UserStorage
	RefreshTokenStorage
	Close()
}
