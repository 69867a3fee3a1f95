package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken — серверная запись refresh-токена.
//
// Сам секрет клиенту выдаётся в открытом виде один раз; в БД хранится только
// его SHA-256 хэш (TokenHash), по которому выполняется поиск при обмене.
// Запись мутирует ровно один раз за жизнь: либо помечается использованной
// (ротация), либо отозванной. Физически удаляется только фоновой очисткой
// по ExpiresAt.
type RefreshToken struct {
	ID        uuid.UUID
	TokenHash string
	UserID    uuid.UUID
	CreatedAt time.Time
	ExpiresAt time.Time
	// IsUsed — токен уже обменян на новую пару (одноразовость).
	IsUsed bool
	// IsRevoked — токен отозван (logout/отзыв всех сессий).
	IsRevoked bool
	UsedAt    *time.Time
	RevokedAt *time.Time
	// IP-адреса клиента на каждом переходе жизненного цикла ("" — неизвестен).
	CreatedByIP string
	UsedByIP    string
	RevokedByIP string
}

// Valid — токен не использован, не отозван и не истёк на момент now.
func (t *RefreshToken) Valid(now time.Time) bool {
	return !t.IsUsed && !t.IsRevoked && now.Before(t.ExpiresAt)
}

// Expired — срок действия токена истёк на момент now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
