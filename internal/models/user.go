package models

import (
	"time"

	"github.com/google/uuid"
)

// User — учётная запись пользователя контент-API.
//
// Поля блокировки (FailedLoginAttempts, LockoutEnd, LastFailedLoginAttempt)
// изменяются только auth-ядром: атомарный инкремент при неудачном входе,
// сброс счётчика при успешном входе и установка/снятие блокировки.
type User struct {
	ID           uuid.UUID
	Username     string
	Email        string
	PasswordHash string
	// IsActive — деактивированная учётка не может входить и обновлять токены.
	IsActive bool
	// Roles — роли для встраивания в claims access-токена; здесь не проверяются.
	Roles []string
	// FailedLoginAttempts — число последовательных неудачных попыток входа.
	FailedLoginAttempts int
	// LockoutEnd — момент окончания блокировки (nil — блокировки нет).
	LockoutEnd *time.Time
	// LastFailedLoginAttempt — момент последней неудачной попытки (nil — не было).
	LastFailedLoginAttempt *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// IsLockedOut сообщает, заблокирована ли учётка на момент now.
func (u *User) IsLockedOut(now time.Time) bool {
	return u.LockoutEnd != nil && u.LockoutEnd.After(now)
}

// CanLogin — учётка активна и не заблокирована на момент now.
func (u *User) CanLogin(now time.Time) bool {
	return u.IsActive && !u.IsLockedOut(now)
}
