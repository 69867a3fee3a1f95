// service содержит бизнес-логику auth-ядра контент-API:
// вход по логину/паролю, ротацию refresh-токенов, политику блокировки
// и работу с хранилищем через интерфейсы из пакета storage.
//
// Основные аспекты:
//   - Экземпляр Service не хранит состояние запроса и безопасен для
//     конкурентного использования из разных горутин при условии, что
//     переданное хранилище (storage.Storage) потокобезопасно.
//   - Ошибки входа и обмена токена намеренно обобщены: конкретная причина
//     (нет пользователя, неактивен, заблокирован, неверный пароль, токен
//     использован/отозван/просрочен, ошибка БД) попадает только в логи.
//     Наружу уходит один и тот же sentinel на весь поток — это контракт
//     против перечисления пользователей, «улучшать» его нельзя.
package service

import (
	"errors"

	"github.com/gracechapel-api/auth-service/internal/cache"
	"github.com/gracechapel-api/auth-service/internal/config"
	"github.com/gracechapel-api/auth-service/internal/storage"
)

var (
	// ErrInvalidRequest — пустые обязательные поля запроса.
	// Транспорт: HTTP 400.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrAuthenticationFailed — единый ответ на ЛЮБУЮ неудачу входа:
	// неизвестный логин, неактивная или заблокированная учётка, неверный
	// пароль, недоступное хранилище. Транспорт: HTTP 401.
	ErrAuthenticationFailed = errors.New("invalid username or password")

	// ErrRefreshFailed — единый ответ на ЛЮБУЮ неудачу обмена refresh-токена:
	// не найден, просрочен, использован, отозван, невалидный владелец,
	// недоступное хранилище. Транспорт: HTTP 401.
	ErrRefreshFailed = errors.New("invalid or expired refresh token")

	// ErrUnlockFailed — единый ответ на неудачу разблокировки учётки.
	// Транспорт: HTTP 400.
	ErrUnlockFailed = errors.New("unable to process unlock request")

	// ErrInvalidToken — access-токен некорректен по формату/подписи/claims.
	// Транспорт: HTTP 401.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired — срок действия access-токена истёк.
	// Транспорт: HTTP 401.
	ErrTokenExpired = errors.New("token expired")

	// ErrEmptyPassword — пароль пустой (HashPassword).
	// Транспорт: HTTP 400.
	ErrEmptyPassword = errors.New("password is empty")

	// ErrWeakPassword — пароль не удовлетворяет политике сложности
	// (HashPassword). Этот путь не является поверхностью подбора, поэтому
	// ошибка специфична. Транспорт: HTTP 400.
	ErrWeakPassword = errors.New("password does not meet complexity requirements")

	// ErrRefreshTokenCollision — исчерпаны попытки сгенерировать уникальный
	// refresh-токен (редкие коллизии хэша при сохранении). Транспорт: HTTP 500.
	ErrRefreshTokenCollision = errors.New("refresh token collision")
)

// Service реализует бизнес-логику auth-ядра.
type Service struct {
	storage storage.Storage
	cfg     config.AuthConfig
	rcache  cache.RefreshCache // может быть nil, если кэш не сконфигурирован
}

// New создаёт новый экземпляр Service.
func New(storage storage.Storage, cfg config.AuthConfig) *Service {
	return &Service{
		storage: storage,
		cfg:     cfg,
	}
}

// SetRefreshCache устанавливает кэш refresh-токенов (опционально).
func (s *Service) SetRefreshCache(c cache.RefreshCache) {
	s.rcache = c
}
