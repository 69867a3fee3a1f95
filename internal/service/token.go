package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gracechapel-api/auth-service/internal/cache"
	"github.com/gracechapel-api/auth-service/internal/models"
	"github.com/gracechapel-api/auth-service/internal/pkg/log"
	"github.com/gracechapel-api/auth-service/internal/storage"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// accessClaims — полезная нагрузка access-токена. Набор claims — чистая
// функция пользователя: sub/uid, username, email и roles (только если есть).
type accessClaims struct {
	UserID   string   `json:"uid"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Claims — проверенные данные access-токена, отдаваемые наружу.
type Claims struct {
	UserID   uuid.UUID
	Username string
	Email    string
	Roles    []string
}

// generateAccessToken подписывает access-токен для пользователя.
func (s *Service) generateAccessToken(ctx context.Context, user *models.User, now time.Time) (string, error) {
	const op = "service.token.generateAccessToken"

	lg := log.From(ctx)

	claims := accessClaims{
		UserID:   user.ID.String(),
		Username: user.Username,
		Email:    user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(s.TokenExpiration(now)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.cfg.Issuer,
			Subject:   user.ID.String(),
			Audience:  jwt.ClaimStrings(s.cfg.Audience),
		},
	}

	if len(user.Roles) > 0 {
		claims.Roles = append([]string(nil), user.Roles...)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		lg.Error("access_token_sign_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// ValidateAccessToken валидирует access-токен: метод подписи, подпись,
// issuer, audience и срок действия без допуска на рассинхронизацию часов.
// На любом кривом входе возвращает ошибку, не панику.
func (s *Service) ValidateAccessToken(tokenStr string) (*Claims, error) {
	const op = "service.token.ValidateAccessToken"

	token, err := jwt.ParseWithClaims(tokenStr, &accessClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
			}

			return []byte(s.cfg.JWTSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience...),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return &Claims{
		UserID:   uid,
		Username: claims.Username,
		Email:    claims.Email,
		Roles:    claims.Roles,
	}, nil
}

// ExtractUserID — удобная обёртка над валидацией: ID пользователя из токена
// либо (uuid.Nil, false) на любом невалидном входе.
func (s *Service) ExtractUserID(tokenStr string) (uuid.UUID, bool) {
	claims, err := s.ValidateAccessToken(tokenStr)
	if err != nil {
		return uuid.Nil, false
	}

	return claims.UserID, true
}

// TokenExpiration — момент истечения access-токена, выпущенного в now.
func (s *Service) TokenExpiration(now time.Time) time.Time {
	return now.Add(s.cfg.AccessTokenTTL)
}

// generateRefreshToken создаёт новый refresh-токен: 32 байта из CSPRNG в
// base64url (никаких claims — отзыв обеспечивается только серверным
// состоянием), сохраняет запись с хэшем значения и возвращает открытое
// значение. При коллизии хэша пробует заново.
func (s *Service) generateRefreshToken(ctx context.Context, userID uuid.UUID, createdByIP string) (string, error) {
	const (
		op          = "service.token.generateRefreshToken"
		maxAttempts = 5
	)

	lg := log.From(ctx)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			lg.Error("refresh_rand_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", fmt.Errorf("%s: %w", op, err)
		}
		plain := base64.RawURLEncoding.EncodeToString(b)
		hash := hashRefreshValue(plain)

		now := time.Now().UTC()
		token := &models.RefreshToken{
			ID:          uuid.New(),
			TokenHash:   hash,
			UserID:      userID,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.cfg.RefreshTokenTTL),
			CreatedByIP: createdByIP,
		}

		if err := s.storage.SaveRefreshToken(ctx, token); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				// Редкая коллизия — пробуем сгенерировать заново.
				continue
			}

			lg.Error("save_refresh_token_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", fmt.Errorf("%s: %w", op, err)
		}

		s.cacheRefreshEntry(ctx, hash, token)

		return plain, nil
	}

	lg.Error("refresh_collision_exceeded",
		slog.String("op", op),
	)

	return "", fmt.Errorf("%s: %w", op, ErrRefreshTokenCollision)
}

// hashRefreshValue — sha256(value) в base64url; в таком виде значение
// хранится и ищется в БД и кэше.
func hashRefreshValue(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// cacheRefreshEntry кладёт состояние токена в кэш (best-effort: ошибка кэша
// не влияет на результат операции, только на лог).
func (s *Service) cacheRefreshEntry(ctx context.Context, hash string, token *models.RefreshToken) {
	if s.rcache == nil {
		return
	}

	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return
	}

	entry := &cache.RefreshEntry{
		UserID:    token.UserID,
		Used:      token.IsUsed,
		Revoked:   token.IsRevoked,
		ExpiresAt: token.ExpiresAt,
	}

	if err := s.rcache.Set(ctx, hash, entry, ttl); err != nil {
		log.From(ctx).Warn("refresh_cache_set_failed", slog.String("err", err.Error()))
	}
}
