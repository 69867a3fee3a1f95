package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gracechapel-api/auth-service/internal/config"
	"github.com/gracechapel-api/auth-service/internal/models"
	"github.com/gracechapel-api/auth-service/internal/storage"
	"github.com/gracechapel-api/auth-service/mocks"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testCfg() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:         "unit-secret",
		AccessTokenTTL:    30 * time.Second,
		RefreshTokenTTL:   24 * time.Hour,
		Issuer:            "auth-service",
		Audience:          []string{"content-api"},
		LockoutThreshold:  5,
		LockoutDuration:   30 * time.Minute,
		PasswordMinLength: 10,
		BcryptCost:        bcrypt.MinCost,
	}
}

func newSvc(t *testing.T) (*Service, *mocks.MockStorage, *gomock.Controller) {
	t.Helper()
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStorage(ctrl)
	svc := New(st, testCfg())
	return svc, st, ctrl
}

func mustHashPW(t *testing.T, svc *Service, pw string) string {
	t.Helper()
	h, err := svc.HashPassword(pw)
	require.NoError(t, err)
	return h
}

func activeUser(t *testing.T, svc *Service, pw string) *models.User {
	t.Helper()
	return &models.User{
		ID:           uuid.New(),
		Username:     "jdoe",
		Email:        "jdoe@example.com",
		PasswordHash: mustHashPW(t, svc, pw),
		IsActive:     true,
		Roles:        []string{"user"},
	}
}

func TestLogin_OK(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	pw := "GoodPassword123"
	user := activeUser(t, svc, pw)

	st.EXPECT().UserByUsername(gomock.Any(), "jdoe").Return(user, nil)
	st.EXPECT().ResetFailedAttempts(gomock.Any(), user.ID).Return(nil)
	st.EXPECT().ClearLockout(gomock.Any(), user.ID).Return(nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	tp, err := svc.Login(ctx, "jdoe", pw, "10.0.0.1")
	require.NoError(t, err)
	require.NotEmpty(t, tp.AccessToken)
	require.NotEmpty(t, tp.RefreshToken)
	require.WithinDuration(t, time.Now().Add(svc.cfg.AccessTokenTTL), tp.AccessExpiresAt, 2*time.Second)
}

func TestLogin_EmptyFields(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	_, err := svc.Login(context.Background(), "", "GoodPassword123", "")
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Login(context.Background(), "jdoe", "", "")
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Login(context.Background(), "   ", "GoodPassword123", "")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

// Неизвестный логин, неактивная учётка и ошибка хранилища неразличимы снаружи:
// один и тот же ErrAuthenticationFailed.
func TestLogin_GenericFailure_Indistinguishable(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()

	// Неизвестный логин.
	st.EXPECT().UserByUsername(gomock.Any(), "ghost").Return(nil, storage.ErrNotFound)
	_, errUnknown := svc.Login(ctx, "ghost", "GoodPassword123", "")
	require.ErrorIs(t, errUnknown, ErrAuthenticationFailed)

	// Неактивная учётка.
	inactive := activeUser(t, svc, "GoodPassword123")
	inactive.IsActive = false
	st.EXPECT().UserByUsername(gomock.Any(), "jdoe").Return(inactive, nil)
	_, errInactive := svc.Login(ctx, "jdoe", "GoodPassword123", "")
	require.ErrorIs(t, errInactive, ErrAuthenticationFailed)

	// Ошибка хранилища.
	st.EXPECT().UserByUsername(gomock.Any(), "jdoe").Return(nil, errors.New("db down"))
	_, errStorage := svc.Login(ctx, "jdoe", "GoodPassword123", "")
	require.ErrorIs(t, errStorage, ErrAuthenticationFailed)
}

func TestLogin_LockedOut(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := activeUser(t, svc, "GoodPassword123")
	end := time.Now().UTC().Add(10 * time.Minute)
	user.LockoutEnd = &end
	user.FailedLoginAttempts = 5

	// Даже правильный пароль не проходит во время блокировки,
	// счётчик при этом не трогается.
	st.EXPECT().UserByUsername(gomock.Any(), "jdoe").Return(user, nil)

	_, err := svc.Login(context.Background(), "jdoe", "GoodPassword123", "")
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestLogin_ExpiredLockout_AllowsLogin(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	pw := "GoodPassword123"
	user := activeUser(t, svc, pw)
	end := time.Now().UTC().Add(-time.Minute)
	user.LockoutEnd = &end
	user.FailedLoginAttempts = 5

	st.EXPECT().UserByUsername(gomock.Any(), "jdoe").Return(user, nil)
	st.EXPECT().ResetFailedAttempts(gomock.Any(), user.ID).Return(nil)
	st.EXPECT().ClearLockout(gomock.Any(), user.ID).Return(nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	tp, err := svc.Login(context.Background(), "jdoe", pw, "")
	require.NoError(t, err)
	require.NotEmpty(t, tp.AccessToken)
}

func TestLogin_WrongPassword_IncrementsCounter(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := activeUser(t, svc, "GoodPassword123")

	st.EXPECT().UserByUsername(gomock.Any(), "jdoe").Return(user, nil)
	// Счётчик ниже порога — блокировки нет.
	st.EXPECT().IncrementFailedAttempts(gomock.Any(), user.ID).
		Return(&models.User{ID: user.ID, FailedLoginAttempts: 1}, nil)

	_, err := svc.Login(context.Background(), "jdoe", "WrongPassword1", "")
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestLogin_WrongPassword_ThresholdLocksAccount(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := activeUser(t, svc, "GoodPassword123")

	st.EXPECT().UserByUsername(gomock.Any(), "jdoe").Return(user, nil)
	// Пятая подряд неудача — блокировка на LockoutDuration.
	st.EXPECT().IncrementFailedAttempts(gomock.Any(), user.ID).
		Return(&models.User{ID: user.ID, FailedLoginAttempts: 5}, nil)
	st.EXPECT().SetLockout(gomock.Any(), user.ID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, until time.Time) error {
			require.WithinDuration(t, time.Now().UTC().Add(svc.cfg.LockoutDuration), until, 2*time.Second)
			return nil
		})

	_, err := svc.Login(context.Background(), "jdoe", "WrongPassword1", "")
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestLogin_CounterUpdateFailure_StillGenericError(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := activeUser(t, svc, "GoodPassword123")

	st.EXPECT().UserByUsername(gomock.Any(), "jdoe").Return(user, nil)
	st.EXPECT().IncrementFailedAttempts(gomock.Any(), user.ID).
		Return(nil, errors.New("db write fail"))

	_, err := svc.Login(context.Background(), "jdoe", "WrongPassword1", "")
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestRefreshTokens_OK_SingleUseRotation(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	user := activeUser(t, svc, "GoodPassword123")

	plain := "some-refresh-plain"
	hash := hashRefreshValue(plain)
	tokenID := uuid.New()

	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).Return(&models.RefreshToken{
		ID:        tokenID,
		TokenHash: hash,
		UserID:    user.ID,
		CreatedAt: time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil)
	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)
	// Старый токен гасится ДО выпуска новой пары.
	st.EXPECT().MarkRefreshTokenUsed(gomock.Any(), tokenID, "10.0.0.2").Return(true, nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	tp, err := svc.RefreshTokens(ctx, plain, "10.0.0.2")
	require.NoError(t, err)
	require.NotEmpty(t, tp.AccessToken)
	require.NotEmpty(t, tp.RefreshToken)
	require.NotEqual(t, plain, tp.RefreshToken)

	// Новый access-токен принадлежит владельцу погашенного refresh-токена.
	claims, err := svc.ValidateAccessToken(tp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.UserID)
	require.Equal(t, user.Username, claims.Username)
}

func TestRefreshTokens_EmptyValue(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	_, err := svc.RefreshTokens(context.Background(), "", "")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRefreshTokens_DeadTokens_AllGeneric(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	plain := "r"
	hash := hashRefreshValue(plain)
	userID := uuid.New()

	// Не найден.
	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).Return(nil, storage.ErrNotFound)
	_, err := svc.RefreshTokens(ctx, plain, "")
	require.ErrorIs(t, err, ErrRefreshFailed)

	// Уже использован.
	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).Return(&models.RefreshToken{
		ID: uuid.New(), TokenHash: hash, UserID: userID,
		ExpiresAt: time.Now().Add(time.Hour), IsUsed: true,
	}, nil)
	_, err = svc.RefreshTokens(ctx, plain, "")
	require.ErrorIs(t, err, ErrRefreshFailed)

	// Отозван.
	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).Return(&models.RefreshToken{
		ID: uuid.New(), TokenHash: hash, UserID: userID,
		ExpiresAt: time.Now().Add(time.Hour), IsRevoked: true,
	}, nil)
	_, err = svc.RefreshTokens(ctx, plain, "")
	require.ErrorIs(t, err, ErrRefreshFailed)

	// Просрочен.
	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).Return(&models.RefreshToken{
		ID: uuid.New(), TokenHash: hash, UserID: userID,
		ExpiresAt: time.Now().Add(-time.Minute),
	}, nil)
	_, err = svc.RefreshTokens(ctx, plain, "")
	require.ErrorIs(t, err, ErrRefreshFailed)
}

// Проигрыш гонки за одноразовый токен: конкурент погасил его между чтением
// и захватом. Новая пара не выпускается.
func TestRefreshTokens_LostClaimRace(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := activeUser(t, svc, "GoodPassword123")
	plain := "r"
	hash := hashRefreshValue(plain)
	tokenID := uuid.New()

	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).Return(&models.RefreshToken{
		ID: tokenID, TokenHash: hash, UserID: user.ID,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil)
	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)
	st.EXPECT().MarkRefreshTokenUsed(gomock.Any(), tokenID, "").Return(false, nil)

	_, err := svc.RefreshTokens(context.Background(), plain, "")
	require.ErrorIs(t, err, ErrRefreshFailed)
}

func TestRefreshTokens_UserCannotLogin(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	plain := "r"
	hash := hashRefreshValue(plain)

	// Неактивная учётка.
	inactive := activeUser(t, svc, "GoodPassword123")
	inactive.IsActive = false
	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).Return(&models.RefreshToken{
		ID: uuid.New(), TokenHash: hash, UserID: inactive.ID,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil)
	st.EXPECT().UserByID(gomock.Any(), inactive.ID).Return(inactive, nil)
	_, err := svc.RefreshTokens(ctx, plain, "")
	require.ErrorIs(t, err, ErrRefreshFailed)

	// Заблокированная учётка.
	locked := activeUser(t, svc, "GoodPassword123")
	end := time.Now().UTC().Add(10 * time.Minute)
	locked.LockoutEnd = &end
	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).Return(&models.RefreshToken{
		ID: uuid.New(), TokenHash: hash, UserID: locked.ID,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil)
	st.EXPECT().UserByID(gomock.Any(), locked.ID).Return(locked, nil)
	_, err = svc.RefreshTokens(ctx, plain, "")
	require.ErrorIs(t, err, ErrRefreshFailed)
}

func TestRefreshTokens_StorageErrors_Generic(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	plain := "r"
	hash := hashRefreshValue(plain)
	userID := uuid.New()
	tokenID := uuid.New()

	// Ошибка на чтении токена.
	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).Return(nil, errors.New("db get fail"))
	_, err := svc.RefreshTokens(ctx, plain, "")
	require.ErrorIs(t, err, ErrRefreshFailed)

	// Токен валиден, но UserByID падает.
	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).Return(&models.RefreshToken{
		ID: tokenID, TokenHash: hash, UserID: userID,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil)
	st.EXPECT().UserByID(gomock.Any(), userID).Return(nil, errors.New("db user fail"))
	_, err = svc.RefreshTokens(ctx, plain, "")
	require.ErrorIs(t, err, ErrRefreshFailed)

	// Ошибка при захвате токена.
	user := activeUser(t, svc, "GoodPassword123")
	user.ID = userID
	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).Return(&models.RefreshToken{
		ID: tokenID, TokenHash: hash, UserID: userID,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil)
	st.EXPECT().UserByID(gomock.Any(), userID).Return(user, nil)
	st.EXPECT().MarkRefreshTokenUsed(gomock.Any(), tokenID, "").Return(false, errors.New("db claim fail"))
	_, err = svc.RefreshTokens(ctx, plain, "")
	require.ErrorIs(t, err, ErrRefreshFailed)
}

func TestRevokeToken_OKAndErrors(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	plain := "r"
	hash := hashRefreshValue(plain)
	tokenID := uuid.New()

	// Пустое значение.
	err := svc.RevokeToken(ctx, "", "")
	require.ErrorIs(t, err, ErrInvalidRequest)

	// Не найден.
	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).Return(nil, storage.ErrNotFound)
	err = svc.RevokeToken(ctx, plain, "")
	require.ErrorIs(t, err, ErrRefreshFailed)

	// Ok.
	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).Return(&models.RefreshToken{
		ID: tokenID, TokenHash: hash, UserID: uuid.New(),
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil)
	st.EXPECT().RevokeRefreshToken(gomock.Any(), tokenID, "10.0.0.3").Return(nil)
	require.NoError(t, svc.RevokeToken(ctx, plain, "10.0.0.3"))
}

func TestRevokeAllSessions(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	_, err := svc.RevokeAllSessions(context.Background(), uuid.Nil, "")
	require.ErrorIs(t, err, ErrInvalidRequest)

	userID := uuid.New()
	st.EXPECT().RevokeAllForUser(gomock.Any(), userID, "").Return(int64(3), nil)

	n, err := svc.RevokeAllSessions(context.Background(), userID, "")
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestActiveSessions(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	_, err := svc.ActiveSessions(context.Background(), uuid.Nil)
	require.ErrorIs(t, err, ErrInvalidRequest)

	userID := uuid.New()
	st.EXPECT().ActiveTokensForUser(gomock.Any(), userID).Return([]models.RefreshToken{
		{ID: uuid.New(), UserID: userID, ExpiresAt: time.Now().Add(time.Hour)},
		{ID: uuid.New(), UserID: userID, ExpiresAt: time.Now().Add(2 * time.Hour)},
	}, nil)

	tokens, err := svc.ActiveSessions(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
}

func TestUnlockAccount_OKAndIdempotent(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	userID := uuid.New()

	// Разблокировка идемпотентна: повторный вызов — тоже успех.
	st.EXPECT().ResetFailedAttempts(gomock.Any(), userID).Return(nil).Times(2)
	st.EXPECT().ClearLockout(gomock.Any(), userID).Return(nil).Times(2)

	require.NoError(t, svc.UnlockAccount(context.Background(), userID))
	require.NoError(t, svc.UnlockAccount(context.Background(), userID))
}

func TestUnlockAccount_Errors(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	// Нулевой ID.
	err := svc.UnlockAccount(context.Background(), uuid.Nil)
	require.ErrorIs(t, err, ErrInvalidRequest)

	// Любая ошибка хранилища -> обобщённый ErrUnlockFailed.
	userID := uuid.New()
	st.EXPECT().ResetFailedAttempts(gomock.Any(), userID).Return(storage.ErrNotFound)
	err = svc.UnlockAccount(context.Background(), userID)
	require.ErrorIs(t, err, ErrUnlockFailed)

	st.EXPECT().ResetFailedAttempts(gomock.Any(), userID).Return(nil)
	st.EXPECT().ClearLockout(gomock.Any(), userID).Return(errors.New("db down"))
	err = svc.UnlockAccount(context.Background(), userID)
	require.ErrorIs(t, err, ErrUnlockFailed)
}

func TestCleanupExpiredTokens(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().DeleteExpiredTokens(gomock.Any(), gomock.Any()).Return(int64(7), nil)

	n, err := svc.CleanupExpiredTokens(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(7), n)

	st.EXPECT().DeleteExpiredTokens(gomock.Any(), gomock.Any()).Return(int64(0), errors.New("db down"))
	_, err = svc.CleanupExpiredTokens(context.Background())
	require.Error(t, err)
}
