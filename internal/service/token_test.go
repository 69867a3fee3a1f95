package service

import (
	"context"
	"testing"
	"time"

	"github.com/gracechapel-api/auth-service/internal/models"
	"github.com/gracechapel-api/auth-service/internal/storage"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestAccessToken_RoundTrip(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	user := &models.User{
		ID:       uuid.New(),
		Username: "jdoe",
		Email:    "jdoe@example.com",
		Roles:    []string{"user", "admin"},
	}

	at, err := svc.generateAccessToken(ctx, user, time.Now().UTC())
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(at)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.UserID)
	require.Equal(t, user.Username, claims.Username)
	require.Equal(t, user.Email, claims.Email)
	require.Equal(t, user.Roles, claims.Roles)
}

func TestValidateAccessToken_Garbage(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := svc.ValidateAccessToken(tok)
		require.ErrorIs(t, err, ErrInvalidToken)
	}
}

func TestValidateAccessToken_WrongSecret(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	other := New(svc.storage, testCfg())
	other.cfg.JWTSecret = "other-secret"

	at, err := other.generateAccessToken(context.Background(), &models.User{ID: uuid.New()}, time.Now().UTC())
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(at)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAccessToken_WrongAlg(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	// Тот же секрет, но несогласованный метод подписи отклоняется.
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   uuid.NewString(),
		Issuer:    svc.cfg.Issuer,
		Audience:  jwt.ClaimStrings(svc.cfg.Audience),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString([]byte(svc.cfg.JWTSecret))
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(signed)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAccessToken_WrongIssuerOrAudience(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := &models.User{ID: uuid.New(), Username: "jdoe"}

	issuerSvc := New(svc.storage, testCfg())
	issuerSvc.cfg.Issuer = "someone-else"
	at, err := issuerSvc.generateAccessToken(context.Background(), user, time.Now().UTC())
	require.NoError(t, err)
	_, err = svc.ValidateAccessToken(at)
	require.ErrorIs(t, err, ErrInvalidToken)

	audSvc := New(svc.storage, testCfg())
	audSvc.cfg.Audience = []string{"other-api"}
	at, err = audSvc.generateAccessToken(context.Background(), user, time.Now().UTC())
	require.NoError(t, err)
	_, err = svc.ValidateAccessToken(at)
	require.ErrorIs(t, err, ErrInvalidToken)
}

// Допуск на рассинхронизацию часов отсутствует: токен с истёкшим exp
// отклоняется сразу.
func TestValidateAccessToken_Expired(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	expSvc := New(svc.storage, testCfg())
	expSvc.cfg.AccessTokenTTL = -time.Second

	at, err := expSvc.generateAccessToken(context.Background(), &models.User{ID: uuid.New()}, time.Now().UTC())
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(at)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestExtractUserID(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := &models.User{ID: uuid.New(), Username: "jdoe"}
	at, err := svc.generateAccessToken(context.Background(), user, time.Now().UTC())
	require.NoError(t, err)

	uid, ok := svc.ExtractUserID(at)
	require.True(t, ok)
	require.Equal(t, user.ID, uid)

	uid, ok = svc.ExtractUserID("garbage")
	require.False(t, ok)
	require.Equal(t, uuid.Nil, uid)
}

func TestGenerateRefreshToken_SavesHashNotPlain(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	userID := uuid.New()

	var saved *models.RefreshToken
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, tok *models.RefreshToken) error {
			saved = tok
			return nil
		})

	plain, err := svc.generateRefreshToken(context.Background(), userID, "10.0.0.1")
	require.NoError(t, err)
	require.NotEmpty(t, plain)

	require.NotNil(t, saved)
	require.Equal(t, userID, saved.UserID)
	require.Equal(t, "10.0.0.1", saved.CreatedByIP)
	require.NotEqual(t, plain, saved.TokenHash)
	require.Equal(t, hashRefreshValue(plain), saved.TokenHash)
	require.WithinDuration(t, time.Now().Add(svc.cfg.RefreshTokenTTL), saved.ExpiresAt, 2*time.Second)
}

func TestGenerateRefreshToken_RetriesOnCollision(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	gomock.InOrder(
		st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(storage.ErrAlreadyExists),
		st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil),
	)

	plain, err := svc.generateRefreshToken(context.Background(), uuid.New(), "")
	require.NoError(t, err)
	require.NotEmpty(t, plain)
}

func TestGenerateRefreshToken_CollisionExceeded(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).
		Return(storage.ErrAlreadyExists).Times(5)

	_, err := svc.generateRefreshToken(context.Background(), uuid.New(), "")
	require.ErrorIs(t, err, ErrRefreshTokenCollision)
}

func TestHashRefreshValue_Deterministic(t *testing.T) {
	t.Parallel()

	require.Equal(t, hashRefreshValue("abc"), hashRefreshValue("abc"))
	require.NotEqual(t, hashRefreshValue("abc"), hashRefreshValue("abd"))
}
