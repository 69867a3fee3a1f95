package service

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword хэширует пароль с помощью bcrypt со случайной солью на вызов:
// два хэша одного пароля никогда не совпадают побитово. Перед хэшированием
// пароль проверяется политикой сложности; нарушение — явная ошибка, а не
// молчаливый отказ.
func (s *Service) HashPassword(password string) (string, error) {
	const op = "service.password.HashPassword"

	if err := s.validatePassword(password); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(bytes), nil
}

// ValidatePasswordComplexity проверяет пароль политикой сложности без
// хэширования (эндпоинт предварительной проверки в транспорте).
func (s *Service) ValidatePasswordComplexity(password string) error {
	const op = "service.password.ValidatePasswordComplexity"

	if err := s.validatePassword(password); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// checkPassword сравнивает пароль с хэшем. Никогда не возвращает ошибку:
// любой кривой хэш, пустой ввод или несовпадение — false.
func checkPassword(hash, password string) bool {
	if hash == "" || password == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// validatePassword проверяет минимальные требования к паролю:
// длина >= cfg.PasswordMinLength, хотя бы одна строчная и заглавная буквы
// и хотя бы одна цифра.
func (s *Service) validatePassword(pw string) error {
	const op = "service.password.validatePassword"

	if strings.TrimSpace(pw) == "" {
		return fmt.Errorf("%s: %w", op, ErrEmptyPassword)
	}

	if len([]rune(pw)) < s.cfg.PasswordMinLength {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	var hasLower, hasUpper, hasDigit bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if !(hasLower && hasUpper && hasDigit) {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	return nil
}
