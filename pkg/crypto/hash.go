package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// hash.go - хеширование операторского токена (bcrypt)
//
// API-сервер хранит только bcrypt-хеш токена оператора;
// сравнение через bcrypt устойчиво к timing-атакам.

// Ошибки хеширования
var (
	ErrEmptyToken    = errors.New("token cannot be empty")
	ErrTokenMismatch = errors.New("token does not match hash")
	ErrInvalidHash   = errors.New("invalid token hash format")
	ErrTokenTooLong  = errors.New("token exceeds maximum length of 72 bytes")
)

// DefaultCost - стоимость хеширования по умолчанию
const DefaultCost = 12

// MaxTokenLength - ограничение bcrypt на длину входа
const MaxTokenLength = 72

// HashToken хеширует операторский токен.
// Соль генерируется bcrypt'ом автоматически.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	if len(token) > MaxTokenLength {
		return "", ErrTokenTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyToken проверяет соответствие токена хешу
func VerifyToken(token, hash string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if hash == "" {
		return ErrInvalidHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrTokenMismatch
		}
		return ErrInvalidHash
	}
	return nil
}

// TokenMatches - булева обёртка VerifyToken для условий
func TokenMatches(token, hash string) bool {
	return VerifyToken(token, hash) == nil
}
