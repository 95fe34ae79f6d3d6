package storage

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"mediavault/internal/models"
)

const passwordHashCost = bcrypt.DefaultCost

// AuthenticateAccount verifies credentials and returns the matching account on
// success. An unknown username and a mismatched password both yield
// ErrInvalidCredentials so callers cannot enumerate accounts.
func (s *Storage) AuthenticateAccount(username, password string) (models.Account, error) {
	if password == "" {
		return models.Account{}, ErrInvalidCredentials
	}

	s.mu.RLock()
	account, ok := s.data.Accounts[username]
	s.mu.RUnlock()
	if !ok {
		return models.Account{}, ErrInvalidCredentials
	}
	if err := verifyPassword(account.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.Account{}, ErrInvalidCredentials
		}
		return models.Account{}, err
	}
	return account, nil
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost)
	if err != nil {
		return "", fmt.Errorf("generate bcrypt hash: %w", err)
	}
	return string(hashed), nil
}

func verifyPassword(encodedHash, candidate string) error {
	if encodedHash == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(candidate)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("verify password: %w", err)
	}
	return nil
}
