package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// ExternalAccountMarker is stored instead of a hash for accounts created on
// first contact from the external identity provider. It is not a valid bcrypt
// hash, so no password can ever match it.
const ExternalAccountMarker = "!external-account"

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

var (
	ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrPasswordTooLong  = errors.New("password must be at most 72 bytes")
)

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// compareHash is swapped in tests.
var compareHash = bcrypt.CompareHashAndPassword

// placeholderHash is compared against when there is no usable hash, so a
// missing account costs the same bcrypt work as a wrong password.
var placeholderHash = sync.OnceValue(func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("journal-ease-placeholder"), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("auth: placeholder hash: %v", err))
	}
	return hash
})

// CheckPassword validates a password against a stored bcrypt hash. It always
// runs one bcrypt comparison, whatever stored holds.
func CheckPassword(password, stored string) bool {
	if !HasUsablePassword(stored) {
		_ = compareHash(placeholderHash(), []byte(password))
		return false
	}
	return compareHash([]byte(stored), []byte(password)) == nil
}

// HasUsablePassword reports whether stored can ever satisfy CheckPassword.
func HasUsablePassword(stored string) bool {
	stored = strings.TrimSpace(stored)
	return stored != "" && stored != ExternalAccountMarker
}

// ValidatePassword enforces the password policy.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > 72 {
		return ErrPasswordTooLong
	}
	return nil
}
