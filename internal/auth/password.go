package auth

import (
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

var (
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	passwordSymbols = regexp.MustCompile(`[!@#$%^&*()]`)
	passwordLower   = regexp.MustCompile(`[a-z]`)
	passwordUpper   = regexp.MustCompile(`[A-Z]`)
	passwordDigit   = regexp.MustCompile(`\d`)
)

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidPassword requires at least 8 characters with one symbol, one lower
// case letter, one upper case letter and one digit.
func ValidPassword(password string) bool {
	return len(password) >= 8 &&
		passwordSymbols.MatchString(password) &&
		passwordLower.MatchString(password) &&
		passwordUpper.MatchString(password) &&
		passwordDigit.MatchString(password)
}
