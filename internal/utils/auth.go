package utils

import (
	"golang.org/x/crypto/bcrypt"
)

// HashPIN hashes an operator PIN using bcrypt
func HashPIN(pin string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(pin), 10)
	return string(bytes), err
}

// CheckPINHash compares an operator PIN with a stored hash
func CheckPINHash(pin, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin))
	return err == nil
}
