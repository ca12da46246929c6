package utils

import (
	"testing"
)

func TestPINHashing(t *testing.T) {
	pin := "4711"

	hash, err := HashPIN(pin)
	if err != nil {
		t.Fatalf("Failed to hash PIN: %v", err)
	}
	if hash == pin {
		t.Error("Hash should not match plaintext PIN")
	}
	if len(hash) == 0 {
		t.Error("Hash should not be empty")
	}

	if !CheckPINHash(pin, hash) {
		t.Error("PIN should match hash")
	}
	if CheckPINHash("0000", hash) {
		t.Error("Wrong PIN should not match hash")
	}
}

func TestCheckPINHashInvalidHash(t *testing.T) {
	if CheckPINHash("4711", "not-a-bcrypt-hash") {
		t.Error("Malformed hash should never verify")
	}
}
