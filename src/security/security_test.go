package security

import (
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	secret := "ir-api-secret-0123456789"

	encrypted, err := EncryptString(secret)
	if err != nil {
		t.Fatalf("unexpected error encrypting: %v", err)
	}

	if encrypted == secret {
		t.Fatalf("ciphertext must not equal plaintext")
	}

	decrypted, err := DecryptString(encrypted)
	if err != nil {
		t.Fatalf("unexpected error decrypting: %v", err)
	}

	if decrypted != secret {
		t.Fatalf("round trip mismatch: got %q want %q", decrypted, secret)
	}
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	a, err := EncryptString("same input")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := EncryptString("same input")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a == b {
		t.Fatalf("expected distinct nonces to produce distinct ciphertexts")
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	if _, err := DecryptString("not-base64!!"); err == nil {
		t.Fatalf("expected error for invalid base64")
	}

	if _, err := DecryptString("QUJD"); err == nil || !strings.Contains(err.Error(), "nonce") {
		t.Fatalf("expected short-ciphertext error, got %v", err)
	}
}
