package crypto

import (
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	enc, err := NewEncryptor(strings.Repeat("k", 32))
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	plaintext := "re_api_key_123"
	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if ciphertext == plaintext {
		t.Fatalf("ciphertext must differ from plaintext")
	}

	got, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != plaintext {
		t.Fatalf("Decrypt = %q, want %q", got, plaintext)
	}
}

func TestNewEncryptorRejectsBadKeys(t *testing.T) {
	t.Parallel()

	if _, err := NewEncryptor(""); err != ErrMissingKey {
		t.Fatalf("empty key: got %v, want ErrMissingKey", err)
	}
	if _, err := NewEncryptor("too-short"); err != ErrInvalidKey {
		t.Fatalf("short key: got %v, want ErrInvalidKey", err)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	t.Parallel()

	enc, err := NewEncryptor(strings.Repeat("k", 32))
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	if _, err := enc.Decrypt("bm90LXZhbGlk"); err == nil {
		t.Fatalf("expected error decrypting garbage")
	}
}
