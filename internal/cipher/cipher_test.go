package cipher

import (
	"bytes"
	"errors"
	"testing"
	"testing/quick"
)

const testKey = "0123456789abcdef0123456789abcdef"

func sequentialIV() *bytes.Reader {
	return bytes.NewReader([]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15})
}

func TestEncryptMatchesReferenceVector(t *testing.T) {
	c := NewWithNonceSource(sequentialIV())

	got, err := c.Encrypt("Bonjour", testKey)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if got.IV != "AAECAwQFBgcICQoLDA0ODw==" {
		t.Fatalf("unexpected iv %q", got.IV)
	}
	if got.EncryptedText != "vGEXlaqUdJglvqvZH96WIQ==" {
		t.Fatalf("unexpected ciphertext %q", got.EncryptedText)
	}
}

func TestDecryptReferenceVector(t *testing.T) {
	plain, err := New().Decrypt(Encrypted{
		EncryptedText: "vGEXlaqUdJglvqvZH96WIQ==",
		IV:            "AAECAwQFBgcICQoLDA0ODw==",
	}, testKey)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plain != "Bonjour" {
		t.Fatalf("expected Bonjour, got %q", plain)
	}
}

func TestRoundTrip(t *testing.T) {
	c := New()
	roundTrip := func(s string) bool {
		enc, err := c.Encrypt(s, testKey)
		if err != nil {
			return false
		}
		dec, err := c.Decrypt(enc, testKey)
		return err == nil && dec == s
	}
	if err := quick.Check(roundTrip, nil); err != nil {
		t.Fatal(err)
	}
}

func TestRoundTripEmptyAndMultibyte(t *testing.T) {
	c := New()
	for _, s := range []string{"", "é", "Rendez-vous à 14h 📅", string(bytes.Repeat([]byte("a"), 16))} {
		enc, err := c.Encrypt(s, testKey)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", s, err)
		}
		dec, err := c.Decrypt(enc, testKey)
		if err != nil {
			t.Fatalf("Decrypt(%q): %v", s, err)
		}
		if dec != s {
			t.Fatalf("expected %q, got %q", s, dec)
		}
	}
}

func TestEncryptUsesFreshIVPerCall(t *testing.T) {
	c := New()

	first, err := c.Encrypt("Bonjour", testKey)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	second, err := c.Encrypt("Bonjour", testKey)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if first.IV == second.IV {
		t.Fatalf("expected distinct ivs")
	}
	if first.EncryptedText == second.EncryptedText {
		t.Fatalf("expected distinct ciphertexts")
	}
	for _, enc := range []Encrypted{first, second} {
		if dec, err := c.Decrypt(enc, testKey); err != nil || dec != "Bonjour" {
			t.Fatalf("expected Bonjour, got %q (%v)", dec, err)
		}
	}
}

func TestEncryptRejectsInvalidKey(t *testing.T) {
	_, err := New().Encrypt("Bonjour", "short")
	if !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestDecryptFailsLoudly(t *testing.T) {
	valid, err := NewWithNonceSource(sequentialIV()).Encrypt("Bonjour", testKey)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tests := []struct {
		name string
		in   Encrypted
		key  string
	}{
		{"invalid key length", valid, "short"},
		{"iv not base64", Encrypted{EncryptedText: valid.EncryptedText, IV: "%%%"}, testKey},
		{"iv wrong length", Encrypted{EncryptedText: valid.EncryptedText, IV: "AAEC"}, testKey},
		{"ciphertext not base64", Encrypted{EncryptedText: "%%%", IV: valid.IV}, testKey},
		{"ciphertext empty", Encrypted{EncryptedText: "", IV: valid.IV}, testKey},
		{"ciphertext partial block", Encrypted{EncryptedText: "AAECAw==", IV: valid.IV}, testKey},
		{"wrong key", valid, "fedcba9876543210fedcba9876543210"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plain, err := New().Decrypt(tt.in, tt.key)
			if err == nil {
				t.Fatalf("expected error, got plaintext %q", plain)
			}
			if !errors.Is(err, ErrDecryption) {
				t.Fatalf("expected ErrDecryption, got %v", err)
			}
			var de *DecryptionError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DecryptionError, got %T", err)
			}
		})
	}
}

func TestEncryptWithIVSharesMessageIV(t *testing.T) {
	c := New()

	got, err := c.EncryptWithIV("Bonjour", testKey, "AAECAwQFBgcICQoLDA0ODw==")
	if err != nil {
		t.Fatalf("EncryptWithIV: %v", err)
	}
	if got != "vGEXlaqUdJglvqvZH96WIQ==" {
		t.Fatalf("unexpected ciphertext %q", got)
	}

	if _, err := c.EncryptWithIV("Bonjour", testKey, "AAEC"); err == nil {
		t.Fatalf("expected error for short iv")
	}
	if _, err := c.EncryptWithIV("Bonjour", "short", "AAECAwQFBgcICQoLDA0ODw=="); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
