// Package cipher encrypts short message fields with the counsellor's shared key.
//
// The format is AES-CBC with PKCS#7 padding. The key is the UTF-8 encoding of
// cleChiffrement (16, 24 or 32 bytes). Ciphertext and iv travel as standard
// base64 strings, which is what the beneficiary applications read.
package cipher

import (
	"bytes"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrDecryption matches every *DecryptionError.
var ErrDecryption = errors.New("decryption failed")

// ErrInvalidKey is returned by Encrypt when the key has an unusable length.
var ErrInvalidKey = errors.New("invalid encryption key")

// DecryptionError reports why a payload could not be decrypted.
type DecryptionError struct {
	Reason string
}

func (e *DecryptionError) Error() string {
	return "decryption failed: " + e.Reason
}

// Is makes errors.Is(err, ErrDecryption) hold.
func (e *DecryptionError) Is(target error) bool {
	return target == ErrDecryption
}

// Encrypted is a ciphertext and the iv it was produced with.
type Encrypted struct {
	EncryptedText string `json:"encryptedText"`
	IV            string `json:"iv"`
}

// Cipher encrypts and decrypts text fields. The zero value is not usable; use New.
type Cipher struct {
	nonces io.Reader
}

// New returns a Cipher drawing ivs from crypto/rand.
func New() *Cipher {
	return &Cipher{nonces: rand.Reader}
}

// NewWithNonceSource returns a Cipher drawing ivs from r.
func NewWithNonceSource(r io.Reader) *Cipher {
	return &Cipher{nonces: r}
}

// Encrypt encrypts plaintext under key with a fresh iv.
func (c *Cipher) Encrypt(plaintext, key string) (Encrypted, error) {
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return Encrypted{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(c.nonces, iv); err != nil {
		return Encrypted{}, fmt.Errorf("failed to read iv: %w", err)
	}

	return Encrypted{
		EncryptedText: seal(block, iv, plaintext),
		IV:            base64.StdEncoding.EncodeToString(iv),
	}, nil
}

// EncryptWithIV encrypts plaintext under key reusing the base64 iv of another
// field. Attachment names share the iv of their message.
func (c *Cipher) EncryptWithIV(plaintext, key, iv string) (string, error) {
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	raw, err := base64.StdEncoding.DecodeString(iv)
	if err != nil || len(raw) != aes.BlockSize {
		return "", fmt.Errorf("invalid iv %q", iv)
	}

	return seal(block, raw, plaintext), nil
}

// Decrypt reverses Encrypt. Any malformed input returns a *DecryptionError.
func (c *Cipher) Decrypt(e Encrypted, key string) (string, error) {
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return "", &DecryptionError{Reason: "invalid key length"}
	}

	iv, err := base64.StdEncoding.DecodeString(e.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return "", &DecryptionError{Reason: "malformed iv"}
	}

	data, err := base64.StdEncoding.DecodeString(e.EncryptedText)
	if err != nil {
		return "", &DecryptionError{Reason: "malformed ciphertext encoding"}
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", &DecryptionError{Reason: "ciphertext is not a whole number of blocks"}
	}

	out := make([]byte, len(data))
	stdcipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)

	plain, ok := unpad(out)
	if !ok {
		return "", &DecryptionError{Reason: "bad padding"}
	}
	if !utf8.Valid(plain) {
		return "", &DecryptionError{Reason: "plaintext is not valid UTF-8"}
	}

	return string(plain), nil
}

func seal(block stdcipher.Block, iv []byte, plaintext string) string {
	padded := pad([]byte(plaintext))
	out := make([]byte, len(padded))
	stdcipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out)
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, bool) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, false
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}
