// Package secrets seals model tokens so they can sit in .env files and
// deployment manifests as "enc:<base64>" instead of plaintext.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

const EncryptedPrefix = "enc:"

var (
	newGCM     = cipher.NewGCM
	randReader = rand.Reader

	ErrInvalidKey = errors.New("ZSSM_SECRETS_KEY must be 32 bytes or base64-encoded 32 bytes")
	ErrMissingKey = errors.New("ZSSM_SECRETS_KEY is required to read enc: values")
)

func ParseKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, ErrMissingKey
	}
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return nil, ErrInvalidKey
	}
	return decoded, nil
}

func IsSealed(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// Seal encrypts plaintext with AES-GCM and returns it with the enc: prefix.
func Seal(key []byte, plaintext string) (string, error) {
	gcm, err := aead(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return "", err
	}
	combined := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(combined), nil
}

// Open returns value unchanged unless it is sealed.
func Open(key []byte, value string) (string, error) {
	encoded, ok := strings.CutPrefix(value, EncryptedPrefix)
	if !ok {
		return value, nil
	}
	gcm, err := aead(key)
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", errors.New("invalid encrypted secret")
	}
	plain, err := gcm.Open(nil, data[:gcm.NonceSize()], data[gcm.NonceSize():], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func aead(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return newGCM(block)
}
