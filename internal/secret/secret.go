// Package secret holds the reversible credential encoding used for stored
// distributor passwords. The scheme is pluggable so a real cipher can replace
// the base64 placeholder without touching adapter logic.
package secret

import (
	"encoding/base64"
	"fmt"
)

// Decryptor recovers a plaintext credential from its stored encoding.
type Decryptor interface {
	Decrypt(ciphertext string) (string, error)
}

// Encryptor produces the stored encoding of a plaintext credential.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
}

// Base64 is the placeholder codec: standard base64, no key. It satisfies
// both Decryptor and Encryptor.
type Base64 struct{}

func (Base64) Encrypt(plaintext string) (string, error) {
	return base64.StdEncoding.EncodeToString([]byte(plaintext)), nil
}

func (Base64) Decrypt(ciphertext string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decoding credential: %w", err)
	}
	return string(b), nil
}
