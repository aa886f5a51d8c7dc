// Package crypto encrypts upstream credentials at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidKeySize 密钥长度无效
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes (256 bits)")
	// ErrInvalidCiphertext 密文格式无效
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short or malformed")
	// ErrDecryptionFailed 解密失败（密钥错误或密文被篡改）
	ErrDecryptionFailed = errors.New("decryption failed: authentication failed")
)

// AESCrypto AES-256-GCM 加密服务，密文格式: base64(nonce | ciphertext | tag)
type AESCrypto struct {
	aead cipher.AEAD
}

// NewAESCrypto key 必须为 32 字节
func NewAESCrypto(key []byte) (*AESCrypto, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &AESCrypto{aead: aead}, nil
}

// NewAESCryptoFromString accepts a configured key as 64 hex chars,
// base64 of 32 bytes, or 32 raw characters.
func NewAESCryptoFromString(key string) (*AESCrypto, error) {
	if len(key) == 64 {
		if raw, err := hex.DecodeString(key); err == nil {
			return NewAESCrypto(raw)
		}
	}
	if raw, err := base64.StdEncoding.DecodeString(key); err == nil && len(raw) == 32 {
		return NewAESCrypto(raw)
	}
	return NewAESCrypto([]byte(key))
}

// Encrypt 空字符串原样返回
func (a *AESCrypto) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, a.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := a.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 空字符串原样返回
func (a *AESCrypto) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	nonceSize := a.aead.NonceSize()
	if len(decoded) < nonceSize+a.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}

	plaintext, err := a.aead.Open(nil, decoded[:nonceSize], decoded[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}
