// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	credentialSalt = "vitalsync-provider-credentials"
	credentialInfo = "provider-token-sealing-v1"

	// sealedPrefix marks values written by Seal so unsealed legacy values
	// can still be read.
	sealedPrefix = "enc:v1:"

	aesKeySize   = 32
	gcmNonceSize = 12
)

var (
	// ErrEmptyKey is returned when no credential key is configured.
	ErrEmptyKey = errors.New("credential key cannot be empty")

	// ErrDecryptionFailed is returned for tampered or foreign ciphertext.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or authentication tag")

	// ErrInvalidCiphertext is returned when a sealed value is malformed.
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
)

// CredentialEncryptor seals provider access and refresh tokens with
// AES-256-GCM. The key is derived from the configured credential key with
// HKDF-SHA256.
//
// A nil *CredentialEncryptor passes values through unchanged, which is the
// behaviour when no key is configured.
type CredentialEncryptor struct {
	aead cipher.AEAD
}

// NewCredentialEncryptor derives the sealing key from secret.
func NewCredentialEncryptor(secret string) (*CredentialEncryptor, error) {
	if secret == "" {
		return nil, ErrEmptyKey
	}

	key := make([]byte, aesKeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), []byte(credentialSalt), []byte(credentialInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &CredentialEncryptor{aead: aead}, nil
}

// Seal encrypts plaintext. Empty values stay empty.
func (e *CredentialEncryptor) Seal(plaintext string) (string, error) {
	if e == nil || plaintext == "" {
		return plaintext, nil
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values without the sealed prefix are returned as is.
func (e *CredentialEncryptor) Open(value string) (string, error) {
	encoded, sealed := strings.CutPrefix(value, sealedPrefix)
	if !sealed {
		return value, nil
	}
	if e == nil {
		return "", fmt.Errorf("%w: sealed credential but no credential key configured", ErrDecryptionFailed)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(data) < gcmNonceSize+e.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}

	plain, err := e.aead.Open(nil, data[:gcmNonceSize], data[gcmNonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}
