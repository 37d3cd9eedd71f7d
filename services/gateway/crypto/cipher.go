// Copyright (C) 2025 OpenClaw Authors (security@openclaw.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// =============================================================================
// AES-256-GCM
// =============================================================================

const (
	gcmIVLen  = 12
	gcmTagLen = 16

	envelopeSaltLen = 32
	envelopeKeyLen  = 32
)

// ErrDecryptFailed is returned when authenticated decryption fails.
// A wrong password and a tampered file are indistinguishable here;
// callers must not leak which.
var ErrDecryptFailed = errors.New("decryption failed")

// EncryptedEnvelope is the JSON wrapper for a password-encrypted
// credentials file. Salt, IV, and tag are hex; ciphertext is standard
// base64. The layout matches files produced by earlier releases.
type EncryptedEnvelope struct {
	Version   int    `json:"version"`
	Encrypted bool   `json:"encrypted"`
	Salt      string `json:"salt"`
	IV        string `json:"iv"`
	AuthTag   string `json:"authTag"`
	Data      string `json:"data"`
}

// ParseEnvelope reports whether raw parses as an encrypted envelope.
// A plaintext credentials file fails the parse and is handled by the
// caller directly.
func ParseEnvelope(raw []byte) (*EncryptedEnvelope, bool) {
	var env EncryptedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	if env.Version != 1 || !env.Encrypted {
		return nil, false
	}
	return &env, true
}

// EncryptCredentials seals plaintext under a key derived from the
// operator password. Each call draws a fresh salt and IV.
func EncryptCredentials(plaintext []byte, password string) (*EncryptedEnvelope, error) {
	salt, err := RandomBytes(envelopeSaltLen)
	if err != nil {
		return nil, err
	}
	key, err := deriveEnvelopeKey(password, salt)
	if err != nil {
		return nil, err
	}
	iv, err := RandomBytes(gcmIVLen)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ct, tag := sealed[:len(sealed)-gcmTagLen], sealed[len(sealed)-gcmTagLen:]
	return &EncryptedEnvelope{
		Version:   1,
		Encrypted: true,
		Salt:      hex.EncodeToString(salt),
		IV:        hex.EncodeToString(iv),
		AuthTag:   hex.EncodeToString(tag),
		Data:      base64.StdEncoding.EncodeToString(ct),
	}, nil
}

// DecryptCredentials opens an envelope with the operator password.
// Wrong passwords surface as ErrDecryptFailed via GCM authentication.
func DecryptCredentials(env *EncryptedEnvelope, password string) ([]byte, error) {
	salt, err := hex.DecodeString(env.Salt)
	if err != nil || len(salt) != envelopeSaltLen {
		return nil, ErrDecryptFailed
	}
	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != gcmIVLen {
		return nil, ErrDecryptFailed
	}
	tag, err := hex.DecodeString(env.AuthTag)
	if err != nil || len(tag) != gcmTagLen {
		return nil, ErrDecryptFailed
	}
	ct, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	key, err := deriveEnvelopeKey(password, salt)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	plaintext, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

func deriveEnvelopeKey(password string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, 1<<scryptLogN, scryptR, scryptP, envelopeKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving envelope key: %w", err)
	}
	return key, nil
}

// =============================================================================
// Session Blob (machine key)
// =============================================================================

// EncryptSessionBlob seals plaintext under the 32-byte machine key.
// The output layout is IV(12) ‖ tag(16) ‖ ciphertext, raw bytes.
func EncryptSessionBlob(key, plaintext []byte) ([]byte, error) {
	iv, err := RandomBytes(gcmIVLen)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ct, tag := sealed[:len(sealed)-gcmTagLen], sealed[len(sealed)-gcmTagLen:]
	out := make([]byte, 0, len(iv)+len(tag)+len(ct))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)
	return out, nil
}

// DecryptSessionBlob opens a session blob. Any failure (short buffer,
// tag mismatch, wrong key) returns nil: persisted sessions fail open
// and the gateway starts with an empty session map.
func DecryptSessionBlob(key, blob []byte) []byte {
	if len(blob) < gcmIVLen+gcmTagLen {
		return nil
	}
	iv := blob[:gcmIVLen]
	tag := blob[gcmIVLen : gcmIVLen+gcmTagLen]
	ct := blob[gcmIVLen+gcmTagLen:]
	gcm, err := newGCM(key)
	if err != nil {
		return nil
	}
	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil
	}
	return plaintext
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
