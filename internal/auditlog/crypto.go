package auditlog

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// ErrDecryptFailed covers every decryption failure: tampered ciphertext,
// tampered nonce, or wrong key. The cases are deliberately
// indistinguishable to callers.
var ErrDecryptFailed = errors.New("audit entry decryption failed")

// Cipher seals and opens audit entries with AES-256-GCM. A fresh random
// nonce is drawn per entry, so encrypting the same entry twice never yields
// the same ciphertext.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a raw 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("audit key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// KeyFromHex decodes a 64-character hex key from configuration.
func KeyFromHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode audit key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("audit key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// DeriveKey stretches an operator passphrase into an AES key with argon2id.
// The salt is a deployment constant, not a secret; it only has to differ
// between unrelated installations.
func DeriveKey(passphrase, salt string) []byte {
	return argon2.IDKey([]byte(passphrase), []byte(salt), 1, 64*1024, 4, KeySize)
}

// EncryptEntry serializes and seals one entry under a fresh random nonce.
func (c *Cipher) EncryptEntry(entry Entry) (EncryptedEntry, error) {
	plaintext, err := json.Marshal(entry)
	if err != nil {
		return EncryptedEntry{}, fmt.Errorf("serialize audit entry: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return EncryptedEntry{}, fmt.Errorf("generate nonce: %w", err)
	}

	return EncryptedEntry{
		Nonce:      nonce,
		Ciphertext: c.aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// DecryptEntry opens a sealed entry. It fails closed: any authentication
// failure returns ErrDecryptFailed and no partial plaintext.
func (c *Cipher) DecryptEntry(enc EncryptedEntry) (Entry, error) {
	if len(enc.Nonce) != c.aead.NonceSize() {
		return Entry{}, ErrDecryptFailed
	}
	plaintext, err := c.aead.Open(nil, enc.Nonce, enc.Ciphertext, nil)
	if err != nil {
		return Entry{}, ErrDecryptFailed
	}
	var entry Entry
	if err := json.Unmarshal(plaintext, &entry); err != nil {
		return Entry{}, ErrDecryptFailed
	}
	return entry, nil
}
