package pii

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"pulseops.app/internal/apperr"
)

const (
	keySalt       = "pulseops_salt"
	keyIterations = 100000
	keyLength     = 32
)

// Guard encrypts sensitive fields and masks them for display.
type Guard struct {
	aead       cipher.AEAD
	indexKey   []byte
	encryption bool
	masking    bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithEncryption toggles reversible field encryption. When disabled Encrypt and
// Decrypt return their input unchanged.
func WithEncryption(enabled bool) Option {
	return func(g *Guard) { g.encryption = enabled }
}

// WithMasking toggles display masking. When disabled MaskForDisplay and
// MaskPhone return their input unchanged.
func WithMasking(enabled bool) Option {
	return func(g *Guard) { g.masking = enabled }
}

// NewGuard derives the field key from secret with PBKDF2-SHA256.
func NewGuard(secret string, opts ...Option) (*Guard, error) {
	g := &Guard{encryption: true, masking: true}
	for _, opt := range opts {
		opt(g)
	}
	if secret != "" {
		g.indexKey = pbkdf2.Key([]byte(secret), []byte(keySalt+"_index"), keyIterations, keyLength, sha256.New)
	}
	if !g.encryption {
		return g, nil
	}
	if secret == "" {
		return nil, errors.New("pii: encryption secret is required")
	}
	key := pbkdf2.Key([]byte(secret), []byte(keySalt), keyIterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	g.aead = aead
	return g, nil
}

// EncryptionEnabled reports whether Encrypt produces ciphertext.
func (g *Guard) EncryptionEnabled() bool { return g.encryption }

// Encrypt seals plaintext with AES-256-GCM; output is base64(nonce || ciphertext).
func (g *Guard) Encrypt(plaintext string) (string, error) {
	if !g.encryption || plaintext == "" {
		return plaintext, nil
	}
	nonce := make([]byte, g.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", apperr.Wrap(apperr.CodeEncryptionError, "", err)
	}
	sealed := g.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (g *Guard) Decrypt(ciphertext string) (string, error) {
	if !g.encryption || ciphertext == "" {
		return ciphertext, nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeDecryptionError, "", err)
	}
	ns := g.aead.NonceSize()
	if len(raw) < ns {
		return "", apperr.New(apperr.CodeDecryptionError, "ciphertext too short")
	}
	plain, err := g.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeDecryptionError, "", err)
	}
	return string(plain), nil
}

// BlindIndex returns a deterministic keyed digest of value for equality
// lookups on encrypted columns.
func (g *Guard) BlindIndex(value string) string {
	mac := hmac.New(sha256.New, g.indexKey)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// MaskForDisplay keeps the first and last character of value.
func (g *Guard) MaskForDisplay(value string) string {
	if !g.masking {
		return value
	}
	return MaskValue(value)
}

// MaskPhone keeps a short prefix and a three digit suffix of phone.
func (g *Guard) MaskPhone(phone string) string {
	if !g.masking {
		return phone
	}
	return MaskPhone(phone)
}
