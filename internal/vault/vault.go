// Package vault protects sensitive member data (IBAN, national id) at rest.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/socioscloud/remesa/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrKeyMissing  = errors.New("vault_key_missing")
	ErrDecryption  = errors.New("vault_decryption_failed")
	ErrInvalidIBAN = errors.New("invalid_iban")
)

// Module provides the configured vault.
var Module = fx.Module("vault", fx.Provide(New))

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

type Vault struct {
	key []byte
	log *zap.Logger
}

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// New builds a vault keyed from configuration. Outside development mode a
// missing key is a startup failure, never a silent fallback.
func New(p Params) (*Vault, error) {
	secret := strings.TrimSpace(p.Cfg.VaultKeySecret)
	if secret == "" {
		if p.Cfg.Environment != config.EnvDevelopment {
			return nil, ErrKeyMissing
		}
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		p.Log.Warn("VAULT_KEY_SECRET not set, using throwaway development key; encrypted data will not survive a restart")
		return &Vault{key: buf, log: p.Log.Named("vault")}, nil
	}

	sum := sha256.Sum256([]byte(secret))
	return &Vault{key: sum[:], log: p.Log.Named("vault")}, nil
}

// Encrypt seals plaintext with AES-GCM under a fresh nonce. Empty input stays empty.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	encoded := encryptedPayload{
		Version:    1,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ciphertext),
	}
	out, err := json.Marshal(encoded)
	if err != nil {
		return "", err
	}

	return base64.RawStdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any malformed or foreign payload surfaces ErrDecryption.
func (v *Vault) Decrypt(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}

	raw, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode payload: %w", ErrDecryption)
	}

	var payload encryptedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("parse payload: %w", ErrDecryption)
	}
	if payload.Version != 1 {
		return "", fmt.Errorf("unsupported payload version %d: %w", payload.Version, ErrDecryption)
	}

	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", ErrDecryption)
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", ErrDecryption)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("bad nonce size: %w", ErrDecryption)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plaintext), nil
}

// EncryptIBAN normalizes an IBAN (no spaces, upper case) before sealing it.
func (v *Vault) EncryptIBAN(iban string) (string, error) {
	normalized, err := NormalizeIBAN(iban)
	if err != nil {
		return "", err
	}
	return v.Encrypt(normalized)
}

// NormalizeIBAN strips spaces and upper-cases. Spanish IBANs are 24 chars; we
// only enforce a conservative lower bound so other SEPA countries pass.
func NormalizeIBAN(iban string) (string, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(iban, " ", ""))
	if len(normalized) < 15 {
		return "", ErrInvalidIBAN
	}
	return normalized, nil
}

// FormatIBAN groups an IBAN in blocks of four for display.
func FormatIBAN(iban string) string {
	compact := strings.ReplaceAll(iban, " ", "")
	var blocks []string
	for i := 0; i < len(compact); i += 4 {
		end := i + 4
		if end > len(compact) {
			end = len(compact)
		}
		blocks = append(blocks, compact[i:end])
	}
	return strings.Join(blocks, " ")
}
