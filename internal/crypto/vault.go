package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"

	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/models"
)

const (
	// Tag marks a value as vault ciphertext.
	Tag = "enc:v1:"

	// Key sizes
	KeySize  = 32
	SaltSize = 16

	// DefaultIterations for PBKDF2-HMAC-SHA256.
	DefaultIterations = 100000

	// MaxUnwrapDepth bounds nested decryption of double-wrapped values.
	MaxUnwrapDepth = 8

	keyCacheLimit = 256
)

// Errors
var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrTooDeep           = errors.New("ciphertext nested too deeply")
)

// Vault encrypts credential fields with a key derived from a master secret.
// The cipher is a salted XOR stream: ciphertext = tag + base64(salt || data^key).
type Vault struct {
	secret     []byte
	iterations int
	logger     *events.Logger

	mu       sync.Mutex
	keys     map[string][]byte
	keyOrder []string
}

var _ SecretCipher = (*Vault)(nil)

// Option configures a Vault.
type Option func(*Vault)

// WithIterations overrides the PBKDF2 iteration count.
func WithIterations(n int) Option {
	return func(v *Vault) {
		if n > 0 {
			v.iterations = n
		}
	}
}

// WithLogger sets the logger used to report decrypt failures.
func WithLogger(logger *events.Logger) Option {
	return func(v *Vault) {
		v.logger = logger
	}
}

// NewVault creates a vault bound to a master secret.
func NewVault(masterSecret string, opts ...Option) (*Vault, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("master secret: %w", models.ErrConfigMissing)
	}

	v := &Vault{
		secret:     []byte(masterSecret),
		iterations: DefaultIterations,
		logger:     events.Discard(),
		keys:       make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.WithField("component", "vault")

	return v, nil
}

// IsEncrypted reports whether value carries the ciphertext tag.
func (v *Vault) IsEncrypted(value string) bool {
	return strings.HasPrefix(value, Tag)
}

// EnsureEncrypted returns value unchanged when already tagged, otherwise encrypts it.
func (v *Vault) EnsureEncrypted(value string) (string, error) {
	if v.IsEncrypted(value) {
		return value, nil
	}
	return v.Encrypt(value)
}

// Encrypt always wraps value, even if it is already tagged.
func (v *Vault) Encrypt(value string) (string, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := v.deriveKey(salt)
	out := make([]byte, SaltSize+len(value))
	copy(out, salt)
	xorStream(out[SaltSize:], []byte(value), key)

	return Tag + base64.StdEncoding.EncodeToString(out), nil
}

// TryDecrypt unwraps value. Untagged input is returned as is; nested
// ciphertexts are unwrapped up to MaxUnwrapDepth.
func (v *Vault) TryDecrypt(value string) (string, error) {
	for depth := 0; depth < MaxUnwrapDepth; depth++ {
		if !v.IsEncrypted(value) {
			return value, nil
		}

		plain, err := v.decryptOnce(value)
		if err != nil {
			return "", err
		}
		value = plain
	}

	if v.IsEncrypted(value) {
		return "", &models.DecryptError{Reason: "unwrap", Err: ErrTooDeep}
	}
	return value, nil
}

// Decrypt is TryDecrypt that never fails: errors are logged and yield "".
func (v *Vault) Decrypt(value string) string {
	plain, err := v.TryDecrypt(value)
	if err != nil {
		v.logger.WithError(err).Warn("Credential decryption failed")
		return ""
	}
	return plain
}

func (v *Vault) decryptOnce(value string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Tag))
	if err != nil {
		return "", &models.DecryptError{Reason: "decode base64", Err: err}
	}
	if len(raw) < SaltSize {
		return "", &models.DecryptError{Reason: "truncated", Err: ErrInvalidCiphertext}
	}

	key := v.deriveKey(raw[:SaltSize])
	plain := make([]byte, len(raw)-SaltSize)
	xorStream(plain, raw[SaltSize:], key)

	// XOR has no integrity check; a wrong key almost always yields invalid UTF-8.
	if !utf8.Valid(plain) {
		return "", &models.DecryptError{Reason: "invalid utf-8", Err: models.ErrDecryptionFailed}
	}

	return string(plain), nil
}

// deriveKey memoizes PBKDF2 output per salt.
func (v *Vault) deriveKey(salt []byte) []byte {
	id := string(salt)

	v.mu.Lock()
	if key, ok := v.keys[id]; ok {
		v.mu.Unlock()
		return key
	}
	v.mu.Unlock()

	key := pbkdf2.Key(v.secret, salt, v.iterations, KeySize, sha256.New)

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.keys[id]; !ok {
		if len(v.keyOrder) >= keyCacheLimit {
			delete(v.keys, v.keyOrder[0])
			v.keyOrder = v.keyOrder[1:]
		}
		v.keys[id] = key
		v.keyOrder = append(v.keyOrder, id)
	}
	return key
}

// CachedKeys returns the number of memoized derived keys.
func (v *Vault) CachedKeys() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.keys)
}

func xorStream(dst, src, key []byte) {
	for i := range src {
		dst[i] = src[i] ^ key[i%len(key)]
	}
}
