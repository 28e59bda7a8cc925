package crypto

// SecretCipher protects credential fields at rest.
type SecretCipher interface {
	// EnsureEncrypted wraps value unless it already carries the tag.
	EnsureEncrypted(value string) (string, error)

	// TryDecrypt unwraps a tagged value, reporting failures.
	TryDecrypt(value string) (string, error)

	// Decrypt unwraps a tagged value, returning "" on failure.
	Decrypt(value string) string

	// IsEncrypted reports whether value carries the tag.
	IsEncrypted(value string) bool
}
