package crypto_test

import (
	"testing"

	"github.com/TheMichaelB/newsync/internal/crypto"
)

func BenchmarkEncrypt(b *testing.B) {
	vault, err := crypto.NewVault("bench-secret")
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := vault.Encrypt("application password"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecryptMemoized(b *testing.B) {
	vault, err := crypto.NewVault("bench-secret")
	if err != nil {
		b.Fatal(err)
	}
	enc, err := vault.Encrypt("application password")
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := vault.TryDecrypt(enc); err != nil {
			b.Fatal(err)
		}
	}
}
