package crypto_test

import (
	"fmt"
	"strings"

	"github.com/TheMichaelB/newsync/internal/crypto"
)

func ExampleVault_EnsureEncrypted() {
	vault, err := crypto.NewVault("master-secret", crypto.WithIterations(1000))
	if err != nil {
		panic(err)
	}

	enc, err := vault.EnsureEncrypted("app-password")
	if err != nil {
		panic(err)
	}
	again, _ := vault.EnsureEncrypted(enc)

	fmt.Println(strings.HasPrefix(enc, crypto.Tag))
	fmt.Println(enc == again)
	fmt.Println(vault.Decrypt(enc))
	// Output:
	// true
	// true
	// app-password
}
