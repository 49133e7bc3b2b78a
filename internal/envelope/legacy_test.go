package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/averylane/soltraderd/internal/domain"
)

func sealLegacy(t *testing.T, key, plaintext []byte) string {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("gcm: %v", err)
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("iv: %v", err)
	}
	return base64.StdEncoding.EncodeToString(append(iv, gcm.Seal(nil, iv, plaintext, nil)...))
}

func TestDecryptLegacy(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	keypair := bytes.Repeat([]byte{0x22}, 64)
	ct := sealLegacy(t, key, keypair)

	got, err := DecryptLegacy(ct, key)
	if err != nil {
		t.Fatalf("DecryptLegacy: %v", err)
	}
	if !bytes.Equal(got, keypair) {
		t.Fatal("decrypted keypair differs")
	}
}

func TestDecryptLegacyErrors(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	otherKey := bytes.Repeat([]byte{0x33}, 32)
	keypair := bytes.Repeat([]byte{0x22}, 64)

	tests := []struct {
		name       string
		ciphertext string
		key        []byte
		wantErr    error
	}{
		{"wrong key", sealLegacy(t, key, keypair), otherKey, domain.ErrAuthFailed},
		{"short key", sealLegacy(t, key, keypair), key[:16], domain.ErrBadInput},
		{"not base64", "%%%", key, domain.ErrBadInput},
		{"truncated", base64.StdEncoding.EncodeToString([]byte("tiny")), key, domain.ErrBadInput},
		{"wrong plaintext shape", sealLegacy(t, key, []byte("not a keypair")), key, domain.ErrBadInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecryptLegacy(tt.ciphertext, tt.key)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}
