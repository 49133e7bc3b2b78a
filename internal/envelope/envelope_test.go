package envelope

import (
	"bytes"
	"errors"
	"testing"

	"github.com/averylane/soltraderd/internal/domain"
)

// fastKDF keeps Argon2id cheap in tests.
var fastKDF = &KDFParams{Memory: 8 * 1024, Time: 1, Threads: 1}

func TestEnvelopeRoundTrip(t *testing.T) {
	pk := bytes.Repeat([]byte{0xAB}, 64)
	aad := "user:u1:wallet:w1"

	blob, err := EncryptPrivateKey(pk, "hunter2", aad, fastKDF)
	if err != nil {
		t.Fatalf("EncryptPrivateKey: %v", err)
	}
	if blob.Version != 1 || blob.Alg != "AES-256-GCM" {
		t.Fatalf("unexpected blob header: v%d %s", blob.Version, blob.Alg)
	}

	dek, err := UnwrapDEK(blob, "hunter2", aad)
	if err != nil {
		t.Fatalf("UnwrapDEK: %v", err)
	}
	got, err := DecryptPrivateKey(blob, dek, aad)
	if err != nil {
		t.Fatalf("DecryptPrivateKey: %v", err)
	}
	if !bytes.Equal(got, pk) {
		t.Fatal("round-tripped private key differs")
	}
}

func TestEnvelopeAuthFailures(t *testing.T) {
	pk := bytes.Repeat([]byte{0x01}, 64)
	aad := "user:u1:wallet:w1"
	blob, err := EncryptPrivateKey(pk, "correct", aad, fastKDF)
	if err != nil {
		t.Fatalf("EncryptPrivateKey: %v", err)
	}

	tests := []struct {
		name       string
		passphrase string
		aad        string
	}{
		{"wrong passphrase", "incorrect", aad},
		{"wrong aad", "correct", "user:u1:wallet:other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnwrapDEK(blob, tt.passphrase, tt.aad)
			if !errors.Is(err, domain.ErrAuthFailed) {
				t.Fatalf("got %v, want ErrAuthFailed", err)
			}
		})
	}
}

func TestEnvelopeIgnoresAADHint(t *testing.T) {
	pk := bytes.Repeat([]byte{0x02}, 64)
	aad := "user:u1:wallet:w1"
	blob, err := EncryptPrivateKey(pk, "pw", aad, fastKDF)
	if err != nil {
		t.Fatalf("EncryptPrivateKey: %v", err)
	}

	// Tampering with the hint must not help an attacker: the caller-supplied
	// AAD is the only one that counts.
	blob.AADHint = "user:attacker:wallet:w1"
	dek, err := UnwrapDEK(blob, "pw", aad)
	if err != nil {
		t.Fatalf("UnwrapDEK with tampered hint: %v", err)
	}
	if _, err := DecryptPrivateKey(blob, dek, aad); err != nil {
		t.Fatalf("DecryptPrivateKey with tampered hint: %v", err)
	}

	if _, err := UnwrapDEK(blob, "pw", blob.AADHint); !errors.Is(err, domain.ErrAuthFailed) {
		t.Fatalf("unwrap under hint aad: got %v, want ErrAuthFailed", err)
	}
}

func TestEnvelopeDEKLayerBinding(t *testing.T) {
	aad := "user:u1:wallet:w1"
	blobA, err := EncryptPrivateKey(bytes.Repeat([]byte{0x03}, 64), "pw", aad, fastKDF)
	if err != nil {
		t.Fatalf("EncryptPrivateKey: %v", err)
	}
	blobB, err := EncryptPrivateKey(bytes.Repeat([]byte{0x04}, 64), "pw", aad, fastKDF)
	if err != nil {
		t.Fatalf("EncryptPrivateKey: %v", err)
	}

	// A DEK from one blob cannot open another blob's pk layer.
	dekA, err := UnwrapDEK(blobA, "pw", aad)
	if err != nil {
		t.Fatalf("UnwrapDEK: %v", err)
	}
	if _, err := DecryptPrivateKey(blobB, dekA, aad); !errors.Is(err, domain.ErrAuthFailed) {
		t.Fatalf("cross-blob decrypt: got %v, want ErrAuthFailed", err)
	}
}

func TestEncryptPrivateKeyBadInput(t *testing.T) {
	if _, err := EncryptPrivateKey(nil, "pw", "aad", fastKDF); !errors.Is(err, domain.ErrBadInput) {
		t.Fatalf("empty key: got %v, want ErrBadInput", err)
	}
	if _, err := EncryptPrivateKey([]byte{1}, "pw", "", fastKDF); !errors.Is(err, domain.ErrBadInput) {
		t.Fatalf("empty aad: got %v, want ErrBadInput", err)
	}
}
