// Package envelope implements the two-layer key envelope protecting wallet
// private keys at rest. The private key is sealed with AES-256-GCM under a
// random DEK; the DEK is sealed under a KEK derived from the user's
// passphrase with Argon2id. Both seals bind the caller-supplied AAD
// ("user:<userId>:wallet:<walletId>"); the blob's aadHint is never trusted.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/averylane/soltraderd/internal/domain"
)

const (
	// Argon2id parameters for KEK derivation.
	kdfMemory  = 64 * 1024
	kdfTime    = 3
	kdfThreads = 1

	saltLen = 16
	keyLen  = 32
	ivLen   = 12
	tagLen  = 16

	blobVersion = 1
	blobAlg     = "AES-256-GCM"
	kdfName     = "argon2id"
)

// KDFParams overrides the default Argon2id cost parameters. Zero fields keep
// the defaults.
type KDFParams struct {
	Memory  uint32
	Time    uint32
	Threads uint8
}

// Zeroize overwrites b. Call it on every secret buffer before it leaves
// scope; plaintext keys and DEKs must never outlive their use.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func unb64(s, field string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("envelope: field %s: %w", field, domain.ErrBadInput)
	}
	return b, nil
}

func deriveKEK(passphrase string, salt []byte, kdf domain.EnvelopeKDF) []byte {
	return argon2.IDKey([]byte(passphrase), salt, kdf.Time, kdf.Memory, kdf.Threads, keyLen)
}

// seal encrypts plaintext under key with a fresh IV, returning iv, ciphertext
// (without tag), and the 16-byte tag separately as the blob format stores them.
func seal(key, plaintext, aad []byte) (iv, ct, tag []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("envelope: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("envelope: creating GCM: %w", err)
	}
	iv = make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, nil, fmt.Errorf("envelope: generating iv: %w", err)
	}
	sealed := gcm.Seal(nil, iv, plaintext, aad)
	n := len(sealed) - tagLen
	return iv, sealed[:n], sealed[n:], nil
}

// open decrypts ct||tag under key. Any authentication failure is reported
// uniformly as domain.ErrAuthFailed.
func open(key, iv, ct, tag, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("envelope: creating GCM: %w", err)
	}
	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	pt, err := gcm.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, domain.ErrAuthFailed
	}
	return pt, nil
}

// EncryptPrivateKey seals pk into a v1 envelope blob. The KEK and DEK are
// zeroised before returning; pk is left to the caller.
func EncryptPrivateKey(pk []byte, passphrase, aad string, params *KDFParams) (*domain.EnvelopeBlob, error) {
	if aad == "" {
		return nil, fmt.Errorf("envelope: empty aad: %w", domain.ErrBadInput)
	}
	if len(pk) == 0 {
		return nil, fmt.Errorf("envelope: empty private key: %w", domain.ErrBadInput)
	}

	kdf := domain.EnvelopeKDF{Name: kdfName, Memory: kdfMemory, Time: kdfTime, Threads: kdfThreads}
	if params != nil {
		if params.Memory > 0 {
			kdf.Memory = params.Memory
		}
		if params.Time > 0 {
			kdf.Time = params.Time
		}
		if params.Threads > 0 {
			kdf.Threads = params.Threads
		}
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("envelope: generating salt: %w", err)
	}
	kdf.Salt = b64(salt)

	dek := make([]byte, keyLen)
	if _, err := rand.Read(dek); err != nil {
		return nil, fmt.Errorf("envelope: generating dek: %w", err)
	}
	defer Zeroize(dek)

	kek := deriveKEK(passphrase, salt, kdf)
	defer Zeroize(kek)

	aadBytes := []byte(aad)

	iv1, pkCipher, tag1, err := seal(dek, pk, aadBytes)
	if err != nil {
		return nil, err
	}
	iv2, dekCipher, tag2, err := seal(kek, dek, aadBytes)
	if err != nil {
		return nil, err
	}

	return &domain.EnvelopeBlob{
		Version:   blobVersion,
		Alg:       blobAlg,
		KDF:       kdf,
		IV1:       b64(iv1),
		Tag1:      b64(tag1),
		PKCipher:  b64(pkCipher),
		IV2:       b64(iv2),
		Tag2:      b64(tag2),
		DEKCipher: b64(dekCipher),
		AADHint:   aad,
	}, nil
}

// UnwrapDEK re-derives the KEK from passphrase and opens the DEK layer.
// The caller owns the returned DEK and must zeroise it.
func UnwrapDEK(blob *domain.EnvelopeBlob, passphrase, aad string) ([]byte, error) {
	if blob == nil || blob.Version != blobVersion {
		return nil, fmt.Errorf("envelope: unsupported blob: %w", domain.ErrBadInput)
	}
	if aad == "" {
		return nil, fmt.Errorf("envelope: empty aad: %w", domain.ErrBadInput)
	}
	salt, err := unb64(blob.KDF.Salt, "kdf.salt")
	if err != nil {
		return nil, err
	}
	iv2, err := unb64(blob.IV2, "iv2")
	if err != nil {
		return nil, err
	}
	tag2, err := unb64(blob.Tag2, "tag2")
	if err != nil {
		return nil, err
	}
	dekCipher, err := unb64(blob.DEKCipher, "dekCipher")
	if err != nil {
		return nil, err
	}

	kek := deriveKEK(passphrase, salt, blob.KDF)
	defer Zeroize(kek)

	return open(kek, iv2, dekCipher, tag2, []byte(aad))
}

// DecryptPrivateKey opens the pk layer with an already-unwrapped DEK. The DEK
// is shared state owned by the arm cache; this function does not zeroise it.
// The caller owns the returned plaintext and must zeroise it.
func DecryptPrivateKey(blob *domain.EnvelopeBlob, dek []byte, aad string) ([]byte, error) {
	if blob == nil || blob.Version != blobVersion {
		return nil, fmt.Errorf("envelope: unsupported blob: %w", domain.ErrBadInput)
	}
	if aad == "" {
		return nil, fmt.Errorf("envelope: empty aad: %w", domain.ErrBadInput)
	}
	iv1, err := unb64(blob.IV1, "iv1")
	if err != nil {
		return nil, err
	}
	tag1, err := unb64(blob.Tag1, "tag1")
	if err != nil {
		return nil, err
	}
	pkCipher, err := unb64(blob.PKCipher, "pkCipher")
	if err != nil {
		return nil, err
	}
	return open(dek, iv1, pkCipher, tag1, []byte(aad))
}
