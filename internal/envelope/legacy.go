package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"

	"github.com/averylane/soltraderd/internal/domain"
)

// DecryptLegacy opens a pre-envelope wallet ciphertext: base64(iv || sealed)
// under a process-wide legacy key, no AAD. The plaintext is routed through a
// mutable buffer so callers can zeroise it; a 64-byte ed25519 keypair is the
// only accepted shape.
func DecryptLegacy(ciphertext string, legacyKey []byte) ([]byte, error) {
	if len(legacyKey) != keyLen {
		return nil, fmt.Errorf("envelope: legacy key must be %d bytes: %w", keyLen, domain.ErrBadInput)
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("envelope: legacy ciphertext: %w", domain.ErrBadInput)
	}
	if len(raw) < ivLen+tagLen {
		return nil, fmt.Errorf("envelope: legacy ciphertext too short: %w", domain.ErrBadInput)
	}

	block, err := aes.NewCipher(legacyKey)
	if err != nil {
		return nil, fmt.Errorf("envelope: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("envelope: creating GCM: %w", err)
	}

	pt, err := gcm.Open(nil, raw[:ivLen], raw[ivLen:], nil)
	if err != nil {
		return nil, domain.ErrAuthFailed
	}
	if len(pt) != 64 {
		Zeroize(pt)
		return nil, fmt.Errorf("envelope: legacy key length %d, want 64: %w", len(pt), domain.ErrBadInput)
	}
	return pt, nil
}
