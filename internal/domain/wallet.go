// Package domain defines the entities, error taxonomy, and capability
// interfaces shared by every component of the trading engine. Nothing in this
// package touches the network or the database.
package domain

// EnvelopeKDF describes the Argon2id parameters used to derive the KEK from
// the user's passphrase.
type EnvelopeKDF struct {
	Name    string `json:"name"`
	Memory  uint32 `json:"m"`
	Time    uint32 `json:"t"`
	Threads uint8  `json:"p"`
	Salt    string `json:"salt"` // base64
}

// EnvelopeBlob is the v1 wire format for an encrypted wallet private key.
// The private key is sealed under a random DEK (iv1/tag1/pkCipher) and the
// DEK is sealed under the passphrase-derived KEK (iv2/tag2/dekCipher).
// All binary fields are base64 standard encoding.
//
// AADHint is advisory only: decrypt paths must rebuild the AAD from the
// owning user and wallet ids, never trust the blob.
type EnvelopeBlob struct {
	Version   int         `json:"v"`
	Alg       string      `json:"alg"`
	KDF       EnvelopeKDF `json:"kdf"`
	IV1       string      `json:"iv1"`
	Tag1      string      `json:"tag1"`
	PKCipher  string      `json:"pkCipher"`
	IV2       string      `json:"iv2"`
	Tag2      string      `json:"tag2"`
	DEKCipher string      `json:"dekCipher"`
	AADHint   string      `json:"aadHint,omitempty"`
}

// Wallet is a user-owned Solana signing wallet. Key material is stored either
// as a v1 envelope blob or as a legacy ciphertext string; exactly one of the
// two is set.
type Wallet struct {
	ID          string
	UserID      string
	Label       string
	PublicKey   string
	IsProtected bool
	IsActive    bool

	// Envelope is the v1 key envelope, nil for legacy wallets.
	Envelope *EnvelopeBlob
	// LegacyCiphertext is the pre-envelope encrypted key, empty for v1 wallets.
	LegacyCiphertext string
}

// AAD returns the additional authenticated data every envelope operation for
// this wallet must use.
func (w Wallet) AAD() string {
	return WalletAAD(w.UserID, w.ID)
}

// WalletAAD builds the canonical AAD string for a (user, wallet) pair.
func WalletAAD(userID, walletID string) string {
	return "user:" + userID + ":wallet:" + walletID
}
