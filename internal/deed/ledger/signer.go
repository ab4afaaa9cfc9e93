package ledger

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the sending account's key. It never prints the key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner wraps an already-loaded private key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *Signer) Address() common.Address { return s.address }

func (s *Signer) String() string { return "signer(" + s.address.Hex() + ")" }

func (s *Signer) sign(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// KeySource describes where the signing key comes from. Exactly one of
// EncryptedKeyFile or HexKey should be set; the encrypted file wins.
type KeySource struct {
	// EncryptedKeyFile is an age-encrypted file containing the hex key.
	EncryptedKeyFile string
	// IdentityFile holds the age identities able to decrypt EncryptedKeyFile.
	IdentityFile string
	// HexKey is a raw key for development networks.
	HexKey string
}

// Load resolves the key source into a Signer.
func (ks KeySource) Load() (*Signer, error) {
	switch {
	case ks.EncryptedKeyFile != "":
		return loadEncryptedKey(ks.EncryptedKeyFile, ks.IdentityFile)
	case ks.HexKey != "":
		return signerFromHex(ks.HexKey)
	default:
		return nil, fmt.Errorf("no signing key configured")
	}
}

func loadEncryptedKey(keyPath, identityPath string) (*Signer, error) {
	if identityPath == "" {
		return nil, fmt.Errorf("age identity file is required for an encrypted key")
	}
	idRaw, err := os.ReadFile(identityPath)
	if err != nil {
		return nil, fmt.Errorf("read age identity: %w", err)
	}
	identities, err := age.ParseIdentities(bytes.NewReader(idRaw))
	if err != nil {
		return nil, fmt.Errorf("parse age identity: %w", err)
	}
	sealed, err := os.Open(keyPath)
	if err != nil {
		return nil, fmt.Errorf("open encrypted key: %w", err)
	}
	defer sealed.Close()
	return decryptKey(sealed, identities...)
}

func decryptKey(sealed io.Reader, identities ...age.Identity) (*Signer, error) {
	plain, err := age.Decrypt(sealed, identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypt signing key: %w", err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	return signerFromHex(string(raw))
}

func signerFromHex(s string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		// the underlying error can echo key material
		return nil, fmt.Errorf("invalid signing key")
	}
	return NewSigner(key), nil
}
