package audit

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/intake-labs/ire/pkg/fault"
)

// KeyProvider signs export bundles. The in-memory provider serves
// development and tests; production can swap in an HSM or KMS backend.
type KeyProvider interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
}

// MemoryKeyProvider holds an Ed25519 keypair in process memory.
type MemoryKeyProvider struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewMemoryKeyProvider generates a fresh random keypair.
func NewMemoryKeyProvider() (*MemoryKeyProvider, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, "", "keygen_failed", err)
	}
	return &MemoryKeyProvider{pub: pub, priv: priv}, nil
}

// DeriveKeyProvider derives the export-signing keypair from a master
// seed with HKDF-SHA256, so a deployment can hold one secret and still
// rotate the derived key by changing the info label.
func DeriveKeyProvider(masterSeed []byte, info string) (*MemoryKeyProvider, error) {
	if len(masterSeed) == 0 {
		return nil, fault.New(fault.KindValidation, "", "empty_master_seed")
	}
	r := hkdf.New(sha256.New, masterSeed, []byte("ire-audit-export"), []byte(info))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fault.Wrap(fault.KindInternal, "", "hkdf_failed", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &MemoryKeyProvider{pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
}

func (m *MemoryKeyProvider) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(m.priv, msg), nil
}

func (m *MemoryKeyProvider) PublicKey() ed25519.PublicKey {
	return m.pub
}
