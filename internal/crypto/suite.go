// Package crypto is the boundary to the cryptographic primitives spec
// §1 explicitly places out of scope ("treated as a black-box
// library"): entry signatures and payload hashing. The default
// implementation uses standard library primitives (crypto/ed25519,
// crypto/sha256) because the spec asks us not to have an opinion here
// — see DESIGN.md, "Standard-library justifications" — grounded on the
// same thin-boundary-over-stdlib-crypto convention used in
// i5heu-ouroboros-db/pkg/auth (a Hash type wrapping crypto/sha256 at
// its own trust-boundary edge).
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/p2panda/aquadoggo/internal/types"
)

// Suite is everything the validator and publish pipeline need from the
// cryptographic layer.
type Suite interface {
	// Hash returns the content hash of data.
	Hash(data []byte) types.Hash
	// Verify reports whether sig is a valid signature by pub over msg.
	Verify(pub types.PublicKey, msg, sig []byte) bool
	// Sign produces a signature over msg using priv. Only used by
	// test fixtures and tooling that mint entries; nodes themselves
	// never sign on another author's behalf.
	Sign(priv ed25519.PrivateKey, msg []byte) []byte
}

// Ed25519SHA256 is the default Suite implementation.
type Ed25519SHA256 struct{}

func (Ed25519SHA256) Hash(data []byte) types.Hash {
	return sha256.Sum256(data)
}

func (Ed25519SHA256) Verify(pub types.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig)
}

func (Ed25519SHA256) Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// GenerateKeyPair mints a fresh Ed25519 key pair, for tests and the
// (out-of-scope) CLI key-file bootstrap described in spec §6.
func GenerateKeyPair() (types.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return types.PublicKey{}, nil, fmt.Errorf("generate key pair: %w", err)
	}
	var pk types.PublicKey
	copy(pk[:], pub)
	return pk, priv, nil
}

// LoadOrCreateKey implements spec §6's "private key file is 32 bytes
// of raw Ed25519 seed (hex-encoded in-file for portability)": it reads
// path if present, or mints a fresh key pair and writes it there
// (mode 0600) if not — mirroring the "first run bootstraps identity"
// convention new node processes need but existing ones must not
// silently rotate.
func LoadOrCreateKey(path string) (types.PublicKey, ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		seed, decErr := hex.DecodeString(string(raw))
		if decErr != nil {
			return types.PublicKey{}, nil, fmt.Errorf("decode key file %s: %w", path, decErr)
		}
		if len(seed) != ed25519.SeedSize {
			return types.PublicKey{}, nil, fmt.Errorf("key file %s: expected %d byte seed, got %d", path, ed25519.SeedSize, len(seed))
		}
		priv := ed25519.NewKeyFromSeed(seed)
		var pk types.PublicKey
		copy(pk[:], priv.Public().(ed25519.PublicKey))
		return pk, priv, nil
	}
	if !os.IsNotExist(err) {
		return types.PublicKey{}, nil, fmt.Errorf("read key file %s: %w", path, err)
	}

	pk, priv, err := GenerateKeyPair()
	if err != nil {
		return types.PublicKey{}, nil, err
	}
	seed := priv.Seed()
	if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)), 0o600); err != nil {
		return types.PublicKey{}, nil, fmt.Errorf("write key file %s: %w", path, err)
	}
	return pk, priv, nil
}
