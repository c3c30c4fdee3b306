// Package keymanager owns signing keypairs for the proof protocol.
//
// The private key never leaves this package: callers get a Sign capability
// and the public key, nothing else. Release wipes the private key material
// synchronously before the buffer is dropped, and every keypair is expected
// to be released exactly once, typically via defer:
//
//	kp, err := keymanager.Generate()
//	if err != nil { ... }
//	defer kp.Release()
//
// Release on every exit path, including panics unwinding through the defer,
// is the zeroization contract the proof protocol relies on.
package keymanager

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
)

// SeedSize is the byte length of a deterministic generation seed.
const SeedSize = ed25519.SeedSize

// ErrReleased is returned by Sign after the keypair has been released.
var ErrReleased = errors.New("keypair has been released")

// Keypair holds an ed25519 signing key with an explicit zero-on-release
// lifecycle. It is safe for concurrent use until Release is called.
type Keypair struct {
	mu       sync.Mutex
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	released bool
}

// Generate creates a keypair from the system randomness source. Failure here
// means the randomness source is exhausted and is unrecoverable for the
// process holding the key.
func Generate() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{priv: priv, pub: pub}, nil
}

// FromSeed derives a keypair deterministically from a seed.
//
// Test and demo use only: a seed an attacker can influence lets them
// reproduce the private key. Production code paths must call Generate.
func FromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	// NewKeyFromSeed copies the seed; the caller keeps responsibility for
	// wiping their own copy.
	priv := ed25519.NewKeyFromSeed(seed)
	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pub, priv[ed25519.SeedSize:])
	return &Keypair{priv: priv, pub: pub}, nil
}

// Public returns a copy of the public key. Copies are safe to hand out; the
// public key carries no secret material.
func (k *Keypair) Public() ed25519.PublicKey {
	pub := make(ed25519.PublicKey, len(k.pub))
	copy(pub, k.pub)
	return pub
}

// Sign signs message with the private key. After Release it returns
// ErrReleased instead of signing with wiped key material.
func (k *Keypair) Sign(message []byte) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.released {
		return nil, ErrReleased
	}
	return ed25519.Sign(k.priv, message), nil
}

// Release overwrites the private key bytes with zeros and marks the keypair
// unusable. It is idempotent and safe to call from a deferred statement on
// any exit path.
func (k *Keypair) Release() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.released {
		return
	}
	for i := range k.priv {
		k.priv[i] = 0
	}
	k.priv = nil
	k.released = true
}

// Released reports whether the private key has been wiped.
func (k *Keypair) Released() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.released
}
