// Package proof implements the context-bound proof protocol: signing a
// canonical serialization of a business payload and verifying that signature
// later. Verification is a single boolean outcome; there is no partially
// valid proof.
//
// MakeProof and VerifyProof are the permissive entry points for internal use.
// The strict variants add the input hardening (empty and oversized context
// rejection) applied at the network boundary. Both share one cryptographic
// path, so the modes cannot drift apart.
package proof

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"

	"proofgate/internal/keymanager"
	dErrors "proofgate/pkg/domain-errors"
)

// AlgorithmEd25519 is the only signature algorithm the protocol currently
// accepts. The field exists on the wire so the set can grow without breaking
// old proofs.
const AlgorithmEd25519 = "ed25519"

// MaxContextBytes is the strict-mode ceiling on the canonical serialization,
// blocking trivial resource exhaustion via oversized payloads.
const MaxContextBytes = 1 << 20 // 1 MiB

// Proof binds a context to a signature over its canonical bytes.
// Signature and PublicKey travel base64-encoded in JSON.
type Proof struct {
	Context       Context `json:"context"`
	Signature     []byte  `json:"signature"`
	PublicKey     []byte  `json:"publicKey"`
	Algorithm     string  `json:"algorithm"`
	IdentityToken string  `json:"identityToken,omitempty"`
}

// ID derives a stable identifier from the signed bytes, so the same proof
// submitted twice correlates to one ID in the audit trail. Returns the empty
// string when the context cannot be canonicalized.
func (p *Proof) ID() string {
	canonical, err := CanonicalBytes(p.Context)
	if err != nil {
		return ""
	}
	digest := sha256.New()
	digest.Write(canonical)
	digest.Write(p.Signature)
	return hex.EncodeToString(digest.Sum(nil)[:16])
}

// MakeProof canonicalizes the context, signs it, and packages the result.
// It accepts any context that canonicalizes, including an empty one; callers
// at trust boundaries should use MakeProofStrict.
func MakeProof(kp *keymanager.Keypair, ctx Context) (*Proof, error) {
	canonical, err := CanonicalBytes(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "context cannot be serialized")
	}

	signature, err := kp.Sign(canonical)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "signing failed")
	}

	return &Proof{
		Context:   ctx,
		Signature: signature,
		PublicKey: kp.Public(),
		Algorithm: AlgorithmEd25519,
	}, nil
}

// MakeProofStrict is MakeProof plus the hardened input validation: an empty
// context and a context whose canonical form exceeds MaxContextBytes are
// rejected before any signing happens.
func MakeProofStrict(kp *keymanager.Keypair, ctx Context) (*Proof, error) {
	if err := validateStrict(ctx); err != nil {
		return nil, err
	}
	return MakeProof(kp, ctx)
}

// VerifyProof recomputes the canonical bytes from the proof's context and
// checks the signature against them under the proof's public key. On success
// it returns the verified context; any mismatch is CodeVerificationFailed
// with no further detail.
func VerifyProof(p *Proof) (Context, error) {
	if p.Algorithm != AlgorithmEd25519 {
		return nil, dErrors.New(dErrors.CodeUnsupportedAlgorithm, "unsupported signature algorithm").
			WithField("algorithm", p.Algorithm)
	}
	if len(p.PublicKey) != ed25519.PublicKeySize {
		return nil, dErrors.New(dErrors.CodeInvalidPublicKey, "public key must be 32 bytes").
			WithField("length", len(p.PublicKey))
	}
	if len(p.Signature) != ed25519.SignatureSize {
		return nil, dErrors.New(dErrors.CodeInvalidSignatureFormat, "signature must be 64 bytes").
			WithField("length", len(p.Signature))
	}

	canonical, err := CanonicalBytes(p.Context)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "context cannot be serialized")
	}

	if !ed25519.Verify(ed25519.PublicKey(p.PublicKey), canonical, p.Signature) {
		return nil, dErrors.New(dErrors.CodeVerificationFailed, "signature does not match context")
	}

	return p.Context, nil
}

// VerifyProofStrict is VerifyProof plus the strict input validation rules.
// The verification service always uses this entry point.
func VerifyProofStrict(p *Proof) (Context, error) {
	if err := validateStrict(p.Context); err != nil {
		return nil, err
	}
	return VerifyProof(p)
}

func validateStrict(ctx Context) error {
	if len(ctx) == 0 {
		return dErrors.New(dErrors.CodeEmptyContext, "context must not be empty")
	}
	canonical, err := CanonicalBytes(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "context cannot be serialized")
	}
	if len(canonical) > MaxContextBytes {
		return dErrors.New(dErrors.CodeContextTooLarge, "context exceeds maximum serialized size").
			WithField("max_bytes", MaxContextBytes).
			WithField("actual_bytes", len(canonical))
	}
	return nil
}
