package verification

import (
	"encoding/json"

	"proofgate/internal/proof"
)

// VerifyRequest is the inbound wire shape.
type VerifyRequest struct {
	Proof *ProofPayload `json:"proof"`
}

// ProofPayload mirrors proof.Proof with the context kept raw until the codec
// normalizes it. Signature and PublicKey arrive base64-encoded.
type ProofPayload struct {
	Context       json.RawMessage `json:"context"`
	Signature     []byte          `json:"signature"`
	PublicKey     []byte          `json:"publicKey"`
	Algorithm     string          `json:"algorithm"`
	IdentityToken string          `json:"identityToken,omitempty"`
}

// VerifyResponse is the outbound wire shape.
type VerifyResponse struct {
	Valid   bool          `json:"valid"`
	ProofID string        `json:"proofId,omitempty"`
	Context proof.Context `json:"context,omitempty"`
	Error   *ErrorDetail  `json:"error,omitempty"`
}

// ErrorDetail is the machine-readable rejection reason. Message is
// human-readable and never includes secret material or raw cryptographic
// byte strings.
type ErrorDetail struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	RetryAfter int            `json:"retry_after,omitempty"`
}
