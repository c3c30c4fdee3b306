package auditlog

import "time"

// Level grades audit entries. Cryptographic rejections log at LevelWarning
// or above since they are treated as adversarial-input signals.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Entry is one structured audit record. It exists in plaintext only inside
// process memory; at rest it is always the AEAD-sealed EncryptedEntry.
// Metadata values must already be display-safe: truncated signature
// excerpts, sizes, error codes. Raw signatures and key bytes go only inside
// the ciphertext.
type Entry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	UserID    string            `json:"user_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EncryptedEntry is the at-rest form: a fresh random nonce and the AEAD
// ciphertext of the JSON-serialized Entry. Altering either causes decryption
// to fail closed.
type EncryptedEntry struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}
