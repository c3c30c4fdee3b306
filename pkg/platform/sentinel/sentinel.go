package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and sinks return these
// (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrClosed: component has been shut down and accepts no more work
// - ErrUnavailable: sink or backing service temporarily unavailable
//
// For validation errors (bad input, malformed proofs), use pkg/domain-errors.
var (
	ErrClosed      = errors.New("closed")
	ErrUnavailable = errors.New("unavailable")
)
