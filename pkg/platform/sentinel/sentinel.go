package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and the asset ledger return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in the store
// - ErrConflict: a competing write already claimed the resource
// - ErrInvalidState: record is in the wrong lifecycle state for the operation
// - ErrCapExceeded: a counter would exceed its configured cap
// - ErrUnavailable: backing service temporarily unreachable
//
// For validation errors (bad input, wrong caller), use pkg/domain-errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrCapExceeded  = errors.New("cap exceeded")
	ErrUnavailable  = errors.New("unavailable")
)
