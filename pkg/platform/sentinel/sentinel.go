package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and vendor adapters return
// these (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: session or cache entry does not exist in the store
//   - ErrExpired: access token or session is past its expiry instant
//   - ErrInvalidState: entity in wrong state for requested operation
//   - ErrUnavailable: backing store or vendor temporarily unavailable
//
// For request validation failures use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
