package data

import "errors"

// Error taxonomy shared by the trainer and the image pipeline. Callers match
// with errors.Is; every error returned by this module wraps one of these or a
// context error.
var (
	// ErrConfiguration covers malformed densities, incomplete corpora and shape mismatches.
	ErrConfiguration = errors.New("configuration error")
	// ErrResourceUnavailable means the model is not loaded or cannot be loaded.
	ErrResourceUnavailable = errors.New("model unavailable")
	// ErrDecode means the supplied image could not be decoded.
	ErrDecode = errors.New("image decode failed")
)
