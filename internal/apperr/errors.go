// Package apperr holds the sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyOpen      = errors.New("note already open")
	ErrFetchFailed      = errors.New("fetch failed")
	ErrMalformedAddress = errors.New("malformed address state")
	ErrMalformedContent = errors.New("malformed note content")
	ErrStale            = errors.New("stale result")
	ErrNotWired         = errors.New("link is not wired into the stack")
)
