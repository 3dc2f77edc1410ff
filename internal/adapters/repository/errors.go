package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound = errors.New("behavior not found")
	ErrClosed   = errors.New("store closed")
)
