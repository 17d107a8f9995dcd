package store

import "errors"

var (
	ErrNotFound = errors.New("queued action not found")
	ErrClosed   = errors.New("action store closed")
)
