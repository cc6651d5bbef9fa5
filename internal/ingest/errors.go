package ingest

import "errors"

var (
	ErrUnauthorized       = errors.New("invalid admin credentials")
	ErrServiceUnavailable = errors.New("admin functionality not configured")
	ErrUnknownChannel     = errors.New("unknown channel")
)
