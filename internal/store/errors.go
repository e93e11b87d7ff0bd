package store

import "errors"

var (
	// ErrJobNotFound is returned when a job ID has no matching row.
	ErrJobNotFound = errors.New("job not found")

	// ErrUnknownEngine is returned when a database URL's scheme does not
	// match any supported engine.
	ErrUnknownEngine = errors.New("unknown database engine")
)
