package law

import "errors"

var (
	// ErrNotFound is returned by stores when no record or watermark exists
	// for the requested key.
	ErrNotFound = errors.New("not found")

	// ErrSourceNotRegistered means the requested source name has no adapter
	// in the registry. Fatal for a pipeline run.
	ErrSourceNotRegistered = errors.New("source not registered")

	// ErrPublisherUnavailable means the publish phase was requested but no
	// publisher is configured. Fatal for a pipeline run.
	ErrPublisherUnavailable = errors.New("publisher unavailable")

	// ErrInvalidRecord is returned by stores for records missing the
	// immutable identity fields.
	ErrInvalidRecord = errors.New("invalid record: id and source are required")
)
