package importer

import "errors"

var (
	// ErrInvalidConfiguration is returned before any I/O when the run
	// options are unusable.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrFetchFailure wraps network and parse errors of the feed client.
	ErrFetchFailure = errors.New("feed fetch failed")
	// ErrRepositoryFailure wraps write and lookup errors of the stores.
	ErrRepositoryFailure = errors.New("repository failure")
)
