package repo

import "errors"

// Sentinel errors for the failure classes that invalidate a candidate
// package set. Structural and validation findings are also recorded as
// ERROR diagnostics on the run's collector; the sentinels let callers
// classify programmatically with errors.Is.
var (
	// ErrDuplicatePackagePath marks a package name found at two
	// different relative locations in one run.
	ErrDuplicatePackagePath = errors.New("duplicate package path")

	// ErrMissingHint marks a directory holding artifacts without a
	// hint file.
	ErrMissingHint = errors.New("missing hint file")

	// ErrUnresolvedDependency marks a requires entry that does not
	// resolve to a known, non-skip package with a current version.
	ErrUnresolvedDependency = errors.New("unresolved dependency")

	// ErrMalformedVersion marks a version or release that does not
	// start with a digit, or a release containing a hyphen.
	ErrMalformedVersion = errors.New("malformed version")
)
