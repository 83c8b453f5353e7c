package database

import "errors"

var (
	// ErrNotFound is returned when the requested item, tag or identity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoMergeSources is returned by a merge whose source set is empty once the target is removed.
	ErrNoMergeSources = errors.New("no source identities to merge")

	// ErrTagExists is returned when a manual tag duplicates an existing (item, label, source).
	ErrTagExists = errors.New("tag already exists on this item")
)
