package monitor

import "errors"

// ErrCatalogUnavailable is returned when no publication batch could be
// determined, not even through the fallback generator.
var ErrCatalogUnavailable = errors.New("monitor: no publication batch available")

// ErrFetchFailed is returned when retrieving a document fails at the
// transport or HTTP level.
var ErrFetchFailed = errors.New("monitor: document fetch failed")

// ErrDocumentNotFound is returned when the fetched body indicates the rule
// is absent from the batch (not-found marker or implausibly short content).
var ErrDocumentNotFound = errors.New("monitor: document not found in batch")

// ErrSnapshotWrite is returned when persisting a fetched document fails.
// The identifier's pass stops there: comparison state would be inconsistent.
var ErrSnapshotWrite = errors.New("monitor: snapshot write failed")

// ErrInvalidIdentifier is returned when a tracked identifier cannot be used
// as a storage path component.
var ErrInvalidIdentifier = errors.New("monitor: invalid tracked identifier")
