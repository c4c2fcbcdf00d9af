package models

import "errors"

// Sentinel errors returned by the card service and synchronizer.
// Callers match them with errors.Is.
var (
	// ErrNotFound is returned for operations on an unknown or deleted card.
	ErrNotFound = errors.New("card not found")

	// ErrAlreadyDeleted is returned when deleting a card that is already a tombstone.
	ErrAlreadyDeleted = errors.New("card already deleted")

	// ErrInvalidNumber is returned for card numbers that fail length or checksum validation.
	ErrInvalidNumber = errors.New("invalid card number")

	// ErrCollisionRetryExhausted is returned when the generator could not
	// find a free card number within the bounded number of attempts.
	ErrCollisionRetryExhausted = errors.New("card number collision retries exhausted")

	// ErrSyncConflictUnresolved is reserved for a future field-level merge
	// policy; the current last-writer-wins merge never returns it.
	ErrSyncConflictUnresolved = errors.New("sync conflict unresolved")

	// ErrTransportFailure indicates the remote store was unreachable.
	ErrTransportFailure = errors.New("remote store unreachable")
)
