// Package storageerr defines the sentinel errors surfaced across the core's
// component boundaries, matching the propagation policy each caller is
// expected to branch on.
package storageerr

import "errors"

var (
	// Validation.
	ErrInvalidPageID  = errors.New("invalid page id")
	ErrSlotOutOfRange = errors.New("slot out of range")
	ErrDuplicateKey   = errors.New("duplicate key")
	ErrNotFound       = errors.New("not found")
	ErrSlotDeleted    = errors.New("slot deleted")

	// Resource exhaustion.
	ErrOutOfFrames = errors.New("out of buffer frames")
	ErrOutOfMemory = errors.New("out of memory allocating page")

	// Isolation / locking. These carry a transaction-abort condition: the
	// caller must call TransactionManager.Abort on receipt.
	ErrLockOnReadUncommitted = errors.New("shared lock not permitted under read uncommitted")
	ErrLockOnShrinking       = errors.New("lock request rejected: transaction is shrinking")
	ErrUpgradeConflict       = errors.New("another transaction is already upgrading this lock")
	ErrDeadlock              = errors.New("deadlock: transaction aborted by detector")

	// Table / heap page.
	ErrSlotSizeExceeded = errors.New("updated tuple exceeds slot capacity")
)
