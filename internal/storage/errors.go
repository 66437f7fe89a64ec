package storage

import "errors"

// Sentinel errors surfaced by the storage layer. Callers match them with
// errors.Is; most sites wrap them with positional context via fmt.Errorf.
var (
	// ErrDuplicateKey is returned by BTree.Insert when the key exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrCorruptPage is returned when a page header or body fails to parse.
	ErrCorruptPage = errors.New("corrupt page")

	// ErrCorruptRow is returned when row bytes fail to decode.
	ErrCorruptRow = errors.New("corrupt row")

	// ErrValueOutOfRange is returned when a value exceeds its column type's
	// numeric bounds.
	ErrValueOutOfRange = errors.New("value out of range")

	// ErrInvalidValue is returned when a literal cannot be coerced to the
	// column's type.
	ErrInvalidValue = errors.New("invalid value")

	// ErrPayloadTooLarge is returned when a single leaf cell cannot fit in
	// an empty page.
	ErrPayloadTooLarge = errors.New("payload exceeds page capacity")

	// ErrNoTransaction is returned when commit or rollback is called with
	// no transaction active.
	ErrNoTransaction = errors.New("no active transaction")

	// ErrTransactionActive is returned when begin is called while a
	// transaction is already active.
	ErrTransactionActive = errors.New("transaction already active")

	// errLeafOverflow is returned by writeLeafRows when a cell set does not
	// fit in a leaf body. Insert checks the size itself and splits before
	// writing, so the error surfaces only when a split half still overflows.
	errLeafOverflow = errors.New("leaf overflow")
)
