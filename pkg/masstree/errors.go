package masstree

import "errors"

// ErrClosed is returned by Get, Put and Remove after Close. Scan and
// ReverseScan do not check for a closed table.
var ErrClosed = errors.New("masstree: table closed")

// ErrKeyTooLong is returned when a key exceeds MaxKeyLen.
var ErrKeyTooLong = errors.New("masstree: key exceeds configured maximum length")
