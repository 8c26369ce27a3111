package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable is returned when an item's content can't be opened
	// (deleted file, revoked permission, unreachable URL).
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSinkRejected is returned when the sink refuses a write (quota, auth, size limits).
	ErrSinkRejected = errors.New("sink rejected write")

	// ErrPermanent marks failures that another attempt can't fix.
	ErrPermanent = errors.New("permanent failure")
)

// Op names the side of the transfer an IOError happened on.
type Op string

const (
	// OpRead ...
	OpRead Op = "read"
	// OpWrite ...
	OpWrite Op = "write"
)

// IOError is a read or write failure in the middle of an upload attempt.
// Offset is the number of bytes successfully sent before the failure.
type IOError struct {
	Item   Handle
	Op     Op
	Offset int64
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("upload %s: %s at offset %d: %s", e.Item, e.Op, e.Offset, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Rejected wraps err as a sink rejection. Permanent rejections are never retried.
func Rejected(err error, permanent bool) error {
	if permanent {
		return fmt.Errorf("%w: %w: %w", ErrSinkRejected, ErrPermanent, err)
	}
	return fmt.Errorf("%w: %w", ErrSinkRejected, err)
}

// IsPermanent reports whether retrying err is pointless. An unavailable source is
// only permanent when its opener marked it so.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
