package feed

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingID rejects an inbound record without a usable id.
	ErrMissingID = errors.New("notification has no id")

	// ErrMalformed rejects a payload that is not a JSON object of the
	// expected shape.
	ErrMalformed = errors.New("malformed notification payload")

	// ErrUnknownKind rejects an envelope whose kind is not recognised.
	ErrUnknownKind = errors.New("unknown event kind")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("notification store closed")
)

// AckError reports that the backend did not acknowledge an optimistic
// mutation. The local state is kept; the next resync reconciles it.
type AckError struct {
	Op  string
	ID  string
	Err error
}

func (e *AckError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not acknowledged: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s not acknowledged: %v", e.Op, e.ID, e.Err)
}

func (e *AckError) Unwrap() error { return e.Err }

// isNotFound reports whether err carries a NotFound() bool method that
// returns true, which is how transport errors signal a 404.
func isNotFound(err error) bool {
	var nf interface{ NotFound() bool }
	return errors.As(err, &nf) && nf.NotFound()
}
