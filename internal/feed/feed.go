// Package feed fetches a listing's external calendar feed and normalizes it
// into a list of bookings. The reconciliation engine consumes the normalized
// list and never touches raw ICS bytes.
package feed

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks transient fetch failures (network, non-2xx). Callers
// may retry with backoff; the sync pass aborts with stored state unchanged.
var ErrUnavailable = errors.New("feed unavailable")

// ErrMalformed marks feeds that fetched fine but could not be parsed. Not
// retryable without an upstream fix.
var ErrMalformed = errors.New("feed malformed")

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
