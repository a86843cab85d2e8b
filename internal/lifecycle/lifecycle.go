// Package lifecycle holds the invoice and subscription state machines.
// Functions here mutate in-memory models only; persistence belongs to the services.
package lifecycle

import "errors"

// ErrInvalidTransition is returned when a status change is not in the transition table.
var ErrInvalidTransition = errors.New("invalid status transition")
