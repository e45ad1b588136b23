// Package channel holds the transports the notifier delivers through.
package channel

import "errors"

// ErrUnavailable is returned by a sender that is not configured.
var ErrUnavailable = errors.New("channel unavailable")
