package message

import "errors"

// ErrMalformed is returned by Decode when a stored or transmitted entry
// does not conform to the wire format. Callers (backends) treat this as
// non-fatal: skip the entry and log a warning.
var ErrMalformed = errors.New("message: malformed wire encoding")
