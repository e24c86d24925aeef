package content

import "errors"

// ErrPoolExhausted is returned by SelectUnused when every rendered item
// in the room has already been consumed by a round.
var ErrPoolExhausted = errors.New("content pool exhausted")

// ErrCaptionTooShort is returned when a submitted caption is below the
// minimum length.
var ErrCaptionTooShort = errors.New("caption too short")

// ErrContentNotFound is returned when no content item exists for the
// given ID.
var ErrContentNotFound = errors.New("content item not found")

// ErrAlreadyUsed is returned when MarkUsed targets an item another
// round already consumed.
var ErrAlreadyUsed = errors.New("content item already used")
