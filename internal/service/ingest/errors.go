package ingest

import "errors"

// ErrInvalidEventType rejects custom events that are blank or reuse the web event type.
var ErrInvalidEventType = errors.New("invalid event type")
