package fetch

import (
	"errors"
	"fmt"
)

// Error kinds. Use errors.Is against these to classify a fetch failure.
var (
	ErrTransport             = errors.New("transport error")
	ErrEmptyPayload          = errors.New("empty payload")
	ErrUnexpectedContentType = errors.New("unexpected content type")
	ErrCancelled             = errors.New("fetch cancelled")
	ErrPayloadTooLarge       = errors.New("payload too large")
)

// Error describes a failed fetch.
type Error struct {
	Kind        error  // one of the Err* kinds above
	DocumentID  string // document being fetched
	Status      int    // HTTP status, 0 when no response was received
	ContentType string // declared media type, set for ErrUnexpectedContentType
	Err         error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("fetch document %q: %v", e.DocumentID, e.Kind)
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s (status %d): %v", msg, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s (status %d)", msg, e.Status)
	case e.ContentType != "":
		return fmt.Sprintf("%s: %q", msg, e.ContentType)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsCancelled reports whether err comes from a caller-cancelled fetch.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsRetryable reports whether retrying the same request may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport)
}
