package json

import "fmt"

// MalformedInputError reports a stream that is not a single JSON array of
// objects. It is fatal for a run: the decoder cannot resynchronize.
type MalformedInputError struct {
	// Offset is the byte offset in the input where decoding stopped.
	Offset int64
	// Element is the zero-based index of the array element being decoded,
	// or -1 when the failure happened outside any element.
	Element int
	Err     error
}

func (e *MalformedInputError) Error() string {
	if e.Element >= 0 {
		return fmt.Sprintf("malformed input at byte %d (element %d): %v", e.Offset, e.Element, e.Err)
	}
	return fmt.Sprintf("malformed input at byte %d: %v", e.Offset, e.Err)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }
