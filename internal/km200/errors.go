package km200

import "errors"

// Errors returned by the device pipeline. Check with errors.Is.
//
// Framing, crypto, parse and fetch errors are local to one endpoint and one
// cycle. Validation, not-writable and write-transport errors are terminal for
// one write request. None of them are fatal to the process.
var (
	// ErrFraming is returned when a response body is not valid base64.
	ErrFraming = errors.New("km200: malformed base64 framing")

	// ErrCrypto is returned for a bad key or ciphertext that is not a whole
	// number of cipher blocks.
	ErrCrypto = errors.New("km200: cipher failure")

	// ErrParse is returned when decrypted plaintext is not a JSON record
	// with an id, or a numeric record carries a non-numeric value.
	ErrParse = errors.New("km200: unexpected plaintext")

	// ErrFetch is returned for transport errors and non-200 GET responses.
	ErrFetch = errors.New("km200: fetch failed")

	// ErrValidation is returned when a write value violates the cached constraints.
	ErrValidation = errors.New("km200: write value rejected")

	// ErrNotWritable is returned when no writable constraints are cached for an id.
	ErrNotWritable = errors.New("km200: endpoint not writable")

	// ErrWriteTransport is returned for transport errors and non-2xx POST responses.
	ErrWriteTransport = errors.New("km200: write transport failed")

	// ErrQueueFull is returned by Writer.Submit when the write queue is at capacity.
	ErrQueueFull = errors.New("km200: write queue full")
)

// ValidationError describes why a write value was refused.
// It matches ErrValidation under errors.Is.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return ErrValidation.Error() + ": " + e.Reason
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// errorReason maps a pipeline error to a short, low-cardinality label.
func errorReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFetch):
		return "fetch"
	case errors.Is(err, ErrFraming):
		return "framing"
	case errors.Is(err, ErrCrypto):
		return "crypto"
	case errors.Is(err, ErrParse):
		return "parse"
	default:
		return "other"
	}
}
