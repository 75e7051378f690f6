// Package httputil bounds payload sizes on both edges of the gateway:
// JSON bodies arriving at the API and responses coming back from
// provider backends.
package httputil

import (
	"errors"
	"fmt"
	"io"
)

// MaxProviderResponseBytes caps upstream provider response bodies.
// Image APIs return URLs or base64 payloads; anything past 10MB is a
// misbehaving backend.
const MaxProviderResponseBytes int64 = 10 * 1024 * 1024

// ErrBodyTooLarge reports a payload that exceeded its byte budget.
var ErrBodyTooLarge = errors.New("body exceeds size limit")

// ReadBody drains r up to limit bytes. On overflow it returns the
// truncated prefix together with ErrBodyTooLarge so callers can still
// log a sample of the offending payload. A non-positive limit reads
// the body unbounded.
func ReadBody(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}

	buf, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return buf, err
	}
	if int64(len(buf)) > limit {
		return buf[:limit], fmt.Errorf("%w (over %d bytes)", ErrBodyTooLarge, limit)
	}
	return buf, nil
}
