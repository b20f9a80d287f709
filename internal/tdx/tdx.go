// Package tdx provides helpers around the TDLib client bindings: the
// protocol error taxonomy, the push-update pump, request batching and the
// constants that TDLib assigns a special meaning to.
package tdx

import (
	"errors"
	"time"

	"github.com/zelenin/go-tdlib/client"
)

const (
	// DefaultBatchSize is the maximum number of message IDs that a single
	// deleteMessages request accepts.
	DefaultBatchSize = 100
	// DefaultPageSize is the page limit for chat list and message search
	// requests (the server caps it at 100).
	DefaultPageSize = 100
	// RemovedOrder is the chat position order meaning "the chat is no
	// longer in this list".
	RemovedOrder = 0
	// DefaultLoadDelay is the pause between consecutive loadChats pages.
	DefaultLoadDelay = 250 * time.Millisecond
)

// TDLib protocol error codes that the program gives a special treatment to.
const (
	// CodeNotFound signals an exhausted chat list during loadChats. It is a
	// loop terminator, not a failure.
	CodeNotFound int32 = 404
	// CodePhoneInvalid is returned for a malformed phone number.
	CodePhoneInvalid int32 = 406
	// CodeUnregistered is a local, reserved code for the "account is not
	// registered" condition, which TDLib reports as a state, not an error.
	CodeUnregistered int32 = -111
)

// TDError returns the typed protocol error carried by err, if any. Any
// other error is an "unknown" error in terms of the taxonomy.
func TDError(err error) (*client.Error, bool) {
	var resp client.ResponseError
	if errors.As(err, &resp) && resp.Err != nil {
		return resp.Err, true
	}
	return nil, false
}

// HasCode reports whether err is a protocol error with the given code.
func HasCode(err error, code int32) bool {
	e, ok := TDError(err)
	return ok && e.Code == code
}

// IsNotFound reports whether err is the 404 protocol error that TDLib uses
// to signal "no more results".
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}

// ProtocolError synthesizes a typed protocol error with the given code. It
// is indistinguishable from an error returned by the client itself.
func ProtocolError(code int32, msg string) error {
	return client.ResponseError{Err: &client.Error{Code: code, Message: msg}}
}

// SplitBy splits input into chunks of at most n items. The last chunk may
// be shorter. n must be positive.
func SplitBy[T any](n int, input []T) [][]T {
	out := make([][]T, 0, (len(input)+n-1)/n)
	for i := 0; i < len(input); i += n {
		end := min(i+n, len(input))
		out = append(out, input[i:end:end])
	}
	return out
}
