package fetcher

import (
	"errors"
	"fmt"
)

// Kind classifies why a fetch attempt failed.
type Kind int

const (
	// KindTransport covers unreachable hosts, refused connections, timeouts,
	// non-200 responses and bodies cut off mid-transfer.
	KindTransport Kind = iota
	// KindDecode means the full body arrived but is not a decodable image.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is returned by Fetch for every failed attempt.
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failure fetching %s: %v", e.Kind, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}
