package core

import "fmt"

// ParseResult is the result code returned by the HTTP/URL/MIME parser entry
// points. Malformed input yields ParseError together with a Go error that
// describes what was wrong.
type ParseResult int

const (
	// ParseCont means the parser needs more bytes before it can make
	// progress; the caller must feed more input and call again.
	ParseCont ParseResult = iota
	// ParseDone means the message parsed completely; the caller may read
	// the populated object.
	ParseDone
	// ParseError means the input is malformed beyond recovery. There is
	// no retry: the caller discards the header heap.
	ParseError
)

func (r ParseResult) String() string {
	switch r {
	case ParseCont:
		return "cont"
	case ParseDone:
		return "done"
	case ParseError:
		return "error"
	default:
		return "unknown"
	}
}

// FieldResult is returned by MIME field lookup APIs.
type FieldResult int

const (
	FieldOK FieldResult = iota
	FieldNoSuchField
)

// wrapf adds context to an error, mirroring the shape of the shared
// utils.Wrap helper used elsewhere in this module, without importing it —
// the arena code stays free of any dependency beyond what the spec calls
// for.
func wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	args = append(args, err)
	return fmt.Errorf(format+": %w", args...)
}
