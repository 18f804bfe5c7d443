// Package utils provides small shared helpers used across hdrproxy's
// packages, kept dependency-free so the core arena code can use them
// without pulling in anything beyond the standard library.
package utils

import "fmt"

// Wrap adds context to an error message. It returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
