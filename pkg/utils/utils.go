// Package utils contains common utilities shared by other packages.
package utils

import (
	"io"
)

// ErrInErr is a wrapper func to not nest too deeply in an error being handled
// inside of an already error path. Not catching the error makes linters unhappy,
// but because it's already in an error path, there's not much to do.
func ErrInErr(_ error) {
}

// CloseAndLog closes c, discarding the error the same way ErrInErr does.
// Used in defers where the close error is not actionable.
func CloseAndLog(c io.Closer) {
	ErrInErr(c.Close())
}
