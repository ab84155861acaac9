package bind

import "errors"

var (
	// ErrNilBinding is returned by Attach when a zero-value Binding is
	// supplied.
	ErrNilBinding = errors.New("binding is nil")
)
