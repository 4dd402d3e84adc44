package layout

import "fmt"

// ErrorKind enumerates layout planning failures.
type ErrorKind uint8

const (
	// ErrDuplicateExternShared indicates a name declared extern shared twice.
	ErrDuplicateExternShared ErrorKind = iota + 1
	// ErrDuplicateParameter indicates a duplicate parameter name within one
	// call argument list.
	ErrDuplicateParameter
	// ErrUnresolvedTexture indicates a texture identifier the device cannot
	// resolve.
	ErrUnresolvedTexture
)

// LayoutError reports a malformed or unsupported input program shape. It is
// not retryable; the input program lies outside the supported subset.
type LayoutError struct {
	Kind   ErrorKind
	Kernel string
	Name   string
	Err    error
}

func (e *LayoutError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case ErrDuplicateExternShared:
		return fmt.Sprintf("kernel %s: external shared variable %q declared more than once", e.Kernel, e.Name)
	case ErrDuplicateParameter:
		return fmt.Sprintf("kernel %s: duplicate parameter name %q in call argument list", e.Kernel, e.Name)
	case ErrUnresolvedTexture:
		if e.Err != nil {
			return fmt.Sprintf("kernel %s: cannot resolve texture %q: %v", e.Kernel, e.Name, e.Err)
		}
		return fmt.Sprintf("kernel %s: cannot resolve texture %q", e.Kernel, e.Name)
	default:
		return fmt.Sprintf("kernel %s: layout error kind=%d name=%q", e.Kernel, e.Kind, e.Name)
	}
}

// Unwrap returns the underlying cause, if any.
func (e *LayoutError) Unwrap() error { return e.Err }
