package scheduler

import "fmt"

// StructuralError means the walk reached a state the package tree should make
// impossible, such as a package with no entry. It aborts the whole walk.
type StructuralError struct {
	Package string
	Reason  string
	Err     error
}

func (e *StructuralError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("package %s: %s: %v", e.Package, e.Reason, e.Err)
	}
	return fmt.Sprintf("package %s: %s", e.Package, e.Reason)
}

func (e *StructuralError) Unwrap() error { return e.Err }

// PanicError wraps a panic raised by a builder. It aborts the whole walk.
type PanicError struct {
	Package string
	Value   any
	Stack   []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("builder for package %s panicked: %v", e.Package, e.Value)
}
