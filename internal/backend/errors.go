package backend

import "fmt"

// InfraError is a failure of the compilation machinery itself, as opposed
// to errors in the compiled code. It always aborts the build.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("compiler infrastructure: %s: %v", e.Op, e.Err)
}

func (e *InfraError) Unwrap() error {
	return e.Err
}
