package repository

import (
	"errors"
	"fmt"
)

// ErrRemoved is returned by operations on a repository after Destroy
var ErrRemoved = errors.New("repository has been removed")

// ErrExternalTool matches every *ExternalToolError with errors.Is
var ErrExternalTool = errors.New("external tool error")

// ExternalToolError is returned when git exited non-zero, could not be started,
// timed out or returned output which could not be used (eg. unknown branch).
type ExternalToolError struct {
	Op  string // git sub command eg. clone, fetch, ls-remote
	Err error
}

func (e *ExternalToolError) Error() string {
	return fmt.Sprintf("git %s failed: %s", e.Op, e.Err)
}

func (e *ExternalToolError) Unwrap() error {
	return e.Err
}

func (e *ExternalToolError) Is(target error) bool {
	return target == ErrExternalTool
}
