package canvas

import (
	"errors"
	"fmt"
)

// ErrHost matches every error returned by Client.
var ErrHost = errors.New("grading host error")

// HostError describes a failed grading-host call.  StatusCode is 0 when
// the request never got a response.
type HostError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *HostError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("canvas %s: http %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("canvas %s: %v", e.Op, e.Err)
}

func (e *HostError) Unwrap() error { return e.Err }

func (e *HostError) Is(target error) bool { return target == ErrHost }

func hostErr(op string, status int, err error) error {
	return &HostError{Op: op, StatusCode: status, Err: err}
}
