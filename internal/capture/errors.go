package capture

import (
	"errors"
	"fmt"
)

// ErrBodyTooLarge is reported when a failed request's body exceeded MaxBodyBytes.
var ErrBodyTooLarge = errors.New("request body exceeds capture limit")

// CaptureError wraps any failure while recording a failed request. Capture
// errors are logged and never change the response the client receives.
type CaptureError struct {
	Stage string
	Err   error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Stage, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	return &CaptureError{Stage: stage, Err: err}
}
