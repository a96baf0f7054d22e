package detector

import "fmt"

const (
	MsgPredictFailed = "Error processing image"
	MsgEncodeFailed  = "Error encoding image to base64"
)

// ProcessingError is the single failure kind of the service; only the
// message of the cause survives.
type ProcessingError struct {
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}
