package transcription

import (
	"errors"
	"fmt"
)

// ErrModelNotLoaded is returned by Transcribe when LoadModel has not completed.
var ErrModelNotLoaded = errors.New("transcription model not loaded")

// TranscriptionError reports a failed inference. The pipeline skips the
// window and keeps running.
type TranscriptionError struct {
	Backend string
	Err     error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed (%s): %v", e.Backend, e.Err)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}
