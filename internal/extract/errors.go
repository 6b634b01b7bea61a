package extract

import "errors"

// ErrExternalProcessFailed is returned when a worker cannot be started, is
// rejected by the process registry, or exits without a usable transcript.
var ErrExternalProcessFailed = errors.New("external process failed")

// ErrEmptyTranscript is returned when extraction succeeds but yields no text.
var ErrEmptyTranscript = errors.New("extraction produced an empty transcript")
