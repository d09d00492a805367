package transcriber

import "fmt"

// TranscriptionServiceError is returned when the transcription service cannot
// be reached or answers with a non-success status. Its message is shown to the
// user as is.
type TranscriptionServiceError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TranscriptionServiceError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("transcription service returned status %d: %s", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("transcription service returned status %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("transcription service unreachable: %v", e.Err)
	default:
		return "transcription service error: " + e.Message
	}
}

func (e *TranscriptionServiceError) Unwrap() error { return e.Err }
