package app

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidIdentity         = errors.New("invalid identity")
	ErrUnlinkedExternalAccount = errors.New("external account is not linked; call /auth/external/link first")
	ErrNoFieldsProvided        = errors.New("no fields to update")
	ErrMissingParameter        = errors.New("missing required parameter")
	ErrInvalidDate             = errors.New("date must be formatted as YYYY-MM-DD")
	ErrInvalidDuration         = errors.New("duration_ms must not be negative")
	ErrStorageUnavailable      = errors.New("storage unavailable")

	ErrMirrorUnconfigured = errors.New("not configured")
	ErrMirrorCallFailed   = errors.New("mirror call failed")

	// ErrInvalidCredentials is shown to end users; it must not reveal whether the email exists.
	ErrInvalidCredentials = errors.New("Invalid email or password")

	ErrEmailAndPasswordRequired = errors.New("Email, password, and name are required")
	ErrEmailAlreadyExists       = errors.New("User with this email already exists")
	ErrEmailRequired            = errors.New("email required")
	ErrExternalEmail            = errors.New("Email of an identity provider account cannot be changed")
	ErrInvalidResetToken        = errors.New("Invalid or expired reset token")

	ErrRecordingNotFound    = fmt.Errorf("Recording %w", ErrNotFound)
	ErrTranscriptNotFound   = fmt.Errorf("Transcript %w", ErrNotFound)
	ErrTranscriptFields     = errors.New("recording_id and text are required")
	ErrAudioRequired        = errors.New("Audio file is required")
	ErrNoAudioFile          = errors.New("Recording has no audio file")
	ErrTranscriptionFailed  = errors.New("Transcription failed")
	ErrTranscriptionOffline = errors.New("transcription is not configured")
)

// storageErr tags a store failure so handlers can map it to a server fault.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// TranscriptionError reports a failed transcription whose audio was kept.
type TranscriptionError struct {
	LocalPath string
	Err       error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("%v: %v", ErrTranscriptionFailed, e.Err)
}

func (e *TranscriptionError) Unwrap() []error {
	return []error{ErrTranscriptionFailed, e.Err}
}
