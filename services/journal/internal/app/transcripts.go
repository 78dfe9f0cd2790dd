package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"journalease/internal/metrics"
	"journalease/pkg/domain"
	"journalease/pkg/transcribe"
)

// NewTranscript is a transcript submitted for a recording.
type NewTranscript struct {
	RecordingID int64
	Text        string
	Language    *string
	Confidence  *float64
}

// Upload is an audio file received for transcription.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Transcription is the result of a transcription proxy call.
type Transcription struct {
	Transcript string   `json:"transcript"`
	LocalPath  string   `json:"local_path"`
	FileSize   int64    `json:"file_size"`
	Language   *string  `json:"language"`
	Confidence *float64 `json:"confidence"`
}

// CreateTranscript stores a transcript for an owned recording and refreshes
// the text cached on the entry. A synced entry is re-dispatched.
func (a *App) CreateTranscript(ctx context.Context, userID int64, in NewTranscript) (domain.Transcript, error) {
	text := strings.TrimSpace(in.Text)
	if in.RecordingID <= 0 || text == "" {
		return domain.Transcript{}, ErrTranscriptFields
	}
	if _, err := a.ownedRecording(ctx, userID, in.RecordingID); err != nil {
		return domain.Transcript{}, err
	}
	t, err := a.store.CreateTranscript(ctx, domain.Transcript{
		RecordingID: in.RecordingID,
		Text:        text,
		Language:    in.Language,
		Confidence:  in.Confidence,
		CreatedAt:   a.now().UTC(),
	})
	if err != nil {
		return domain.Transcript{}, storageErr("create transcript", err)
	}
	if e, err := a.GetEntry(ctx, userID, in.RecordingID); err == nil && e.DriveSyncEnabled {
		a.dispatcher.Dispatch(userID, e)
	}
	return t, nil
}

// LatestTranscript returns the newest transcript of an owned recording.
func (a *App) LatestTranscript(ctx context.Context, userID, recordingID int64) (domain.Transcript, error) {
	if _, err := a.ownedRecording(ctx, userID, recordingID); err != nil {
		return domain.Transcript{}, err
	}
	t, ok, err := a.store.LatestTranscript(ctx, recordingID)
	if err != nil {
		return domain.Transcript{}, storageErr("latest transcript", err)
	}
	if !ok {
		return domain.Transcript{}, ErrTranscriptNotFound
	}
	return t, nil
}

// RetryPath returns the stored audio location of a recording so the client
// can resubmit it for transcription.
func (a *App) RetryPath(ctx context.Context, userID, recordingID int64) (string, error) {
	e, err := a.ownedRecording(ctx, userID, recordingID)
	if err != nil {
		return "", err
	}
	if e.LocalPath == nil || strings.TrimSpace(*e.LocalPath) == "" {
		return "", ErrNoAudioFile
	}
	return *e.LocalPath, nil
}

// Transcribe keeps the uploaded audio and proxies it to the speech-to-text
// API. The audio is stored first so a failed transcription can be retried;
// such failures come back as *TranscriptionError carrying the stored path.
func (a *App) Transcribe(ctx context.Context, up Upload) (Transcription, error) {
	if up.Body == nil {
		return Transcription{}, ErrAudioRequired
	}
	if a.audio == nil {
		return Transcription{}, fmt.Errorf("audio storage: %w", ErrTranscriptionOffline)
	}
	data, err := io.ReadAll(up.Body)
	if err != nil {
		return Transcription{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return Transcription{}, ErrAudioRequired
	}
	key, written, err := a.audio.Save(ctx, up.Filename, bytes.NewReader(data), int64(len(data)), up.ContentType)
	if err != nil {
		return Transcription{}, storageErr("save audio", err)
	}
	if a.transcriber == nil {
		metrics.TranscriptionsTotal.WithLabelValues("unconfigured").Inc()
		return Transcription{}, &TranscriptionError{LocalPath: key, Err: ErrTranscriptionOffline}
	}
	res, err := a.transcriber.Transcribe(ctx, up.Filename, up.ContentType, bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, transcribe.ErrNotConfigured) {
			err = ErrTranscriptionOffline
		}
		metrics.TranscriptionsTotal.WithLabelValues("error").Inc()
		a.logger.Warn("transcription failed", "local_path", key, "err", err)
		return Transcription{}, &TranscriptionError{LocalPath: key, Err: err}
	}
	metrics.TranscriptionsTotal.WithLabelValues("ok").Inc()
	return Transcription{
		Transcript: res.Text,
		LocalPath:  key,
		FileSize:   written,
		Language:   res.Language,
		Confidence: res.Confidence,
	}, nil
}

func (a *App) ownedRecording(ctx context.Context, userID, recordingID int64) (domain.Entry, error) {
	e, ok, err := a.store.GetEntry(ctx, userID, recordingID)
	if err != nil {
		return domain.Entry{}, storageErr("get recording", err)
	}
	if !ok {
		return domain.Entry{}, ErrRecordingNotFound
	}
	return e, nil
}
