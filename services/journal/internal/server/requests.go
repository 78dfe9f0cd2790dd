package server

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type linkRequest struct {
	Name string `json:"name"`
}

type updateMeRequest struct {
	Email *string `json:"email"`
	Name  *string `json:"name"`
}

// A JSON null counts as absent for every optional field.
type createEntryRequest struct {
	Transcript  *string `json:"transcript"`
	DurationMs  *int64  `json:"duration_ms"`
	LocalPath   *string `json:"local_path"`
	JournalDate *string `json:"journal_date"`
}

type updateEntryRequest struct {
	Transcript  *string `json:"transcript"`
	JournalDate *string `json:"journal_date"`
}

type daySyncRequest struct {
	DriveSyncEnabled *bool `json:"drive_sync_enabled"`
}

type createTranscriptRequest struct {
	RecordingID int64    `json:"recording_id"`
	Text        string   `json:"text"`
	Language    *string  `json:"language"`
	Confidence  *float64 `json:"confidence"`
}

type errorBody struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}
