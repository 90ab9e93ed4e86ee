// Package offlinesync implements the client-side Offline Sync Engine (the
// collector-device component that queues completed interviews and uploads
// them reliably once connectivity is available).
package offlinesync

import "time"

// Status is the lifecycle state of one queued offline interview.
type Status string

const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
)

// AudioUploadStatus tracks the audio artifact independently of the overall
// interview status, since audio upload can fail and be retried on a later
// sync run without blocking payload submission.
type AudioUploadStatus string

const (
	AudioNone      AudioUploadStatus = "none"
	AudioUploading AudioUploadStatus = "uploading"
	AudioUploaded  AudioUploadStatus = "uploaded"
	AudioFailed    AudioUploadStatus = "failed"
)

// AnsweredQuestion mirrors one entry of the final response array the server
// expects, as built from the locally cached survey structure.
type AnsweredQuestion struct {
	SectionIndex int
	QuestionIdx  int
	QuestionID   string
	QuestionType string
	Text         string
	Description  string
	Options      []string
	Value        any
	IsRequired   bool
	IsSkipped    bool
}

// Metadata is the optional completion metadata carried alongside answers.
type Metadata struct {
	StartTime        *time.Time
	EndTime          *time.Time
	TotalTimeSpent   *int
	SelectedAC       string
	PollingStation   string
	Location         *GeoPoint
	SetNumber        *int
	AudioURL         string
	AudioFileSize    int64
	ResponseID       string // set once the server has confirmed completion
}

// GeoPoint is a WGS84 coordinate captured at interview time.
type GeoPoint struct {
	Lat float64
	Lng float64
}

// Interview is the locally persisted state of one offline-captured
// interview, queued until it is successfully synced to the server.
type Interview struct {
	ID            string
	SurveyID      string
	IsCatiMode    bool
	CatiQueueID   string
	SessionID     string // may be locally generated, prefixed "offline_"
	Responses     []AnsweredQuestion
	AudioPath     string // local filesystem path, empty if no audio
	Metadata      Metadata
	Status        Status
	AudioStatus   AudioUploadStatus
	SyncAttempts  int
	Error         string
	CreatedAt     time.Time
}

// IsOfflineSession reports whether SessionID is unset or a locally
// generated placeholder that must be exchanged for a server session before
// completion can be submitted.
func (i *Interview) IsOfflineSession() bool {
	return i.SessionID == "" || hasPrefix(i.SessionID, "offline_")
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Stage is the per-interview progress stage published during a sync run.
type Stage string

const (
	StageUploadingData  Stage = "uploading_data"
	StageUploadingAudio Stage = "uploading_audio"
	StageVerifying      Stage = "verifying"
	StageSynced         Stage = "synced"
	StageFailed         Stage = "failed"
)

// Progress is one update in the per-interview progress stream.
type Progress struct {
	CurrentInterview int
	TotalInterviews  int
	InterviewPercent int // 0-100
	Stage            Stage
	SyncedCount      int
	FailedCount      int
	InterviewID      string
}

// Summary is the outcome of one SyncAll run.
type Summary struct {
	Synced  int
	Failed  int
	Skipped int
}
