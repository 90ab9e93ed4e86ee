package offlinesync

import "context"

// CompleteRequest is the payload posted to the CAPI completion endpoint.
type CompleteRequest struct {
	SessionID      string
	Responses      []AnsweredQuestion
	QualityMetrics map[string]float64
	Metadata       Metadata
}

// CompleteCATIRequest is the payload posted to the CATI completion endpoint.
type CompleteCATIRequest struct {
	SessionID   string
	CatiQueueID string
	Responses   []AnsweredQuestion
	Metadata    Metadata
}

// CompleteResult is the server's response to a completion submission.
type CompleteResult struct {
	ResponseID  string
	IsDuplicate bool
	StatusCode  int
	ErrorText   string
}

// AudioUploadResult is the server's response to an audio upload.
type AudioUploadResult struct {
	AudioURL string
	FileSize int64
}

// Transport is the network boundary the engine drives; callers inject an
// HTTP-backed implementation in production and a fake in tests.
type Transport interface {
	// StartInterview obtains a server sessionID for a survey, used to
	// exchange a locally generated offline_ session id for a real one.
	StartInterview(ctx context.Context, surveyID string) (sessionID string, err error)
	// UploadAudio uploads the file at localPath and returns the storage
	// key/URL and confirmed size.
	UploadAudio(ctx context.Context, localPath, sessionID, surveyID string) (AudioUploadResult, error)
	Complete(ctx context.Context, req CompleteRequest) (CompleteResult, error)
	CompleteCATI(ctx context.Context, req CompleteCATIRequest) (CompleteResult, error)
}

// Store persists the local interview queue across process restarts.
type Store interface {
	List(ctx context.Context) ([]*Interview, error)
	Save(ctx context.Context, i *Interview) error
	Delete(ctx context.Context, id string) error
}

// FileSystem is the minimal local filesystem surface the engine needs to
// verify and clean up audio artifacts.
type FileSystem interface {
	// Stat reports whether path exists and, if so, its size in bytes.
	Stat(path string) (size int64, exists bool, err error)
	Remove(path string) error
}
