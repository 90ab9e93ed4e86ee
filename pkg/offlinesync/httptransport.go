package offlinesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// HTTPTransport implements Transport against the server's HTTP surface
// (§6: POST /sessions/:surveyId/start, POST /audio/upload, POST
// /sessions/:sessionId/complete, POST /sessions/:sessionId/complete-cati).
type HTTPTransport struct {
	BaseURL    string
	HTTPClient *http.Client
	// AuthHeader, if non-empty, is sent as the Authorization header value
	// on every request.
	AuthHeader string
}

// NewHTTPTransport constructs an HTTPTransport with a sensible request
// timeout.
func NewHTTPTransport(baseURL, authHeader string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		AuthHeader: authHeader,
	}
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if t.AuthHeader != "" {
		req.Header.Set("Authorization", t.AuthHeader)
	}
	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

// StartInterview calls POST /sessions/:surveyId/start.
func (t *HTTPTransport) StartInterview(ctx context.Context, surveyID string) (string, error) {
	resp, err := t.do(ctx, http.MethodPost, "/sessions/"+surveyID+"/start", nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		SessionID string `json:"sessionId"`
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("start interview: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode start interview response: %w", err)
	}
	return out.SessionID, nil
}

// UploadAudio posts the local file as multipart/form-data to /audio/upload.
func (t *HTTPTransport) UploadAudio(ctx context.Context, localPath, sessionID, surveyID string) (AudioUploadResult, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return AudioUploadResult{}, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return AudioUploadResult{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return AudioUploadResult{}, fmt.Errorf("copy audio data: %w", err)
	}
	_ = mw.WriteField("sessionId", sessionID)
	_ = mw.WriteField("surveyId", surveyID)
	if err := mw.Close(); err != nil {
		return AudioUploadResult{}, fmt.Errorf("close multipart writer: %w", err)
	}

	resp, err := t.do(ctx, http.MethodPost, "/audio/upload", &buf, mw.FormDataContentType())
	if err != nil {
		return AudioUploadResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return AudioUploadResult{}, fmt.Errorf("upload audio: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		AudioURL string `json:"audioUrl"`
		Size     int64  `json:"size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return AudioUploadResult{}, fmt.Errorf("decode upload response: %w", err)
	}
	return AudioUploadResult{AudioURL: out.AudioURL, FileSize: out.Size}, nil
}

// Complete posts the final response array to POST /sessions/:sessionId/complete.
func (t *HTTPTransport) Complete(ctx context.Context, req CompleteRequest) (CompleteResult, error) {
	return t.completeTo(ctx, "/sessions/"+req.SessionID+"/complete", completeBody{
		Responses: req.Responses,
		Metadata:  req.Metadata,
	})
}

// CompleteCATI posts to the CATI-specific completion endpoint with the
// catiQueueId and no audio.
func (t *HTTPTransport) CompleteCATI(ctx context.Context, req CompleteCATIRequest) (CompleteResult, error) {
	return t.completeTo(ctx, "/sessions/"+req.SessionID+"/complete-cati", completeBody{
		Responses:   req.Responses,
		Metadata:    req.Metadata,
		CatiQueueID: req.CatiQueueID,
	})
}

type completeBody struct {
	Responses   []AnsweredQuestion `json:"responses"`
	Metadata    Metadata           `json:"metadata"`
	CatiQueueID string             `json:"catiQueueId,omitempty"`
}

func (t *HTTPTransport) completeTo(ctx context.Context, path string, body completeBody) (CompleteResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return CompleteResult{}, fmt.Errorf("marshal completion payload: %w", err)
	}
	resp, err := t.do(ctx, http.MethodPost, path, bytes.NewReader(payload), "application/json")
	if err != nil {
		// Network-level failure: no status code reached.
		return CompleteResult{StatusCode: 0}, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out struct {
		ResponseID  string `json:"responseId"`
		IsDuplicate bool   `json:"isDuplicate"`
	}
	_ = json.Unmarshal(raw, &out)

	result := CompleteResult{
		ResponseID:  out.ResponseID,
		IsDuplicate: out.IsDuplicate,
		StatusCode:  resp.StatusCode,
		ErrorText:   string(raw),
	}
	if resp.StatusCode >= 300 && !out.IsDuplicate {
		return result, fmt.Errorf("completion rejected: status=%d", resp.StatusCode)
	}
	return result, nil
}
