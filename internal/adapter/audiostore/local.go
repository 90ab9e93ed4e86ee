// Package audiostore provides a filesystem-backed AudioStore. Audio
// recordings are written under a root directory keyed by survey and
// session; cloud object storage is explicitly out of scope for this
// system (only the upload and signed-URL contracts matter), so this
// adapter stands in as the local/self-hosted implementation of that
// contract and is what "mock://" storage keys in the API responses refer
// to.
package audiostore

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalStore persists audio blobs to disk under Root.
type LocalStore struct {
	Root string
}

// NewLocalStore constructs a LocalStore rooted at dir, creating it if
// needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio store root: %w", err)
	}
	return &LocalStore{Root: dir}, nil
}

// Upload writes data under Root/surveyID/sessionID/ and returns a
// mock:// storage key identifying it; there is no real object-storage
// backend behind it, so the signed-URL side of the contract always
// reports isMock=true for keys this adapter produced.
func (s *LocalStore) Upload(ctx context.Context, sessionID, surveyID, filename string, data []byte) (storageKey string, size int64, mimetype string, storageType string, err error) {
	safeName := sanitizeFilename(filename)
	relDir := filepath.Join(sanitizeFilename(surveyID), sanitizeFilename(sessionID))
	if err := os.MkdirAll(filepath.Join(s.Root, relDir), 0o755); err != nil {
		return "", 0, "", "", fmt.Errorf("create audio dir: %w", err)
	}
	storedName := uuid.NewString() + "-" + safeName
	relPath := filepath.Join(relDir, storedName)
	if err := os.WriteFile(filepath.Join(s.Root, relPath), data, 0o644); err != nil {
		return "", 0, "", "", fmt.Errorf("write audio file: %w", err)
	}

	mimetype = detectMimetype(safeName, data)
	storageKey = "mock://local/" + filepath.ToSlash(relPath)
	return storageKey, int64(len(data)), mimetype, "local", nil
}

// SignedURL always reports isMock for local-disk storage keys; there is
// no real signed URL to hand back.
func (s *LocalStore) SignedURL(ctx context.Context, storageKey string, ttl time.Duration) (signedURL string, isMock bool, err error) {
	return "", strings.HasPrefix(storageKey, "mock://"), nil
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}

func detectMimetype(filename string, data []byte) string {
	if ext := filepath.Ext(filename); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	return http.DetectContentType(data)
}
