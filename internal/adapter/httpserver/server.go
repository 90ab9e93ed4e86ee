package httpserver

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fieldops/surveypipe/internal/config"
	"github.com/fieldops/surveypipe/internal/domain"
	"github.com/fieldops/surveypipe/internal/usecase"
)

// AudioStore is the object-storage contract the audio endpoints depend on.
// Only the upload and signed-URL shapes are part of this system's scope;
// which storage engine backs them is an implementation detail left to the
// adapter that's wired in.
type AudioStore interface {
	Upload(ctx context.Context, sessionID, surveyID, filename string, data []byte) (storageKey string, size int64, mimetype string, storageType string, err error)
	SignedURL(ctx context.Context, storageKey string, ttl time.Duration) (signedURL string, isMock bool, err error)
}

// Server aggregates the handlers' dependencies.
type Server struct {
	Cfg config.Config

	Sessions   usecase.SessionService
	Completion usecase.CompletionService
	Reviews    usecase.ReviewService
	Telephony  *usecase.TelephonyService
	Audio      AudioStore
	Events     domain.EventPublisher

	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

// NewServer constructs a Server with all handler dependencies wired.
func NewServer(cfg config.Config, sessions usecase.SessionService, completion usecase.CompletionService, reviews usecase.ReviewService, telephony *usecase.TelephonyService, audio AudioStore, events domain.EventPublisher, dbCheck, redisCheck func(context.Context) error) *Server {
	return &Server{
		Cfg:        cfg,
		Sessions:   sessions,
		Completion: completion,
		Reviews:    reviews,
		Telephony:  telephony,
		Audio:      audio,
		Events:     events,
		DBCheck:    dbCheck,
		RedisCheck: redisCheck,
	}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// reviewScopeFor derives a reviewer's ReviewScope from the principal the
// gateway attached to the request; assignment is resolved from the
// principal's token claims rather than re-queried per request.
func reviewScopeFor(u domain.User) domain.ReviewScope {
	return domain.ReviewScope{
		ReviewerID: u.ID,
		Role:       u.Role,
		CompanyID:  u.CompanyID,
		SurveyACs:  u.AssignedACs,
	}
}
