// Package activity records what authenticated clients asked the hub for.
// Recording is best-effort: failures are logged and never reach the client.
package activity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/resulthub/common/logging"
	"github.com/telhawk-systems/resulthub/internal/metrics"
)

// SourceWebsocket marks records created by client connections.
const SourceWebsocket = "websocket"

// Record is one activity entry.
type Record struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Type      string    `json:"type"`
	Subtype   string    `json:"subtype"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists activity records.
type Repository interface {
	Insert(ctx context.Context, rec *Record) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Record, error)
}

// Recorder writes records asynchronously with a per-write timeout.
type Recorder struct {
	repo    Repository
	timeout time.Duration
	logger  *logging.Logger
	wg      sync.WaitGroup
}

// NewRecorder returns a recorder. A nil repo yields a recorder that only
// logs at debug level.
func NewRecorder(repo Repository, timeout time.Duration, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Nop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Recorder{repo: repo, timeout: timeout, logger: logger}
}

// Record stores an activity entry in the background.
func (r *Recorder) Record(userID, requestType, subtype, sessionID string) {
	if r == nil {
		return
	}
	rec := &Record{
		ID:        uuid.New().String(),
		Source:    SourceWebsocket,
		Type:      requestType,
		Subtype:   subtype,
		UserID:    userID,
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
	}

	if r.repo == nil {
		r.logger.Debug("activity", logging.UserID(userID), logging.RequestType(requestType), "subtype", subtype)
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// detached from the request so a closing connection does not cancel it
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.repo.Insert(ctx, rec); err != nil {
			metrics.ActivityErrors.Inc()
			r.logger.Warn("failed to record activity",
				logging.UserID(userID),
				logging.RequestType(requestType),
				logging.Error(err),
			)
		}
	}()
}

// Wait blocks until pending writes finish.
func (r *Recorder) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}
