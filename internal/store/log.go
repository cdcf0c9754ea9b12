package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Action is one of the enumerated audit-log tags a connection's
// terminal outcome is recorded under.
type Action string

const (
	ActionRequestHTTP          Action = "request_http"
	ActionFetched              Action = "fetched"
	ActionFetchedNoCache       Action = "fetched_no_cache"
	ActionForwarded            Action = "forwarded"
	ActionCached               Action = "cached"
	ActionBlocked              Action = "blocked"
	ActionBlockedConnect       Action = "blocked_connect"
	ActionConnect              Action = "connect"
	ActionTunnel               Action = "tunnel"
	ActionErrorBadConnect      Action = "error_bad_connect"
	ActionErrorConnectUpstream Action = "error_connect_upstream"
	ActionErrorUpstreamConnect Action = "error_upstream_connect"
	ActionErrorUpstreamSend    Action = "error_upstream_send"
)

// Event is one append-only audit record.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Client    string    `json:"client"` // "ip:port"
	URL       string    `json:"url"`
	Action    Action    `json:"action"`
}

// LogBackend optionally persists events durably in addition to the
// in-memory slice. Backend failures are logged, never propagated to
// the caller.
type LogBackend interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context) ([]Event, error)
	Clear(ctx context.Context) error
}

// Log is the append-only audit trail of client interactions.
type Log struct {
	mu      sync.RWMutex
	events  []Event
	backend LogBackend
	log     *zap.Logger
}

// NewLog constructs an empty log. backend may be nil.
func NewLog(backend LogBackend, log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{backend: backend, log: log.Named("log")}
}

// Append records one event. Clock and ID are assigned here so callers
// never race on event ordering.
func (l *Log) Append(client, url string, action Action) Event {
	e := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Client:    client,
		URL:       url,
		Action:    action,
	}
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()

	if l.backend != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.backend.Append(ctx, e); err != nil {
			l.log.Warn("backend append failed", zap.String("event_id", e.ID), zap.Error(err))
		}
	}
	return e
}

// Enumerate returns a snapshot of every recorded event, oldest first.
func (l *Log) Enumerate() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Size reports the number of recorded events.
func (l *Log) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Purge clears the entire log.
func (l *Log) Purge() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()

	if l.backend != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.backend.Clear(ctx); err != nil {
			l.log.Warn("backend clear failed", zap.Error(err))
		}
	}
}
