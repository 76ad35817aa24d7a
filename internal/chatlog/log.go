// Package chatlog holds the ordered, append-only conversation transcript.
// The send path and the polling path both append; a single mutex serializes
// them so the log never interleaves a partial append. The presentation
// layer observes via Snapshot and Subscribe and never mutates.
package chatlog

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/watchgram/watchgram/internal/logger"
)

// Persister stores messages durably. Persistence is best effort: failures
// degrade the log to memory-only, they never fail an append.
type Persister interface {
	AppendMessage(Message) error
	Messages() ([]Message, error)
	ClearMessages() error
}

// Log is the conversation transcript.
type Log struct {
	mu    sync.Mutex
	msgs  []Message
	subs  []chan Message
	store Persister
}

// Option configures a Log.
type Option func(*Log)

// WithPersister attaches durable storage. Previously stored messages are
// loaded into the transcript on construction, in stored order.
func WithPersister(p Persister) Option {
	return func(l *Log) { l.store = p }
}

// New creates a Log.
func New(opts ...Option) *Log {
	l := &Log{}
	for _, opt := range opts {
		opt(l)
	}
	if l.store != nil {
		msgs, err := l.store.Messages()
		if err != nil {
			logger.L.Warn("failed to load stored transcript; starting empty", "error", err)
		} else {
			l.msgs = msgs
		}
	}
	return l
}

// Append adds a message to the transcript and returns it with identity and
// timestamp filled in. It is the sole mutator besides Clear.
func (l *Log) Append(m Message) Message {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.msgs = append(l.msgs, m)
	// Persist under the same lock so stored order matches observed order.
	if l.store != nil {
		if err := l.store.AppendMessage(m); err != nil {
			logger.L.Warn("failed to persist message; keeping in memory only", "error", err)
		}
	}
	subs := l.subs
	l.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- m:
		default:
			// Slow observers drop events rather than block an append.
		}
	}
	return m
}

// Snapshot returns a copy of the transcript in append order.
func (l *Log) Snapshot() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Len returns the number of messages in the transcript.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

// Clear empties the transcript. Used only for the unpair transition; a
// fresh session implies a fresh transcript.
func (l *Log) Clear() {
	l.mu.Lock()
	l.msgs = nil
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.ClearMessages(); err != nil {
			logger.L.Warn("failed to clear stored transcript", "error", err)
		}
	}
}

// Subscribe returns a channel receiving every message appended after the
// call. Receivers that fall behind miss events; resync via Snapshot.
func (l *Log) Subscribe() <-chan Message {
	ch := make(chan Message, 32)
	l.mu.Lock()
	l.subs = append(l.subs, ch)
	l.mu.Unlock()
	return ch
}
