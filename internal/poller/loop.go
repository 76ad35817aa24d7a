// Package poller runs the reconciliation loop: on a fixed cadence it fetches
// pending messages from the remote channel, filters out everything the
// transcript already contains, appends the rest in arrival order, and hands
// each newly appended message to the side-effect dispatcher exactly once.
//
// The loop is also the send path. Local messages are echoed into the
// transcript immediately, transmitted with the current session credentials,
// and a successful send nudges an immediate out-of-cycle fetch so the reply
// usually lands before the next scheduled tick.
package poller

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/watchgram/watchgram/internal/chatlog"
	"github.com/watchgram/watchgram/internal/logger"
	"github.com/watchgram/watchgram/internal/relay"
	"github.com/watchgram/watchgram/internal/session"
)

// DefaultInterval is the scheduled tick cadence.
const DefaultInterval = 3 * time.Second

// FSM states.
var (
	StateIdle    stateless.State = "Idle"
	StatePolling stateless.State = "Polling"
	StateStopped stateless.State = "Stopped"
)

// FSM triggers.
var (
	triggerStart stateless.Trigger = "Start"
	triggerStop  stateless.Trigger = "Stop"
)

// SessionSource yields the session as of now. Implemented by session.Store.
type SessionSource interface {
	Current() session.Session
}

// Dispatcher receives each newly appended remote message exactly once.
type Dispatcher interface {
	OnRemoteMessage(chatlog.Message)
}

// Loop is the reconciliation loop.
type Loop struct {
	client   relay.Client
	log      *chatlog.Log
	sessions SessionSource
	fx       Dispatcher
	interval time.Duration

	fsm      *stateless.StateMachine
	inFlight atomic.Bool
	nudge    chan struct{}

	mu   sync.Mutex // serializes ingest and guards seen
	seen map[string]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Loop. The dedup set is seeded from the transcript so a
// restored log does not get re-appended (or re-spoken) on the first tick.
func New(client relay.Client, log *chatlog.Log, sessions SessionSource, fx Dispatcher, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	l := &Loop{
		client:   client,
		log:      log,
		sessions: sessions,
		fx:       fx,
		interval: interval,
		nudge:    make(chan struct{}, 1),
		seen:     make(map[string]struct{}),
	}
	for _, m := range log.Snapshot() {
		if m.Origin == chatlog.OriginRemote && !m.Failed {
			l.seen[textKey(m.Text)] = struct{}{}
		}
	}

	fsm := stateless.NewStateMachine(StateIdle)
	fsm.Configure(StateIdle).
		Permit(triggerStart, StatePolling).
		Permit(triggerStop, StateStopped)
	fsm.Configure(StatePolling).
		OnEntry(func(_ context.Context, _ ...any) error {
			ctx, cancel := context.WithCancel(context.Background())
			l.cancel = cancel
			l.wg.Add(1)
			go l.run(ctx)
			return nil
		}).
		Permit(triggerStop, StateStopped)
	fsm.Configure(StateStopped).
		OnEntry(func(_ context.Context, _ ...any) error {
			if l.cancel != nil {
				l.cancel()
			}
			return nil
		}).
		Ignore(triggerStop).
		Ignore(triggerStart)
	l.fsm = fsm
	return l
}

// State returns the loop's lifecycle state.
func (l *Loop) State() stateless.State {
	return l.fsm.MustState()
}

// Start enters Polling and schedules the recurring tick.
func (l *Loop) Start() error {
	return l.fsm.Fire(triggerStart)
}

// Stop cancels the scheduled tick. Idempotent; once it returns, no tick
// started afterwards will touch the transcript, and a fetch still in flight
// has its result discarded.
func (l *Loop) Stop() {
	if err := l.fsm.Fire(triggerStop); err != nil {
		logger.L.Warn("stop fire failed", "error", err)
	}
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	// First fetch right away rather than waiting out a full interval.
	l.tick(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		case <-l.nudge:
			l.tick(ctx)
		}
	}
}

// tick is one poll. A tick already in flight suppresses a new one; ticks
// never overlap and a slow fetch cannot pile up duplicate requests.
func (l *Loop) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !l.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer l.inFlight.Store(false)

	sess := l.sessions.Current()
	if !sess.IsPaired {
		return
	}

	msgs, err := l.client.FetchPending(ctx, sess.Creds())
	if err != nil {
		// Transient poll failures stay out of the transcript; the loop
		// keeps ticking.
		logger.L.Debug("poll failed", "error", err)
		return
	}
	l.ingest(ctx, msgs)
}

// ingest appends every not-yet-seen inbound message in arrival order and
// dispatches side effects once per append.
func (l *Loop) ingest(ctx context.Context, msgs []relay.Inbound) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// A response landing after Stop must not mutate anything.
	if ctx.Err() != nil {
		return
	}

	for _, in := range msgs {
		if strings.TrimSpace(in.Text) == "" {
			continue
		}
		key := dedupKey(in)
		if _, ok := l.seen[key]; ok {
			continue
		}
		l.seen[key] = struct{}{}

		m := l.log.Append(chatlog.Message{Text: in.Text, Origin: chatlog.OriginRemote})
		if l.fx != nil {
			l.fx.OnRemoteMessage(m)
		}
	}
}

// Send transmits one locally originated utterance. The local echo is
// appended before the network call; failures append a single visibly failed
// bubble so the user learns the utterance did not go through.
func (l *Loop) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sess := l.sessions.Current()
	if !sess.IsPaired {
		l.log.Append(chatlog.Message{
			Text:   "Not connected. Pair your watch in Settings first.",
			Origin: chatlog.OriginRemote,
			Failed: true,
		})
		return &relay.Error{Kind: relay.KindNotConfigured, Op: "send", Reason: "no paired session"}
	}

	l.log.Append(chatlog.Message{Text: text, Origin: chatlog.OriginLocal})

	if err := l.client.Send(ctx, sess.Creds(), text); err != nil {
		logger.L.Warn("send failed", "error", err)
		l.log.Append(chatlog.Message{
			Text:   "Failed to send. Check your connection and try again.",
			Origin: chatlog.OriginRemote,
			Failed: true,
		})
		return err
	}

	// Pull the reply sooner than the next scheduled tick.
	select {
	case l.nudge <- struct{}{}:
	default:
	}
	return nil
}

// dedupKey identifies an inbound message across poll cycles: the server's
// message id when it provides one, otherwise a content hash.
func dedupKey(in relay.Inbound) string {
	if in.ID != "" {
		return "id:" + in.ID
	}
	return textKey(in.Text)
}

func textKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "h:" + hex.EncodeToString(sum[:])
}
