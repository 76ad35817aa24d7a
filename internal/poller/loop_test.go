package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watchgram/watchgram/internal/chatlog"
	"github.com/watchgram/watchgram/internal/relay"
	"github.com/watchgram/watchgram/internal/session"
)

// fakeChannel mirrors relay.Client with func fields and call counters.
type fakeChannel struct {
	sendFunc  func(text string) error
	fetchFunc func(ctx context.Context) ([]relay.Inbound, error)

	sendCalls  atomic.Int32
	fetchCalls atomic.Int32
}

func (f *fakeChannel) Send(ctx context.Context, creds relay.Creds, text string) error {
	f.sendCalls.Add(1)
	if f.sendFunc != nil {
		return f.sendFunc(text)
	}
	return nil
}

func (f *fakeChannel) FetchPending(ctx context.Context, creds relay.Creds) ([]relay.Inbound, error) {
	f.fetchCalls.Add(1)
	if f.fetchFunc != nil {
		return f.fetchFunc(ctx)
	}
	return nil, nil
}

func (f *fakeChannel) VerifyCode(ctx context.Context, code string) (relay.PairConfig, error) {
	return relay.PairConfig{}, nil
}

type fakeSessions struct {
	s session.Session
}

func (f fakeSessions) Current() session.Session { return f.s }

var paired = fakeSessions{s: session.Session{IsPaired: true, ChatID: "42", Credential: "abc"}}
var unpaired = fakeSessions{}

type recordingFX struct {
	mu   sync.Mutex
	msgs []chatlog.Message
}

func (r *recordingFX) OnRemoteMessage(m chatlog.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recordingFX) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestLifecycle(t *testing.T) {
	l := New(&fakeChannel{}, chatlog.New(), unpaired, nil, time.Hour)
	require.Equal(t, StateIdle, l.State())

	require.NoError(t, l.Start())
	require.Equal(t, StatePolling, l.State())

	l.Stop()
	require.Equal(t, StateStopped, l.State())

	// Stop is idempotent, and Start after Stop is ignored.
	l.Stop()
	require.Equal(t, StateStopped, l.State())
	require.NoError(t, l.Start())
	require.Equal(t, StateStopped, l.State())
}

func TestIngest_DedupIdempotent(t *testing.T) {
	log := chatlog.New()
	fx := &recordingFX{}
	l := New(&fakeChannel{}, log, paired, fx, time.Hour)

	payload := []relay.Inbound{
		{Text: "first reply"},
		{ID: "7", Text: "second reply"},
	}

	l.ingest(context.Background(), payload)
	l.ingest(context.Background(), payload)

	snap := log.Snapshot()
	require.Len(t, snap, 2, "same payload twice appends each distinct message once")
	require.Equal(t, "first reply", snap[0].Text)
	require.Equal(t, "second reply", snap[1].Text)
	require.Equal(t, 2, fx.count(), "side effects fire exactly once per message")
}

func TestIngest_PreservesArrivalOrder(t *testing.T) {
	log := chatlog.New()
	l := New(&fakeChannel{}, log, paired, nil, time.Hour)

	l.ingest(context.Background(), []relay.Inbound{
		{Text: "a"}, {Text: "b"}, {Text: "c"},
	})

	snap := log.Snapshot()
	require.Len(t, snap, 3)
	for i, want := range []string{"a", "b", "c"} {
		require.Equal(t, want, snap[i].Text)
		require.Equal(t, chatlog.OriginRemote, snap[i].Origin)
	}
}

func TestIngest_SkipsBlankMessages(t *testing.T) {
	log := chatlog.New()
	l := New(&fakeChannel{}, log, paired, nil, time.Hour)

	l.ingest(context.Background(), []relay.Inbound{{Text: "  "}, {Text: "real"}})
	require.Equal(t, 1, log.Len())
}

func TestTick_UnpairedMakesNoNetworkCall(t *testing.T) {
	ch := &fakeChannel{}
	l := New(ch, chatlog.New(), unpaired, nil, time.Hour)

	l.tick(context.Background())
	require.Zero(t, ch.fetchCalls.Load())
}

func TestTick_OverlapSuppressed(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	ch := &fakeChannel{fetchFunc: func(ctx context.Context) ([]relay.Inbound, error) {
		close(entered)
		<-release
		return nil, nil
	}}
	l := New(ch, chatlog.New(), paired, nil, time.Hour)

	done := make(chan struct{})
	go func() {
		l.tick(context.Background())
		close(done)
	}()
	<-entered

	// A second tick while the first is in flight must not issue a second
	// concurrent fetch.
	l.tick(context.Background())
	require.Equal(t, int32(1), ch.fetchCalls.Load())

	close(release)
	<-done
}

func TestStop_DiscardsLateFetchResponse(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	ch := &fakeChannel{fetchFunc: func(ctx context.Context) ([]relay.Inbound, error) {
		close(entered)
		<-release
		return []relay.Inbound{{Text: "too late"}}, nil
	}}
	log := chatlog.New()
	fx := &recordingFX{}
	l := New(ch, log, paired, fx, time.Hour)

	require.NoError(t, l.Start())
	<-entered // the initial tick's fetch is in flight

	l.Stop()
	close(release)

	// Give the stale response every chance to land wrongly.
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, log.Len(), "a stopped loop must not mutate the transcript")
	require.Zero(t, fx.count())
}

func TestSend_UnpairedSingleEntryNoNetwork(t *testing.T) {
	ch := &fakeChannel{}
	log := chatlog.New()
	l := New(ch, log, unpaired, nil, time.Hour)

	err := l.Send(context.Background(), "hello?")
	require.True(t, relay.IsNotConfigured(err))
	require.Zero(t, ch.sendCalls.Load())
	require.Zero(t, ch.fetchCalls.Load())

	snap := log.Snapshot()
	require.Len(t, snap, 1)
	require.True(t, snap[0].Failed)
	require.Contains(t, snap[0].Text, "Pair your watch")
}

func TestSend_AppendsLocalEchoThenTransmits(t *testing.T) {
	var sent string
	ch := &fakeChannel{sendFunc: func(text string) error {
		sent = text
		return nil
	}}
	log := chatlog.New()
	l := New(ch, log, paired, nil, time.Hour)

	require.NoError(t, l.Send(context.Background(), "  what's the weather  "))
	require.Equal(t, "what's the weather", sent)

	snap := log.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, chatlog.OriginLocal, snap[0].Origin)
	require.Equal(t, "what's the weather", snap[0].Text)
}

func TestSend_FailureAppendsFailedBubble(t *testing.T) {
	ch := &fakeChannel{sendFunc: func(text string) error {
		return &relay.Error{Kind: relay.KindNetwork, Op: "send", Reason: "request failed"}
	}}
	log := chatlog.New()
	l := New(ch, log, paired, nil, time.Hour)

	err := l.Send(context.Background(), "hello")
	require.Equal(t, relay.KindNetwork, relay.KindOf(err))

	snap := log.Snapshot()
	require.Len(t, snap, 2, "local echo plus one failure bubble")
	require.Equal(t, chatlog.OriginLocal, snap[0].Origin)
	require.True(t, snap[1].Failed)
	require.Equal(t, chatlog.OriginRemote, snap[1].Origin)
}

func TestSend_SuccessNudgesImmediateFetch(t *testing.T) {
	ch := &fakeChannel{}
	l := New(ch, chatlog.New(), paired, nil, time.Hour)

	require.NoError(t, l.Start())
	defer l.Stop()

	// The start-up tick fetches once; the interval is an hour, so any
	// further fetch can only come from the post-send nudge.
	require.Eventually(t, func() bool {
		return ch.fetchCalls.Load() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, l.Send(context.Background(), "ping"))
	require.Eventually(t, func() bool {
		return ch.fetchCalls.Load() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestNew_SeedsDedupFromRestoredTranscript(t *testing.T) {
	log := chatlog.New()
	log.Append(chatlog.Message{Text: "welcome back", Origin: chatlog.OriginRemote})
	log.Append(chatlog.Message{Text: "hi", Origin: chatlog.OriginLocal})

	fx := &recordingFX{}
	l := New(&fakeChannel{}, log, paired, fx, time.Hour)

	l.ingest(context.Background(), []relay.Inbound{
		{Text: "welcome back"}, // already restored; a resending server must not duplicate it
		{Text: "something new"},
	})

	require.Equal(t, 3, log.Len())
	require.Equal(t, 1, fx.count(), "restored messages are never re-spoken")
}
