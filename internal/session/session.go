// Package session tracks whether the device is paired with a remote chat
// identity and owns the persisted device settings. Pairing state is an
// explicit struct handed to collaborators at construction; nothing here is
// looked up ambiently.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/watchgram/watchgram/internal/logger"
	"github.com/watchgram/watchgram/internal/relay"
)

// Settings keys.
const (
	keyPaired     = "paired"
	keyChatID     = "chat_id"
	keyCredential = "credential"
	keyUsername   = "username"
	keySpeak      = "speak_responses"
	keyVoice      = "voice"
	keyOnboarded  = "onboarded"
)

// Session is the pairing state. Invariant: IsPaired implies ChatID and
// Credential are non-empty.
type Session struct {
	IsPaired   bool
	ChatID     string
	Credential string
	Username   string
}

// Creds returns the authentication view for channel calls.
func (s Session) Creds() relay.Creds {
	if !s.IsPaired {
		return relay.Creds{}
	}
	return relay.Creds{ChatID: s.ChatID, Token: s.Credential}
}

// KV is the persisted settings contract, implemented by the store package.
type KV interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
	SetSettings(kv map[string]string) error
	DeleteSettings(keys ...string) error
}

// Store holds the current session plus user preferences, persisted through
// a KV and guarded by one mutex.
type Store struct {
	mu     sync.Mutex
	kv     KV
	client relay.Client

	cur       Session
	speak     bool
	voice     string
	onboarded bool

	onUnpair func()
}

// Option configures a Store.
type Option func(*Store)

// WithUnpairHook registers a callback invoked after a successful unpair.
// The binary wires it to clearing the transcript: a fresh session implies a
// fresh transcript.
func WithUnpairHook(fn func()) Option {
	return func(st *Store) { st.onUnpair = fn }
}

// NewStore creates a session store, restoring persisted state from kv.
// kv may be nil for a memory-only store.
func NewStore(kv KV, client relay.Client, opts ...Option) (*Store, error) {
	st := &Store{kv: kv, client: client, voice: "en-GB"}
	for _, opt := range opts {
		opt(st)
	}
	if kv == nil {
		return st, nil
	}

	get := func(key string) (string, error) { return kv.GetSetting(key) }
	paired, err := get(keyPaired)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	chatID, _ := get(keyChatID)
	credential, _ := get(keyCredential)
	username, _ := get(keyUsername)
	speak, _ := get(keySpeak)
	voice, _ := get(keyVoice)
	onboarded, _ := get(keyOnboarded)

	if paired == "true" && chatID != "" && credential != "" {
		st.cur = Session{IsPaired: true, ChatID: chatID, Credential: credential, Username: username}
	} else if paired == "true" {
		// Stored state violates the pairing invariant; treat as unpaired.
		logger.L.Warn("stored session incomplete; ignoring pairing flag")
	}
	st.speak = speak == "true"
	if voice != "" {
		st.voice = voice
	}
	st.onboarded = onboarded == "true"
	return st, nil
}

// Current returns the session as of now.
func (st *Store) Current() Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cur
}

// NormalizeCode strips non-digit characters from raw and validates that
// exactly 6 digits remain. Anything else is rejected client-side, before
// any network call.
func NormalizeCode(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	code := b.String()
	if len(code) != 6 {
		return "", &relay.Error{Kind: relay.KindPair, Op: "verify", Reason: "code must be 6 digits"}
	}
	return code, nil
}

// Pair exchanges a 6-digit setup code for a session. On any failure the
// stored session is left untouched; commit is all-or-nothing.
func (st *Store) Pair(ctx context.Context, rawCode string) (Session, error) {
	code, err := NormalizeCode(rawCode)
	if err != nil {
		return Session{}, err
	}

	cfg, err := st.client.VerifyCode(ctx, code)
	if err != nil {
		return Session{}, err
	}
	if cfg.ChatID == "" || cfg.SessionToken == "" {
		return Session{}, &relay.Error{Kind: relay.KindPair, Op: "verify", Reason: "incomplete connection config"}
	}

	next := Session{
		IsPaired:   true,
		ChatID:     cfg.ChatID,
		Credential: cfg.SessionToken,
		Username:   cfg.Username,
	}
	if err := st.commit(next); err != nil {
		return Session{}, err
	}
	logger.L.Info("paired", "chat_id", next.ChatID, "username", next.Username)
	return next, nil
}

// Configure sets the session directly from a bot token and chat id, the
// direct-bot alternative to code pairing.
func (st *Store) Configure(chatID, credential string) (Session, error) {
	if chatID == "" || credential == "" {
		return Session{}, &relay.Error{Kind: relay.KindPair, Op: "configure", Reason: "chat id and token are required"}
	}
	next := Session{IsPaired: true, ChatID: chatID, Credential: credential}
	if err := st.commit(next); err != nil {
		return Session{}, err
	}
	return next, nil
}

func (st *Store) commit(next Session) error {
	if st.kv != nil {
		err := st.kv.SetSettings(map[string]string{
			keyPaired:     "true",
			keyChatID:     next.ChatID,
			keyCredential: next.Credential,
			keyUsername:   next.Username,
		})
		if err != nil {
			return fmt.Errorf("persist session: %w", err)
		}
	}
	st.mu.Lock()
	st.cur = next
	st.mu.Unlock()
	return nil
}

// Unpair clears the session and fires the unpair hook. Safe to call when
// already unpaired.
func (st *Store) Unpair() error {
	if st.kv != nil {
		err := st.kv.DeleteSettings(keyPaired, keyChatID, keyCredential, keyUsername)
		if err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
	}
	st.mu.Lock()
	st.cur = Session{}
	st.mu.Unlock()

	if st.onUnpair != nil {
		st.onUnpair()
	}
	logger.L.Info("unpaired")
	return nil
}

// SpeakResponses reports whether replies should be spoken aloud.
func (st *Store) SpeakResponses() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.speak
}

// SetSpeakResponses persists the speak-responses preference.
func (st *Store) SetSpeakResponses(on bool) error {
	st.mu.Lock()
	st.speak = on
	st.mu.Unlock()
	if st.kv != nil {
		return st.kv.SetSetting(keySpeak, boolString(on))
	}
	return nil
}

// Voice returns the selected synthesis voice/locale.
func (st *Store) Voice() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.voice
}

// SetVoice persists the synthesis voice/locale.
func (st *Store) SetVoice(voice string) error {
	st.mu.Lock()
	st.voice = voice
	st.mu.Unlock()
	if st.kv != nil {
		return st.kv.SetSetting(keyVoice, voice)
	}
	return nil
}

// Onboarded reports whether the first-run guide has been completed.
func (st *Store) Onboarded() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.onboarded
}

// SetOnboarded marks the first-run guide as completed.
func (st *Store) SetOnboarded() error {
	st.mu.Lock()
	st.onboarded = true
	st.mu.Unlock()
	if st.kv != nil {
		return st.kv.SetSetting(keyOnboarded, "true")
	}
	return nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
