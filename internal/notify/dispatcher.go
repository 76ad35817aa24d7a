// Package notify turns "new remote message appended" into user-facing side
// effects: a short notification pulse, and optionally speech synthesis of
// the message text. Idempotence per message is the caller's job; the
// reconciliation loop invokes OnRemoteMessage at most once per append.
package notify

import (
	"github.com/watchgram/watchgram/internal/chatlog"
	"github.com/watchgram/watchgram/internal/logger"
)

// Pulser plays a short attention cue. Implementations must be safe to call
// from any goroutine.
type Pulser interface {
	Pulse()
}

// Speaker converts text to audio. Consumed as a capability; this package
// never cares how synthesis happens.
type Speaker interface {
	Speak(text, voice string) error
}

// Prefs exposes the user configuration the dispatcher gates on.
// Implemented by session.Store.
type Prefs interface {
	SpeakResponses() bool
	Voice() string
}

// Dispatcher fans a new remote message out to its side effects.
type Dispatcher struct {
	pulse   Pulser
	speaker Speaker
	prefs   Prefs
	strip   string
}

// NewDispatcher creates a Dispatcher. Any collaborator may be nil, which
// disables that effect.
func NewDispatcher(pulse Pulser, speaker Speaker, prefs Prefs) *Dispatcher {
	return &Dispatcher{pulse: pulse, speaker: speaker, prefs: prefs, strip: DefaultStripGlyphs}
}

// OnRemoteMessage fires the pulse and, when the speak-responses preference
// is on, speaks the sanitized text. Both effects run off the caller's
// goroutine; a tick is never blocked on audio.
func (d *Dispatcher) OnRemoteMessage(m chatlog.Message) {
	if d.pulse != nil {
		go d.pulse.Pulse()
	}

	if d.speaker == nil || d.prefs == nil || !d.prefs.SpeakResponses() {
		return
	}
	text := SanitizeWith(m.Text, d.strip)
	if text == "" {
		return
	}
	voice := d.prefs.Voice()
	go func() {
		if err := d.speaker.Speak(text, voice); err != nil {
			logger.L.Warn("speech synthesis failed", "error", err)
		}
	}()
}
