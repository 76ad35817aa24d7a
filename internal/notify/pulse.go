package notify

import (
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"

	"github.com/watchgram/watchgram/internal/logger"
)

// BeepPulser plays a short mp3 cue through the default audio output. It
// stands in for the watch haptic on desktop-class devices.
type BeepPulser struct {
	path string

	once sync.Once
	ok   bool
}

// NewBeepPulser creates a pulser playing the cue file at path.
func NewBeepPulser(path string) *BeepPulser {
	return &BeepPulser{path: path}
}

// Pulse plays the cue and waits for it to finish. Callers wanting
// fire-and-forget run it in a goroutine; the dispatcher already does.
func (p *BeepPulser) Pulse() {
	f, err := os.Open(p.path)
	if err != nil {
		logger.L.Warn("notification cue missing", "path", p.path, "error", err)
		return
	}
	defer f.Close()

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		logger.L.Warn("failed to decode notification cue", "error", err)
		return
	}
	defer streamer.Close()

	p.once.Do(func() {
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
			logger.L.Warn("failed to init speaker", "error", err)
			return
		}
		p.ok = true
	})
	if !p.ok {
		return
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(streamer, beep.Callback(func() {
		close(done)
	})))
	<-done
}
