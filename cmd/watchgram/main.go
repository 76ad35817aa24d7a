package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/watchgram/watchgram/internal/chatlog"
	"github.com/watchgram/watchgram/internal/config"
	"github.com/watchgram/watchgram/internal/logger"
	"github.com/watchgram/watchgram/internal/notify"
	"github.com/watchgram/watchgram/internal/poller"
	"github.com/watchgram/watchgram/internal/relay"
	"github.com/watchgram/watchgram/internal/session"
	"github.com/watchgram/watchgram/internal/store"
)

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	configPath := cli.StringP("config", "c", "", "Config file path")
	logLevel := cli.StringP("log", "l", "", "Log level override")
	cli.Parse()

	godotenv.Load(*envFile)
	if *configPath != "" {
		os.Setenv("CONFIG_PATH", *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	logger.SetLevel(cfg.Log.Level)

	db, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		logger.L.Error("failed to open device storage", "path", cfg.Storage.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	transcript := chatlog.New(chatlog.WithPersister(db))
	client := relay.NewHTTP(cfg.Channel)

	sessions, err := session.NewStore(db, client, session.WithUnpairHook(transcript.Clear))
	if err != nil {
		logger.L.Error("failed to load session", "error", err)
		os.Exit(1)
	}

	var pulse notify.Pulser
	if cfg.Speech.CueFile != "" {
		pulse = notify.NewBeepPulser(cfg.Speech.CueFile)
	}
	speaker := notify.NewCommandSpeaker(cfg.Speech.Command)
	fx := notify.NewDispatcher(pulse, speaker, sessions)

	loop := poller.New(client, transcript, sessions, fx, cfg.Poll.Interval)
	if err := loop.Start(); err != nil {
		logger.L.Error("failed to start polling", "error", err)
		os.Exit(1)
	}

	// Render the transcript as it grows. The core publishes events; this
	// layer only observes.
	go func() {
		for m := range transcript.Subscribe() {
			render(m)
		}
	}()
	for _, m := range transcript.Snapshot() {
		render(m)
	}

	if !sessions.Onboarded() {
		fmt.Println("Message @ClawWatchSetup on Telegram, send /connect, then enter the 6-digit code here with /pair <code>.")
		if err := sessions.SetOnboarded(); err != nil {
			logger.L.Warn("failed to record onboarding", "error", err)
		}
	}

	go readInput(loop, sessions)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	loop.Stop()
	logger.L.Info("stopped")
}

// readInput treats each stdin line as an utterance, standing in for the
// speech-to-text capability. Slash commands drive session state.
func readInput(loop *poller.Loop, sessions *session.Store) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			handleCommand(line, sessions)
			continue
		}
		if err := loop.Send(context.Background(), line); err != nil {
			logger.L.Debug("send returned error", "error", err)
		}
	}
}

func handleCommand(line string, sessions *session.Store) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/pair":
		if len(fields) != 2 {
			fmt.Println("usage: /pair <6-digit code>")
			return
		}
		s, err := sessions.Pair(context.Background(), fields[1])
		if err != nil {
			// Pair errors go to the pairing surface, never the transcript.
			fmt.Println("pairing failed:", pairReason(err))
			return
		}
		who := s.Username
		if who == "" {
			who = s.ChatID
		}
		fmt.Println("connected to", who)
	case "/unpair":
		if err := sessions.Unpair(); err != nil {
			fmt.Println("disconnect failed:", err)
			return
		}
		fmt.Println("disconnected; transcript cleared")
	case "/speak":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			fmt.Println("usage: /speak on|off")
			return
		}
		if err := sessions.SetSpeakResponses(fields[1] == "on"); err != nil {
			fmt.Println("failed to save preference:", err)
		}
	case "/voice":
		if len(fields) != 2 {
			fmt.Println("usage: /voice <locale>")
			return
		}
		if err := sessions.SetVoice(fields[1]); err != nil {
			fmt.Println("failed to save voice:", err)
		}
	default:
		fmt.Println("commands: /pair <code>, /unpair, /speak on|off, /voice <locale>")
	}
}

func pairReason(err error) string {
	var e *relay.Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return err.Error()
}

func render(m chatlog.Message) {
	switch {
	case m.Origin == chatlog.OriginLocal:
		fmt.Println("you>", m.Text)
	case m.Failed:
		fmt.Println(" !>", m.Text)
	default:
		fmt.Println("bot>", m.Text)
	}
}
