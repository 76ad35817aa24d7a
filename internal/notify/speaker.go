package notify

import (
	"fmt"
	"os/exec"
)

// CommandSpeaker synthesizes speech by invoking an external TTS program
// such as espeak-ng. The voice argument is passed as the program's -v
// option when non-empty.
type CommandSpeaker struct {
	Command string
}

// NewCommandSpeaker creates a speaker shelling out to command.
func NewCommandSpeaker(command string) *CommandSpeaker {
	if command == "" {
		command = "espeak-ng"
	}
	return &CommandSpeaker{Command: command}
}

// Speak runs the TTS command and waits for playback to finish.
func (s *CommandSpeaker) Speak(text, voice string) error {
	if text == "" {
		return nil
	}
	var args []string
	if voice != "" {
		args = append(args, "-v", voice)
	}
	args = append(args, text)

	if err := exec.Command(s.Command, args...).Run(); err != nil {
		return fmt.Errorf("%s: %w", s.Command, err)
	}
	return nil
}
