package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/example/go-tts-unlimited/internal/tts"
	"github.com/spf13/cobra"
)

func newSpeakCmd() *cobra.Command {
	var prompt string
	var voice string
	var emotion string
	var out string

	cmd := &cobra.Command{
		Use:   "speak",
		Short: "Generate one clip without starting the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			text, err := readPrompt(prompt, cmd.InOrStdin())
			if err != nil {
				return err
			}

			app, err := tts.Build(cfg, slog.Default())
			if err != nil {
				return err
			}

			res := app.Service.HandleRequest(cmd.Context(), tts.Request{
				Prompt:  text,
				Voice:   voice,
				Emotion: emotion,
			})
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), res.Status)
			if !res.OK() {
				return errors.New("no audio generated")
			}

			return writeSpeakOutput(out, res.AudioPath, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "Text to speak (if empty, read from stdin)")
	cmd.Flags().StringVar(&voice, "voice", tts.DefaultVoice, "Voice ID (see 'voices')")
	cmd.Flags().StringVar(&emotion, "emotion", tts.DefaultEmotion, "Delivery style passed to the app")
	cmd.Flags().StringVar(&out, "out", "", "Copy the clip to this path ('-' for stdout); default prints the temp path")

	return cmd
}

// writeSpeakOutput prints the generated file's path, or copies the clip to
// outPath when one is given.
func writeSpeakOutput(outPath, audioPath string, stdout io.Writer) error {
	if outPath == "" {
		_, err := fmt.Fprintln(stdout, audioPath)
		return err
	}

	data, err := os.ReadFile(audioPath)
	if err != nil {
		return fmt.Errorf("read generated audio: %w", err)
	}
	if outPath == "-" {
		_, err = stdout.Write(data)
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}

func readPrompt(prompt string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(prompt) != "" {
		return prompt, nil
	}

	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	input := strings.TrimSpace(string(b))
	if input == "" {
		return "", fmt.Errorf("either provide --prompt or pipe text on stdin")
	}
	return input, nil
}
