package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/example/go-tts-unlimited/internal/config"
)

func TestNewRootCmd_HasExpectedSubcommands(t *testing.T) {
	root := NewRootCmd()

	want := []string{"serve", "speak", "voices", "health", "doctor"}
	for _, name := range want {
		found := false

		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}

		if !found {
			t.Errorf("expected subcommand %q not found in root", name)
		}
	}
}

func TestNewRootCmd_HasPersistentConfigFlag(t *testing.T) {
	root := NewRootCmd()
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("expected --config persistent flag to be registered")
	}
	if root.PersistentFlags().Lookup("remote-base-url") == nil {
		t.Error("expected config flags on the root command")
	}
}

func TestSetupLogger_DoesNotPanic(_ *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		setupLogger(level)
	}
}

func TestSetupLogger_InvalidLevelFallsBackToInfo(_ *testing.T) {
	// Should not panic on invalid level.
	setupLogger("not-a-level")
}

func TestRequireConfig_FailsWhenNotInitialized(t *testing.T) {
	orig := activeCfg

	t.Cleanup(func() { activeCfg = orig })

	activeCfg = config.Config{}

	_, err := requireConfig()
	if err == nil {
		t.Fatal("expected error when config is not loaded")
	}
}

func TestRequireConfig_SucceedsWhenLoaded(t *testing.T) {
	orig := activeCfg

	t.Cleanup(func() { activeCfg = orig })

	activeCfg = config.DefaultConfig()

	got, err := requireConfig()
	if err != nil {
		t.Fatalf("requireConfig returned unexpected error: %v", err)
	}

	if got.Remote.BaseURL != config.DefaultConfig().Remote.BaseURL {
		t.Errorf("unexpected BaseURL: %q", got.Remote.BaseURL)
	}
}

func TestVoicesCmd_ListsAllVoices(t *testing.T) {
	stdout, _, err := execute(t, "", "voices")
	if err != nil {
		t.Fatalf("voices: %v", err)
	}

	lines := strings.Fields(stdout)
	if len(lines) != 13 || lines[0] != "alloy" {
		t.Errorf("voices output = %q", stdout)
	}
}

func TestRootCmd_RejectsInvalidTransport(t *testing.T) {
	if _, _, err := execute(t, "", "voices", "--remote-transport", "smoke"); err == nil {
		t.Fatal("expected config validation error")
	}
}

// execute runs the root command with args and returns captured stdout and
// stderr.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	orig := activeCfg
	t.Cleanup(func() { activeCfg = orig })

	var stdout, stderr bytes.Buffer
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&stdout)
	root.SetErr(&stderr)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}
