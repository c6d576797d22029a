// Package doctor provides environment preflight checks for ttsunlimited.
package doctor

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/example/go-tts-unlimited/internal/config"
	"github.com/example/go-tts-unlimited/internal/normalize"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// RemoteVersion returns the Gradio version reported by the remote app.
	RemoteVersion VersionFunc
	// SkipRemote skips the reachability check (offline mode).
	SkipRemote bool
	// Transport is the configured remote transport ("sse" or "ws").
	Transport string
	// CABundle is an optional PEM file used for audio fetches.
	CABundle string
	// StorageDir is where generated audio is written.
	StorageDir string
	// Voices is the voice set offered to users.
	Voices []string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- remote app -------------------------------------------------------
	switch {
	case cfg.SkipRemote:
		fmt.Fprintf(w, "%s remote app: skipped\n", PassMark)
	case cfg.RemoteVersion == nil:
		res.fail("remote app: no probe configured")
		fmt.Fprintf(w, "%s remote app: no probe configured\n", FailMark)
	default:
		ver, err := cfg.RemoteVersion()
		if err != nil {
			res.fail(fmt.Sprintf("remote app: %v", err))
			fmt.Fprintf(w, "%s remote app: unreachable (%v)\n", FailMark, err)
		} else if ver == "" {
			fmt.Fprintf(w, "%s remote app: reachable (version not reported)\n", PassMark)
		} else if tErr := checkTransportVersion(cfg.Transport, ver); tErr != nil {
			res.fail(fmt.Sprintf("remote app: %v", tErr))
			fmt.Fprintf(w, "%s remote app gradio %s: %v\n", FailMark, ver, tErr)
		} else {
			fmt.Fprintf(w, "%s remote app: gradio %s\n", PassMark, ver)
		}
	}

	// ---- CA bundle --------------------------------------------------------
	if cfg.CABundle != "" {
		if _, err := normalize.LoadCABundle(cfg.CABundle); err != nil {
			res.fail(fmt.Sprintf("ca bundle %q: %v", cfg.CABundle, err))
			fmt.Fprintf(w, "%s ca bundle %s: %v\n", FailMark, cfg.CABundle, err)
		} else {
			fmt.Fprintf(w, "%s ca bundle: %s\n", PassMark, cfg.CABundle)
		}
	}

	// ---- storage directory ------------------------------------------------
	if err := checkWritable(cfg.StorageDir); err != nil {
		res.fail(fmt.Sprintf("storage dir %q: %v", cfg.StorageDir, err))
		fmt.Fprintf(w, "%s storage dir %s: not writable\n", FailMark, displayDir(cfg.StorageDir))
	} else {
		fmt.Fprintf(w, "%s storage dir: %s\n", PassMark, displayDir(cfg.StorageDir))
	}

	// ---- voices -----------------------------------------------------------
	if err := checkVoices(cfg.Voices); err != nil {
		res.fail(fmt.Sprintf("voices: %v", err))
		fmt.Fprintf(w, "%s voices: %v\n", FailMark, err)
	} else {
		fmt.Fprintf(w, "%s voices: %d available\n", PassMark, len(cfg.Voices))
	}

	return res
}

// checkTransportVersion returns an error if the Gradio version ver cannot
// serve the given transport. The call API needs Gradio 4 or later; the
// websocket queue was removed in 4.
func checkTransportVersion(transport, ver string) error {
	major, _, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}

	t, err := config.NormalizeTransport(transport)
	if err != nil {
		return err
	}
	switch t {
	case config.TransportSSE:
		if major < 4 {
			return fmt.Errorf("transport %q requires gradio >=4, got %d; use %q", t, major, config.TransportWS)
		}
	case config.TransportWS:
		if major >= 4 {
			return fmt.Errorf("transport %q requires gradio <4, got %d; use %q", t, major, config.TransportSSE)
		}
	}
	return nil
}

func checkWritable(dir string) error {
	if dir == "" {
		dir = os.TempDir()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}

	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func checkVoices(voices []string) error {
	if len(voices) == 0 {
		return fmt.Errorf("no voices configured")
	}
	seen := make(map[string]bool, len(voices))
	for _, v := range voices {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("blank voice id")
		}
		if seen[v] {
			return fmt.Errorf("duplicate voice %q", v)
		}
		seen[v] = true
	}
	return nil
}

func displayDir(dir string) string {
	if dir == "" {
		return os.TempDir()
	}
	return dir
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(strings.TrimPrefix(ver, "v"), ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
