// Package testutil provides shared fixtures and skip helpers for tests.
//
// The HTTP fixtures stand in for the hosted TTS app and the CDN that serves
// its audio files, so normalizer, remote-client and server tests run fully
// offline. Live tests against the real app are opt-in:
//
//	func TestLiveRemote(t *testing.T) {
//	    baseURL := testutil.RequireLiveRemote(t)
//	    ...
//	}
package testutil

import (
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

// LiveRemoteEnv enables tests that call the real hosted TTS app.
const LiveRemoteEnv = "TTSU_LIVE_REMOTE_URL"

// RequireLiveRemote skips the test unless LiveRemoteEnv names a base URL and
// returns that URL.
func RequireLiveRemote(tb testing.TB) string {
	tb.Helper()

	u := os.Getenv(LiveRemoteEnv)
	if u == "" {
		tb.Skipf("live remote tests disabled; set %s to the app base URL", LiveRemoteEnv)
	}
	return u
}

// AudioHandler answers every request with body, contentType and status.
func AudioHandler(contentType string, status int, body []byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write(body)
	})
}

// NewAudioServer starts a plain HTTP server backed by AudioHandler.
func NewAudioServer(tb testing.TB, contentType string, status int, body []byte) *httptest.Server {
	tb.Helper()

	srv := httptest.NewServer(AudioHandler(contentType, status, body))
	tb.Cleanup(srv.Close)
	return srv
}

// NewTLSAudioServer starts a TLS server whose self-signed certificate is not
// in the system pool, so verified clients fail with a verification error.
func NewTLSAudioServer(tb testing.TB, contentType string, status int, body []byte) *httptest.Server {
	tb.Helper()

	srv := httptest.NewTLSServer(AudioHandler(contentType, status, body))
	tb.Cleanup(srv.Close)
	return srv
}

// WriteCABundle writes the certificate of a TLS test server as a PEM bundle
// in a temp dir and returns its path.
func WriteCABundle(tb testing.TB, srv *httptest.Server) string {
	tb.Helper()

	cert := srv.Certificate()
	if cert == nil {
		tb.Fatal("server has no TLS certificate")
	}

	path := filepath.Join(tb.TempDir(), "bundle.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		tb.Fatalf("write CA bundle: %v", err)
	}
	return path
}

// AssertFileBytes fails the test unless the file at path holds exactly want.
func AssertFileBytes(tb testing.TB, path string, want []byte) {
	tb.Helper()

	got, err := os.ReadFile(path)
	if err != nil {
		tb.Fatalf("read %s: %v", path, err)
	}
	if string(got) != string(want) {
		tb.Fatalf("file %s = %q; want %q", path, got, want)
	}
}
