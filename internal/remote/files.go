package remote

import (
	"fmt"
	"net/url"
	"strings"
)

// resolveFiles replaces Gradio file payloads in out with plain strings:
// the payload URL when present, otherwise a URL built from its server path.
// Inline data URLs are passed through. Other values are left untouched.
func resolveFiles(out []any, fileURL func(path string) string) []any {
	resolved := make([]any, len(out))
	for i, v := range out {
		resolved[i] = resolveFile(v, fileURL)
	}
	return resolved
}

func resolveFile(v any, fileURL func(path string) string) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}

	if s, ok := m["url"].(string); ok && s != "" {
		return s
	}
	if s, ok := m["data"].(string); ok && strings.HasPrefix(s, "data:") {
		return s
	}
	if s, ok := m["path"].(string); ok && s != "" {
		return fileURL(s)
	}
	if s, ok := m["name"].(string); ok && s != "" {
		if isFile, _ := m["is_file"].(bool); isFile {
			return fileURL(s)
		}
	}
	return v
}

// queueURL turns an http(s) base URL into the ws(s) queue endpoint.
func queueURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse remote base URL: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported remote URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/queue/join"
	return u.String(), nil
}
